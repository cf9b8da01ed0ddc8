package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// cmdLog prints the audit log, or the cell patches with --patches.
func cmdLog(e *env, args []string) error {
	st, err := openStore(e)
	if err != nil {
		return err
	}
	defer st.Close()

	asJSON := hasFlag(args, "--json")

	if hasFlag(args, "--patches") {
		undone := hasFlag(args, "--undone")
		patches, err := st.ListPatches(undone)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(patches)
		}
		if len(patches) == 0 {
			fmt.Println("No patches recorded.")
			return nil
		}
		tw := tablewriter.NewWriter(os.Stdout)
		tw.Header("Time", "Action", "Row", "Column", "Old", "New", "Issue")
		for _, p := range patches {
			if err := tw.Append([]string{
				p.Timestamp.Local().Format(time.DateTime),
				shortID(p.ActionID),
				displayRow(p.Row),
				p.Column,
				truncate(displayValue(p.OldValue), DefaultValueWidth),
				truncate(displayValue(p.NewValue), DefaultValueWidth),
				shortID(p.IssueID),
			}); err != nil {
				return err
			}
		}
		return tw.Render()
	}

	entries, err := st.ListActions(parseIntFlag(args, "--limit=", DefaultLogLimit))
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No actions recorded.")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("Time", "Action", "Type", "Scope", "Patches", "Details")
	for _, a := range entries {
		if err := tw.Append([]string{
			a.Timestamp.Local().Format(time.DateTime),
			shortID(a.ActionID),
			a.ActionType,
			a.Scope,
			strconv.Itoa(len(a.PatchIDs)),
			truncate(formatParams(a.Params), DefaultMessageWidth),
		}); err != nil {
			return err
		}
	}
	return tw.Render()
}

// formatParams renders params as sorted key=value pairs.
func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, " ")
}
