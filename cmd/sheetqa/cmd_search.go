package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/store"
	"github.com/olekukonko/tablewriter"
)

const searchUsage = "sheetqa search <query> [--rule=ID] [--severity=S] [--status=S] [--column=C] [--limit=N] [--json]"

// cmdSearch searches the issues stored by the last validate or fix run.
func cmdSearch(e *env, args []string) error {
	query := strings.Join(positional(args), " ")
	opts := store.SearchOptions{
		Query:    query,
		RuleID:   parseFlag(args, "--rule="),
		Severity: strings.ToUpper(parseFlag(args, "--severity=")),
		Status:   strings.ToUpper(parseFlag(args, "--status=")),
		Column:   parseFlag(args, "--column="),
		Limit:    parseIntFlag(args, "--limit=", DefaultSearchLimit),
	}
	if opts.Query == "" && opts.RuleID == "" && opts.Severity == "" && opts.Status == "" && opts.Column == "" {
		return fmt.Errorf("usage: %s", searchUsage)
	}

	st, err := openStore(e)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := st.SearchIssues(opts)
	if err != nil {
		return err
	}
	if hasFlag(args, "--json") {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No matching issues.")
		return nil
	}

	if src, err := st.GetMeta(store.MetaSource); err == nil && src != "" {
		fmt.Printf("Issues from %s\n", src)
	}
	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("Score", "Severity", "Status", "Row", "Column", "Value", "Message", "ID")
	for _, r := range results {
		i := r.Issue
		if err := tw.Append([]string{
			fmt.Sprintf("%.2f", r.Score),
			string(i.Severity),
			string(i.Status),
			displayRow(i.Row),
			i.Column,
			truncate(displayValue(i.Original), DefaultValueWidth),
			truncate(i.Message, DefaultMessageWidth),
			shortID(i.ID),
		}); err != nil {
			return err
		}
	}
	return tw.Render()
}
