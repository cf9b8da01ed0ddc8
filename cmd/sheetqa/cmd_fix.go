package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/session"
	"github.com/jmylchreest/sheetqa/pkg/table"
	"github.com/olekukonko/tablewriter"
)

const fixUsage = "sheetqa fix <file.csv> (--issue=ID | --rule=ID [--column=C] [--severity=S]) [--template=PATH] [--out=PATH | --write]"

// cmdFix applies suggestions and writes the corrected file. Without --out
// or --write it only reports what would change.
func cmdFix(e *env, args []string) error {
	dataPath, err := requireData(args, fixUsage)
	if err != nil {
		return err
	}
	issueID := parseFlag(args, "--issue=")
	ruleID := parseFlag(args, "--rule=")
	if issueID == "" && ruleID == "" {
		return fmt.Errorf("usage: %s", fixUsage)
	}
	outPath := parseFlag(args, "--out=")
	if outPath == "" && hasFlag(args, "--write") {
		outPath = dataPath
	}

	ctx := context.Background()
	p, err := openProject(ctx, e, dataPath, args, outPath != "")
	if err != nil {
		return err
	}
	defer p.Close()

	before := p.grid.Clone()

	var out session.Outcome
	if issueID != "" {
		id, err := resolveIssueID(p.session, issueID)
		if err != nil {
			return err
		}
		out, err = p.session.ApplySuggestion(ctx, id)
		if err != nil {
			return err
		}
	} else {
		filter, err := issueFilter(args)
		if err != nil {
			return err
		}
		out, err = p.session.ApplySuggestions(ctx, "Apply "+ruleID, filter)
		if err != nil {
			return err
		}
	}

	if !out.Applied {
		fmt.Println(out.Message)
		return nil
	}

	changes := diffGrids(before, p.grid, out.Columns)
	if err := renderChanges(changes); err != nil {
		return err
	}
	fmt.Printf("%s: %d cell(s) changed\n", out.Description, len(changes))
	fmt.Println(formatSummary(p.session.Summary()))

	if outPath == "" {
		fmt.Println("Dry run: use --write or --out=PATH to save.")
		return nil
	}
	if err := writeCSV(outPath, p.grid, p.meta); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Printf("Wrote %s\n", outPath)
	return nil
}

const statusUsage = "sheetqa status <file.csv> <issue-id> <open|ignored|excepted> [--template=PATH]"

// cmdStatus changes an issue's status. Dismissals are remembered across
// runs.
func cmdStatus(e *env, args []string) error {
	pos := positional(args)
	if len(pos) < 3 {
		return fmt.Errorf("usage: %s", statusUsage)
	}
	status, err := issue.ParseStatus(pos[2])
	if err != nil {
		return err
	}
	if status == issue.StatusFixed {
		return fmt.Errorf("FIXED is set by applying a fix, not directly")
	}

	ctx := context.Background()
	p, err := openProject(ctx, e, pos[0], args, true)
	if err != nil {
		return err
	}
	defer p.Close()

	id, err := resolveIssueID(p.session, pos[1])
	if err != nil {
		return err
	}
	out, err := p.session.SetStatus(ctx, id, status)
	if err != nil {
		return err
	}
	fmt.Println(out.Description)
	return nil
}

// resolveIssueID accepts a full id or an unambiguous prefix.
func resolveIssueID(s *session.Session, prefix string) (string, error) {
	if _, ok := s.Issue(prefix); ok {
		return prefix, nil
	}
	var matches []string
	for _, i := range s.Issues() {
		if strings.HasPrefix(i.ID, prefix) {
			matches = append(matches, i.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", issue.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("issue id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

type cellChange struct {
	Row    int
	Column string
	Old    string
	New    string
}

func diffGrids(before, after *table.Grid, columns []string) []cellChange {
	var out []cellChange
	for row := range after.Len() {
		for _, col := range columns {
			o, _ := before.Cell(row, col)
			n, _ := after.Cell(row, col)
			if o != n {
				out = append(out, cellChange{Row: row, Column: col, Old: o, New: n})
			}
		}
	}
	return out
}

func renderChanges(changes []cellChange) error {
	if len(changes) == 0 {
		return nil
	}
	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("Row", "Column", "Old", "New")
	for _, c := range changes {
		if err := tw.Append([]string{
			displayRow(c.Row),
			c.Column,
			truncate(displayValue(c.Old), DefaultValueWidth),
			truncate(displayValue(c.New), DefaultValueWidth),
		}); err != nil {
			return err
		}
	}
	return tw.Render()
}
