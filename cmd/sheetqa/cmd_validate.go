package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/olekukonko/tablewriter"
)

const validateUsage = "sheetqa validate <file.csv> [--template=PATH] [--severity=S] [--status=S|--all] [--column=C] [--rule=ID] [--limit=N] [--strict] [--json]"

// cmdValidate validates a file and prints its issues. Only open issues are
// listed unless --all or --status is given.
func cmdValidate(e *env, args []string) error {
	dataPath, err := requireData(args, validateUsage)
	if err != nil {
		return err
	}
	filter, err := issueFilter(args)
	if err != nil {
		return err
	}

	p, err := openProject(context.Background(), e, dataPath, args, true)
	if err != nil {
		return err
	}
	defer p.Close()

	for _, d := range p.session.Diagnostics() {
		fmt.Fprintf(os.Stderr, "config: %s\n", d)
	}

	issues := p.session.Find(filter)
	summary := p.session.Summary()

	if hasFlag(args, "--json") {
		if err := printJSON(struct {
			Source  string         `json:"source"`
			Summary issue.Summary  `json:"summary"`
			Issues  []*issue.Issue `json:"issues"`
		}{p.meta.Source, summary, issues}); err != nil {
			return err
		}
	} else {
		limit := parseIntFlag(args, "--limit=", DefaultIssueLimit)
		if err := renderIssues(issues, limit); err != nil {
			return err
		}
		fmt.Println(formatSummary(summary))
	}

	if hasFlag(args, "--strict") && summary.BySeverity[issue.SevError] > 0 {
		return fmt.Errorf("%d error(s) found", summary.BySeverity[issue.SevError])
	}
	return nil
}

// issueFilter builds a filter from the common --severity, --status,
// --column and --rule flags. Without --status or --all it selects open
// issues.
func issueFilter(args []string) (issue.Filter, error) {
	f := issue.Filter{
		Column: parseFlag(args, "--column="),
		RuleID: parseFlag(args, "--rule="),
	}
	if s := parseFlag(args, "--severity="); s != "" {
		sev, err := issue.ParseSeverity(s)
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	switch s := parseFlag(args, "--status="); {
	case s != "":
		st, err := issue.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = st
	case !hasFlag(args, "--all"):
		f.Status = issue.StatusOpen
	}
	return f, nil
}

func renderIssues(issues []*issue.Issue, limit int) error {
	if len(issues) == 0 {
		fmt.Println("No issues found.")
		return nil
	}
	shown := issues
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("Severity", "Status", "Row", "Column", "Rule", "Value", "Message", "Suggestion", "ID")
	for _, i := range shown {
		suggestion := ""
		if i.Suggestion != nil {
			suggestion = truncate(displayValue(*i.Suggestion), DefaultValueWidth)
		}
		if err := tw.Append([]string{
			string(i.Severity),
			string(i.Status),
			displayRow(i.Row),
			i.Column,
			i.RuleID,
			truncate(displayValue(i.Original), DefaultValueWidth),
			truncate(i.Message, DefaultMessageWidth),
			suggestion,
			shortID(i.ID),
		}); err != nil {
			return err
		}
	}
	if err := tw.Render(); err != nil {
		return err
	}
	if len(shown) < len(issues) {
		fmt.Printf("... %d more (use --limit=0 to show all)\n", len(issues)-len(shown))
	}
	return nil
}

// displayRow numbers data rows from 1, as spreadsheets below the header do.
func displayRow(row int) string {
	return strconv.Itoa(row + 1)
}

// shortID is enough of an issue id to pass back to fix or status.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatSummary(s issue.Summary) string {
	return fmt.Sprintf("%d issue(s): %d open (%d error, %d warning, %d suspicion), %d fixed, %d ignored, %d excepted",
		s.Total, s.Open,
		s.BySeverity[issue.SevError], s.BySeverity[issue.SevWarning], s.BySeverity[issue.SevSuspicion],
		s.ByStatus[issue.StatusFixed], s.ByStatus[issue.StatusIgnored], s.ByStatus[issue.StatusExcepted])
}
