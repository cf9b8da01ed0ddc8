package main

import (
	"fmt"
	"os"

	"github.com/jmylchreest/sheetqa/pkg/rules"
	"github.com/olekukonko/tablewriter"
)

type ruleInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Scope    string `json:"scope"`
}

func listRules() []ruleInfo {
	all := rules.Builtin().All()
	out := make([]ruleInfo, 0, len(all))
	for _, r := range all {
		scope := "column"
		if !r.PerColumn() {
			scope = "table"
		}
		out = append(out, ruleInfo{
			ID:       r.ID(),
			Name:     r.Name(),
			Severity: string(r.DefaultSeverity()),
			Scope:    scope,
		})
	}
	return out
}

func cmdRules(args []string) error {
	infos := listRules()
	if hasFlag(args, "--json") {
		return printJSON(infos)
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.Header("ID", "Name", "Default severity", "Scope")
	for _, r := range infos {
		if err := tw.Append([]string{r.ID, r.Name, r.Severity, r.Scope}); err != nil {
			return err
		}
	}
	if err := tw.Render(); err != nil {
		return err
	}
	fmt.Printf("%d rules\n", len(infos))
	return nil
}
