// Package main provides the CLI for sheetqa.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/sheetqa/internal/version"
	"github.com/jmylchreest/sheetqa/pkg/config"
)

const (
	workspaceDir = ".sheetqa"
	settingsName = "settings.json"
)

// env is what every command needs to find its workspace.
type env struct {
	root     string
	settings *config.Settings
}

// dbPath resolves the persistence database against the workspace root.
func (e *env) dbPath() string {
	if filepath.IsAbs(e.settings.DBPath) {
		return e.settings.DBPath
	}
	return filepath.Join(e.root, e.settings.DBPath)
}

func (e *env) cacheDir() string {
	return filepath.Dir(e.dbPath())
}

func newEnv(root string) (*env, error) {
	settings, err := config.LoadSettings(filepath.Join(root, workspaceDir, settingsName))
	if err != nil {
		return nil, err
	}
	return &env{root: root, settings: settings}, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	e, err := newEnv(findProjectRoot())
	if err != nil {
		fatal("failed to load settings: %v", err)
	}

	if err := runCommand(cmd, e, args); err != nil {
		fatal("%v", err)
	}
}

func runCommand(cmd string, e *env, args []string) error {
	switch cmd {
	case "validate":
		return cmdValidate(e, args)
	case "fix":
		return cmdFix(e, args)
	case "status":
		return cmdStatus(e, args)
	case "rules":
		return cmdRules(args)
	case "log":
		return cmdLog(e, args)
	case "search":
		return cmdSearch(e, args)
	case "watch":
		return cmdWatch(e, args)
	case "serve":
		return cmdServe(e, args)
	case "help", "-h", "--help":
		printUsage()
		return nil
	case "version", "-v", "--version":
		return cmdVersion(args)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func cmdVersion(args []string) error {
	if hasFlag(args, "--json") {
		fmt.Println(version.JSON())
		return nil
	}
	fmt.Println(version.String())
	return nil
}

func printUsage() {
	fmt.Printf(`sheetqa %s - Data-quality validation and correction for tabular data

Usage:
  sheetqa <command> [arguments]

Commands:
  validate   Validate a CSV file against a template and list issues
  fix        Apply issue suggestions to a CSV file (undoable, logged)
  status     Ignore, except or reopen an issue
  rules      List the built-in rules
  log        Show the action log and cell patches
  search     Full-text search over the latest issues
  watch      Revalidate whenever the template changes
  serve      Review and fix issues over an HTTP API
  version    Show version information

Common options:
  --template=PATH    Validation template (YAML)
  --vocab=PATH       Static vocabularies (YAML); overrides the remote service
  --delimiter=C      Field delimiter (default: sniffed from the header line)
  --json             Output as JSON

Settings (%s/%s, overridden by environment):
  SHEETQA_DB_PATH                  Database path (default: %s)
  SHEETQA_HISTORY_DEPTH            Undo depth (default: %d)
  SHEETQA_CONCURRENCY              Parallel rule checks (default: %d)
  SHEETQA_VOCABULARY__ENABLED=true Fetch vocabularies from the remote service
  SHEETQA_VOCABULARY__BASE_URL     Vocabulary service root

Examples:
  sheetqa validate data.csv --template=deposit.yaml
  sheetqa validate data.csv --severity=ERROR --column=title
  sheetqa fix data.csv --rule=generic.hygiene.leading_trailing_space --write
  sheetqa fix data.csv --issue=3f2a... --out=clean.csv
  sheetqa status data.csv 3f2a... ignored
  sheetqa search "Paris" --column=city
  sheetqa log --limit=20
  sheetqa serve data.csv --template=deposit.yaml --addr=localhost:8765
`, version.Short(), workspaceDir, settingsName, config.DefaultDBPath, config.DefaultHistoryDepth, config.DefaultConcurrency)
}

// findProjectRoot finds the git root directory, or falls back to cwd.
func findProjectRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err == nil {
		return strings.TrimSpace(string(output))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, workspaceDir)); err == nil {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}
