package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/jmylchreest/sheetqa/pkg/watcher"
)

const watchUsage = "sheetqa watch <file.csv> --template=PATH [--vocab=PATH]"

// cmdWatch validates once, then revalidates whenever the template changes
// until interrupted.
func cmdWatch(e *env, args []string) error {
	dataPath, err := requireData(args, watchUsage)
	if err != nil {
		return err
	}
	templatePath := parseFlag(args, "--template=")
	if templatePath == "" {
		return fmt.Errorf("usage: %s", watchUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openProject(ctx, e, dataPath, args, true)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Println(formatSummary(p.session.Summary()))

	reload := func(files map[string]fsnotify.Op) {
		for path, op := range files {
			if watcher.IsRemove(op) {
				fmt.Fprintf(os.Stderr, "template %s removed; keeping the last configuration\n", path)
				return
			}
		}
		doc, err := loadTemplate(templatePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload: %v\n", err)
			return
		}
		if err := p.session.Reconfigure(ctx, doc); err != nil {
			fmt.Fprintf(os.Stderr, "revalidate: %v\n", err)
			return
		}
		for _, d := range p.session.Diagnostics() {
			fmt.Fprintf(os.Stderr, "config: %s\n", d)
		}
		fmt.Println(formatSummary(p.session.Summary()))
	}

	w, err := watcher.New(watcher.Config{
		Paths:         []string{templatePath},
		DebounceDelay: e.settings.WatchDebounce,
	}, watcher.FileChangeHandlerFunc(reload))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", templatePath)
	<-ctx.Done()
	fmt.Println("\nStopping...")
	return nil
}
