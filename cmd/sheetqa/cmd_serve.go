package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmylchreest/sheetqa/pkg/server"
)

const serveUsage = "sheetqa serve <file.csv> [--addr=HOST:PORT] [--template=PATH] [--out=PATH] [--origin=URL,...]"

// cmdServe exposes a session over HTTP for interactive review. POST
// /api/save writes the corrected table to --out, or back to the input.
func cmdServe(e *env, args []string) error {
	dataPath, err := requireData(args, serveUsage)
	if err != nil {
		return err
	}
	addr := parseFlag(args, "--addr=")
	if addr == "" {
		addr = DefaultServeAddr
	}
	outPath := parseFlag(args, "--out=")
	if outPath == "" {
		outPath = dataPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openProject(ctx, e, dataPath, args, true)
	if err != nil {
		return err
	}
	defer p.Close()

	opts := []server.Option{
		server.WithSearch(p.store),
		server.WithActionLog(p.store),
		server.WithSave(func() error {
			return writeCSV(outPath, p.session.Table(), p.meta)
		}),
	}
	if origins := parseFlag(args, "--origin="); origins != "" {
		opts = append(opts, server.WithAllowedOrigins(strings.Split(origins, ",")...))
	}
	srv := server.NewServer(p.session, addr, opts...)

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Serving %s on http://%s\n", dataPath, addr)
	fmt.Println(formatSummary(p.session.Summary()))
	fmt.Println("Press Ctrl+C to stop")
	return srv.Start()
}
