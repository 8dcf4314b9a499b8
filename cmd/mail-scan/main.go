// Command mail-scan scans mail photos and prints the extracted sender records as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/coramo123/mail-scanner/internal/bootstrap"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

// fileResult is one line of output
type fileResult struct {
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
	*scanning.ScanRecord
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	flagSet := ff.NewFlagSet("mail-scan")
	var (
		logLevel      = flagSet.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
		pretty        = flagSet.BoolLong("pretty", "Indent JSON output")
		pipelineFlags = bootstrap.RegisterFlags(flagSet)
	)

	if err := ff.Parse(flagSet, os.Args[1:],
		ff.WithEnvVarPrefix("MAIL_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flagSet, "mail-scan [flags] IMAGE..."))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	paths := flagSet.GetArgs()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flagSet, "mail-scan [flags] IMAGE..."))
		fmt.Fprintln(os.Stderr, "error: at least one image path is required")
		os.Exit(2)
	}

	logger, err := bootstrap.InstallLogger(os.Stderr, *logLevel, "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := bootstrap.Build(ctx, pipelineFlags.Config(), nil)
	if err != nil {
		logger.Error("Failed to initialize scan pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	failed := 0
	for _, path := range paths {
		out := fileResult{File: path}
		record, err := pipeline.Scan(ctx, scanning.FileSource(path))
		if err != nil {
			logger.Error("Failed to scan", "file", path, "error", err)
			out.Error = err.Error()
			failed++
		} else {
			out.ScanRecord = record
		}
		if err := enc.Encode(out); err != nil {
			logger.Error("Error encoding output", "error", err)
			os.Exit(1)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
