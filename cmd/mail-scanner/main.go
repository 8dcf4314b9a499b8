package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/coramo123/mail-scanner/internal/billing"
	"github.com/coramo123/mail-scanner/internal/bootstrap"
	"github.com/coramo123/mail-scanner/internal/mail"
	"github.com/coramo123/mail-scanner/internal/metrics"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	flagSet := ff.NewFlagSet("mail-scanner")
	var (
		port           = flagSet.IntLong("port", 8080, "HTTP server port")
		dbPath         = flagSet.StringLong("db", "mail-scanner.db", "Database file path")
		storagePath    = flagSet.StringLong("storage", "./uploads", "Storage directory path")
		logLevel       = flagSet.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat      = flagSet.StringLong("log-format", "text", "Log format: text or json")
		workers        = flagSet.IntLong("workers", mail.DefaultWorkers, "Images scanned concurrently per upload")
		scansPerSecond = flagSet.IntLong("rate", 0, "Maximum scans started per second (0 for no limit)")
		planID         = flagSet.StringLong("plan", "starter", "Subscription plan applied to every user")
		disableMetrics = flagSet.BoolLong("disable-metrics", "Do not serve /metrics")
		authUser       = flagSet.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = flagSet.StringLong("auth-pass", "", "Basic auth password (optional)")
		pipelineFlags  = bootstrap.RegisterFlags(flagSet)
		showVersion    = flagSet.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flagSet, os.Args[1:],
		ff.WithEnvVarPrefix("MAIL_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flagSet))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if _, err := bootstrap.InstallLogger(os.Stderr, *logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	plan, err := billing.FindPlan(*planID)
	if err != nil {
		slog.Error("Invalid plan", "plan", *planID, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...")
	db, err := mail.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var m *metrics.Metrics
	var observer scanning.Observer
	if !*disableMetrics {
		m = metrics.New()
		observer = m
	}

	// Initialize scan pipeline
	pipeline, err := bootstrap.Build(ctx, pipelineFlags.Config(), observer)
	if err != nil {
		slog.Error("Failed to initialize scan pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := mail.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	gate := billing.NewGate(db, billing.StaticPlan{Plan: plan})
	service := mail.NewService(db, pipeline, store, gate, mail.BatchConfig{
		Workers:        *workers,
		ScansPerSecond: *scansPerSecond,
	})

	basicAuth := mail.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := mail.NewServer(service, basicAuth, m)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version, "plan", plan.ID)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}
