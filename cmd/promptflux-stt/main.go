// Command promptflux-stt is the local speech-capture service. It records
// audio on client request, transcribes it and streams results to WebSocket
// clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/promptflux-stt/internal/app"
	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "promptflux.yaml", "path to the YAML configuration file")
	flag.Parse()
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	watchFile := true
	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		watchFile = false
		cfg, err = config.FromEnv()
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "promptflux-stt: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "promptflux-stt: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	logger := newLogger(cfg.Server.LogLevel, level)
	slog.SetDefault(logger)

	slog.Info("promptflux-stt starting",
		"version", version,
		"config", configSource(*configPath, watchFile),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	reporter, err := observe.NewReporter(observe.ReporterConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     releaseName(cfg.Sentry.Release),
	})
	if err != nil {
		slog.Error("failed to init error reporting", "err", err)
		return 1
	}
	defer reporter.Flush(2 * time.Second)

	// ── Application ───────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithProvider(provider),
		app.WithReporter(reporter),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		reporter.Report(ctx, err)
		return 1
	}
	application.LogSummary()

	// ── Hot reload ────────────────────────────────────────────────────────────
	if watchFile {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		reporter.Report(ctx, err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

func configSource(path string, fromFile bool) string {
	if fromFile {
		return path
	}
	return "(defaults + environment)"
}

func releaseName(r string) string {
	if r != "" {
		return r
	}
	return "promptflux-stt@" + version
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	engines := make([]string, 0, 1+len(cfg.Engine.Fallbacks))
	for _, e := range cfg.Engine.Entries() {
		engines = append(engines, e.Name)
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     promptflux-stt startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	printRow("Audio", cfg.Audio.Backend+" / "+cfg.Audio.CaptureSource)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Engines", strings.Join(engines, ", "))
	printRow("Model", cfg.Engine.Model)
	printRow("Language", cfg.Engine.Language)
	printRow("Trigger", string(cfg.Trigger.Mode))
	if cfg.Trigger.WakeWord != "" {
		printRow("Wake word", cfg.Trigger.WakeWord)
	}
	printRow("Metrics", enabled(cfg.Server.Metrics))
	printRow("MCP", enabled(cfg.MCP.Enabled))
	printRow("Sentry", enabled(cfg.Sentry.DSN != ""))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 21 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-12s: %-21s  ║\n", label, value)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, v *slog.LevelVar) *slog.Logger {
	v.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v}))
}
