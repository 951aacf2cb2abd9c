// Command arkmoor is the main entry point for the Arkmoor game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkmoor/arkmoor/internal/app"
	"github.com/arkmoor/arkmoor/internal/config"
	"github.com/arkmoor/arkmoor/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mintToken := flag.String("mint-token", "", "print a session token for the given user id and exit")
	mintAdmin := flag.Bool("admin", false, "mark the minted token as an administrator")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "arkmoor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "arkmoor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("arkmoor starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "arkmoor",
		Environment: os.Getenv("ARKMOOR_ENV"),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Token minting utility for operators; no server is started.
	if *mintToken != "" {
		token, err := application.Gate().IssueSessionToken(*mintToken, *mintAdmin)
		if err != nil {
			slog.Error("failed to mint token", "user_id", *mintToken, "err", err)
			return 1
		}
		fmt.Println(token)
		return 0
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Arkmoor — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSetting("Listen addr", cfg.Server.ListenAddr)
	printSetting("Storage", storageLabel(cfg))
	printSetting("External bus", busLabel(cfg))
	printSetting("Content file", orDefault(cfg.Content.File, "(none)"))
	printSetting("Spell book", orDefault(cfg.Content.SpellFile, "(none)"))
	fmt.Printf("║  Tick interval   : %-19s ║\n", cfg.Server.TickInterval().String())
	fmt.Printf("║  Grace timeout   : %-19s ║\n", cfg.Grace.Timeout().String())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printSetting(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func storageLabel(cfg *config.Config) string {
	if cfg.Storage.PostgresDSN != "" {
		return "postgres"
	}
	return "in-memory"
}

func busLabel(cfg *config.Config) string {
	if cfg.Bus.NATSURL != "" {
		return "nats"
	}
	return "(local only)"
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
