package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/turnstile/internal/api"
	"github.com/gyaneshwarpardhi/turnstile/internal/assignment"
	"github.com/gyaneshwarpardhi/turnstile/internal/attendance"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/config"
	"github.com/gyaneshwarpardhi/turnstile/internal/engine"
	"github.com/gyaneshwarpardhi/turnstile/internal/payment"
	"github.com/gyaneshwarpardhi/turnstile/internal/registrar"
	"github.com/gyaneshwarpardhi/turnstile/internal/store/sqlite"
	"github.com/gyaneshwarpardhi/turnstile/internal/token"
)

func main() {
	addr := pflag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := pflag.String("config", "configs/turnstile.yaml", "Path to turnstile YAML config")
	debug := pflag.Bool("debug", false, "Enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := sqlite.Open(ctx, cfg.Store.Path, sqlite.Options{
		BusyTimeout:  cfg.Registrar.LockTimeout(),
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		slog.Error("failed to open store", "path", cfg.Store.Path, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Tokens and payments ───────────────────────────────────────────────────
	clk := clock.Real()
	ring, err := cfg.Keyring()
	if err != nil {
		slog.Error("failed to build keyring", "err", err)
		os.Exit(1)
	}
	codec, err := token.NewCodec(ring, token.Config{
		RotationInterval: cfg.Token.RotationInterval(),
		GraceWindows:     *cfg.Token.GraceWindows,
	})
	if err != nil {
		slog.Error("failed to build token codec", "err", err)
		os.Exit(1)
	}
	badges, err := token.NewBadges(ring, st, clk)
	if err != nil {
		slog.Error("failed to build badge verifier", "err", err)
		os.Exit(1)
	}
	gateway, err := payment.NewSandbox([]byte(cfg.Payment.Secret))
	if err != nil {
		slog.Error("failed to build payment gateway", "err", err)
		os.Exit(1)
	}

	// ── Registrar ─────────────────────────────────────────────────────────────
	reg, err := registrar.New(st, gateway, clk, registrar.Config{
		MaxRetries:         cfg.Registrar.MaxRetries,
		RetryBackoff:       cfg.Registrar.RetryBackoff(),
		DefaultRefundTiers: cfg.Refund.DefaultTiers,
	}, logger)
	if err != nil {
		slog.Error("failed to build registrar", "err", err)
		os.Exit(1)
	}
	pred, err := cfg.Predicate()
	if err != nil {
		slog.Error("failed to compile admission rules", "err", err)
		os.Exit(1)
	}
	reg.SetPredicate(pred)

	// ── Engine ────────────────────────────────────────────────────────────────
	guard := assignment.New(st, clk, cfg.Scan.OpenMode(), logger)
	ledger := attendance.New(st, clk, cfg.Scan.MaxSession(), logger)
	eng, err := engine.New(ctx, engine.Deps{
		Store:     st,
		Codec:     codec,
		Badges:    badges,
		Guard:     guard,
		Ledger:    ledger,
		Registrar: reg,
		Clock:     clk,
		Logger:    logger,
	}, cfg.Engine)
	if err != nil {
		slog.Error("failed to start engine", "err", err)
		os.Exit(1)
	}
	slog.Info("engine started",
		"workers", cfg.Engine.Workers,
		"queue_depth", cfg.Engine.QueueDepth,
		"legacy_open_mode", cfg.Scan.OpenMode(),
		"admission_rules", len(cfg.Admission.Rules),
	)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		pol, err := newCfg.RefundPolicy()
		if err != nil {
			slog.Warn("hot-reload skipped: refund tiers invalid", "err", err)
			return
		}
		pred, err := newCfg.Predicate()
		if err != nil {
			slog.Warn("hot-reload skipped: admission rules invalid", "err", err)
			return
		}
		eng.SetLegacyOpenMode(newCfg.Scan.OpenMode())
		reg.SetDefaultRefundPolicy(pol)
		reg.SetPredicate(pred)
		slog.Info("config hot-reloaded", "admission_rules", len(newCfg.Admission.Rules))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop worker pools
	eng.Shutdown()
	slog.Info("goodbye")
}
