// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package gateway wires the multiplexing components (C1-C9) into one
// running service. It takes a fully-populated Config; it never reads
// flags, environment variables, or files itself — cmd/gateway is the
// external collaborator that does that and calls New(cfg).Run(ctx).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/child"
	"github.com/oneshinyboi/supergateway-httpstream/internal/correlator"
	"github.com/oneshinyboi/supergateway-httpstream/internal/httpgw"
	"github.com/oneshinyboi/supergateway-httpstream/internal/metrics"
	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
	"github.com/oneshinyboi/supergateway-httpstream/internal/timeout"
)

// Config is the complete, externally-supplied configuration for one
// gateway process.
type Config struct {
	// Addr is the TCP listen address, e.g. ":8080".
	Addr string
	// Command is the child process and its arguments, e.g.
	// []string{"node", "server.js"}.
	Command []string

	HTTP httpgw.Config

	// MetricsInterval controls how often aggregated metrics are
	// exported; defaults to 30s if zero.
	MetricsInterval time.Duration
	// ShutdownTimeout bounds how long Run waits for in-flight requests
	// to drain after ctx is cancelled; defaults to 5s if zero.
	ShutdownTimeout time.Duration

	Logger *zap.Logger
}

func (c Config) metricsInterval() time.Duration {
	if c.MetricsInterval == 0 {
		return 30 * time.Second
	}
	return c.MetricsInterval
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout
}

// ChildExitError is returned by Run when the child process terminates on
// its own, per §4.1's fatal-on-exit rule. Code is the child's real exit
// code (or 1 if it died from a signal), and is what the caller should
// pass to os.Exit so the gateway's own exit status matches the child's.
type ChildExitError struct {
	Code int
}

func (e *ChildExitError) Error() string {
	return fmt.Sprintf("gateway: child exited with code %d", e.Code)
}

// Gateway owns the child process, the session registry, and the HTTP
// server for the lifetime of one Run call.
type Gateway struct {
	cfg    Config
	logger *zap.Logger

	registry  *session.Registry
	metrics   *metrics.Metrics
	scheduler *timeout.Scheduler
	child     *child.Supervisor

	srv *http.Server
}

// New constructs a Gateway. It does not start anything; call Run.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = newDefaultLogger()
	}
	return &Gateway{cfg: cfg, logger: logger}
}

// newDefaultLogger builds a production logger, falling back to a
// development logger if construction fails, mirroring the audit
// logger's own fallback chain.
func newDefaultLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// Run starts the child process and the HTTP server, and blocks until
// either the child exits (per §4.1's fatal-on-exit rule), the listener
// fails, or ctx is cancelled, in which case it drains and shuts down
// gracefully within ShutdownTimeout. The returned error is nil only on
// a clean, ctx-driven shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.registry = session.NewRegistry()

	m, err := metrics.New(g.cfg.metricsInterval())
	if err != nil {
		return fmt.Errorf("gateway: metrics: %w", err)
	}
	g.metrics = m
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.metrics.Shutdown(shutdownCtx)
	}()

	g.scheduler = timeout.New(g.logger, g.metrics)

	childExit := make(chan int, 1)
	// The child gets its own background context rather than ctx: Run's
	// ctx is cancelled on ordinary graceful shutdown too, and exec's
	// context-kill semantics would otherwise race shutdown against the
	// fatal child-exit path below. Graceful shutdown stops the child
	// explicitly via Supervisor.Stop instead.
	sup, err := child.Start(context.Background(), g.cfg.Command, g.logger, func(code int) {
		childExit <- code
	})
	if err != nil {
		return fmt.Errorf("gateway: starting child: %w", err)
	}
	g.child = sup

	corr := correlator.New(g.registry, g.logger, g.metrics)
	go g.pumpChildLines(sup, corr)
	go g.pumpChildStderr(sup)

	router := httpgw.New(g.cfg.HTTP, g.registry, sup, g.scheduler, g.metrics, g.logger)
	g.srv = &http.Server{Addr: g.cfg.Addr, Handler: router}

	listenErr := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", zap.String("addr", g.cfg.Addr))
		if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
			return
		}
		listenErr <- nil
	}()

	select {
	case code := <-childExit:
		// §4.1: the gateway has no useful state without its child; it
		// terminates with the child's exit code rather than limping on.
		g.logger.Error("child process exited; shutting down gateway", zap.Int("code", code))
		g.shutdown()
		return &ChildExitError{Code: code}
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("gateway: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		g.logger.Info("gateway shutting down", zap.Error(ctx.Err()))
		g.shutdown()
		return nil
	}
}

// shutdown drains every session's live responses and stops the HTTP
// server, honoring ShutdownTimeout.
func (g *Gateway) shutdown() {
	for _, s := range g.registry.Snapshot() {
		s.EndAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.shutdownTimeout())
	defer cancel()
	if err := g.srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("graceful shutdown did not complete in time", zap.Error(err))
	}

	if err := g.child.Stop(); err != nil {
		g.logger.Warn("failed closing child stdin during shutdown", zap.Error(err))
	}
}

// pumpChildLines feeds every complete line the supervisor reads from
// the child's stdout into the correlator, in arrival order, per §5's
// single-sequential-stream ordering guarantee.
func (g *Gateway) pumpChildLines(sup *child.Supervisor, corr *correlator.Correlator) {
	for line := range sup.Lines() {
		corr.HandleLine(line)
	}
}

// pumpChildStderr drains the supervisor's stderr subscription into the
// logger, per §4.1. Nothing else reads Stderr(); leaving it undrained
// blocks readStderr once the channel's buffer fills, which backs up the
// child's stderr pipe and the child itself.
func (g *Gateway) pumpChildStderr(sup *child.Supervisor) {
	for line := range sup.Stderr() {
		g.logger.Warn("child stderr", zap.ByteString("line", line))
	}
}
