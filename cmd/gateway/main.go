// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Command gateway is the thin external collaborator excluded from the
// core specification: it parses flags, builds a Config, wires
// SIGINT/SIGTERM to the gateway's shutdown path, and calls Run.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/gateway"
	"github.com/oneshinyboi/supergateway-httpstream/internal/httpgw"
)

func main() {
	var (
		addr          = flag.String("addr", ":8000", "TCP address to listen on")
		endpoint      = flag.String("endpoint", "/mcp", "single HTTP endpoint serving GET/POST/DELETE/OPTIONS")
		sessionHeader = flag.String("session-header", "Mcp-Session-Id", "HTTP header carrying the session id")
		healthPaths   = flag.String("health-paths", "/healthz", "comma-separated list of GET health paths")
		origin        = flag.String("cors-origin", "*", "Access-Control-Allow-Origin value")
		batchTimeout  = flag.Duration("batch-timeout", 30*time.Second, "how long a batch POST waits for a child reply")
		maxBody       = flag.Int64("max-body-bytes", 4<<20, "maximum accepted POST body size in bytes")
	)
	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		log.Fatal("gateway: a child command is required, e.g. gateway -- node server.js")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg := gateway.Config{
		Addr:    *addr,
		Command: command,
		HTTP: httpgw.Config{
			Endpoint:      *endpoint,
			SessionHeader: *sessionHeader,
			HealthPaths:   splitNonEmpty(*healthPaths),
			AllowedOrigin: *origin,
			BatchTimeout:  *batchTimeout,
			MaxBodyBytes:  *maxBody,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(cfg)
	if err := gw.Run(ctx); err != nil {
		var childExit *gateway.ChildExitError
		if errors.As(err, &childExit) {
			logger.Error("gateway exited with error", zap.Error(err))
			logger.Sync()
			os.Exit(childExit.Code)
		}
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
