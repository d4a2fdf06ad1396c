// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package timeout is the Timeout Scheduler (C7): a one-shot timer per
// pending request that, on firing, checks whether the request is still
// unanswered and if so writes the synthesized timeout error.
package timeout

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/metrics"
	"github.com/oneshinyboi/supergateway-httpstream/internal/rpcerr"
	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
)

// Scheduler arms and fires per-request timers.
type Scheduler struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds a Scheduler.
func New(logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{logger: logger, metrics: m}
}

// Cancel stops a timer armed by Arm; it is safe to call even if the
// timer has already fired.
type Cancel func()

// Arm starts a one-shot timer for idKey in s. On firing, it looks up
// whether the request is still pending; if it has already been answered
// or cancelled, TakePending finds nothing and firing is a silent no-op,
// satisfying the disconnect-vs-timeout race described in §5 and §9.
func (sch *Scheduler) Arm(s *session.Session, idKey string, d time.Duration) Cancel {
	timer := time.AfterFunc(d, func() {
		sch.fire(s, idKey)
	})
	return func() { timer.Stop() }
}

func (sch *Scheduler) fire(s *session.Session, idKey string) {
	p := s.TakePending(idKey)
	if p == nil {
		return
	}

	sch.metrics.Timeout(context.Background())
	sch.logger.Warn("request timed out with no child reply",
		zap.String("session", s.ID), zap.String("id", idKey))

	var id interface{}
	if p.Request != nil {
		_ = json.Unmarshal(p.Request.ID, &id)
	}
	body, _ := json.Marshal(rpcerr.Timeout(id))

	switch p.Mode {
	case session.ModeBatch:
		// TakePending already removed responses[idKey] for batch mode;
		// p.Own is the same handle, still reachable here to write on.
		p.Own.WriteJSON(http.StatusGatewayTimeout, body)
	case session.ModeStream:
		p.Own.WriteSSEEvent("error", body)
		p.Own.End()
	}
}
