// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package correlator is the Outbound Correlator (C6): it matches each
// complete line the child writes to stdout against every session's
// pending-request and response-slot state, per §4.5.
package correlator

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/metrics"
	"github.com/oneshinyboi/supergateway-httpstream/internal/rpc"
	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
	"github.com/oneshinyboi/supergateway-httpstream/internal/sse"
)

// Correlator scans every registered session for each child output line.
// The scan is O(sessions); there is no secondary requestIdKey→sessionId
// index.
type Correlator struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New builds a Correlator bound to registry.
func New(registry *session.Registry, logger *zap.Logger, m *metrics.Metrics) *Correlator {
	return &Correlator{registry: registry, logger: logger, metrics: m}
}

// HandleLine is invoked once per complete line the line framer (C2)
// extracted from the child's stdout. A line that isn't a valid JSON
// object is logged and discarded here — framing of subsequent lines is
// unaffected, per §4.2.
func (c *Correlator) HandleLine(line []byte) {
	m, err := rpc.Parse(line)
	if err != nil {
		c.logger.Error("child emitted non-JSON line", zap.ByteString("line", line), zap.Error(err))
		return
	}

	if m.IsNotification() {
		c.handleNotification(m)
		return
	}
	c.handleReply(m)
}

// handleReply implements the id-bearing branch of §4.5.
func (c *Correlator) handleReply(m *rpc.Message) {
	ctx := context.Background()
	k := rpc.IDKey(m.ID)
	v := rpc.BuildResponseEnvelope(m)

	for _, s := range c.registry.Snapshot() {
		if h := s.TryTakeLiveBatch(k); h != nil {
			h.WriteJSON(http.StatusOK, v)
			continue
		}

		p := s.TakePending(k)
		if p == nil {
			// This session never originated request k; do nothing for it.
			continue
		}

		if p.Mode == session.ModeStream {
			sse.Broadcast(s, v)
			continue
		}

		// Batch mode with no live responses[k]: the response slot and the
		// pending entry raced apart (e.g. a disconnect mid-flight). Fall
		// back to any other non-ended response in the session, per rule 2.
		written := false
		for _, cand := range s.LiveResponses() {
			if cand.WriteJSON(http.StatusOK, v) {
				written = true
				break
			}
		}
		if !written {
			c.logger.Warn("dropping reply: no live response for pending request",
				zap.String("session", s.ID), zap.String("id", k))
			c.metrics.Dropped(ctx)
		}
	}
}

// handleNotification implements the id-less branch of §4.5: every
// session, regardless of whether it originated anything, gets N
// broadcast to its live responses and appended to its history.
func (c *Correlator) handleNotification(m *rpc.Message) {
	n := rpc.BuildNotificationEnvelope(m)
	for _, s := range c.registry.Snapshot() {
		sse.Broadcast(s, n)
	}
}
