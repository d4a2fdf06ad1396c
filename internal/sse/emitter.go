// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package sse is the SSE Emitter (C8): it appends a broadcast payload to
// a session's replay history and fans it out to every live response the
// session currently holds, and it replays history on reconnect.
package sse

import (
	"encoding/json"

	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
)

// Broadcast appends payload to s's history (assigning it the next
// event id) and writes it as an id/data SSE frame to every response
// handle currently registered in s, regardless of whether that handle
// is a GET stream, a stream-mode POST's own connection, or — per the
// literal broadcast-to-everyone rule in §4.5 — a still-pending batch
// POST's plain JSON response. The gateway does not filter broadcast
// targets by kind; see the design ledger for why that quirk is kept.
func Broadcast(s *session.Session, payload json.RawMessage) uint64 {
	id := s.AppendHistory(payload)
	for _, h := range s.LiveResponses() {
		h.WriteSSE(id, payload)
	}
	return id
}

// Connected writes the synthetic prologue frame a GET (or a stream-mode
// POST) sends immediately after opening, per §4.4 and §6: no id, a
// literal "connected" event name, and a body that echoes the session id.
func Connected(h *session.Handle, sessionID string) bool {
	data, _ := json.Marshal(struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID})
	return h.WriteSSEEvent("connected", data)
}

// Replay re-emits s's retained history from index n onward on h, using
// n, n+1, ... as the frame ids — the literal, index-based replay rule
// from §4.4 (see Session.ReplayFrom for why these ids do not necessarily
// match the ids the entries originally carried).
func Replay(h *session.Handle, s *session.Session, n uint64) {
	for i, payload := range s.ReplayFrom(n) {
		h.WriteSSE(n+uint64(i), payload)
	}
}
