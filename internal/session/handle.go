// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package session

import (
	"fmt"
	"net/http"
	"sync"
)

// Kind tags a response-slot; no code in this module reads it, and routing
// decisions never branch on it — a stream key and a request-id key
// already disambiguate the two slot kinds unambiguously by construction
// (see the response-slot key discussion in the data model).
type Kind int

const (
	// KindBatch is a POST awaiting a single JSON reply, keyed by its
	// stringified request id.
	KindBatch Kind = iota
	// KindStream is a live SSE connection — either a GET, or a POST in
	// stream mode — keyed by a freshly minted UUID.
	KindStream
)

// Handle is a live HTTP response the gateway is holding open, pending
// either a single JSON write (batch) or an indefinite sequence of SSE
// frames (stream). Handle writes are serialized by writeMu, mirroring
// the teacher's sseSession.writeMu: flusher.Flush() is not safe to
// interleave with a concurrent Write.
type Handle struct {
	Kind Kind

	w       http.ResponseWriter
	flusher http.Flusher

	writeMu sync.Mutex
	ended   bool
	done    chan struct{}
}

// NewHandle wraps w. It panics if w does not support flushing, mirroring
// the teacher's own hard requirement that the underlying ResponseWriter
// support streaming.
func NewHandle(kind Kind, w http.ResponseWriter) *Handle {
	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("session: response writer does not support flushing")
	}
	return &Handle{
		Kind:    kind,
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// Ended reports whether the handle has already been written to (batch)
// or closed (stream/disconnect). The check is the load-bearing guard
// described in §4.6 and §9: it must be the last thing examined before a
// write, under the same lock that performs the write.
func (h *Handle) Ended() bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.ended
}

// Done is closed the moment the handle is ended, by whichever of
// correlator/timeout/disconnect gets there first.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// WriteJSON writes a single JSON body with the given status code and
// ends the handle. It is a no-op returning false if the handle was
// already ended by a racing writer.
func (h *Handle) WriteJSON(status int, body []byte) bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.ended {
		return false
	}
	h.w.Header().Set("Content-Type", "application/json")
	h.w.WriteHeader(status)
	h.w.Write(body)
	h.ended = true
	close(h.done)
	return true
}

// WriteSSEEvent writes a named SSE event with no id, used for the
// "connected" prologue frame. It does not end the handle.
func (h *Handle) WriteSSEEvent(event string, data []byte) bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.ended {
		return false
	}
	fmt.Fprintf(h.w, "event: %s\ndata: %s\n\n", event, data)
	h.flusher.Flush()
	return true
}

// WriteSSE writes an id/data frame per §6's wire format. It does not end
// the handle — an SSE stream stays open across many frames.
func (h *Handle) WriteSSE(id uint64, data []byte) bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.ended {
		return false
	}
	fmt.Fprintf(h.w, "id: %d\ndata: %s\n\n", id, data)
	h.flusher.Flush()
	return true
}

// End closes the handle without writing anything further — used for
// DELETE-driven termination and for client-disconnect cleanup.
func (h *Handle) End() {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.ended {
		return
	}
	h.ended = true
	close(h.done)
}
