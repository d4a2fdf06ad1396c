// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package session holds the per-client correlation state described in
// the data model: the response-slot map, the pending-request table, the
// bounded SSE replay history, and the monotonic event-id counter.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/oneshinyboi/supergateway-httpstream/internal/rpc"
)

// Mode is the response strategy a pending request was registered under.
type Mode int

const (
	// ModeBatch means the POST's own HTTP response is the reply target,
	// stored under the request-id key in responses.
	ModeBatch Mode = iota
	// ModeStream means the reply fans out over the session's live SSE
	// streams rather than back down the originating POST.
	ModeStream
)

// historyLimit is N from the data model: the last N broadcast SSE
// payloads retained for Last-Event-ID replay.
const historyLimit = 100

// Pending is the bookkeeping kept for a request forwarded to the child
// whose reply has not yet arrived or timed out. Own is the POST's own
// response handle, which the timeout scheduler writes to: in ModeBatch
// it is the same handle stored under the request-id key; in ModeStream
// it is the POST's own SSE stream, as opposed to the broadcast set a
// successful reply fans out to.
type Pending struct {
	Request *rpc.Message
	Mode    Mode
	Own     *Handle
}

// Session is per-client correlation state. All fields below mu are
// mutated only while holding mu; borrowed *Handle and *Pending values
// returned to callers must not be mutated outside this package.
type Session struct {
	ID string

	mu              sync.Mutex
	responses       map[string]*Handle
	pendingRequests map[string]*Pending
	history         []json.RawMessage
	lastEventID     uint64

	createdAt time.Time
}

// New creates an empty Session for id. Registries are the only callers;
// everyone else reaches a Session through Registry.
func New(id string) *Session {
	return &Session{
		ID:              id,
		responses:       make(map[string]*Handle),
		pendingRequests: make(map[string]*Pending),
		createdAt:       time.Now(),
	}
}

// OpenStream registers h under a freshly minted stream key (GET, or a
// POST in stream mode opening its own SSE connection).
func (s *Session) OpenStream(key string, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key] = h
}

// CloseStream removes the stream-key entry only; the session itself is
// retained for resumability per the data model's lifecycle rule.
func (s *Session) CloseStream(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responses, key)
}

// RegisterBatch records a batch-mode POST: the same handle is reachable
// both as the reply target (responses[idKey]) and as the pending entry
// the timeout scheduler and correlator key off of.
func (s *Session) RegisterBatch(idKey string, req *rpc.Message, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[idKey] = h
	s.pendingRequests[idKey] = &Pending{Request: req, Mode: ModeBatch, Own: h}
}

// RegisterStreamPending records a stream-mode POST's pending request.
// The POST's own SSE handle must already have been registered via
// OpenStream under its own stream key; own is that same handle, kept
// here so the timeout scheduler can target it without broadcasting to
// every other live stream in the session.
func (s *Session) RegisterStreamPending(idKey string, req *rpc.Message, own *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRequests[idKey] = &Pending{Request: req, Mode: ModeStream, Own: own}
}

// TryTakeLiveBatch implements rule 1 of §4.5: if responses[idKey] exists
// and is not already ended, remove both it and pendingRequests[idKey]
// atomically and return the handle. Otherwise it leaves all state
// untouched and returns nil, so the caller falls through to TakePending.
func (s *Session) TryTakeLiveBatch(idKey string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.responses[idKey]
	if !ok || h.Ended() {
		return nil
	}
	delete(s.responses, idKey)
	delete(s.pendingRequests, idKey)
	return h
}

// RemoveBatchResponse removes both pendingRequests[idKey] and
// responses[idKey] unconditionally and returns the handle that was
// there (nil if none). Used by the timeout scheduler and by disconnect
// cleanup, which must remove the slot whether or not it has already
// been ended by a racing writer.
func (s *Session) RemoveBatchResponse(idKey string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.responses[idKey]
	delete(s.responses, idKey)
	delete(s.pendingRequests, idKey)
	return h
}

// TakePending removes and returns the pending entry for idKey, or nil if
// there is none. For a batch-mode entry this also removes its response
// slot, per §4.6's "remove it and its response slot" — the slot and the
// pending entry share one lifetime for batch mode. A stream-mode entry's
// own SSE connection is left registered under its separate stream key,
// since the session's broadcast stream outlives any one pending request.
func (s *Session) TakePending(idKey string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendingRequests[idKey]
	if !ok {
		return nil
	}
	delete(s.pendingRequests, idKey)
	if p.Mode == ModeBatch {
		delete(s.responses, idKey)
	}
	return p
}

// HasResponseSlot reports whether idKey currently has a live (non-ended)
// response slot, without removing it. The timeout scheduler does not
// call it; it relies on TakePending and the handle's own ended check.
func (s *Session) HasResponseSlot(idKey string) bool {
	s.mu.Lock()
	h, ok := s.responses[idKey]
	s.mu.Unlock()
	return ok && h != nil && !h.Ended()
}

// LiveResponses returns a snapshot of every handle currently registered
// in responses, for SSE broadcast and for the batch-mode fallback pick
// in §4.5 rule 2. The snapshot is taken under the session lock but the
// handles themselves are written to outside it — copy out, then release,
// per the concurrency model's write-blocking-point guidance.
func (s *Session) LiveResponses() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.responses))
	for _, h := range s.responses {
		out = append(out, h)
	}
	return out
}

// EndAll ends every live response handle in the session, for DELETE.
func (s *Session) EndAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.responses))
	for _, h := range s.responses {
		handles = append(handles, h)
	}
	s.responses = make(map[string]*Handle)
	s.pendingRequests = make(map[string]*Pending)
	s.mu.Unlock()

	for _, h := range handles {
		h.End()
	}
}

// AppendHistory appends payload to the bounded broadcast history,
// dropping the oldest entry on overflow (invariant 2), and returns the
// event id just assigned to it.
func (s *Session) AppendHistory(payload json.RawMessage) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEventID++
	s.history = append(s.history, payload)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	return s.lastEventID
}

// LastEventID returns the current monotonic counter value.
func (s *Session) LastEventID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// ReplayFrom returns messageHistory[n:] verbatim, per §4.4: a
// Last-Event-ID of n is taken as a literal index into the current
// history slice, not as a prior event-id value to resume past. The
// replay ids the caller writes back (n, n+1, ...) therefore do not, in
// general, match the ids those entries originally carried once the
// ring has overflowed at least once — a deliberate quirk the design
// notes call out, not a bug to paper over.
func (s *Session) ReplayFrom(n uint64) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n >= uint64(len(s.history)) {
		return nil
	}
	out := make([]json.RawMessage, len(s.history)-int(n))
	copy(out, s.history[n:])
	return out
}
