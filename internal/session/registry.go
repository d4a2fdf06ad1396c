// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the sole owner of Session values; every other component
// holds a borrowed reference scoped to a single operation, matching the
// ownership rule in §4.3.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate looks up headerValue as a session id. A recognized id
// returns the existing Session with wasCreated=false. An absent or
// unrecognized id mints a new UUID v4 session and returns it with
// wasCreated=true — the "first POST or GET that does not supply a
// recognized session id" rule from the data model.
func (r *Registry) GetOrCreate(headerValue string) (*Session, bool) {
	if headerValue != "" {
		r.mu.RLock()
		s, ok := r.sessions[headerValue]
		r.mu.RUnlock()
		if ok {
			return s, false
		}
	}

	id := uuid.NewString()
	s := New(id)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s, true
}

// Get looks up a session id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes id from the registry. It does not end the session's
// live responses — callers that need that (DELETE) must call
// Session.EndAll themselves first.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Snapshot returns every session currently registered, for the outbound
// correlator's per-line scan over "every session S in the registry."
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
