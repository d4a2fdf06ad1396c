// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package httpgw

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/child"
	"github.com/oneshinyboi/supergateway-httpstream/internal/metrics"
	"github.com/oneshinyboi/supergateway-httpstream/internal/rpc"
	"github.com/oneshinyboi/supergateway-httpstream/internal/rpcerr"
	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
	"github.com/oneshinyboi/supergateway-httpstream/internal/sse"
	"github.com/oneshinyboi/supergateway-httpstream/internal/timeout"
)

// Router is the HTTP Request Router (C5) and Health Surface (C9). It
// owns no state of its own beyond its collaborators: the session
// registry (C3/C4), the child supervisor (C1) it forwards lines to, and
// the timeout scheduler (C7) it arms per pending request.
type Router struct {
	cfg       Config
	registry  *session.Registry
	child     *child.Supervisor
	scheduler *timeout.Scheduler
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mux *http.ServeMux
}

// New builds a Router ready to be mounted as an http.Handler.
func New(cfg Config, registry *session.Registry, sup *child.Supervisor, sch *timeout.Scheduler, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := &Router{cfg: cfg, registry: registry, child: sup, scheduler: sch, metrics: m, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.endpoint(), r.handleEndpoint)
	for _, p := range cfg.HealthPaths {
		mux.HandleFunc(p, r.handleHealth)
	}
	r.mux = mux
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) applyStaticHeaders(w http.ResponseWriter) {
	for k, v := range r.cfg.StaticHeaders {
		w.Header().Set(k, v)
	}
}

func (r *Router) applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", r.cfg.allowedOrigin())
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, x-api-key, Last-Event-ID")
	h.Set("Access-Control-Expose-Headers", "Content-Type, Authorization, x-api-key, "+r.cfg.sessionHeader())
	h.Set("Access-Control-Allow-Credentials", "true")
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.applyStaticHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleEndpoint(w http.ResponseWriter, req *http.Request) {
	r.applyCORS(w)
	r.applyStaticHeaders(w)

	switch req.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		r.handleDelete(w, req)
	case http.MethodGet:
		r.handleGet(w, req)
	case http.MethodPost:
		r.handlePost(w, req)
	default:
		r.writeError(w, http.StatusMethodNotAllowed, rpcerr.MethodNotAllowed(req.Method))
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, env rpcerr.Envelope) {
	body, _ := json.Marshal(env)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// handleDelete implements §4.4 DELETE: end every live response handle in
// the session and remove it.
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	id := req.Header.Get(r.cfg.sessionHeader())
	if id == "" {
		r.writeError(w, http.StatusBadRequest, rpcerr.MissingSession())
		return
	}
	s, ok := r.registry.Get(id)
	if !ok {
		r.writeError(w, http.StatusNotFound, rpcerr.UnknownSession(id))
		return
	}
	s.EndAll()
	r.registry.Delete(id)
	r.metrics.SessionDeleted(req.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleGet implements §4.4 GET: open an SSE stream, emit the connected
// prologue, optionally replay history, and register a stream key that
// survives only until the client disconnects.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	s, created := r.registry.GetOrCreate(req.Header.Get(r.cfg.sessionHeader()))
	if created {
		r.metrics.SessionCreated(req.Context())
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(r.cfg.sessionHeader(), s.ID)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h := session.NewHandle(session.KindStream, w)
	sse.Connected(h, s.ID)

	if lastID := req.Header.Get("Last-Event-ID"); lastID != "" {
		if n, err := strconv.ParseUint(lastID, 10, 64); err == nil {
			sse.Replay(h, s, n)
		}
	}

	streamKey := newStreamKey()
	s.OpenStream(streamKey, h)
	defer s.CloseStream(streamKey)

	select {
	case <-req.Context().Done():
	case <-h.Done():
	}
}

// handlePost implements §4.4 POST: forward the parsed message to the
// child and either reply immediately (notification), hold the response
// open for a batch reply, or switch to SSE and wait for a broadcast.
func (r *Router) handlePost(w http.ResponseWriter, req *http.Request) {
	s, created := r.registry.GetOrCreate(req.Header.Get(r.cfg.sessionHeader()))
	if created {
		r.metrics.SessionCreated(req.Context())
	}
	w.Header().Set(r.cfg.sessionHeader(), s.ID)

	body, err := io.ReadAll(io.LimitReader(req.Body, r.cfg.maxBodyBytes()+1))
	if err != nil {
		r.writeError(w, http.StatusBadRequest, rpcerr.ParseError())
		return
	}
	if int64(len(body)) > r.cfg.maxBodyBytes() {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	m, err := rpc.Parse(body)
	if err != nil {
		r.writeError(w, http.StatusBadRequest, rpcerr.ParseError())
		return
	}

	if err := r.child.WriteLine(body); err != nil {
		r.logger.Error("failed writing to child stdin", zap.Error(err))
		r.writeError(w, http.StatusBadGateway, rpcerr.ChildUnavailable())
		return
	}

	if m.IsNotification() {
		// Invariant 5 (§3): a notification still opens the SSE channel in
		// stream mode rather than returning 204 — there is no reply to
		// wait for, but the caller asked for a stream, not a batch reply.
		if wantsStream(req) {
			r.handleNotificationStream(w, req, s)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	idKey := rpc.IDKey(m.ID)
	if wantsStream(req) {
		r.handlePostStream(w, req, s, m, idKey)
		return
	}
	r.handlePostBatch(w, req, s, m, idKey)
}

// handleNotificationStream opens an SSE stream for a notification POST
// in stream mode. There is no id to register as pending — the child
// was already given the notification line above — so this only keeps
// the stream key live for broadcasts until the client disconnects.
func (r *Router) handleNotificationStream(w http.ResponseWriter, req *http.Request, s *session.Session) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h := session.NewHandle(session.KindStream, w)
	sse.Connected(h, s.ID)

	streamKey := newStreamKey()
	s.OpenStream(streamKey, h)
	defer s.CloseStream(streamKey)

	select {
	case <-req.Context().Done():
	case <-h.Done():
	}
}

// wantsStream chooses the response mode per request: an Accept header
// that lists text/event-stream asks for stream mode, the same signal
// the audit middleware already keys off of for MCP traffic; everything
// else gets batch mode.
func wantsStream(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/event-stream")
}

func (r *Router) handlePostBatch(w http.ResponseWriter, req *http.Request, s *session.Session, m *rpc.Message, idKey string) {
	h := session.NewHandle(session.KindBatch, w)
	s.RegisterBatch(idKey, m, h)
	r.metrics.RequestForwarded(req.Context(), "batch")

	start := time.Now()
	cancel := r.scheduler.Arm(s, idKey, r.cfg.BatchTimeout)

	select {
	case <-h.Done():
		cancel()
		r.metrics.BatchLatency(req.Context(), time.Since(start))
	case <-req.Context().Done():
		cancel()
		s.RemoveBatchResponse(idKey)
	}
}

func (r *Router) handlePostStream(w http.ResponseWriter, req *http.Request, s *session.Session, m *rpc.Message, idKey string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h := session.NewHandle(session.KindStream, w)
	sse.Connected(h, s.ID)

	streamKey := newStreamKey()
	s.OpenStream(streamKey, h)
	s.RegisterStreamPending(idKey, m, h)
	r.metrics.RequestForwarded(req.Context(), "stream")

	cancel := r.scheduler.Arm(s, idKey, r.cfg.BatchTimeout)
	defer cancel()
	defer s.CloseStream(streamKey)

	select {
	case <-req.Context().Done():
	case <-h.Done():
	}
}

func newStreamKey() string {
	return "stream-" + uuid.NewString()
}
