// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package rpc defines the wire shape of the line-delimited JSON-RPC 2.0
// dialect the child process speaks, and the correlation-key rules the
// gateway uses to match an inbound request to its eventual reply.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Message is a JSON-RPC 2.0 envelope in any of its three shapes: request
// (Method + ID), notification (Method, no ID), or response (ID +
// Result/Error). The gateway never needs all fields of all shapes at
// once, so a single struct with raw sub-fields stands in for all three.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Parse decodes one line of child stdout (or one HTTP POST body) into a
// Message. A top-level value that isn't a JSON object is reported as an
// error: arrays, strings and numbers fail to unmarshal into the struct,
// and a bare null, which would unmarshal without error, is rejected
// explicitly.
func Parse(line []byte) (*Message, error) {
	if bytes.Equal(bytes.TrimSpace(line), []byte("null")) {
		return nil, errors.New("rpc: message is not a JSON object")
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IsNotification reports whether m has no id, i.e. it is a notification
// on the wire rather than a request or response.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0 || bytes.Equal(bytes.TrimSpace(m.ID), []byte("null"))
}

// IDKey normalizes a JSON-RPC id to its string correlation key. Numeric
// id 1 and string id "1" normalize to the same key by design — the
// gateway stringifies both and relies on the caller not mixing them
// within one session (see the Open Question on id collision).
func IDKey(id json.RawMessage) string {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// responseEnvelope is the normalized reply the correlator writes back to
// an HTTP response or broadcasts over SSE for an id-bearing child line.
// Result is always present, even when the child reply is solely an error;
// Error is present only when the child actually supplied one. This is a
// literal reading of §4.5's envelope-construction rule, not a simplification.
type responseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// BuildResponseEnvelope constructs V from §4.5 for a child line that carries
// an id. It does not inspect whether m is itself a well-formed response;
// the correlator only reaches here once it already knows m.ID is set.
func BuildResponseEnvelope(m *Message) []byte {
	v := responseEnvelope{
		JSONRPC: "2.0",
		Result:  orNull(m.Result),
		ID:      m.ID,
	}
	if !isNull(m.Error) {
		v.Error = m.Error
	}
	b, _ := json.Marshal(v)
	return b
}

// notificationEnvelope is N from §4.5, broadcast over SSE for id-less
// child output.
type notificationEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BuildNotificationEnvelope constructs N from §4.5 for a child line with
// no id.
func BuildNotificationEnvelope(m *Message) []byte {
	n := notificationEnvelope{
		JSONRPC: "2.0",
		Method:  m.Method,
	}
	if !isNull(m.Params) {
		n.Params = m.Params
	}
	b, _ := json.Marshal(n)
	return b
}

func orNull(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return json.RawMessage("null")
	}
	return raw
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
