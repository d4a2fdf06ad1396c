// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package rpcerr holds the gateway's catalog of JSON-RPC error kinds and
// the exact envelope each one is written with, per §7.
package rpcerr

import (
	"errors"
	"fmt"
)

// Code is a JSON-RPC 2.0 error kind as synthesized by the gateway
// itself. The gateway never originates application error codes. The
// sentinels below carry identity only, for errors.Is comparisons, and
// are never the wire message text (the builder functions below own
// that); no code in this module returns or compares them.
type Code error

// Sentinel gateway-synthesized error kinds.
var (
	ErrParse            Code = errors.New("parse_error")
	ErrMissingSession   Code = errors.New("missing_session")
	ErrUnknownSession   Code = errors.New("unknown_session")
	ErrMethodNotAllowed Code = errors.New("method_not_allowed")
	ErrRequestTimeout   Code = errors.New("request_timeout")
)

// Envelope is the JSON body of a gateway-synthesized JSON-RPC error
// response.
type Envelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   Detail      `json:"error"`
	ID      interface{} `json:"id"`
}

// Detail is the inner `error` object of an Envelope.
type Detail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Numeric JSON-RPC error codes the gateway ever writes (§6).
const (
	CodeParseError = -32700
	CodeGeneric    = -32000
)

func build(code int, message string, id interface{}) Envelope {
	return Envelope{JSONRPC: "2.0", Error: Detail{Code: code, Message: message}, ID: id}
}

// ParseError is written for a POST body that is not a JSON object (id is
// always null: the failure precedes any correlation).
func ParseError() Envelope {
	return build(CodeParseError, "Parse error: Invalid JSON", nil)
}

// MissingSession is written for a DELETE with no session header.
func MissingSession() Envelope {
	return build(CodeGeneric, "Missing session ID", nil)
}

// UnknownSession is written for a DELETE against an unrecognized id.
func UnknownSession(id string) Envelope {
	return build(CodeGeneric, fmt.Sprintf("Session %s not found", id), nil)
}

// MethodNotAllowed is written for any endpoint method other than
// GET/POST/DELETE/OPTIONS.
func MethodNotAllowed(method string) Envelope {
	return build(CodeGeneric, fmt.Sprintf("Method %s not allowed", method), nil)
}

// Timeout is written when batchTimeout elapses with no child reply,
// preserving the original request id so a client can match it up.
func Timeout(id interface{}) Envelope {
	return build(CodeGeneric, "Request timeout", id)
}

// ChildUnavailable is written when the router cannot even get a
// request onto the child's stdin (a write error on the single shared
// pipe). This sits outside the catalog §7 enumerates — the spec never
// expects stdin writes to fail — but a real deployment still needs a
// response instead of a hung connection.
func ChildUnavailable() Envelope {
	return build(CodeGeneric, "failed to forward request to child", nil)
}
