// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package httpgw

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oneshinyboi/supergateway-httpstream/internal/child"
	"github.com/oneshinyboi/supergateway-httpstream/internal/correlator"
	gwmetrics "github.com/oneshinyboi/supergateway-httpstream/internal/metrics"
	"github.com/oneshinyboi/supergateway-httpstream/internal/session"
	"github.com/oneshinyboi/supergateway-httpstream/internal/timeout"
)

// testHarness wires a Router to a real child process and pumps its
// stdout lines into a real Correlator, exactly the way gateway.Run does
// — giving S1-S6 an end-to-end path without depending on the gateway
// package itself.
type testHarness struct {
	server *httptest.Server
}

func newTestHarness(t *testing.T, cmd []string, cfg Config) *testHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := session.NewRegistry()
	m, err := gwmetrics.New(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	sup, err := child.Start(ctx, cmd, zap.NewNop(), func(int) {})
	require.NoError(t, err)

	corr := correlator.New(registry, zap.NewNop(), m)
	go func() {
		for line := range sup.Lines() {
			corr.HandleLine(line)
		}
	}()

	sch := timeout.New(zap.NewNop(), m)
	router := New(cfg, registry, sup, sch, m, zap.NewNop())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testHarness{server: server}
}

func catCommand() []string {
	return []string{"sh", "-c", "cat"}
}

func swallowCommand() []string {
	return []string{"sh", "-c", "cat >/dev/null"}
}

// echoOneReplyCommand returns a child that reads exactly one line and
// replies with a fixed canned JSON-RPC response, used to exercise a
// batch reply without requiring a real MCP-speaking process.
func echoOneReplyCommand(reply string) []string {
	return []string{"sh", "-c", fmt.Sprintf(`read -r line; printf '%%s\n' %s`, shQuote(reply))}
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func captureCommand(t *testing.T) (cmd []string, read func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.txt")
	cmd = []string{"sh", "-c", `cat >> "$1"`, "capture", path}
	return cmd, func() string {
		b, _ := os.ReadFile(path)
		return string(b)
	}
}

func TestRouter_S1_Notification(t *testing.T) {
	cmd, readCapture := captureCommand(t)
	h := newTestHarness(t, cmd, Config{BatchTimeout: time.Second})

	resp, err := http.Post(h.server.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)

	require.Eventually(t, func() bool {
		return readCapture() == "{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n"
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_S2_BatchRequestReply(t *testing.T) {
	h := newTestHarness(t, echoOneReplyCommand(`{"jsonrpc":"2.0","id":7,"result":{"x":1}}`),
		Config{BatchTimeout: time.Second})

	resp, err := http.Post(h.server.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"echo","params":{"x":1}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"x":1},"id":7}`, string(body))
}

func TestRouter_S3_BatchTimeout(t *testing.T) {
	h := newTestHarness(t, swallowCommand(), Config{BatchTimeout: 100 * time.Millisecond})

	resp, err := http.Post(h.server.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":"q","method":"slow"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Request timeout"},"id":"q"}`, string(body))
}

func TestRouter_S5_DeleteUnknownSession(t *testing.T) {
	h := newTestHarness(t, catCommand(), Config{BatchTimeout: time.Second})

	req, err := http.NewRequest(http.MethodDelete, h.server.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", "nonesuch")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Session nonesuch not found"},"id":null}`, string(body))
}

func TestRouter_S6_MethodNotAllowed(t *testing.T) {
	h := newTestHarness(t, catCommand(), Config{BatchTimeout: time.Second})

	req, err := http.NewRequest(http.MethodPut, h.server.URL+"/mcp", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"id":null`)
	assert.Contains(t, string(body), "PUT")
}

func TestRouter_NotificationInStreamMode_OpensSSEInsteadOf204(t *testing.T) {
	h := newTestHarness(t, catCommand(), Config{BatchTimeout: time.Second})

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		respCh <- resp
	}()

	resp := <-respCh
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	connected := readSSEFrame(t, reader)
	assert.True(t, strings.HasPrefix(connected, "event: connected"))
}

func TestRouter_S4_SSEConnectAndResume(t *testing.T) {
	h := newTestHarness(t, catCommand(), Config{BatchTimeout: time.Second})

	getReq, err := http.NewRequest(http.MethodGet, h.server.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(getReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	connected := readSSEFrame(t, reader)
	assert.True(t, strings.HasPrefix(connected, "event: connected"))

	for i := 1; i <= 3; i++ {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","method":"tick","params":{"n":%d}}`, i)
		r, err := http.Post(h.server.URL+"/mcp", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		r.Body.Close()
	}

	for i, want := range []string{"id: 1", "id: 2", "id: 3"} {
		frame := readSSEFrame(t, reader)
		assert.True(t, strings.HasPrefix(frame, want), "frame %d: %q", i+1, frame)
	}

	getReq2, err := http.NewRequest(http.MethodGet, h.server.URL+"/mcp", nil)
	require.NoError(t, err)
	getReq2.Header.Set("Mcp-Session-Id", resp.Header.Get("Mcp-Session-Id"))
	getReq2.Header.Set("Last-Event-ID", "1")
	resp2, err := http.DefaultClient.Do(getReq2)
	require.NoError(t, err)
	defer resp2.Body.Close()

	reader2 := bufio.NewReader(resp2.Body)
	_ = readSSEFrame(t, reader2) // connected prologue
	replay1 := readSSEFrame(t, reader2)
	replay2 := readSSEFrame(t, reader2)
	assert.True(t, strings.HasPrefix(replay1, "id: 1"))
	assert.True(t, strings.HasPrefix(replay2, "id: 2"))
}

// readSSEFrame reads lines up to and including the blank line that
// terminates one SSE frame, and returns the frame with its trailing
// blank line stripped.
func readSSEFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
		buf.WriteString(line)
	}
	return buf.String()
}
