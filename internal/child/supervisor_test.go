// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

package child

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// catSupervisor starts a `cat` child, which echoes stdin back on stdout
// line for line — enough to exercise the write/read round trip without
// a real MCP binary.
func catSupervisor(t *testing.T, onExit func(int)) *Supervisor {
	t.Helper()
	s, err := Start(context.Background(), []string{"cat"}, zap.NewNop(), onExit)
	require.NoError(t, err)
	return s
}

func TestSupervisor_EchoRoundTrip(t *testing.T) {
	s := catSupervisor(t, nil)

	require.NoError(t, s.WriteLine([]byte(`{"jsonrpc":"2.0","method":"ping"}`)))

	select {
	case line := <-s.Lines():
		require.Equal(t, `{"jsonrpc":"2.0","method":"ping"}`, string(line))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed line")
	}
}

func TestSupervisor_OnExitFiresOnStdinClose(t *testing.T) {
	exited := make(chan int, 1)
	s := catSupervisor(t, func(code int) { exited <- code })

	require.NoError(t, s.stdin.Close())

	select {
	case code := <-exited:
		require.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onExit")
	}
}
