// Tencent is pleased to support the open source community by making trpc-mcp-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-mcp-go is licensed under the Apache License Version 2.0.

// Package child owns the single child process the gateway multiplexes:
// spawning it, serializing writes to its stdin, and framing its stdout
// into complete JSON-RPC lines.
package child

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns exactly one child process for the lifetime of the
// gateway. Its stdin is a single-writer resource: WriteLine serializes
// concurrent callers so that one JSON-RPC message, followed by its
// newline, is never interleaved with another.
type Supervisor struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	writeMu sync.Mutex

	lines  chan []byte
	stderr chan []byte

	onExit func(code int)
}

// Start spawns command[0] with the remaining entries as arguments,
// inheriting the gateway's environment. onExit is invoked exactly once,
// from a dedicated goroutine, when the child terminates for any reason;
// the gateway wires it to process termination per §4.1's rationale that
// the gateway has no useful state without its child.
func Start(ctx context.Context, command []string, logger *zap.Logger, onExit func(code int)) (*Supervisor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("child: empty command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("child: start: %w", err)
	}

	s := &Supervisor{
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
		lines:  make(chan []byte, 64),
		stderr: make(chan []byte, 64),
		onExit: onExit,
	}

	go s.readStdout(stdout)
	go s.readStderr(stderrPipe)
	go s.wait()

	return s, nil
}

// Lines returns the line-oriented channel of complete JSON-object lines
// read from the child's stdout. It is closed once the child's stdout is
// exhausted (normally right before onExit fires).
func (s *Supervisor) Lines() <-chan []byte {
	return s.lines
}

// Stderr returns raw, newline-framed lines from the child's stderr, for
// the logger to surface; the gateway treats child stderr output as
// diagnostic noise, never as protocol data.
func (s *Supervisor) Stderr() <-chan []byte {
	return s.stderr
}

// Stop closes the child's stdin, signaling it to shut down on its own;
// the supervisor's wait goroutine still drives onExit once it actually
// exits. Used by graceful shutdown, as distinct from the fatal,
// supervisor-initiated exit path in §4.1.
func (s *Supervisor) Stop() error {
	return s.stdin.Close()
}

// WriteLine serializes msg followed by a single newline to the child's
// stdin as one atomic write, so concurrent POST handlers never interleave
// partial messages on the only framing boundary the child understands.
func (s *Supervisor) WriteLine(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	buf := make([]byte, len(msg)+1)
	copy(buf, msg)
	buf[len(msg)] = '\n'

	_, err := s.stdin.Write(buf)
	return err
}

func (s *Supervisor) readStdout(r io.Reader) {
	framer := NewFramer()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				s.lines <- line
			}
		}
		if err != nil {
			close(s.lines)
			return
		}
	}
}

func (s *Supervisor) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.stderr <- append([]byte(nil), scanner.Bytes()...)
	}
	close(s.stderr)
}

func (s *Supervisor) wait() {
	err := s.cmd.Wait()

	code := 1
	if err == nil {
		code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
		if code < 0 {
			// Negative ExitCode means the child died from a signal.
			code = 1
		}
	}

	s.logger.Error("child process exited",
		zap.Int("code", code),
		zap.Error(err),
	)

	if s.onExit != nil {
		s.onExit(code)
	}
}
