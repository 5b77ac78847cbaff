// Copyright (c) 2025 MCP Client Contributors
// SPDX-License-Identifier: MIT

// Package stdio implements the child-process transport. Frames are
// line-delimited JSON on the child's stdout; the client writes frames to
// its stdin. Stderr is forwarded to the logger at debug level.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zmcp/mcp-client/internal/protocol"
	"github.com/zmcp/mcp-client/internal/transport"
)

// maxLine bounds a single inbound frame. Large tool results fit well
// under this.
const maxLine = 16 * 1024 * 1024

// closeGrace is how long Close waits after closing stdin before killing
// the child.
const closeGrace = 2 * time.Second

// Transport spawns the configured command and speaks newline-delimited
// JSON over its pipes.
type Transport struct {
	command string
	args    []string
	env     map[string]string
	logger  *zap.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	msgs      chan *protocol.Message
	alive     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New builds a stdio transport for the given command line. Extra env
// entries are appended to the parent environment.
func New(command string, args []string, env map[string]string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		command: command,
		args:    args,
		env:     env,
		logger:  logger,
		msgs:    make(chan *protocol.Message, 64),
		done:    make(chan struct{}),
	}
}

// Start spawns the child and begins pumping its pipes.
func (t *Transport) Start(ctx context.Context) error {
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &protocol.TransportError{Op: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &protocol.TransportError{Op: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &protocol.TransportError{Op: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &protocol.TransportError{Op: "spawn", Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.alive.Store(true)
	t.logger.Debug("stdio transport started",
		zap.String("command", t.command),
		zap.Int("pid", cmd.Process.Pid))

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go t.waitLoop()

	return nil
}

// Send writes one frame followed by a newline. Frames containing embedded
// newlines are forbidden by the framing and rejected before the write.
func (t *Transport) Send(_ context.Context, msg *protocol.Message) error {
	if !t.alive.Load() {
		return transport.ErrClosed
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if bytes.ContainsRune(data, '\n') {
		return fmt.Errorf("frame contains embedded newline")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return &protocol.TransportError{Op: "write", Err: err}
	}
	if _, err := t.stdin.Write([]byte("\n")); err != nil {
		return &protocol.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Messages returns the inbound frame stream.
func (t *Transport) Messages() <-chan *protocol.Message {
	return t.msgs
}

// Alive reports whether the child is still running.
func (t *Transport) Alive() bool {
	return t.alive.Load()
}

// Close closes stdin and kills the child if it does not exit within the
// grace period.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.alive.Store(false)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			select {
			case <-t.done:
			case <-time.After(closeGrace):
				t.logger.Debug("stdio child did not exit, killing",
					zap.Int("pid", t.cmd.Process.Pid))
				_ = t.cmd.Process.Kill()
			}
		}
	})
	return nil
}

// readLoop parses stdout lines into frames. Unparseable lines are logged
// and dropped.
func (t *Transport) readLoop(stdout io.Reader) {
	defer close(t.msgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			t.logger.Warn("dropping unparseable frame", zap.Error(err))
			continue
		}
		t.msgs <- msg
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("stdio read loop ended", zap.Error(err))
	}
	t.alive.Store(false)
}

// stderrLoop forwards child stderr lines to the host logger.
func (t *Transport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// waitLoop reaps the child. Process exit is a transport failure.
func (t *Transport) waitLoop() {
	err := t.cmd.Wait()
	t.alive.Store(false)
	close(t.done)
	if err != nil {
		t.logger.Debug("stdio child exited", zap.Error(err))
	}
}
