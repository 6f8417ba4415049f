// Package sshexec executes a single command on a remote host over SSH,
// with three independently armed phase deadlines (connect, handshake,
// command) and bounded-ring output capture.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// Result is the outcome of a single Run call.
type Result struct {
	ExitCode      int
	FailureReason model.FailureReason
	Summary       []byte // bounded tail, combined stdout+stderr
	Truncated     bool   // whether Summary dropped leading output
	Detail        []byte // full combined stdout+stderr
}

// Run dials addr, authenticates with cred, and executes command, enforcing
// cfg's three phase deadlines independently: exceeding connect_timeout,
// handshake_timeout or command_timeout never borrows budget from another
// phase.
func Run(ctx context.Context, addr string, cred *Credential, command string, cfg config.SSHConfig) (*Result, error) {
	conn, err := dial(ctx, addr, cfg.ConnectTimeout)
	if err != nil {
		return &Result{FailureReason: model.FailureConnectTimeout}, nil
	}
	defer conn.Close()

	client, err := handshake(conn, addr, cred, cfg.HandshakeTimeout)
	if err != nil {
		return classifyHandshakeError(err), nil
	}
	defer client.Close()

	return runCommand(ctx, client, command, cfg)
}

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func handshake(conn net.Conn, addr string, cred *Credential, timeout time.Duration) (*ssh.Client, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	sshConf := &ssh.ClientConfig{
		User:            cred.User,
		Auth:            []ssh.AuthMethod{cred.Auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint — target host keys are not pinned in this deployment model
		Timeout:         timeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConf)
	if err != nil {
		return nil, err
	}
	// Handshake succeeded; lift the raw deadline and let the command phase
	// apply its own.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// classifyHandshakeError distinguishes a rejected credential from a network
// problem. The ssh package does not expose a typed error for authentication
// rejection on the client side, so this matches the message the library
// itself uses when every offered auth method is refused.
func classifyHandshakeError(err error) *Result {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return &Result{FailureReason: model.FailureAuthFailed}
	}
	return &Result{FailureReason: model.FailureConnectTimeout}
}

func runCommand(ctx context.Context, client *ssh.Client, command string, cfg config.SSHConfig) (*Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return &Result{FailureReason: model.FailureConnectTimeout}, nil
	}
	defer session.Close()

	ringCap := cfg.OutputRingBytes
	if ringCap <= 0 {
		ringCap = 64 * 1024
	}
	ring := newRingWriter(ringCap)
	var detail bytes.Buffer
	out := &teeWriter{ring: ring, detail: &detail}
	session.Stdout = out
	session.Stderr = out

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		return &Result{FailureReason: model.FailureNonZeroExit}, nil
	}
	go func() { done <- session.Wait() }()

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return &Result{FailureReason: model.FailureCancelled, Summary: ring.Bytes(), Truncated: ring.Truncated(), Detail: detail.Bytes()}, nil
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		return &Result{FailureReason: model.FailureCommandTimeout, Summary: ring.Bytes(), Truncated: ring.Truncated(), Detail: detail.Bytes()}, nil
	case waitErr := <-done:
		return resultFromWaitErr(waitErr, ring, &detail), nil
	}
}

func resultFromWaitErr(waitErr error, ring *ringWriter, detail *bytes.Buffer) *Result {
	if waitErr == nil {
		return &Result{ExitCode: 0, Summary: ring.Bytes(), Truncated: ring.Truncated(), Detail: detail.Bytes()}
	}
	if exitErr, ok := waitErr.(*ssh.ExitError); ok {
		return &Result{
			ExitCode:      exitErr.ExitStatus(),
			FailureReason: model.FailureNonZeroExit,
			Summary:       ring.Bytes(),
			Truncated:     ring.Truncated(),
			Detail:        detail.Bytes(),
		}
	}
	return &Result{
		FailureReason: model.FailureNonZeroExit,
		Summary:       append(ring.Bytes(), []byte(fmt.Sprintf("\nssh session error: %v", waitErr))...),
		Truncated:     ring.Truncated(),
		Detail:        detail.Bytes(),
	}
}

// teeWriter fans a single stream into the bounded summary ring and the
// unbounded detail buffer at once, so both are populated by one Write call
// per chunk of output. ssh assigns the same teeWriter to both Stdout and
// Stderr, which the session reads concurrently, so writes are serialized
// here; bytes.Buffer itself is not safe for concurrent use.
type teeWriter struct {
	mu     sync.Mutex
	ring   *ringWriter
	detail *bytes.Buffer
}

func (t *teeWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.ring.Write(p)
	return t.detail.Write(p)
}
