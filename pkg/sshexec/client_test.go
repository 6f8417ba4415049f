package sshexec

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// testServer is a minimal in-process SSH server that accepts exactly one
// connection authenticated by clientKey and executes whatever "exec" command
// handler is supplied.
type testServer struct {
	addr      string
	clientKey *rsa.PrivateKey
}

func startTestServer(t *testing.T, handle func(ssh.Channel, *ssh.Request)) *testServer {
	t.Helper()

	hostKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	clientSigner, err := ssh.NewSignerFromKey(clientKey)
	require.NoError(t, err)
	clientPub := clientSigner.PublicKey()

	serverCfg := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientPub.Marshal()) {
				return nil, nil
			}
			return nil, &ssh.PermanentCredentialError{}
		},
	}
	serverCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		nConn, err := listener.Accept()
		if err != nil {
			return
		}
		sConn, chans, reqs, err := ssh.NewServerConn(nConn, serverCfg)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		for newChan := range chans {
			if newChan.ChannelType() != "session" {
				_ = newChan.Reject(ssh.UnknownChannelType, "unsupported")
				continue
			}
			channel, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go func() {
				for req := range requests {
					if req.Type == "exec" {
						handle(channel, req)
						return
					}
					_ = req.Reply(false, nil)
				}
			}()
		}
		_ = sConn.Wait()
	}()

	t.Cleanup(func() { _ = listener.Close() })
	return &testServer{addr: listener.Addr().String(), clientKey: clientKey}
}

func testCredential(t *testing.T, key *rsa.PrivateKey) *Credential {
	t.Helper()
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return &Credential{User: "runner", Auth: ssh.PublicKeys(signer)}
}

func fastCfg() config.SSHConfig {
	return config.SSHConfig{
		ConnectTimeout:   time.Second,
		HandshakeTimeout: time.Second,
		CommandTimeout:   2 * time.Second,
		OutputRingBytes:  1024,
	}
}

func TestRunSuccessCapturesOutputAndExitCode(t *testing.T) {
	srv := startTestServer(t, func(ch ssh.Channel, req *ssh.Request) {
		_ = req.Reply(true, nil)
		_, _ = ch.Write([]byte("ok\n"))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
		_ = ch.Close()
	})

	result, err := Run(context.Background(), srv.addr, testCredential(t, srv.clientKey), "echo ok", fastCfg())
	require.NoError(t, err)
	assert.Equal(t, model.FailureNone, result.FailureReason)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "ok\n", string(result.Summary))
}

func TestRunNonZeroExit(t *testing.T) {
	srv := startTestServer(t, func(ch ssh.Channel, req *ssh.Request) {
		_ = req.Reply(true, nil)
		_, _ = ch.Write([]byte("boom\n"))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{7}))
		_ = ch.Close()
	})

	result, err := Run(context.Background(), srv.addr, testCredential(t, srv.clientKey), "false", fastCfg())
	require.NoError(t, err)
	assert.Equal(t, model.FailureNonZeroExit, result.FailureReason)
	assert.Equal(t, 7, result.ExitCode)
}

func TestRunAuthFailedRejectsUnknownKey(t *testing.T) {
	srv := startTestServer(t, func(ch ssh.Channel, req *ssh.Request) {
		_ = req.Reply(true, nil)
		_ = ch.Close()
	})

	wrongKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	result, err := Run(context.Background(), srv.addr, testCredential(t, wrongKey), "echo hi", fastCfg())
	require.NoError(t, err)
	assert.Equal(t, model.FailureAuthFailed, result.FailureReason)
}

func TestRunConnectTimeoutOnUnreachableAddress(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := fastCfg()
	cfg.ConnectTimeout = 200 * time.Millisecond

	// 10.255.255.1 is a non-routable address chosen to trigger a connect
	// timeout rather than an immediate refusal.
	result, err := Run(context.Background(), "10.255.255.1:22", testCredential(t, key), "echo hi", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.FailureConnectTimeout, result.FailureReason)
}

func TestRunCommandTimeoutKillsSlowCommand(t *testing.T) {
	blockCh := make(chan struct{})
	srv := startTestServer(t, func(ch ssh.Channel, req *ssh.Request) {
		_ = req.Reply(true, nil)
		<-blockCh
		_ = ch.Close()
	})
	t.Cleanup(func() { close(blockCh) })

	cfg := fastCfg()
	cfg.CommandTimeout = 200 * time.Millisecond

	result, err := Run(context.Background(), srv.addr, testCredential(t, srv.clientKey), "sleep 30", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.FailureCommandTimeout, result.FailureReason)
}

func TestRunContextCancellationStopsCommand(t *testing.T) {
	blockCh := make(chan struct{})
	srv := startTestServer(t, func(ch ssh.Channel, req *ssh.Request) {
		_ = req.Reply(true, nil)
		<-blockCh
		_ = ch.Close()
	})
	t.Cleanup(func() { close(blockCh) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	cfg := fastCfg()
	cfg.CommandTimeout = 5 * time.Second

	result, err := Run(ctx, srv.addr, testCredential(t, srv.clientKey), "sleep 30", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.FailureCancelled, result.FailureReason)
}
