// Package sshtransport is the production transport: a PTY-backed shell
// session over SSH, built on golang.org/x/crypto/ssh.
//
// It implements the transport.Transport contract: Connect dials, opens a
// shell session with a PTY, and starts a relay goroutine feeding stdout
// bytes to the sink; an unexpected end of the session (remote close,
// network death, keepalive failure) is reported once via the sink's drop
// callback. Disconnect tears the connection down cleanly without producing
// a drop.
package sshtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/shellback/shellback/internal/logutil"
	"github.com/shellback/shellback/internal/transport"
)

const (
	// connectTimeout is the timeout for establishing SSH connections.
	connectTimeout = 10 * time.Second

	// keepaliveInterval is how often keepalive requests probe the
	// connection. A failed probe closes the connection, which surfaces as
	// a drop.
	keepaliveInterval = 30 * time.Second

	// readBufferSize is the size of the stdout relay's read chunks.
	readBufferSize = 32 * 1024
)

// Transport dials one SSH shell session at a time. It satisfies
// transport.Transport; the lifecycle controller is responsible for never
// having two connects in flight.
type Transport struct {
	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	cancel  context.CancelFunc // stops keepalive and the relay's drop reporting
	closing bool
}

// New creates an SSH transport.
func New() *Transport {
	return &Transport{}
}

// Connect dials the target, authenticates with its private key, opens a
// PTY-backed shell session, and starts relaying output to the sink. It
// blocks until the session is running or an error occurs.
func (t *Transport) Connect(ctx context.Context, target transport.Target, sink transport.Sink) error {
	if sink == nil {
		return fmt.Errorf("sshtransport: sink is nil")
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("sshtransport: %w", err)
	}

	signer, err := loadSigner(target)
	if err != nil {
		return err
	}

	user := target.User
	if user == "" {
		user = "root"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := target.Addr()
	dialer := net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", logutil.SanitizeForLog(addr), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", logutil.SanitizeForLog(addr), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, stdin, stdout, err := openShell(client)
	if err != nil {
		client.Close()
		return err
	}

	relayCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	// Replace any leftover handle; the controller serializes connects, so
	// this only fires after an unclean teardown.
	if t.client != nil {
		t.client.Close()
	}
	t.client = client
	t.session = session
	t.stdin = stdin
	t.cancel = cancel
	t.closing = false
	t.mu.Unlock()

	go t.relay(relayCtx, stdout, sink)
	go t.keepalive(relayCtx, client)

	log.Printf("[ssh] connected to %s", logutil.SanitizeForLog(addr))
	return nil
}

// Disconnect closes the current session and connection. A disconnect is
// clean: the relay's pending EOF is not reported as a drop. Safe to call
// when not connected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	cancel := t.cancel
	session := t.session
	client := t.client
	t.cancel = nil
	t.session = nil
	t.stdin = nil
	t.client = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.Close()
	}
	if client != nil {
		if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("close ssh connection: %w", err)
		}
	}
	return nil
}

// Write sends input bytes to the remote shell.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("sshtransport: not connected")
	}
	return stdin.Write(p)
}

// Resize changes the remote PTY dimensions.
func (t *Transport) Resize(cols, rows uint16) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return fmt.Errorf("sshtransport: not connected")
	}
	return session.WindowChange(int(rows), int(cols))
}

// relay pumps remote stdout into the sink until the stream ends. An end
// that was not initiated by Disconnect is reported as a drop, exactly
// once.
func (t *Transport) relay(ctx context.Context, stdout io.Reader, sink transport.Sink) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			sink.HandleData(buf[:n])
		}
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()

			if closing || ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				sink.HandleDrop(fmt.Errorf("remote closed the session"))
			} else {
				sink.HandleDrop(err)
			}
			return
		}
	}
}

// keepalive probes the connection periodically. A failed probe closes the
// client, which ends the relay's read and surfaces as a drop.
func (t *Transport) keepalive(ctx context.Context, client *ssh.Client) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[ssh] keepalive failed: %v", err)
				client.Close()
				return
			}
		}
	}
}

// loadSigner reads and parses the target's private key, decrypting it with
// the passphrase when one is set.
func loadSigner(target transport.Target) (ssh.Signer, error) {
	if target.KeyPath == "" {
		return nil, fmt.Errorf("sshtransport: no key path for %s", logutil.SanitizeForLog(target.Host))
	}
	keyData, err := os.ReadFile(target.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", logutil.SanitizeForLog(target.KeyPath), err)
	}

	if target.Passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(target.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key with passphrase: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// openShell starts a PTY-backed shell on the client and returns the
// session with its stdin and stdout streams.
func openShell(client *ssh.Client) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("start shell: %w", err)
	}

	return session, stdin, stdout, nil
}
