// Package transport defines the abstract channel a session speaks over.
//
// The core treats the remote-access protocol as opaque: a [Transport] can
// connect to a [Target], deliver received bytes and drop notifications to a
// [Sink], and disconnect. The production implementation lives in the
// sshtransport package; tests substitute fakes.
package transport

import (
	"context"
	"fmt"
	"net"
)

// Target identifies a remote endpoint.
type Target struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	KeyPath    string `json:"key_path"`
	Passphrase string `json:"-"`
}

// Addr returns the host:port form of the target.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))
}

// Validate checks that the target is well-formed. Called by transports
// before dialing; a malformed target is a configuration error and fails
// fast.
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("target: host is empty")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("target: invalid port %d", t.Port)
	}
	return nil
}

// Sink receives transport callbacks. HandleData is called from the
// transport's read goroutine with received bytes; HandleDrop is called at
// most once per established connection when the connection dies
// unexpectedly. A clean Disconnect does not produce a drop.
type Sink interface {
	HandleData(p []byte)
	HandleDrop(err error)
}

// Transport is an opaque remote channel. Connect blocks until the
// connection is established or fails; after success the transport delivers
// data and drop events to the sink until Disconnect is called or the
// connection dies. At most one connection is active per Transport at a
// time.
type Transport interface {
	Connect(ctx context.Context, target Target, sink Sink) error
	Disconnect() error
}

// InputWriter is implemented by transports that carry input back to the
// remote (an interactive shell). Callers type-assert; a transport without
// input is read-only.
type InputWriter interface {
	Write(p []byte) (int, error)
}

// Resizer is implemented by transports backed by a resizable PTY.
type Resizer interface {
	Resize(cols, rows uint16) error
}
