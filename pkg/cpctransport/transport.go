// Package cpctransport implements the southbound transport capability: the
// {write(bytes), read()->bytes} abstraction named in §9 ("Inline mock vs
// real transport"), with two implementations selected once at construction
// and never switched at runtime. The real implementation wraps the
// out-of-scope CPC client library's endpoint (§1, §6); the mock
// implementation drives an in-process fake secondary for tests (§8).
package cpctransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Read/Write once Close has been called.
var ErrClosed = errors.New("cpctransport: closed")

// Capability is the minimal contract the southbound client needs: write a
// framed buffer, block for the next framed buffer, and close. Re-framing
// (splitting concatenated frames) is the client's job, not the transport's.
type Capability interface {
	Write(p []byte) error
	Read() ([]byte, error)
	Close() error
}

// Endpoint is the contract satisfied by the out-of-scope CPC client
// library's opened endpoint (§1, §6): byte-oriented Read/Write plus Close.
type Endpoint interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Library is the contract satisfied by the out-of-scope CPC client library
// itself. Connect establishes the library-level session; Open opens the
// well-known GPIO service endpoint with the given transmit window.
// SetResetCallback registers the callback invoked when the secondary resets
// (an Unrecoverable.TransportFailure trigger, surfaced via the caller's exit
// pipe — see pkg/secondary).
type Library interface {
	Connect() error
	Open(instance string, txWindow int) (Endpoint, error)
	SetResetCallback(cb func())
}

// RealTransport adapts a Library/Endpoint pair to Capability, tracking
// connection diagnostics the way the teacher's stats-wrapped net.Conn does
// (bytes sent/received, open timestamp, reconnect attempts) for operability.
type RealTransport struct {
	ep       Endpoint
	log      *logrus.Entry
	openedAt time.Time
	txBytes  int64
	rxBytes  int64
	attempts int
	fd       int
}

// DialOptions configures the bounded-deadline retry in Dial.
type DialOptions struct {
	Instance    string
	TxWindow    int
	Deadline    time.Duration
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultDialOptions matches §4.2: a 2000 ms deadline on both the library
// connect and the endpoint open.
func DefaultDialOptions(instance string) DialOptions {
	return DialOptions{
		Instance:    instance,
		TxWindow:    1,
		Deadline:    2000 * time.Millisecond,
		InitialWait: 25 * time.Millisecond,
		MaxWait:     250 * time.Millisecond,
	}
}

// Dial connects to the CPC endpoint, retrying both the library connect and
// the endpoint open with bounded exponential backoff inside opts.Deadline
// (SPEC_FULL.md supplement #5, grounded on endpoint/mod.rs's retry loop).
// It fails once the deadline elapses without a successful open.
func Dial(ctx context.Context, lib Library, opts DialOptions, log *logrus.Entry) (*RealTransport, error) {
	deadline := time.Now().Add(opts.Deadline)
	wait := opts.InitialWait
	attempts := 0

	for {
		attempts++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		connectErr := lib.Connect()
		var ep Endpoint
		var openErr error
		if connectErr == nil {
			ep, openErr = lib.Open(opts.Instance, opts.TxWindow)
		}

		if connectErr == nil && openErr == nil {
			t := &RealTransport{
				ep:       ep,
				log:      log,
				openedAt: time.Now(),
				attempts: attempts,
				fd:       fdOf(ep),
			}
			log.WithFields(logrus.Fields{
				"instance": opts.Instance,
				"attempts": attempts,
			}).Info("cpc endpoint opened")
			return t, nil
		}

		err := connectErr
		if err == nil {
			err = openErr
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("cpctransport: dial %q failed after %d attempt(s) within %s: %w", opts.Instance, attempts, opts.Deadline, err)
		}

		log.WithFields(logrus.Fields{
			"instance": opts.Instance,
			"attempt":  attempts,
			"error":    err,
		}).Debug("cpc endpoint dial attempt failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
}

func (t *RealTransport) Write(p []byte) error {
	n, err := t.ep.Write(p)
	t.txBytes += int64(n)
	if err != nil {
		return fmt.Errorf("cpctransport: write: %w", err)
	}
	return nil
}

// Read blocks for the next chunk of bytes from the endpoint. The returned
// slice may contain more than one frame; splitting is the caller's job.
func (t *RealTransport) Read() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := t.ep.Read(buf)
	if n > 0 {
		t.rxBytes += int64(n)
	}
	if err != nil {
		return nil, fmt.Errorf("cpctransport: read: %w", err)
	}
	return buf[:n], nil
}

func (t *RealTransport) Close() error {
	return t.ep.Close()
}

// Stats reports cumulative transport diagnostics.
func (t *RealTransport) Stats() (txBytes, rxBytes int64, openedAt time.Time, attempts int) {
	return t.txBytes, t.rxBytes, t.openedAt, t.attempts
}

// FD returns the raw file descriptor backing the endpoint, or -1 when the
// endpoint isn't a net.Conn.
func (t *RealTransport) FD() int {
	return t.fd
}

// fdOf extracts the raw file descriptor from a connection-like endpoint,
// when the endpoint happens to be backed by a net.Conn.
func fdOf(ep Endpoint) int {
	nc, ok := ep.(net.Conn)
	if !ok {
		return -1
	}
	return netfd.GetFdFromConn(nc)
}
