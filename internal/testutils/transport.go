package testutils

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by FakeTransport after Close.
var ErrTransportClosed = errors.New("fake transport closed")

// FakeTransport records writes in memory and lets tests decide how pings and writes behave.
type FakeTransport struct {
	mu          sync.Mutex
	writes      [][]byte
	pings       int
	closed      bool
	closeReason string
	pingErr     error
	writeErr    error
}

// NewFakeTransport creates a transport that accepts every write and ping.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *FakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pings++
	err := f.pingErr
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return ErrTransportClosed
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (f *FakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeReason = reason
	}
	return nil
}

// FailPings makes every subsequent Ping return err (nil restores success).
func (f *FakeTransport) FailPings(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// FailWrites makes every subsequent Write return err.
func (f *FakeTransport) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Writes returns a copy of everything written so far, in order.
func (f *FakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Pings returns the number of pings attempted.
func (f *FakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Closed reports whether Close was called and with which reason.
func (f *FakeTransport) Closed() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeReason
}
