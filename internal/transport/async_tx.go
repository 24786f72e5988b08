// Package transport provides the paced, asynchronous fragment transmitter
// BULK uses to emit data frames without blocking the sender's main loop on a
// slow or congested peer.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Fragment is one outbound data-frame payload paired with its sequence id.
type Fragment struct {
	ID      uint32
	Payload []byte
}

// AsyncTx funnels fragment writes through a single goroutine (fan-in),
// providing non-blocking enqueue: if the internal buffer is full,
// SendFragment invokes the configured OnDrop hook and returns its error.
// This keeps BULK's producer loop from blocking behind a wedged or
// congested endpoint.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks, pacer)
//	a.SendFragment(f)
//	a.Close()
//
// Close stops accepting fragments, lets the worker send whatever is already
// queued, and returns once the worker has exited; SendFragment calls made
// after Close return ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan Fragment
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(Fragment) error
	hooks  Hooks
	pacer  Pacer
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (fragment not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from SendFragment. If nil, the overflow is silent.
	OnDrop func() error
}

// Pacer delays between successive sends, implementing BULK's pacing rule:
// every Nth fragment is followed by a brief sleep so a fast sender doesn't
// outrun the peer's receive buffer on a lossy link.
type Pacer interface {
	// Wait is called after each successful send, before the next is dequeued.
	Wait()
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf. A
// nil pacer disables pacing.
func NewAsyncTx(parent context.Context, buf int, send func(Fragment) error, hooks Hooks, pacer Pacer) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan Fragment, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
		pacer:  pacer,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case f, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			if err := a.send(f); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
			if a.pacer != nil {
				a.pacer.Wait()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// ErrAsyncTxClosed is returned by SendFragment once Close has been called.
var ErrAsyncTxClosed = errors.New("transport: async tx closed")

// SendFragment queues a fragment for asynchronous transmission or returns
// the drop error if the buffer is full.
func (a *AsyncTx) SendFragment(f Fragment) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- f:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Close the channel under the send lock to avoid races; the worker drains
	// the queued fragments and exits when it sees the channel closed.
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
}
