package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
)

// ErrSetup wraps failures to open a recognition session
var ErrSetup = errors.New("recognition setup failed")

// Handler receives client events. Callbacks run on the client's reader
// goroutine and must hand off to the owner rather than mutate shared state.
type Handler struct {
	// OnResult is called for every result up to and including the first
	// final one
	OnResult func(Result)
	// OnError is called at most once, never after a final result or Cancel
	OnError func(error)
}

// latch closes its channel the first time fire is called
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) fire() bool {
	fired := false
	l.once.Do(func() {
		close(l.ch)
		fired = true
	})
	return fired
}

func (l *latch) fired() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Client feeds captured buffers to a recognition stream and relays results.
// Accept never blocks the capture thread: buffers go through a bounded queue
// and are dropped when it is full or after the client was finalized.
type Client struct {
	stream  Stream
	handler Handler
	queue   chan audio.Buffer

	mu     sync.Mutex
	closed bool

	canceled   atomic.Bool
	failed     atomic.Bool
	final      *latch
	errOnce    sync.Once
	cancelOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64

	sendDone chan struct{}
	readDone chan struct{}
}

// Open opens a stream on backend and starts relaying
func Open(ctx context.Context, backend Backend, config Config, format audio.Format, handler Handler) (*Client, error) {
	stream, err := backend.Open(ctx, config.Locale, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}

	c := &Client{
		stream:   stream,
		handler:  handler,
		queue:    make(chan audio.Buffer, queueSize),
		final:    newLatch(),
		sendDone: make(chan struct{}),
		readDone: make(chan struct{}),
	}

	go c.send()
	go c.read()

	return c, nil
}

// Accept implements audio.Sink
func (c *Client) Accept(buf audio.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.queue <- buf:
	default:
		c.dropped.Add(1)
	}
}

func (c *Client) send() {
	defer close(c.sendDone)

	for buf := range c.queue {
		if c.canceled.Load() || c.failed.Load() {
			continue
		}
		if err := c.stream.Append(buf); err != nil {
			c.failed.Store(true)
			c.fail(fmt.Errorf("failed to send audio: %w", err))
			continue
		}
		c.sent.Add(1)
	}

	if c.canceled.Load() || c.failed.Load() {
		return
	}

	if err := c.stream.Finalize(); err != nil {
		c.fail(fmt.Errorf("failed to finalize stream: %w", err))
	}
}

func (c *Client) read() {
	defer close(c.readDone)

	for r := range c.stream.Results() {
		if c.canceled.Load() || c.final.fired() {
			continue
		}
		if r.IsFinal && !c.final.fire() {
			continue
		}
		if c.handler.OnResult != nil {
			c.handler.OnResult(r)
		}
	}

	if err := c.stream.Err(); err != nil {
		c.fail(err)
	}
}

func (c *Client) fail(err error) {
	if c.canceled.Load() || c.final.fired() {
		return
	}
	c.errOnce.Do(func() {
		if c.handler.OnError != nil {
			c.handler.OnError(err)
		}
	})
}

func (c *Client) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// Finalize ends input. Buffers already queued are still sent, and the last
// in-flight result may still arrive.
func (c *Client) Finalize() {
	c.closeQueue()
}

// Cancel aborts the session and discards pending buffers and results
func (c *Client) Cancel() {
	c.cancelOnce.Do(func() {
		c.canceled.Store(true)
		c.closeQueue()
		// Errors from an aborted stream carry no information for the caller
		_ = c.stream.Cancel()
	})
}

// Final is closed once the first final result was delivered
func (c *Client) Final() <-chan struct{} {
	return c.final.ch
}

// Done is closed when the backend session has ended
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Wait blocks until both the sender and the backend session have ended,
// or ctx is done. The sender only ends after Finalize or Cancel.
func (c *Client) Wait(ctx context.Context) error {
	for _, ch := range []<-chan struct{}{c.sendDone, c.readDone} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Sent returns the number of buffers handed to the backend
func (c *Client) Sent() uint64 {
	return c.sent.Load()
}

// Dropped returns the number of buffers that did not fit the queue
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}
