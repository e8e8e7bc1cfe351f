// Package msgsocket provides a framed text message stream over TCP.
// A Client connects to a remote host and exchanges messages through an
// asynchronous state machine; Peer, Server and Relay serve the other end.
package msgsocket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
)

// Client is the application side of a message stream. Requests are queued
// and handled one at a time by the worker started with Run; the results are
// delivered to the notification handler.
type Client struct {
	opts    options
	logger  Logger
	events  *fifo[event]
	machine *machine
	breaker *gobreaker.CircuitBreaker[*net.TCPConn]

	nextID  atomic.Uint32
	state   atomic.Int32
	closed  atomic.Bool
	started atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client with the given options.
// Returns an error if required options (the notification handler) are missing.
func NewClient(opt ...Option) (*Client, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	c := &Client{
		opts:    opts,
		logger:  opts.logger,
		events:  newFIFO[event](),
		breaker: newConnectBreaker(*opts.breaker),
		done:    make(chan struct{}),
	}
	c.machine = newMachine(&c.opts, c.newTransport, c.post)
	c.machine.onTransit = func(s State) { c.state.Store(int32(s)) }

	return c, nil
}

func (c *Client) newTransport(gen uint64, post func(event)) transport {
	return newTCPTransport(gen, post, &c.opts, c.breaker)
}

// post hands an event to the worker. Events posted after Close are dropped.
func (c *Client) post(ev event) {
	if !c.events.push(ev) {
		c.logger.Debug("event dropped after close", "event", fmt.Sprintf("%T", ev))
	}
}

// Run processes queued requests and I/O completions until ctx is canceled or
// Close is called. A live connection is torn down before Run returns.
func (c *Client) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.started.Swap(true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.logger.Debug("client worker started",
		"max_frame_size", c.opts.maxFrameSize,
		"dial_timeout", c.opts.dialTimeout,
		"shutdown_timeout", c.opts.shutdownTimeout)

	var err error
	for {
		var ev event
		ev, err = c.events.pop(ctx)
		if err != nil {
			break
		}
		c.dispatch(ev)
	}

	c.closed.Store(true)
	c.events.close()
	c.machine.shutdown()

	// Requests still queued when the worker stops are answered, not lost.
	for _, ev := range c.events.drain() {
		if req, ok := ev.(sendRequest); ok {
			c.opts.onNotification(SendOutcome{ID: req.id, Reason: SendNotConnected, Detail: detailNotConnected})
		}
	}
	c.logger.Debug("client worker stopped")

	if errors.Is(err, errQueueClosed) {
		return nil
	}
	return err
}

// dispatch runs one reaction. A panic is turned into a disconnection of the
// current transport instead of killing the worker.
func (c *Client) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("state machine panicked", "event", fmt.Sprintf("%T", ev), "panic", r)
			if c.machine.tr != nil {
				c.post(disconnected{
					completion: completion{gen: c.machine.gen},
					reason:     detailUnknown,
					cause:      errors.Errorf("%v", r),
				})
			}
		}
	}()

	c.machine.handle(ev)
}

// Connect asks the client to connect to dest, given as host:service.
// A malformed destination is reported right away with a failed
// ConnectOutcome and never reaches the worker.
func (c *Client) Connect(dest string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	host, service, err := ParseDestination(dest)
	if err != nil {
		c.logger.Debug("rejected destination", "dest", dest, "error", errText(err))
		c.opts.onNotification(ConnectOutcome{Detail: ErrInvalidDestination.Error()})
		return nil
	}

	return c.enqueue(connectRequest{host: host, service: service})
}

// Send queues text for delivery and returns the id its SendOutcome will carry.
func (c *Client) Send(text string) (MessageID, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	id := MessageID(c.nextID.Add(1))
	return id, c.enqueue(sendRequest{id: id, text: text})
}

// Disconnect asks the client to close the current connection.
func (c *Client) Disconnect() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.enqueue(disconnectRequest{})
}

func (c *Client) enqueue(ev event) error {
	if !c.events.push(ev) {
		return ErrClientClosed
	}
	return nil
}

// State returns the current state of the state machine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Close stops the worker and tears down any connection. It waits a bounded
// time for the worker and then leaves it behind.
// Safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.events.close()

	if !c.started.Load() {
		return nil
	}

	// The worker tears the transport down itself, which may take up to one
	// shutdown timeout.
	wait := 2 * c.opts.shutdownTimeout
	select {
	case <-c.done:
	case <-time.After(wait):
		c.logger.Warn("client worker did not stop in time, detaching", "timeout", wait)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
	}
	return nil
}
