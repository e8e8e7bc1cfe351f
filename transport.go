package msgsocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Zereker/msgsocket/layer"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// transport is the non-blocking I/O substrate of one connection attempt.
// Every method returns immediately; the outcome is posted as an event tagged
// with the transport's generation. At most one read is issued at a time.
type transport interface {
	resolve(host, service string)
	connect(endpoints []*net.TCPAddr)
	readHeader()
	readBody(n int)
	write(id MessageID, data []byte)
	// close cancels outstanding operations and waits a bounded time for them.
	close()
}

type transportFactory func(gen uint64, post func(event)) transport

type outbound struct {
	id   MessageID
	data []byte
}

// tcpTransport runs each operation on its own goroutine of an errgroup and
// serializes writes through a single writer goroutine.
type tcpTransport struct {
	gen     uint64
	post    func(event)
	opts    *options
	breaker *gobreaker.CircuitBreaker[*net.TCPConn]
	logger  Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	writes *fifo[outbound]

	mu     sync.Mutex
	conn   *net.TCPConn
	closed bool
}

func newTCPTransport(gen uint64, post func(event), opts *options, breaker *gobreaker.CircuitBreaker[*net.TCPConn]) *tcpTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &tcpTransport{
		gen:     gen,
		post:    post,
		opts:    opts,
		breaker: breaker,
		logger:  withFields(opts.logger, "gen", gen),
		ctx:     ctx,
		cancel:  cancel,
		writes:  newFIFO[outbound](),
	}
}

func (t *tcpTransport) completion() completion {
	return completion{gen: t.gen}
}

// spawn runs op on the transport's group and posts the event it returns.
func (t *tcpTransport) spawn(name string, op func() event) {
	t.group.Go(func() error {
		defer t.guard(name)
		t.post(op())
		return nil
	})
}

// guard converts a panic of an I/O goroutine into a disconnection.
func (t *tcpTransport) guard(name string) {
	if r := recover(); r != nil {
		t.logger.Error("io operation panicked", "op", name, "panic", r)
		t.post(disconnected{
			completion: t.completion(),
			reason:     detailUnknown,
			cause:      errors.Errorf("%s: %v", name, r),
		})
	}
}

func (t *tcpTransport) resolve(host, service string) {
	t.spawn("resolve", func() event {
		ev := resolveDone{completion: t.completion()}
		ev.endpoints, ev.err = t.lookup(host, service)
		return ev
	})
}

func (t *tcpTransport) lookup(host, service string) ([]*net.TCPAddr, error) {
	port, err := t.opts.resolver.LookupPort(t.ctx, "tcp", service)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve service %q", service)
	}

	addrs, err := t.opts.resolver.LookupIPAddr(t.ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve host %q", host)
	}
	if len(addrs) == 0 {
		return nil, errors.Wrapf(ErrNoHosts, "%q", host)
	}

	endpoints := make([]*net.TCPAddr, 0, len(addrs))
	for _, a := range addrs {
		endpoints = append(endpoints, &net.TCPAddr{IP: a.IP, Port: port, Zone: a.Zone})
	}
	return endpoints, nil
}

func (t *tcpTransport) connect(endpoints []*net.TCPAddr) {
	t.spawn("connect", func() event {
		ev := connectDone{completion: t.completion()}

		conn, err := t.breaker.Execute(func() (*net.TCPConn, error) {
			return t.dial(endpoints)
		})
		if err != nil {
			ev.err = err
			return ev
		}

		if !t.attach(conn) {
			_ = conn.Close()
			ev.err = ErrConnectionClosed
			return ev
		}

		t.group.Go(t.writeLoop)
		ev.remote = conn.RemoteAddr()
		return ev
	})
}

// dial tries the endpoints in order and returns the first connection.
func (t *tcpTransport) dial(endpoints []*net.TCPAddr) (*net.TCPConn, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoHosts
	}

	d := net.Dialer{Timeout: t.opts.dialTimeout}
	var lastErr error
	for _, ep := range endpoints {
		c, err := d.DialContext(t.ctx, "tcp", ep.String())
		if err == nil {
			tc := c.(*net.TCPConn)
			_ = tc.SetNoDelay(true)
			return tc, nil
		}
		t.logger.Debug("dial failed", "addr", ep, "error", errText(err))
		lastErr = err
		if t.ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// attach stores conn unless the transport was closed during the dial.
func (t *tcpTransport) attach(conn *net.TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.conn = conn
	return true
}

func (t *tcpTransport) socket() *net.TCPConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *tcpTransport) readHeader() {
	t.spawn("read header", func() event {
		buf := make([]byte, layer.HeaderLen)
		err := t.readFull(buf)
		return headerRead{completion: t.completion(), header: buf, err: err}
	})
}

func (t *tcpTransport) readBody(n int) {
	t.spawn("read body", func() event {
		body := layer.NewCapsule(n)
		err := t.readFull(body.Bytes())
		raw, _ := layer.NewRaw(body, 0, n)
		return bodyRead{completion: t.completion(), body: raw, err: err}
	})
}

func (t *tcpTransport) readFull(buf []byte) error {
	conn := t.socket()
	if conn == nil {
		return ErrConnectionClosed
	}
	_, err := io.ReadFull(conn, buf)
	return err
}

func (t *tcpTransport) write(id MessageID, data []byte) {
	if !t.writes.push(outbound{id: id, data: data}) {
		t.post(writeDone{completion: t.completion(), id: id, err: ErrConnectionClosed})
	}
}

// writeLoop writes queued frames in order until the transport is closed.
func (t *tcpTransport) writeLoop() error {
	defer t.guard("write")

	for {
		out, err := t.writes.pop(t.ctx)
		if err != nil {
			return nil
		}
		t.post(writeDone{completion: t.completion(), id: out.id, err: t.writeFrame(out.data)})
	}
}

func (t *tcpTransport) writeFrame(data []byte) error {
	conn := t.socket()
	if conn == nil {
		return ErrConnectionClosed
	}

	if t.opts.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	}
	_, err := conn.Write(data)
	return err
}

func (t *tcpTransport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	t.writes.close()
	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = t.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.opts.shutdownTimeout):
		t.logger.Warn("io goroutines did not stop in time, detaching", "timeout", t.opts.shutdownTimeout)
	}
}

// newConnectBreaker builds the breaker shared by all transports of a client.
// A dial canceled by teardown does not count as a failure.
func newConnectBreaker(settings gobreaker.Settings) *gobreaker.CircuitBreaker[*net.TCPConn] {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	return gobreaker.NewCircuitBreaker[*net.TCPConn](settings)
}
