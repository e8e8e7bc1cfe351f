package msgsocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is the interface for handling accepted TCP connections.
type Handler interface {
	// Handle is called on its own goroutine for each new connection and owns
	// it. ctx is canceled when the server stops.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// Server accepts message stream connections and dispatches them to a Handler.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	handlers sync.WaitGroup

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled the server stops accepting and waits up to
// this duration for running handlers before Serve returns.
// Default is 0 (return without waiting).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      defaultLogger(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Listen resolves address, given as host:port, and creates a server bound to it.
func Listen(address string, opts ...ServerOption) (*Server, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", address)
	}
	return New(addr, opts...)
}

// Serve starts accepting connections and dispatching them to the handler.
// It blocks until the context is canceled, Close is called or an
// unrecoverable accept error occurs. Handlers receive a context that is
// canceled when the server stops. If ServerShutdownTimeoutOption is set,
// Serve waits up to that duration for running handlers to return.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				cancel()
				s.drain()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return parent.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", errText(err))
			cancel()
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			handler.Handle(ctx, conn)
		}()
	}
}

// drain waits for running handlers, bounded by the shutdown timeout.
// Close bypasses the remaining wait.
func (s *Server) drain() {
	if s.shutdownTimeout <= 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("handlers still running after shutdown timeout", "timeout", s.shutdownTimeout)
	case <-s.shutdownNow:
		s.logger.Debug("shutdown timeout bypassed via Close()")
	}
}

// Close stops the server by closing the underlying listener.
// If a graceful shutdown is in progress, Close bypasses the remaining timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal or no one is listening
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
