package msgsocket

import (
	"net"
	"time"

	"github.com/Zereker/msgsocket/layer"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
)

// Default configuration values.
const (
	defaultDialTimeout     = 10 * time.Second
	defaultShutdownTimeout = 3 * time.Second
	defaultBufferSize      = 1
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// ErrorAction defines the action to take when a peer error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a Client.
type options struct {
	logger         Logger
	onNotification func(Notification)
	resolver       *net.Resolver
	breaker        *gobreaker.Settings

	maxFrameSize    int           // largest inbound and outbound frame
	dialTimeout     time.Duration // per endpoint connect timeout
	writeTimeout    time.Duration // zero disables write deadlines
	shutdownTimeout time.Duration // bounded wait for I/O goroutines
}

// Option is a function that configures client options.
type Option func(*options)

// OnNotificationOption sets the notification handler. It is required.
// The handler is called from the client's worker goroutine, and from the
// caller's goroutine when Connect rejects a destination, so it must be safe
// for concurrent use.
func OnNotificationOption(cb func(Notification)) Option {
	return func(o *options) {
		o.onNotification = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MaxFrameSizeOption sets the largest frame, header included, that is accepted
// from the peer or sent to it.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// DialTimeoutOption sets the timeout for connecting to a single endpoint.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// WriteTimeoutOption sets the deadline for writing one frame.
// Zero, the default, writes without a deadline.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// ShutdownTimeoutOption sets how long teardown waits for outstanding I/O
// goroutines before leaving them behind.
func ShutdownTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = timeout
	}
}

// ResolverOption sets the resolver used for host and service lookups.
func ResolverOption(r *net.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// BreakerOption sets the circuit breaker guarding connection attempts.
// Repeated connect failures open the breaker, after which connect requests
// fail immediately until the breaker's timeout elapses.
func BreakerOption(settings gobreaker.Settings) Option {
	return func(o *options) {
		o.breaker = &settings
	}
}

// checkOptions validates and sets default values for client options.
func checkOptions(opts *options) error {
	if opts.onNotification == nil {
		return ErrInvalidOnNotification
	}

	if opts.maxFrameSize == 0 {
		opts.maxFrameSize = layer.DefaultMaxFrameSize
	}
	if err := checkMaxFrameSize(opts.maxFrameSize); err != nil {
		return err
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.shutdownTimeout <= 0 {
		opts.shutdownTimeout = defaultShutdownTimeout
	}

	if opts.resolver == nil {
		opts.resolver = net.DefaultResolver
	}

	if opts.breaker == nil {
		opts.breaker = defaultBreakerSettings(defaultBreakerFailures, defaultBreakerTimeout)
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func checkMaxFrameSize(size int) error {
	if size < layer.HeaderLen || size > layer.MaxFrameSize {
		return errors.Wrapf(ErrInvalidMaxFrameSize, "%d", size)
	}
	return nil
}

// defaultBreakerSettings trips after maxFailures consecutive connect failures.
func defaultBreakerSettings(maxFailures uint32, timeout time.Duration) *gobreaker.Settings {
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	return &gobreaker.Settings{
		Name:    "connect",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
}

// peerOptions holds the configuration for a server-side Peer.
type peerOptions struct {
	logger Logger

	onMessage      func(p *Peer, body layer.Raw) error
	onDisconnected func(p *Peer, err error)
	// onError is called when a read or write error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize   int           // size of buffered send channel
	maxFrameSize int           // largest inbound frame
	idleTimeout  time.Duration // read/write deadline, zero disables
}

// PeerOption is a function that configures peer options.
type PeerOption func(*peerOptions)

// PeerOnMessageOption sets the handler for received frame bodies. It is required.
// The body shares the receive buffer and must not be modified.
func PeerOnMessageOption(cb func(*Peer, layer.Raw) error) PeerOption {
	return func(o *peerOptions) {
		o.onMessage = cb
	}
}

// PeerOnDisconnectedOption sets the handler called once when the peer's Run
// returns. err is nil for an orderly shutdown.
func PeerOnDisconnectedOption(cb func(*Peer, error)) PeerOption {
	return func(o *peerOptions) {
		o.onDisconnected = cb
	}
}

// PeerOnErrorOption sets the error callback.
// Return Disconnect to close the connection, or Continue to suppress the error.
func PeerOnErrorOption(cb func(error) ErrorAction) PeerOption {
	return func(o *peerOptions) {
		o.onError = cb
	}
}

// PeerBufferSizeOption sets the size of the send channel buffer.
func PeerBufferSizeOption(size int) PeerOption {
	return func(o *peerOptions) {
		o.bufferSize = size
	}
}

// PeerMaxFrameSizeOption sets the largest frame accepted from the remote side.
func PeerMaxFrameSizeOption(size int) PeerOption {
	return func(o *peerOptions) {
		o.maxFrameSize = size
	}
}

// PeerIdleTimeoutOption sets the read/write deadline. Zero disables it.
func PeerIdleTimeoutOption(timeout time.Duration) PeerOption {
	return func(o *peerOptions) {
		o.idleTimeout = timeout
	}
}

// PeerLoggerOption sets the logger of a peer.
func PeerLoggerOption(logger Logger) PeerOption {
	return func(o *peerOptions) {
		o.logger = logger
	}
}

// checkPeerOptions validates and sets default values for peer options.
func checkPeerOptions(opts *peerOptions) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxFrameSize == 0 {
		opts.maxFrameSize = layer.DefaultMaxFrameSize
	}
	if err := checkMaxFrameSize(opts.maxFrameSize); err != nil {
		return err
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}
