package msgsocket

import "errors"

// Errors returned by option validation.
var (
	// ErrInvalidOnNotification is returned when no notification handler is provided.
	ErrInvalidOnNotification = errors.New("invalid on notification callback")
	// ErrInvalidOnMessage is returned when no peer message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrInvalidMaxFrameSize is returned when the frame size limit cannot hold
	// a header or does not fit the 16-bit size field.
	ErrInvalidMaxFrameSize = errors.New("invalid max frame size")
)

// Errors returned by client operations.
var (
	// ErrClientClosed is returned when operating on a closed client.
	ErrClientClosed = errors.New("client closed")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("client already running")
	// ErrInvalidDestination is returned for a destination that is not of the
	// form host:service.
	ErrInvalidDestination = errors.New("invalid identifier")
	// ErrNoHosts is returned when a host resolves to no address.
	ErrNoHosts = errors.New("no hosts found")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrBufferFull is returned when the send buffer of a peer has no room left.
var ErrBufferFull = errors.New("send buffer full")

var errQueueClosed = errors.New("queue closed")
