package msgsocket

import "fmt"

// ConnState is the connection state reported to the application.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Reason explains a connection state change.
type Reason int

const (
	// ReasonNone is used when no particular reason applies.
	ReasonNone Reason = iota
	// ReasonInternalError means an unexpected failure, see the detail text.
	ReasonInternalError
	// ReasonConnectSuccessful means a connection attempt succeeded.
	ReasonConnectSuccessful
	// ReasonConnectFailed means a connection attempt failed.
	ReasonConnectFailed
	// ReasonSocketClosed means an established connection was lost.
	ReasonSocketClosed
	// ReasonUserRequested means the application asked for the change.
	ReasonUserRequested
	// ReasonBusy means another operation is in progress; the state is unchanged.
	ReasonBusy
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInternalError:
		return "internal error"
	case ReasonConnectSuccessful:
		return "connect successful"
	case ReasonConnectFailed:
		return "connect failed"
	case ReasonSocketClosed:
		return "socket closed"
	case ReasonUserRequested:
		return "user requested"
	case ReasonBusy:
		return "busy"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// SendReason explains a send outcome.
type SendReason int

const (
	SendOK SendReason = iota
	SendNotConnected
	SendConnectionError
	SendMessageTooLarge
	SendEncodingError
)

func (r SendReason) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendNotConnected:
		return "not connected"
	case SendConnectionError:
		return "connection error"
	case SendMessageTooLarge:
		return "message too large"
	case SendEncodingError:
		return "encoding error"
	}
	return fmt.Sprintf("SendReason(%d)", int(r))
}

// MessageID identifies an outbound message in its SendOutcome.
type MessageID uint32

// Notification is delivered to the application for every observable event.
// It is one of ConnectionStatus, InboundMessage, SendOutcome or ConnectOutcome.
type Notification interface {
	notification()
}

// ConnectionStatus reports a connection state change, or a rejected request
// with ReasonBusy.
type ConnectionStatus struct {
	State  ConnState
	Reason Reason
	Detail string
}

// InboundMessage carries a decoded text message received from the peer.
type InboundMessage struct {
	Text string
}

// SendOutcome reports whether a message was written to the stream.
type SendOutcome struct {
	ID     MessageID
	OK     bool
	Reason SendReason
	Detail string
}

// ConnectOutcome reports the result of a connection attempt.
type ConnectOutcome struct {
	OK     bool
	Detail string
}

func (ConnectionStatus) notification() {}
func (InboundMessage) notification()   {}
func (SendOutcome) notification()      {}
func (ConnectOutcome) notification()   {}
