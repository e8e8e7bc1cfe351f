package msgsocket

import (
	"net"

	"github.com/Zereker/msgsocket/layer"
)

// event is one input of the state machine. Requests come from the
// application, completions from the transport of a given generation.
type event interface {
	generation() uint64
}

// request events are not bound to a transport generation.
type request struct{}

func (request) generation() uint64 { return 0 }

type connectRequest struct {
	request
	host, service string
}

type sendRequest struct {
	request
	id   MessageID
	text string
}

type disconnectRequest struct {
	request
}

// completion events carry the generation of the transport that issued them.
type completion struct {
	gen uint64
}

func (c completion) generation() uint64 { return c.gen }

type resolveDone struct {
	completion
	endpoints []*net.TCPAddr
	err       error
}

type connectDone struct {
	completion
	remote net.Addr
	err    error
}

type writeDone struct {
	completion
	id  MessageID
	err error
}

type headerRead struct {
	completion
	header []byte
	err    error
}

type bodyRead struct {
	completion
	body layer.Raw
	err  error
}

// disconnected funnels every I/O and decode failure into one teardown path.
type disconnected struct {
	completion
	reason string
	cause  error
}
