package msgsocket

import (
	"fmt"
	"io"

	"github.com/Zereker/msgsocket/layer"
	"github.com/pkg/errors"
)

// State is the state of the connection state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Fixed notification texts.
const (
	detailNotConnected    = "not connected"
	detailNotYetConnected = "not yet connected"
	detailBusyConnecting  = "currently trying to connect"
	detailBusyConnected   = "already connected"
	detailConnected       = "connection succeeded"
	detailConnClosed      = "connection closed"
	detailPeerClosed      = "connection closed by peer"
	detailUnknown         = "unknown error"
)

// machine reacts to one event at a time. It is driven by a single goroutine
// and needs no locking; the transport reports back only through post.
type machine struct {
	opts         *options
	logger       Logger
	newTransport transportFactory
	post         func(event)
	notify       func(Notification)
	onTransit    func(State)

	state   State
	gen     uint64
	tr      transport
	pending []MessageID // sends without a write completion, oldest first
}

func newMachine(opts *options, newTransport transportFactory, post func(event)) *machine {
	return &machine{
		opts:         opts,
		logger:       opts.logger,
		newTransport: newTransport,
		post:         post,
		notify:       opts.onNotification,
	}
}

// handle runs the reaction of the current state to ev.
func (m *machine) handle(ev event) {
	if g := ev.generation(); g != 0 && (g != m.gen || m.tr == nil) {
		m.logger.Debug("dropping stale completion", "event", fmt.Sprintf("%T", ev), "gen", g, "current_gen", m.gen)
		return
	}

	switch m.state {
	case StateIdle:
		m.idle(ev)
	case StateConnecting:
		m.connecting(ev)
	case StateConnected:
		m.connected(ev)
	}
}

func (m *machine) idle(ev event) {
	switch ev := ev.(type) {
	case connectRequest:
		m.gen++
		m.tr = m.newTransport(m.gen, m.post)
		m.tr.resolve(ev.host, ev.service)
		m.transit(StateConnecting)
		m.notify(ConnectionStatus{State: Connecting, Reason: ReasonUserRequested, Detail: ev.host + ":" + ev.service})
	case sendRequest:
		m.notify(SendOutcome{ID: ev.id, Reason: SendNotConnected, Detail: detailNotConnected})
	case disconnectRequest:
	default:
		m.unexpected(ev)
	}
}

func (m *machine) connecting(ev event) {
	switch ev := ev.(type) {
	case connectRequest:
		m.notify(ConnectionStatus{State: Connecting, Reason: ReasonBusy, Detail: detailBusyConnecting})
	case sendRequest:
		m.notify(SendOutcome{ID: ev.id, Reason: SendNotConnected, Detail: detailNotYetConnected})
	case disconnectRequest:
		m.teardown()
		m.notify(ConnectionStatus{State: Disconnected, Reason: ReasonUserRequested})
	case resolveDone:
		if ev.err != nil {
			m.connectFailed(ev.err.Error())
			return
		}
		m.logger.Debug("resolved", "gen", m.gen, "endpoints", len(ev.endpoints))
		m.tr.connect(ev.endpoints)
	case connectDone:
		if ev.err != nil {
			m.connectFailed(ev.err.Error())
			return
		}
		m.tr.readHeader()
		m.transit(StateConnected)
		m.logger.Info("connection established", "addr", ev.remote, "gen", m.gen)
		m.notify(ConnectOutcome{OK: true, Detail: detailConnected})
		m.notify(ConnectionStatus{State: Connected, Reason: ReasonConnectSuccessful, Detail: addrString(ev.remote)})
	case disconnected:
		m.connectFailed(ev.reason)
	default:
		m.unexpected(ev)
	}
}

func (m *machine) connected(ev event) {
	switch ev := ev.(type) {
	case connectRequest:
		m.notify(ConnectionStatus{State: Connected, Reason: ReasonBusy, Detail: detailBusyConnected})
	case sendRequest:
		m.send(ev)
	case disconnectRequest:
		m.teardown()
		m.notify(ConnectionStatus{State: Disconnected, Reason: ReasonUserRequested})
	case writeDone:
		m.dropPending(ev.id)
		if ev.err != nil {
			m.notify(SendOutcome{ID: ev.id, Reason: SendConnectionError, Detail: ev.err.Error()})
			m.raise(ev.err)
			return
		}
		m.notify(SendOutcome{ID: ev.id, OK: true, Reason: SendOK})
	case headerRead:
		if ev.err != nil {
			m.raise(ev.err)
			return
		}
		h, err := layer.DecodeHeader(ev.header)
		if err == nil {
			err = h.Check(m.opts.maxFrameSize)
		}
		if err != nil {
			m.raise(err)
			return
		}
		m.tr.readBody(h.BodyLen())
	case bodyRead:
		if ev.err != nil {
			m.raise(ev.err)
			return
		}
		p, err := layer.DecodePayload(ev.body)
		if err != nil {
			m.raise(err)
			return
		}
		m.tr.readHeader()
		m.notify(InboundMessage{Text: p.Text()})
	case disconnected:
		m.logger.Info("connection lost", "gen", m.gen, "reason", ev.reason, "error", errText(ev.cause))
		m.teardown()
		m.notify(ConnectionStatus{State: Disconnected, Reason: ReasonSocketClosed, Detail: ev.reason})
	default:
		m.unexpected(ev)
	}
}

// send frames the message and hands it to the transport.
func (m *machine) send(ev sendRequest) {
	p, err := layer.NewPayload(ev.text)
	if err != nil {
		m.notify(SendOutcome{ID: ev.id, Reason: SendEncodingError, Detail: err.Error()})
		return
	}

	s, err := layer.NewSegmentation(p)
	if err == nil && s.Size() > m.opts.maxFrameSize {
		err = errors.Wrapf(layer.ErrFrameTooLarge, "frame size %d exceeds %d", s.Size(), m.opts.maxFrameSize)
	}
	if err != nil {
		m.notify(SendOutcome{ID: ev.id, Reason: SendMessageTooLarge, Detail: err.Error()})
		return
	}

	m.pending = append(m.pending, ev.id)
	m.tr.write(ev.id, layer.Serialize(s).Bytes())
}

// raise runs the disconnected reaction for a failure of the current
// transport.
func (m *machine) raise(err error) {
	m.handle(disconnected{completion: completion{gen: m.gen}, reason: describe(err), cause: err})
}

func (m *machine) connectFailed(detail string) {
	m.logger.Info("connect failed", "gen", m.gen, "reason", detail)
	m.teardown()
	m.notify(ConnectOutcome{Detail: detail})
	m.notify(ConnectionStatus{State: Disconnected, Reason: ReasonConnectFailed, Detail: detail})
}

// teardown closes the transport, fails every outstanding send and returns
// to Idle.
func (m *machine) teardown() {
	if m.tr != nil {
		m.tr.close()
		m.tr = nil
	}

	pending := m.pending
	m.pending = nil
	for _, id := range pending {
		m.notify(SendOutcome{ID: id, Reason: SendConnectionError, Detail: detailConnClosed})
	}

	m.transit(StateIdle)
}

// shutdown tears down a live connection when the client stops.
func (m *machine) shutdown() {
	if m.state == StateIdle {
		return
	}
	m.teardown()
	m.notify(ConnectionStatus{State: Disconnected, Reason: ReasonUserRequested})
}

func (m *machine) dropPending(id MessageID) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *machine) transit(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state changed", "from", m.state, "to", s, "gen", m.gen)
	m.state = s
	if m.onTransit != nil {
		m.onTransit(s)
	}
}

func (m *machine) unexpected(ev event) {
	m.logger.Debug("event ignored", "event", fmt.Sprintf("%T", ev), "state", m.state)
}

// describe turns an I/O or decode failure into the detail text of a
// disconnection.
func describe(err error) string {
	switch {
	case err == nil:
		return detailUnknown
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return detailPeerClosed
	}
	return err.Error()
}

func addrString(addr fmt.Stringer) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
