package msgsocket

import (
	"context"
	"net"
	"sync"

	"github.com/Zereker/msgsocket/layer"
)

// Relay is a Handler that runs every accepted connection as a Peer and
// forwards each frame it receives to all other connected peers.
type Relay struct {
	logger Logger
	opts   []PeerOption

	mu    sync.RWMutex
	peers map[uint64]*Peer
}

// NewRelay creates a relay. The given peer options are applied to every
// peer; message and disconnect handlers are installed by the relay itself.
func NewRelay(logger Logger, opts ...PeerOption) *Relay {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Relay{
		logger: logger,
		opts:   opts,
		peers:  make(map[uint64]*Peer),
	}
}

// Handle implements Handler.
func (r *Relay) Handle(ctx context.Context, conn *net.TCPConn) {
	opts := append([]PeerOption{PeerLoggerOption(r.logger)}, r.opts...)
	opts = append(opts,
		PeerOnMessageOption(r.forward),
		PeerOnDisconnectedOption(r.remove),
	)

	p, err := NewPeer(conn, opts...)
	if err != nil {
		r.logger.Error("create peer failed", "addr", conn.RemoteAddr(), "error", errText(err))
		_ = conn.Close()
		return
	}

	r.mu.Lock()
	r.peers[p.ID()] = p
	r.mu.Unlock()

	_ = p.Run(ctx)
}

// forward frames body once and queues the same bytes on every other peer.
// A peer whose buffer is full misses the frame.
func (r *Relay) forward(from *Peer, body layer.Raw) error {
	s, err := layer.NewSegmentation(body)
	if err != nil {
		return err
	}
	frame := layer.Serialize(s).Bytes()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.peers {
		if id == from.ID() {
			continue
		}
		if err := p.SendBuffer(frame); err != nil {
			r.logger.Debug("frame not forwarded", "from", from.ID(), "to", id, "error", errText(err))
		}
	}
	return nil
}

func (r *Relay) remove(p *Peer, err error) {
	r.mu.Lock()
	delete(r.peers, p.ID())
	r.mu.Unlock()

	r.logger.Debug("peer removed", "peer", p.ID(), "addr", p.Addr(), "error", errText(err))
}

// Len returns the number of connected peers.
func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Broadcast frames l and queues it on every connected peer.
func (r *Relay) Broadcast(l layer.Layer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.peers {
		if err := p.Send(l); err != nil {
			r.logger.Debug("broadcast failed", "to", id, "error", errText(err))
		}
	}
}
