package msgsocket

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zereker/msgsocket/layer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var peerID atomic.Uint64

// Peer is the server side of one message stream. It reads segmentation
// frames from the connection and queues outbound frames for a single writer.
// Frames are read straight from the socket, so nothing past a rejected
// header is pulled into memory.
type Peer struct {
	id      uint64
	rawConn *net.TCPConn
	logger  Logger

	opts peerOptions

	sendMsg      chan []byte
	closed       atomic.Bool
	disconnected atomic.Bool

	mu     sync.Mutex // guards cancel and the closed check in Run
	cancel context.CancelFunc
}

// NewPeer wraps an accepted TCP connection.
// Returns an error if required options (the message handler) are missing.
func NewPeer(conn *net.TCPConn, opt ...PeerOption) (*Peer, error) {
	var opts peerOptions
	for _, o := range opt {
		o(&opts)
	}

	if err := checkPeerOptions(&opts); err != nil {
		return nil, err
	}

	id := peerID.Add(1)
	return &Peer{
		id:      id,
		rawConn: conn,
		logger:  withFields(opts.logger, "peer", id),
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}, nil
}

// Run starts the peer's read and write loops and blocks until one of them
// fails or ctx is canceled. The connection is closed when Run returns, and
// the disconnected handler is called exactly once, with a nil error when the
// peer was canceled or closed. Run on a peer that is already closed returns
// nil right away.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.logger.Debug("run on closed peer", "addr", p.Addr())
		p.notifyDisconnected(nil)
		return nil
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("connection established", "addr", p.Addr())
	p.logger.Debug("connection options", "addr", p.Addr(),
		"buffer_size", p.opts.bufferSize,
		"max_frame_size", p.opts.maxFrameSize,
		"idle_timeout", p.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return p.readLoop(child)
	})

	group.Go(func() error {
		return p.writeLoop(child)
	})

	// Unblock a pending read or write once either loop stops.
	group.Go(func() error {
		<-child.Done()
		_ = p.rawConn.SetDeadline(time.Now())
		return nil
	})

	err := group.Wait()
	p.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Info("connection closed with error", "addr", p.Addr(), "error", errText(err))
		p.notifyDisconnected(err)
	} else {
		p.logger.Info("connection closed", "addr", p.Addr())
		p.notifyDisconnected(nil)
	}

	return err
}

func (p *Peer) notifyDisconnected(err error) {
	if p.disconnected.Swap(true) || p.opts.onDisconnected == nil {
		return
	}
	p.opts.onDisconnected(p, err)
}

// Close cancels the loops and closes the underlying TCP connection.
// Safe to call multiple times.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return p.rawConn.Close()
}

// IsClosed returns true if the peer has been closed.
func (p *Peer) IsClosed() bool {
	return p.closed.Load()
}

// ID returns the process-unique id of the peer.
func (p *Peer) ID() uint64 {
	return p.id
}

// Addr returns the remote address of the peer.
func (p *Peer) Addr() net.Addr {
	return p.rawConn.RemoteAddr()
}

// frame serializes l as a segmentation frame. A *layer.Segmentation is sent
// as is; any other layer is framed first.
func (p *Peer) frame(l layer.Layer) ([]byte, error) {
	s, ok := l.(*layer.Segmentation)
	if !ok {
		var err error
		if s, err = layer.NewSegmentation(l); err != nil {
			return nil, err
		}
	}

	if s.Size() > p.opts.maxFrameSize {
		return nil, errors.Wrapf(layer.ErrFrameTooLarge, "frame size %d exceeds %d", s.Size(), p.opts.maxFrameSize)
	}
	return layer.Serialize(s).Bytes(), nil
}

// Send frames l and queues it without blocking.
//
// Returns:
//   - nil: frame was queued (not yet sent)
//   - ErrBufferFull: send buffer is full, frame was NOT queued
//   - ErrConnectionClosed: peer is closed
//   - layer.ErrFrameTooLarge: the frame exceeds the max frame size
func (p *Peer) Send(l layer.Layer) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := p.frame(l)
	if err != nil {
		return err
	}
	return p.SendBuffer(data)
}

// SendBuffer queues an already serialized frame without blocking. The slice
// is written as is and must not be modified afterwards; it may be shared
// between peers.
func (p *Peer) SendBuffer(data []byte) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case p.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendBlocking frames l and blocks until it is queued or ctx is done.
func (p *Peer) SendBlocking(ctx context.Context, l layer.Layer) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := p.frame(l)
	if err != nil {
		return err
	}

	select {
	case p.sendMsg <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTimeout frames l and waits up to timeout for buffer space.
// Returns ErrBufferFull when the timeout expires.
func (p *Peer) SendTimeout(l layer.Layer, timeout time.Duration) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := p.frame(l)
	if err != nil {
		return err
	}

	select {
	case p.sendMsg <- data:
		return nil
	case <-time.After(timeout):
		return ErrBufferFull
	}
}

// readLoop reads frames and hands their bodies to the message handler.
// Framing errors and frames cut off partway end the loop, as does a closed
// stream. Other errors, such as an idle timeout between frames, go through
// the error handler.
func (p *Peer) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if p.opts.idleTimeout > 0 {
				_ = p.rawConn.SetReadDeadline(time.Now().Add(p.opts.idleTimeout))
			}

			s, err := layer.ReadFrame(p.rawConn, p.opts.maxFrameSize)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Debug("read error", "addr", p.Addr(), "error", errText(err))
				if fatalReadError(err) || p.opts.onError(err) == Disconnect {
					return err
				}
				continue
			}

			if err = p.opts.onMessage(p, s.Body()); err != nil {
				return err
			}
		}
	}
}

func fatalReadError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, layer.ErrTruncatedFrame) ||
		errors.Is(err, layer.ErrMalformedHeader) ||
		errors.Is(err, layer.ErrOversizedPacket) ||
		errors.Is(err, layer.ErrUndersizedPacket)
}

// writeLoop sends queued frames in order until ctx is canceled or a write
// fails.
func (p *Peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-p.sendMsg:
			if err := p.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends data to the connection with a deadline.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the error is suppressed and writing continues.
func (p *Peer) write(data []byte) error {
	if p.opts.idleTimeout > 0 {
		_ = p.rawConn.SetWriteDeadline(time.Now().Add(p.opts.idleTimeout))
	}

	_, err := p.rawConn.Write(data)

	if err != nil {
		p.logger.Debug("write error", "addr", p.Addr(), "error", errText(err))
		if p.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closeConn marks the peer as closed and closes the underlying TCP connection.
func (p *Peer) closeConn() {
	p.closed.Store(true)
	_ = p.rawConn.Close()
}
