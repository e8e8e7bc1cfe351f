package msgsocket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, gen uint64) (*tcpTransport, <-chan event) {
	t.Helper()

	opts := options{onNotification: func(Notification) {}, shutdownTimeout: time.Second}
	require.NoError(t, checkOptions(&opts))

	events := make(chan event, 16)
	tr := newTCPTransport(gen, func(ev event) { events <- ev }, &opts, newConnectBreaker(*opts.breaker))
	t.Cleanup(tr.close)
	return tr, events
}

func nextEvent(t *testing.T, events <-chan event) event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestTransportResolveLiteral(t *testing.T) {
	tr, events := newTestTransport(t, 4)

	tr.resolve("127.0.0.1", "5678")
	ev, ok := nextEvent(t, events).(resolveDone)
	require.True(t, ok)
	require.NoError(t, ev.err)
	assert.Equal(t, uint64(4), ev.generation())
	require.Len(t, ev.endpoints, 1)
	assert.Equal(t, "127.0.0.1:5678", ev.endpoints[0].String())
}

func TestTransportResolveUnknownService(t *testing.T) {
	tr, events := newTestTransport(t, 1)

	tr.resolve("127.0.0.1", "no-such-service-here")
	ev := nextEvent(t, events).(resolveDone)
	assert.Error(t, ev.err)
}

func TestTransportConnectAndExchange(t *testing.T) {
	serverConn := make(chan *net.TCPConn, 1)
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.AcceptTCP()
		if err == nil {
			serverConn <- c
		}
	}()

	tr, events := newTestTransport(t, 1)
	tr.connect([]*net.TCPAddr{l.Addr().(*net.TCPAddr)})
	done := nextEvent(t, events).(connectDone)
	require.NoError(t, done.err)

	remote := <-serverConn
	defer remote.Close()

	tr.write(7, textFrame(t, "ping"))
	wd := nextEvent(t, events).(writeDone)
	assert.Equal(t, MessageID(7), wd.id)
	assert.NoError(t, wd.err)
	_ = remote.SetReadDeadline(time.Now().Add(waitTimeout))
	assert.Equal(t, "ping", readText(t, remote))

	_, err = remote.Write(textFrame(t, "pong"))
	require.NoError(t, err)
	tr.readHeader()
	hr := nextEvent(t, events).(headerRead)
	require.NoError(t, hr.err)
	assert.Equal(t, header(8), hr.header)

	tr.readBody(8)
	br := nextEvent(t, events).(bodyRead)
	require.NoError(t, br.err)
	assert.Equal(t, 8, br.body.Size())
}

func TestTransportWriteAfterClose(t *testing.T) {
	tr, events := newTestTransport(t, 2)
	tr.close()

	tr.write(3, []byte{0x80, 0x00, 0x04, 0x00})
	ev := nextEvent(t, events).(writeDone)
	assert.Equal(t, MessageID(3), ev.id)
	assert.ErrorIs(t, ev.err, ErrConnectionClosed)
	assert.Equal(t, uint64(2), ev.generation())
}

func TestTransportCloseCancelsRead(t *testing.T) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.AcceptTCP()
		if err == nil {
			defer c.Close()
			time.Sleep(waitTimeout)
		}
	}()

	tr, events := newTestTransport(t, 1)
	tr.connect([]*net.TCPAddr{l.Addr().(*net.TCPAddr)})
	require.NoError(t, nextEvent(t, events).(connectDone).err)

	tr.readHeader()
	start := time.Now()
	tr.close()
	assert.Less(t, time.Since(start), time.Second)

	ev := nextEvent(t, events).(headerRead)
	assert.Error(t, ev.err)
}

func TestConnectBreakerIgnoresCancellation(t *testing.T) {
	cb := newConnectBreaker(*defaultBreakerSettings(1, time.Minute))

	_, err := cb.Execute(func() (*net.TCPConn, error) { return nil, context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_, err = cb.Execute(func() (*net.TCPConn, error) { return nil, ErrNoHosts })
	assert.ErrorIs(t, err, ErrNoHosts)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestDialNoEndpoints(t *testing.T) {
	tr, _ := newTestTransport(t, 1)
	_, err := tr.dial(nil)
	assert.ErrorIs(t, err, ErrNoHosts)
}
