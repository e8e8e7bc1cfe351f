package msgsocket

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Zereker/msgsocket/layer"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// startClient creates a client whose notifications are delivered on the
// returned channel and runs it until the test ends.
func startClient(t *testing.T, opt ...Option) (*Client, <-chan Notification) {
	t.Helper()

	notes := make(chan Notification, 1024)
	opt = append(opt, OnNotificationOption(func(n Notification) { notes <- n }))
	c, err := NewClient(opt...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = c.Close()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("client worker did not stop")
		}
	})

	return c, notes
}

func next[T Notification](t *testing.T, notes <-chan Notification) T {
	t.Helper()

	select {
	case n := <-notes:
		v, ok := n.(T)
		require.True(t, ok, "got %T %+v", n, n)
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timeout waiting for %T", zero)
		return zero
	}
}

// remote is the far end of a client connection.
type remote struct {
	listener *net.TCPListener
	conn     *net.TCPConn
	reader   *bufio.Reader
}

func listenRemote(t *testing.T) *remote {
	t.Helper()

	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return &remote{listener: l}
}

func (r *remote) dest() string {
	return "127.0.0.1:" + strconv.Itoa(r.listener.Addr().(*net.TCPAddr).Port)
}

func (r *remote) accept(t *testing.T) {
	t.Helper()

	_ = r.listener.SetDeadline(time.Now().Add(waitTimeout))
	conn, err := r.listener.AcceptTCP()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(waitTimeout))

	r.conn = conn
	r.reader = bufio.NewReader(conn)
}

// connectClient connects c to r and consumes the connect notifications.
func connectClient(t *testing.T, c *Client, notes <-chan Notification, r *remote) {
	t.Helper()

	require.NoError(t, c.Connect(r.dest()))
	status := next[ConnectionStatus](t, notes)
	assert.Equal(t, ConnectionStatus{State: Connecting, Reason: ReasonUserRequested, Detail: r.dest()}, status)

	r.accept(t)

	outcome := next[ConnectOutcome](t, notes)
	assert.Equal(t, ConnectOutcome{OK: true, Detail: detailConnected}, outcome)
	status = next[ConnectionStatus](t, notes)
	assert.Equal(t, Connected, status.State)
	assert.Equal(t, ReasonConnectSuccessful, status.Reason)
	assert.Equal(t, StateConnected, c.State())
}

func closedPort(t *testing.T) string {
	t.Helper()

	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return "127.0.0.1:" + strconv.Itoa(port)
}

func TestNewClient_MissingOnNotification(t *testing.T) {
	_, err := NewClient()
	assert.Equal(t, ErrInvalidOnNotification, err)
}

func TestClientSendHi(t *testing.T) {
	c, notes := startClient(t)
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	id, err := c.Send("hi")
	require.NoError(t, err)

	buf := make([]byte, 8)
	_, err = io.ReadFull(r.reader, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00, 0x08, 0x00, 0x00, 'h', 0x00, 'i'}, buf)

	assert.Equal(t, SendOutcome{ID: id, OK: true, Reason: SendOK}, next[SendOutcome](t, notes))
}

func TestClientReceive(t *testing.T) {
	c, notes := startClient(t)
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	_, err := r.conn.Write(textFrame(t, "hello"))
	require.NoError(t, err)
	assert.Equal(t, InboundMessage{Text: "hello"}, next[InboundMessage](t, notes))

	// Two frames in a single write, then one split across writes.
	both := append(textFrame(t, "one"), textFrame(t, "two")...)
	_, err = r.conn.Write(both)
	require.NoError(t, err)
	assert.Equal(t, "one", next[InboundMessage](t, notes).Text)
	assert.Equal(t, "two", next[InboundMessage](t, notes).Text)

	split := textFrame(t, "split")
	_, err = r.conn.Write(split[:3])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = r.conn.Write(split[3:])
	require.NoError(t, err)
	assert.Equal(t, "split", next[InboundMessage](t, notes).Text)
}

func TestClientPeerCloses(t *testing.T) {
	c, notes := startClient(t)
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	require.NoError(t, r.conn.Close())

	status := next[ConnectionStatus](t, notes)
	assert.Equal(t, ConnectionStatus{State: Disconnected, Reason: ReasonSocketClosed, Detail: detailPeerClosed}, status)
	assert.Eventually(t, func() bool { return c.State() == StateIdle }, waitTimeout, 5*time.Millisecond)

	id, err := c.Send("late")
	require.NoError(t, err)
	assert.Equal(t, SendOutcome{ID: id, Reason: SendNotConnected, Detail: detailNotConnected}, next[SendOutcome](t, notes))

	// Exactly one disconnection is reported.
	select {
	case n := <-notes:
		t.Fatalf("unexpected notification %T %+v", n, n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientConnectRefused(t *testing.T) {
	c, notes := startClient(t, DialTimeoutOption(time.Second))

	dest := closedPort(t)
	require.NoError(t, c.Connect(dest))
	next[ConnectionStatus](t, notes)

	outcome := next[ConnectOutcome](t, notes)
	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.Detail)

	status := next[ConnectionStatus](t, notes)
	assert.Equal(t, Disconnected, status.State)
	assert.Equal(t, ReasonConnectFailed, status.Reason)
	assert.Equal(t, outcome.Detail, status.Detail)
	assert.Equal(t, StateIdle, c.State())
}

func TestClientInvalidDestination(t *testing.T) {
	c, notes := startClient(t)

	for _, dest := range []string{"nocolon", "a:b:c", ":80", "host:"} {
		require.NoError(t, c.Connect(dest))
		// Reported before Connect returns.
		require.Len(t, notes, 1, "dest %q", dest)
		assert.Equal(t, ConnectOutcome{Detail: ErrInvalidDestination.Error()}, <-notes)
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestClientSendOrder(t *testing.T) {
	c, notes := startClient(t)
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	const n = 50
	ids := make([]MessageID, n)
	for i := range ids {
		var err error
		ids[i], err = c.Send("message " + strconv.Itoa(i))
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		assert.Equal(t, "message "+strconv.Itoa(i), readText(t, r.reader))
	}
	for i := 0; i < n; i++ {
		outcome := next[SendOutcome](t, notes)
		assert.Equal(t, ids[i], outcome.ID)
		assert.True(t, outcome.OK)
	}
}

func TestClientDisconnect(t *testing.T) {
	c, notes := startClient(t)
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, ConnectionStatus{State: Disconnected, Reason: ReasonUserRequested}, next[ConnectionStatus](t, notes))

	// The remote side sees the stream end.
	_, err := r.reader.ReadByte()
	assert.Error(t, err)

	// And the client can connect again.
	connectClient(t, c, notes, r)
}

func TestClientOversizedInbound(t *testing.T) {
	c, notes := startClient(t, MaxFrameSizeOption(64))
	r := listenRemote(t)
	connectClient(t, c, notes, r)

	_, err := r.conn.Write([]byte{0x80, 0x01, 0x00, 0x00})
	require.NoError(t, err)

	status := next[ConnectionStatus](t, notes)
	assert.Equal(t, Disconnected, status.State)
	assert.Equal(t, ReasonSocketClosed, status.Reason)
	assert.Contains(t, status.Detail, layer.ErrOversizedPacket.Error())
}

func TestClientBreakerOpens(t *testing.T) {
	c, notes := startClient(t, BreakerOption(*defaultBreakerSettings(1, time.Minute)))

	dest := closedPort(t)
	require.NoError(t, c.Connect(dest))
	next[ConnectionStatus](t, notes)
	first := next[ConnectOutcome](t, notes)
	assert.False(t, first.OK)
	next[ConnectionStatus](t, notes)

	require.NoError(t, c.Connect(dest))
	next[ConnectionStatus](t, notes)
	second := next[ConnectOutcome](t, notes)
	assert.False(t, second.OK)
	assert.Equal(t, gobreaker.ErrOpenState.Error(), second.Detail)
}

func TestClientClose(t *testing.T) {
	notes := make(chan Notification, 16)
	c, err := NewClient(OnNotificationOption(func(n Notification) { notes <- n }))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	r := listenRemote(t)
	connectClient(t, c, notes, r)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, ConnectionStatus{State: Disconnected, Reason: ReasonUserRequested}, next[ConnectionStatus](t, notes))

	_, err = c.Send("x")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Connect(r.dest()), ErrClientClosed)
	assert.ErrorIs(t, c.Disconnect(), ErrClientClosed)
	assert.ErrorIs(t, c.Run(context.Background()), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestClientRunContextCanceled(t *testing.T) {
	c, err := NewClient(OnNotificationOption(func(Notification) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}

	_, err = c.Send("x")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClientMessageIDsIncrease(t *testing.T) {
	c, notes := startClient(t)

	var last MessageID
	for i := 0; i < 5; i++ {
		id, err := c.Send("x")
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
		next[SendOutcome](t, notes)
	}
}
