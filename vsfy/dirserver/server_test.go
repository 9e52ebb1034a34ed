package dirserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsfy/vsfy/messages"
)

func startDirectory(t *testing.T) (*Server, string) {
	t.Helper()
	srv := New(slogt.New(t))
	port, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return srv, net.JoinHostPort("127.0.0.1", itoa(port))
}

type rawClient struct {
	conn net.Conn
	lr   *messages.LineReader
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawClient{conn: conn, lr: messages.NewLineReader(conn)}
}

func (c *rawClient) send(t *testing.T, msg []byte) {
	t.Helper()
	_, err := c.conn.Write(msg)
	require.NoError(t, err)
}

func (c *rawClient) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.lr.ReadLine()
	require.NoError(t, err)
	return line
}

func TestDirectoryProtocol(t *testing.T) {
	srv, addr := startDirectory(t)

	alice := dialRaw(t, addr)
	alice.send(t, messages.NewServerMessageBuilder().Register("alice", 0, []string{"x.mp3", "y.mp3"}))
	alice.send(t, messages.NewServerMessageBuilder().UpdatePort("alice", 5000))

	bob := dialRaw(t, addr)
	bob.send(t, messages.NewServerMessageBuilder().Register("bob", 6000, []string{"y.mp3"}))

	require.Eventually(t, func() bool { return len(srv.Clients()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, srv.Clients())

	bob.send(t, messages.NewServerMessageBuilder().ListMusic())
	assert.Equal(t, "x.mp3 (alice)", bob.read(t))
	assert.Equal(t, "y.mp3 (alice)", bob.read(t))
	assert.Equal(t, "y.mp3 (bob)", bob.read(t))
	assert.Equal(t, "END_OF_LIST", bob.read(t))

	// unknown client and unknown item produce no line at all
	bob.send(t, messages.NewServerMessageBuilder().Info("carol"))
	bob.send(t, messages.NewServerMessageBuilder().RequestSong("z.mp3"))
	bob.send(t, messages.NewServerMessageBuilder().Info("alice"))
	assert.Equal(t, "Client: alice ip=127.0.0.1 port=5000 items=2", bob.read(t))

	// first registered holder wins
	bob.send(t, messages.NewServerMessageBuilder().RequestSong("y.mp3"))
	assert.Equal(t, "PEER_ADDRESS 127.0.0.1 5000", bob.read(t))

	require.NoError(t, alice.conn.Close())
	require.Eventually(t, func() bool { return len(srv.Clients()) == 1 }, 2*time.Second, 10*time.Millisecond)

	bob.send(t, messages.NewServerMessageBuilder().RequestSong("y.mp3"))
	assert.Equal(t, "PEER_ADDRESS 127.0.0.1 6000", bob.read(t))
}

func TestDirectoryEmptyList(t *testing.T) {
	_, addr := startDirectory(t)

	c := dialRaw(t, addr)
	c.send(t, messages.NewServerMessageBuilder().ListMusic())
	assert.Equal(t, "END_OF_LIST", c.read(t))
}

func TestDirectorySkipsHoldersWithoutPort(t *testing.T) {
	_, addr := startDirectory(t)

	c := dialRaw(t, addr)
	c.send(t, messages.NewServerMessageBuilder().Register("alice", 0, []string{"x.mp3"}))
	c.send(t, messages.NewServerMessageBuilder().RequestSong("x.mp3"))
	c.send(t, messages.NewServerMessageBuilder().UpdatePort("alice", 7000))
	c.send(t, messages.NewServerMessageBuilder().RequestSong("x.mp3"))
	assert.Equal(t, "PEER_ADDRESS 127.0.0.1 7000", c.read(t))
}
