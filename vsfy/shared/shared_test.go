package shared

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerAddressString(t *testing.T) {
	assert.Equal(t, "10.0.0.2:4100", PeerAddress{Host: "10.0.0.2", Port: 4100}.String())
	assert.Equal(t, "[::1]:4100", PeerAddress{Host: "::1", Port: 4100}.String())
}

func TestClientIdentity(t *testing.T) {
	items := []string{"a.mp3"}
	id := NewClientIdentity("alice", items)
	items[0] = "mutated"

	assert.Equal(t, []string{"a.mp3"}, id.Catalog())
	assert.Equal(t, 0, id.Port())
	id.SetPort(4100)
	assert.Equal(t, 4100, id.Port())
}

func TestSendMessageNotEstablished(t *testing.T) {
	var conn *Connection
	assert.Error(t, conn.SendMessage([]byte("LIST_MUSIC\n")))
	assert.Error(t, (&Connection{}).SendMessage([]byte("LIST_MUSIC\n")))
}

func TestSendMessageDoesNotInterleave(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(client)

	const writers = 20
	line := "REGISTER alice 0 " + strings.Repeat("x.mp3 ", 50)

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.SendMessage([]byte(line+"\n")))
		}()
	}

	scanner := bufio.NewScanner(server)
	for range writers {
		require.True(t, scanner.Scan())
		assert.Equal(t, line, scanner.Text())
	}
	wg.Wait()
	client.Close()
}
