package messages

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMessageBuilder(t *testing.T) {
	tests := []struct {
		name  string
		build func(mb *ServerMessageBuilder) []byte
		want  string
	}{
		{
			name:  "register with items",
			build: func(mb *ServerMessageBuilder) []byte { return mb.Register("alice", 0, []string{"x.mp3", "y.mp3"}) },
			want:  "REGISTER alice 0 x.mp3 y.mp3\n",
		},
		{
			name:  "register without items",
			build: func(mb *ServerMessageBuilder) []byte { return mb.Register("alice", 5000, nil) },
			want:  "REGISTER alice 5000\n",
		},
		{
			name:  "update port",
			build: func(mb *ServerMessageBuilder) []byte { return mb.UpdatePort("alice", 41234) },
			want:  "UPDATE_PORT alice 41234\n",
		},
		{
			name:  "list music",
			build: func(mb *ServerMessageBuilder) []byte { return mb.ListMusic() },
			want:  "LIST_MUSIC\n",
		},
		{
			name:  "info",
			build: func(mb *ServerMessageBuilder) []byte { return mb.Info("bob") },
			want:  "INFO bob\n",
		},
		{
			name:  "request song keeps spaces",
			build: func(mb *ServerMessageBuilder) []byte { return mb.RequestSong("my song.mp3") },
			want:  "REQUEST_SONG my song.mp3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.build(NewServerMessageBuilder())))
		})
	}
}

func TestLineReader(t *testing.T) {
	lr := NewLineReader(strings.NewReader("PEER_ADDRESS 1.2.3.4 5000\r\nClient: bob\n\nlast"))

	var got []string
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"PEER_ADDRESS 1.2.3.4 5000", "Client: bob", "", "last"}, got)
}

func TestLineReaderTooLong(t *testing.T) {
	lr := NewLineReader(strings.NewReader(strings.Repeat("a", MaxLineLength+6*1024) + "\nPEER_ADDRESS 1.2.3.4 5\n"))
	_, err := lr.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PEER_ADDRESS 1.2.3.4 5", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessageReader(t *testing.T) {
	mr := NewMessageReader("REGISTER alice 5000 x.mp3 y.mp3")
	assert.Equal(t, "REGISTER", mr.Prefix())
	assert.Equal(t, "REGISTER", mr.ReadString())
	assert.Equal(t, "alice", mr.ReadString())
	port, err := mr.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
	assert.Equal(t, "x.mp3 y.mp3", mr.Rest())
	assert.Equal(t, "", mr.ReadString())

	_, err = NewMessageReader("oops").ReadInt()
	assert.Error(t, err)
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("PEER_ADDRESS 1.2.3.4 1", PeerAddressPrefix))
	assert.True(t, HasPrefix("anything", ""))
	assert.False(t, HasPrefix("Client", ClientInfoPrefix))
}

func TestParsePeerAddress(t *testing.T) {
	tests := []struct {
		line     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{line: "PEER_ADDRESS 192.168.1.4 41000", wantHost: "192.168.1.4", wantPort: 41000},
		{line: "PEER_ADDRESS [::1] 41000", wantHost: "::1", wantPort: 41000},
		{line: "PEER_ADDRESS 192.168.1.4", wantErr: true},
		{line: "PEER_ADDRESS 192.168.1.4 notaport", wantErr: true},
		{line: "PEER_ADDRESS 192.168.1.4 0", wantErr: true},
		{line: "PEER_ADDRESS", wantErr: true},
		{line: "Client: bob", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			host, port, err := ParsePeerAddress(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}
