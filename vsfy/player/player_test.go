package player

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := slogt.New(t)
	tests := []struct {
		name    string
		mode    string
		command string
		want    any
		wantErr bool
	}{
		{name: "file", mode: ModeFile, want: &FileSink{}},
		{name: "command", mode: ModeCommand, command: "mpg123 -q -", want: &CommandPlayer{}},
		{name: "discard", mode: ModeDiscard, want: &Discard{}},
		{name: "empty command", mode: ModeCommand, wantErr: true},
		{name: "unknown", mode: "speaker", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.mode, tt.command, t.TempDir(), logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	sink := NewFileSink(dir, slogt.New(t))

	require.NoError(t, sink.Consume(context.Background(), "x.mp3", strings.NewReader("abc")))

	data, err := os.ReadFile(filepath.Join(dir, "x.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSinkPathStaysInDir(t *testing.T) {
	sink := NewFileSink("/downloads", nil)
	assert.Equal(t, "/downloads/passwd", sink.Path("../../etc/passwd"))
	assert.Equal(t, "/downloads/x.mp3", sink.Path("x.mp3"))
}

func TestDiscard(t *testing.T) {
	d := &Discard{}
	require.NoError(t, d.Consume(context.Background(), "x.mp3", strings.NewReader("abcdef")))
	assert.Equal(t, int64(6), d.Bytes())
}

func TestCommandPlayer(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var out bytes.Buffer
	p := NewCommandPlayer([]string{"cat"}, slogt.New(t))
	p.Stdout = &out

	require.NoError(t, p.Consume(context.Background(), "x.mp3", strings.NewReader("abc")))
	assert.Equal(t, "abc", out.String())
}

func TestCommandPlayerFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	p := NewCommandPlayer([]string{"false"}, slogt.New(t))
	err := p.Consume(context.Background(), "x.mp3", strings.NewReader("abc"))
	require.Error(t, err)
}

func TestCommandPlayerMissingBinary(t *testing.T) {
	p := NewCommandPlayer([]string{"definitely-not-a-player-binary"}, slogt.New(t))
	err := p.Consume(context.Background(), "x.mp3", strings.NewReader("abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start player")
}
