package fileshare

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestSharedListsRegularFilesSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.mp3", []byte("bbb"))
	writeFile(t, dir, "a.mp3", []byte("a"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writeFile(t, filepath.Join(dir, "nested"), "c.mp3", []byte("c"))

	shared := NewShared(dir, slogt.New(t))

	assert.Equal(t, []string{"a.mp3", "b.mp3"}, shared.Items())
	f, ok := shared.Lookup("b.mp3")
	require.True(t, ok)
	assert.Equal(t, int64(3), f.Info.Size, "size falls back to stat when metadata is unreadable")
}

func TestSharedOpen(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.mp3", []byte("payload"))
	shared := NewShared(dir, slogt.New(t))

	tests := []struct {
		name     string
		item     string
		want     string
		notFound bool
	}{
		{name: "exact match", item: "x.mp3", want: "payload"},
		{name: "case differs", item: "X.mp3", notFound: true},
		{name: "missing", item: "y.mp3", notFound: true},
		{name: "path outside share", item: "../x.mp3", notFound: true},
		{name: "empty", item: "", notFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, size, err := shared.Open(tt.item)
			if tt.notFound {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.True(t, errors.Is(err, fs.ErrNotExist))
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
			assert.Equal(t, int64(len(tt.want)), size)
		})
	}
}

func TestSharedMissingDir(t *testing.T) {
	shared := NewShared(filepath.Join(t.TempDir(), "absent"), slogt.New(t))
	assert.Empty(t, shared.Items())
	assert.Error(t, shared.Refresh())
}

func TestSharedRefreshPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	shared := NewShared(dir, slogt.New(t))
	assert.Empty(t, shared.Items())

	writeFile(t, dir, "new.mp3", []byte("n"))
	require.NoError(t, shared.Refresh())
	assert.Equal(t, []string{"new.mp3"}, shared.Items())
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Daft Punk - One More Time.mp3", nil)
	writeFile(t, dir, "Daft Punk - Live.flac", nil)
	writeFile(t, dir, "Other.mp3", nil)
	shared := NewShared(dir, slogt.New(t))

	tests := []struct {
		query string
		want  []string
	}{
		{"daft", []string{"Daft Punk - Live.flac", "Daft Punk - One More Time.mp3"}},
		{"daft -live", []string{"Daft Punk - One More Time.mp3"}},
		{"mp3", []string{"Daft Punk - One More Time.mp3", "Other.mp3"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []string
			for _, f := range shared.Search(tt.query) {
				got = append(got, f.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
