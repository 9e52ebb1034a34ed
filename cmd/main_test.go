package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsfy/vsfy/client"
	"vsfy/vsfy/dirserver"
)

func startDirectory(t *testing.T) int {
	t.Helper()
	srv := dirserver.New(slogt.New(t))
	port, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return port
}

func testEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VSFY_HISTORY_ENABLED", "false")
	t.Setenv("VSFY_LOGGING_OUTPUT", filepath.Join(dir, "vsfy.log"))
	t.Setenv("VSFY_CATALOG_DOWNLOADS_DIR", filepath.Join(dir, "downloads"))
	t.Setenv("VSFY_DIRECTORY_RESPONSE_TIMEOUT", "300ms")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := &CLI{input: strings.NewReader(""), output: &out}
	err := cli.Run(context.Background(), args)
	return out.String(), err
}

func TestRunWithoutCommand(t *testing.T) {
	testEnv(t)
	out, err := runCLI(t)
	require.Error(t, err)
	assert.Contains(t, out, "Usage: vsfy")
}

func TestUnknownCommand(t *testing.T) {
	testEnv(t)
	port := startDirectory(t)
	_, err := runCLI(t, "--directory-host", "127.0.0.1", "--directory-port", strconv.Itoa(port), "dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestListIncludesOwnCatalog(t *testing.T) {
	testEnv(t)
	port := startDirectory(t)

	musicDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(musicDir, "x.mp3"), []byte("abc"), 0o644))

	out, err := runCLI(t,
		"--name", "alice",
		"--directory-host", "127.0.0.1",
		"--directory-port", strconv.Itoa(port),
		"--music-dir", musicDir,
		"list",
	)
	require.NoError(t, err)
	assert.Equal(t, "x.mp3 (alice)\n", out)
}

func TestInfoUnknownClientTimesOut(t *testing.T) {
	testEnv(t)
	port := startDirectory(t)

	start := time.Now()
	_, err := runCLI(t, "--directory-host", "127.0.0.1", "--directory-port", strconv.Itoa(port), "info", "nobody")
	require.ErrorIs(t, err, client.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectRefused(t *testing.T) {
	testEnv(t)

	_, err := runCLI(t, "--directory-host", "127.0.0.1", "--directory-port", "1", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to directory")
}

func TestShellSession(t *testing.T) {
	testEnv(t)
	port := startDirectory(t)

	var out bytes.Buffer
	cli := &CLI{input: strings.NewReader("info carol\nexit\n"), output: &out}
	err := cli.Run(context.Background(), []string{
		"--name", "carol",
		"--directory-host", "127.0.0.1",
		"--directory-port", strconv.Itoa(port),
		"--music-dir", t.TempDir(),
		"run",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Client: carol ip=127.0.0.1")
	assert.Contains(t, out.String(), "Exiting client...")
}
