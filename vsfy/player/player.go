package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
)

// Consumer drains a transfer stream as it arrives.
type Consumer interface {
	Consume(ctx context.Context, item string, r io.Reader) error
}

const (
	ModeFile    = "file"
	ModeCommand = "command"
	ModeDiscard = "discard"
)

// New builds the consumer for a configured mode.
func New(mode, command, downloadsDir string, logger *slog.Logger) (Consumer, error) {
	switch mode {
	case ModeFile:
		return &FileSink{Dir: downloadsDir, logger: logger}, nil
	case ModeCommand:
		args := strings.Fields(command)
		if len(args) == 0 {
			return nil, errors.New("player command is empty")
		}
		return &CommandPlayer{Args: args, Stdout: os.Stdout, Stderr: os.Stderr, logger: logger}, nil
	case ModeDiscard:
		return &Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown player mode %q", mode)
	}
}

// CommandPlayer pipes the stream into the stdin of an external decoder,
// e.g. "mpg123 -q -". Playback starts with the first bytes.
type CommandPlayer struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	logger *slog.Logger
}

func NewCommandPlayer(args []string, logger *slog.Logger) *CommandPlayer {
	return &CommandPlayer{Args: args, Stdout: os.Stdout, Stderr: os.Stderr, logger: logger}
}

func (p *CommandPlayer) Consume(ctx context.Context, item string, r io.Reader) error {
	cmd := exec.CommandContext(ctx, p.Args[0], p.Args[1:]...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player %q: %w", p.Args[0], err)
	}
	if p.logger != nil {
		p.logger.Info("Playing", "item", item, "player", p.Args[0], "pid", cmd.Process.Pid)
	}

	_, copyErr := io.Copy(stdin, r)
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("player %q failed: %w", p.Args[0], err)
	}
	// the player may exit on its own before the stream ends
	if copyErr != nil && !errors.Is(copyErr, os.ErrClosed) && !errors.Is(copyErr, syscall.EPIPE) {
		return copyErr
	}
	return nil
}

// FileSink saves each item under Dir using its base name. The file only
// appears once the whole stream has been written.
type FileSink struct {
	Dir    string
	logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	return &FileSink{Dir: dir, logger: logger}
}

// Path is where item is saved.
func (s *FileSink) Path(item string) string {
	return filepath.Join(s.Dir, filepath.Base(filepath.Clean("/"+item)))
}

func (s *FileSink) Consume(_ context.Context, item string, r io.Reader) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create downloads dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", item, err)
	}

	path := s.Path(item)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("Saved download", "item", item, "path", path, "bytes", n)
	}
	return nil
}

// Discard drains the stream and counts the bytes.
type Discard struct {
	bytes atomic.Int64
}

func (d *Discard) Consume(_ context.Context, _ string, r io.Reader) error {
	n, err := io.Copy(io.Discard, r)
	d.bytes.Add(n)
	return err
}

func (d *Discard) Bytes() int64 {
	return d.bytes.Load()
}
