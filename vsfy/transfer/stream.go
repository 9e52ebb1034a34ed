package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"vsfy/vsfy/messages"
)

var sentinel = messages.Line(messages.EndOfSong)

type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Stream exposes the payload of a transfer connection and hides the trailing
// END_OF_SONG sentinel. The sentinel is in-band, so a candidate sentinel is
// only accepted once no further bytes arrive within the settle window; bytes
// that do arrive prove the candidate was payload.
//
// A connection that ends without the sentinel is never reported to the reader
// as io.EOF: it gets ErrNotFound when no payload arrived and
// ErrConnectionClosed otherwise, so a consumer cannot mistake a cut transfer
// for a complete one.
type Stream struct {
	r      deadlineReader
	settle time.Duration
	buf    []byte
	window []byte // read but not yet classified
	ready  []byte // classified as payload, not yet handed out

	bytes    int64
	sentinel bool
	done     bool
	err      error // connection side
	readErr  error // what Read reports once the payload is drained

	// OnProgress observes payload bytes as they are handed to the reader.
	OnProgress func(n int)
}

func NewStream(r deadlineReader, settle time.Duration) *Stream {
	return &Stream{
		r:      r,
		settle: settle,
		buf:    make([]byte, 32*1024),
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	for len(s.ready) == 0 {
		if s.done {
			return 0, s.readErr
		}
		s.fill()
	}
	n := copy(p, s.ready)
	s.ready = s.ready[n:]
	s.bytes += int64(n)
	if s.OnProgress != nil {
		s.OnProgress(n)
	}
	return n, nil
}

// Bytes is the number of payload bytes handed out so far.
func (s *Stream) Bytes() int64 {
	return s.bytes
}

// SentinelSeen reports whether the transfer ended with END_OF_SONG.
func (s *Stream) SentinelSeen() bool {
	return s.sentinel
}

// Done reports whether the connection side of the stream has ended.
func (s *Stream) Done() bool {
	return s.done
}

// Err is the terminal error of the connection side: io.EOF after the
// sentinel or an orderly close, the read error otherwise.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) fill() {
	n, err := s.r.Read(s.buf)
	s.window = append(s.window, s.buf[:n]...)
	if err != nil {
		if bytes.HasSuffix(s.window, sentinel) {
			s.finish(len(s.window)-len(sentinel), true, io.EOF)
			return
		}
		s.finish(len(s.window), false, err)
		return
	}

	for bytes.HasSuffix(s.window, sentinel) {
		if s.confirmEnd() {
			s.finish(len(s.window)-len(sentinel), true, io.EOF)
			return
		}
	}
	s.release(len(s.window) - heldBack(s.window))
}

// confirmEnd waits one settle window for more bytes. More bytes are appended
// to the window and mean the candidate sentinel was payload.
func (s *Stream) confirmEnd() bool {
	_ = s.r.SetReadDeadline(time.Now().Add(s.settle))
	n, err := s.r.Read(s.buf)
	_ = s.r.SetReadDeadline(time.Time{})
	if n > 0 {
		s.window = append(s.window, s.buf[:n]...)
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// closed or reset right after the sentinel: the sentinel stands
	return err != nil
}

func (s *Stream) release(n int) {
	s.ready = append(s.ready, s.window[:n]...)
	s.window = append(s.window[:0], s.window[n:]...)
}

func (s *Stream) finish(payload int, sentinelSeen bool, err error) {
	s.release(payload)
	s.window = nil
	s.sentinel = sentinelSeen
	s.done = true
	s.err = err
	s.readErr = truncationErr(sentinelSeen, s.bytes+int64(len(s.ready)), err)
}

func truncationErr(sentinelSeen bool, payload int64, err error) error {
	switch {
	case sentinelSeen:
		return io.EOF
	case payload == 0 && errors.Is(err, io.EOF):
		return ErrNotFound
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, io.ErrUnexpectedEOF)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
}

// heldBack is the length of the longest window suffix that could be the
// start of the sentinel.
func heldBack(window []byte) int {
	for k := min(len(window), len(sentinel)-1); k > 0; k-- {
		if bytes.HasSuffix(window, sentinel[:k]) {
			return k
		}
	}
	return 0
}
