package messages

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single directory or request line.
const MaxLineLength = 64 * 1024

// ErrLineTooLong is returned for a line over MaxLineLength. The rest of the
// line has been consumed, so the next ReadLine starts on the following line.
var ErrLineTooLong = errors.New("line too long")

// LineReader reads newline-terminated lines, trimming the terminator and a
// trailing carriage return.
type LineReader struct {
	r *bufio.Reader
}

func NewLineReader(r io.Reader) *LineReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &LineReader{r: br}
	}
	return &LineReader{r: bufio.NewReader(r)}
}

// ReadLine returns the next line. A final line without terminator is returned
// with a nil error; io.EOF is returned only when nothing is left.
func (lr *LineReader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if sb.Len()+len(chunk) > MaxLineLength {
			if isPrefix {
				if err := lr.skipLine(); err != nil && err != io.EOF {
					return "", err
				}
			}
			return "", fmt.Errorf("%w: exceeds %d bytes", ErrLineTooLong, MaxLineLength)
		}
		sb.Write(chunk)
		if !isPrefix {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
	}
}

func (lr *LineReader) skipLine() error {
	for {
		_, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			return err
		}
		if !isPrefix {
			return nil
		}
	}
}

// Buffered exposes the underlying reader so callers can switch to raw bytes
// without losing anything already buffered.
func (lr *LineReader) Buffered() *bufio.Reader {
	return lr.r
}

// MessageReader walks the tokens of a single inbound line. It never validates
// the line: missing tokens read as empty values.
type MessageReader struct {
	Line   string
	tokens []string
	pos    int
}

func NewMessageReader(line string) *MessageReader {
	return &MessageReader{
		Line:   line,
		tokens: strings.Fields(line),
	}
}

// Prefix is the first whitespace-delimited token of the line.
func (mr *MessageReader) Prefix() string {
	if len(mr.tokens) == 0 {
		return ""
	}
	return mr.tokens[0]
}

func (mr *MessageReader) Tokens() []string {
	return mr.tokens
}

func (mr *MessageReader) ReadString() string {
	if mr.pos >= len(mr.tokens) {
		return ""
	}
	s := mr.tokens[mr.pos]
	mr.pos++
	return s
}

func (mr *MessageReader) ReadInt() (int, error) {
	s := mr.ReadString()
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer token %q: %w", s, err)
	}
	return n, nil
}

// Rest returns the remaining tokens joined by single spaces.
func (mr *MessageReader) Rest() string {
	if mr.pos >= len(mr.tokens) {
		return ""
	}
	rest := strings.Join(mr.tokens[mr.pos:], " ")
	mr.pos = len(mr.tokens)
	return rest
}

// HasPrefix reports whether line starts with prefix. The empty prefix matches
// every line.
func HasPrefix(line, prefix string) bool {
	return strings.HasPrefix(line, prefix)
}

// ParsePeerAddress decodes "PEER_ADDRESS <ip> <port>".
func ParsePeerAddress(line string) (host string, port int, err error) {
	mr := NewMessageReader(line)
	if mr.ReadString() != PeerAddressPrefix {
		return "", 0, fmt.Errorf("not a %s line: %q", PeerAddressPrefix, line)
	}
	host = mr.ReadString()
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", line)
	}
	port, err = mr.ReadInt()
	if err != nil {
		return "", 0, err
	}
	if port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("port out of range in %q", line)
	}
	return strings.Trim(host, "[]"), port, nil
}
