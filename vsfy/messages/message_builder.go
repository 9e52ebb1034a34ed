package messages

import (
	"strconv"
	"strings"
)

// Command is the verb of an outbound directory message.
type Command string

const (
	Register    Command = "REGISTER"
	ListMusic   Command = "LIST_MUSIC"
	Info        Command = "INFO"
	RequestSong Command = "REQUEST_SONG"
	UpdatePort  Command = "UPDATE_PORT"
)

// Inbound prefixes and in-band sentinels.
const (
	PeerAddressPrefix = "PEER_ADDRESS"
	ClientInfoPrefix  = "Client:"
	EndOfList         = "END_OF_LIST"
	EndOfSong         = "END_OF_SONG"
	Ack               = "ACK"
)

// MessageBuilder accumulates space-separated tokens of one line.
// Tokens are not escaped: a token containing a space becomes several tokens
// on the receiving side.
type MessageBuilder struct {
	tokens []string
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		tokens: make([]string, 0),
	}
}

func (mb *MessageBuilder) AddString(val string) {
	mb.tokens = append(mb.tokens, val)
}

func (mb *MessageBuilder) AddStrings(vals []string) {
	mb.tokens = append(mb.tokens, vals...)
}

func (mb *MessageBuilder) AddInt(val int) {
	mb.tokens = append(mb.tokens, strconv.Itoa(val))
}

// Build prefixes the tokens with the command and terminates the line.
func (mb *MessageBuilder) Build(cmd Command) []byte {
	line := string(cmd)
	if len(mb.tokens) > 0 {
		line += " " + strings.Join(mb.tokens, " ")
	}
	return []byte(line + "\n")
}

// Line terminates a raw line without a command verb.
func Line(s string) []byte {
	return []byte(s + "\n")
}
