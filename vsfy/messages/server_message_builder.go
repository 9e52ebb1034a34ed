package messages

type ServerMessageBuilder struct {
	*MessageBuilder
}

func NewServerMessageBuilder() *ServerMessageBuilder {
	return &ServerMessageBuilder{MessageBuilder: NewMessageBuilder()}
}

func (mb *ServerMessageBuilder) Register(name string, port int, items []string) []byte {
	mb.AddString(name)
	mb.AddInt(port)
	mb.AddStrings(items)
	return mb.Build(Register)
}

func (mb *ServerMessageBuilder) UpdatePort(name string, port int) []byte {
	mb.AddString(name)
	mb.AddInt(port)
	return mb.Build(UpdatePort)
}

func (mb *ServerMessageBuilder) ListMusic() []byte {
	return mb.Build(ListMusic)
}

func (mb *ServerMessageBuilder) Info(clientID string) []byte {
	mb.AddString(clientID)
	return mb.Build(Info)
}

// RequestSong keeps the item name verbatim (spaces included) as the rest of
// the line, matching how the directory reads it.
func (mb *ServerMessageBuilder) RequestSong(item string) []byte {
	mb.AddString(item)
	return mb.Build(RequestSong)
}
