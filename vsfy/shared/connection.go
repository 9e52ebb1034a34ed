package shared

import (
	"errors"
	"net"
	"sync"
)

// Connection serializes writes so that concurrent callers never interleave
// the bytes of two lines. Reads are not guarded: every connection has exactly
// one reader.
type Connection struct {
	net.Conn
	writeMu sync.Mutex
}

func NewConnection(conn net.Conn) *Connection {
	return &Connection{Conn: conn}
}

func (conn *Connection) SendMessage(message []byte) error {
	if conn == nil || conn.Conn == nil {
		return errors.New("connection is not established")
	}
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	_, err := conn.Write(message)
	if err != nil {
		return err
	}
	return nil
}
