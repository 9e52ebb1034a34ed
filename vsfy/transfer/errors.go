package transfer

import "errors"

var (
	// ErrNotFound means the peer closed the connection without sending any
	// payload or sentinel: it does not hold the item.
	ErrNotFound = errors.New("peer does not have the item")
	// ErrConnectionClosed means payload arrived but the connection ended
	// before END_OF_SONG.
	ErrConnectionClosed = errors.New("transfer connection closed before end of stream")
)
