package client

import (
	"errors"
	"io"
	"net"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/metrics"
)

// Listen is the only reader of the directory connection. It dispatches every
// line until the stream ends, then closes the router. Oversized lines are
// skipped like unclaimed ones.
func (r *Router) Listen(src io.Reader) {
	lr := messages.NewLineReader(src)
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, messages.ErrLineTooLong) {
			metrics.UnclaimedLines.Inc()
			r.logger.Warn("Skipping oversized directory line", "err", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.Close(nil)
			} else {
				r.Close(err)
			}
			return
		}
		metrics.DirectoryLines.Inc()
		r.logger.Debug("Received directory line", "line", line)
		r.Dispatch(line)
	}
}

// ListenForServerMessages runs the router loop over the directory
// connection. When it ends the connection is closed and Done is closed.
func (c *Client) ListenForServerMessages() {
	defer close(c.done)
	c.router.Listen(c.ServerConnection)
	if err := c.ServerConnection.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("Failed to close directory connection", "err", err)
	}
}
