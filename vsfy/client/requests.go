package client

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/shared"
)

var errListConsumed = errors.New("list sequence can only be consumed once")

// AwaitResponse waits for the next directory line starting with prefix. It
// fails with ErrTimeout after timeout and with ErrConnectionClosed if the
// connection dies first.
func (c *Client) AwaitResponse(ctx context.Context, prefix string, timeout time.Duration) (string, error) {
	req, err := c.router.Expect(prefix)
	if err != nil {
		return "", err
	}
	defer req.Cancel()
	return await(ctx, req, timeout)
}

func await(ctx context.Context, req *PendingRequest, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return req.Next(ctx)
}

// roundTrip registers for prefix before writing msg, so the reply cannot
// arrive ahead of its request.
func (c *Client) roundTrip(ctx context.Context, prefix string, msg []byte) (string, error) {
	req, err := c.router.Expect(prefix)
	if err != nil {
		return "", err
	}
	defer req.Cancel()
	if err := c.Send(msg); err != nil {
		return "", err
	}
	return await(ctx, req, c.responseTimeout)
}

// RequestList sends LIST_MUSIC on first iteration and yields catalog lines
// until END_OF_LIST. A timeout or closed connection is yielded as the final
// error. The sequence cannot be restarted.
func (c *Client) RequestList(ctx context.Context) iter.Seq2[string, error] {
	var started atomic.Bool
	return func(yield func(string, error) bool) {
		if !started.CompareAndSwap(false, true) {
			yield("", errListConsumed)
			return
		}

		req, err := c.router.ExpectBurst("", messages.EndOfList)
		if err != nil {
			yield("", err)
			return
		}
		defer req.Cancel()

		c.logger.Info("Sending LIST_MUSIC")
		if err := c.Send(messages.NewServerMessageBuilder().ListMusic()); err != nil {
			yield("", err)
			return
		}

		for {
			line, err := await(ctx, req, c.responseTimeout)
			if err != nil {
				yield("", err)
				return
			}
			if line == messages.EndOfList {
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

// RequestInfo returns the directory's "Client:" line for clientID.
func (c *Client) RequestInfo(ctx context.Context, clientID string) (string, error) {
	c.logger.Info("Sending INFO", "clientId", clientID)
	return c.roundTrip(ctx, messages.ClientInfoPrefix, messages.NewServerMessageBuilder().Info(clientID))
}

// RequestPeerFor asks the directory who holds item. The peer is nil whenever
// an error is returned; a directory with no holder stays silent, which
// surfaces as ErrTimeout.
func (c *Client) RequestPeerFor(ctx context.Context, item string) (*shared.PeerAddress, error) {
	c.logger.Info("Sending REQUEST_SONG", "item", item)
	line, err := c.roundTrip(ctx, messages.PeerAddressPrefix, messages.NewServerMessageBuilder().RequestSong(item))
	if err != nil {
		c.logger.Info("No peer for item", "item", item, "err", err)
		return nil, err
	}

	host, port, err := messages.ParsePeerAddress(line)
	if err != nil {
		c.logger.Warn("Malformed PEER_ADDRESS", "line", line, "err", err)
		return nil, err
	}
	c.logger.Info("Received PEER_ADDRESS", "item", item, "host", host, "port", port)
	return &shared.PeerAddress{Host: host, Port: port}, nil
}
