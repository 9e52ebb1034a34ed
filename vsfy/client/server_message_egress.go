package client

import (
	"fmt"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/shared"
)

func (c *Client) Send(msg []byte) error {
	if err := c.ServerConnection.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send to directory: %w", err)
	}
	return nil
}

// Register announces the identity and its catalog. The directory sends no
// reply.
func (c *Client) Register(identity *shared.ClientIdentity) error {
	mb := messages.NewServerMessageBuilder()
	msg := mb.Register(identity.Name, identity.Port(), identity.Catalog())
	c.logger.Info("Sending REGISTER",
		"name", identity.Name,
		"port", identity.Port(),
		"items", len(identity.Catalog()),
	)
	return c.Send(msg)
}

// AnnouncePort tells the directory where the transfer server listens.
func (c *Client) AnnouncePort(name string, port int) error {
	mb := messages.NewServerMessageBuilder()
	msg := mb.UpdatePort(name, port)
	c.logger.Info("Sending UPDATE_PORT", "name", name, "port", port)
	return c.Send(msg)
}
