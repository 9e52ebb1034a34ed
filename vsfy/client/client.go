package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"vsfy/vsfy/shared"
	"vsfy/vsfy/transfer"
)

type Options struct {
	Host            string
	Port            int
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	// TransferAddr is where the transfer server binds, e.g. ":0".
	TransferAddr string
}

// Client holds the single directory connection of a process, the transfer
// server that serves its catalog, and the fetcher used to download from
// other peers.
type Client struct {
	Host             string
	Port             int
	ServerConnection *shared.Connection
	Identity         *shared.ClientIdentity
	TransferServer   *transfer.Server
	Fetcher          *transfer.Fetcher

	router          *Router
	dialTimeout     time.Duration
	responseTimeout time.Duration
	transferAddr    string
	logger          *slog.Logger

	done        chan struct{}
	serveCancel context.CancelFunc
	serveDone   chan error
	closeOnce   sync.Once
}

// NewClient wires a client. server and fetcher may be nil for a client that
// only talks to the directory.
func NewClient(opts Options, identity *shared.ClientIdentity, server *transfer.Server, fetcher *transfer.Fetcher, logger *slog.Logger) *Client {
	return &Client{
		Host:            opts.Host,
		Port:            opts.Port,
		Identity:        identity,
		TransferServer:  server,
		Fetcher:         fetcher,
		router:          NewRouter(logger),
		dialTimeout:     opts.DialTimeout,
		responseTimeout: opts.ResponseTimeout,
		transferAddr:    opts.TransferAddr,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// Connect dials the directory, starts the router, registers the identity and
// then brings up the transfer server and announces its port. Dial failures
// are returned before any protocol traffic.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to dial directory %s: %w", addr, err)
	}
	c.Attach(conn)
	c.logger.Info("Established connection to directory", "addr", addr)

	if err := c.Register(c.Identity); err != nil {
		c.Close()
		return err
	}

	if c.TransferServer == nil {
		return nil
	}
	port, err := c.TransferServer.Listen(c.transferAddr)
	if err != nil {
		c.Close()
		return err
	}
	c.Identity.SetPort(port)

	serveCtx, cancel := context.WithCancel(context.Background())
	c.serveCancel = cancel
	c.serveDone = make(chan error, 1)
	go func() { c.serveDone <- c.TransferServer.Serve(serveCtx) }()

	if err := c.AnnouncePort(c.Identity.Name, port); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Attach adopts an established directory connection and starts the router
// loop on it.
func (c *Client) Attach(conn net.Conn) {
	c.ServerConnection = shared.NewConnection(conn)
	go c.ListenForServerMessages()
}

// Done is closed once the directory connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Router exposes the response router of the directory connection.
func (c *Client) Router() *Router {
	return c.router
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.serveCancel != nil {
			c.serveCancel()
			if serveErr := <-c.serveDone; serveErr != nil {
				err = serveErr
			}
		}
		if c.ServerConnection != nil {
			if closeErr := c.ServerConnection.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = errors.Join(err, closeErr)
			}
			<-c.done
		}
		c.logger.Info("Connection closed")
	})
	return err
}

// Fetch resolves item through the directory and downloads it from the
// holding peer into consumer.
func (c *Client) Fetch(ctx context.Context, item string, consumer transfer.Consumer) (transfer.Result, error) {
	if c.Fetcher == nil {
		return transfer.Result{}, errors.New("client has no fetcher")
	}
	peer, err := c.RequestPeerFor(ctx, item)
	if err != nil {
		return transfer.Result{Item: item}, fmt.Errorf("no peer for %q: %w", item, err)
	}
	return c.Fetcher.Fetch(ctx, *peer, item, consumer)
}
