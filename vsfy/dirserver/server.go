package dirserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/shared"
)

// registration is what one connection has told the directory about itself.
type registration struct {
	conn  *shared.Connection
	name  string
	ip    string
	port  int
	items []string
}

// Server is an in-memory directory. Registrations live as long as the
// connection that made them.
type Server struct {
	mu       sync.Mutex
	clients  []*registration // registration order
	conns    map[*registration]struct{}
	closed   bool
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func New(logger *slog.Logger) *Server {
	return &Server{
		conns:  make(map[*registration]struct{}),
		logger: logger,
	}
}

func (s *Server) Listen(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("Directory listening", "addr", listener.Addr().String())
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until ctx is done, then closes every open
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("directory is not listening")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.Close()
		s.closeAll()
	})
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	conn := shared.NewConnection(netConn)
	ip, _, _ := net.SplitHostPort(netConn.RemoteAddr().String())
	reg := &registration{conn: conn, ip: ip}
	s.mu.Lock()
	s.conns[reg] = struct{}{}
	if s.closed {
		conn.Close()
	}
	s.mu.Unlock()
	s.logger.Info("Client connected", "addr", netConn.RemoteAddr().String())

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in directory connection", "error", r)
		}
		s.unregister(reg)
		conn.Close()
		s.logger.Info("Client disconnected", "addr", netConn.RemoteAddr().String(), "name", reg.name)
	}()

	lr := messages.NewLineReader(netConn)
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, messages.ErrLineTooLong) {
			s.logger.Warn("Skipping oversized line", "addr", netConn.RemoteAddr().String())
			continue
		}
		if err != nil {
			return
		}
		if err := s.handleLine(reg, line); err != nil {
			s.logger.Warn("Failed to handle directory command", "line", line, "err", err)
		}
	}
}

func (s *Server) handleLine(reg *registration, line string) error {
	mr := messages.NewMessageReader(line)
	switch messages.Command(mr.ReadString()) {
	case messages.Register:
		name := mr.ReadString()
		port, err := mr.ReadInt()
		if err != nil {
			return err
		}
		items := slices.Clone(mr.Tokens()[min(3, len(mr.Tokens())):])
		s.register(reg, name, port, items)
		return nil
	case messages.UpdatePort:
		name := mr.ReadString()
		port, err := mr.ReadInt()
		if err != nil {
			return err
		}
		s.updatePort(reg, name, port)
		return nil
	case messages.ListMusic:
		return reg.conn.SendMessage(s.listing())
	case messages.Info:
		if resp := s.info(mr.Rest()); resp != nil {
			return reg.conn.SendMessage(resp)
		}
		return nil
	case messages.RequestSong:
		if resp := s.peerFor(mr.Rest()); resp != nil {
			return reg.conn.SendMessage(resp)
		}
		return nil
	default:
		s.logger.Debug("Ignoring unknown command", "line", line)
		return nil
	}
}

func (s *Server) register(reg *registration, name string, port int, items []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg.name = name
	reg.port = port
	reg.items = items
	if !slices.Contains(s.clients, reg) {
		s.clients = append(s.clients, reg)
	}
	s.logger.Info("Registered client", "name", name, "ip", reg.ip, "port", port, "items", len(items))
}

func (s *Server) updatePort(reg *registration, name string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c == reg || c.name == name {
			c.port = port
		}
	}
	s.logger.Info("Updated port", "name", name, "port", port)
}

func (s *Server) unregister(reg *registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = slices.DeleteFunc(s.clients, func(c *registration) bool { return c == reg })
	delete(s.conns, reg)
}

func (s *Server) listing() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msg []byte
	for _, c := range s.clients {
		for _, item := range c.items {
			msg = append(msg, messages.Line(item+" ("+c.name+")")...)
		}
	}
	return append(msg, messages.Line(messages.EndOfList)...)
}

func (s *Server) info(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.name == name {
			return messages.Line(fmt.Sprintf("%s %s ip=%s port=%d items=%d", messages.ClientInfoPrefix, c.name, c.ip, c.port, len(c.items)))
		}
	}
	return nil
}

// peerFor answers with the first registered holder whose transfer port is
// known.
func (s *Server) peerFor(item string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.port > 0 && slices.Contains(c.items, item) {
			return messages.Line(messages.PeerAddressPrefix + " " + c.ip + " " + strconv.Itoa(c.port))
		}
	}
	return nil
}

// Clients returns the registered client names in registration order.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		names = append(names, c.name)
	}
	return names
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		c.conn.Close()
	}
}
