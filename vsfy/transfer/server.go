package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vsfy/vsfy/messages"
	"vsfy/vsfy/metrics"
	"vsfy/vsfy/uploads"
)

// Catalog resolves a requested item to its content. Missing items must
// produce an error matching fs.ErrNotExist.
type Catalog interface {
	Open(name string) (io.ReadCloser, int64, error)
}

type ServerConfig struct {
	RequestTimeout time.Duration
	AckTimeout     time.Duration
	// UploadRate caps payload bytes per second per session. 0 is unlimited.
	UploadRate int
}

// Server accepts peer connections and streams one catalog item per
// connection, followed by END_OF_SONG.
type Server struct {
	catalog  Catalog
	uploads  *uploads.UploadManager
	config   ServerConfig
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewServer(catalog Catalog, uploadManager *uploads.UploadManager, config ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		catalog: catalog,
		uploads: uploadManager,
		config:  config,
		logger:  logger,
	}
}

// Listen binds addr and returns the bound port. Port 0 picks an ephemeral
// port.
func (s *Server) Listen(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("Transfer server listening", "addr", listener.Addr().String())
	return s.Port(), nil
}

func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until ctx is done or the listener is closed.
// Every session runs on its own goroutine; Serve waits for them on return.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("transfer server is not listening")
	}
	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("Temporary accept error", "err", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	upload := s.uploads.CreateUpload(conn.RemoteAddr().String())
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in transfer session", "error", r)
			s.uploads.SetError(upload, fmt.Sprint(r))
			metrics.Sessions.WithLabelValues("serve", string(uploads.UploadFailed)).Inc()
		}
		conn.Close()
	}()
	// a peer that stops reading must not hold up shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	outcome := s.serve(ctx, conn, upload)
	metrics.Sessions.WithLabelValues("serve", string(outcome)).Inc()
}

func (s *Server) serve(ctx context.Context, conn net.Conn, upload *uploads.Upload) uploads.UploadStatus {
	s.uploads.AwaitingRequest(upload)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.RequestTimeout))

	lr := messages.NewLineReader(conn)
	item, err := lr.ReadLine()
	if err != nil {
		s.uploads.SetError(upload, fmt.Sprintf("failed to read request: %v", err))
		return uploads.UploadFailed
	}

	content, size, err := s.catalog.Open(item)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.uploads.NotFound(upload, item)
			return uploads.UploadNotFound
		}
		s.uploads.SetError(upload, fmt.Sprintf("failed to open %q: %v", item, err))
		return uploads.UploadFailed
	}
	defer content.Close()

	s.uploads.Streaming(upload, item, size)
	_ = conn.SetReadDeadline(time.Time{})

	var w io.Writer = &progressWriter{w: conn, onWrite: func(n int) {
		upload.AddProgress(int64(n))
		metrics.BytesServed.Add(float64(n))
	}}
	if s.config.UploadRate > 0 {
		w = newThrottledWriter(ctx, w, s.config.UploadRate)
	}
	if _, err := io.Copy(w, content); err != nil {
		s.uploads.SetError(upload, fmt.Sprintf("failed to stream %q: %v", item, err))
		return uploads.UploadFailed
	}
	if _, err := conn.Write(sentinel); err != nil {
		s.uploads.SetError(upload, fmt.Sprintf("failed to write end of stream: %v", err))
		return uploads.UploadFailed
	}

	s.uploads.Completed(upload, s.awaitAck(conn, lr))
	return uploads.UploadCompleted
}

// awaitAck waits briefly for the receiver's ACK. Its absence does not fail
// the session.
func (s *Server) awaitAck(conn net.Conn, lr *messages.LineReader) bool {
	_ = conn.SetReadDeadline(time.Now().Add(s.config.AckTimeout))
	line, err := lr.ReadLine()
	if err != nil {
		s.logger.Debug("No acknowledgment from peer", "peer", conn.RemoteAddr().String(), "err", err)
		return false
	}
	return line == messages.Ack
}

type progressWriter struct {
	w       io.Writer
	onWrite func(n int)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.onWrite(n)
	}
	return n, err
}

// throttledWriter paces writes with a token bucket of one second's worth of
// bytes. Writes go out in slices of 1/50 s so the gaps a receiver sees stay
// far below its settle window.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
	slice   int
}

func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSecond int) *throttledWriter {
	return &throttledWriter{
		ctx:     ctx,
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
		slice:   max(1, bytesPerSecond/50),
	}
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), tw.slice)
		if err := tw.limiter.WaitN(tw.ctx, n); err != nil {
			return written, err
		}
		m, err := tw.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
