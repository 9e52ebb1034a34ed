package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"vsfy/vsfy/downloads"
	"vsfy/vsfy/messages"
	"vsfy/vsfy/metrics"
	"vsfy/vsfy/shared"
)

// Consumer receives the payload of a transfer as it arrives. Returning
// before r reports io.EOF is allowed; the remainder is drained.
type Consumer interface {
	Consume(ctx context.Context, item string, r io.Reader) error
}

type FetcherConfig struct {
	DialTimeout  time.Duration
	SettleWindow time.Duration
}

// Result describes a finished fetch.
type Result struct {
	ID        string             `json:"id"`
	Item      string             `json:"item"`
	Peer      shared.PeerAddress `json:"peer"`
	Bytes     int64              `json:"bytes"`
	Completed bool               `json:"completed"`
}

// Fetcher downloads single items from peers, one connection per item.
type Fetcher struct {
	downloads *downloads.DownloadManager
	config    FetcherConfig
	logger    *slog.Logger
}

func NewFetcher(downloadManager *downloads.DownloadManager, config FetcherConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		downloads: downloadManager,
		config:    config,
		logger:    logger,
	}
}

// Fetch connects to peer, requests item and hands the payload to consumer.
// It returns ErrNotFound when the peer closes without sending anything and
// ErrConnectionClosed when the stream ends early.
func (f *Fetcher) Fetch(ctx context.Context, peer shared.PeerAddress, item string, consumer Consumer) (Result, error) {
	download := f.downloads.CreateDownload(peer.String(), item)
	result := Result{ID: download.ID, Item: item, Peer: peer}

	dialer := net.Dialer{Timeout: f.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer.String())
	if err != nil {
		return result, f.fail(download, fmt.Errorf("unable to connect to peer %s: %w", peer, err))
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write(messages.Line(item)); err != nil {
		return result, f.fail(download, fmt.Errorf("failed to send request: %w", err))
	}
	f.downloads.UpdateStatus(download, downloads.DownloadRequested)

	stream := NewStream(conn, f.config.SettleWindow)
	stream.OnProgress = func(n int) {
		download.AddProgress(int64(n))
		metrics.BytesFetched.Add(float64(n))
	}

	consumeErr := consumer.Consume(ctx, item, stream)
	if consumeErr == nil && !stream.Done() {
		_, consumeErr = io.Copy(io.Discard, stream)
	}
	result.Bytes = stream.Bytes()
	result.Completed = stream.SentinelSeen()

	if err := ctx.Err(); err != nil {
		return result, f.fail(download, err)
	}

	if stream.SentinelSeen() {
		if _, err := conn.Write(messages.Line(messages.Ack)); err != nil {
			f.logger.Debug("Failed to acknowledge transfer", "peer", peer.String(), "err", err)
		}
		if consumeErr != nil {
			return result, f.fail(download, fmt.Errorf("consumer failed: %w", consumeErr))
		}
		f.downloads.UpdateStatus(download, downloads.DownloadCompleted)
		metrics.Sessions.WithLabelValues("fetch", string(downloads.DownloadCompleted)).Inc()
		return result, nil
	}

	if consumeErr != nil && !stream.Done() {
		return result, f.fail(download, fmt.Errorf("consumer failed: %w", consumeErr))
	}

	if stream.Bytes() == 0 && errors.Is(stream.Err(), io.EOF) {
		f.downloads.UpdateStatus(download, downloads.DownloadNotFound)
		metrics.Sessions.WithLabelValues("fetch", string(downloads.DownloadNotFound)).Inc()
		return result, ErrNotFound
	}
	return result, f.fail(download, fmt.Errorf("%w: %w", ErrConnectionClosed, stream.Err()))
}

func (f *Fetcher) fail(download *downloads.Download, err error) error {
	f.downloads.SetError(download, err.Error())
	metrics.Sessions.WithLabelValues("fetch", string(downloads.DownloadFailed)).Inc()
	return err
}
