package downloads

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DownloadRepository defines the database operations required by the DownloadManager.
type DownloadRepository interface {
	InsertDownload(id, peer, item, status string, createdAt time.Time) error
	UpdateDownloadStatus(id, status string, bytesReceived int64, completedAt *time.Time) error
	UpdateDownloadError(id, errorMsg, status string, bytesReceived int64, completedAt *time.Time) error
}

type DownloadStatus string

const (
	DownloadConnecting DownloadStatus = "connecting"
	DownloadRequested  DownloadStatus = "requested"
	DownloadStreaming  DownloadStatus = "streaming"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadNotFound   DownloadStatus = "not_found"
	DownloadFailed     DownloadStatus = "failed"
)

func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadNotFound || s == DownloadFailed
}

// Download is the fetching side of one transfer session.
type Download struct {
	ID            string
	Peer          string
	Item          string
	Status        DownloadStatus
	BytesReceived int64
	Error         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	mu            sync.RWMutex
}

type DownloadInfo struct {
	ID            string         `json:"id"`
	Peer          string         `json:"peer"`
	Item          string         `json:"item"`
	Status        DownloadStatus `json:"status"`
	BytesReceived int64          `json:"bytesReceived"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

func (d *Download) Snapshot() DownloadInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DownloadInfo{
		ID:            d.ID,
		Peer:          d.Peer,
		Item:          d.Item,
		Status:        d.Status,
		BytesReceived: d.BytesReceived,
		Error:         d.Error,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.CompletedAt,
	}
}

func (d *Download) GetStatus() DownloadStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Status
}

func (d *Download) GetBytesReceived() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.BytesReceived
}

// AddProgress counts received payload bytes and moves a requested download
// to streaming on its first bytes.
func (d *Download) AddProgress(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.BytesReceived += n
	if d.Status == DownloadRequested {
		d.Status = DownloadStreaming
	}
}

func (d *Download) setStatus(status DownloadStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Status = status
	if status.Terminal() {
		now := time.Now()
		d.CompletedAt = &now
	}
}

type DownloadManager struct {
	downloads map[string]*Download // id -> Download
	mu        sync.RWMutex
	ttl       time.Duration
	logger    *slog.Logger
	db        DownloadRepository
	stop      chan struct{}
	once      sync.Once
}

func NewDownloadManager(ttl time.Duration, logger *slog.Logger, database DownloadRepository) *DownloadManager {
	dm := &DownloadManager{
		downloads: make(map[string]*Download),
		ttl:       ttl,
		logger:    logger,
		db:        database,
		stop:      make(chan struct{}),
	}
	go dm.cleanupCompletedDownloads()
	return dm
}

func (dm *DownloadManager) Close() {
	dm.once.Do(func() { close(dm.stop) })
}

func (dm *DownloadManager) CreateDownload(peer, item string) *Download {
	download := &Download{
		ID:        uuid.NewString(),
		Peer:      peer,
		Item:      item,
		Status:    DownloadConnecting,
		CreatedAt: time.Now(),
	}

	dm.mu.Lock()
	dm.downloads[download.ID] = download
	dm.mu.Unlock()

	if dm.db != nil {
		if err := dm.db.InsertDownload(download.ID, peer, item, string(DownloadConnecting), download.CreatedAt); err != nil {
			dm.logger.Error("Failed to insert download to database",
				"id", download.ID,
				"item", item,
				"error", err)
		}
	}

	dm.logger.Info("Download created", "id", download.ID, "peer", peer, "item", item)
	return download
}

func (dm *DownloadManager) GetDownload(id string) (*Download, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	download, exists := dm.downloads[id]
	if !exists {
		return nil, fmt.Errorf("download not found: %s", id)
	}
	return download, nil
}

func (dm *DownloadManager) ListDownloads() []DownloadInfo {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	downloads := make([]DownloadInfo, 0, len(dm.downloads))
	for _, download := range dm.downloads {
		downloads = append(downloads, download.Snapshot())
	}
	return downloads
}

func (dm *DownloadManager) UpdateStatus(download *Download, status DownloadStatus) {
	download.setStatus(status)

	if dm.db != nil {
		snap := download.Snapshot()
		if err := dm.db.UpdateDownloadStatus(snap.ID, string(status), snap.BytesReceived, snap.CompletedAt); err != nil {
			dm.logger.Error("Failed to update download status in database",
				"id", snap.ID,
				"error", err)
		}
	}

	dm.logger.Info("Download status updated",
		"id", download.ID,
		"item", download.Item,
		"status", status,
	)
}

func (dm *DownloadManager) SetError(download *Download, errorMsg string) {
	download.mu.Lock()
	download.Error = errorMsg
	download.mu.Unlock()
	download.setStatus(DownloadFailed)

	if dm.db != nil {
		snap := download.Snapshot()
		if err := dm.db.UpdateDownloadError(snap.ID, errorMsg, string(DownloadFailed), snap.BytesReceived, snap.CompletedAt); err != nil {
			dm.logger.Error("Failed to update download error in database",
				"id", snap.ID,
				"error", err)
		}
	}

	dm.logger.Warn("Download error",
		"id", download.ID,
		"item", download.Item,
		"error", errorMsg,
	)
}

func (dm *DownloadManager) cleanupCompletedDownloads() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-dm.stop:
			return
		case <-ticker.C:
			dm.removeExpired(time.Now())
		}
	}
}

func (dm *DownloadManager) removeExpired(now time.Time) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for id, download := range dm.downloads {
		snap := download.Snapshot()
		if snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > dm.ttl {
			delete(dm.downloads, id)
			dm.logger.Info("Cleaned up completed download", "id", id, "item", snap.Item, "status", snap.Status)
		}
	}
}
