package uploads

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UploadRepository is the persistence the UploadManager records sessions to.
type UploadRepository interface {
	InsertUpload(id, peer string, status string, createdAt time.Time) error
	UpdateUploadItem(id, item string, size int64, status string) error
	UpdateUploadStatus(id, status string, bytesSent int64, completedAt *time.Time) error
	UpdateUploadError(id, errorMsg string, status string, bytesSent int64, completedAt *time.Time) error
}

type UploadStatus string

const (
	UploadConnected       UploadStatus = "connected"        // peer accepted, nothing read yet
	UploadAwaitingRequest UploadStatus = "awaiting_request" // reading the request line
	UploadStreaming       UploadStatus = "streaming"        // writing payload bytes
	UploadCompleted       UploadStatus = "completed"        // payload and sentinel written
	UploadNotFound        UploadStatus = "not_found"        // item not in catalog, closed silently
	UploadFailed          UploadStatus = "failed"           // I/O error mid-session
)

func (s UploadStatus) Terminal() bool {
	return s == UploadCompleted || s == UploadNotFound || s == UploadFailed
}

// Upload is the serving side of one transfer session.
type Upload struct {
	ID          string       `json:"id"`
	Peer        string       `json:"peer"`
	Item        string       `json:"item"`
	Size        int64        `json:"size"`
	Status      UploadStatus `json:"status"`
	BytesSent   int64        `json:"bytesSent"`
	Acked       bool         `json:"acked"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	mu          sync.RWMutex `json:"-"`
}

func (u *Upload) GetStatus() UploadStatus {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Status
}

func (u *Upload) GetBytesSent() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.BytesSent
}

// UploadInfo is a point-in-time copy of an Upload.
type UploadInfo struct {
	ID          string       `json:"id"`
	Peer        string       `json:"peer"`
	Item        string       `json:"item"`
	Size        int64        `json:"size"`
	Status      UploadStatus `json:"status"`
	BytesSent   int64        `json:"bytesSent"`
	Acked       bool         `json:"acked"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

func (u *Upload) Snapshot() UploadInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return UploadInfo{
		ID:          u.ID,
		Peer:        u.Peer,
		Item:        u.Item,
		Size:        u.Size,
		Status:      u.Status,
		BytesSent:   u.BytesSent,
		Acked:       u.Acked,
		Error:       u.Error,
		CreatedAt:   u.CreatedAt,
		CompletedAt: u.CompletedAt,
	}
}

func (u *Upload) AddProgress(n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.BytesSent += n
}

func (u *Upload) setStatus(status UploadStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Status = status
	if status.Terminal() {
		now := time.Now()
		u.CompletedAt = &now
	}
}

type UploadManager struct {
	uploads map[string]*Upload // id -> Upload
	mu      sync.RWMutex
	ttl     time.Duration
	logger  *slog.Logger
	db      UploadRepository
	stop    chan struct{}
	once    sync.Once
}

// NewUploadManager tracks serving sessions. database may be nil. Finished
// sessions are forgotten ttl after completion.
func NewUploadManager(ttl time.Duration, logger *slog.Logger, database UploadRepository) *UploadManager {
	um := &UploadManager{
		uploads: make(map[string]*Upload),
		ttl:     ttl,
		logger:  logger,
		db:      database,
		stop:    make(chan struct{}),
	}
	go um.cleanupCompletedUploads()
	return um
}

func (um *UploadManager) Close() {
	um.once.Do(func() { close(um.stop) })
}

func (um *UploadManager) CreateUpload(peer string) *Upload {
	upload := &Upload{
		ID:        uuid.NewString(),
		Peer:      peer,
		Status:    UploadConnected,
		CreatedAt: time.Now(),
	}

	um.mu.Lock()
	um.uploads[upload.ID] = upload
	um.mu.Unlock()

	if um.db != nil {
		if err := um.db.InsertUpload(upload.ID, peer, string(UploadConnected), upload.CreatedAt); err != nil {
			um.logger.Error("Failed to insert upload to database", "id", upload.ID, "error", err)
		}
	}

	um.logger.Debug("Upload created", "id", upload.ID, "peer", peer)
	return upload
}

func (um *UploadManager) GetUpload(id string) (*Upload, error) {
	um.mu.RLock()
	defer um.mu.RUnlock()

	upload, exists := um.uploads[id]
	if !exists {
		return nil, fmt.Errorf("upload not found: %s", id)
	}
	return upload, nil
}

func (um *UploadManager) ListUploads() []UploadInfo {
	um.mu.RLock()
	defer um.mu.RUnlock()

	uploads := make([]UploadInfo, 0, len(um.uploads))
	for _, upload := range um.uploads {
		uploads = append(uploads, upload.Snapshot())
	}
	return uploads
}

func (um *UploadManager) AwaitingRequest(upload *Upload) {
	upload.setStatus(UploadAwaitingRequest)
	um.persistStatus(upload)
}

// Streaming records the resolved item and moves the session to streaming.
func (um *UploadManager) Streaming(upload *Upload, item string, size int64) {
	upload.mu.Lock()
	upload.Item = item
	upload.Size = size
	upload.Status = UploadStreaming
	upload.mu.Unlock()

	if um.db != nil {
		if err := um.db.UpdateUploadItem(upload.ID, item, size, string(UploadStreaming)); err != nil {
			um.logger.Error("Failed to update upload item in database", "id", upload.ID, "error", err)
		}
	}
	um.logger.Info("Upload streaming", "id", upload.ID, "peer", upload.Peer, "item", item, "size", size)
}

func (um *UploadManager) Completed(upload *Upload, acked bool) {
	upload.mu.Lock()
	upload.Acked = acked
	upload.mu.Unlock()
	upload.setStatus(UploadCompleted)
	um.persistStatus(upload)
	um.logger.Info("Upload completed",
		"id", upload.ID,
		"item", upload.Item,
		"bytes", upload.GetBytesSent(),
		"acked", acked,
	)
}

func (um *UploadManager) NotFound(upload *Upload, item string) {
	upload.mu.Lock()
	upload.Item = item
	upload.mu.Unlock()
	upload.setStatus(UploadNotFound)
	um.persistStatus(upload)
	um.logger.Info("Upload item not found", "id", upload.ID, "peer", upload.Peer, "item", item)
}

func (um *UploadManager) SetError(upload *Upload, errorMsg string) {
	upload.mu.Lock()
	upload.Error = errorMsg
	upload.mu.Unlock()
	upload.setStatus(UploadFailed)

	if um.db != nil {
		snap := upload.Snapshot()
		if err := um.db.UpdateUploadError(snap.ID, errorMsg, string(UploadFailed), snap.BytesSent, snap.CompletedAt); err != nil {
			um.logger.Error("Failed to update upload error in database", "id", snap.ID, "error", err)
		}
	}
	um.logger.Warn("Upload error", "id", upload.ID, "peer", upload.Peer, "error", errorMsg)
}

func (um *UploadManager) persistStatus(upload *Upload) {
	if um.db == nil {
		return
	}
	snap := upload.Snapshot()
	if err := um.db.UpdateUploadStatus(snap.ID, string(snap.Status), snap.BytesSent, snap.CompletedAt); err != nil {
		um.logger.Error("Failed to update upload status in database", "id", snap.ID, "error", err)
	}
}

func (um *UploadManager) cleanupCompletedUploads() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-um.stop:
			return
		case <-ticker.C:
			um.removeExpired(time.Now())
		}
	}
}

func (um *UploadManager) removeExpired(now time.Time) {
	um.mu.Lock()
	defer um.mu.Unlock()
	for id, upload := range um.uploads {
		snap := upload.Snapshot()
		if snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > um.ttl {
			delete(um.uploads, id)
			um.logger.Debug("Cleaned up completed upload", "id", id, "status", snap.Status)
		}
	}
}
