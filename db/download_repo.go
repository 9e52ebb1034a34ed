package db

import (
	"database/sql"
	"time"
)

type Download struct {
	ID            string
	Peer          string
	Item          string
	Status        string
	BytesReceived int64
	Error         *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

type DownloadRepository struct {
	db Executor
}

func NewDownloadRepository(db Executor) *DownloadRepository {
	return &DownloadRepository{db: db}
}

func (r *DownloadRepository) InsertDownload(id, peer, item string, status string, createdAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO downloads (id, peer, item, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, id, peer, item, status, createdAt)
	return err
}

func (r *DownloadRepository) UpdateDownloadStatus(id, status string, bytesReceived int64, completedAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE downloads
		SET status = ?, bytes_received = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, bytesReceived, completedAt, id)
	return err
}

func (r *DownloadRepository) UpdateDownloadError(id, errorMsg string, status string, bytesReceived int64, completedAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE downloads
		SET error = ?, status = ?, bytes_received = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, errorMsg, status, bytesReceived, completedAt, id)
	return err
}

const downloadColumns = `id, peer, item, status, bytes_received, error, created_at, completed_at, updated_at`

func (r *DownloadRepository) GetDownload(id string) (*Download, error) {
	row := r.db.QueryRow(`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	return scanDownload(row)
}

func (r *DownloadRepository) GetDownloadsByStatus(status string, limit int) ([]*Download, error) {
	rows, err := r.db.Query(`
		SELECT `+downloadColumns+`
		FROM downloads
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func (r *DownloadRepository) GetAllDownloads(limit int) ([]*Download, error) {
	rows, err := r.db.Query(`
		SELECT `+downloadColumns+`
		FROM downloads
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func (r *DownloadRepository) DeleteCompletedDownloads(olderThan time.Time) error {
	_, err := r.db.Exec(`
		DELETE FROM downloads
		WHERE completed_at IS NOT NULL AND completed_at < ?
	`, olderThan)
	return err
}

func (r *DownloadRepository) GetDownloadStats() (map[string]int, error) {
	return countByStatus(r.db, "downloads")
}

func scanDownload(s scanner) (*Download, error) {
	var d Download
	var errorMsg sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(
		&d.ID, &d.Peer, &d.Item, &d.Status, &d.BytesReceived,
		&errorMsg, &d.CreatedAt, &completedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorMsg.Valid {
		d.Error = &errorMsg.String
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	return &d, nil
}

func scanDownloads(rows *sql.Rows) ([]*Download, error) {
	var downloads []*Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
