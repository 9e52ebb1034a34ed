package db

import (
	"database/sql"
	"time"
)

type Upload struct {
	ID          string
	Peer        string
	Item        *string
	Size        int64
	Status      string
	BytesSent   int64
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

type UploadRepository struct {
	db Executor
}

func NewUploadRepository(db Executor) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) InsertUpload(id, peer string, status string, createdAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO uploads (id, peer, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, id, peer, status, createdAt)
	return err
}

func (r *UploadRepository) UpdateUploadItem(id, item string, size int64, status string) error {
	_, err := r.db.Exec(`
		UPDATE uploads
		SET item = ?, size = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, item, size, status, id)
	return err
}

func (r *UploadRepository) UpdateUploadStatus(id, status string, bytesSent int64, completedAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE uploads
		SET status = ?, bytes_sent = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, bytesSent, completedAt, id)
	return err
}

func (r *UploadRepository) UpdateUploadError(id, errorMsg string, status string, bytesSent int64, completedAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE uploads
		SET error = ?, status = ?, bytes_sent = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, errorMsg, status, bytesSent, completedAt, id)
	return err
}

const uploadColumns = `id, peer, item, size, status, bytes_sent, error, created_at, completed_at, updated_at`

func (r *UploadRepository) GetUpload(id string) (*Upload, error) {
	row := r.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	return scanUpload(row)
}

func (r *UploadRepository) GetUploadsByStatus(status string, limit int) ([]*Upload, error) {
	rows, err := r.db.Query(`
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUploads(rows)
}

func (r *UploadRepository) GetAllUploads(limit int) ([]*Upload, error) {
	rows, err := r.db.Query(`
		SELECT `+uploadColumns+`
		FROM uploads
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUploads(rows)
}

func (r *UploadRepository) DeleteCompletedUploads(olderThan time.Time) error {
	_, err := r.db.Exec(`
		DELETE FROM uploads
		WHERE completed_at IS NOT NULL AND completed_at < ?
	`, olderThan)
	return err
}

func (r *UploadRepository) GetUploadStats() (map[string]int, error) {
	return countByStatus(r.db, "uploads")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (*Upload, error) {
	var u Upload
	var item sql.NullString
	var errorMsg sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(
		&u.ID, &u.Peer, &item, &u.Size, &u.Status, &u.BytesSent,
		&errorMsg, &u.CreatedAt, &completedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if item.Valid {
		u.Item = &item.String
	}
	if errorMsg.Valid {
		u.Error = &errorMsg.String
	}
	if completedAt.Valid {
		u.CompletedAt = &completedAt.Time
	}
	return &u, nil
}

func scanUploads(rows *sql.Rows) ([]*Upload, error) {
	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func countByStatus(db Executor, table string) (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM ` + table + ` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
