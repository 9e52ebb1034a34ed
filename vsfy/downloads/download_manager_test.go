package downloads

import (
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusRepo struct {
	statuses []string
}

func (r *statusRepo) InsertDownload(id, peer, item, status string, createdAt time.Time) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *statusRepo) UpdateDownloadStatus(id, status string, bytesReceived int64, completedAt *time.Time) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *statusRepo) UpdateDownloadError(id, errorMsg, status string, bytesReceived int64, completedAt *time.Time) error {
	r.statuses = append(r.statuses, status+":"+errorMsg)
	return nil
}

func TestDownloadProgressMovesToStreaming(t *testing.T) {
	repo := &statusRepo{}
	dm := NewDownloadManager(time.Minute, slogt.New(t), repo)
	defer dm.Close()

	d := dm.CreateDownload("10.0.0.2:4100", "x.mp3")
	assert.Equal(t, DownloadConnecting, d.GetStatus())

	d.AddProgress(3)
	assert.Equal(t, DownloadConnecting, d.GetStatus(), "progress before the request line is sent does not change state")

	dm.UpdateStatus(d, DownloadRequested)
	d.AddProgress(5)
	assert.Equal(t, DownloadStreaming, d.GetStatus())
	assert.Equal(t, int64(8), d.GetBytesReceived())

	dm.UpdateStatus(d, DownloadCompleted)
	assert.NotNil(t, d.Snapshot().CompletedAt)
	assert.Equal(t, []string{"connecting", "requested", "completed"}, repo.statuses)
}

func TestDownloadSetError(t *testing.T) {
	repo := &statusRepo{}
	dm := NewDownloadManager(time.Minute, slogt.New(t), repo)
	defer dm.Close()

	d := dm.CreateDownload("peer", "x.mp3")
	dm.SetError(d, "connection refused")

	snap := d.Snapshot()
	assert.Equal(t, DownloadFailed, snap.Status)
	assert.Equal(t, "connection refused", snap.Error)
	assert.Equal(t, "failed:connection refused", repo.statuses[len(repo.statuses)-1])
}

func TestDownloadLookupAndExpiry(t *testing.T) {
	dm := NewDownloadManager(time.Minute, slogt.New(t), nil)
	defer dm.Close()

	d := dm.CreateDownload("peer", "x.mp3")
	got, err := dm.GetDownload(d.ID)
	require.NoError(t, err)
	assert.Same(t, d, got)

	dm.UpdateStatus(d, DownloadNotFound)
	dm.removeExpired(time.Now().Add(time.Hour))

	_, err = dm.GetDownload(d.ID)
	assert.Error(t, err)
	assert.Empty(t, dm.ListDownloads())
}
