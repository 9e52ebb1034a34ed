package uploads

import (
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	op     string
	id     string
	status string
}

type fakeRepo struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRepo) record(op, id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{op: op, id: id, status: status})
}

func (f *fakeRepo) InsertUpload(id, peer string, status string, createdAt time.Time) error {
	f.record("insert", id, status)
	return nil
}

func (f *fakeRepo) UpdateUploadItem(id, item string, size int64, status string) error {
	f.record("item", id, status)
	return nil
}

func (f *fakeRepo) UpdateUploadStatus(id, status string, bytesSent int64, completedAt *time.Time) error {
	f.record("status", id, status)
	return nil
}

func (f *fakeRepo) UpdateUploadError(id, errorMsg string, status string, bytesSent int64, completedAt *time.Time) error {
	f.record("error", id, status)
	return nil
}

func TestUploadLifecycle(t *testing.T) {
	repo := &fakeRepo{}
	um := NewUploadManager(time.Minute, slogt.New(t), repo)
	defer um.Close()

	upload := um.CreateUpload("127.0.0.1:5555")
	assert.Equal(t, UploadConnected, upload.GetStatus())
	assert.NotEmpty(t, upload.ID)

	um.AwaitingRequest(upload)
	assert.Equal(t, UploadAwaitingRequest, upload.GetStatus())

	um.Streaming(upload, "x.mp3", 10)
	upload.AddProgress(4)
	upload.AddProgress(6)
	assert.Equal(t, int64(10), upload.GetBytesSent())

	um.Completed(upload, true)
	snap := upload.Snapshot()
	assert.Equal(t, UploadCompleted, snap.Status)
	assert.True(t, snap.Acked)
	assert.NotNil(t, snap.CompletedAt)

	got, err := um.GetUpload(upload.ID)
	require.NoError(t, err)
	assert.Same(t, upload, got)

	assert.Equal(t, []recordedCall{
		{"insert", upload.ID, "connected"},
		{"status", upload.ID, "awaiting_request"},
		{"item", upload.ID, "streaming"},
		{"status", upload.ID, "completed"},
	}, repo.calls)
}

func TestUploadTerminalStates(t *testing.T) {
	tests := []struct {
		name  string
		apply func(um *UploadManager, u *Upload)
		want  UploadStatus
	}{
		{"not found", func(um *UploadManager, u *Upload) { um.NotFound(u, "missing.mp3") }, UploadNotFound},
		{"failed", func(um *UploadManager, u *Upload) { um.SetError(u, "broken pipe") }, UploadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			um := NewUploadManager(time.Minute, slogt.New(t), nil)
			defer um.Close()

			u := um.CreateUpload("peer")
			tt.apply(um, u)
			assert.Equal(t, tt.want, u.GetStatus())
			assert.True(t, u.GetStatus().Terminal())
			assert.NotNil(t, u.Snapshot().CompletedAt)
		})
	}
}

func TestRemoveExpired(t *testing.T) {
	um := NewUploadManager(time.Minute, slogt.New(t), nil)
	defer um.Close()

	done := um.CreateUpload("a")
	um.Completed(done, false)
	running := um.CreateUpload("b")

	um.removeExpired(time.Now().Add(2 * time.Minute))

	_, err := um.GetUpload(done.ID)
	assert.Error(t, err)
	_, err = um.GetUpload(running.ID)
	assert.NoError(t, err)
	assert.Len(t, um.ListUploads(), 1)
}
