package recording

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

type fakeUploader struct {
	err   error
	calls []uploadCall
}

type uploadCall struct {
	title       string
	contentType string
	data        []byte
	meta        models.RecordingMetadata
}

func (f *fakeUploader) Upload(_ context.Context, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error) {
	if f.err != nil {
		return models.RecordingArtifact{}, f.err
	}
	f.calls = append(f.calls, uploadCall{title: title, contentType: contentType, data: data, meta: meta})
	return models.RecordingArtifact{RecordingId: "rec-1", Title: title, ContentType: contentType, Metadata: meta}, nil
}

// armedRecorder はメディア経由を挟まずにチャンクを注入できる録画器を返します
func armedRecorder(t *testing.T) *Recorder {
	t.Helper()
	r := NewRecorder(t.TempDir())
	r.Arm(&media.LocalMedia{})
	return r
}

func TestRecorderConcatenatesChunksInOrder(t *testing.T) {
	r := armedRecorder(t)

	// チャンク境界をまたいで書き込み、停止時に順序どおり連結されることを確認する
	r.WriteChunk([]byte("aaa"), 600*time.Millisecond)
	r.WriteChunk([]byte("bbb"), 600*time.Millisecond) // ここで1チャンク確定
	r.WriteChunk([]byte("ccc"), 200*time.Millisecond) // 未確定のまま停止

	up := &fakeUploader{}
	result, err := r.Stop(context.Background(), up, "title", 3)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", result.Artifact.RecordingId)
	assert.Empty(t, result.LocalPath)

	require.Len(t, up.calls, 1)
	call := up.calls[0]
	assert.True(t, bytes.Equal([]byte("aaabbbccc"), call.data))
	assert.Equal(t, recordingContentType, call.contentType)
	assert.Equal(t, int64(1400), call.meta.DurationMs)
	assert.Equal(t, 3, call.meta.ParticipantCount)
	assert.LessOrEqual(t, call.meta.StartedAt, call.meta.StoppedAt)
}

func TestRecorderStopWithoutArm(t *testing.T) {
	r := NewRecorder(t.TempDir())
	_, err := r.Stop(context.Background(), &fakeUploader{}, "t", 1)
	assert.ErrorIs(t, err, ErrNotArmed)
}

func TestRecorderUploadFailureSavesLocally(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)
	r.Arm(&media.LocalMedia{})
	r.WriteChunk([]byte("recording-bytes"), time.Second)

	up := &fakeUploader{err: context.DeadlineExceeded}
	result, err := r.Stop(context.Background(), up, "t", 1)
	require.Error(t, err)
	require.NotEmpty(t, result.LocalPath)
	assert.Equal(t, dir, filepath.Dir(result.LocalPath))

	data, rerr := os.ReadFile(result.LocalPath)
	require.NoError(t, rerr)
	assert.Equal(t, []byte("recording-bytes"), data)
}

func TestRecorderDiscardDropsData(t *testing.T) {
	r := armedRecorder(t)
	r.WriteChunk([]byte("data"), time.Second)

	r.Discard()
	r.Discard() // 冪等

	// 破棄後の書き込みは無視される
	r.WriteChunk([]byte("late"), time.Second)
	_, err := r.Stop(context.Background(), &fakeUploader{}, "t", 1)
	assert.ErrorIs(t, err, ErrNotArmed)
}

func TestRecorderDoubleStop(t *testing.T) {
	r := armedRecorder(t)
	r.WriteChunk([]byte("data"), time.Second)

	_, err := r.Stop(context.Background(), &fakeUploader{}, "t", 1)
	require.NoError(t, err)
	_, err = r.Stop(context.Background(), &fakeUploader{}, "t", 1)
	assert.ErrorIs(t, err, ErrNotArmed)
}
