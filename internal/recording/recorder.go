// Package recording はローカルメディアの録画と保存済み録画の取得を担当します
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// ErrNotArmed は録画開始前にStop/Discardが呼ばれた場合のエラーです
var ErrNotArmed = errors.New("recorder is not armed")

// chunkInterval はチャンクの切り出し間隔です
// サンプルをこの間隔でまとめ、停止時に全チャンクを連結します
const chunkInterval = time.Second

// recordingContentType は録画データのコンテンツタイプです
const recordingContentType = "video/webm"

// Uploader は録画データの保存先です
type Uploader interface {
	Upload(ctx context.Context, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error)
}

// Result は録画停止の結果です
// アップロードに失敗した場合、LocalPathに退避先のファイルパスが入ります
type Result struct {
	Artifact  models.RecordingArtifact
	LocalPath string
}

// Recorder はローカルメディアのSinkとして動作し、
// 受け取ったサンプルをチャンク単位で貯め込みます
type Recorder struct {
	downloadDir string

	mu         sync.Mutex
	armed      bool
	media      *media.LocalMedia
	chunks     [][]byte
	current    bytes.Buffer
	currentDur time.Duration
	total      time.Duration
	startedAt  time.Time
}

func NewRecorder(downloadDir string) *Recorder {
	return &Recorder{downloadDir: downloadDir}
}

// Arm はローカルメディアの購読を開始し、録画を始めます
func (r *Recorder) Arm(lm *media.LocalMedia) {
	r.mu.Lock()
	if r.armed {
		r.mu.Unlock()
		return
	}
	r.armed = true
	r.media = lm
	r.startedAt = time.Now()
	r.mu.Unlock()

	lm.AddSink(r)
}

// WriteChunk はmedia.Sinkの実装です
// 現在のチャンクが切り出し間隔ぶん溜まったら確定して次のチャンクへ移ります
func (r *Recorder) WriteChunk(data []byte, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return
	}

	r.current.Write(data)
	r.currentDur += d
	r.total += d

	if r.currentDur >= chunkInterval {
		chunk := make([]byte, r.current.Len())
		copy(chunk, r.current.Bytes())
		r.chunks = append(r.chunks, chunk)
		r.current.Reset()
		r.currentDur = 0
	}
}

// Stop は録画を止め、全チャンクを連結してアップロードします
// アップロードに失敗した場合はローカルに退避し、退避先をResultで返します
func (r *Recorder) Stop(ctx context.Context, up Uploader, title string, participantCount int) (Result, error) {
	data, meta, err := r.detach(participantCount)
	if err != nil {
		return Result{}, err
	}

	artifact, err := up.Upload(ctx, title, recordingContentType, data, meta)
	if err == nil {
		return Result{Artifact: artifact}, nil
	}

	// アップロード失敗時は録画データを失わないようローカルに書き出す
	path, werr := r.saveLocal(data)
	if werr != nil {
		return Result{}, fmt.Errorf("upload failed (%v) and local save failed: %w", err, werr)
	}
	log.Printf("recording upload failed, saved locally: path=%s err=%v", path, err)
	return Result{LocalPath: path}, fmt.Errorf("failed to upload recording (saved to %s): %w", path, err)
}

// Discard は録画を破棄します（アップロードなしの退出時）
func (r *Recorder) Discard() {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return
	}
	r.armed = false
	lm := r.media
	r.media = nil
	r.chunks = nil
	r.current.Reset()
	r.currentDur = 0
	r.mu.Unlock()

	if lm != nil {
		lm.RemoveSink(r)
	}
}

// detach は購読を外し、貯めたチャンクを1本のバイト列にまとめます
func (r *Recorder) detach(participantCount int) ([]byte, models.RecordingMetadata, error) {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return nil, models.RecordingMetadata{}, ErrNotArmed
	}
	r.armed = false
	lm := r.media
	r.media = nil

	// 未確定の最後のチャンクも含める
	if r.current.Len() > 0 {
		chunk := make([]byte, r.current.Len())
		copy(chunk, r.current.Bytes())
		r.chunks = append(r.chunks, chunk)
		r.current.Reset()
	}

	var buf bytes.Buffer
	for _, chunk := range r.chunks {
		buf.Write(chunk)
	}
	r.chunks = nil

	stoppedAt := time.Now()
	meta := models.RecordingMetadata{
		DurationMs:       r.total.Milliseconds(),
		StartedAt:        r.startedAt.UnixMilli(),
		StoppedAt:        stoppedAt.UnixMilli(),
		ParticipantCount: participantCount,
	}
	r.mu.Unlock()

	if lm != nil {
		lm.RemoveSink(r)
	}
	return buf.Bytes(), meta, nil
}

func (r *Recorder) saveLocal(data []byte) (string, error) {
	dir := r.downloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("recording-%d.webm", time.Now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
