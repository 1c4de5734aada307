package repo

import (
	"context"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// RecordingRepo は録画メタデータとリレー保存のバイナリを扱うインターフェース
// オブジェクトストア保存の場合、バイナリ本体は本リポジトリの外（minio）にあります
type RecordingRepo interface {
	SaveArtifact(ctx context.Context, classId, meetingId string, art models.RecordingArtifact) error
	GetArtifact(ctx context.Context, classId, meetingId, recordingId string) (models.RecordingArtifact, bool, error)
	ListArtifacts(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error)

	SaveBlob(ctx context.Context, classId, meetingId, recordingId string, data []byte) error
	GetBlob(ctx context.Context, classId, meetingId, recordingId string) ([]byte, bool, error)
}
