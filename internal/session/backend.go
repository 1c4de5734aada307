// Package session はライブミーティングのクライアント側コアを実装します
// シグナリング輸送・参加者同期・ピア接続管理を1つのセッション集約にまとめ、
// Join/Leaveがタイマーと接続のライフサイクルを正確に括ります
package session

import (
	"context"
	"encoding/json"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// Backend はリレーストア（リモートのコンテンツ/メッセージストア）への
// 操作をまとめたインターフェースです。実装は認証済みユーザーとして動作し、
// シグナル取得・削除は常に自分宛のメールボックスに対して行われます
type Backend interface {
	// CurrentUser は認証済みユーザー情報を返します
	CurrentUser(ctx context.Context) (models.User, error)

	// Join はミーティングに参加し、現時点の参加者一覧を返します
	Join(ctx context.Context, classId, meetingId string) ([]models.Participant, error)
	// Leave はミーティングから退出します
	Leave(ctx context.Context, classId, meetingId string) error
	// Participants は参加者一覧を返します
	Participants(ctx context.Context, classId, meetingId string) ([]models.Participant, error)

	// SendSignal は宛先のメールボックスにシグナリング封筒を積みます
	SendSignal(ctx context.Context, classId, meetingId, to string, kind models.SignalKind, payload json.RawMessage) error
	// Signals は自分宛の封筒を全件返します（削除はしません）
	Signals(ctx context.Context, classId, meetingId string) ([]models.SignalEnvelope, error)
	// DeleteSignal は処理済みの封筒を削除します
	DeleteSignal(ctx context.Context, classId, meetingId, envelopeId string) error

	// UploadRecording は録画バイナリとメタデータを保存します
	UploadRecording(ctx context.Context, classId, meetingId, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error)
	// Recordings はミーティングの録画一覧を返します
	Recordings(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error)
	// SecureFileURL はオブジェクトストア上のキーに対する短命の署名付きURLを取得します
	SecureFileURL(ctx context.Context, objectKey string, ttlMinutes int) (string, error)
}
