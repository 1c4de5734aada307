package repo

import (
	"context"
	"errors"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// ErrParticipantNotFound は対象の参加者が存在しない場合に返されます
var ErrParticipantNotFound = errors.New("participant not found")

// MeetingRepo はミーティングと参加者レジストリの永続化を担当します
type MeetingRepo interface {
	CreateMeeting(ctx context.Context, m models.Meeting, ttlSec int) error
	GetMeeting(ctx context.Context, classId, meetingId string) (models.Meeting, bool, error)
	DeleteMeeting(ctx context.Context, classId, meetingId string) error
	ExistsMeeting(ctx context.Context, classId, meetingId string) (bool, error)
	TouchMeeting(ctx context.Context, classId, meetingId string, ttlSec int) error

	AddParticipant(ctx context.Context, classId, meetingId string, p models.Participant, ttlSec int) error
	RemoveParticipant(ctx context.Context, classId, meetingId, userId string) error
	ListParticipants(ctx context.Context, classId, meetingId string) ([]models.Participant, error)
	UpdateParticipantMute(ctx context.Context, classId, meetingId, userId string, isMuted bool) error
}

// SignalRepo はシグナリング封筒の保存/取得/削除を担当します
// 封筒は宛先ユーザー単位で保持され、受信側が処理後に個別削除します
type SignalRepo interface {
	AppendSignal(ctx context.Context, classId, meetingId string, env models.SignalEnvelope, ttlSec int) error
	ListSignalsFor(ctx context.Context, classId, meetingId, userId string) ([]models.SignalEnvelope, error)
	DeleteSignal(ctx context.Context, classId, meetingId, userId, envelopeId string) error
}
