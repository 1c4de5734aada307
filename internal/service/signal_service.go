package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/idgen"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/repo"
)

// SignalService はシグナリング封筒の中継を担当します
// ストアは配送順序を保証しません。封筒は宛先が処理後に個別削除します
type SignalService struct {
	meetings repo.MeetingRepo
	signals  repo.SignalRepo
	ttlSec   int // 未消費封筒のTTL（秒）
}

func NewSignalService(meetings repo.MeetingRepo, signals repo.SignalRepo, ttlSec int) *SignalService {
	return &SignalService{meetings: meetings, signals: signals, ttlSec: ttlSec}
}

// Send は封筒にIDと送信時刻を付与して保存します
func (s *SignalService) Send(ctx context.Context, classId, meetingId, from, to string, kind models.SignalKind, payload json.RawMessage) (models.SignalEnvelope, error) {
	switch kind {
	case models.SignalOffer, models.SignalAnswer, models.SignalCandidate, models.SignalProbe:
	default:
		return models.SignalEnvelope{}, fmt.Errorf("unknown signal kind: %s", kind)
	}

	exists, err := s.meetings.ExistsMeeting(ctx, classId, meetingId)
	if err != nil {
		return models.SignalEnvelope{}, err
	}
	if !exists {
		return models.SignalEnvelope{}, ErrMeetingNotFound
	}

	env := models.SignalEnvelope{
		EnvelopeId: idgen.NewULID(),
		From:       from,
		To:         to,
		Kind:       kind,
		Payload:    payload,
		SentAt:     time.Now().UnixMilli(),
	}
	if err := s.signals.AppendSignal(ctx, classId, meetingId, env, s.ttlSec); err != nil {
		return models.SignalEnvelope{}, err
	}
	return env, nil
}

// ListFor は指定ユーザー宛の封筒を全件返します
func (s *SignalService) ListFor(ctx context.Context, classId, meetingId, userId string) ([]models.SignalEnvelope, error) {
	return s.signals.ListSignalsFor(ctx, classId, meetingId, userId)
}

// Delete は処理済み封筒を削除します（存在しない封筒の削除はエラーになりません）
func (s *SignalService) Delete(ctx context.Context, classId, meetingId, userId, envelopeId string) error {
	return s.signals.DeleteSignal(ctx, classId, meetingId, userId, envelopeId)
}
