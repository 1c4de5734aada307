// Package service はビジネスロジックを担当します
// ミーティングの作成・参加・退出、シグナリング封筒の中継、録画の保存を提供します
package service

import (
	"context"
	"errors"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/idgen"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/repo"
)

// MeetingService はミーティング管理のビジネスロジックを提供します
type MeetingService struct {
	repo   repo.MeetingRepo // データ永続化を担当するリポジトリ
	idg    IDGenerator      // ミーティングID生成器
	ttlSec int              // ミーティングの有効期限（秒）
}

// IDGenerator はユニークなIDを生成するインターフェース
type IDGenerator interface {
	New() (string, error) // 新しいIDを生成
}

// meetingIDGen はIDGeneratorの実装
type meetingIDGen struct{}

// New は新しいミーティングIDを生成します
func (meetingIDGen) New() (string, error) { return idgen.NewMeetingID() }

// NewMeetingIDGenerator は新しいMeetingIDGeneratorを作成します
func NewMeetingIDGenerator() IDGenerator {
	return meetingIDGen{}
}

// NewMeetingService は新しいMeetingServiceを作成します
func NewMeetingService(r repo.MeetingRepo, idg IDGenerator, ttlSec int) *MeetingService {
	return &MeetingService{repo: r, idg: idg, ttlSec: ttlSec}
}

// Create は新しいミーティングを作成します
// 処理の流れ:
// 1. ユニークなミーティングIDを生成（重複チェック付き、最大10回リトライ）
// 2. ミーティングをRedisに保存
// 3. オーナーを参加者として追加
// 戻り値: 生成されたミーティングID、エラー
func (s *MeetingService) Create(ctx context.Context, classId string, owner models.Participant) (string, error) {
	const maxRetries = 10 // ID生成の最大リトライ回数

	var meetingId string
	var err error

	// ID被りがあった場合、最大maxRetries回まで再生成を試みる
	for i := 0; i < maxRetries; i++ {
		meetingId, err = s.idg.New()
		if err != nil {
			return "", err
		}

		// IDの重複チェック
		exists, err := s.repo.ExistsMeeting(ctx, classId, meetingId)
		if err != nil {
			return "", err
		}
		if !exists {
			// 重複なし、ループを抜ける
			break
		}
		// 重複あり、次の試行へ
		if i == maxRetries-1 {
			return "", ErrMeetingIDGenerationFailed
		}
	}

	m := models.Meeting{ClassId: classId, MeetingId: meetingId, OwnerId: owner.UserId, CreatedAt: time.Now().Unix()}
	if err := s.repo.CreateMeeting(ctx, m, s.ttlSec); err != nil {
		return "", err
	}
	// 作成時にオーナー入室とする
	owner.JoinedAt = time.Now().Unix()
	if err := s.repo.AddParticipant(ctx, classId, meetingId, owner, s.ttlSec); err != nil {
		// オーナー追加に失敗した場合はミーティングを削除してロールバック
		_ = s.repo.DeleteMeeting(ctx, classId, meetingId)
		return "", err
	}
	return meetingId, nil
}

// Get は指定されたミーティングの情報と参加者一覧を取得します
// 戻り値: ミーティング情報、参加者リスト、存在フラグ、エラー
func (s *MeetingService) Get(ctx context.Context, classId, meetingId string) (models.Meeting, []models.Participant, bool, error) {
	m, ok, err := s.repo.GetMeeting(ctx, classId, meetingId)
	if err != nil {
		return models.Meeting{}, nil, false, err
	}
	participants, err := s.repo.ListParticipants(ctx, classId, meetingId)
	return m, participants, ok, err
}

// Participants はミーティングの参加者一覧を取得します
// ロスター同期のポーリングから高頻度で呼ばれるため、ミーティング本体は読みません
func (s *MeetingService) Participants(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	return s.repo.ListParticipants(ctx, classId, meetingId)
}

// Delete はミーティングを削除します（オーナーのみ実行可能）
func (s *MeetingService) Delete(ctx context.Context, classId, meetingId, userId string) error {
	m, exists, err := s.repo.GetMeeting(ctx, classId, meetingId)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMeetingNotFound
	}
	if m.OwnerId != userId {
		return ErrNotMeetingOwner
	}
	return s.repo.DeleteMeeting(ctx, classId, meetingId)
}

// Join はユーザーをミーティングに参加させ、現時点の参加者一覧を返します
// ミーティングの存在確認を行った後、参加者を追加します
func (s *MeetingService) Join(ctx context.Context, classId, meetingId string, p models.Participant) ([]models.Participant, error) {
	exists, err := s.repo.ExistsMeeting(ctx, classId, meetingId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrMeetingNotFound
	}
	p.JoinedAt = time.Now().Unix()
	if err := s.repo.AddParticipant(ctx, classId, meetingId, p, s.ttlSec); err != nil {
		return nil, err
	}
	return s.repo.ListParticipants(ctx, classId, meetingId)
}

// Leave はユーザーをミーティングから退出させます
func (s *MeetingService) Leave(ctx context.Context, classId, meetingId, userId string) error {
	return s.repo.RemoveParticipant(ctx, classId, meetingId, userId)
}

// Touch はミーティングのTTL（有効期限）を更新します
func (s *MeetingService) Touch(ctx context.Context, classId, meetingId string) error {
	return s.repo.TouchMeeting(ctx, classId, meetingId, s.ttlSec)
}

// SetMuteState は参加者のミュート状態を設定します
// ミュート状態はレジストリに保存され、他の参加者から確認できます
func (s *MeetingService) SetMuteState(ctx context.Context, classId, meetingId, userId string, isMuted bool) error {
	if err := s.repo.UpdateParticipantMute(ctx, classId, meetingId, userId, isMuted); err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			return ErrParticipantNotFound
		}
		return err
	}
	return nil
}
