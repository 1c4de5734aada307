package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/recording"
)

var (
	ErrAlreadyJoined = errors.New("already joined a meeting")
	ErrNotJoined     = errors.New("not joined a meeting")
	ErrNotRecording  = errors.New("no recording in progress")
)

// Config はセッション集約の動作パラメータです
type Config struct {
	ClassId   string
	MeetingId string

	ICEServers  []string
	Constraints media.Constraints

	// ゼロ値はデフォルトに置き換えられます
	SendSpacing    time.Duration // シグナル送信の最小間隔
	PollInterval   time.Duration // シグナル受信ポーリングの基本間隔
	PollJitter     time.Duration // ポーリング間隔に加えるジッターの上限
	RosterInterval time.Duration // 参加者同期の間隔

	DownloadDir string // 録画アップロード失敗時の退避先
}

func (c *Config) withDefaults() {
	if c.SendSpacing <= 0 {
		c.SendSpacing = 100 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
		if c.PollJitter == 0 {
			c.PollJitter = 500 * time.Millisecond
		}
	}
	if c.PollJitter < 0 {
		c.PollJitter = 0
	}
	if c.RosterInterval <= 0 {
		c.RosterInterval = 3 * time.Second
	}
}

// Session は1回のミーティング参加を表す集約です
// シグナリング・ロスター同期・ピア接続・ローカルメディア・録画の
// ライフサイクルをJoin/Leaveで正確に括ります
type Session struct {
	cfg     Config
	backend Backend
	source  media.Source

	mu       sync.Mutex
	joined   bool
	localId  string
	media    *media.LocalMedia
	signaler *Signaler
	roster   *Roster
	peers    *PeerManager
	recorder *recording.Recorder
	cancel   context.CancelFunc
}

func New(backend Backend, source media.Source, cfg Config) *Session {
	cfg.withDefaults()
	return &Session{cfg: cfg, backend: backend, source: source}
}

// Join はミーティングに参加します
// メディア取得→リレーストアへの参加登録→各ループ開始、の順で行い、
// 途中で失敗した場合は取得済みのリソースを解放して返ります
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return ErrAlreadyJoined
	}

	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}

	lm, err := media.Acquire(s.source, s.cfg.Constraints)
	if err != nil {
		// デバイスエラーは致命的、リトライせずそのまま返す
		return err
	}

	if _, err := s.backend.Join(ctx, s.cfg.ClassId, s.cfg.MeetingId); err != nil {
		lm.Release()
		return fmt.Errorf("failed to join meeting: %w", err)
	}

	s.localId = user.UserId
	s.media = lm

	// ループの寿命はJoinの呼び出しコンテキストではなくLeaveに従わせる
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.signaler = NewSignaler(s.backend, s.cfg.ClassId, s.cfg.MeetingId, s.localId,
		s.cfg.SendSpacing, s.cfg.PollInterval, s.cfg.PollJitter)
	s.peers = NewPeerManager(s.signaler, lm, s.cfg.ICEServers)
	s.signaler.SetHandler(s.peers.HandleEnvelope)
	s.roster = NewRoster(s.backend, s.cfg.ClassId, s.cfg.MeetingId,
		s.LocalID, s.cfg.RosterInterval, s.peers)

	s.signaler.Start(runCtx)
	s.roster.Start(runCtx)

	s.joined = true
	log.Printf("joined meeting: class=%s meeting=%s user=%s", s.cfg.ClassId, s.cfg.MeetingId, s.localId)
	return nil
}

// Leave はミーティングから退出します
// 全ループの停止・全ピア接続のクローズ・メディア解放は、リレーストアへの
// 退出通知が失敗しても必ず行われます。冪等です
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = false
	rec := s.recorder
	s.recorder = nil
	s.mu.Unlock()

	s.cancel()
	s.signaler.Stop()
	s.roster.Stop()
	s.peers.CloseAll()

	if rec != nil {
		// 停止されなかった録画は破棄する
		rec.Discard()
	}
	s.media.Release()

	err := s.backend.Leave(ctx, s.cfg.ClassId, s.cfg.MeetingId)
	if err != nil {
		// ローカルの後始末は完了しているので、通知失敗はTTLでの自然消滅に任せる
		log.Printf("failed to notify leave (participant entry will expire): %v", err)
	}
	log.Printf("left meeting: class=%s meeting=%s user=%s", s.cfg.ClassId, s.cfg.MeetingId, s.localId)
	return err
}

// LocalID は参加完了後の自分の参加者IDを返します（未参加なら空文字）
func (s *Session) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localId
}

// SetAudioEnabled はマイクのミュート状態を切り替えます
// 再ネゴシエーションは発生しません
func (s *Session) SetAudioEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	lm := s.media
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	lm.SetAudioEnabled(enabled)
	return nil
}

// SetVideoEnabled はカメラのオン・オフを切り替えます
func (s *Session) SetVideoEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	lm := s.media
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	lm.SetVideoEnabled(enabled)
	return nil
}

// Peers は参加者IDごとのピア接続状態のスナップショットを返します
func (s *Session) Peers() map[string]SessionState {
	s.mu.Lock()
	peers := s.peers
	s.mu.Unlock()
	if peers == nil {
		return map[string]SessionState{}
	}
	return peers.States()
}

// RemoteTracks は参加者IDごとの受信トラックのスナップショットを返します
func (s *Session) RemoteTracks() map[string][]*webrtc.TrackRemote {
	s.mu.Lock()
	peers := s.peers
	s.mu.Unlock()
	if peers == nil {
		return map[string][]*webrtc.TrackRemote{}
	}
	return peers.RemoteTracks()
}

// StartRecording はローカルメディアの録画を開始します
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return ErrNotJoined
	}
	if s.recorder != nil {
		return errors.New("recording already in progress")
	}

	rec := recording.NewRecorder(s.cfg.DownloadDir)
	rec.Arm(s.media)
	s.recorder = rec
	return nil
}

// StopRecording は録画を止めてリレーストアへアップロードします
// アップロードに失敗した場合、録画データはローカルに退避されます
func (s *Session) StopRecording(ctx context.Context, title string) (recording.Result, error) {
	s.mu.Lock()
	rec := s.recorder
	s.recorder = nil
	peers := s.peers
	s.mu.Unlock()
	if rec == nil {
		return recording.Result{}, ErrNotRecording
	}

	participantCount := 1
	if peers != nil {
		participantCount += peers.Count()
	}
	up := &backendUploader{backend: s.backend, classId: s.cfg.ClassId, meetingId: s.cfg.MeetingId}
	return rec.Stop(ctx, up, title, participantCount)
}

// backendUploader はBackendをrecording.Uploaderに適合させます
type backendUploader struct {
	backend   Backend
	classId   string
	meetingId string
}

func (u *backendUploader) Upload(ctx context.Context, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error) {
	return u.backend.UploadRecording(ctx, u.classId, u.meetingId, title, contentType, data, meta)
}

// SendProbe は疎通確認用の封筒を相手に送ります
// 受信側はこれを読み捨てるので、配送経路の確認にだけ使えます
func (s *Session) SendProbe(participantId string) error {
	s.mu.Lock()
	sig := s.signaler
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	return sig.Send(participantId, models.SignalProbe, json.RawMessage(`{}`))
}
