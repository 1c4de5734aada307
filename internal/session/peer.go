package session

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// SessionState はピアセッションの状態です
type SessionState int

const (
	StateNew SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// rtcConn は*webrtc.PeerConnectionのうちマネージャが使う操作だけを
// 切り出したインターフェースです（テストで偽物に差し替えるため）
type rtcConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

var _ rtcConn = (*webrtc.PeerConnection)(nil)

// signalSender はピアマネージャからシグナリング送信を依頼するための最小インターフェースです
type signalSender interface {
	Send(to string, kind models.SignalKind, payload any) error
}

// peerSession は1人の相手参加者との接続状態です
type peerSession struct {
	participantId string
	conn          rtcConn
	state         SessionState
	// pending はリモート記述が設定されるまでのICE候補バッファです
	// 候補がアンサーより先に届いても捨てずに、後でまとめて適用します
	pending []webrtc.ICECandidateInit
}

// PeerManager は参加者IDごとのピアセッションを管理します
// 同じ相手に対するセッションは常に最大1つで、閉じたセッションは
// 復活させず、再接続時は新しいセッションを作ります
type PeerManager struct {
	mu           sync.RWMutex
	sessions     map[string]*peerSession
	remoteTracks map[string][]*webrtc.TrackRemote

	signals signalSender
	local   *media.LocalMedia
	newConn func() (rtcConn, error)
}

func NewPeerManager(signals signalSender, local *media.LocalMedia, iceServers []string) *PeerManager {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PeerManager{
		sessions:     make(map[string]*peerSession),
		remoteTracks: make(map[string][]*webrtc.TrackRemote),
		signals:      signals,
		local:        local,
		newConn: func() (rtcConn, error) {
			return webrtc.NewPeerConnection(cfg)
		},
	}
}

// Has は相手とのセッションが存在するかを返します
func (m *PeerManager) Has(participantId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[participantId]
	return ok
}

// Count は現在のセッション数を返します
func (m *PeerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// States は参加者IDごとの現在の状態のスナップショットを返します
func (m *PeerManager) States() map[string]SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SessionState, len(m.sessions))
	for id, ps := range m.sessions {
		out[id] = ps.state
	}
	return out
}

// RemoteTracks は参加者IDごとの受信トラックのスナップショットを返します
func (m *PeerManager) RemoteTracks() map[string][]*webrtc.TrackRemote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]*webrtc.TrackRemote, len(m.remoteTracks))
	for id, tracks := range m.remoteTracks {
		cp := make([]*webrtc.TrackRemote, len(tracks))
		copy(cp, tracks)
		out[id] = cp
	}
	return out
}

// Initiate は相手へのオファーを作って送信します（自分が辞書順で小さい側）
// すでにセッションがある場合は何もしません
func (m *PeerManager) Initiate(participantId string) {
	ps, created := m.register(participantId)
	if !created {
		return
	}

	offer, err := ps.conn.CreateOffer(nil)
	if err == nil {
		err = ps.conn.SetLocalDescription(offer)
	}
	if err == nil {
		err = m.signals.Send(participantId, models.SignalOffer, offer)
	}
	if err != nil {
		// 失敗したセッションは残さない（次のロスター同期でやり直せる）
		log.Printf("failed to initiate peer connection: participant=%s err=%v", participantId, err)
		m.Close(participantId)
		return
	}
	m.setState(participantId, StateConnecting)
}

// HandleEnvelope は受信したシグナリング封筒を種別ごとに処理します
func (m *PeerManager) HandleEnvelope(env models.SignalEnvelope) {
	switch env.Kind {
	case models.SignalOffer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &sd); err != nil {
			log.Printf("malformed offer payload from %s: %v", env.From, err)
			return
		}
		m.handleOffer(env.From, sd)
	case models.SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &sd); err != nil {
			log.Printf("malformed answer payload from %s: %v", env.From, err)
			return
		}
		m.handleAnswer(env.From, sd)
	case models.SignalCandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			log.Printf("malformed candidate payload from %s: %v", env.From, err)
			return
		}
		m.handleCandidate(env.From, c)
	case models.SignalProbe:
		// 疎通確認用の封筒は読み捨て
	default:
		log.Printf("unknown signal kind %q from %s, discarding", env.Kind, env.From)
	}
}

// register は新しいセッションを登録します
// すでに同じ相手とのセッションがある場合はそれを返し、createdはfalseになります
func (m *PeerManager) register(participantId string) (*peerSession, bool) {
	m.mu.Lock()
	if existing, ok := m.sessions[participantId]; ok {
		m.mu.Unlock()
		return existing, false
	}

	conn, err := m.newConn()
	if err != nil {
		m.mu.Unlock()
		log.Printf("failed to create peer connection: participant=%s err=%v", participantId, err)
		return nil, false
	}
	ps := &peerSession{participantId: participantId, conn: conn, state: StateNew}
	m.sessions[participantId] = ps
	m.mu.Unlock()

	if err := m.attach(ps); err != nil {
		log.Printf("failed to attach local tracks: participant=%s err=%v", participantId, err)
		m.Close(participantId)
		return nil, false
	}
	return ps, true
}

// attach はローカルトラックとコールバックを接続に取り付けます
func (m *PeerManager) attach(ps *peerSession) error {
	for _, track := range m.local.Tracks() {
		if _, err := ps.conn.AddTrack(track); err != nil {
			return err
		}
	}

	id := ps.participantId
	ps.conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signals.Send(id, models.SignalCandidate, c.ToJSON()); err != nil {
			log.Printf("failed to queue ice candidate: participant=%s err=%v", id, err)
		}
	})
	ps.conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		m.remoteTracks[id] = append(m.remoteTracks[id], track)
		m.mu.Unlock()
	})
	ps.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleConnectionState(id, state)
	})
	return nil
}

// handleOffer は相手からのオファーに応答します（自分が辞書順で大きい側）
// 同じ相手とのセッションがすでにある場合、オファーは重複として無視します
func (m *PeerManager) handleOffer(from string, sd webrtc.SessionDescription) {
	m.mu.RLock()
	_, exists := m.sessions[from]
	m.mu.RUnlock()
	if exists {
		log.Printf("duplicate offer from %s, ignoring", from)
		return
	}

	ps, created := m.register(from)
	if !created {
		return
	}

	err := ps.conn.SetRemoteDescription(sd)
	if err == nil {
		m.flushPending(ps)
		var answer webrtc.SessionDescription
		answer, err = ps.conn.CreateAnswer(nil)
		if err == nil {
			err = ps.conn.SetLocalDescription(answer)
		}
		if err == nil {
			err = m.signals.Send(from, models.SignalAnswer, answer)
		}
	}
	if err != nil {
		log.Printf("failed to answer offer: participant=%s err=%v", from, err)
		m.Close(from)
		return
	}
	m.setState(from, StateConnecting)
}

// handleAnswer は自分のオファーへのアンサーを適用します
// オファーを出していない相手からのアンサーは遅延・重複として読み捨てます
func (m *PeerManager) handleAnswer(from string, sd webrtc.SessionDescription) {
	m.mu.RLock()
	ps, ok := m.sessions[from]
	m.mu.RUnlock()
	if !ok {
		log.Printf("stale answer from %s (no session), discarding", from)
		return
	}
	if ps.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Printf("out-of-order answer from %s (state=%s), discarding", from, ps.conn.SignalingState())
		return
	}

	if err := ps.conn.SetRemoteDescription(sd); err != nil {
		log.Printf("failed to apply answer: participant=%s err=%v", from, err)
		m.Close(from)
		return
	}
	m.flushPending(ps)
}

// handleCandidate はICE候補を適用します
// リモート記述がまだない場合はバッファし、記述が入った時点でまとめて適用します
func (m *PeerManager) handleCandidate(from string, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	ps, ok := m.sessions[from]
	if !ok {
		m.mu.Unlock()
		log.Printf("candidate from %s without session, discarding", from)
		return
	}
	if ps.conn.RemoteDescription() == nil {
		ps.pending = append(ps.pending, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := ps.conn.AddICECandidate(c); err != nil {
		log.Printf("failed to add ice candidate: participant=%s err=%v", from, err)
	}
}

// flushPending はバッファ済みのICE候補をまとめて適用します
func (m *PeerManager) flushPending(ps *peerSession) {
	m.mu.Lock()
	pending := ps.pending
	ps.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := ps.conn.AddICECandidate(c); err != nil {
			log.Printf("failed to add buffered ice candidate: participant=%s err=%v", ps.participantId, err)
		}
	}
}

func (m *PeerManager) handleConnectionState(participantId string, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.setState(participantId, StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		// 切断されたセッションは取り除く
		// 相手がまだロスターに居れば次の同期で新しいセッションが作られます
		m.setState(participantId, StateDisconnected)
		m.Close(participantId)
	case webrtc.PeerConnectionStateFailed:
		m.setState(participantId, StateFailed)
		m.Close(participantId)
	case webrtc.PeerConnectionStateClosed:
		// Close側で処理済み
	}
}

// setState はセッションの状態を更新します
// Closedは終端で、そこからの遷移はありません
func (m *PeerManager) setState(participantId string, state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.sessions[participantId]
	if !ok || ps.state == StateClosed {
		return
	}
	ps.state = state
}

// Close は相手とのセッションを閉じて取り除きます。冪等です
func (m *PeerManager) Close(participantId string) {
	m.mu.Lock()
	ps, ok := m.sessions[participantId]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, participantId)
	delete(m.remoteTracks, participantId)
	ps.state = StateClosed
	m.mu.Unlock()

	if err := ps.conn.Close(); err != nil {
		log.Printf("failed to close peer connection: participant=%s err=%v", participantId, err)
	}
}

// CloseAll は全セッションを閉じます（退出時）
func (m *PeerManager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
}
