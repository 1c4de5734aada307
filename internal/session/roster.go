package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// peerInitiator はロスター同期からピア接続の開始を依頼するための最小インターフェースです
type peerInitiator interface {
	Has(participantId string) bool
	Initiate(participantId string)
}

// Roster は参加者一覧の定期同期を担当します
// 新しい参加者を見つけたら、辞書順で小さい側だけがオファーを出します
// （両側が同時にオファーを出すグレア衝突の決定的な回避策）
type Roster struct {
	backend   Backend
	classId   string
	meetingId string
	localId   func() string
	interval  time.Duration
	peers     peerInitiator

	refreshing atomic.Bool
	wg         sync.WaitGroup
}

func NewRoster(backend Backend, classId, meetingId string, localId func() string, interval time.Duration, peers peerInitiator) *Roster {
	return &Roster{
		backend:   backend,
		classId:   classId,
		meetingId: meetingId,
		localId:   localId,
		interval:  interval,
		peers:     peers,
	}
}

// Start は同期ループを開始します
func (r *Roster) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refreshOnce(ctx)
			}
		}
	}()
}

// refreshOnce は参加者一覧を取り直し、未接続の相手への接続を開始します
// 前回の同期がまだ終わっていない場合は何もしません
func (r *Roster) refreshOnce(ctx context.Context) {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer r.refreshing.Store(false)

	local := r.localId()
	if local == "" {
		// 参加処理が完了して自分のIDが確定するまでは開始しない
		return
	}

	participants, err := r.backend.Participants(ctx, r.classId, r.meetingId)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("roster refresh failed (will retry next cycle): %v", err)
		}
		return
	}

	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		id := p.UserId
		if id == "" || id == local {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if r.peers.Has(id) {
			continue
		}
		if local < id {
			r.peers.Initiate(id)
		}
		// 辞書順で大きい側は相手からのオファーを待つ
	}
}

// Stop は同期ループの終了を待ちます
// ループ自体はStartに渡したコンテキストのキャンセルで止めます
func (r *Roster) Stop() {
	r.wg.Wait()
}
