package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

const sendTimeout = 10 * time.Second

// outboundSignal は送信待ちの封筒です
type outboundSignal struct {
	to      string
	kind    models.SignalKind
	payload json.RawMessage
}

// Signaler はリレーストア経由のシグナリング輸送を担当します
// 送信はFIFOキューに積んで最小間隔を空けながら順に流し、
// 受信はジッター付きのポーリングで自分宛の封筒を取り込みます
type Signaler struct {
	backend   Backend
	classId   string
	meetingId string
	localId   string

	spacing    time.Duration
	pollBase   time.Duration
	pollJitter time.Duration

	// handler はStart前に一度だけ設定します
	handler func(models.SignalEnvelope)

	mu       sync.Mutex
	queue    []outboundSignal
	draining bool
	lastSend time.Time
	stopped  bool

	polling atomic.Bool
	wg      sync.WaitGroup
}

func NewSignaler(backend Backend, classId, meetingId, localId string, spacing, pollBase, pollJitter time.Duration) *Signaler {
	return &Signaler{
		backend:    backend,
		classId:    classId,
		meetingId:  meetingId,
		localId:    localId,
		spacing:    spacing,
		pollBase:   pollBase,
		pollJitter: pollJitter,
	}
}

// SetHandler は受信封筒の処理関数を設定します
func (s *Signaler) SetHandler(h func(models.SignalEnvelope)) {
	s.handler = h
}

// Send はペイロードをJSONにして送信キューに積みます
// キューが空だった場合は排出goroutineを起動します
func (s *Signaler) Send(to string, kind models.SignalKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signal payload: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, outboundSignal{to: to, kind: kind, payload: raw})
	if s.draining {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain()
	return nil
}

// drain はキューが空になるまで1通ずつ送信します
// 排出goroutineは常に最大1本です
func (s *Signaler) drain() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		out := s.queue[0]
		s.queue = s.queue[1:]
		wait := s.spacing - time.Since(s.lastSend)
		s.mu.Unlock()

		if wait > 0 {
			time.Sleep(wait)
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.backend.SendSignal(ctx, s.classId, s.meetingId, out.to, out.kind, out.payload)
		cancel()

		s.mu.Lock()
		s.lastSend = time.Now()
		s.mu.Unlock()

		if err != nil {
			// 送信失敗した封筒は捨てる
			// オファー・アンサーは次のロスター同期でやり直されます
			log.Printf("signal send failed: to=%s kind=%s err=%v", out.to, out.kind, err)
		}
	}
}

// Start は受信ポーリングループを開始します
func (s *Signaler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			d := s.pollBase
			if s.pollJitter > 0 {
				// 複数クライアントのポーリングが同期しないようジッターを加える
				d += time.Duration(rand.Int63n(int64(s.pollJitter)))
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s.pollOnce(ctx)
		}
	}()
}

// pollOnce は自分宛の封筒を取得して順に処理し、処理後に削除します
// 前回のポーリングがまだ終わっていない場合は何もしません
func (s *Signaler) pollOnce(ctx context.Context) {
	if !s.polling.CompareAndSwap(false, true) {
		return
	}
	defer s.polling.Store(false)

	envelopes, err := s.backend.Signals(ctx, s.classId, s.meetingId)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("signal poll failed (will retry next cycle): %v", err)
		}
		return
	}

	for _, env := range envelopes {
		if env.To == s.localId && s.handler != nil {
			s.handler(env)
		}
		// 処理の成否に関わらず削除し、同じ封筒の再処理を防ぐ
		if err := s.backend.DeleteSignal(ctx, s.classId, s.meetingId, env.EnvelopeId); err != nil && ctx.Err() == nil {
			log.Printf("failed to delete signal envelope: id=%s err=%v", env.EnvelopeId, err)
		}
	}
}

// Stop は送信を止めて実行中のgoroutineの終了を待ちます
// ポーリングループはStartに渡したコンテキストのキャンセルで止めてから呼びます
func (s *Signaler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	s.wg.Wait()
}
