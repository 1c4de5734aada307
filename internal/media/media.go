// Package media はローカルメディア（カメラ・マイク相当）の取得と制御を担当します
// 取得したトラックは全ピア接続で共有され、ミュート・映像オフは
// 再ネゴシエーションなしでenabledフラグの切り替えだけで反映されます
package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrDeviceUnavailable はカメラ・マイクが利用できない場合のエラーです
// 参加処理にとって致命的で、自動リトライはしません
var ErrDeviceUnavailable = errors.New("media device unavailable or permission denied")

// Constraints は取得するメディアの種類を指定します
type Constraints struct {
	Audio bool
	Video bool
}

// Sink はエンコード済みメディアデータの購読先です（録画など）
type Sink interface {
	WriteChunk(data []byte, duration time.Duration)
}

// LocalMedia はローカルメディアストリームを表します
// ミーティング参加中のシングルトンで、Releaseまで同じトラックを使い続けます
type LocalMedia struct {
	mu sync.RWMutex

	source     Source
	audioTrack *webrtc.TrackLocalStaticSample
	videoTrack *webrtc.TrackLocalStaticSample

	audioEnabled bool
	videoEnabled bool

	sinks []Sink

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	released bool
}

// Acquire はソースを開いてローカルメディアを生成し、サンプル供給を開始します
// デバイスが開けない場合は ErrDeviceUnavailable を返します
func Acquire(source Source, c Constraints) (*LocalMedia, error) {
	if source == nil || (!c.Audio && !c.Video) {
		return nil, ErrDeviceUnavailable
	}
	if err := source.Open(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	lm := &LocalMedia{
		source:       source,
		audioEnabled: c.Audio,
		videoEnabled: c.Video,
	}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "schoollive-local")
		if err != nil {
			_ = source.Close()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		lm.audioTrack = track
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "schoollive-local")
		if err != nil {
			_ = source.Close()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		lm.videoTrack = track
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	if lm.audioTrack != nil {
		lm.wg.Add(1)
		go lm.pump(ctx, "audio")
	}
	if lm.videoTrack != nil {
		lm.wg.Add(1)
		go lm.pump(ctx, "video")
	}

	return lm, nil
}

// pump はソースからサンプルを読み、トラックと購読先へ書き込み続けます
// enabledがfalseの間は書き込みをスキップします（トラック自体は生かしたまま）
func (lm *LocalMedia) pump(ctx context.Context, kind string) {
	defer lm.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		var (
			s   pionmedia.Sample
			err error
		)
		if kind == "audio" {
			s, err = lm.source.ReadAudio()
		} else {
			s, err = lm.source.ReadVideo()
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("media source read failed, stopping %s pump: %v", kind, err)
			}
			return
		}

		if lm.trackEnabled(kind) {
			track := lm.track(kind)
			if err := track.WriteSample(s); err != nil {
				log.Printf("failed to write %s sample: %v", kind, err)
			}
			lm.fanout(s.Data, s.Duration)
		}

		// ソースのペースに合わせて待つ
		timer := time.NewTimer(s.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (lm *LocalMedia) track(kind string) *webrtc.TrackLocalStaticSample {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if kind == "audio" {
		return lm.audioTrack
	}
	return lm.videoTrack
}

func (lm *LocalMedia) trackEnabled(kind string) bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if kind == "audio" {
		return lm.audioEnabled
	}
	return lm.videoEnabled
}

func (lm *LocalMedia) fanout(data []byte, d time.Duration) {
	lm.mu.RLock()
	sinks := make([]Sink, len(lm.sinks))
	copy(sinks, lm.sinks)
	lm.mu.RUnlock()

	for _, sink := range sinks {
		sink.WriteChunk(data, d)
	}
}

// Tracks は全ピア接続に付与するローカルトラックの一覧を返します
func (lm *LocalMedia) Tracks() []webrtc.TrackLocal {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	tracks := make([]webrtc.TrackLocal, 0, 2)
	if lm.audioTrack != nil {
		tracks = append(tracks, lm.audioTrack)
	}
	if lm.videoTrack != nil {
		tracks = append(tracks, lm.videoTrack)
	}
	return tracks
}

// SetAudioEnabled はマイクのミュート状態を切り替えます
// 冪等で、ストリームの再生成や再ネゴシエーションは発生しません
func (lm *LocalMedia) SetAudioEnabled(enabled bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.audioEnabled = enabled
}

// SetVideoEnabled はカメラのオン・オフを切り替えます
// 冪等で、ストリームの再生成や再ネゴシエーションは発生しません
func (lm *LocalMedia) SetVideoEnabled(enabled bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.videoEnabled = enabled
}

// AudioEnabled は現在のマイク状態を返します
func (lm *LocalMedia) AudioEnabled() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.audioEnabled
}

// VideoEnabled は現在のカメラ状態を返します
func (lm *LocalMedia) VideoEnabled() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.videoEnabled
}

// AddSink はエンコード済みデータの購読先を追加します（録画用）
func (lm *LocalMedia) AddSink(sink Sink) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.sinks = append(lm.sinks, sink)
}

// RemoveSink は購読先を取り外します
func (lm *LocalMedia) RemoveSink(sink Sink) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for i, s := range lm.sinks {
		if s == sink {
			lm.sinks = append(lm.sinks[:i], lm.sinks[i+1:]...)
			return
		}
	}
}

// Release は全トラックの供給を止めてソースを閉じます
// どの終了経路（通常退出・エラー・破棄）でも必ず呼ばれる前提で、冪等です
func (lm *LocalMedia) Release() {
	lm.mu.Lock()
	if lm.released {
		lm.mu.Unlock()
		return
	}
	lm.released = true
	lm.mu.Unlock()

	lm.cancel()
	lm.wg.Wait()
	if err := lm.source.Close(); err != nil {
		log.Printf("failed to close media source: %v", err)
	}
}
