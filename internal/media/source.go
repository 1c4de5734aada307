package media

import (
	"io"
	"math"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Source はメディアサンプルの供給元です
// 実機のカメラ・マイクはこのインターフェースの実装として差し込みます
type Source interface {
	Open(c Constraints) error
	ReadAudio() (pionmedia.Sample, error)
	ReadVideo() (pionmedia.Sample, error)
	Close() error
}

const (
	audioSampleRate    = 48000
	audioChannels      = 2
	audioFrameDuration = 20 * time.Millisecond
	videoFrameDuration = 33 * time.Millisecond
	videoFrameWidth    = 320
	videoFrameHeight   = 240
	toneFrequency      = 440.0 // A4
)

// SyntheticSource はテスト・デモ用の合成メディアソースです
// 音声はサイン波、映像は動くグラデーションパターンを生成します
type SyntheticSource struct {
	mu         sync.Mutex
	audioPhase int
	videoFrame int
	closed     bool
}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

func (s *SyntheticSource) Open(c Constraints) error { return nil }

// ReadAudio は20msぶんの16bit PCMサイン波を返します
func (s *SyntheticSource) ReadAudio() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pionmedia.Sample{}, io.EOF
	}

	samples := audioSampleRate / 50 // 20ms
	data := make([]byte, samples*audioChannels*2)

	amplitude := 0.3 * float64(0x7FFF) // クリップしないよう最大振幅の30%
	for i := 0; i < samples; i++ {
		t := float64(s.audioPhase+i) / float64(audioSampleRate)
		sample := int16(amplitude * math.Sin(2*math.Pi*toneFrequency*t))
		for ch := 0; ch < audioChannels; ch++ {
			idx := (i*audioChannels + ch) * 2
			data[idx] = byte(sample & 0xFF)
			data[idx+1] = byte((sample >> 8) & 0xFF)
		}
	}
	s.audioPhase += samples

	return pionmedia.Sample{Data: data, Duration: audioFrameDuration}, nil
}

// ReadVideo は1フレームぶんの動くパターンを返します
func (s *SyntheticSource) ReadVideo() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pionmedia.Sample{}, io.EOF
	}

	data := make([]byte, videoFrameWidth*videoFrameHeight)
	offset := s.videoFrame % 256
	for y := 0; y < videoFrameHeight; y++ {
		for x := 0; x < videoFrameWidth; x++ {
			data[y*videoFrameWidth+x] = byte((x + y + offset) % 256)
		}
	}
	s.videoFrame++

	return pionmedia.Sample{Data: data, Duration: videoFrameDuration}, nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
