package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// sentSignal は送信1回ぶんの記録です
type sentSignal struct {
	To      string
	Kind    models.SignalKind
	Payload json.RawMessage
	At      time.Time
}

type uploadCall struct {
	Title       string
	ContentType string
	Data        []byte
	Meta        models.RecordingMetadata
}

// fakeBackend はBackendのインメモリ実装です
type fakeBackend struct {
	mu sync.Mutex

	user         models.User
	participants []models.Participant
	inbox        []models.SignalEnvelope

	sends   []sentSignal
	deleted []string
	uploads []uploadCall

	joinCalls        int
	leaveCalls       int
	signalsCalls     int
	participantCalls int

	joinErr         error
	leaveErr        error
	sendErr         error
	signalsErr      error
	participantsErr error
	uploadErr       error

	// signalsBlock が非nilの場合、Signalsはチャネルが閉じるまでブロックします
	signalsBlock chan struct{}
}

func newFakeBackend(user models.User) *fakeBackend {
	return &fakeBackend{user: user}
}

func (f *fakeBackend) CurrentUser(ctx context.Context) (models.User, error) {
	return f.user, nil
}

func (f *fakeBackend) Join(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return append([]models.Participant(nil), f.participants...), nil
}

func (f *fakeBackend) Leave(ctx context.Context, classId, meetingId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return f.leaveErr
}

func (f *fakeBackend) Participants(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participantCalls++
	if f.participantsErr != nil {
		return nil, f.participantsErr
	}
	return append([]models.Participant(nil), f.participants...), nil
}

func (f *fakeBackend) SendSignal(ctx context.Context, classId, meetingId, to string, kind models.SignalKind, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentSignal{To: to, Kind: kind, Payload: payload, At: time.Now()})
	return nil
}

func (f *fakeBackend) Signals(ctx context.Context, classId, meetingId string) ([]models.SignalEnvelope, error) {
	f.mu.Lock()
	block := f.signalsBlock
	f.signalsCalls++
	if f.signalsErr != nil {
		f.mu.Unlock()
		return nil, f.signalsErr
	}
	envs := append([]models.SignalEnvelope(nil), f.inbox...)
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return envs, nil
}

func (f *fakeBackend) DeleteSignal(ctx context.Context, classId, meetingId, envelopeId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, envelopeId)
	for i, env := range f.inbox {
		if env.EnvelopeId == envelopeId {
			f.inbox = append(f.inbox[:i], f.inbox[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) UploadRecording(ctx context.Context, classId, meetingId, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return models.RecordingArtifact{}, f.uploadErr
	}
	f.uploads = append(f.uploads, uploadCall{Title: title, ContentType: contentType, Data: data, Meta: meta})
	return models.RecordingArtifact{
		RecordingId:    fmt.Sprintf("rec-%d", len(f.uploads)),
		Title:          title,
		StorageBackend: models.StorageRelay,
		ContentType:    contentType,
		Metadata:       meta,
	}, nil
}

func (f *fakeBackend) Recordings(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error) {
	return nil, nil
}

func (f *fakeBackend) SecureFileURL(ctx context.Context, objectKey string, ttlMinutes int) (string, error) {
	return "", nil
}

func (f *fakeBackend) sentSignals() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSignal(nil), f.sends...)
}

func (f *fakeBackend) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeBackend) pushEnvelope(env models.SignalEnvelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, env)
}
