package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/handlers"
	httpx "github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/http"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/repo"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
)

// ---- インメモリリポジトリ（HTTP経由の結合テスト用） ----

type memMeetingRepo struct {
	mu           sync.Mutex
	meetings     map[string]models.Meeting
	participants map[string]map[string]models.Participant
}

func key(classId, meetingId string) string { return classId + "/" + meetingId }

func (r *memMeetingRepo) CreateMeeting(_ context.Context, m models.Meeting, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings[key(m.ClassId, m.MeetingId)] = m
	return nil
}

func (r *memMeetingRepo) GetMeeting(_ context.Context, classId, meetingId string) (models.Meeting, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[key(classId, meetingId)]
	return m, ok, nil
}

func (r *memMeetingRepo) DeleteMeeting(_ context.Context, classId, meetingId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meetings, key(classId, meetingId))
	delete(r.participants, key(classId, meetingId))
	return nil
}

func (r *memMeetingRepo) ExistsMeeting(_ context.Context, classId, meetingId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.meetings[key(classId, meetingId)]
	return ok, nil
}

func (r *memMeetingRepo) TouchMeeting(_ context.Context, _, _ string, _ int) error { return nil }

func (r *memMeetingRepo) AddParticipant(_ context.Context, classId, meetingId string, p models.Participant, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(classId, meetingId)
	if r.participants[k] == nil {
		r.participants[k] = make(map[string]models.Participant)
	}
	r.participants[k][p.UserId] = p
	return nil
}

func (r *memMeetingRepo) RemoveParticipant(_ context.Context, classId, meetingId, userId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants[key(classId, meetingId)], userId)
	return nil
}

func (r *memMeetingRepo) ListParticipants(_ context.Context, classId, meetingId string) ([]models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Participant, 0)
	for _, p := range r.participants[key(classId, meetingId)] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserId < out[j].UserId })
	return out, nil
}

func (r *memMeetingRepo) UpdateParticipantMute(_ context.Context, classId, meetingId, userId string, isMuted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[key(classId, meetingId)][userId]
	if !ok {
		return repo.ErrParticipantNotFound
	}
	p.IsMuted = isMuted
	r.participants[key(classId, meetingId)][userId] = p
	return nil
}

type memSignalRepo struct {
	mu    sync.Mutex
	boxes map[string][]models.SignalEnvelope
}

func (r *memSignalRepo) AppendSignal(_ context.Context, classId, meetingId string, env models.SignalEnvelope, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(classId, meetingId) + "/" + env.To
	r.boxes[k] = append(r.boxes[k], env)
	return nil
}

func (r *memSignalRepo) ListSignalsFor(_ context.Context, classId, meetingId, userId string) ([]models.SignalEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SignalEnvelope(nil), r.boxes[key(classId, meetingId)+"/"+userId]...), nil
}

func (r *memSignalRepo) DeleteSignal(_ context.Context, classId, meetingId, userId, envelopeId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(classId, meetingId) + "/" + userId
	for i, env := range r.boxes[k] {
		if env.EnvelopeId == envelopeId {
			r.boxes[k] = append(r.boxes[k][:i], r.boxes[k][i+1:]...)
			break
		}
	}
	return nil
}

type memRecordingRepo struct {
	mu        sync.Mutex
	artifacts map[string]models.RecordingArtifact
	blobs     map[string][]byte
}

func (r *memRecordingRepo) SaveArtifact(_ context.Context, classId, meetingId string, art models.RecordingArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[key(classId, meetingId)+"/"+art.RecordingId] = art
	return nil
}

func (r *memRecordingRepo) GetArtifact(_ context.Context, classId, meetingId, recordingId string) (models.RecordingArtifact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.artifacts[key(classId, meetingId)+"/"+recordingId]
	return art, ok, nil
}

func (r *memRecordingRepo) ListArtifacts(_ context.Context, classId, meetingId string) ([]models.RecordingArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RecordingArtifact, 0)
	prefix := key(classId, meetingId) + "/"
	for k, art := range r.artifacts {
		if strings.HasPrefix(k, prefix) {
			out = append(out, art)
		}
	}
	return out, nil
}

func (r *memRecordingRepo) SaveBlob(_ context.Context, classId, meetingId, recordingId string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[key(classId, meetingId)+"/"+recordingId] = data
	return nil
}

func (r *memRecordingRepo) GetBlob(_ context.Context, classId, meetingId, recordingId string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[key(classId, meetingId)+"/"+recordingId]
	return data, ok, nil
}

// ---- テスト用サーバー ----

func newTestServer(t *testing.T) (*httptest.Server, *memMeetingRepo) {
	t.Helper()
	meetings := &memMeetingRepo{
		meetings:     make(map[string]models.Meeting),
		participants: make(map[string]map[string]models.Participant),
	}
	signals := &memSignalRepo{boxes: make(map[string][]models.SignalEnvelope)}
	recordings := &memRecordingRepo{
		artifacts: make(map[string]models.RecordingArtifact),
		blobs:     make(map[string][]byte),
	}

	meetingSvc := service.NewMeetingService(meetings, service.NewMeetingIDGenerator(), 3600)
	signalSvc := service.NewSignalService(meetings, signals, 300)
	recordingSvc := service.NewRecordingService(recordings, nil)

	router := httpx.NewRouter(
		handlers.NewMeetingHandler(meetingSvc),
		handlers.NewSignalHandler(signalSvc),
		handlers.NewRecordingHandler(recordingSvc, "http://relay.example"),
		handlers.NewWebSocketHandler(meetingSvc),
		nil,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, meetings
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, userId string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if userId != "" {
		req.Header.Set("X-User-Id", userId)
		req.Header.Set("X-User-Name", userId)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && json.Valid(raw) {
		_ = json.Unmarshal(raw, &fields)
	}
	return resp, fields
}

func createMeeting(t *testing.T, srv *httptest.Server, classId, owner string) string {
	t.Helper()
	resp, fields := doRequest(t, srv, http.MethodPost, "/api/v1/classes/"+classId+"/meetings/create", owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meetingId string
	require.NoError(t, json.Unmarshal(fields["meetingId"], &meetingId))
	require.NotEmpty(t, meetingId)
	return meetingId
}

func TestMeetingLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	meetingId := createMeeting(t, srv, "class1", "teacher")
	base := "/api/v1/classes/class1/meetings/" + meetingId

	// 生徒が参加すると参加者一覧が返る
	resp, fields := doRequest(t, srv, http.MethodPost, base+"/join", "student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var participants []models.Participant
	require.NoError(t, json.Unmarshal(fields["participants"], &participants))
	assert.Len(t, participants, 2)

	// オーナー以外は削除できない
	resp, _ = doRequest(t, srv, http.MethodDelete, base+"/", "student", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// 退出
	resp, _ = doRequest(t, srv, http.MethodPost, base+"/leave", "student", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// オーナーは削除できる
	resp, _ = doRequest(t, srv, http.MethodDelete, base+"/", "teacher", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, base+"/", "teacher", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinUnknownMeetingReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/classes/class1/meetings/NOPE/join", "student", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthenticationRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/classes/class1/meetings/create", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignalMailboxOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	meetingId := createMeeting(t, srv, "class1", "teacher")
	base := "/api/v1/classes/class1/meetings/" + meetingId

	doRequest(t, srv, http.MethodPost, base+"/join", "student", nil)

	// 生徒→教師にオファーを送る
	resp, fields := doRequest(t, srv, http.MethodPost, base+"/signals", "student", map[string]any{
		"to":      "teacher",
		"kind":    "offer",
		"payload": map[string]string{"sdp": "v=0"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var envelopeId string
	require.NoError(t, json.Unmarshal(fields["envelopeId"], &envelopeId))

	// 教師のメールボックスにだけ入っている
	resp, fields = doRequest(t, srv, http.MethodGet, base+"/signals", "teacher", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var messages []models.SignalEnvelope
	require.NoError(t, json.Unmarshal(fields["messages"], &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "student", messages[0].From)
	assert.Equal(t, models.SignalOffer, messages[0].Kind)

	resp, fields = doRequest(t, srv, http.MethodGet, base+"/signals", "student", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(fields["messages"], &messages))
	assert.Empty(t, messages)

	// 処理後に個別削除
	resp, _ = doRequest(t, srv, http.MethodDelete, base+"/signals/"+envelopeId, "teacher", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, fields = doRequest(t, srv, http.MethodGet, base+"/signals", "teacher", nil)
	require.NoError(t, json.Unmarshal(fields["messages"], &messages))
	assert.Empty(t, messages)
}

func TestSignalUnknownKindRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	meetingId := createMeeting(t, srv, "class1", "teacher")

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/classes/class1/meetings/"+meetingId+"/signals", "teacher", map[string]any{
		"to":      "student",
		"kind":    "renegotiate",
		"payload": map[string]string{},
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRecordingUploadAndDownloadOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	meetingId := createMeeting(t, srv, "class1", "teacher")
	base := "/api/v1/classes/class1/meetings/" + meetingId

	payload := bytes.Repeat([]byte{0xaa}, 2000)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "授業の録画"))
	require.NoError(t, mw.WriteField("metadata", `{"durationMs":1500,"participantCount":2}`))
	part, err := mw.CreateFormFile("file", "recording.webm")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+base+"/recordings", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", "teacher")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var uploadResp struct {
		Recording models.RecordingArtifact `json:"recording"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploadResp))
	recordingId := uploadResp.Recording.RecordingId
	require.NotEmpty(t, recordingId)
	assert.Equal(t, models.StorageRelay, uploadResp.Recording.StorageBackend)
	assert.Equal(t, int64(1500), uploadResp.Recording.Metadata.DurationMs)

	// メタデータ取得にはdownloadUrlが埋め込まれる
	getResp, fields := doRequest(t, srv, http.MethodGet, base+"/recordings/"+recordingId, "teacher", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var downloadUrl string
	require.NoError(t, json.Unmarshal(fields["downloadUrl"], &downloadUrl))
	assert.Contains(t, downloadUrl, "/recordings/"+recordingId+"/download")

	// バイナリ本体のダウンロード
	dlResp, err := srv.Client().Get(srv.URL + base + "/recordings/" + recordingId + "/download")
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)
	data, err := io.ReadAll(dlResp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// 存在しない録画は404
	nfResp, _ := doRequest(t, srv, http.MethodGet, base+"/recordings/NOPE", "teacher", nil)
	assert.Equal(t, http.StatusNotFound, nfResp.StatusCode)
}

func TestSecureURLUnavailableWithoutObjectStore(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/files/secure-url?key=classes/c1/x.webm", "teacher", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketPresenceAndMute(t *testing.T) {
	srv, repoState := newTestServer(t)
	meetingId := createMeeting(t, srv, "class1", "teacher")
	base := "/api/v1/classes/class1/meetings/" + meetingId

	doRequest(t, srv, http.MethodPost, base+"/join", "student", nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + base + "/ws"

	teacherConn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId=teacher", nil)
	require.NoError(t, err)
	defer teacherConn.Close()

	studentConn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId=student", nil)
	require.NoError(t, err)
	defer studentConn.Close()

	// 教師には生徒の参加が通知される
	var msg handlers.WebSocketMessage
	require.NoError(t, teacherConn.ReadJSON(&msg))
	assert.Equal(t, "user_joined", msg.Type)

	// 生徒がミュートすると教師に通知され、レジストリにも反映される
	require.NoError(t, studentConn.WriteJSON(handlers.WebSocketMessage{
		Type:    "mute_state",
		Payload: handlers.MuteStatePayload{UserId: "student", IsMuted: true},
	}))
	require.NoError(t, teacherConn.ReadJSON(&msg))
	assert.Equal(t, "user_mute_state_changed", msg.Type)

	participants, err := repoState.ListParticipants(context.Background(), "class1", meetingId)
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserId == "student" {
			assert.True(t, p.IsMuted)
		}
	}
}
