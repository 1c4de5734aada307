package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

func testUser() models.User {
	return models.User{UserId: "alice", UserName: "Alice", FullName: "Alice Sato"}
}

func TestClientSendsIdentityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get("X-User-Id"))
		assert.Equal(t, "Alice", r.Header.Get("X-User-Name"))
		assert.Equal(t, "Alice Sato", r.Header.Get("X-User-Fullname"))
		json.NewEncoder(w).Encode(testUser())
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserId)
}

func TestClientJoinParsesParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/classes/c1/meetings/m1/join", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"participants": []models.Participant{{UserId: "alice"}, {UserId: "bob"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	participants, err := c.Join(context.Background(), "c1", "m1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "bob", participants[1].UserId)
}

func TestClientSendSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/classes/c1/meetings/m1/signals", r.URL.Path)
		var body struct {
			To      string          `json:"to"`
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bob", body.To)
		assert.Equal(t, "offer", body.Kind)
		assert.JSONEq(t, `{"sdp":"v=0"}`, string(body.Payload))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "envelopeId": "e1"})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	err := c.SendSignal(context.Background(), "c1", "m1", "bob", models.SignalOffer, json.RawMessage(`{"sdp":"v=0"}`))
	require.NoError(t, err)
}

func TestClientSignalsAndDelete(t *testing.T) {
	var deletedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletedPath = r.URL.Path
			json.NewEncoder(w).Encode(map[string]any{"success": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []models.SignalEnvelope{{EnvelopeId: "e1", From: "bob", To: "alice", Kind: models.SignalOffer}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	envs, err := c.Signals(context.Background(), "c1", "m1")
	require.NoError(t, err)
	require.Len(t, envs, 1)

	require.NoError(t, c.DeleteSignal(context.Background(), "c1", "m1", envs[0].EnvelopeId))
	assert.Equal(t, "/api/v1/classes/c1/meetings/m1/signals/e1", deletedPath)
}

func TestClientUploadRecordingMultipart(t *testing.T) {
	payload := []byte("webm-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "授業", r.FormValue("title"))

		var meta models.RecordingMetadata
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))
		assert.Equal(t, int64(1234), meta.DurationMs)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "video/webm", header.Header.Get("Content-Type"))
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, payload, data)

		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"recording": models.RecordingArtifact{RecordingId: "r1", Title: "授業"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	art, err := c.UploadRecording(context.Background(), "c1", "m1", "授業", "video/webm",
		payload, models.RecordingMetadata{DurationMs: 1234})
	require.NoError(t, err)
	assert.Equal(t, "r1", art.RecordingId)
}

func TestClientSecureFileURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/files/secure-url", r.URL.Path)
		assert.Equal(t, "classes/c1/x.webm", r.URL.Query().Get("key"))
		assert.Equal(t, "15", r.URL.Query().Get("ttlMinutes"))
		json.NewEncoder(w).Encode(map[string]any{"url": "https://signed.example/x"})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	url, err := c.SecureFileURL(context.Background(), "classes/c1/x.webm", 15)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/x", url)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "meeting not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, testUser(), srv.Client())
	_, err := c.Join(context.Background(), "c1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meeting not found")
	assert.Contains(t, err.Error(), "404")
}
