// Package apiclient はリレーストアAPIサーバーへのHTTPクライアントです
// session.Backend を実装し、セッション集約からの全操作をREST呼び出しに変換します
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/session"
)

// Client はAPIサーバーへの認証済みクライアントです
// 認証ヘッダーはコンストラクタで渡されたユーザー情報から毎回付与します
type Client struct {
	baseURL string
	user    models.User
	http    *http.Client
}

var _ session.Backend = (*Client)(nil)

func New(baseURL string, user models.User, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    httpClient,
	}
}

// BaseURL はAPIサーバーのベースURLを返します
func (c *Client) BaseURL() string { return c.baseURL }

// Decorate はリクエストに認証ヘッダーを付与します
// 録画取得など、このクライアントを経由しないリクエストにも使えます
func (c *Client) Decorate(req *http.Request) {
	req.Header.Set("X-User-Id", c.user.UserId)
	req.Header.Set("X-User-Name", c.user.UserName)
	if c.user.FullName != "" {
		req.Header.Set("X-User-Fullname", c.user.FullName)
	}
	if c.user.UserImage != "" {
		req.Header.Set("X-User-Image", c.user.UserImage)
	}
}

// do はリクエストを実行し、2xxであれば応答ボディをoutにデコードします
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.Decorate(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("api error (%d): %s", resp.StatusCode, e.Message)
		}
		return fmt.Errorf("api error (%d): %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func meetingPath(classId, meetingId string) string {
	return fmt.Sprintf("/api/v1/classes/%s/meetings/%s", url.PathEscape(classId), url.PathEscape(meetingId))
}

// CurrentUser はサーバー側で解決された認証済みユーザー情報を返します
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, "", &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// CreateMeeting は新しいミーティングを作成し、ミーティングIDを返します
func (c *Client) CreateMeeting(ctx context.Context, classId string) (string, error) {
	var out struct {
		MeetingId string `json:"meetingId"`
	}
	path := fmt.Sprintf("/api/v1/classes/%s/meetings/create", url.PathEscape(classId))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.MeetingId, nil
}

func (c *Client) Join(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	var out struct {
		Participants []models.Participant `json:"participants"`
	}
	if err := c.doJSON(ctx, http.MethodPost, meetingPath(classId, meetingId)+"/join", nil, &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (c *Client) Leave(ctx context.Context, classId, meetingId string) error {
	return c.doJSON(ctx, http.MethodPost, meetingPath(classId, meetingId)+"/leave", nil, nil)
}

func (c *Client) Participants(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	var out struct {
		Participants []models.Participant `json:"participants"`
	}
	if err := c.do(ctx, http.MethodGet, meetingPath(classId, meetingId)+"/participants", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (c *Client) SendSignal(ctx context.Context, classId, meetingId, to string, kind models.SignalKind, payload json.RawMessage) error {
	in := map[string]any{"to": to, "kind": kind, "payload": payload}
	return c.doJSON(ctx, http.MethodPost, meetingPath(classId, meetingId)+"/signals", in, nil)
}

func (c *Client) Signals(ctx context.Context, classId, meetingId string) ([]models.SignalEnvelope, error) {
	var out struct {
		Messages []models.SignalEnvelope `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, meetingPath(classId, meetingId)+"/signals", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) DeleteSignal(ctx context.Context, classId, meetingId, envelopeId string) error {
	path := meetingPath(classId, meetingId) + "/signals/" + url.PathEscape(envelopeId)
	return c.do(ctx, http.MethodDelete, path, nil, "", nil)
}

// UploadRecording は録画バイナリをmultipartで送信します
func (c *Client) UploadRecording(ctx context.Context, classId, meetingId, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("title", title); err != nil {
		return models.RecordingArtifact{}, err
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return models.RecordingArtifact{}, err
	}
	if err := mw.WriteField("metadata", string(rawMeta)); err != nil {
		return models.RecordingArtifact{}, err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="recording.webm"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return models.RecordingArtifact{}, err
	}
	if _, err := part.Write(data); err != nil {
		return models.RecordingArtifact{}, err
	}
	if err := mw.Close(); err != nil {
		return models.RecordingArtifact{}, err
	}

	var out struct {
		Recording models.RecordingArtifact `json:"recording"`
	}
	if err := c.do(ctx, http.MethodPost, meetingPath(classId, meetingId)+"/recordings", &buf, mw.FormDataContentType(), &out); err != nil {
		return models.RecordingArtifact{}, err
	}
	return out.Recording, nil
}

func (c *Client) Recordings(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error) {
	var out struct {
		Recordings []models.RecordingArtifact `json:"recordings"`
	}
	if err := c.do(ctx, http.MethodGet, meetingPath(classId, meetingId)+"/recordings", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// Recording は録画メタデータ1件を返します
func (c *Client) Recording(ctx context.Context, classId, meetingId, recordingId string) (models.RecordingArtifact, error) {
	var out struct {
		Recording models.RecordingArtifact `json:"recording"`
	}
	path := meetingPath(classId, meetingId) + "/recordings/" + url.PathEscape(recordingId)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return models.RecordingArtifact{}, err
	}
	return out.Recording, nil
}

func (c *Client) SecureFileURL(ctx context.Context, objectKey string, ttlMinutes int) (string, error) {
	q := url.Values{}
	q.Set("key", objectKey)
	if ttlMinutes > 0 {
		q.Set("ttlMinutes", strconv.Itoa(ttlMinutes))
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/secure-url?"+q.Encode(), nil, "", &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
