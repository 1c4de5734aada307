package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// ErrRetrievalExhausted は全ての取得経路を試しても再生可能な
// 録画データが得られなかった場合のエラーです
var ErrRetrievalExhausted = errors.New("all recording retrieval strategies exhausted")

// minPlayableSize は本体とみなす最小サイズです
// これ以下の応答はエラーページや空応答の可能性が高いので弾きます
const minPlayableSize = 1000

// signedURLTTLMinutes は署名付きURLの有効期間です
const signedURLTTLMinutes = 15

// maxRecordingBody は取得する録画データの上限サイズです
const maxRecordingBody = 512 << 20 // 512MB

// URLSigner はオブジェクトストア上のキーから署名付きURLを取得します
type URLSigner interface {
	SecureFileURL(ctx context.Context, objectKey string, ttlMinutes int) (string, error)
}

// probe は録画データの取得経路1つぶんの定義です
// 経路の追加・並び替えはこのテーブルの編集だけで済みます
type probe struct {
	name string
	url  func(baseURL, classId, meetingId, recordingId string) string
	// followMetadata がtrueの場合、応答をメタデータJSONとして読み、
	// その中のdownloadUrlを1段だけ辿ります
	followMetadata bool
}

// relayProbes はリレー保存の録画に対する取得経路を優先順に並べたテーブルです
var relayProbes = []probe{
	{
		name: "download",
		url: func(base, classId, meetingId, recordingId string) string {
			return fmt.Sprintf("%s/api/v1/classes/%s/meetings/%s/recordings/%s/download", base, classId, meetingId, recordingId)
		},
	},
	{
		name: "file",
		url: func(base, classId, meetingId, recordingId string) string {
			return fmt.Sprintf("%s/api/v1/classes/%s/meetings/%s/recordings/%s/file", base, classId, meetingId, recordingId)
		},
	},
	{
		name: "metadata",
		url: func(base, classId, meetingId, recordingId string) string {
			return fmt.Sprintf("%s/api/v1/classes/%s/meetings/%s/recordings/%s", base, classId, meetingId, recordingId)
		},
		followMetadata: true,
	},
}

// Retriever は保存済み録画のバイナリ取得を担当します
// 保存先がオブジェクトストアなら署名付きURL経由で、リレー保存なら
// 取得経路テーブルを上から順に試します
type Retriever struct {
	client  *http.Client
	baseURL string
	signer  URLSigner // nilの場合はDirectUrlのみ使用

	// Decorate は各リクエストに認証ヘッダー等を付けるためのフックです
	Decorate func(*http.Request)
}

func NewRetriever(client *http.Client, baseURL string, signer URLSigner) *Retriever {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Retriever{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}
}

// Fetch は録画データ本体を取得し、バイト列とコンテンツタイプを返します
func (r *Retriever) Fetch(ctx context.Context, classId, meetingId string, art models.RecordingArtifact) ([]byte, string, error) {
	if art.StorageBackend == models.StorageObjectStore {
		return r.fetchFromObjectStore(ctx, art)
	}
	return r.fetchFromRelay(ctx, classId, meetingId, art.RecordingId)
}

// fetchFromObjectStore は署名付きURLを取得して録画をダウンロードします
// 署名の取得・ダウンロードに失敗した場合はDirectUrlにフォールバックします
func (r *Retriever) fetchFromObjectStore(ctx context.Context, art models.RecordingArtifact) ([]byte, string, error) {
	if r.signer != nil && art.ObjectKey != "" {
		signed, err := r.signer.SecureFileURL(ctx, art.ObjectKey, signedURLTTLMinutes)
		if err == nil {
			data, ct, ferr := r.fetchURL(ctx, signed)
			if ferr == nil {
				return data, ct, nil
			}
			log.Printf("signed url fetch failed, falling back to direct url: recording=%s err=%v", art.RecordingId, ferr)
		} else {
			log.Printf("failed to sign object url, falling back to direct url: recording=%s err=%v", art.RecordingId, err)
		}
	}

	if art.DirectUrl != "" {
		data, ct, err := r.fetchURL(ctx, art.DirectUrl)
		if err == nil {
			return data, ct, nil
		}
		log.Printf("direct url fetch failed: recording=%s err=%v", art.RecordingId, err)
	}
	return nil, "", fmt.Errorf("%w: recording=%s", ErrRetrievalExhausted, art.RecordingId)
}

// fetchFromRelay は取得経路テーブルを上から順に試します
func (r *Retriever) fetchFromRelay(ctx context.Context, classId, meetingId, recordingId string) ([]byte, string, error) {
	for _, p := range relayProbes {
		url := p.url(r.baseURL, classId, meetingId, recordingId)

		if p.followMetadata {
			data, ct, err := r.fetchViaMetadata(ctx, url)
			if err == nil {
				return data, ct, nil
			}
			log.Printf("retrieval probe %q failed: recording=%s err=%v", p.name, recordingId, err)
			continue
		}

		data, ct, err := r.fetchURL(ctx, url)
		if err == nil {
			return data, ct, nil
		}
		log.Printf("retrieval probe %q failed: recording=%s err=%v", p.name, recordingId, err)
	}
	return nil, "", fmt.Errorf("%w: recording=%s", ErrRetrievalExhausted, recordingId)
}

// fetchViaMetadata はメタデータJSONを読み、downloadUrlを1段だけ辿ります
// 辿った先のURLがさらにJSONを返しても、それ以上は追いません
func (r *Retriever) fetchViaMetadata(ctx context.Context, url string) ([]byte, string, error) {
	body, _, err := r.get(ctx, url)
	if err != nil {
		return nil, "", err
	}

	var meta struct {
		DownloadUrl string `json:"downloadUrl"`
		DirectUrl   string `json:"directUrl"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, "", fmt.Errorf("metadata response is not json: %w", err)
	}

	next := meta.DownloadUrl
	if next == "" {
		next = meta.DirectUrl
	}
	if next == "" {
		return nil, "", errors.New("metadata has no download url")
	}
	return r.fetchURL(ctx, next)
}

// fetchURL はURLから本体を取得し、再生可能な応答だけを受け入れます
func (r *Retriever) fetchURL(ctx context.Context, url string) ([]byte, string, error) {
	body, ct, err := r.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if !acceptablePayload(ct, len(body)) {
		return nil, "", fmt.Errorf("response is not playable media: contentType=%q size=%d", ct, len(body))
	}
	return body, ct, nil
}

func (r *Retriever) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if r.Decorate != nil {
		r.Decorate(req)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBody))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// acceptablePayload は応答が録画データ本体とみなせるかを判定します
// JSON・HTMLは弾きます。空・極小の本体はContent-Typeがvideo/audioを
// 名乗っていても本体ではありえないので、タイプによらずサイズで弾きます
func acceptablePayload(contentType string, size int) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	if strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/") {
		return false
	}
	return size > minPlayableSize
}

// FetchToFile は録画を取得してディレクトリ配下に書き出し、パスを返します
func (r *Retriever) FetchToFile(ctx context.Context, classId, meetingId string, art models.RecordingArtifact, dir string) (string, error) {
	data, _, err := r.Fetch(ctx, classId, meetingId, art)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, art.RecordingId+".webm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
