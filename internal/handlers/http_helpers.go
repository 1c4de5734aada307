package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

// errorResponse はエラーレスポンスの構造
type errorResponse struct {
	Message string `json:"message"` // エラーメッセージ
}

// respondJSON はJSONレスポンスを返します
// payloadがnilの場合は空のレスポンスを返します
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// respondError はエラーレスポンスを返します
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Message: msg})
}

// respondBlob はバイナリレスポンスを返します
// コンテンツタイプが不明な場合はapplication/octet-streamで返します
// （ストア側にメディアタイプが残っていないことがあるため、クライアントは
// レスポンスの形を見て判断する前提です）
func respondBlob(w http.ResponseWriter, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeJSON はリクエストボディからJSONをデコードします
// デコードに失敗した場合は、エラーレスポンスを返してfalseを返します
// 成功した場合はtrueを返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// 最低限の防御: 大きすぎるリクエストを防ぐ（1MB制限）
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return false
		}
		respondError(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

// currentUser はリクエストヘッダーから認証済みユーザーを取り出します
// 認証そのものは上流のゲートウェイが担当し、ここではヘッダーを信頼します
func currentUser(r *http.Request) (models.User, bool) {
	id := normalizeID(r.Header.Get("X-User-Id"))
	if id == "" {
		return models.User{}, false
	}
	return models.User{
		UserId:    id,
		UserName:  strings.TrimSpace(r.Header.Get("X-User-Name")),
		FullName:  strings.TrimSpace(r.Header.Get("X-User-Fullname")),
		UserImage: strings.TrimSpace(r.Header.Get("X-User-Image")),
	}, true
}

// normalizeID はIDの前後の空白を削除して正規化します
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
