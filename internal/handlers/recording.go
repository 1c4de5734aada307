package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
	"github.com/go-chi/chi/v5"
)

type RecordingHandler struct {
	svc           *service.RecordingService
	publicBaseURL string // downloadUrl生成用
}

func NewRecordingHandler(svc *service.RecordingService, publicBaseURL string) *RecordingHandler {
	return &RecordingHandler{svc: svc, publicBaseURL: publicBaseURL}
}

// Upload は multipart/form-data の file とメタデータを受け取って保存します
// metadata フィールドはRecordingMetadataのJSON文字列です
func (h *RecordingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}

	title := r.FormValue("title")

	var meta models.RecordingMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			respondError(w, http.StatusBadRequest, "invalid metadata")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("upload recording: failed to read file: %v", err)
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("upload recording: failed to read file body: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	art, err := h.svc.Store(r.Context(), classId, meetingId, title, contentType, data, meta)
	if err != nil {
		log.Printf("upload recording: store error classId=%s meetingId=%s err=%v", classId, meetingId, err)
		respondError(w, http.StatusInternalServerError, "failed to save recording")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "recording": art})
}

// List はミーティングの録画一覧を返します
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	arts, err := h.svc.List(r.Context(), classId, meetingId)
	if err != nil {
		log.Printf("list recordings: failed classId=%s meetingId=%s err=%v", classId, meetingId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"recordings": arts})
}

// Get は録画メタデータを返します
// リレー保存の場合はダウンロードURLを埋め込みます（クライアントはこれを辿れます）
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	recordingId := normalizeID(chi.URLParam(r, "recordingId"))

	art, err := h.svc.Get(r.Context(), classId, meetingId, recordingId)
	if err != nil {
		h.writeRecordingError(w, classId, meetingId, recordingId, err)
		return
	}

	resp := map[string]any{"recording": art}
	if art.StorageBackend == models.StorageRelay {
		resp["downloadUrl"] = fmt.Sprintf("%s/api/v1/classes/%s/meetings/%s/recordings/%s/download",
			h.publicBaseURL, classId, meetingId, recordingId)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Download はリレー保存された録画バイナリを返します
func (h *RecordingHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r)
}

// File はDownloadの旧エンドポイント互換です（フロント担当が書いた仕様）
func (h *RecordingHandler) File(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r)
}

func (h *RecordingHandler) serveBlob(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	recordingId := normalizeID(chi.URLParam(r, "recordingId"))

	data, art, err := h.svc.Blob(r.Context(), classId, meetingId, recordingId)
	if err != nil {
		h.writeRecordingError(w, classId, meetingId, recordingId, err)
		return
	}
	respondBlob(w, art.ContentType, data)
}

// SecureURL はオブジェクトストア保存の録画に対する署名付きURLを発行します
func (h *RecordingHandler) SecureURL(w http.ResponseWriter, r *http.Request) {
	key := normalizeID(r.URL.Query().Get("key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "key required")
		return
	}
	ttlMinutes := 15
	if v := r.URL.Query().Get("ttlMinutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid ttlMinutes")
			return
		}
		ttlMinutes = n
	}

	url, err := h.svc.SecureFileURL(r.Context(), key, time.Duration(ttlMinutes)*time.Minute)
	if err != nil {
		log.Printf("secure url: failed key=%s err=%v", key, err)
		if err == service.ErrSecureURLUnavailable {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (h *RecordingHandler) writeRecordingError(w http.ResponseWriter, classId, meetingId, recordingId string, err error) {
	switch err {
	case service.ErrRecordingNotFound, service.ErrRecordingBlobNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("recording error (classId=%s, meetingId=%s, recordingId=%s): %v", classId, meetingId, recordingId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
