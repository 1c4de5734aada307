package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
	"github.com/go-chi/chi/v5"
)

type SignalHandler struct {
	svc *service.SignalService
}

func NewSignalHandler(s *service.SignalService) *SignalHandler { return &SignalHandler{svc: s} }

type sendSignalRequest struct {
	To      string            `json:"to"`
	Kind    models.SignalKind `json:"kind"`
	Payload json.RawMessage   `json:"payload"`
}

func (r sendSignalRequest) validate() error {
	return validateUserId(r.To)
}

// Send はシグナリング封筒を宛先のメールボックスに積みます
// 送信者はヘッダーの認証済みユーザーで決まります（fromの詐称を防ぐ）
func (h *SignalHandler) Send(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in sendSignalRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := h.svc.Send(r.Context(), classId, meetingId, user.UserId, normalizeID(in.To), in.Kind, in.Payload)
	if err != nil {
		log.Printf("Send signal error (classId=%s, meetingId=%s, from=%s, to=%s): %v", classId, meetingId, user.UserId, in.To, err)
		if err == service.ErrMeetingNotFound {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "envelopeId": env.EnvelopeId})
}

// List は認証済みユーザー宛の封筒を全件返します
// 返却後も封筒は残ります。処理後にDeleteで個別削除してください
func (h *SignalHandler) List(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	envs, err := h.svc.ListFor(r.Context(), classId, meetingId, user.UserId)
	if err != nil {
		log.Printf("List signals error (classId=%s, meetingId=%s, userId=%s): %v", classId, meetingId, user.UserId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": envs})
}

// Delete は処理済み封筒を削除します
func (h *SignalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	envelopeId := normalizeID(chi.URLParam(r, "envelopeId"))
	if envelopeId == "" {
		respondError(w, http.StatusBadRequest, "envelopeId required")
		return
	}

	if err := h.svc.Delete(r.Context(), classId, meetingId, user.UserId, envelopeId); err != nil {
		log.Printf("Delete signal error (classId=%s, meetingId=%s, userId=%s, envelopeId=%s): %v", classId, meetingId, user.UserId, envelopeId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
