package handlers

import (
	"log"
	"net/http"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
	"github.com/go-chi/chi/v5"
)

type MeetingHandler struct {
	svc *service.MeetingService
}

func NewMeetingHandler(s *service.MeetingService) *MeetingHandler { return &MeetingHandler{svc: s} }

// pathIDs はURLからクラスID/ミーティングIDを取り出して検証します
func pathIDs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	classId := normalizeID(chi.URLParam(r, "classId"))
	meetingId := normalizeID(chi.URLParam(r, "meetingId"))
	if err := validateClassId(classId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	if err := validateMeetingId(meetingId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return classId, meetingId, true
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	classId := normalizeID(chi.URLParam(r, "classId"))
	if err := validateClassId(classId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	owner := models.Participant{UserId: user.UserId, UserName: user.UserName, UserImage: user.UserImage}
	id, err := h.svc.Create(r.Context(), classId, owner)
	if err != nil {
		log.Printf("Create meeting error (classId=%s): %v", classId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "meetingId": id})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	m, participants, exists, err := h.svc.Get(r.Context(), classId, meetingId)
	if err != nil {
		log.Printf("Get meeting error (classId=%s, meetingId=%s): %v", classId, meetingId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "meeting not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"meeting": m, "participants": participants})
}

func (h *MeetingHandler) Participants(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	participants, err := h.svc.Participants(r.Context(), classId, meetingId)
	if err != nil {
		log.Printf("List participants error (classId=%s, meetingId=%s): %v", classId, meetingId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (h *MeetingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.svc.Delete(r.Context(), classId, meetingId, user.UserId); err != nil {
		log.Printf("Delete meeting error (classId=%s, meetingId=%s, userId=%s): %v", classId, meetingId, user.UserId, err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *MeetingHandler) Join(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p := models.Participant{UserId: user.UserId, UserName: user.UserName, UserImage: user.UserImage}
	participants, err := h.svc.Join(r.Context(), classId, meetingId, p)
	if err != nil {
		log.Printf("Join meeting error (classId=%s, meetingId=%s, userId=%s): %v", classId, meetingId, user.UserId, err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "participants": participants})
}

func (h *MeetingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	user, okUser := currentUser(r)
	if !okUser {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.svc.Leave(r.Context(), classId, meetingId, user.UserId); err != nil {
		log.Printf("Leave meeting error (classId=%s, meetingId=%s, userId=%s): %v", classId, meetingId, user.UserId, err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *MeetingHandler) Touch(w http.ResponseWriter, r *http.Request) {
	classId, meetingId, ok := pathIDs(w, r)
	if !ok {
		return
	}
	if err := h.svc.Touch(r.Context(), classId, meetingId); err != nil {
		log.Printf("Touch meeting error (classId=%s, meetingId=%s): %v", classId, meetingId, err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Me は認証済みユーザー情報を返します
func (h *MeetingHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *MeetingHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrNotMeetingOwner:
		respondError(w, http.StatusForbidden, err.Error())
	case service.ErrMeetingNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	case service.ErrParticipantNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
