package http

import (
	"net/http"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(m *handlers.MeetingHandler, sig *handlers.SignalHandler, rec *handlers.RecordingHandler, wsHandler *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Name", "X-User-Fullname", "X-User-Image"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/v1/me", m.Me)
	r.Get("/api/v1/files/secure-url", rec.SecureURL)

	r.Route("/api/v1/classes/{classId}/meetings", func(r chi.Router) {
		r.Post("/create", m.Create)
		r.Route("/{meetingId}", func(r chi.Router) {
			r.Get("/", m.Get)
			r.Delete("/", m.Delete)
			r.Post("/join", m.Join)
			r.Post("/leave", m.Leave)
			r.Post("/touch", m.Touch)
			r.Get("/participants", m.Participants)

			// シグナリング封筒（ポーリング経路）
			r.Post("/signals", sig.Send)
			r.Get("/signals", sig.List)
			r.Delete("/signals/{envelopeId}", sig.Delete)

			// 録画
			r.Post("/recordings", rec.Upload)
			r.Get("/recordings", rec.List)
			r.Get("/recordings/{recordingId}", rec.Get)
			r.Get("/recordings/{recordingId}/download", rec.Download)
			r.Get("/recordings/{recordingId}/file", rec.File)

			// WebSocketエンドポイント（在席・ミュート通知）
			r.Get("/ws", wsHandler.HandleWebSocket)
		})
	})

	return r
}
