package server

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"roomrelay/internal/auth"
	"roomrelay/internal/chat"
	"roomrelay/internal/config"
	"roomrelay/internal/web"
)

func New(cfg config.Config, chatSvc *chat.Service, authSvc *auth.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(web.RequestID)
	r.Use(web.Logger)
	r.Use(web.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	// The websocket shares the origin of the static UI.
	r.Get("/ws", chatSvc.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins(),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           int((24 * time.Hour).Seconds()),
		}))
		r.Mount("/api", newAPI(chatSvc, authSvc))
	})

	if fi, err := os.Stat(cfg.StaticDir); err == nil && fi.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return r
}
