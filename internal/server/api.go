package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomrelay/internal/auth"
	"roomrelay/internal/chat"
)

func newAPI(ch *chat.Service, authSvc *auth.Service) http.Handler {
	r := chi.NewRouter()

	r.Post("/login", ch.Login)

	r.Group(func(r chi.Router) {
		r.Use(authSvc.JWTMiddleware)

		r.Get("/me", ch.Me)
		r.Get("/rooms", ch.Rooms)
		r.Get("/rooms/{name}/history", ch.RoomHistory)
	})

	return r
}
