package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rigidity/lobby-backend/internal/auth"
	"github.com/rigidity/lobby-backend/internal/lobby"
	"github.com/rigidity/lobby-backend/internal/ws"
)

func SetupRoutes(h *Handlers, lb *lobby.Lobby, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/api/matchmaking/events", h.MatchmakingEvents)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(log))
		r.Get("/ws", ws.Handler(lb, log))
		r.Route("/api/custom-rooms", func(r chi.Router) {
			r.Get("/", h.ListRooms)
			r.Post("/", h.CreateRoom)
			r.Delete("/", h.DeleteRoom)
			r.Put("/{id}", h.UpdateRoom)
			r.Put("/{id}/join", h.JoinRoom)
			r.Put("/{id}/quit", h.QuitRoom)
			r.Put("/{id}/slot", h.SwitchSlot)
			r.Put("/{id}/select-archetype/{archetype}", h.SwitchArchetype)
			r.Put("/{id}/kick/{userID}", h.KickUser)
			r.Put("/{id}/start-matchmaking", h.StartMatchmaking)
			r.Put("/{id}/stop-matchmaking", h.StopMatchmaking)
		})
	})

	return r
}
