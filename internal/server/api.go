package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mkhaled87/chat-relay/internal/server/middleware"
)

// registerAPIRoutes exposes the read-only HTTP surface backed by the same
// Message entity and ordering rule as the event flows.
func (a *App) registerAPIRoutes(mux *http.ServeMux) {
	chain := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(a.logger),
		)
	}

	mux.Handle("GET /api/messages", chain(a.handleMessages))
	mux.Handle("GET /api/messages/{room}", chain(a.handleMessages))
	mux.Handle("GET /api/users", chain(a.handleUsers))
	mux.Handle("GET /api/rooms", chain(a.handleRooms))
	mux.Handle("GET /{$}", chain(a.handleRoot))
}

// handleMessages serves paginated room history, oldest first.
func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		room = a.config.Chat.DefaultRoom
	}
	limit := a.config.Chat.HistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := a.pipeline.RecentRoomMessages(r.Context(), room, limit)
	if err != nil {
		a.logger.Error("Failed to fetch messages", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch messages"})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleUsers serves the currently-online user list derived from live sessions.
func (a *App) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.ListOnline())
}

func (a *App) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Rooms())
}

func (a *App) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("chat-relay server is running"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do but note it.
		slog.Default().Error("Failed to encode response", slog.Any("error", err))
	}
}
