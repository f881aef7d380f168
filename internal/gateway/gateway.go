// Package gateway exposes the game over HTTP and WebSocket: a lobby listing
// for matchmaking, game creation and join endpoints, and a per-connection
// session driver that streams derived views to the browser.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/game"
	"github.com/mathrush/backend/internal/models"
	"github.com/mathrush/backend/internal/session"
	"github.com/mathrush/backend/internal/store"
)

type Gateway struct {
	machine    *game.Machine
	store      store.Store
	clock      clockwork.Clock
	sessionCfg session.Config
	upgrader   websocket.Upgrader
}

func New(m *game.Machine, st store.Store, clock clockwork.Clock, sessionCfg session.Config) *Gateway {
	return &Gateway{
		machine:    m,
		store:      st,
		clock:      clock,
		sessionCfg: sessionCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Identity lives with the external provider; the gateway
				// itself is origin-agnostic.
				return true
			},
		},
	}
}

// Handler returns the routed, CORS-wrapped HTTP handler.
func (gw *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/games", gw.handleListGames)
	mux.HandleFunc("POST /api/games", gw.handleCreateGame)
	mux.HandleFunc("POST /api/games/{id}/join", gw.handleJoinGame)
	mux.HandleFunc("GET /ws/games/{id}", gw.handleWebSocket)
	return cors.AllowAll().Handler(mux)
}

// handleListGames serves the lobby: open games awaiting a second player.
func (gw *Gateway) handleListGames(w http.ResponseWriter, r *http.Request) {
	f := store.GameFilter{Status: models.StatusWaiting}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = models.GameStatus(s)
	}
	if p := r.URL.Query().Get("player_id"); p != "" {
		f.PlayerID = p
	}

	games, err := gw.store.QueryGames(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("lobby query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, games)
}

type createGameRequest struct {
	PlayerID     string              `json:"playerId"`
	OpponentType models.OpponentType `json:"opponentType"`
}

func (gw *Gateway) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}
	if req.OpponentType == "" {
		req.OpponentType = models.OpponentHuman
	}

	g, err := gw.machine.CreateGame(r.Context(), req.PlayerID, req.OpponentType)
	if err != nil {
		log.Error().Err(err).Str("player_id", req.PlayerID).Msg("create game failed")
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type joinGameRequest struct {
	PlayerID string `json:"playerId"`
}

func (gw *Gateway) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")

	var req joinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "playerId required")
		return
	}

	g, err := gw.machine.JoinGame(r.Context(), gameID, req.PlayerID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, g)
	case errorsIsAny(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case errorsIsAny(err, game.ErrForbidden):
		writeError(w, http.StatusForbidden, "seat already taken")
	case errorsIsAny(err, game.ErrNotReady):
		writeError(w, http.StatusConflict, "game is not joinable")
	default:
		log.Error().Err(err).Str("game_id", gameID).Msg("join game failed")
		writeError(w, http.StatusInternalServerError, "join failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
