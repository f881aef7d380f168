package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// clientMessage is what the browser sends over the socket.
type clientMessage struct {
	Type  string `json:"type"`            // "start" or "input"
	Value string `json:"value,omitempty"` // typed digits for "input"
}

// serverMessage wraps everything pushed to the browser.
type serverMessage struct {
	Type string        `json:"type"` // "view" or "answer"
	View *session.View `json:"view,omitempty"`
	// Correct reports the judgment of the last complete input.
	Correct *bool `json:"correct,omitempty"`
}

// handleWebSocket upgrades the connection and runs a session driver for this
// participant. The driver, its countdown and any bot loop die with the socket.
func (gw *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, "player_id required")
		return
	}

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	driver := session.NewDriver(gw.machine, gw.store, gw.clock, gw.sessionCfg, gameID, playerID)

	outbound := make(chan serverMessage, 8)
	writeDone := make(chan struct{})

	go gw.readPump(ctx, cancel, conn, driver, outbound)
	go gw.writePump(ctx, conn, driver, outbound, writeDone)

	if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).
			Str("game_id", gameID).
			Str("player_id", playerID).
			Msg("session driver stopped")
	}

	// The write pump drains the final view on its way out; wait for it
	// before the deferred close tears the socket down.
	cancel()
	<-writeDone
}

// readPump consumes client actions until the socket dies, then tears the
// session down.
func (gw *Gateway) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, driver *session.Driver, outbound chan<- serverMessage) {
	defer cancel()

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed client message")
			continue
		}

		switch msg.Type {
		case "start":
			if err := driver.Start(ctx); err != nil {
				// Guard violations are ordinary here: wrong actor or state.
				log.Debug().Err(err).Msg("start request skipped")
			}
		case "input":
			correct, err := driver.HandleInput(ctx, msg.Value)
			if err != nil {
				log.Error().Err(err).Msg("input handling failed")
				continue
			}
			c := correct
			select {
			case outbound <- serverMessage{Type: "answer", Correct: &c}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writePump forwards driver views and ad-hoc messages, pinging to keep the
// connection alive. On shutdown it drains whatever is still pending so the
// client receives the final view, then closes done.
func (gw *Gateway) writePump(ctx context.Context, conn *websocket.Conn, driver *session.Driver, outbound <-chan serverMessage, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gw.drainPending(conn, driver, outbound)
			return
		case v := <-driver.Views():
			gw.writeMessage(conn, serverMessage{Type: "view", View: &v})
		case msg := <-outbound:
			gw.writeMessage(conn, msg)
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainPending flushes messages already queued at shutdown without blocking
// on new ones.
func (gw *Gateway) drainPending(conn *websocket.Conn, driver *session.Driver, outbound <-chan serverMessage) {
	for {
		select {
		case v := <-driver.Views():
			gw.writeMessage(conn, serverMessage{Type: "view", View: &v})
		case msg := <-outbound:
			gw.writeMessage(conn, msg)
		default:
			return
		}
	}
}

func (gw *Gateway) writeMessage(conn *websocket.Conn, msg serverMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
