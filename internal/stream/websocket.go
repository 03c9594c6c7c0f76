package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/bottle-rewards/internal/ratelimit"
	"github.com/shehryarbajwa/bottle-rewards/internal/session"
	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Command is a message a view may send over the stream
type Command struct {
	Action string `json:"action"`
}

// Server streams detection session state to connected views
type Server struct {
	sessionMgr *session.Manager
	limiter    *ratelimit.Limiter
}

// NewServer creates a new stream server. Start commands are limited per
// client by limiter; a nil limiter allows every start.
func NewServer(sessionMgr *session.Manager, limiter *ratelimit.Limiter) *Server {
	return &Server{
		sessionMgr: sessionMgr,
		limiter:    limiter,
	}
}

// HandleSessionStream upgrades the request and pushes every state change of
// the session until the view is torn down or the client goes away.
// Clients may send {"action":"start"} or {"action":"dismiss"}.
func (s *Server) HandleSessionStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctrl, err := s.sessionMgr.Controller(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	logger := log.WithField("session", sessionID)
	logger.Info("View connected to session stream")

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	errChan := make(chan error, 2)

	// Client → controller
	go func() {
		errChan <- s.readCommands(conn, ctrl, logger)
	}()

	// Controller → client
	go func() {
		errChan <- s.writeUpdates(conn, updates)
	}()

	err = <-errChan
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		logger.WithError(err).Warn("Session stream error")
	}

	logger.Info("View disconnected from session stream")
}

func (s *Server) readCommands(conn *websocket.Conn, ctrl *session.Controller, logger *log.Entry) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			logger.WithError(err).Debug("Ignoring malformed stream command")
			continue
		}

		ctrl.Touch()
		switch cmd.Action {
		case "start":
			clientID := ctrl.Snapshot().ClientID
			if s.limiter != nil && !s.limiter.Allow(clientID) {
				logger.WithField("client", clientID).Warn("Rate limit exceeded, dropping start command")
				continue
			}
			ctrl.Start()
		case "dismiss":
			ctrl.Dismiss()
		default:
			logger.WithField("action", cmd.Action).Debug("Ignoring unknown stream command")
		}
	}
}

func (s *Server) writeUpdates(conn *websocket.Conn, updates <-chan models.DetectionSession) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// View torn down
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return nil
			}
			if err := conn.WriteJSON(snap); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
