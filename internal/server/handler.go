package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler accepts reading streams from samplers over WebSocket
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          ReadingStore
	writer         ReadingWriter
	logger         zerolog.Logger
	active         map[string]*SessionConnection
	allowedOrigins []string
	mutex          sync.RWMutex
}

// SessionConnection describes one connected sampler
type SessionConnection struct {
	SessionID   string    `json:"session_id"`
	Host        string    `json:"host,omitempty"`
	Backend     string    `json:"backend,omitempty"`
	Channels    []int     `json:"channels,omitempty"`
	Readings    int64     `json:"readings"`
	Rejected    int64     `json:"rejected"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`

	conn *websocket.Conn
}

// NewHandler creates a new WebSocket handler
func NewHandler(authToken string, store ReadingStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger,
		active:         make(map[string]*SessionConnection),
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetDBWriter persists every accepted reading through w
func (h *Handler) SetDBWriter(w ReadingWriter) {
	h.writer = w
}

// checkOrigin validates the request Origin against the configured allowlist.
// Requests without an Origin header are same-origin and always accepted.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not allowed")
	return false
}

// ServeHTTP upgrades an authorized request and serves it until the sampler
// disconnects
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	h.handleConnection(conn)
}

// validateToken expects "Bearer <token>"
func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	return ok && token == h.authToken
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()
	sc := &SessionConnection{
		LastSeen:    now,
		ConnectedAt: now,
		conn:        conn,
	}

	h.mutex.Lock()
	h.active[connKey] = sc
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeConnection(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(conn, connKey, &msg)
	}
}

func (h *Handler) handleMessage(conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	var err error
	switch msg.Type {
	case models.MessageTypeReading:
		err = h.handleReading(connKey, msg)
	case models.MessageTypeBatch:
		err = h.handleBatch(connKey, msg)
	case models.MessageTypeHeartbeat:
		err = h.handleHeartbeat(connKey, msg)
	case models.MessageTypeSummary:
		err = h.handleSummary(connKey, msg)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.sendError(conn, "unknown_type", "unknown message type "+string(msg.Type))
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Failed to decode payload")
		h.sendError(conn, "bad_payload", err.Error())
		return
	}
	h.touch(connKey)
	h.sendAck(conn)
}

func (h *Handler) handleReading(connKey string, msg *models.Message) error {
	var reading models.Reading
	if err := msg.UnmarshalPayload(&reading); err != nil {
		return err
	}
	h.accept(connKey, []models.Reading{reading})
	return nil
}

func (h *Handler) handleBatch(connKey string, msg *models.Message) error {
	var batch models.BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		return err
	}
	accepted := h.accept(connKey, batch.Readings)
	h.logger.Debug().Int("count", len(batch.Readings)).Int("accepted", accepted).Msg("Batch stored")
	return nil
}

// accept stores valid readings, tagging untagged ones with the session
// registered on the connection, and returns how many were kept
func (h *Handler) accept(connKey string, readings []models.Reading) int {
	sessionID := h.sessionOf(connKey)

	var kept, rejected int64
	for i := range readings {
		r := readings[i]
		if r.SessionID == "" {
			r.SessionID = sessionID
		}
		if !r.IsValid() {
			rejected++
			h.logger.Warn().
				Str("session_id", r.SessionID).
				Int("channel", r.Channel).
				Float64("temp", r.Temperature).
				Msg("Reading ignored: invalid")
			continue
		}
		h.store.Add(&r)
		if h.writer != nil && !h.writer.Write(&r) {
			h.logger.Warn().Str("session_id", r.SessionID).Msg("Database queue full, reading not persisted")
		}
		kept++
	}

	h.mutex.Lock()
	if sc, ok := h.active[connKey]; ok {
		sc.Readings += kept
		sc.Rejected += rejected
	}
	h.mutex.Unlock()
	return int(kept)
}

func (h *Handler) handleHeartbeat(connKey string, msg *models.Message) error {
	var hb models.HeartbeatMessage
	if err := msg.UnmarshalPayload(&hb); err != nil {
		return err
	}

	h.mutex.Lock()
	if sc, ok := h.active[connKey]; ok && hb.SessionID != "" {
		if sc.SessionID != hb.SessionID {
			h.logger.Info().
				Str("session_id", hb.SessionID).
				Str("backend", hb.Backend).
				Ints("channels", hb.Channels).
				Msg("Session registered")
		}
		sc.SessionID = hb.SessionID
		sc.Backend = hb.Backend
		sc.Channels = append([]int(nil), hb.Channels...)
	}
	h.mutex.Unlock()

	h.logger.Debug().
		Str("session_id", hb.SessionID).
		Int64("uptime", hb.Uptime).
		Int("buffered", hb.BufferSize).
		Msg("Heartbeat received")
	return nil
}

func (h *Handler) handleSummary(connKey string, msg *models.Message) error {
	var summary models.SummaryMessage
	if err := msg.UnmarshalPayload(&summary); err != nil {
		return err
	}
	if summary.SessionID == "" {
		summary.SessionID = h.sessionOf(connKey)
	}
	h.store.SetSummary(summary.SessionID, summary.Summaries)
	for _, s := range summary.Summaries {
		h.logger.Info().Str("session_id", summary.SessionID).Msg(s.String())
	}
	return nil
}

func (h *Handler) sendAck(conn *websocket.Conn) {
	h.send(conn, models.MessageTypeAck, models.AckMessage{Status: "ok"})
}

func (h *Handler) sendError(conn *websocket.Conn, code, text string) {
	h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: code, Message: text})
}

func (h *Handler) send(conn *websocket.Conn, t models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(t)).Msg("Failed to send message")
	}
}

func (h *Handler) sessionOf(connKey string) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if sc, ok := h.active[connKey]; ok {
		return sc.SessionID
	}
	return ""
}

func (h *Handler) touch(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if sc, ok := h.active[connKey]; ok {
		sc.LastSeen = time.Now()
	}
}

func (h *Handler) removeConnection(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	sc, ok := h.active[connKey]
	if !ok {
		return
	}
	delete(h.active, connKey)
	h.logger.Info().
		Str("session_id", sc.SessionID).
		Int64("readings", sc.Readings).
		Int64("rejected", sc.Rejected).
		Msg("Sampler disconnected")
}

// GetActiveSessions returns the connected samplers, oldest connection first
func (h *Handler) GetActiveSessions() []SessionConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	sessions := make([]SessionConnection, 0, len(h.active))
	for _, sc := range h.active {
		c := *sc
		c.Channels = append([]int(nil), sc.Channels...)
		c.conn = nil
		sessions = append(sessions, c)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// ActiveSessionIDs returns the session IDs registered by connected samplers
func (h *Handler) ActiveSessionIDs() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	ids := make([]string, 0, len(h.active))
	for _, sc := range h.active {
		if sc.SessionID != "" {
			ids = append(ids, sc.SessionID)
		}
	}
	return ids
}

// CloseAll closes every sampler connection. http.Server.Shutdown does not
// track hijacked connections.
func (h *Handler) CloseAll() {
	h.mutex.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active))
	for _, sc := range h.active {
		conns = append(conns, sc.conn)
	}
	h.mutex.RUnlock()

	deadline := time.Now().Add(writeWait)
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "collector shutting down"), deadline)
		conn.Close()
	}
}
