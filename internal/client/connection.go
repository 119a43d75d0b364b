package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection manages the websocket to the remote collector
type Connection struct {
	url       string
	authToken string
	session   *models.SessionInfo
	logger    zerolog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnectionState

	reconnectInterval    time.Duration
	maxReconnectInterval time.Duration
	backoff              time.Duration
	pingInterval         time.Duration
	pongTimeout          time.Duration

	pongMu   sync.Mutex
	lastPong time.Time

	// queued reports the streamer backlog in heartbeats
	queued func() int
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// ConnectionConfigFrom extracts the connection settings of a stream config
func ConnectionConfigFrom(cfg config.StreamConfig) ConnectionConfig {
	return ConnectionConfig{
		URL:                  cfg.URL,
		AuthToken:            cfg.AuthToken,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
		PingInterval:         cfg.PingInterval,
		PongTimeout:          cfg.PongTimeout,
	}
}

// NewConnection creates a new connection manager
func NewConnection(cfg ConnectionConfig, session *models.SessionInfo, logger zerolog.Logger) *Connection {
	return &Connection{
		url:                  cfg.URL,
		authToken:            cfg.AuthToken,
		session:              session,
		logger:               logger.With().Str("component", "stream").Logger(),
		state:                StateDisconnected,
		reconnectInterval:    cfg.ReconnectInterval,
		maxReconnectInterval: cfg.MaxReconnectInterval,
		backoff:              cfg.ReconnectInterval,
		pingInterval:         cfg.PingInterval,
		pongTimeout:          cfg.PongTimeout,
		queued:               func() int { return 0 },
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the collector and registers the session with a heartbeat
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to collector")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.authToken)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.backoff = c.reconnectInterval
	c.logger.Info().Msg("Connected to collector")

	if err := c.sendHeartbeat(); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	return nil
}

// Run keeps the connection up with exponential backoff until ctx is
// cancelled
func (c *Connection) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.disconnect()
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runMessageLoops(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.backoff).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return
	}
	c.backoff *= 2
	if c.backoff > c.maxReconnectInterval {
		c.backoff = c.maxReconnectInterval
	}
}

// runMessageLoops blocks until the read or heartbeat loop fails
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.heartbeatLoop(ctx)
	}()

	<-ctx.Done()
	// Unblocks the read loop
	c.disconnect()
	wg.Wait()
}

func (c *Connection) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Connection) sendMessage(msgType models.MessageType, payload interface{}) error {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("failed to create %s message: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// SendBatch sends readings in one batch message
func (c *Connection) SendBatch(readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := c.sendMessage(models.MessageTypeBatch, models.BatchMessage{
		Readings: readings,
		Count:    len(readings),
	}); err != nil {
		return err
	}
	c.logger.Debug().Int("count", len(readings)).Msg("Sent batch of readings")
	return nil
}

// SendSummary sends the end-of-session statistics
func (c *Connection) SendSummary(summaries []models.ChannelSummary) error {
	return c.sendMessage(models.MessageTypeSummary, models.SummaryMessage{
		SessionID: c.session.ID,
		Summaries: summaries,
	})
}

func (c *Connection) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Debug().Err(err).Msg("Read loop stopped")
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeAck:
		c.updateLastPong()
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Collector error")
		}
	case models.MessageTypeConfig:
		var cfg models.ConfigMessage
		if err := msg.UnmarshalPayload(&cfg); err == nil {
			// Frequency is fixed for the life of a session
			c.logger.Info().Float64("frequency_hz", cfg.FrequencyHz).Msg("Ignoring config update for running session")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) updateLastPong() {
	c.pongMu.Lock()
	c.lastPong = time.Now()
	c.pongMu.Unlock()
}

func (c *Connection) timeSinceLastPong() time.Duration {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	return time.Since(c.lastPong)
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	c.updateLastPong()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
			if c.timeSinceLastPong() > c.pongTimeout {
				c.logger.Warn().Msg("No ack received, connection appears dead")
				return
			}
		}
	}
}

func (c *Connection) sendHeartbeat() error {
	return c.sendMessage(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		SessionID:  c.session.ID,
		Backend:    c.session.Backend,
		Channels:   c.session.Channels,
		Uptime:     int64(c.session.Uptime().Seconds()),
		BufferSize: c.queued(),
	})
}

// Close sends a close frame and drops the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	c.mu.Unlock()

	c.disconnect()
	c.logger.Info().Msg("Connection closed")
	return nil
}
