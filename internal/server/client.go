// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/projectpulse/internal/auth"
	"github.com/Tyrowin/projectpulse/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated WebSocket connection bound to a room session.
// Only its own pumps touch its state; the registry reaches it through Deliver.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	identity auth.Identity
	session  session
	registry *broadcast.Registry
	hub      *Hub
	limiter  *rate.Limiter
	logger   *zap.Logger

	maxMessageSize int64
}

var _ broadcast.Member = (*Client)(nil)

func newClient(conn *websocket.Conn, identity auth.Identity, sess session, s *Server) *Client {
	cfg := s.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	perSecond := float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds()

	return &Client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, cfg.SendQueueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		identity: identity,
		session:  sess,
		registry: s.registry,
		hub:      s.hub,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimit.Burst),
		logger: s.logger.With(
			zap.String("conn", id),
			zap.String("principal", identity.PrincipalID),
			zap.String("room", sess.name()),
		),
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID implements broadcast.Member.
func (c *Client) ID() string { return c.id }

// Deliver implements broadcast.Member. Events the session does not relay are
// skipped. A full send queue closes the connection.
func (c *Client) Deliver(ev broadcast.Event, frame []byte) bool {
	if !c.session.accepts(ev) {
		return false
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send queue full; closing connection", zap.Int("capacity", cap(c.send)))
		c.Close()
		return false
	}
}

// sendJSON queues a frame for this client only.
func (c *Client) sendJSON(eventType string, data any) bool {
	frame, err := json.Marshal(broadcast.Envelope{Type: eventType, Data: data})
	if err != nil {
		c.logger.Error("encoding outbound message", zap.String("type", eventType), zap.Error(err))
		return false
	}
	return c.enqueue(frame)
}

// Close stops both pumps and closes the underlying connection. It is safe to
// call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", zap.Error(err))
		}
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Info("unexpected WebSocket close", zap.Error(err))
	default:
		c.logger.Info("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Info("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// readPump dispatches inbound frames to the session until the connection
// fails, then leaves every group exactly once.
func (c *Client) readPump() {
	defer func() {
		c.session.onLeave(c)
		c.registry.LeaveAll(c)
		c.hub.unregisterClient(c)
		c.Close()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.session.handle(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.writeCloseMessage()
		return false
	}
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing close message", zap.Error(err))
		}
	}
}

// writeTextMessage writes a single JSON frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Info("error writing ping message", zap.Error(err))
		return false
	}
	return true
}
