package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/middleware"
	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/search"
	"github.com/driveprofile/driveprofile/internal/selection"
)

// Websocket connection defaults.
const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxClientMessage    = 4 << 10
	outboundQueueLength = 8
)

// SocketConfig configures SessionSocketHandler.
type SocketConfig struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows
	// any origin; an empty list only allows same-origin requests.
	AllowedOrigins []string

	WriteWait time.Duration
	PongWait  time.Duration
}

// SessionSocketHandler streams session views over a websocket and accepts
// selection, profile and search events from the client.
type SessionSocketHandler struct {
	store     SessionStore
	upgrader  websocket.Upgrader
	writeWait time.Duration
	pongWait  time.Duration
	logger    zerolog.Logger
}

// NewSessionSocketHandler creates a new SessionSocketHandler.
func NewSessionSocketHandler(store SessionStore, cfg SocketConfig, logger zerolog.Logger) *SessionSocketHandler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}

	h := &SessionSocketHandler{
		store:     store,
		writeWait: cfg.WriteWait,
		pongWait:  cfg.PongWait,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker allows requests without an Origin header (non-browser
// clients), listed origins, and otherwise only the server's own host.
func originChecker(allowed []string) func(*http.Request) bool {
	origins := slices.Clone(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(origins) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		return slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}

// Serve handles GET /v1/sessions/{sessionId}/ws.
func (h *SessionSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "sessionId"))
	if !ok {
		response.NotFound(w, r, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		h.logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &socketConn{
		handler:  h,
		conn:     conn,
		sess:     sess,
		traceID:  middleware.GetRequestID(r.Context()),
		outbound: make(chan models.ServerMessage, outboundQueueLength),
		logger:   h.logger.With().Str("session_id", sess.ID()).Logger(),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c.logger.Debug().Msg("websocket connected")
	go c.readLoop(ctx, cancel)
	c.writeLoop(ctx)
	c.logger.Debug().Msg("websocket disconnected")
}

// socketConn is one websocket client. Only writeLoop writes to conn.
type socketConn struct {
	handler  *SessionSocketHandler
	conn     *websocket.Conn
	sess     *search.Session
	traceID  string
	outbound chan models.ServerMessage
	logger   zerolog.Logger
}

func (c *socketConn) writeLoop(ctx context.Context) {
	updates, unsubscribe := c.sess.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(c.handler.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				c.close(websocket.CloseGoingAway, "session closed")
				return
			}
			v := models.NewSessionView(snap)
			if err := c.write(models.ServerMessage{Type: models.MessageTypeView, View: &v}); err != nil {
				return
			}
		case msg := <-c.outbound:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.handler.writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			c.close(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (c *socketConn) write(msg models.ServerMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}

func (c *socketConn) close(code int, text string) {
	deadline := time.Now().Add(c.handler.writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (c *socketConn) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
	c.conn.SetPongHandler(func(string) error {
		// A connected client counts as activity.
		c.handler.store.Touch(c.sess.ID())
		return c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.handler.store.Touch(c.sess.ID())

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(ctx, c.problem(models.NewBadRequest(c.traceID, "invalid message", nil)))
			continue
		}
		c.handle(ctx, msg)
	}
}

// handle applies one client event. View updates reach the client through the
// session subscription, so only failures are answered directly.
func (c *socketConn) handle(ctx context.Context, msg models.ClientMessage) {
	switch msg.Type {
	case models.MessageTypeSelect:
		if _, err := c.sess.Select(msg.RouteID); err != nil {
			c.sendError(ctx, err)
		}
	case models.MessageTypeProfile:
		if _, err := c.sess.SetProfile(ranking.ProfileID(msg.Profile)); err != nil {
			c.sendError(ctx, err)
		}
	case models.MessageTypeSearch:
		req := models.SearchRequest{Source: msg.Source, Destination: msg.Destination, Profile: msg.Profile}
		if errs := req.Validate(); len(errs) > 0 {
			c.send(ctx, c.problem(models.NewBadRequest(c.traceID, "invalid search", errs)))
			return
		}
		q := search.Query{Source: req.Source, Destination: req.Destination, Profile: ranking.ProfileID(req.Profile)}
		// Searches run in the background so a newer search can supersede them.
		go func() {
			if _, err := c.sess.Search(ctx, q); err != nil {
				c.sendError(ctx, err)
			}
		}()
	default:
		c.send(ctx, c.problem(models.NewBadRequest(c.traceID, "unknown message type", []models.FieldError{
			{Field: "type", Message: "unsupported", Code: "UNKNOWN_TYPE"},
		})))
	}
}

func (c *socketConn) sendError(ctx context.Context, err error) {
	var locErr *search.LocationError
	var problem *models.Problem

	switch {
	case errors.Is(err, search.ErrNoRoutesFound), errors.Is(err, search.ErrSuperseded), ctx.Err() != nil:
		// Published through the subscription, replaced by a newer search, or
		// the connection is gone.
		return
	case errors.As(err, &locErr):
		problem = models.NewLocationNotFound(c.traceID, string(locErr.Endpoint), locErr.Query)
	case errors.Is(err, selection.ErrInvalidSelection):
		problem = models.NewNotFound(c.traceID, "route is not part of the current result")
	case errors.Is(err, ranking.ErrUnknownProfile):
		problem = models.NewBadRequest(c.traceID, "unknown profile", []models.FieldError{
			{Field: "profile", Message: "unknown profile", Code: "UNKNOWN_PROFILE"},
		})
	case errors.Is(err, search.ErrInvalidQuery):
		problem = models.NewBadRequest(c.traceID, err.Error(), nil)
	case errors.Is(err, search.ErrSessionClosed):
		problem = models.NewNotFound(c.traceID, "session not found")
	case isUnavailable(err):
		problem = models.NewServiceUnavailable(c.traceID, "map provider is temporarily unavailable")
	default:
		c.logger.Error().Err(err).Msg("websocket event failed")
		problem = models.NewInternalError(c.traceID, "an unexpected error occurred")
	}
	c.send(ctx, c.problem(problem))
}

func (c *socketConn) problem(p *models.Problem) models.ServerMessage {
	return models.ServerMessage{Type: models.MessageTypeError, Problem: p}
}

func (c *socketConn) send(ctx context.Context, msg models.ServerMessage) {
	select {
	case c.outbound <- msg:
	case <-ctx.Done():
	}
}
