package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/realtime"
)

const (
	wsPrincipalKey      = "ws_principal"
	defaultWriteTimeout = 10 * time.Second
)

// WSHandler upgrades authenticated requests to websocket sessions.
type WSHandler struct {
	sessions *realtime.SessionManager
	cfg      config.RealtimeConfig
	baseCtx  context.Context
}

// NewWSHandler constructs handler. baseCtx bounds every session started by the handler.
func NewWSHandler(baseCtx context.Context, sessions *realtime.SessionManager, cfg config.RealtimeConfig) *WSHandler {
	return &WSHandler{sessions: sessions, cfg: cfg, baseCtx: baseCtx}
}

// Upgrade verifies the credential before the protocol switch so a bad token is answered with
// a plain 401 and no session is created.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token, err := auth.ExtractToken(c)
	if err != nil {
		return err
	}
	principal, err := h.sessions.Authenticate(c.UserContext(), token)
	if err != nil {
		return err
	}
	c.Locals(wsPrincipalKey, principal)
	return c.Next()
}

// Serve is the websocket endpoint.
func (h *WSHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		principal, ok := conn.Locals(wsPrincipalKey).(*domain.Principal)
		if !ok {
			_ = conn.Close()
			return
		}
		h.sessions.Serve(h.baseCtx, newFiberTransport(conn, h.cfg), principal)
	})
}

// fiberTransport adapts a fiber websocket connection to realtime.Transport.
type fiberTransport struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newFiberTransport(conn *websocket.Conn, cfg config.RealtimeConfig) *fiberTransport {
	if cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(int64(cfg.MaxFrameBytes))
	}
	t := &fiberTransport{conn: conn, readTimeout: cfg.ReadTimeout, writeTimeout: cfg.WriteTimeout}
	conn.SetPongHandler(func(string) error {
		if t.readTimeout > 0 {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		}
		return nil
	})
	return t
}

func (t *fiberTransport) ReadJSON(v interface{}) error {
	return t.conn.ReadJSON(v)
}

func (t *fiberTransport) WriteJSON(v interface{}) error {
	if err := t.conn.SetWriteDeadline(t.writeDeadline()); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *fiberTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *fiberTransport) Close() error {
	return t.conn.Close()
}

func (t *fiberTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, t.writeDeadline())
}

// writeDeadline bounds every write so a peer that stops reading fails the write pump instead
// of holding it.
func (t *fiberTransport) writeDeadline() time.Time {
	timeout := t.writeTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return time.Now().Add(timeout)
}
