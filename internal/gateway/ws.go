package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 10
)

// WSHandler is the HTTP endpoint that upgrades clients into gateway
// connections. Handshake failures are rejected as plain HTTP JSON before
// the upgrade, so clients get a status code and a stable rejection code
// instead of a cryptic close frame.
type WSHandler struct {
	gw       *Gateway
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler builds the upgrade endpoint. allowedOrigins is a list of
// acceptable Origin values; "*" disables the check and an empty list falls
// back to same-host only.
func NewWSHandler(gw *Gateway, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred := auth.CredentialFromRequest(r)
	c, err := h.gw.Handshake(r.Context(), cred, r.RemoteAddr)
	if err != nil {
		errmap.WriteRejection(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		h.gw.Disconnect(c, errmap.WebSocketClose{Code: errmap.CloseProtocolError, Reason: "upgrade_failed"})
		return
	}

	go h.writePump(ws, c)
	go h.readPump(ws, c)
}

// readPump reads client frames until the socket dies, feeding each through
// the gateway dispatcher. It owns the read deadline: every pong extends it,
// so a silent peer times out after HeartbeatTimeout.
func (h *WSHandler) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		h.gw.Disconnect(c, errmap.WebSocketClose{Code: errmap.CloseNormalClosure, Reason: "client_gone"})
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(domain.HeartbeatTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(domain.HeartbeatTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error",
					slog.String("connection_id", c.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			h.gw.sendError(c, "", domain.ErrParse)
			continue
		}
		h.gw.Dispatch(context.Background(), c, frame)
	}
}

// writePump serializes all socket writes: queued frames, heartbeat pings
// and the final close frame. When the connection is torn down it drains
// whatever is still buffered so acks and shutdown notices reach the client
// before the close frame.
func (h *WSHandler) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(domain.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !h.writeFrame(ws, frame) {
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			for {
				select {
				case frame := <-c.send:
					if !h.writeFrame(ws, frame) {
						return
					}
				default:
					reason := c.CloseReason()
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(reason.Code, reason.Reason))
					return
				}
			}
		}
	}
}

func (h *WSHandler) writeFrame(ws *websocket.Conn, frame protocol.Frame) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(frame); err != nil {
		h.logger.Debug("websocket write error", slog.String("error", err.Error()))
		return false
	}
	return true
}

// originChecker builds the Upgrader origin policy from configuration.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-host default
	}
	exact := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		exact[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin; the credential gate is
			// the actual access control.
			return true
		}
		if _, ok := exact[strings.ToLower(strings.TrimSuffix(origin, "/"))]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := exact[strings.ToLower(u.Host)]
		return ok
	}
}
