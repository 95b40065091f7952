// Package websocket owns the bidirectional transport: handshake
// authentication, connection registration and the per-connection read
// loop feeding the event router.
package websocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/registry"
	"github.com/example/chat-realtime/internal/router"
	"github.com/example/chat-realtime/internal/service/auth"
	"github.com/example/chat-realtime/pkg/httputil"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 16 * 1024
)

// Handler upgrades authenticated requests and runs the connection
// lifecycle. One read loop per connection keeps events from a single
// connection strictly ordered.
type Handler struct {
	registry  *registry.Registry
	router    *router.Router
	validator *auth.Validator
	upgrader  websocket.Upgrader

	rateBurst    int
	rateInterval time.Duration
}

func NewHandler(reg *registry.Registry, rt *router.Router, validator *auth.Validator, allowedOrigins []string, rateBurst int, rateInterval time.Duration) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &Handler{
		registry:  reg,
		router:    rt,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		rateBurst:    rateBurst,
		rateInterval: rateInterval,
	}
}

// HandleWebSocket authenticates the handshake and upgrades. The bearer
// credential rides the handshake (header, query parameter or cookie); an
// invalid one terminates the attempt before the upgrade.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token, err := httputil.GetTokenFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	identity, err := h.validator.Validate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	h.handleConnection(ws, *identity)
}

// handleConnection runs the read loop for one authenticated connection.
// The identity is fixed for the connection's lifetime; re-authentication
// means a new connection.
func (h *Handler) handleConnection(ws *websocket.Conn, identity domain.Identity) {
	connID := uuid.NewString()
	conn := newConn(ws)

	h.registry.Register(connID, identity, conn)
	log.Printf("[WS] Connection %s established for user %s", connID, identity.UserID)

	defer func() {
		h.registry.Unregister(connID)
		h.router.ConnectionClosed(connID)
		log.Printf("[WS] Connection %s closed for user %s", connID, identity.UserID)
	}()

	_ = conn.Send(map[string]string{"type": domain.EventConnected, "connectionId": connID})

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Keep-alive pinger; a write failure here just lets the read loop
	// notice the dead peer.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	limiter := newRateLimiter(h.rateBurst, h.rateInterval)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Connection %s dropped unexpectedly: %v", connID, err)
			}
			break
		}

		if !limiter.allow() {
			_ = conn.Send(domain.NewErrorAck(domain.CodeRateLimited, "slow down", ""))
			continue
		}

		// Inline call keeps events from this connection in order relative
		// to each other.
		h.router.HandleEvent(context.Background(), connID, data)
	}
}
