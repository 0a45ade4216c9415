package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/makaronz/stillontime/internal/auth"
	"github.com/makaronz/stillontime/internal/notify"
)

// WebSocketHandler handles /api/v1/ws for real-time job updates.
type WebSocketHandler struct {
	validator auth.TokenValidator
	hub       *notify.Hub
}

func NewWebSocketHandler(validator auth.TokenValidator, hub *notify.Hub) *WebSocketHandler {
	return &WebSocketHandler{validator: validator, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server is expected to run behind a reverse proxy in a
		// trusted environment.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub.
// Authentication uses a query parameter (?token=...) because browsers cannot
// set custom headers on WebSocket connections; the Authorization header is
// accepted as a fallback for non-browser clients.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			fields := strings.Fields(authHeader)
			if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
				token = strings.TrimSpace(strings.Join(fields[1:], " "))
			}
		}
	}

	if token == "" {
		log.Printf("WebSocketHandler: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.validator.Validate(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for user %s: %v", userID, err)
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", userID)
		return
	}

	go h.readLoop(userID, client)
}

// readLoop drains the connection until it closes, then unregisters the
// client. Clients only listen; inbound frames are discarded.
func (h *WebSocketHandler) readLoop(userID string, client *notify.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
}
