package server

import (
	"log"
	"net/http"
	"path"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"repairdesk/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla allows one concurrent writer per conn.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// registerWS upgrades authenticated clients and tracks them in the registry
// until the socket closes. Inbound frames are drained and discarded; the
// stream is push only.
func registerWS(r chi.Router, basePath string, reg *notify.Registry) {
	if reg == nil {
		return
	}
	r.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok || principal.UserID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Printf("ws: upgrade failed: %v", err)
			return
		}
		handle := uuid.NewString()
		reg.Join(handle, principal.UserID, principal.Role, &wsConn{conn: conn})
		go func() {
			defer func() {
				reg.Leave(handle)
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}
