package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"go.uber.org/zap"
)

const streamWriteWait = 10 * time.Second

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// stateStream upgrades an authenticated request to a WebSocket and
// relays every bus event as a JSON text frame until a write to the
// client fails. A lagging client loses events rather than being
// disconnected (§4.7 -- this MUST NOT block the dispatcher, so
// subscription uses the bus's own bounded, drop-on-full fanout).
func (rt *Router) stateStream(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "state stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if rt.Bus == nil {
		return
	}
	id, events := rt.Bus.Subscribe()
	defer rt.Bus.Unsubscribe(id)

	for ev := range events {
		frame := make(map[string]any, len(ev.Fields)+1)
		for k, v := range ev.Fields {
			frame[k] = v
		}
		frame["event"] = ev.Kind

		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
