package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyc3/ott-balancer/internal/v1/events"
)

func TestStateStream_FlattensEventFieldsAlongsideEventKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := events.NewBus(16)
	rt := &Router{Bus: bus}

	r := gin.New()
	r.GET("/stream", rt.stateStream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription happens asynchronously inside the handler after
	// upgrade, so keep publishing until one lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.WSFrame("monolith-1", "tx")
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "ws", frame["event"])
	assert.Equal(t, "monolith-1", frame["node_id"], "node_id must be a sibling of event, not nested under fields")
	assert.Equal(t, "tx", frame["direction"], "direction must be a sibling of event, not nested under fields")
	_, hasFieldsWrapper := frame["fields"]
	assert.False(t, hasFieldsWrapper, "the frame must not nest fields under a \"fields\" key")
}
