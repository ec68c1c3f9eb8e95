package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/metrics"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"go.uber.org/zap"
)

// Proxy forwards non-WS room and "other" requests to a monolith's
// proxy_port (§4.6), wrapping each target in its own circuit breaker so
// one wedged monolith's retries never pin request-handling goroutines.
type Proxy struct {
	mu       sync.Mutex
	breakers map[protocol.MonolithId]*gobreaker.CircuitBreaker
}

// NewProxy creates an empty Proxy; breakers are created lazily per
// monolith on first use.
func NewProxy() *Proxy {
	return &Proxy{breakers: make(map[protocol.MonolithId]*gobreaker.CircuitBreaker)}
}

func (p *Proxy) breakerFor(m *state.Monolith) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[m.Id]; ok {
		return cb
	}
	name := m.Id.String()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	})
	p.breakers[m.Id] = cb
	return cb
}

// ServeHTTP rewrites r's scheme and port to target m's proxy_port and
// relays method, path, query, headers, and a buffered body, then copies
// the response back (§4.6). Redirects are disabled on the monolith's own
// HTTPClient so a 3xx passes through untouched.
func (p *Proxy) ServeHTTP(c *gin.Context, m *state.Monolith) {
	cb := p.breakerFor(m)
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read request body"})
		return
	}

	url := fmt.Sprintf("http://%s:%d%s", m.Conn.Host, m.ProxyPort, c.Request.URL.RequestURI())

	result, err := cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = c.Request.Header.Clone()
		return m.HTTPClient.Do(req)
	})

	status := "ok"
	defer func() {
		metrics.ProxyRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		if err == gobreaker.ErrOpenState {
			status = "breaker_open"
			metrics.CircuitBreakerRejections.WithLabelValues(m.Id.String()).Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monolith unavailable"})
			return
		}
		status = "error"
		logging.Warn(c.Request.Context(), "proxy request failed", zap.String("monolith", m.Id.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "proxy request failed"})
		return
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}
