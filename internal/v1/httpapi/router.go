// Package httpapi is the balancer's HTTP route table (§4.6): health and
// status endpoints, the observability event stream, the room path's
// list/join/proxy dispatch, and the catch-all reverse proxy.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyc3/ott-balancer/internal/v1/auth"
	"github.com/dyc3/ott-balancer/internal/v1/clientsession"
	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/health"
	"github.com/dyc3/ott-balancer/internal/v1/middleware"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/ratelimit"
	"github.com/dyc3/ott-balancer/internal/v1/state"
)

const publicRoomsLimit = 50

// Router bundles the dependencies every route handler needs.
type Router struct {
	Ctx            *state.Context
	Dispatcher     *dispatcher.Dispatcher
	Bus            *events.Bus
	Proxy          *Proxy
	Auth           auth.TokenChecker
	RateLimiter    *ratelimit.RateLimiter
	Health         *health.Handler
	AllowedOrigins []string
	Region         string
}

// New builds the gin engine with CORS, correlation id, rate limiting, and
// the full route table wired in.
func (rt *Router) New() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = rt.AllowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	if rt.RateLimiter != nil {
		r.Use(rt.RateLimiter.APIMiddleware())
	}

	r.GET("/api/status", rt.status)
	r.GET("/api/status/metrics", gin.WrapH(promhttp.Handler()))

	if rt.Health != nil {
		r.GET("/health/live", rt.Health.Liveness)
		r.GET("/health/ready", rt.Health.Readiness)
	}

	authed := r.Group("/")
	authed.Use(rt.requireAuth())
	authed.GET("/api/balancing", rt.balancing)
	authed.GET("/api/state", rt.stateSnapshot)
	authed.GET("/api/state/stream", rt.stateStream)

	r.Any("/api/room/:name", rt.room)
	r.Any("/api/room/:name/*rest", rt.room)
	r.NoRoute(rt.other)

	return r
}

func (rt *Router) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || rt.Auth == nil || !rt.Auth.Valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (rt *Router) status(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (rt *Router) balancing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"region":    rt.Region,
		"monoliths": rt.Ctx.MonolithCount(),
		"rooms":     rt.Ctx.RoomCount(),
	})
}

func (rt *Router) stateSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, rt.Ctx.Snapshot())
}

// room dispatches /api/room/:name: the reserved "list" name aggregates
// public rooms, a WebSocket upgrade hands off to a client session,
// anything else proxies to the room's monolith (§4.6).
func (rt *Router) room(c *gin.Context) {
	name := protocol.RoomName(c.Param("name"))

	if name.IsReserved() {
		c.JSON(http.StatusOK, rt.Ctx.PublicRooms(publicRoomsLimit))
		return
	}

	if isWebSocketUpgrade(c.Request) {
		if rt.RateLimiter != nil && !rt.RateLimiter.CheckWebSocket(c) {
			return
		}
		clientsession.Handle(c, rt.Dispatcher, name, rt.AllowedOrigins)
		return
	}

	m, ok := rt.Ctx.ProxyTarget(name, rt.Region)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no monoliths available"})
		return
	}
	rt.Proxy.ServeHTTP(c, m)
}

// other proxies any unmatched path to a uniformly random monolith,
// preferring the balancer's own region (§4.6 "other" path).
func (rt *Router) other(c *gin.Context) {
	m, ok := rt.Ctx.AnyMonolith(rt.Region)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no monoliths available"})
		return
	}
	rt.Proxy.ServeHTTP(c, m)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
