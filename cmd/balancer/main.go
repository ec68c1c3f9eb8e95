package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dyc3/ott-balancer/internal/v1/auth"
	"github.com/dyc3/ott-balancer/internal/v1/config"
	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/discovery/static"
	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/health"
	"github.com/dyc3/ott-balancer/internal/v1/httpapi"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/ratelimit"
	"github.com/dyc3/ott-balancer/internal/v1/selection"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"github.com/dyc3/ott-balancer/internal/v1/upstream"
	"os/signal"
	"syscall"
)

const eventBusBuffer = 256

func main() {
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(logging.Options{
		Development: cfg.GoEnv != "production",
		LogFile:     cfg.LogFile,
	}); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	policy := selectionPolicy(cfg.SelectionStrategy)
	ctx := state.NewContext(policy, cfg.Region)
	bus := events.NewBus(eventBusBuffer)
	d := dispatcher.New(ctx, bus)

	balancerId := protocol.NewBalancerId()
	manager := upstream.NewManager(balancerId, d, bus)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimitEnabled {
		rl, err := ratelimit.NewRateLimiter(cfg, redisClient)
		if err != nil {
			logging.Fatal(nil, "failed to initialize rate limiter", zap.Error(err))
		}
		rateLimiter = rl
	}

	var tokenChecker auth.TokenChecker
	if cfg.SkipAuth {
		tokenChecker = &auth.MockValidator{}
	} else {
		tokenChecker = auth.NewValidator(cfg.APIKey)
	}

	router := &httpapi.Router{
		Ctx:            ctx,
		Dispatcher:     d,
		Bus:            bus,
		Proxy:          httpapi.NewProxy(),
		Auth:           tokenChecker,
		RateLimiter:    rateLimiter,
		Health:         health.NewHandler(redisClient),
		AllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
		Region:         cfg.Region,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go d.Run(runCtx)

	source := discoverySource(cfg.DiscoveryMethod)
	go manager.Run(runCtx, source)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router.New(),
	}

	go func() {
		logging.Info(nil, "balancer listening", zap.String("port", cfg.Port), zap.String("region", cfg.Region))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(nil, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(nil, "shutting down")

	cancel()
	source.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(nil, "server forced to shutdown", zap.Error(err))
	}
	logging.Info(nil, "balancer exited")
}

func selectionPolicy(strategy string) selection.Policy {
	if strategy == "hash_ring" {
		return selection.HashRing{}
	}
	return selection.MinRooms{}
}

// discoverySource builds the manual/static discovery source from
// MONOLITH_ENDPOINTS ("host:port,host:port,..."). Concrete DNS/fly/
// harness providers are out of scope (§1); any other configured method
// still runs against an empty static source so the balancer starts, just
// with no monoliths until one is added.
func discoverySource(method string) *static.Source {
	src := static.New()
	if method != string(discovery.MethodManual) && method != "" {
		logging.Warn(nil, "discovery method not implemented, starting with no endpoints", zap.String("method", method))
		return src
	}
	raw := os.Getenv("MONOLITH_ENDPOINTS")
	if raw == "" {
		return src
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, portStr, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		src.Add(discovery.ConnectionConfig{Host: host, Port: uint16(port)})
	}
	return src
}
