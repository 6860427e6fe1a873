package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/api"
	"github.com/rockmesh/im/gateway/internal/push"
	"github.com/rockmesh/im/gateway/internal/rockserver"
	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/gateway/internal/ws"
	"github.com/rockmesh/im/shared/auth"
	"github.com/rockmesh/im/shared/logging"
	"github.com/rockmesh/im/shared/presence"
	"github.com/rockmesh/im/shared/registry"
	"github.com/rockmesh/im/shared/rock"
	"github.com/rockmesh/im/shared/services"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	wsAddr   string
	rockAddr string
	logLevel string

	jwtSecret    string
	jwtIssuer    string
	jwtExpiresIn time.Duration

	maxMessageSize      int64
	allowUnmaskedClient bool
	rockMaxFrameSize    int64

	presenceFixedAddr string
	presenceZKHosts   string
	presenceZKRoot    string

	talkFixedAddr string

	selfHost string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "im-gateway",
		Short: "IM WebSocket Edge — terminates client connections and bridges them to Rock RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	f := root.PersistentFlags()
	f.StringVar(&cfg.wsAddr, "ws-addr", envOrDefault("IM_GATEWAY_WS_ADDR", ":8080"), "HTTP/WebSocket listen address")
	f.StringVar(&cfg.rockAddr, "rock-addr", envOrDefault("IM_GATEWAY_ROCK_ADDR", ":9100"), "Rock RPC listen address (advertised to presence)")
	f.Int64Var(&cfg.rockMaxFrameSize, "rock-max-frame-size", envOrInt64Default("IM_ROCK_MAX_FRAME_SIZE", int64(rock.DefaultMaxFrameSize)), "Max declared Rock frame length in bytes")
	f.StringVar(&cfg.logLevel, "log-level", envOrDefault("IM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	f.StringVar(&cfg.jwtSecret, "auth-jwt-secret", envOrDefault("IM_AUTH_JWT_SECRET", ""), "HS256 shared secret for session tokens (required)")
	f.StringVar(&cfg.jwtIssuer, "auth-jwt-issuer", envOrDefault("IM_AUTH_JWT_ISSUER", "im"), "Expected JWT issuer")
	f.DurationVar(&cfg.jwtExpiresIn, "auth-jwt-expires-in", envOrDurationDefault("IM_AUTH_JWT_EXPIRES_IN", 24*time.Hour), "JWT lifetime for locally-issued tokens")

	f.Int64Var(&cfg.maxMessageSize, "websocket-message-max-size", envOrInt64Default("IM_WEBSOCKET_MESSAGE_MAX_SIZE", session.DefaultMaxMessageSize), "Max accumulated inbound WS message size in bytes")
	f.BoolVar(&cfg.allowUnmaskedClient, "websocket-allow-unmasked-client-frames", envOrDefault("IM_WEBSOCKET_ALLOW_UNMASKED_CLIENT_FRAMES", "false") == "true", "Accept unmasked client frames (non-browser clients only)")

	f.StringVar(&cfg.presenceFixedAddr, "presence-fixed-addr", envOrDefault("IM_PRESENCE_FIXED_ADDR", ""), "Fixed Rock address for the presence service, short-circuits discovery")
	f.StringVar(&cfg.presenceZKHosts, "service-discovery-zk-hosts", envOrDefault("IM_SERVICE_DISCOVERY_ZK_HOSTS", ""), "Comma-separated ZooKeeper hosts for service discovery")
	f.StringVar(&cfg.presenceZKRoot, "service-discovery-zk-root", envOrDefault("IM_SERVICE_DISCOVERY_ZK_ROOT", "/im"), "ZooKeeper root znode for service registration")

	f.StringVar(&cfg.talkFixedAddr, "talk-fixed-addr", envOrDefault("IM_TALK_FIXED_ADDR", ""), "Fixed Rock address for the talk service (group member resolution); empty disables group fan-out")

	f.StringVar(&cfg.selfHost, "self-host", envOrDefault("IM_GATEWAY_SELF_HOST", ""), "Host:port this gateway advertises to presence for cross-gateway delivery (required)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("im-gateway %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := logging.Build(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.jwtSecret == "" {
		return fmt.Errorf("auth JWT secret is required — set --auth-jwt-secret or IM_AUTH_JWT_SECRET")
	}
	if cfg.selfHost == "" {
		return fmt.Errorf("self-host is required — set --self-host or IM_GATEWAY_SELF_HOST")
	}

	logger.Info("starting im-gateway",
		zap.String("version", version),
		zap.String("ws_addr", cfg.wsAddr),
		zap.String("rock_addr", cfg.rockAddr),
		zap.String("self_host", cfg.selfHost),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := rock.NewMetrics(reg)

	// --- Auth ---
	jwtMgr, err := auth.NewManager([]byte(cfg.jwtSecret), cfg.jwtIssuer, cfg.jwtExpiresIn)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	// --- Presence client ---
	presenceBackend, err := buildPresenceBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize presence discovery: %w", err)
	}
	presenceConn, err := registry.Resolve(cfg.presenceFixedAddr, presence.Domain, presence.Service, presenceBackend)
	if err != nil {
		return fmt.Errorf("failed to resolve presence service: %w", err)
	}
	defer presenceConn.Close()

	pool := rock.NewPool(rock.Options{Metrics: metrics, Logger: logger}, logger)
	defer pool.CloseAll()

	presenceClient := presence.NewClient(rock.NewDiscoveredConn(presenceConn, pool, presence.Domain, presence.Service))

	// --- Talk client (optional: group fan-out) ---
	var talkClient services.TalkClient
	if cfg.talkFixedAddr != "" {
		talkConn, err := pool.Get(ctx, cfg.talkFixedAddr)
		if err != nil {
			return fmt.Errorf("failed to dial talk service: %w", err)
		}
		talkClient = services.NewRockTalkClient(talkConn)
	}

	// --- Session registry + cross-gateway dispatcher ---
	sessionRegistry := session.NewRegistry()
	dispatcher := push.New(sessionRegistry, presenceClient, pool, talkClient, cfg.selfHost, logger)

	// --- Rock server (inbound cmd 101 deliver-to-user) ---
	rockSrv := rock.NewServer(logger, metrics)
	rockSrv.SetMaxFrameSize(uint32(cfg.rockMaxFrameSize))
	rockserver.Register(rockSrv, sessionRegistry, logger)

	go func() {
		if err := rockSrv.ListenAndServe(ctx, cfg.rockAddr); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("rock server error", zap.Error(err))
			cancel()
		}
	}()

	if err := registerSelf(presenceConn, cfg); err != nil {
		logger.Warn("self-registration with service discovery failed", zap.Error(err))
	}

	// --- WebSocket edge ---
	wsHandler := ws.NewHandler(sessionRegistry, jwtMgr, presenceClient, dispatcher, ws.Config{
		MaxMessageSize:      cfg.maxMessageSize,
		AllowUnmaskedClient: cfg.allowUnmaskedClient,
		SelfRPCAddr:         cfg.selfHost,
		TTLSec:              presence.DefaultTTLSeconds,
	}, logger)

	router := api.NewRouter(api.RouterConfig{
		WS:       wsHandler,
		Registry: sessionRegistry,
		Metrics:  reg,
		Logger:   logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.wsAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WS connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.wsAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down im-gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("im-gateway stopped")
	return nil
}

// buildPresenceBackend constructs the discovery backend used when no fixed
// presence address is configured. A nil, nil return is valid only when a
// fixed address makes the backend unreachable anyway.
func buildPresenceBackend(cfg *config, logger *zap.Logger) (registry.Client, error) {
	if cfg.presenceFixedAddr != "" || cfg.presenceZKHosts == "" {
		return nil, nil
	}
	hosts := strings.Split(cfg.presenceZKHosts, ",")
	return registry.NewZK(hosts, cfg.presenceZKRoot, logger)
}

// registerSelf publishes this gateway's own Rock address under the gateway
// service so presence-aware peers (and cmd 101 senders) can discover it.
// A FixedClient backend rejects Register; that is expected when the
// deployment pins addresses instead of running discovery.
func registerSelf(conn registry.Client, cfg *config) error {
	host, portStr, err := splitHostPort(cfg.rockAddr)
	if err != nil {
		return err
	}
	if host == "" {
		host = cfg.selfHost
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid rock-addr port: %w", err)
	}
	payload := fmt.Sprintf("%s:%d:%s", host, port, cfg.selfHost)
	return conn.Register("svc-im-gateway", "gateway", registry.Instance{
		ID: cfg.selfHost, IP: host, Port: port, Payload: payload,
	})
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("address %q has no port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDurationDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envOrInt64Default(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}
