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

	"github.com/rockmesh/im/presence/internal/api"
	presmetrics "github.com/rockmesh/im/presence/internal/metrics"
	"github.com/rockmesh/im/presence/internal/rockserver"
	"github.com/rockmesh/im/presence/internal/store"
	"github.com/rockmesh/im/shared/logging"
	"github.com/rockmesh/im/shared/presence"
	"github.com/rockmesh/im/shared/registry"
	"github.com/rockmesh/im/shared/rock"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	httpAddr string
	rockAddr string
	logLevel string

	sweepInterval    time.Duration
	rockMaxFrameSize int64

	zkHosts string
	zkRoot  string

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
		Use:   "im-presence",
		Short: "Presence Directory — tracks which gateway owns each uid's live connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	f := root.PersistentFlags()
	f.StringVar(&cfg.httpAddr, "http-addr", envOrDefault("IM_PRESENCE_HTTP_ADDR", ":8090"), "Health/metrics listen address")
	f.StringVar(&cfg.rockAddr, "rock-addr", envOrDefault("IM_PRESENCE_ROCK_ADDR", ":9200"), "Rock RPC listen address")
	f.Int64Var(&cfg.rockMaxFrameSize, "rock-max-frame-size", envOrInt64Default("IM_ROCK_MAX_FRAME_SIZE", int64(rock.DefaultMaxFrameSize)), "Max declared Rock frame length in bytes")
	f.StringVar(&cfg.logLevel, "log-level", envOrDefault("IM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	f.DurationVar(&cfg.sweepInterval, "sweep-interval", envOrDurationDefault("IM_PRESENCE_SWEEP_INTERVAL", store.DefaultSweepInterval), "TTL sweep period")

	f.StringVar(&cfg.zkHosts, "service-discovery-zk-hosts", envOrDefault("IM_SERVICE_DISCOVERY_ZK_HOSTS", ""), "Comma-separated ZooKeeper hosts for self-registration (empty disables it)")
	f.StringVar(&cfg.zkRoot, "service-discovery-zk-root", envOrDefault("IM_SERVICE_DISCOVERY_ZK_ROOT", "/im"), "ZooKeeper root znode")

	f.StringVar(&cfg.selfHost, "self-host", envOrDefault("IM_PRESENCE_SELF_HOST", ""), "Host:port this process advertises under svc-presence (required when zk hosts are set)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("im-presence %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := logging.Build(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting im-presence",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("rock_addr", cfg.rockAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	transportMetrics := rock.NewMetrics(reg)
	presMetrics := presmetrics.New(reg)

	s := store.New()

	sweeper, err := store.NewSweeper(s, cfg.sweepInterval, func(n int) {
		presMetrics.BindingsSweptTotal.Add(float64(n))
		presMetrics.ActiveBindings.Set(float64(s.Count()))
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build TTL sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop() //nolint:errcheck

	rockSrv := rock.NewServer(logger, transportMetrics)
	rockSrv.SetMaxFrameSize(uint32(cfg.rockMaxFrameSize))
	rockserver.Register(rockSrv, s, presMetrics, logger)

	go func() {
		if err := rockSrv.ListenAndServe(ctx, cfg.rockAddr); err != nil {
			logger.Error("rock server error", zap.Error(err))
			cancel()
		}
	}()

	if cfg.zkHosts != "" {
		if err := registerSelf(cfg, logger); err != nil {
			logger.Warn("self-registration with service discovery failed", zap.Error(err))
		}
	}

	router := api.NewRouter(api.RouterConfig{Store: s, Metrics: reg, Logger: logger})
	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down im-presence")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("im-presence stopped")
	return nil
}

// registerSelf self-advertises this process under svc-presence/presence
// so gateways doing ZK discovery (no presence-fixed-addr configured) can
// find it. Uses an ephemeral znode the same way gateway/presence peers
// advertise themselves elsewhere in the fleet.
func registerSelf(cfg *config, logger *zap.Logger) error {
	if cfg.selfHost == "" {
		return fmt.Errorf("self-host is required when service_discovery.zk is configured")
	}
	hosts := strings.Split(cfg.zkHosts, ",")
	zkClient, err := registry.NewZK(hosts, cfg.zkRoot, logger)
	if err != nil {
		return err
	}

	host, portStr, err := splitHostPort(cfg.rockAddr)
	if err != nil {
		return err
	}
	if host == "" {
		host, _, _ = splitHostPort(cfg.selfHost)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid rock-addr port: %w", err)
	}

	payload := fmt.Sprintf("%s:%d:%s", host, port, cfg.selfHost)
	return zkClient.Register(presence.Domain, presence.Service, registry.Instance{
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
