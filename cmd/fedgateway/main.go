// Package main runs a federating gateway: it answers federated queries over
// REST, reads neighbours' properties over the NATS overlay and serves its own
// adapter's properties to neighbours.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/config"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/federation"
	gatewayhttp "github.com/vicinityh2020/vicinity-gateway-api-sub001/gateway/http"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/health"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/natsclient"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/p2p"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/pkg/retry"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "fedgateway"
)

// Component names reported on the health route
const (
	componentOverlay   = "overlay"
	componentRoster    = "roster"
	componentResponder = "responder"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(flag.CommandLine)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting federating gateway",
		"version", Version,
		"build_time", BuildTime,
		"platform_id", cfg.Platform.ID,
		"config_path", cliCfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	monitor := health.NewMonitor(logger)

	natsClient, err := connectToNATS(ctx, cfg, metrics, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	prefix := subjectPrefix(cfg)
	roster, kvRoster, err := setupRoster(ctx, cfg, natsClient, monitor, logger)
	if err != nil {
		return err
	}

	reader, err := p2p.NewNATSPropertyReader(natsClient, prefix, cfg.Platform.ID, logger)
	if err != nil {
		return fmt.Errorf("create property reader: %w", err)
	}

	engine, err := setupEngine(cfg, roster, reader, metrics, logger)
	if err != nil {
		return err
	}

	if err := startResponder(ctx, cfg, prefix, natsClient, monitor, logger); err != nil {
		return err
	}

	gateway, err := gatewayhttp.NewGateway(gatewayhttp.Dependencies{
		Engine:   engine,
		Reader:   reader,
		Health:   monitor,
		Registry: registry,
	}, gatewayhttp.Config{
		MaxRequestSize: cfg.HTTP.MaxRequestSize,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("create REST binding: %w", err)
	}

	serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
	if err != nil {
		return fmt.Errorf("load REST binding TLS: %w", err)
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         serverTLS,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("REST binding listening", "addr", cfg.HTTP.Addr, "tls", serverTLS != nil)
		var err error
		if serverTLS != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve REST binding: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down REST binding")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if kvRoster != nil {
		g.Go(func() error {
			return kvRoster.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Federating gateway stopped")
	return nil
}

// loadConfig loads configuration from the file at path, or from defaults and
// the environment alone when path is empty
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// subjectPrefix roots property subjects under the organisation when one is set
func subjectPrefix(cfg *config.Config) string {
	if cfg.Platform.Org == "" {
		return cfg.NATS.SubjectPrefix
	}
	return cfg.NATS.SubjectPrefix + "." + cfg.Platform.Org
}

func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	metrics *metric.Metrics,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	clientTLS, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, fmt.Errorf("load NATS TLS: %w", err)
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithClientName(appName + "-" + cfg.Platform.ID),
		natsclient.WithTLSConfig(clientTLS),
		natsclient.WithHealthChangeCallback(overlayHealth(metrics, monitor)),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	monitor.MarkUnhealthy(componentOverlay, "connecting")
	logger.Info("Connecting to NATS", "urls", cfg.NATS.URLs, "tls", clientTLS != nil)
	if err := client.ConnectWithRetry(ctx, retry.DefaultConfig()); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	overlayHealth(metrics, monitor)(true)
	return client, nil
}

// overlayHealth mirrors overlay connectivity into the gauge and the monitor
func overlayHealth(metrics *metric.Metrics, monitor *health.Monitor) func(bool) {
	return func(healthy bool) {
		if healthy {
			metrics.OverlayConnected.Set(1)
			monitor.MarkHealthy(componentOverlay, "connected")
			return
		}
		metrics.OverlayConnected.Set(0)
		monitor.MarkUnhealthy(componentOverlay, "disconnected")
	}
}

// setupRoster picks the neighbour roster: the configured list when present,
// otherwise the overlay's KV roster. The returned KVRoster, when non-nil,
// must be Run to keep this gateway listed.
func setupRoster(
	ctx context.Context,
	cfg *config.Config,
	client *natsclient.Client,
	monitor *health.Monitor,
	logger *slog.Logger,
) (federation.RosterProvider, *p2p.KVRoster, error) {
	if len(cfg.Federation.Neighbours) > 0 || cfg.NATS.RosterBucket == "" {
		logger.Info("Using static roster", "neighbours", cfg.Federation.Neighbours)
		monitor.MarkHealthy(componentRoster, fmt.Sprintf("static, %d neighbours", len(cfg.Federation.Neighbours)))
		return p2p.NewStaticRoster(cfg.Federation.Neighbours), nil, nil
	}

	monitor.MarkDegraded(componentRoster, "not yet registered")
	kvRoster, err := p2p.NewKVRoster(ctx, client, p2p.KVRosterConfig{
		Bucket: cfg.NATS.RosterBucket,
		Self:   cfg.Platform.ID,
		OnHeartbeat: func(err error) {
			monitor.ReportErr(componentRoster, err, "registered")
		},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open roster bucket: %w", err)
	}
	return kvRoster, kvRoster, nil
}

func setupEngine(
	cfg *config.Config,
	roster federation.RosterProvider,
	reader federation.PropertyReader,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*federation.Engine, error) {
	discovery, err := federation.NewDiscoveryClient(federation.DiscoveryConfig{
		URL:     cfg.Federation.DiscoveryURL,
		Timeout: cfg.Federation.DiscoveryTimeout,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create discovery client: %w", err)
	}

	planner, err := federation.NewTEDPlanner(logger)
	if err != nil {
		return nil, fmt.Errorf("create planner: %w", err)
	}

	engine, err := federation.NewEngine(federation.Dependencies{
		Discoverer: discovery,
		Planner:    planner,
		Solver:     federation.NewDocumentSolver(logger),
		Roster:     roster,
		Reader:     reader,
	}, federation.Config{
		MaxWorkers:   cfg.Federation.MaxWorkers,
		FetchTimeout: cfg.Federation.FetchTimeout,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return engine, nil
}

// startResponder serves neighbours' reads of this gateway's objects when a
// local adapter is configured
func startResponder(
	ctx context.Context,
	cfg *config.Config,
	prefix string,
	client *natsclient.Client,
	monitor *health.Monitor,
	logger *slog.Logger,
) error {
	if cfg.Adapter.URL == "" {
		logger.Info("No local adapter configured, not answering neighbours' reads")
		return nil
	}

	source, err := p2p.NewAdapterSource(cfg.Adapter.URL, cfg.Adapter.Timeout, logger)
	if err != nil {
		return fmt.Errorf("create adapter source: %w", err)
	}
	responder, err := p2p.NewResponder(client, source, p2p.ResponderConfig{
		Prefix:    prefix,
		GatewayID: cfg.Platform.ID,
		Objects:   cfg.Adapter.Objects,
	}, logger)
	if err != nil {
		return fmt.Errorf("create responder: %w", err)
	}
	if err := responder.Start(ctx); err != nil {
		return fmt.Errorf("start responder: %w", err)
	}
	monitor.MarkHealthy(componentResponder, fmt.Sprintf("serving %d objects", len(cfg.Adapter.Objects)))
	return nil
}
