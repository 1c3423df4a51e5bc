// Package main implements the sftpstreams process: it loads the configuration,
// connects to NATS and runs the configured SFTP sources and sinks until it is
// signalled to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/componentregistry"
	"github.com/c360/sftpstreams/config"
	"github.com/c360/sftpstreams/health"
	"github.com/c360/sftpstreams/metric"
	"github.com/c360/sftpstreams/natsclient"
	"github.com/c360/sftpstreams/pkg/tlsutil"
)

// Build information
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "sftpstreams"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}

	switch {
	case cliCfg.ShowVersion:
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	case cliCfg.ShowHelp:
		cliCfg.usage()
		return nil
	case cliCfg.ListComponents:
		printComponents(registry)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("Starting sftpstreams",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "components", len(cfg.EnabledComponents()))
		return nil
	}

	ctx := context.Background()
	metricsRegistry := metric.NewMetricsRegistry()
	natsClient, err := connectToNATS(ctx, cfg.NATS, metricsRegistry, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}
	components, err := createComponents(registry, cfg, deps)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(appName)
	monitor.Watch(components)
	monitor.AddCheck("nats", func() health.Status {
		return natsStatus(natsClient)
	})

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, monitor)
		serverTLS, err := tlsutil.LoadServerConfig(cfg.Metrics.TLS)
		if err != nil {
			return fmt.Errorf("metrics tls: %w", err)
		}
		server.SetTLSConfig(serverTLS)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server listening", "address", server.Address())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(stopCtx)
		}()
	}

	manager := component.NewManager(components, logger)
	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// loadConfig loads the layered configuration and applies flag overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(cliCfg.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.MetricsPort > 0 {
		cfg.Metrics.Port = cliCfg.MetricsPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// connectToNATS creates the binder connection and waits for it to be ready
func connectToNATS(
	ctx context.Context,
	cfg config.NATSConfig,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metricsRegistry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait.D()))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("nats tls: %w", err)
	}
	opts = append(opts, natsclient.WithTLS(tlsConfig))

	name := cfg.Name
	if name == "" {
		name = appName
	}
	opts = append(opts, natsclient.WithName(name))

	natsClient, err := natsclient.NewClient(cfg.URLs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.URLs[0])
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		_ = natsClient.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return natsClient, nil
}

// createComponents instantiates every enabled component entry
func createComponents(
	registry *component.Registry,
	cfg *config.Config,
	deps component.Dependencies,
) (map[string]component.Discoverable, error) {
	enabled := cfg.EnabledComponents()
	out := make(map[string]component.Discoverable, len(enabled))
	for name, cc := range enabled {
		c, err := registry.CreateComponent(name, cc, deps)
		if err != nil {
			return nil, fmt.Errorf("create component %s: %w", name, err)
		}
		slog.Info("Created component", "name", name, "factory", cc.Name, "type", c.Meta().Type)
		out[name] = c
	}
	return out, nil
}

func natsStatus(client *natsclient.Client) health.Status {
	st := health.Status{
		Healthy:   client.IsHealthy(),
		Status:    health.StatusHealthy,
		Timestamp: time.Now(),
	}
	if !st.Healthy {
		st.Status = health.StatusUnhealthy
		st.Message = "NATS " + client.Status().String()
	}
	return st
}

// runWithSignalHandling starts the components and blocks until SIGINT or SIGTERM
func runWithSignalHandling(ctx context.Context, manager *component.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("sftpstreams started", "components", len(manager.Components()))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	manager.Stop(shutdownTimeout)
	slog.Info("sftpstreams shutdown complete")
	return nil
}

func printComponents(registry *component.Registry) {
	available := registry.ListAvailable()
	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := available[name]
		fmt.Printf("%-14s %-7s %s\n", name, info.Type, info.Description)
	}
}
