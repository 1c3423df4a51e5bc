// Package sftp provides the SFTP source component. It polls one remote
// directory, or rotates across several servers, and publishes one message per
// new remote file to NATS.
package sftp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/idempotent"
	"github.com/c360/sftpstreams/metadata"
	"github.com/c360/sftpstreams/metric"
	"github.com/c360/sftpstreams/natsclient"
	"github.com/c360/sftpstreams/pkg/retry"
	"github.com/c360/sftpstreams/pkg/trigger"
	"github.com/c360/sftpstreams/rotation"
	remote "github.com/c360/sftpstreams/sftp"
	"github.com/c360/sftpstreams/tasklaunch"
	"github.com/c360/sftpstreams/transfer"
)

// Publisher hands a message to the binder. *natsclient.Client implements it.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

// Input polls SFTP servers and publishes file messages to NATS
type Input struct {
	name       string
	cfg        InputConfig
	deps       component.Dependencies
	natsClient *natsclient.Client
	publisher  Publisher
	logger     *slog.Logger

	retryConfig retry.Config
	metrics     *Metrics

	// Built by Initialize
	filter       remote.FileFilter
	trigger      trigger.Trigger
	registry     *rotation.Registry
	orchestrator *rotation.Orchestrator
	launcher     *tasklaunch.Builder
	initialized  bool

	// Built by Start unless injected
	sessions    *remote.DelegatingSessionFactory
	ownSessions bool
	store       metadata.Store
	ownStore    bool
	seen        *idempotent.Filter
	transfers   *transfer.Service
	fs          afero.Fs
	clock       clockwork.Clock

	// Lifecycle management
	done      chan struct{}
	cancel    context.CancelFunc
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup

	// Flow counters
	messagesPublished atomic.Int64
	bytesPublished    atomic.Int64
	errors            atomic.Int64
	lastActivity      atomic.Value // time.Time
	lastError         atomic.Value // string
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// InputDeps holds runtime dependencies for the SFTP source
type InputDeps struct {
	Name            string
	Config          InputConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Optional overrides. Nil values are built from Config in Start.
	Publisher Publisher
	Sessions  *remote.DelegatingSessionFactory
	Store     metadata.Store
	Fs        afero.Fs
	Clock     clockwork.Clock
}

// NewInput creates an SFTP source from deps
func NewInput(deps InputDeps) *Input {
	name := deps.Name
	if name == "" {
		name = "sftp-source"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	publisher := deps.Publisher
	if publisher == nil && deps.NATSClient != nil {
		publisher = deps.NATSClient
	}
	fs := deps.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	retryConfig := deps.Config.Retry.ToRetryConfig()
	retryConfig.Clock = clock

	in := &Input{
		name:        name,
		cfg:         deps.Config,
		natsClient:  deps.NATSClient,
		publisher:   publisher,
		logger:      logger,
		retryConfig: retryConfig,
		metrics:     newMetrics(deps.MetricsRegistry, name),
		sessions:    deps.Sessions,
		store:       deps.Store,
		fs:          fs,
		clock:       clock,
		deps: component.Dependencies{
			NATSClient:      deps.NATSClient,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          logger,
		},
	}
	in.lastActivity.Store(time.Time{})
	in.lastError.Store("")
	return in
}

// Meta returns the component metadata
func (u *Input) Meta() component.Metadata {
	target := u.cfg.RemoteDir
	if u.cfg.MultiSource() {
		target = fmt.Sprintf("%d server directories", len(u.cfg.Directories))
	}
	return component.Metadata{
		Name:        u.name,
		Type:        "input",
		Description: fmt.Sprintf("SFTP source polling %s publishing to %s", target, u.cfg.Subject),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (u *Input) Health() component.HealthStatus {
	var uptime time.Duration
	u.mu.RLock()
	if !u.startTime.IsZero() {
		uptime = time.Since(u.startTime)
	}
	u.mu.RUnlock()

	lastError, _ := u.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    u.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(u.errors.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (u *Input) DataFlow() component.FlowMetrics {
	messages := u.messagesPublished.Load()
	bytes := u.bytesPublished.Load()
	errorCount := u.errors.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	u.mu.RLock()
	started := u.startTime
	u.mu.RUnlock()
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			messagesPerSecond = float64(messages) / uptime
			bytesPerSecond = float64(bytes) / uptime
		}
	}
	if messages > 0 {
		errorRate = float64(errorCount) / float64(messages)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the configuration and builds the poll pipeline. No I/O.
func (u *Input) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.initializeLocked()
}

func (u *Input) initializeLocked() error {
	if u.initialized {
		return nil
	}
	if err := u.cfg.Validate(); err != nil {
		return err
	}
	if u.publisher == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client: %w", errors.ErrNoConnection),
			"sftp-source", "Initialize", "NATS client validation")
	}

	filter, err := remote.NewFileFilter(u.cfg.FilenamePattern, u.cfg.FilenameRegex, u.cfg.TmpFileSuffix)
	if err != nil {
		return err
	}
	trig, err := trigger.New(u.cfg.Trigger)
	if err != nil {
		return err
	}

	var (
		registry     *rotation.Registry
		orchestrator *rotation.Orchestrator
	)
	if u.cfg.MultiSource() {
		registry, err = rotation.NewRegistry(u.cfg.Directories)
		if err != nil {
			return err
		}
		orchestrator, err = rotation.NewOrchestrator(registry, u.cfg.Fair, u.cfg.factories(), u.logger)
		if err != nil {
			return err
		}
	}

	var launcher *tasklaunch.Builder
	if u.cfg.TaskLauncherOutput {
		launcher, err = tasklaunch.NewBuilder(u.cfg.Task, u.cfg.ListOnly, u.cfg.MultiSource(), u.cfg.LocalDir, u.cfg.Factory)
		if err != nil {
			return err
		}
	}

	u.filter = filter
	u.trigger = trig
	u.registry = registry
	u.orchestrator = orchestrator
	u.launcher = launcher
	u.initialized = true
	return nil
}

// Start opens the session factories, metadata store and transfer destination
// and begins polling.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil
	}
	if err := u.initializeLocked(); err != nil {
		return err
	}
	if err := u.open(ctx); err != nil {
		u.closeResources()
		return errors.Wrap(err, "sftp-source", "Start", "open resources")
	}

	u.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	u.running.Store(true)
	u.startTime = time.Now()

	poller := &trigger.Poller{Trigger: u.trigger, Clock: u.clock, Logger: u.logger}
	done := u.done
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer close(done)
		_ = poller.Run(runCtx, u.poll)
	}()

	u.logger.Info("SFTP source started",
		"subject", u.cfg.Subject, "multi_source", u.cfg.MultiSource(), "fair", u.cfg.Fair)
	return nil
}

// open builds everything that needs I/O. Callers hold u.mu.
func (u *Input) open(ctx context.Context) error {
	if u.sessions == nil {
		sessions, err := remote.BuildFactories(u.cfg.factories(), u.registry.Keys(),
			remote.WithLogger(u.logger), remote.WithDialRetry(u.retryConfig))
		if err != nil {
			return err
		}
		u.sessions = sessions
		u.ownSessions = true
	}

	if u.store == nil {
		store, err := metadata.New(ctx, u.cfg.Metadata, u.deps, u.name)
		if err != nil {
			return err
		}
		u.store = store
		u.ownStore = true
	}
	opts := []idempotent.Option{idempotent.WithLogger(u.logger), idempotent.WithNow(u.clock.Now)}
	if u.metrics != nil {
		opts = append(opts, idempotent.WithDuplicateHook(u.metrics.duplicates.Inc))
	}
	u.seen = idempotent.NewFilter(u.store, opts...)

	if u.cfg.transferring() {
		topts := u.cfg.transferOptions()
		topts.Fs = u.fs
		topts.NATS = u.natsClient
		topts.Logger = u.logger
		persister, err := transfer.NewPersister(ctx, u.cfg.TransferTo, topts)
		if err != nil {
			return err
		}
		sopts := []transfer.ServiceOption{transfer.WithLogger(u.logger)}
		if u.metrics != nil {
			sopts = append(sopts, transfer.WithBytesCounter(u.metrics.transferBytes.WithLabelValues(persister.Destination())))
		}
		u.transfers = transfer.NewService(transfer.SessionStreamProvider{Factory: u.sessions}, persister, sopts...)
	}

	if u.syncsLocally() && u.cfg.AutoCreateLocalDir {
		if err := u.fs.MkdirAll(u.cfg.LocalDir, 0o755); err != nil {
			return errors.WrapFatal(err, "sftp-source", "open", "create local directory")
		}
	}
	return nil
}

func (u *Input) syncsLocally() bool {
	return !u.cfg.ListOnly && !u.cfg.Stream && !u.cfg.transferring()
}

// Stop cancels polling and waits up to timeout for the running cycle to end.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	u.mu.Lock()
	if u.cancel != nil {
		u.cancel()
	}
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"sftp-source", "Stop", "graceful shutdown")
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.closeResources()
	u.logger.Info("SFTP source stopped", "published", u.messagesPublished.Load())
	return nil
}

// closeResources releases what open created. Callers hold u.mu.
func (u *Input) closeResources() {
	if u.ownSessions && u.sessions != nil {
		if err := u.sessions.Close(); err != nil {
			u.logger.Warn("Closing session factories failed", "error", err)
		}
		u.sessions = nil
		u.ownSessions = false
	}
	if u.ownStore && u.store != nil {
		if err := u.store.Close(); err != nil {
			u.logger.Warn("Closing metadata store failed", "error", err)
		}
		u.store = nil
		u.ownStore = false
	}
}

func (u *Input) recordError(err error) {
	u.errors.Add(1)
	u.lastError.Store(err.Error())
}

// CreateInput creates an SFTP source from raw JSON config
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "sftp-source-factory", "create", "config parsing")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sftp-source-factory", "create", "config validation")
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required: %w", errors.ErrNoConnection),
			"sftp-source-factory", "create", "NATS client validation")
	}

	return NewInput(InputDeps{
		Name:            "sftp-source",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("sftp-source"),
	}), nil
}

// Register registers the SFTP source with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "sftp-source",
		Factory:     CreateInput,
		Type:        "input",
		Protocol:    "sftp",
		Description: "Polls SFTP directories, optionally rotating across servers, and publishes file messages",
		Version:     "1.0.0",
	})
}
