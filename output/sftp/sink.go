// Package sftp provides the SFTP sink component. Every message received on the
// configured subject is written as one file on the remote server.
package sftp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/metric"
	"github.com/c360/sftpstreams/natsclient"
	"github.com/c360/sftpstreams/pkg/retry"
	remote "github.com/c360/sftpstreams/sftp"
)

// Subscriber delivers messages for a subject. *natsclient.Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, *nats.Msg)) error
}

// Metrics holds Prometheus metrics for the SFTP sink
type Metrics struct {
	filesWritten  prometheus.Counter
	filesSkipped  prometheus.Counter
	bytesWritten  prometheus.Counter
	writeErrors   prometheus.Counter
	writeDuration prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"component": name}
	m := &Metrics{
		filesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "sink",
			Name:        "files_written_total",
			ConstLabels: labels,
			Help:        "Files written to the remote server",
		}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "sink",
			Name:        "files_skipped_total",
			ConstLabels: labels,
			Help:        "Messages dropped because the target existed in ignore mode",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "sink",
			Name:        "bytes_written_total",
			ConstLabels: labels,
			Help:        "Payload bytes written",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "sink",
			Name:        "errors_total",
			ConstLabels: labels,
			Help:        "Messages that could not be written",
		}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "sink",
			Name:        "write_duration_seconds",
			ConstLabels: labels,
			Help:        "Time to write one file",
			Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	serviceName := "sftp_sink_" + name
	registry.RegisterCounter(serviceName, "files_written", m.filesWritten)
	registry.RegisterCounter(serviceName, "files_skipped", m.filesSkipped)
	registry.RegisterCounter(serviceName, "bytes_written", m.bytesWritten)
	registry.RegisterCounter(serviceName, "errors", m.writeErrors)
	registry.RegisterHistogram(serviceName, "write_duration", m.writeDuration)
	return m
}

// Output writes NATS messages to an SFTP server
type Output struct {
	name       string
	cfg        Config
	subscriber Subscriber
	logger     *slog.Logger
	metrics    *Metrics

	retryConfig retry.Config
	nameTmpl    *template.Template

	sessions    *remote.DelegatingSessionFactory
	ownSessions bool

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	inflight    sync.WaitGroup
	running     atomic.Bool
	startTime   time.Time

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Value // time.Time
	lastError       atomic.Value // string
}

var _ component.LifecycleComponent = (*Output)(nil)

// OutputDeps holds runtime dependencies for the SFTP sink
type OutputDeps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Optional overrides
	Subscriber Subscriber
	Sessions   *remote.DelegatingSessionFactory
}

// NewOutput creates an SFTP sink from deps
func NewOutput(deps OutputDeps) *Output {
	name := deps.Name
	if name == "" {
		name = "sftp-sink"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	subscriber := deps.Subscriber
	if subscriber == nil && deps.NATSClient != nil {
		subscriber = deps.NATSClient
	}
	o := &Output{
		name:        name,
		cfg:         deps.Config,
		subscriber:  subscriber,
		logger:      logger,
		metrics:     newMetrics(deps.MetricsRegistry, name),
		retryConfig: deps.Config.Retry.ToRetryConfig(),
		sessions:    deps.Sessions,
	}
	o.lastActivity.Store(time.Time{})
	o.lastError.Store("")
	return o
}

// Initialize validates configuration and parses the filename expression
func (o *Output) Initialize() error {
	if err := o.cfg.Validate(); err != nil {
		return err
	}
	if o.subscriber == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client: %w", errors.ErrNoConnection),
			"sftp-sink", "Initialize", "NATS client validation")
	}
	tmpl, err := o.cfg.filenameTemplate()
	if err != nil {
		return errors.WrapInvalid(err, "sftp-sink", "Initialize", "parse filename expression")
	}
	o.nameTmpl = tmpl
	return nil
}

// Start builds the session factory and subscribes to the input subject
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "sftp-sink", "Start", "check running state")
	}
	if o.sessions == nil {
		sessions, err := remote.BuildFactories(remote.Factories{Default: o.cfg.Factory}, nil,
			remote.WithLogger(o.logger), remote.WithDialRetry(o.retryConfig))
		if err != nil {
			return err
		}
		o.sessions = sessions
		o.ownSessions = true
	}

	subCtx, cancel := context.WithCancel(ctx)
	o.startTime = time.Now()
	o.running.Store(true)
	if err := o.subscriber.Subscribe(subCtx, o.cfg.Subject, o.handleMessage); err != nil {
		o.running.Store(false)
		cancel()
		return errors.WrapTransient(err, "sftp-sink", "Start", "subscribe to "+o.cfg.Subject)
	}
	o.cancel = cancel

	o.logger.Info("SFTP sink started",
		"subject", o.cfg.Subject, "remote_dir", o.cfg.RemoteDir, "mode", o.cfg.Mode)
	return nil
}

// Stop unsubscribes and waits for the message being written
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.Load() {
		return nil
	}
	o.running.Store(false)
	if o.cancel != nil {
		o.cancel()
	}

	idle := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"sftp-sink", "Stop", "wait for in-flight write")
	}

	if o.ownSessions {
		if err := o.sessions.Close(); err != nil {
			o.logger.Warn("Closing session factory failed", "error", err)
		}
		o.sessions = nil
		o.ownSessions = false
	}
	o.logger.Info("SFTP sink stopped", "written", o.messagesWritten.Load())
	return nil
}

func (o *Output) handleMessage(ctx context.Context, m *nats.Msg) {
	if !o.running.Load() {
		return
	}
	o.inflight.Add(1)
	defer o.inflight.Done()

	msg := message.FromNATS(m)
	err := retry.Do(ctx, o.retryConfig, func() error {
		return o.Write(ctx, msg)
	})
	if err != nil {
		o.errors.Add(1)
		o.lastError.Store(err.Error())
		if o.metrics != nil {
			o.metrics.writeErrors.Inc()
		}
		o.logger.Error("Failed to write message to SFTP",
			"subject", m.Subject, "file", msg.String(message.HeaderFilename), "error", err)
	}
}

// Filename resolves the remote file name: the filename expression, then the
// file_name header, then a generated "<uuid>.msg".
func (o *Output) Filename(msg *message.Message) (string, error) {
	if o.nameTmpl != nil {
		data := make(map[string]any, len(msg.Headers)+1)
		for k, v := range msg.Headers {
			data[k] = v
		}
		data["payload"] = string(msg.Payload)

		var buf bytes.Buffer
		if err := o.nameTmpl.Execute(&buf, data); err != nil {
			return "", errors.WrapInvalid(err, "sftp-sink", "Filename", "evaluate filename expression")
		}
		if name := strings.TrimSpace(buf.String()); name != "" {
			return name, nil
		}
		return "", errors.WrapInvalid(fmt.Errorf("filename expression produced an empty name: %w", errors.ErrInvalidData),
			"sftp-sink", "Filename", "evaluate filename expression")
	}
	if name := msg.String(message.HeaderFilename); name != "" {
		return name, nil
	}
	return uuid.NewString() + ".msg", nil
}

// Write stores msg's payload as one remote file according to the mode.
func (o *Output) Write(ctx context.Context, msg *message.Message) error {
	start := time.Now()
	name, err := o.Filename(msg)
	if err != nil {
		return retry.NonRetryable(err)
	}

	session, err := o.sessions.Session(ctx, "")
	if err != nil {
		return errors.Wrap(err, "sftp-sink", "Write", "open session")
	}
	defer session.Close()

	dir := o.cfg.RemoteDir
	if o.cfg.AutoCreateDir {
		if err := session.MkdirAll(dir); err != nil {
			return errors.Wrap(err, "sftp-sink", "Write", "create "+dir)
		}
	}
	target := remote.Join(dir, name, o.cfg.RemoteFileSeparator)

	exists, err := session.Exists(target)
	if err != nil {
		return errors.Wrap(err, "sftp-sink", "Write", "stat "+target)
	}
	if exists {
		switch o.cfg.Mode {
		case ModeFail:
			return retry.NonRetryable(errors.WrapInvalid(fmt.Errorf("%s: %w", target, errors.ErrFileExists),
				"sftp-sink", "Write", "existence check"))
		case ModeIgnore:
			o.logger.Debug("Target exists, message ignored", "path", target)
			if o.metrics != nil {
				o.metrics.filesSkipped.Inc()
			}
			return nil
		}
	}

	if o.cfg.Mode == ModeAppend {
		err = writeTo(session.Append, target, msg.Payload)
	} else {
		err = o.replace(session, target, msg.Payload)
	}
	if err != nil {
		return err
	}

	o.messagesWritten.Add(1)
	o.bytesWritten.Add(int64(len(msg.Payload)))
	o.lastActivity.Store(time.Now())
	if o.metrics != nil {
		o.metrics.filesWritten.Inc()
		o.metrics.bytesWritten.Add(float64(len(msg.Payload)))
		o.metrics.writeDuration.Observe(time.Since(start).Seconds())
	}
	o.logger.Debug("Wrote remote file", "path", target, "bytes", len(msg.Payload))
	return nil
}

func (o *Output) replace(session remote.Session, target string, payload []byte) error {
	if !o.cfg.UseTemporaryFilename {
		return writeTo(session.Create, target, payload)
	}
	tmp := target + o.cfg.TmpFileSuffix
	if err := writeTo(session.Create, tmp, payload); err != nil {
		return err
	}
	if err := session.Rename(tmp, target); err != nil {
		_ = session.Remove(tmp)
		return errors.Wrap(err, "sftp-sink", "replace", "rename "+tmp)
	}
	return nil
}

func writeTo(open func(string) (io.WriteCloser, error), path string, payload []byte) error {
	w, err := open(path)
	if err != nil {
		return errors.Wrap(err, "sftp-sink", "write", "open "+path)
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return errors.WrapTransient(err, "sftp-sink", "write", "write "+path)
	}
	if err := w.Close(); err != nil {
		return errors.WrapTransient(err, "sftp-sink", "write", "close "+path)
	}
	return nil
}

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("SFTP sink writing %s to %s:%s", o.cfg.Subject, o.cfg.Factory.Host, o.cfg.RemoteDir),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (o *Output) Health() component.HealthStatus {
	var uptime time.Duration
	if o.running.Load() {
		uptime = time.Since(o.startTime)
	}
	lastError, _ := o.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    o.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(o.errors.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	written := o.messagesWritten.Load()
	bytes := o.bytesWritten.Load()
	errorCount := o.errors.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if o.running.Load() {
		if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
			messagesPerSecond = float64(written) / uptime
			bytesPerSecond = float64(bytes) / uptime
		}
	}
	if total := written + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// CreateOutput creates an SFTP sink from raw JSON config
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "sftp-sink-factory", "create", "config parsing")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sftp-sink-factory", "create", "config validation")
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("NATS client is required: %w", errors.ErrNoConnection),
			"sftp-sink-factory", "create", "NATS client validation")
	}
	return NewOutput(OutputDeps{
		Name:            "sftp-sink",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("sftp-sink"),
	}), nil
}

// Register registers the SFTP sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "sftp-sink",
		Factory:     CreateOutput,
		Type:        "output",
		Protocol:    "sftp",
		Description: "Writes each received message as a file on an SFTP server",
		Version:     "1.0.0",
	})
}
