package sftp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/metric"
	remote "github.com/c360/sftpstreams/sftp"
)

type captureSubscriber struct {
	subject string
	handler func(context.Context, *nats.Msg)
}

func (c *captureSubscriber) Subscribe(_ context.Context, subject string, handler func(context.Context, *nats.Msg)) error {
	c.subject = subject
	c.handler = handler
	return nil
}

func newSink(t *testing.T, mutate func(*Config)) (*Output, *remote.FsSessionFactory) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RemoteDir = "/out"
	cfg.Retry.MaxRetries = 0
	if mutate != nil {
		mutate(&cfg)
	}
	server := remote.NewFsSessionFactory(nil)
	o := NewOutput(OutputDeps{
		Name:       "test-sink",
		Config:     cfg,
		Subscriber: &captureSubscriber{},
		Sessions:   remote.NewDelegatingSessionFactory(nil, server),
	})
	require.NoError(t, o.Initialize())
	return o, server
}

func readRemote(t *testing.T, server *remote.FsSessionFactory, path string) string {
	t.Helper()
	data, err := afero.ReadFile(server.Fs(), path)
	require.NoError(t, err)
	return string(data)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	for name, mutate := range map[string]func(*Config){
		"subject":    func(c *Config) { c.Subject = "" },
		"remote dir": func(c *Config) { c.RemoteDir = "" },
		"mode":       func(c *Config) { c.Mode = "overwrite" },
		"tmp suffix": func(c *Config) { c.TmpFileSuffix = "" },
		"template":   func(c *Config) { c.FilenameExpression = "{{.file_name" },
	} {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.True(t, errors.IsInvalid(c.Validate()))
		})
	}

	c := DefaultConfig()
	c.Mode = ModeAppend
	c.TmpFileSuffix = ""
	assert.NoError(t, c.Validate(), "append writes in place")
}

func TestFilename(t *testing.T) {
	o, _ := newSink(t, nil)
	name, err := o.Filename(message.New(nil).Set(message.HeaderFilename, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", name)

	name, err = o.Filename(message.New(nil))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".msg"))

	o, _ = newSink(t, func(c *Config) { c.FilenameExpression = "{{.sftp_selectedServer}}-{{.file_name}}.bak" })
	name, err = o.Filename(message.New(nil).
		Set(message.HeaderFilename, "a.txt").
		Set(message.HeaderSelectedServer, "one"))
	require.NoError(t, err)
	assert.Equal(t, "one-a.txt.bak", name)

	_, err = o.Filename(message.New(nil).Set(message.HeaderFilename, "a.txt"))
	assert.True(t, errors.IsInvalid(err), "missing header in expression")
}

func TestWrite_ReplaceThroughTemporaryName(t *testing.T) {
	o, server := newSink(t, nil)
	ctx := context.Background()

	require.NoError(t, o.Write(ctx, message.New([]byte("v1")).Set(message.HeaderFilename, "a.txt")))
	require.NoError(t, o.Write(ctx, message.New([]byte("v2")).Set(message.HeaderFilename, "a.txt")))

	assert.Equal(t, "v2", readRemote(t, server, "/out/a.txt"))
	exists, err := afero.Exists(server.Fs(), "/out/a.txt.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int64(2), o.messagesWritten.Load())
}

func TestWrite_Modes(t *testing.T) {
	ctx := context.Background()
	msg := func(body string) *message.Message {
		return message.New([]byte(body)).Set(message.HeaderFilename, "a.txt")
	}

	t.Run("append", func(t *testing.T) {
		o, server := newSink(t, func(c *Config) { c.Mode = ModeAppend })
		require.NoError(t, o.Write(ctx, msg("one,")))
		require.NoError(t, o.Write(ctx, msg("two")))
		assert.Equal(t, "one,two", readRemote(t, server, "/out/a.txt"))
	})

	t.Run("fail", func(t *testing.T) {
		o, server := newSink(t, func(c *Config) { c.Mode = ModeFail })
		require.NoError(t, o.Write(ctx, msg("first")))
		err := o.Write(ctx, msg("second"))
		assert.ErrorIs(t, err, errors.ErrFileExists)
		assert.Equal(t, "first", readRemote(t, server, "/out/a.txt"))
	})

	t.Run("ignore", func(t *testing.T) {
		o, server := newSink(t, func(c *Config) { c.Mode = ModeIgnore })
		require.NoError(t, o.Write(ctx, msg("first")))
		require.NoError(t, o.Write(ctx, msg("second")))
		assert.Equal(t, "first", readRemote(t, server, "/out/a.txt"))
		assert.Equal(t, int64(1), o.messagesWritten.Load())
	})

	t.Run("no temporary name", func(t *testing.T) {
		o, server := newSink(t, func(c *Config) { c.UseTemporaryFilename = false })
		require.NoError(t, o.Write(ctx, msg("direct")))
		assert.Equal(t, "direct", readRemote(t, server, "/out/a.txt"))
	})
}

func TestWrite_SessionFailure(t *testing.T) {
	o, server := newSink(t, nil)
	server.FailNext(errors.WrapTransient(errors.ErrConnectionLost, "test", "Session", "dial"))
	err := o.Write(context.Background(), message.New([]byte("x")).Set(message.HeaderFilename, "a.txt"))
	assert.True(t, errors.IsTransient(err))
}

func TestOutput_HandlesSubscribedMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Subject = "files.in"
	cfg.RemoteDir = "/out"
	cfg.Mode = ModeFail
	cfg.Retry.MaxRetries = 0
	server := remote.NewFsSessionFactory(nil)
	sub := &captureSubscriber{}
	o := NewOutput(OutputDeps{
		Name:            "handler-sink",
		Config:          cfg,
		Subscriber:      sub,
		Sessions:        remote.NewDelegatingSessionFactory(nil, server),
		MetricsRegistry: metric.NewMetricsRegistry(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Initialize())
	require.NoError(t, o.Start(ctx))
	assert.Equal(t, "files.in", sub.subject)
	assert.True(t, o.Health().Healthy)

	nm := message.New([]byte("hello")).Set(message.HeaderFilename, "greeting.txt").ToNATS("files.in")
	sub.handler(ctx, nm)
	assert.Equal(t, "hello", readRemote(t, server, "/out/greeting.txt"))

	sub.handler(ctx, nm)
	health := o.Health()
	assert.Equal(t, 1, health.ErrorCount, "second write fails in fail mode")
	assert.Contains(t, health.LastError, "already exists")

	require.NoError(t, o.Stop(time.Second))
	assert.False(t, o.Health().Healthy)
	assert.Equal(t, "output", o.Meta().Type)
}

func TestCreateOutput(t *testing.T) {
	_, err := CreateOutput(json.RawMessage(`{"remote_dir": "/upload"}`), component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = CreateOutput(json.RawMessage(`{"mode": "clobber"}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	assert.Equal(t, "output", registry.ListAvailable()["sftp-sink"].Type)
}
