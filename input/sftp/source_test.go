package sftp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/config"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/metadata"
	"github.com/c360/sftpstreams/metric"
	remote "github.com/c360/sftpstreams/sftp"
	"github.com/c360/sftpstreams/tasklaunch"
	"github.com/c360/sftpstreams/transfer"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (p *recordingPublisher) PublishMsg(_ context.Context, msg *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) failWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// take returns and forgets the messages published so far.
func (p *recordingPublisher) take() []*nats.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.msgs
	p.msgs = nil
	return out
}

func (p *recordingPublisher) payloads() []string {
	var out []string
	for _, m := range p.take() {
		out = append(out, string(m.Data))
	}
	return out
}

type fixture struct {
	in      *Input
	pub     *recordingPublisher
	local   afero.Fs
	servers map[string]*remote.FsSessionFactory
}

func testConfig() InputConfig {
	cfg := DefaultConfig()
	cfg.RemoteDir = "/in"
	cfg.LocalDir = "/local"
	cfg.Retry.MaxRetries = 0
	return cfg
}

func writeRemote(t *testing.T, f *remote.FsSessionFactory, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.Fs(), path, []byte(content), 0o644))
}

// newFixture wires an input to in-memory servers: "" is the default server,
// any other key a keyed one.
func newFixture(t *testing.T, cfg InputConfig, keys ...string) *fixture {
	t.Helper()
	servers := map[string]*remote.FsSessionFactory{"": remote.NewFsSessionFactory(nil)}
	keyed := map[string]remote.SessionFactory{}
	for _, k := range keys {
		servers[k] = remote.NewFsSessionFactory(nil)
		keyed[k] = servers[k]
	}

	store, err := metadata.NewMemoryStore(metadata.MemoryConfig{MaxSize: 1000}, component.Dependencies{}, "")
	require.NoError(t, err)

	pub := &recordingPublisher{}
	local := afero.NewMemMapFs()
	in := NewInput(InputDeps{
		Name:      "test-source",
		Config:    cfg,
		Publisher: pub,
		Sessions:  remote.NewDelegatingSessionFactory(keyed, servers[""]),
		Store:     store,
		Fs:        local,
		Clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, in.Initialize())
	require.NoError(t, in.open(context.Background()))
	return &fixture{in: in, pub: pub, local: local, servers: servers}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InputConfig)
		valid  bool
	}{
		{"defaults", func(*InputConfig) {}, true},
		{"missing subject", func(c *InputConfig) { c.Subject = "" }, false},
		{"pattern and regex", func(c *InputConfig) { c.FilenamePattern = "*.txt"; c.FilenameRegex = ".*" }, false},
		{"list only and stream", func(c *InputConfig) { c.ListOnly = true; c.Stream = true }, false},
		{"stream and transfer", func(c *InputConfig) { c.Stream = true; c.TransferTo = transfer.ToLocal }, false},
		{"list only and transfer", func(c *InputConfig) { c.ListOnly = true; c.TransferTo = transfer.ToLocal }, false},
		{"transfer to local", func(c *InputConfig) { c.TransferTo = transfer.ToLocal }, true},
		{"unknown transfer", func(c *InputConfig) { c.TransferTo = "ftp" }, false},
		{"s3 without bucket", func(c *InputConfig) { c.TransferTo = transfer.ToS3 }, false},
		{"unknown mode", func(c *InputConfig) { c.Mode = "chunks" }, false},
		{"launcher without type", func(c *InputConfig) { c.TaskLauncherOutput = true }, false},
		{"launcher with stream", func(c *InputConfig) {
			c.TaskLauncherOutput = true
			c.Task.Type = tasklaunch.TypeStandalone
			c.Task.ResourceURI = "file:///task.jar"
			c.Stream = true
		}, false},
		{"launcher list only", func(c *InputConfig) {
			c.TaskLauncherOutput = true
			c.Task.Type = tasklaunch.TypeStandalone
			c.Task.ResourceURI = "file:///task.jar"
			c.ListOnly = true
		}, true},
		{"missing remote dir", func(c *InputConfig) { c.RemoteDir = "" }, false},
		{"multi source ignores remote dir", func(c *InputConfig) {
			c.RemoteDir = ""
			c.Directories = []string{"one.in"}
		}, true},
		{"unknown metadata store", func(c *InputConfig) { c.Metadata.Type = "zookeeper" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsInvalid(err), "got %v", err)
			}
		})
	}
}

func TestInitialize_RejectsMalformedDirectories(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	cfg.Directories = []string{"one.in", "missing-dot"}
	in := NewInput(InputDeps{Config: cfg, Publisher: &recordingPublisher{}})

	err := in.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "missing-dot")
}

func TestInitialize_RequiresPublisher(t *testing.T) {
	in := NewInput(InputDeps{Config: testConfig()})
	assert.ErrorIs(t, in.Initialize(), errors.ErrNoConnection)
}

func TestPoll_ListOnlySingleSource(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	fx := newFixture(t, cfg)
	srv := fx.servers[""]
	writeRemote(t, srv, "/in/a.txt", "a")
	writeRemote(t, srv, "/in/b.txt", "bb")
	writeRemote(t, srv, "/in/c.txt.tmp", "partial")

	ctx := context.Background()
	require.NoError(t, fx.in.poll(ctx))

	msgs := fx.pub.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a.txt", string(msgs[0].Data))
	assert.Equal(t, "sftp.files", msgs[0].Subject)
	assert.Equal(t, "/in", msgs[0].Header.Get(message.HeaderRemoteDirectory))
	assert.Equal(t, "/in/a.txt", msgs[0].Header.Get(message.HeaderRemoteFile))
	assert.Equal(t, "a.txt", msgs[0].Header.Get(message.HeaderFilename))
	assert.Equal(t, "2", msgs[1].Header.Get(message.HeaderRemoteFileSize))
	assert.Empty(t, msgs[0].Header.Get(message.HeaderSelectedServer), "single source carries no server headers")

	require.NoError(t, fx.in.poll(ctx))
	assert.Empty(t, fx.pub.take(), "already seen files are not emitted again")
	assert.Equal(t, int64(2), fx.in.seen.Duplicates())

	writeRemote(t, srv, "/in/d.txt", "d")
	require.NoError(t, fx.in.poll(ctx))
	assert.Equal(t, []string{"d.txt"}, fx.pub.payloads())
}

func TestPoll_LocalSyncPreservesTimestampAndDeletes(t *testing.T) {
	cfg := testConfig()
	cfg.DeleteRemoteFiles = true
	fx := newFixture(t, cfg)
	srv := fx.servers[""]
	writeRemote(t, srv, "/in/a.txt", "hello")
	mtime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, srv.Fs().Chtimes("/in/a.txt", mtime, mtime))

	require.NoError(t, fx.in.poll(context.Background()))

	assert.Equal(t, []string{"/local/a.txt"}, fx.pub.payloads())
	data, err := afero.ReadFile(fx.local, "/local/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := fx.local.Stat("/local/a.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))

	exists, err := afero.Exists(fx.local, "/local/a.txt.tmp")
	require.NoError(t, err)
	assert.False(t, exists, "temporary file renamed away")

	exists, err = afero.Exists(srv.Fs(), "/in/a.txt")
	require.NoError(t, err)
	assert.False(t, exists, "remote file deleted after delivery")
}

func TestPoll_StreamContentsAndLines(t *testing.T) {
	t.Run("stream", func(t *testing.T) {
		cfg := testConfig()
		cfg.Stream = true
		fx := newFixture(t, cfg)
		writeRemote(t, fx.servers[""], "/in/a.bin", "payload")

		require.NoError(t, fx.in.poll(context.Background()))
		msgs := fx.pub.take()
		require.Len(t, msgs, 1)
		assert.Equal(t, "payload", string(msgs[0].Data))
		assert.Equal(t, "application/octet-stream", msgs[0].Header.Get(message.HeaderContentType))

		exists, _ := afero.Exists(fx.local, "/local/a.bin")
		assert.False(t, exists, "stream mode does not sync locally")
	})

	t.Run("contents", func(t *testing.T) {
		cfg := testConfig()
		cfg.Mode = ModeContents
		fx := newFixture(t, cfg)
		writeRemote(t, fx.servers[""], "/in/a.txt", "body")

		require.NoError(t, fx.in.poll(context.Background()))
		msgs := fx.pub.take()
		require.Len(t, msgs, 1)
		assert.Equal(t, "body", string(msgs[0].Data))
		assert.Equal(t, "/local/a.txt", msgs[0].Header.Get(message.HeaderOriginalFile))
	})

	t.Run("lines", func(t *testing.T) {
		cfg := testConfig()
		cfg.Mode = ModeLines
		fx := newFixture(t, cfg)
		writeRemote(t, fx.servers[""], "/in/a.csv", "l1\nl2\r\nl3")

		require.NoError(t, fx.in.poll(context.Background()))
		assert.Equal(t, []string{"l1", "l2", "l3"}, fx.pub.payloads())
	})

	t.Run("long line", func(t *testing.T) {
		cfg := testConfig()
		cfg.Mode = ModeLines
		fx := newFixture(t, cfg)
		long := strings.Repeat("x", 70*1024)
		writeRemote(t, fx.servers[""], "/in/big.csv", long+"\nshort\n")

		require.NoError(t, fx.in.poll(context.Background()))
		assert.Equal(t, []string{long, "short"}, fx.pub.payloads())
	})
}

func TestPoll_FilenamePatternAndMaxFetch(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	cfg.FilenamePattern = "*.csv"
	cfg.MaxFetch = 2
	fx := newFixture(t, cfg)
	for _, name := range []string{"a.csv", "b.csv", "c.csv", "d.txt"} {
		writeRemote(t, fx.servers[""], "/in/"+name, name)
	}

	ctx := context.Background()
	require.NoError(t, fx.in.poll(ctx))
	assert.Equal(t, []string{"a.csv", "b.csv"}, fx.pub.payloads())
	require.NoError(t, fx.in.poll(ctx))
	assert.Equal(t, []string{"c.csv"}, fx.pub.payloads())
	require.NoError(t, fx.in.poll(ctx))
	assert.Empty(t, fx.pub.payloads())
}

func multiSourceConfig(fair bool) InputConfig {
	cfg := testConfig()
	cfg.ListOnly = true
	cfg.Fair = fair
	cfg.Directories = []string{"one.sftpSource", "two.sftpSecondSource"}
	cfg.Factory = remote.Credentials{Host: "default-host", Port: 2222, Username: "def", Password: "defpw"}
	cfg.Factories = map[string]remote.Credentials{
		"one": {Host: "host-one", Port: 22, Username: "u1", Password: "p1"},
	}
	return cfg
}

func TestPoll_MultiSourceExhaustive(t *testing.T) {
	fx := newFixture(t, multiSourceConfig(false), "one", "two")
	writeRemote(t, fx.servers["one"], "sftpSource/sftpSource1.txt", "1")
	writeRemote(t, fx.servers["one"], "sftpSource/sftpSource2.txt", "2")
	writeRemote(t, fx.servers["two"], "sftpSecondSource/sftpSecondSource1.txt", "3")
	ctx := context.Background()

	require.NoError(t, fx.in.poll(ctx))
	msgs := fx.pub.take()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "one", m.Header.Get(message.HeaderSelectedServer))
		assert.Equal(t, "host-one", m.Header.Get(message.HeaderHost))
		assert.Equal(t, "22", m.Header.Get(message.HeaderPort))
		assert.Equal(t, "u1", m.Header.Get(message.HeaderUsername))
		assert.Equal(t, "sftpSource", m.Header.Get(message.HeaderRemoteDirectory))
	}
	_, bound := fx.in.orchestrator.BoundKey()
	assert.False(t, bound, "binding cleared after the cycle")

	// Directory one is drained: an empty poll moves on.
	require.NoError(t, fx.in.poll(ctx))
	assert.Empty(t, fx.pub.take())

	require.NoError(t, fx.in.poll(ctx))
	msgs = fx.pub.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sftpSecondSource1.txt", string(msgs[0].Data))
	assert.Equal(t, "two", msgs[0].Header.Get(message.HeaderSelectedServer))
	assert.Equal(t, "default-host", msgs[0].Header.Get(message.HeaderHost), "unkeyed server falls back to defaults")
	assert.Equal(t, "2222", msgs[0].Header.Get(message.HeaderPort))
}

func TestPoll_MultiSourceFairAlternates(t *testing.T) {
	cfg := multiSourceConfig(true)
	cfg.MaxFetch = 1
	fx := newFixture(t, cfg, "one", "two")
	writeRemote(t, fx.servers["one"], "sftpSource/a1.txt", "1")
	writeRemote(t, fx.servers["one"], "sftpSource/a2.txt", "2")
	writeRemote(t, fx.servers["two"], "sftpSecondSource/b1.txt", "3")
	ctx := context.Background()

	var got []string
	for i := 0; i < 4; i++ {
		require.NoError(t, fx.in.poll(ctx))
		for _, m := range fx.pub.take() {
			got = append(got, m.Header.Get(message.HeaderSelectedServer)+":"+string(m.Data))
		}
	}
	assert.Equal(t, []string{"one:a1.txt", "two:b1.txt", "one:a2.txt"}, got)
}

func TestPoll_TransportFailureKeepsTarget(t *testing.T) {
	fx := newFixture(t, multiSourceConfig(false), "one", "two")
	writeRemote(t, fx.servers["one"], "sftpSource/a.txt", "1")
	ctx := context.Background()

	fx.servers["one"].FailNext(errors.WrapTransient(errors.ErrConnectionLost, "test", "Session", "dial"))
	err := fx.in.poll(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	_, bound := fx.in.orchestrator.BoundKey()
	assert.False(t, bound)
	assert.Equal(t, 1, fx.in.Health().ErrorCount)

	require.NoError(t, fx.in.poll(ctx))
	msgs := fx.pub.take()
	require.Len(t, msgs, 1, "the failed target is polled again")
	assert.Equal(t, "one", msgs[0].Header.Get(message.HeaderSelectedServer))
}

// createFailingFs refuses to create local files whose name contains bad.
type createFailingFs struct {
	afero.Fs
	bad string
}

func (f createFailingFs) Create(name string) (afero.File, error) {
	if strings.Contains(name, f.bad) {
		return nil, stderrors.New("disk quota exceeded")
	}
	return f.Fs.Create(name)
}

func TestPoll_UnreadableFileDoesNotStallRotation(t *testing.T) {
	cfg := multiSourceConfig(false)
	cfg.ListOnly = false
	cfg.Mode = ModeLines
	fx := newFixture(t, cfg, "one", "two")
	fx.in.fs = createFailingFs{Fs: fx.local, bad: "bad.txt"}
	writeRemote(t, fx.servers["one"], "sftpSource/bad.txt", "never")
	writeRemote(t, fx.servers["one"], "sftpSource/good.txt", "g1\ng2\n")
	writeRemote(t, fx.servers["two"], "sftpSecondSource/ok.txt", "two")
	ctx := context.Background()

	require.NoError(t, fx.in.poll(ctx))
	assert.Equal(t, []string{"g1", "g2"}, fx.pub.payloads(), "the rest of the batch is published")
	health := fx.in.Health()
	assert.Equal(t, 1, health.ErrorCount)
	assert.Contains(t, health.LastError, "disk quota exceeded")

	// Only the unreadable file is left on one, so the rotation moves on.
	require.NoError(t, fx.in.poll(ctx))
	assert.Empty(t, fx.pub.payloads())

	require.NoError(t, fx.in.poll(ctx))
	msgs := fx.pub.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", string(msgs[0].Data))
	assert.Equal(t, "two", msgs[0].Header.Get(message.HeaderSelectedServer))
}

func TestPoll_PublishFailureRetriesFileNextCycle(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	fx := newFixture(t, cfg)
	writeRemote(t, fx.servers[""], "/in/a.txt", "a")
	ctx := context.Background()

	fx.pub.failWith(stderrors.New("broker unavailable"))
	require.Error(t, fx.in.poll(ctx))

	fx.pub.failWith(nil)
	require.NoError(t, fx.in.poll(ctx))
	assert.Equal(t, []string{"a.txt"}, fx.pub.payloads())
}

func TestPoll_TaskLauncherOutput(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	cfg.TaskLauncherOutput = true
	cfg.Task.Type = tasklaunch.TypeStandalone
	cfg.Task.ResourceURI = "maven://io.example:task:1.0"
	cfg.Factory = remote.Credentials{Host: "sftp.example", Port: 22, Username: "user", Password: "secret"}
	fx := newFixture(t, cfg)
	writeRemote(t, fx.servers[""], "/in/a.txt", "a")

	require.NoError(t, fx.in.poll(context.Background()))
	msgs := fx.pub.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Header.Get(message.HeaderContentType))

	var req tasklaunch.StandaloneRequest
	require.NoError(t, json.Unmarshal(msgs[0].Data, &req))
	assert.Equal(t, "maven://io.example:task:1.0", req.URI)
	assert.Contains(t, req.CommandlineArguments, "remoteFilePath=/in/a.txt")
}

func TestPoll_TransferToLocal(t *testing.T) {
	cfg := testConfig()
	cfg.TransferTo = transfer.ToLocal
	cfg.LocalDir = "/dest"
	fx := newFixture(t, cfg)
	writeRemote(t, fx.servers[""], "/in/a.txt", "moved")

	require.NoError(t, fx.in.poll(context.Background()))
	assert.Equal(t, []string{"a.txt"}, fx.pub.payloads())

	data, err := afero.ReadFile(fx.local, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(data))
}

func TestInput_LifecycleOnFakeClock(t *testing.T) {
	cfg := testConfig()
	cfg.ListOnly = true
	cfg.Trigger.InitialDelay = config.Duration(time.Second)
	cfg.Trigger.FixedDelay = config.Duration(time.Second)

	srv := remote.NewFsSessionFactory(nil)
	writeRemote(t, srv, "/in/a.txt", "a")
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	registry := metric.NewMetricsRegistry()

	in := NewInput(InputDeps{
		Name:            "lifecycle",
		Config:          cfg,
		Publisher:       pub,
		MetricsRegistry: registry,
		Sessions:        remote.NewDelegatingSessionFactory(nil, srv),
		Fs:              afero.NewMemMapFs(),
		Clock:           clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, in.Initialize())
	require.NoError(t, in.Start(ctx))
	assert.True(t, in.Health().Healthy)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Stop(time.Second))
	assert.False(t, in.Health().Healthy)
	assert.Equal(t, "input", in.Meta().Type)
	assert.True(t, in.DataFlow().LastActivity.Equal(clock.Now()), "activity stamped by the injected clock")
}

func TestCreateInput(t *testing.T) {
	_, err := CreateInput(json.RawMessage(`{"list_only": true}`), component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = CreateInput(json.RawMessage(`{"list_only": true, "stream": true}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	_, err = CreateInput(json.RawMessage(`{"list_only": `), component.Dependencies{})
	assert.Error(t, err)

	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	info := registry.ListAvailable()["sftp-source"]
	assert.Equal(t, "input", info.Type)
	assert.True(t, strings.Contains(info.Description, "SFTP"))
}
