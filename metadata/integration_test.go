package metadata

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/config"
	"github.com/c360/sftpstreams/natsclient"
)

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run against containers")
	}
}

func startContainer(t *testing.T, image, port string, cmd []string, env map[string]string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port},
			Cmd:          cmd,
			Env:          env,
			WaitingFor:   wait.ForListeningPort(nat.Port(port)).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestIntegration_NATSKVStore(t *testing.T) {
	requireIntegration(t)
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())

	cfg := DefaultConfig()
	cfg.Type = TypeNATSKV
	s, err := New(context.Background(), cfg, component.Dependencies{NATSClient: tc.Client}, "src")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestIntegration_RedisStore(t *testing.T) {
	requireIntegration(t)
	addr := startContainer(t, "redis:7-alpine", "6379/tcp", nil, nil)

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.Redis.Addr = addr
	s, err := New(context.Background(), cfg, component.Dependencies{}, "src")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestIntegration_EtcdStore(t *testing.T) {
	requireIntegration(t)
	addr := startContainer(t, "gcr.io/etcd-development/etcd:v3.5.19", "2379/tcp",
		[]string{"etcd", "--listen-client-urls=http://0.0.0.0:2379", "--advertise-client-urls=http://0.0.0.0:2379"}, nil)

	cfg := DefaultConfig()
	cfg.Type = TypeEtcd
	cfg.Etcd.Endpoints = []string{addr}
	cfg.Etcd.DialTimeout = config.Duration(10 * time.Second)
	s, err := New(context.Background(), cfg, component.Dependencies{}, "src")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}
