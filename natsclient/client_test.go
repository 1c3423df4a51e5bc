package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/metric"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithTimeout(time.Second),
		WithCredentials("user", "pass"),
		WithName("sftpstreams"),
		WithMetrics(metric.NewMetricsRegistry()),
		WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
	)
	require.NoError(t, err)
	assert.Len(t, c.connectionOptions(), 11, "base options plus credentials, name and TLS")
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.GetConnection())

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	assert.Error(t, err)
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, errors.IsTransient(c.Publish(ctx, "files", []byte("x"))))
	assert.Error(t, c.PublishMsg(ctx, nats.NewMsg("files")))
	assert.Error(t, c.Subscribe(ctx, "files", func(context.Context, *nats.Msg) {}))
	_, err = c.JetStream()
	assert.Error(t, err)
	assert.NoError(t, c.Close(ctx))
	assert.NoError(t, c.Close(ctx))
}

func TestClient_CircuitOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1", WithCircuitBreakerThreshold(2), WithTimeout(100*time.Millisecond))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c.recordFailure()
	}
	assert.Equal(t, StatusCircuitOpen, c.Status())

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(fmt.Errorf("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVConflictError(fmt.Errorf("nats: wrong last sequence: 4")))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.False(t, IsKVConflictError(fmt.Errorf("timeout")))
}
