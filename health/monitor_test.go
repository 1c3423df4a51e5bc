package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/component"
)

type stubComponent struct{ h component.HealthStatus }

func (s stubComponent) Meta() component.Metadata        { return component.Metadata{} }
func (s stubComponent) Health() component.HealthStatus  { return s.h }
func (s stubComponent) DataFlow() component.FlowMetrics { return component.FlowMetrics{} }

func TestFromComponentHealth_SanitizesErrors(t *testing.T) {
	st := FromComponentHealth("source", component.HealthStatus{
		Healthy:    true,
		ErrorCount: 2,
		LastError:  "dial sftp://10.0.0.5:22 failed password=hunter2",
		Uptime:     time.Minute,
	})

	assert.Equal(t, StatusDegraded, st.Status)
	assert.NotContains(t, st.Message, "10.0.0.5")
	assert.NotContains(t, st.Message, "hunter2")
	assert.Contains(t, st.Message, "[REDACTED]")
}

func TestMonitor_Aggregates(t *testing.T) {
	m := NewMonitor("sftpstreams")
	m.Watch(map[string]component.Discoverable{
		"source": stubComponent{h: component.HealthStatus{Healthy: true}},
		"sink":   stubComponent{h: component.HealthStatus{Healthy: true}},
	})
	assert.True(t, m.Healthy())

	m.AddCheck("nats", func() Status { return Status{Healthy: false, Status: StatusUnhealthy} })
	snap := m.Snapshot()
	assert.False(t, snap.Healthy)
	assert.Equal(t, StatusUnhealthy, snap.Status)
	require.Len(t, snap.SubStatuses, 3)
	assert.Equal(t, "nats", snap.SubStatuses[0].Component)
}

func TestAggregate_Degraded(t *testing.T) {
	st := Aggregate("p", []Status{
		{Component: "a", Healthy: true, Status: StatusHealthy},
		{Component: "b", Healthy: true, Status: StatusDegraded},
	})
	assert.True(t, st.Healthy)
	assert.Equal(t, StatusDegraded, st.Status)
}
