package metric

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
)

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	r := NewMetricsRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: "polls_total", Help: "h"})

	require.NoError(t, r.RegisterCounter("sftp-source", "polls", c))
	err := r.RegisterCounter("sftp-source", "polls", c)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("sftp-source", "polls"))
	assert.False(t, r.Unregister("sftp-source", "polls"))
	require.NoError(t, r.RegisterCounter("sftp-source", "polls", c))
}

type staticHealth struct{ ok bool }

func (s staticHealth) Report() any   { return map[string]bool{"healthy": s.ok} }
func (s staticHealth) Healthy() bool { return s.ok }

func TestServer_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordMessagePublished("sftp-source", "files")

	srv := NewServer(0, "", r, staticHealth{ok: false})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sftpstreams_messages_published_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"healthy":false}`, rec.Body.String())
}

func TestServer_Address(t *testing.T) {
	srv := NewServer(9191, "/m", NewMetricsRegistry(), nil)
	assert.Equal(t, "http://localhost:9191/m", srv.Address())

	srv.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	assert.Equal(t, "https://localhost:9191/m", srv.Address())
}
