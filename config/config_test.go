package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_JSONLayerMergesOverDefaults(t *testing.T) {
	path := writeFile(t, "base.json", `{
		"nats": {"urls": ["nats://nats:4222"], "reconnect_wait": "5s"},
		"components": {
			"source": {"type": "input", "name": "sftp-source", "enabled": true,
				"config": {"subject": "files", "directories": ["one.sftpSource"]}}
		}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://nats:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.D())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects, "default kept")
	assert.Equal(t, 9090, cfg.Metrics.Port)

	src := cfg.Components["source"]
	assert.Equal(t, "sftp-source", src.Name)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(src.Config, &raw))
	assert.Equal(t, "files", raw["subject"])
}

func TestLoader_YAMLAndOverrideLayer(t *testing.T) {
	base := writeFile(t, "base.yaml", `
nats:
  urls: ["nats://a:4222"]
components:
  sink:
    type: output
    name: sftp-sink
    enabled: true
    config:
      subject: files
      remote_dir: /upload
`)
	override := writeFile(t, "override.json", `{"components": {"sink": {"config": {"remote_dir": "/incoming"}}}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	var sink map[string]any
	require.NoError(t, json.Unmarshal(cfg.Components["sink"].Config, &sink))
	assert.Equal(t, "/incoming", sink["remote_dir"])
	assert.Equal(t, "files", sink["subject"])
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("SFTPSTREAMS_NATS_URLS", "nats://x:1,nats://y:2")
	t.Setenv("SFTPSTREAMS_NATS_PASSWORD", "pw")
	t.Setenv("SFTPSTREAMS_METRICS_PORT", "9191")

	path := writeFile(t, "c.json", `{}`)
	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:1", "nats://y:2"}, cfg.NATS.URLs)
	assert.Equal(t, "pw", cfg.NATS.Password)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.NotContains(t, cfg.String(), `"pw"`)
}

func TestLoader_ValidationFailures(t *testing.T) {
	path := writeFile(t, "empty.json", `{"components": {}}`)
	l := NewLoader()
	l.AddLayer(path)
	l.EnableValidation(true)
	_, err := l.Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestConfig_ValidateTLS(t *testing.T) {
	path := writeFile(t, "tls.yaml", `
nats:
  tls:
    enabled: true
    cert_file: /etc/sftpstreams/client.pem
metrics:
  tls:
    enabled: true
components:
  src:
    name: sftp-source
    enabled: true
`)
	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.NATS.TLS.Enabled)

	err = cfg.Validate()
	assert.True(t, errors.IsInvalid(err), "client cert without key")

	cfg.NATS.TLS.KeyFile = "/etc/sftpstreams/client.key"
	err = cfg.Validate()
	assert.ErrorIs(t, err, errors.ErrMissingConfig, "metrics tls without key pair")

	cfg.Metrics.TLS.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateJSONDepth(t *testing.T) {
	deep := strings.Repeat("[", maxConfigDepth+1) + strings.Repeat("]", maxConfigDepth+1)
	assert.Error(t, validateJSONDepth([]byte(deep)))
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[["}`)))
}

func TestDuration(t *testing.T) {
	var d struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m","b":"2d","c":1000}`), &d))
	assert.Equal(t, time.Minute, d.A.D())
	assert.Equal(t, 48*time.Hour, d.B.D())
	assert.Equal(t, time.Microsecond, d.C.D())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &d))
	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &d))
}
