package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 365, cfg.Audit.ShadowRetentionDays)
	assert.Equal(t, 30, cfg.Audit.PublicRetentionDays)
	assert.Equal(t, "DEVGUARD_SHADOW_KEY", cfg.Audit.KeyEnv)
	assert.False(t, cfg.Audit.AllowEphemeralKey)
	assert.Equal(t, 30*time.Second, cfg.Workflow.DefaultStepTimeout)
	assert.Equal(t, 60*time.Second, cfg.Workflow.CommandTimeout)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}, cfg.Workflow.RetryBackoff)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
audit:
  dir: /var/lib/devguard/audit
  shadow_retention_days: 730
  allow_ephemeral_key: true
workflow:
  retry_backoff: ["250ms", "1s"]
  command_timeout: 2m
kafka:
  brokers: ["k1:9092", "k2:9092"]
log:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/devguard/audit", cfg.Audit.Dir)
	assert.Equal(t, 730, cfg.Audit.ShadowRetentionDays)
	assert.Equal(t, 30, cfg.Audit.PublicRetentionDays, "unset keys keep defaults")
	assert.True(t, cfg.Audit.AllowEphemeralKey)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, time.Second}, cfg.Workflow.RetryBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.CommandTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "audit:\n  dir: /from/file\n")
	t.Setenv("DEVGUARD_AUDIT_DIR", "/from/env")
	t.Setenv("DEVGUARD_KAFKA_BROKERS", "a:9092, b:9092,a:9092,")
	t.Setenv("DEVGUARD_AUDIT_FORWARD_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Audit.Dir)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Audit.Forward.Enabled)
}

func TestLoadErrors(t *testing.T) {
	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("forwarding needs brokers", func(t *testing.T) {
		path := writeConfig(t, "audit:\n  forward:\n    enabled: true\n")
		_, err := Load(path)
		require.ErrorContains(t, err, "kafka.brokers")
	})

	t.Run("bad log format", func(t *testing.T) {
		path := writeConfig(t, "log:\n  format: xml\n")
		_, err := Load(path)
		require.ErrorContains(t, err, "log.format")
	})

	t.Run("negative retention", func(t *testing.T) {
		path := writeConfig(t, "audit:\n  public_retention_days: -1\n")
		_, err := Load(path)
		require.ErrorContains(t, err, "retention")
	})
}
