package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/device"
	"devguard/internal/platform/config"
	"devguard/internal/platform/logger"
	"devguard/internal/workflow"
	"devguard/internal/workflow/engine"
	"devguard/internal/workflow/history"
	"devguard/internal/workflow/lease"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/sentinel"
)

const diagnosticsDef = `{
  "id": "battery-report",
  "name": "Battery report",
  "platform": "android",
  "category": "diagnostics",
  "risk_level": "low",
  "requires_authorization": false,
  "rollback_supported": false,
  "steps": [
    {"id": "dump", "name": "Dump battery", "type": "command", "action": "shell dumpsys battery"}
  ]
}`

const gates = `
gates:
  - id: no-bypass
    type: blocked_intent
    required: true
banned_terms: ["frp bypass"]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	defs := filepath.Join(root, "workflows")
	require.NoError(t, os.MkdirAll(filepath.Join(defs, "diagnostics"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "diagnostics", "battery-report.json"), []byte(diagnosticsDef), 0o600))
	manifest := filepath.Join(root, "gates.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(gates), 0o600))

	t.Setenv("DEVGUARD_TEST_SHADOW_KEY", strings.Repeat("ab", 32))
	return &config.Config{
		Audit: config.AuditConfig{
			Dir:                 filepath.Join(root, "audit"),
			ShadowRetentionDays: 365,
			PublicRetentionDays: 30,
			KeyEnv:              "DEVGUARD_TEST_SHADOW_KEY",
			ReadConcurrency:     2,
		},
		Workflow: config.WorkflowConfig{
			DefinitionsDir:     defs,
			GateManifest:       manifest,
			DefaultStepTimeout: 30 * time.Second,
			CommandTimeout:     time.Minute,
			RetryBackoff:       []time.Duration{0},
			LeaseTTL:           time.Minute,
			HistoryCapacity:    10,
			DeviceTool:         "adb",
			DeviceFlag:         "-s",
		},
	}
}

func TestNewUsesInMemoryBackendsWhenUnconfigured(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig(t), logger.Discard(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.IsType(t, &lease.MemoryStore{}, rt.Leases)
	assert.IsType(t, &history.MemoryStore{}, rt.History)
	assert.Nil(t, rt.Forwarder)
	assert.False(t, rt.Key.Ephemeral)
	assert.Len(t, rt.Gates.All(), 1)

	checks := rt.Checks()
	require.Contains(t, checks, "audit_key")
	assert.NoError(t, checks["audit_key"](ctx))
	assert.NotContains(t, checks, "redis")
	assert.NotContains(t, checks, "postgres")
}

func TestStateDirSharesLeasesAndHistoryAcrossRuntimes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Workflow.StateDir = filepath.Join(t.TempDir(), "state")

	first, err := New(ctx, cfg, logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	second, err := New(ctx, cfg, logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	assert.IsType(t, &lease.FileStore{}, first.Leases)
	assert.IsType(t, &history.FileStore{}, first.History)

	token, err := first.Leases.Acquire(ctx, "SER9", time.Minute)
	require.NoError(t, err)
	_, err = second.Leases.Acquire(ctx, "SER9", time.Minute)
	assert.ErrorIs(t, err, sentinel.ErrLeaseHeld)

	def, err := second.Definitions.Load(ctx, workflow.CategoryDiagnostics, "battery-report")
	require.NoError(t, err)
	exec := device.NewStaticExecutor(map[string]device.Output{
		"shell dumpsys battery": {Success: true, Stdout: "level: 88"},
	})
	e, err := second.Engine(exec)
	require.NoError(t, err)
	_, err = e.Execute(ctx, def, engine.ExecutionContext{DeviceID: "SER9", UserID: "tech"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "device is busy in the other runtime")

	require.NoError(t, first.Leases.Release(ctx, "SER9", token))
	res, err := e.Execute(ctx, def, engine.ExecutionContext{DeviceID: "SER9", UserID: "tech"})
	require.NoError(t, err)
	require.True(t, res.Success)

	runs, err := first.History.ListByDevice(ctx, "SER9", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.ExecutionID, runs[0].ExecutionID)
}

func TestEngineRunsLoadedDefinition(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig(t), logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	def, err := rt.Definitions.Load(ctx, workflow.CategoryDiagnostics, "battery-report")
	require.NoError(t, err)

	exec := device.NewStaticExecutor(map[string]device.Output{
		"shell dumpsys battery": {Success: true, Stdout: "level: 88"},
	})
	e, err := rt.Engine(exec)
	require.NoError(t, err)

	res, err := e.Execute(ctx, def, engine.ExecutionContext{DeviceID: "SER9", UserID: "tech"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	runs, err := rt.History.ListByDevice(ctx, "SER9", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.ExecutionID, runs[0].ExecutionID)

	public, err := rt.Audit.ReadPublicLogs(ctx, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, public)
}

func TestEphemeralKeyIsReportedNotReady(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.KeyEnv = "DEVGUARD_TEST_UNSET_KEY"
	cfg.Audit.AllowEphemeralKey = true

	rt, err := New(context.Background(), cfg, logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.True(t, rt.Key.Ephemeral)
	assert.Error(t, rt.Checks()["audit_key"](context.Background()))
}

func TestNewFails(t *testing.T) {
	t.Run("missing key without ephemeral override", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Audit.KeyEnv = "DEVGUARD_TEST_UNSET_KEY"
		_, err := New(context.Background(), cfg, logger.Discard(), nil)
		assert.Error(t, err)
	})

	t.Run("configured manifest missing", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Workflow.GateManifest = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := New(context.Background(), cfg, logger.Discard(), nil)
		assert.Error(t, err)
	})
}
