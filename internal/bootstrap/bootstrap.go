// Package bootstrap assembles the audit logger, gate checker, device leases,
// run history and workflow engine from configuration. The daemon and the CLI
// share it so both write the same audit trail the same way.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"devguard/internal/audit"
	"devguard/internal/audit/forward"
	auditmetrics "devguard/internal/audit/metrics"
	"devguard/internal/device"
	"devguard/internal/platform/config"
	"devguard/internal/platform/kafka"
	"devguard/internal/platform/postgres"
	"devguard/internal/platform/redis"
	"devguard/internal/policy"
	policymetrics "devguard/internal/policy/metrics"
	"devguard/internal/workflow/engine"
	"devguard/internal/workflow/history"
	"devguard/internal/workflow/lease"
	workflowmetrics "devguard/internal/workflow/metrics"
	"devguard/internal/workflow/store"
	dErrors "devguard/pkg/domain-errors"
)

// Runtime holds the wired components. Optional backends are nil when not
// configured; the in-memory lease and history stores stand in for them.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Key         audit.Key
	Audit       *audit.Logger
	Forwarder   *forward.Forwarder
	Definitions *store.FileStore
	Gates       *policy.MemoryGateStore
	Checker     *policy.Checker
	Leases      engine.Leaser
	History     history.Store

	auditMetrics    *auditmetrics.Metrics
	workflowMetrics *workflowmetrics.Metrics
	redis           *redis.Client
	db              *sql.DB
	kafka           *kgo.Client
}

// New wires every component. reg may be nil, in which case metrics are not
// registered anywhere.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	if reg != nil {
		rt.auditMetrics = auditmetrics.NewWithRegisterer(reg)
		rt.workflowMetrics = workflowmetrics.NewWithRegisterer(reg)
	}

	steps := []func(context.Context, prometheus.Registerer) error{
		rt.openAudit,
		rt.openDefinitions,
		rt.openGates,
		rt.openLeases,
		rt.openHistory,
	}
	for _, step := range steps {
		if err := step(ctx, reg); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) openAudit(ctx context.Context, _ prometheus.Registerer) error {
	cfg := rt.Config.Audit
	key, err := audit.LoadKey(audit.KeyOptions{
		EnvName:        cfg.KeyEnv,
		Salt:           cfg.KeySalt,
		AllowEphemeral: cfg.AllowEphemeralKey,
	})
	if err != nil {
		return err
	}
	rt.Key = key
	rt.auditMetrics.SetEphemeralKey(key.Ephemeral)
	if key.Ephemeral {
		rt.Logger.WarnContext(ctx, "shadow audit key generated for this process only; shadow logs will be unreadable after restart",
			"key_env", cfg.KeyEnv,
		)
	}

	cipher, err := audit.NewCipher(key.Bytes)
	if err != nil {
		return err
	}

	opts := []audit.Option{
		audit.WithLogger(rt.Logger),
		audit.WithMetrics(rt.auditMetrics),
		audit.WithRetention(audit.Retention{
			ShadowDays: cfg.ShadowRetentionDays,
			PublicDays: cfg.PublicRetentionDays,
		}),
		audit.WithReadConcurrency(cfg.ReadConcurrency),
	}
	if cfg.Forward.Enabled {
		fwd, err := rt.openForwarder(ctx)
		if err != nil {
			return err
		}
		rt.Forwarder = fwd
		opts = append(opts, audit.WithExporter(fwd))
	}

	rt.Audit, err = audit.New(cfg.Dir, cipher, opts...)
	return err
}

func (rt *Runtime) openForwarder(ctx context.Context) (*forward.Forwarder, error) {
	kcfg := rt.Config.Kafka
	client, err := kafka.NewClient(ctx, kcfg)
	if err != nil {
		return nil, err
	}
	rt.kafka = client
	if err := forward.EnsureTopic(ctx, client, kcfg.Topic, kcfg.Partitions, kcfg.ReplicationFactor); err != nil {
		return nil, err
	}
	sink, err := forward.NewKafkaSink(client, kcfg.Topic)
	if err != nil {
		return nil, err
	}
	return forward.New(sink,
		forward.WithLogger(rt.Logger),
		forward.WithMetrics(rt.auditMetrics),
		forward.WithBufferSize(rt.Config.Audit.Forward.BufferSize),
		forward.WithSendTimeout(rt.Config.Audit.Forward.SendTimeout),
	)
}

func (rt *Runtime) openDefinitions(context.Context, prometheus.Registerer) error {
	defs, err := store.New(rt.Config.Workflow.DefinitionsDir,
		store.WithLogger(rt.Logger),
		store.WithStepTimeout(rt.Config.Workflow.DefaultStepTimeout),
	)
	if err != nil {
		return err
	}
	rt.Definitions = defs
	return nil
}

// openGates loads the manifest. Without a configured path no gate applies;
// a configured path that does not exist is an error.
func (rt *Runtime) openGates(ctx context.Context, reg prometheus.Registerer) error {
	manifest := &policy.Manifest{}
	if path := rt.Config.Workflow.GateManifest; path != "" {
		m, err := policy.LoadManifest(path)
		if err != nil {
			return err
		}
		manifest = m
	} else {
		rt.Logger.WarnContext(ctx, "no gate manifest configured; workflows run without admission gates")
	}
	rt.Gates = policy.NewMemoryGateStore(manifest)

	opts := []policy.Option{policy.WithLogger(rt.Logger)}
	if reg != nil {
		opts = append(opts, policy.WithMetrics(policymetrics.NewWithRegisterer(reg)))
	}
	rt.Checker = policy.NewChecker(rt.Gates, opts...)
	return nil
}

func (rt *Runtime) openLeases(ctx context.Context, _ prometheus.Registerer) error {
	client, err := redis.New(ctx, rt.Config.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		return rt.openLocalLeases(ctx)
	}
	rt.redis = client
	rt.Leases = lease.NewRedisStore(client.Client)
	return nil
}

func (rt *Runtime) openHistory(ctx context.Context, _ prometheus.Registerer) error {
	db, err := postgres.Open(ctx, rt.Config.Postgres)
	if err != nil {
		return err
	}
	if db == nil {
		return rt.openLocalHistory(ctx)
	}
	rt.db = db
	pg := history.NewPostgresStore(db)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	rt.History = pg
	return nil
}

// openLocalLeases shares leases between processes through lock files under
// the state directory. Without one, leases only exclude runs in this process.
func (rt *Runtime) openLocalLeases(ctx context.Context) error {
	dir := rt.Config.Workflow.StateDir
	if dir == "" {
		rt.Logger.WarnContext(ctx, "workflow.state_dir is empty; device leases are process-local")
		rt.Leases = lease.NewMemoryStore()
		return nil
	}
	files, err := lease.NewFileStore(filepath.Join(dir, "leases"))
	if err != nil {
		return err
	}
	rt.Leases = files
	return nil
}

// openLocalHistory keeps run history in a JSONL file under the state
// directory, or in memory when none is configured.
func (rt *Runtime) openLocalHistory(ctx context.Context) error {
	dir := rt.Config.Workflow.StateDir
	if dir == "" {
		rt.Logger.WarnContext(ctx, "workflow.state_dir is empty; run history is lost on exit")
		rt.History = history.NewMemoryStore(rt.Config.Workflow.HistoryCapacity)
		return nil
	}
	runs, err := history.NewFileStore(dir)
	if err != nil {
		return err
	}
	rt.History = runs
	return nil
}

// Engine builds a workflow engine that runs commands through executor.
func (rt *Runtime) Engine(executor device.Executor, opts ...engine.Option) (*engine.Engine, error) {
	wcfg := rt.Config.Workflow
	base := []engine.Option{
		engine.WithLogger(rt.Logger),
		engine.WithMetrics(rt.workflowMetrics),
		engine.WithAdmission(rt.Checker),
		engine.WithLeases(rt.Leases, wcfg.LeaseTTL),
		engine.WithHistory(rt.History),
		engine.WithStepTimeout(wcfg.DefaultStepTimeout),
		engine.WithCommandTimeout(wcfg.CommandTimeout),
		engine.WithFatalHandler(engine.ExitOnFatal(rt.Logger)),
	}
	if len(wcfg.RetryBackoff) > 0 {
		base = append(base, engine.WithBackoff(engine.Backoff(wcfg.RetryBackoff)))
	}
	return engine.New(executor, rt.Audit, append(base, opts...)...)
}

// DeviceExecutor runs commands through the configured vendor tool.
func (rt *Runtime) DeviceExecutor() (*device.ProcessExecutor, error) {
	wcfg := rt.Config.Workflow
	return device.NewProcessExecutor(wcfg.DeviceTool,
		device.WithDeviceFlag(wcfg.DeviceFlag),
		device.WithLogger(rt.Logger),
	)
}

// Checks reports per-dependency readiness.
func (rt *Runtime) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"audit_key": func(context.Context) error {
			if rt.Key.Ephemeral {
				return errors.New("running on an ephemeral shadow key")
			}
			return nil
		},
	}
	if rt.redis != nil {
		checks["redis"] = rt.redis.Health
	}
	if rt.db != nil {
		checks["postgres"] = rt.db.PingContext
	}
	if rt.kafka != nil {
		checks["kafka"] = rt.kafka.Ping
	}
	return checks
}

// Close releases every backend connection.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	if rt.kafka != nil {
		rt.kafka.Close()
	}
	if len(errs) > 0 {
		return dErrors.Wrap(errors.Join(errs...), dErrors.CodeInternal, "close runtime")
	}
	return nil
}
