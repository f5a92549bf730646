package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/audit"
	"github.com/dr-kube/dr-kube/internal/config"
	"github.com/dr-kube/dr-kube/internal/correlation"
	"github.com/dr-kube/dr-kube/internal/db"
	"github.com/dr-kube/dr-kube/internal/gitops"
	"github.com/dr-kube/dr-kube/internal/llm"
	"github.com/dr-kube/dr-kube/internal/llm/provider"
	"github.com/dr-kube/dr-kube/internal/logging"
	"github.com/dr-kube/dr-kube/internal/pipeline"
	"github.com/dr-kube/dr-kube/internal/remediation"
	"github.com/dr-kube/dr-kube/internal/safety/policy"
	"github.com/dr-kube/dr-kube/internal/server"
	"github.com/dr-kube/dr-kube/internal/store"
	"github.com/dr-kube/dr-kube/internal/tracing"
)

const serviceName = "dr-kube"

// pruneInterval spaces expired-mark sweeps on long-running processes.
const pruneInterval = 10 * time.Minute

// runtime is the wired component graph shared by serve and run.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	audit   audit.Logger
	marks   []store.MarkStore
	runLog  store.RunLog
	ping    func(ctx context.Context) error
	handler *pipeline.Handler
	machine *remediation.Machine
	hub     *server.Hub

	closers []func() error
}

// runtimeOptions adjusts wiring per command.
type runtimeOptions struct {
	// liveFeed publishes terminal states to a websocket hub.
	liveFeed bool
}

// buildRuntime wires config into stores, admission, correlation, the
// proposal generator, the publisher, the workflow machine and the pipeline.
func buildRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	// 1. Logging and audit
	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt.logger = logger
	rt.closers = append(rt.closers, func() error { _ = logger.Sync(); return nil })

	auditLog, err := audit.NewLogger(audit.Config{
		Path:       cfg.Audit.Path,
		MaxSize:    cfg.Audit.MaxSize,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAge:     cfg.Audit.MaxAge,
		Compress:   cfg.Audit.Compress,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	rt.audit = auditLog
	rt.closers = append(rt.closers, auditLog.Close)

	// 2. Tracing
	tracer := tracing.NoopTracer()
	if cfg.Tracing.Endpoint != "" {
		shutdown, err := tracing.Init(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Tracing.SamplingRate)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		rt.closers = append(rt.closers, func() error { shutdown(); return nil })
		tracer = tracing.Tracer()
	}

	// 3. Stores
	dedup, groups, err := rt.openStores()
	if err != nil {
		return nil, err
	}

	// 4. Admission and correlation
	admCfg, err := cfg.AdmissionConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid admission config: %w", err)
	}
	ctrl := admission.NewController(admCfg, dedup, groups,
		admission.WithLogger(logger),
		admission.WithObserver(func(d admission.Decision) {
			if err := auditLog.LogAdmission(context.Background(), d); err != nil {
				logger.Warn("failed to write audit event", zap.String("issue_id", d.IssueID), zap.Error(err))
			}
		}),
	)
	resolver := gitops.NewResolver(cfg.Publish.RepoPath)
	corr := correlation.NewCorrelator(resolver.ResolveResource, admCfg.CompositeIncidentMode)

	// 5. Proposal generator
	engine := policy.NewEngine()
	completer, err := provider.New(ctx, cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	var gen llm.Generator
	if completer != nil {
		gen = llm.NewGenerator(completer, engine, logger)
		logger.Info("LLM provider configured", zap.String("provider", completer.Name()))
	} else {
		logger.Warn("LLM provider not configured, workflows will fail at the proposal step",
			zap.String("provider", cfg.LLM.Provider))
	}

	// 6. Publisher and workflow machine
	var pub remediation.Publisher
	if cfg.Publish.Enabled {
		pub = gitops.NewGitPublisher(gitops.GitPublisherConfig{
			RepoPath:   cfg.Publish.RepoPath,
			BaseBranch: cfg.Publish.BaseBranch,
			Remote:     cfg.Publish.Remote,
			Timeout:    seconds(cfg.Publish.TimeoutSeconds),
		}, logger)
	}
	machineOpts := []remediation.Option{
		remediation.WithRunLog(rt.runLog),
		remediation.WithLogger(logger),
		remediation.WithTracer(tracer),
		remediation.WithObserver(func(s *remediation.WorkflowState) {
			if err := auditLog.LogWorkflow(context.Background(), s); err != nil {
				logger.Warn("failed to write audit event", zap.String("run_id", s.RunID), zap.Error(err))
			}
		}),
	}
	if opts.liveFeed {
		rt.hub = server.NewHub(cfg.Server.AllowedOrigins, logger)
		machineOpts = append(machineOpts, remediation.WithObserver(rt.hub.Publish))
	}
	rt.machine = remediation.NewMachine(remediation.Config{
		Publish:         cfg.Publish.Enabled,
		ProposalTimeout: seconds(cfg.Workflow.ProposalTimeoutSeconds),
		PublishTimeout:  seconds(cfg.Publish.TimeoutSeconds),
	}, gen, pub, resolver, engine, machineOpts...)

	// 7. Intake pipeline
	rt.handler = pipeline.NewHandler(corr, ctrl, rt.machine, resolver.Resolve, cfg.Workflow.MaxParallel, logger)

	ok = true
	return rt, nil
}

// openStores selects the mark and run-history backends.
func (rt *runtime) openStores() (dedup, groups store.MarkStore, err error) {
	cfg := rt.cfg.Store
	switch cfg.Backend {
	case "sqlite":
		s, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		rt.closers = append(rt.closers, s.Close)
		dedup, groups = s.Marks("dedup"), s.Marks("group")
		rt.runLog = s
		rt.ping = s.Ping
	case "lru":
		dedup = store.NewLRU(cfg.LRUSize)
		groups = store.NewLRU(cfg.LRUSize)
		rt.runLog = store.NewMemoryRunLog(cfg.RunHistory)
	default:
		dedup, groups = store.NewMemory(), store.NewMemory()
		rt.runLog = store.NewMemoryRunLog(cfg.RunHistory)
	}
	rt.marks = []store.MarkStore{dedup, groups}
	for _, m := range rt.marks {
		rt.closers = append(rt.closers, m.Close)
	}
	rt.logger.Info("state store opened", zap.String("backend", cfg.Backend))
	return dedup, groups, nil
}

// pruneLoop drops expired marks until ctx ends.
func (rt *runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, m := range rt.marks {
				n, err := m.Prune(ctx, now)
				if err != nil {
					rt.logger.Warn("prune failed", zap.Error(err))
					continue
				}
				if n > 0 {
					rt.logger.Debug("pruned expired marks", zap.Int("count", n))
				}
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Warn("close failed", zap.Error(err))
		}
	}
	rt.closers = nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
