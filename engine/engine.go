package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/backoff"
	"github.com/oxlane/spool/cluster"
	"github.com/oxlane/spool/cron"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	mw "github.com/oxlane/spool/middleware"
	"github.com/oxlane/spool/observability"
	"github.com/oxlane/spool/queue"
	"github.com/oxlane/spool/ratelimit"
	"github.com/oxlane/spool/scope"
	"github.com/oxlane/spool/upload"
	"github.com/oxlane/spool/worker"
)

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *spool.Coordinator
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Admission subsystem.
	limiter   *ratelimit.Limiter
	ledgerSvc *ledger.Service

	// Upload subsystem.
	sessionStore upload.SessionStore
	chunkStore   upload.ChunkStore
	reassembler  *upload.Reassembler

	// Cron subsystem.
	cronStore    cron.Store
	clusterStore cluster.Store
	scheduler    *cron.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level drain pacing and concurrency
// configurations, replacing queue.Defaults(). Queues not listed have no
// queue-level limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithChunkStore sets the chunk byte store for upload reassembly.
// If not set, a disk store under the OS temp directory is used.
func WithChunkStore(cs upload.ChunkStore) Option {
	return func(eng *Engine) {
		eng.chunkStore = cs
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware and the observability extension use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator.
// The Coordinator's store must implement every subsystem store.
func Build(c *spool.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, spool.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement dlq.Store")
	}
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement cron.Store")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement cluster.Store")
	}
	ss, ok := store.(upload.SessionStore)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement upload.SessionStore")
	}
	ls, ok := store.(ledger.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement ledger.Store")
	}
	rs, ok := store.(ratelimit.Store)
	if !ok {
		return nil, fmt.Errorf("spool: store does not implement ratelimit.Store")
	}

	eng := &Engine{
		c:            c,
		extensions:   ext.NewRegistry(logger),
		registry:     job.NewRegistry(),
		jobStore:     js,
		sessionStore: ss,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.chunkStore == nil {
		eng.chunkStore = upload.NewDiskChunkStore(filepath.Join(os.TempDir(), "spool-chunks"))
	}

	// Admission services.
	eng.limiter = ratelimit.NewLimiter(rs)
	eng.ledgerSvc = ledger.NewService(ls, logger)

	// DLQ and reassembly.
	eng.dlqService = dlq.NewService(ds, js)
	eng.reassembler = upload.NewReassembler(ss, eng.chunkStore, js, logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/oxlane/spool")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/oxlane/spool")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension and the queue depth
	// gauge over this process's queues.
	obsMeter := otel.Meter("github.com/oxlane/spool/observability")
	if eng.meterProvider != nil {
		obsMeter = eng.meterProvider.Meter("github.com/oxlane/spool/observability")
	}
	obsExt, err := observability.NewMetricsExtension(obsMeter)
	if err != nil {
		return nil, fmt.Errorf("spool: build metrics extension: %w", err)
	}
	eng.extensions.Register(obsExt)

	config := c.Config()
	if depthErr := observability.RegisterQueueDepth(obsMeter, js, config.Queues); depthErr != nil {
		return nil, fmt.Errorf("spool: register queue depth gauge: %w", depthErr)
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	}

	if len(eng.queueConfigs) == 0 {
		eng.queueConfigs = queue.Defaults()
	}
	eng.queueManager = queue.NewManager(eng.queueConfigs...)
	poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	// Create cron scheduler.
	eng.cronStore = cs
	eng.clusterStore = cls
	enqueueFunc := func(ctx context.Context, name string, payload []byte, jobOpts ...job.Option) (id.JobID, error) {
		j, enqErr := eng.EnqueueRaw(ctx, name, payload, jobOpts...)
		if enqErr != nil {
			return id.JobID{}, enqErr
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, cls, enqueueFunc, eng.extensions, eng.pool.WorkerID(), logger)

	// Register this worker in the cluster store.
	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		hostname = "unknown"
	}
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Queues:      config.Queues,
		Concurrency: config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := cls.RegisterWorker(context.Background(), w); regErr != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job, bypassing admission gates. It is
// meant for trusted internal producers; tenant-triggered work goes
// through SubmitAction.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Defaults come
// from the registered definition for name; functional options override.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := eng.registry.Options(name)
	for _, opt := range opts {
		opt(&jobOpts)
	}
	if jobOpts.TenantID == "" {
		jobOpts.TenantID = scope.Capture(ctx)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      spool.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Payload:     payload,
		State:       job.StatePending,
		Queue:       jobOpts.Queue,
		TenantID:    jobOpts.TenantID,
		Priority:    jobOpts.Priority,
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start registers the maintenance schedule, starts the cron scheduler,
// and starts the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.registerMaintenanceCrons(ctx); err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.Go(func() error { return eng.scheduler.Start(ctx) })
	g.Go(func() error { return eng.c.Start(ctx) })
	return g.Wait()
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	return eng.c.Stop(ctx)
}

// maintenanceSchedule is the fixed periodic work every deployment runs:
// the monthly quota reset and the daily/hourly garbage collectors.
var maintenanceSchedule = []struct {
	name     string
	schedule string
	jobName  string
}{
	{"reset-monthly-usage", "0 0 1 * *", job.KindResetUsage},
	{"cleanup-expired-sessions", "@hourly", job.KindCleanupSessions},
	{"cleanup-expired-tokens", "@daily", job.KindCleanupTokens},
	{"cleanup-expired-shares", "@daily", job.KindCleanupShares},
}

func (eng *Engine) registerMaintenanceCrons(ctx context.Context) error {
	for _, m := range maintenanceSchedule {
		def := &cron.Definition[struct{}]{
			Name:     m.name,
			Schedule: m.schedule,
			JobName:  m.jobName,
			Queue:    spool.QueueMaintenance,
		}
		if err := RegisterCron(ctx, eng, def); err != nil {
			return fmt.Errorf("register maintenance cron %q: %w", m.name, err)
		}
	}
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *spool.Coordinator { return eng.c }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Limiter returns the admission rate limiter.
func (eng *Engine) Limiter() *ratelimit.Limiter { return eng.limiter }

// Ledger returns the quota ledger service.
func (eng *Engine) Ledger() *ledger.Service { return eng.ledgerSvc }

// Reassembler returns the upload reassembler.
func (eng *Engine) Reassembler() *upload.Reassembler { return eng.reassembler }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// RegisterCron registers a typed cron definition with the engine.
// It validates the schedule expression, computes the initial NextRunAt,
// and persists the entry. Re-registration of the same name is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:    spool.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobName:   def.JobName,
		Queue:     def.Queue,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate cron entries.
		if errors.Is(err, spool.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.JobName),
		slog.Time("next_run_at", next),
	)

	return nil
}
