package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/strata-data/extract-engine/pkg/adapters/connector"
	"github.com/strata-data/extract-engine/pkg/apperrors"
	"github.com/strata-data/extract-engine/pkg/logging"
	"github.com/strata-data/extract-engine/pkg/metrics"
	"github.com/strata-data/extract-engine/pkg/models"
	"github.com/strata-data/extract-engine/pkg/retry"
	"github.com/strata-data/extract-engine/pkg/staging"
)

// MetadataStore resolves source descriptors and mirrors process state to
// durable storage. Every state transition is recorded so the process
// table can be reconstructed after a restart.
type MetadataStore interface {
	GetSource(ctx context.Context, sourceID string) (*models.SourceDescriptor, error)
	RecordSnapshot(ctx context.Context, snap models.ExtractionSnapshot) error
	GetExtraction(ctx context.Context, id uuid.UUID) (*models.ExtractionSnapshot, error)
}

// DependencyChecker is the slice of the dependency manager the
// orchestrator needs at submission time.
type DependencyChecker interface {
	Satisfied(sourceID string, sctx models.SatisfactionContext) (bool, []*models.Dependency)
}

// ConnectorSource hands out live connectors. Satisfied by the connector
// cache; faked in tests. Every Get must be paired with a Release so the
// cache knows the connector is no longer mid-extraction.
type ConnectorSource interface {
	Get(ctx context.Context, desc *models.SourceDescriptor) (connector.Connector, error)
	Release(sourceID string, conn connector.Connector)
	Invalidate(sourceID string)
}

// Config sizes the orchestrator's worker pool and intake.
type Config struct {
	// Workers is the number of concurrent extraction slots.
	Workers int

	// QueueDepth bounds how many accepted extractions may wait for a slot.
	QueueDepth int

	// SubmitRate limits accepted submissions per second. Zero disables
	// rate limiting.
	SubmitRate float64

	// SubmitBurst is the rate limiter burst size.
	SubmitBurst int

	// HistoryLimit bounds how many terminal processes stay in memory.
	// Older ones are pruned once persisted; their records remain in the
	// metadata store.
	HistoryLimit int

	// Retry is the in-process backoff policy for transient errors.
	Retry *retry.Config
}

// DefaultConfig returns a pool sized for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueDepth:   64,
		SubmitBurst:  10,
		HistoryLimit: 512,
		Retry:        retry.DefaultConfig(),
	}
}

// Orchestrator owns the full lifecycle of extraction processes: intake,
// dependency gating, dispatch onto a bounded worker pool, the two-tier
// retry policy, and terminal bookkeeping. Workers never retry a fatal
// error; fatal failures wait for an explicit Retry or ApplyHealing call.
type Orchestrator struct {
	mu     sync.Mutex
	procs  map[uuid.UUID]*Process
	latest map[string]*Process // newest process per source id
	closed bool

	// finished is the FIFO of processes that reached a terminal state,
	// used to prune procs past historyLimit. The latest entry per source
	// is kept regardless for dependency gating.
	finished     []uuid.UUID
	historyLimit int

	// intake tracks in-flight enqueues so Close can wait for them
	// before closing the queue channel.
	intake sync.WaitGroup
	queue  chan *Process

	deps       DependencyChecker
	meta       MetadataStore
	conns      ConnectorSource
	stage      staging.Manager
	classifier Classifier
	retryCfg   *retry.Config
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger

	group  *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates the orchestrator and starts its worker pool.
func NewOrchestrator(
	cfg Config,
	deps DependencyChecker,
	meta MetadataStore,
	conns ConnectorSource,
	stage staging.Manager,
	classifier Classifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	if classifier == nil {
		classifier = NewDefaultClassifier()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(ctx)

	o := &Orchestrator{
		procs:        make(map[uuid.UUID]*Process),
		latest:       make(map[string]*Process),
		historyLimit: cfg.HistoryLimit,
		queue:        make(chan *Process, cfg.QueueDepth),
		deps:         deps,
		meta:         meta,
		conns:        conns,
		stage:        stage,
		classifier:   classifier,
		retryCfg:     cfg.Retry,
		metrics:      m,
		logger:       logger.Named("orchestrator"),
		group:        group,
		runCtx:       runCtx,
		cancel:       cancel,
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			o.worker(runCtx)
			return nil
		})
	}
	return o
}

// Submit accepts one extraction for the source and returns its process id
// without waiting for execution. A source whose required dependencies are
// unsatisfied gets a DependencyBlockedError and no process is created;
// the caller decides whether to poll or resubmit.
func (o *Orchestrator) Submit(ctx context.Context, sourceID string, params map[string]any) (uuid.UUID, error) {
	if sourceID == "" {
		return uuid.Nil, apperrors.NewValidationError("source_id", "must not be empty")
	}
	for k := range params {
		if k == "" {
			return uuid.Nil, apperrors.NewValidationError("params", "parameter keys must not be empty")
		}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return uuid.Nil, fmt.Errorf("submission rate limit: %w", err)
		}
	}

	desc, err := o.meta.GetSource(ctx, sourceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve source %s: %w", sourceID, err)
	}

	if ok, unsatisfied := o.deps.Satisfied(sourceID, o.satisfactionContext()); !ok {
		ids := make([]string, len(unsatisfied))
		for i, dep := range unsatisfied {
			ids[i] = dep.ID.String()
		}
		o.metrics.ExtractionsBlocked.Inc()
		o.logger.Info("submission blocked",
			zap.String("source_id", sourceID),
			zap.Int("unsatisfied", len(ids)))
		return uuid.Nil, &apperrors.DependencyBlockedError{SourceID: sourceID, Unsatisfied: ids}
	}

	return o.enqueue(ctx, NewProcess(desc, params))
}

// SubmitAndWait submits and blocks until the process reaches a terminal
// state or the timeout elapses. A timeout returns a TimeoutError and
// leaves the extraction running; stopping it requires an explicit Cancel.
func (o *Orchestrator) SubmitAndWait(ctx context.Context, sourceID string, params map[string]any, timeout time.Duration) (models.ExtractionSnapshot, error) {
	id, err := o.Submit(ctx, sourceID, params)
	if err != nil {
		return models.ExtractionSnapshot{}, err
	}

	o.mu.Lock()
	p := o.procs[id]
	o.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
	case <-timer.C:
		return models.ExtractionSnapshot{}, &apperrors.TimeoutError{ExtractionID: id.String()}
	case <-ctx.Done():
		return models.ExtractionSnapshot{}, ctx.Err()
	}

	snap := p.Snapshot()
	if snap.Status == models.ExtractionStatusFailed {
		return snap, fmt.Errorf("extraction %s failed", id)
	}
	return snap, nil
}

// Status returns a snapshot of the process.
func (o *Orchestrator) Status(id uuid.UUID) (models.ExtractionSnapshot, error) {
	o.mu.Lock()
	p, ok := o.procs[id]
	o.mu.Unlock()
	if !ok {
		return models.ExtractionSnapshot{}, fmt.Errorf("extraction %s: %w", id, apperrors.ErrNotFound)
	}
	return p.Snapshot(), nil
}

// List returns snapshots of all known processes, optionally filtered by
// source id.
func (o *Orchestrator) List(sourceID string) []models.ExtractionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.ExtractionSnapshot, 0, len(o.procs))
	for _, p := range o.procs {
		if sourceID != "" && p.SourceID() != sourceID {
			continue
		}
		out = append(out, p.Snapshot())
	}
	return out
}

// Cancel requests cooperative cancellation. The worker honors the flag at
// its next checkpoint; no new attempt starts after this returns.
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	o.mu.Lock()
	p, ok := o.procs[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("extraction %s: %w", id, apperrors.ErrNotFound)
	}
	if p.Status().IsTerminal() {
		return fmt.Errorf("cancel extraction %s: %w", id, apperrors.ErrAlreadyTerminal)
	}
	p.RequestCancel()
	o.logger.Info("cancellation requested", zap.String("extraction_id", id.String()))
	return nil
}

// Retry resubmits a failed extraction as a new process linked to the
// original. Only legal on a FAILED terminal process; one pruned from
// memory is looked up in the metadata store. updatedParams are merged
// over the original parameters.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID, updatedParams map[string]any) (uuid.UUID, error) {
	snap, _, err := o.snapshotFor(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if snap.Status != models.ExtractionStatusFailed {
		return uuid.Nil, fmt.Errorf("retry extraction %s in %s: %w", id, snap.Status, apperrors.ErrNotFailed)
	}

	desc, err := o.meta.GetSource(ctx, snap.SourceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve source %s: %w", snap.SourceID, err)
	}

	merged := mergeParams(snap.Params, updatedParams)
	return o.enqueue(ctx, NewRetryProcess(desc, merged, id, snap.RetryCount+1))
}

// ApplyHealing records a healing action on a failed extraction and
// re-dispatches it as a new linked process with the action's parameter
// adjustments applied. The decision of which action to apply belongs to
// the caller; the orchestrator only executes it. A pruned original is
// healed against its durable record.
func (o *Orchestrator) ApplyHealing(ctx context.Context, id uuid.UUID, action models.HealingAction) (uuid.UUID, error) {
	snap, p, err := o.snapshotFor(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if snap.Status != models.ExtractionStatusFailed {
		return uuid.Nil, fmt.Errorf("heal extraction %s in %s: %w", id, snap.Status, apperrors.ErrNotFailed)
	}

	desc, err := o.meta.GetSource(ctx, snap.SourceID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve source %s: %w", snap.SourceID, err)
	}

	if p != nil {
		if err := p.Heal(action); err != nil {
			return uuid.Nil, err
		}
		o.record(ctx, p)
	} else {
		snap.HealingActions = append(snap.HealingActions, action)
		snap.Status = models.ExtractionStatusHealing
		if err := o.meta.RecordSnapshot(ctx, snap); err != nil {
			o.logger.Warn("record healing on stored extraction",
				zap.String("extraction_id", id.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	o.metrics.HealingActions.Inc()
	o.logger.Info("healing action applied",
		zap.String("extraction_id", id.String()),
		zap.String("action_type", action.ActionType))

	adjusted := mergeParams(snap.Params, action.Parameters)
	return o.enqueue(ctx, NewRetryProcess(desc, adjusted, id, snap.RetryCount+1))
}

// Close stops intake, lets the workers drain the queue, and waits for
// them to finish. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.intake.Wait()
	close(o.queue)

	err := o.group.Wait()
	o.cancel()
	o.logger.Info("orchestrator stopped")
	return err
}

// enqueue registers the process and hands it to the worker pool.
func (o *Orchestrator) enqueue(ctx context.Context, p *Process) (uuid.UUID, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return uuid.Nil, apperrors.ErrShuttingDown
	}
	o.intake.Add(1)
	o.procs[p.ID()] = p
	o.latest[p.SourceID()] = p
	o.mu.Unlock()
	defer o.intake.Done()

	o.record(ctx, p)

	select {
	case o.queue <- p:
	case <-ctx.Done():
		o.forget(p)
		return uuid.Nil, ctx.Err()
	case <-o.runCtx.Done():
		o.forget(p)
		return uuid.Nil, apperrors.ErrShuttingDown
	}

	o.metrics.ExtractionsSubmitted.WithLabelValues(string(p.sourceType)).Inc()
	o.metrics.QueueDepth.Inc()
	o.logger.Info("extraction submitted",
		zap.String("extraction_id", p.ID().String()),
		zap.String("source_id", p.SourceID()))
	return p.ID(), nil
}

func (o *Orchestrator) forget(p *Process) {
	o.mu.Lock()
	delete(o.procs, p.ID())
	if o.latest[p.SourceID()] == p {
		delete(o.latest, p.SourceID())
	}
	o.mu.Unlock()
}

// retain moves a persisted terminal process into the bounded history,
// pruning the oldest entries past the limit. Pruned processes live on in
// the metadata store; the latest pointer per source survives pruning so
// dependency gating keeps working.
func (o *Orchestrator) retain(p *Process) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finished = append(o.finished, p.ID())
	for len(o.finished) > o.historyLimit {
		oldest := o.finished[0]
		o.finished = o.finished[1:]
		delete(o.procs, oldest)
	}
}

// snapshotFor resolves an extraction by id, preferring the live process
// table and falling back to the metadata store for pruned ones. The
// returned process is nil when only the durable record exists.
func (o *Orchestrator) snapshotFor(ctx context.Context, id uuid.UUID) (models.ExtractionSnapshot, *Process, error) {
	o.mu.Lock()
	p, ok := o.procs[id]
	o.mu.Unlock()
	if ok {
		return p.Snapshot(), p, nil
	}

	stored, err := o.meta.GetExtraction(ctx, id)
	if err != nil {
		return models.ExtractionSnapshot{}, nil, err
	}
	return *stored, nil, nil
}

// satisfactionContext builds the readiness snapshot handed to the
// dependency manager from the newest process per source: a source whose
// latest extraction succeeded is considered available on all axes.
func (o *Orchestrator) satisfactionContext() models.SatisfactionContext {
	o.mu.Lock()
	defer o.mu.Unlock()

	sctx := make(models.SatisfactionContext, len(o.latest))
	for sourceID, p := range o.latest {
		if p.Status() == models.ExtractionStatusSuccess {
			sctx[sourceID] = models.TargetState{
				DataAvailable:     true,
				ExecutionComplete: true,
				ResourceAvailable: true,
				SchemaCompatible:  true,
			}
		}
	}
	return sctx
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case p, ok := <-o.queue:
			if !ok {
				return
			}
			o.metrics.QueueDepth.Dec()
			o.runExtraction(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}

// runExtraction drives one process from pending to a terminal state. The
// transient retry loop keeps the process identity; only Retry and
// ApplyHealing mint new ids. Cancellation is checked before each attempt,
// before each backoff sleep, and before staging.
func (o *Orchestrator) runExtraction(ctx context.Context, p *Process) {
	logger := o.logger.With(
		zap.String("extraction_id", p.ID().String()),
		zap.String("source_id", p.SourceID()))

	if err := p.Start(); err != nil {
		logger.Error("start extraction", zap.Error(err))
		return
	}
	o.record(ctx, p)
	o.metrics.ActiveExtractions.Inc()
	defer o.metrics.ActiveExtractions.Dec()
	started := time.Now()

	if p.CancelRequested() {
		o.finishFailed(ctx, p, started, cancelledDetails())
		return
	}

	desc, err := o.meta.GetSource(ctx, p.SourceID())
	if err != nil {
		o.finishFailed(ctx, p, started, errorDetails(
			&apperrors.FatalError{Kind: "metadata", Err: err}, 0))
		return
	}

	result, runErr := o.attemptLoop(ctx, p, desc, logger)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || p.CancelRequested() {
			o.finishFailed(ctx, p, started, cancelledDetails())
			return
		}
		o.finishFailed(ctx, p, started, errorDetails(runErr, p.RetryCount()))
		return
	}

	if p.CancelRequested() {
		o.finishFailed(ctx, p, started, cancelledDetails())
		return
	}

	location, err := o.stage.Write(ctx, p.ID(), result.Payload, result.Metadata)
	if err != nil {
		o.conns.Invalidate(desc.SourceID)
		o.finishFailed(ctx, p, started, errorDetails(
			&apperrors.FatalError{Kind: "staging", Err: err}, p.RetryCount()))
		return
	}

	resultMeta := make(map[string]any, len(result.Metadata)+1)
	for k, v := range result.Metadata {
		resultMeta[k] = v
	}
	resultMeta["staging_location"] = location

	if err := p.Succeed(resultMeta); err != nil {
		logger.Error("mark success", zap.Error(err))
		return
	}
	o.record(ctx, p)
	o.retain(p)
	o.metrics.ExtractionsCompleted.WithLabelValues(string(p.sourceType), "success").Inc()
	o.metrics.ExtractionDuration.WithLabelValues(string(p.sourceType), "success").
		Observe(time.Since(started).Seconds())
	logger.Info("extraction succeeded",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("retries", p.RetryCount()))
}

// attemptLoop performs connector I/O with transparent retries for
// transient errors. Fatal errors and exhausted budgets return the
// classified error for the caller to record.
func (o *Orchestrator) attemptLoop(ctx context.Context, p *Process, desc *models.SourceDescriptor, logger *zap.Logger) (*connector.Result, error) {
	attempts := 0
	for {
		conn, err := o.conns.Get(ctx, desc)
		var result *connector.Result
		if err == nil {
			result, err = conn.Extract(ctx, p.Params())
		}
		if err == nil {
			o.conns.Release(desc.SourceID, conn)
			return result, nil
		}

		classified := o.classifier.Classify(err)
		o.conns.Invalidate(desc.SourceID)
		if conn != nil {
			o.conns.Release(desc.SourceID, conn)
		}

		var transient *apperrors.TransientError
		if !errors.As(classified, &transient) || attempts >= o.retryCfg.MaxRetries {
			return nil, classified
		}

		attempts++
		p.IncrementRetry()
		o.metrics.TransientRetries.Inc()
		logger.Warn("transient extraction error, backing off",
			zap.Int("attempt", attempts),
			zap.String("kind", transient.Kind),
			zap.String("error", logging.SanitizeError(classified)))

		if p.CancelRequested() {
			return nil, context.Canceled
		}
		select {
		case <-time.After(o.retryCfg.BackoffFor(attempts)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p.CancelRequested() {
			return nil, context.Canceled
		}
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, p *Process, started time.Time, details map[string]any) {
	if err := p.Fail(details); err != nil {
		o.logger.Error("mark failure",
			zap.String("extraction_id", p.ID().String()),
			zap.Error(err))
		return
	}
	o.record(ctx, p)
	o.retain(p)
	o.metrics.ExtractionsCompleted.WithLabelValues(string(p.sourceType), "failed").Inc()
	o.metrics.ExtractionDuration.WithLabelValues(string(p.sourceType), "failed").
		Observe(time.Since(started).Seconds())
	o.logger.Warn("extraction failed",
		zap.String("extraction_id", p.ID().String()),
		zap.String("source_id", p.SourceID()),
		zap.Any("details", details))
}

// record mirrors the current snapshot to the metadata store. Recording is
// best-effort: a store outage must not wedge the state machine, so
// failures are logged and execution continues.
func (o *Orchestrator) record(ctx context.Context, p *Process) {
	if err := o.meta.RecordSnapshot(ctx, p.Snapshot()); err != nil {
		o.logger.Warn("record extraction snapshot",
			zap.String("extraction_id", p.ID().String()),
			zap.String("error", logging.SanitizeError(err)))
	}
}

// maxErrorDetailLen caps how much error text ends up in a persisted
// snapshot; connector errors can embed entire response bodies.
const maxErrorDetailLen = 2048

func errorDetails(err error, attempts int) map[string]any {
	details := map[string]any{
		"error":    logging.TruncateString(logging.SanitizeError(err), maxErrorDetailLen),
		"attempts": attempts,
	}
	var transient *apperrors.TransientError
	var fatal *apperrors.FatalError
	switch {
	case errors.As(err, &transient):
		details["kind"] = transient.Kind
		details["retryable"] = true
	case errors.As(err, &fatal):
		details["kind"] = fatal.Kind
		details["retryable"] = false
	default:
		details["kind"] = "unknown"
		details["retryable"] = false
	}
	return details
}

func cancelledDetails() map[string]any {
	return map[string]any{"kind": "cancelled", "error": "cancelled by caller", "retryable": false}
}

func mergeParams(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
