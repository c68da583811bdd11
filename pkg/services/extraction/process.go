package extraction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-data/extract-engine/pkg/apperrors"
	"github.com/strata-data/extract-engine/pkg/models"
)

// Process is one in-flight or completed extraction attempt for one source.
// It owns pure state and transition logic; all I/O lives in the
// orchestrator. The live object never leaves the orchestrator - callers
// only see snapshots.
//
// Lifecycle: pending -> running -> {success, failed}, with
// failed -> healing and running -> healing for recovery. Terminal
// transitions happen at most once: a repeated Succeed is a no-op, any
// other transition out of a terminal state is rejected.
type Process struct {
	mu sync.Mutex

	id          uuid.UUID
	sourceID    string
	sourceName  string
	sourceType  models.SourceType
	params      map[string]any
	status      models.ExtractionStatus
	startTime   *time.Time
	endTime     *time.Time
	result      map[string]any
	errDetails  map[string]any
	retryCount  int
	retriedFrom *uuid.UUID
	healing     []models.HealingAction
	createdAt   time.Time

	cancelRequested bool

	// done is closed the first time the process reaches a terminal state.
	done chan struct{}
}

// NewProcess creates a pending extraction process for the given source.
func NewProcess(desc *models.SourceDescriptor, params map[string]any) *Process {
	return &Process{
		id:         uuid.New(),
		sourceID:   desc.SourceID,
		sourceName: desc.Name,
		sourceType: desc.Type,
		params:     copyMap(params),
		status:     models.ExtractionStatusPending,
		createdAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// NewRetryProcess creates a pending process continuing a failed lineage.
// The retry is a new identity linked to the original, so the failed
// attempt's terminal record stays intact.
func NewRetryProcess(desc *models.SourceDescriptor, params map[string]any, original uuid.UUID, retryCount int) *Process {
	p := NewProcess(desc, params)
	orig := original
	p.retriedFrom = &orig
	p.retryCount = retryCount
	return p
}

// ID returns the process id.
func (p *Process) ID() uuid.UUID { return p.id }

// SourceID returns the source this process extracts from.
func (p *Process) SourceID() string { return p.sourceID }

// Params returns a copy of the extraction parameters.
func (p *Process) Params() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyMap(p.params)
}

// Status returns the current status.
func (p *Process) Status() models.ExtractionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start transitions pending -> running, setting the start time.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case models.ExtractionStatusPending:
		now := time.Now()
		p.startTime = &now
		p.status = models.ExtractionStatusRunning
		return nil
	default:
		return fmt.Errorf("start from %s: invalid transition", p.status)
	}
}

// Succeed transitions running -> success, recording the end time and
// result metadata. A second call is an idempotent no-op; end time and
// result are never overwritten.
func (p *Process) Succeed(result map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case models.ExtractionStatusSuccess:
		return nil
	case models.ExtractionStatusRunning:
		now := time.Now()
		p.endTime = &now
		p.result = copyMap(result)
		p.status = models.ExtractionStatusSuccess
		p.closeDoneLocked()
		return nil
	default:
		if p.status.IsTerminal() {
			return fmt.Errorf("succeed from %s: %w", p.status, apperrors.ErrAlreadyTerminal)
		}
		return fmt.Errorf("succeed from %s: invalid transition", p.status)
	}
}

// Fail transitions running or healing -> failed, recording the end time
// and structured error details. Retry count is preserved. A transition
// out of an already-terminal state is rejected.
func (p *Process) Fail(details map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case models.ExtractionStatusRunning, models.ExtractionStatusHealing:
		now := time.Now()
		p.endTime = &now
		p.errDetails = copyMap(details)
		p.status = models.ExtractionStatusFailed
		p.closeDoneLocked()
		return nil
	default:
		if p.status.IsTerminal() {
			return fmt.Errorf("fail from %s: %w", p.status, apperrors.ErrAlreadyTerminal)
		}
		return fmt.Errorf("fail from %s: invalid transition", p.status)
	}
}

// Heal transitions failed -> healing (recovery after failure) or
// running -> healing (proactive mid-flight correction), appending the
// action to the healing log. Retry count is unchanged.
func (p *Process) Heal(action models.HealingAction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case models.ExtractionStatusFailed, models.ExtractionStatusRunning:
		p.healing = append(p.healing, action)
		p.status = models.ExtractionStatusHealing
		return nil
	case models.ExtractionStatusSuccess:
		return fmt.Errorf("heal from %s: %w", p.status, apperrors.ErrAlreadyTerminal)
	default:
		return fmt.Errorf("heal from %s: invalid transition", p.status)
	}
}

// IncrementRetry bumps the in-process attempt counter and returns the new
// value. Used by the worker's transparent retry loop; these attempts keep
// the same process identity.
func (p *Process) IncrementRetry() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryCount++
	return p.retryCount
}

// RetryCount returns the current retry counter.
func (p *Process) RetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryCount
}

// RequestCancel sets the cooperative cancellation flag. The worker checks
// it at safe checkpoints; the contract only guarantees no new attempt
// starts after cancellation.
func (p *Process) RequestCancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelRequested = true
}

// CancelRequested reports whether cancellation was requested.
func (p *Process) CancelRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelRequested
}

// Done returns a channel closed when the process first reaches a terminal
// state. SubmitAndWait blocks on it.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) closeDoneLocked() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

// Snapshot returns an immutable copy of the process state.
func (p *Process) Snapshot() models.ExtractionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := models.ExtractionSnapshot{
		ID:             p.id,
		SourceID:       p.sourceID,
		SourceName:     p.sourceName,
		SourceType:     p.sourceType,
		Params:         copyMap(p.params),
		Status:         p.status,
		ResultMetadata: copyMap(p.result),
		ErrorDetails:   copyMap(p.errDetails),
		RetryCount:     p.retryCount,
		CreatedAt:      p.createdAt,
	}
	if p.startTime != nil {
		t := *p.startTime
		snap.StartTime = &t
	}
	if p.endTime != nil {
		t := *p.endTime
		snap.EndTime = &t
	}
	if p.retriedFrom != nil {
		id := *p.retriedFrom
		snap.RetriedFrom = &id
	}
	if len(p.healing) > 0 {
		snap.HealingActions = make([]models.HealingAction, len(p.healing))
		copy(snap.HealingActions, p.healing)
	}
	return snap
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
