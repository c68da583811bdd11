package extraction

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-data/extract-engine/pkg/apperrors"
	"github.com/strata-data/extract-engine/pkg/models"
)

func testDescriptor() *models.SourceDescriptor {
	return &models.SourceDescriptor{
		SourceID: "orders-db",
		Name:     "Orders Database",
		Type:     models.SourceTypePostgres,
		Config:   map[string]any{"host": "db.internal", "user": "etl", "database": "orders"},
	}
}

func TestProcessLifecycle(t *testing.T) {
	p := NewProcess(testDescriptor(), map[string]any{"query": "select 1"})

	require.Equal(t, models.ExtractionStatusPending, p.Status())
	require.NoError(t, p.Start())
	require.Equal(t, models.ExtractionStatusRunning, p.Status())

	require.NoError(t, p.Succeed(map[string]any{"row_count": 10}))
	require.Equal(t, models.ExtractionStatusSuccess, p.Status())

	snap := p.Snapshot()
	assert.NotNil(t, snap.StartTime)
	assert.NotNil(t, snap.EndTime)
	assert.Equal(t, 10, snap.ResultMetadata["row_count"])
}

func TestProcessSucceedIsIdempotent(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Succeed(map[string]any{"row_count": 1}))

	first := p.Snapshot()
	require.NoError(t, p.Succeed(map[string]any{"row_count": 999}))
	second := p.Snapshot()

	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, 1, second.ResultMetadata["row_count"])
}

func TestProcessTerminalTransitionsRejected(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Succeed(nil))

	err := p.Fail(map[string]any{"error": "late failure"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyTerminal))

	err = p.Heal(models.HealingAction{ActionType: "adjust_params"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyTerminal))

	p2 := NewProcess(testDescriptor(), nil)
	require.NoError(t, p2.Start())
	require.NoError(t, p2.Fail(map[string]any{"error": "boom"}))

	err = p2.Succeed(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyTerminal))
}

func TestProcessFailedToHealing(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Fail(map[string]any{"error": "schema drift"}))

	action := models.HealingAction{ID: uuid.NewString(), ActionType: "refresh_schema"}
	require.NoError(t, p.Heal(action))
	require.Equal(t, models.ExtractionStatusHealing, p.Status())

	snap := p.Snapshot()
	require.Len(t, snap.HealingActions, 1)
	assert.Equal(t, "refresh_schema", snap.HealingActions[0].ActionType)

	// healing process can fail again
	require.NoError(t, p.Fail(map[string]any{"error": "still broken"}))
	assert.Equal(t, models.ExtractionStatusFailed, p.Status())
}

func TestProcessStartOnlyFromPending(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	require.NoError(t, p.Start())
	require.Error(t, p.Start())
}

func TestProcessDoneClosesOnFirstTerminal(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	require.NoError(t, p.Start())

	select {
	case <-p.Done():
		t.Fatal("done closed before terminal state")
	default:
	}

	require.NoError(t, p.Fail(map[string]any{"error": "boom"}))
	select {
	case <-p.Done():
	default:
		t.Fatal("done not closed after failure")
	}
}

func TestRetryProcessLineage(t *testing.T) {
	original := NewProcess(testDescriptor(), map[string]any{"query": "select 1", "batch": 100})
	require.NoError(t, original.Start())
	require.NoError(t, original.Fail(map[string]any{"error": "boom"}))

	retry := NewRetryProcess(testDescriptor(), map[string]any{"query": "select 1", "batch": 50},
		original.ID(), original.RetryCount()+1)

	snap := retry.Snapshot()
	require.NotNil(t, snap.RetriedFrom)
	assert.Equal(t, original.ID(), *snap.RetriedFrom)
	assert.Equal(t, 1, snap.RetryCount)
	assert.NotEqual(t, original.ID(), retry.ID())
	assert.Equal(t, 50, snap.Params["batch"])
}

func TestProcessSnapshotIsACopy(t *testing.T) {
	p := NewProcess(testDescriptor(), map[string]any{"query": "select 1"})
	snap := p.Snapshot()
	snap.Params["query"] = "mutated"

	assert.Equal(t, "select 1", p.Params()["query"])
}

func TestProcessCancelFlag(t *testing.T) {
	p := NewProcess(testDescriptor(), nil)
	assert.False(t, p.CancelRequested())
	p.RequestCancel()
	assert.True(t, p.CancelRequested())
}
