package depgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/apperrors"
	"github.com/strata-data/extract-engine/pkg/models"
)

// DependencyRepository persists dependency edges. The manager writes
// through it on register/remove and replays active rows on startup.
type DependencyRepository interface {
	Create(ctx context.Context, dep *models.Dependency) error
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
	ListActive(ctx context.Context) ([]*models.Dependency, error)
}

type depKey struct {
	source string
	target string
	t      models.DependencyType
}

// Manager owns the live dependency graph: registration, soft removal,
// satisfaction checks, execution ordering, cycle detection, and impact
// analysis. The graph is read far more often than written, so a RWMutex
// guards it.
type Manager struct {
	mu    sync.RWMutex
	graph *Graph
	deps  map[uuid.UUID]*models.Dependency
	byKey map[depKey]uuid.UUID

	repo   DependencyRepository
	logger *zap.Logger
}

// NewManager creates a dependency manager backed by the given repository.
func NewManager(repo DependencyRepository, logger *zap.Logger) *Manager {
	return &Manager{
		graph:  NewGraph(),
		deps:   make(map[uuid.UUID]*models.Dependency),
		byKey:  make(map[depKey]uuid.UUID),
		repo:   repo,
		logger: logger.Named("depgraph"),
	}
}

// Load rebuilds the in-memory graph by replaying all active dependencies
// from the repository. Replay and incremental registration produce the
// same graph for the same active set.
func (m *Manager) Load(ctx context.Context) error {
	deps, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active dependencies: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph = NewGraph()
	m.deps = make(map[uuid.UUID]*models.Dependency, len(deps))
	m.byKey = make(map[depKey]uuid.UUID, len(deps))
	for _, dep := range deps {
		m.deps[dep.ID] = dep
		m.byKey[depKey{dep.SourceID, dep.TargetID, dep.Type}] = dep.ID
		m.graph.AddEdge(Edge{ID: dep.ID, Source: dep.SourceID, Target: dep.TargetID, Type: dep.Type})
	}

	m.logger.Info("dependency graph loaded", zap.Int("dependencies", len(deps)))
	return nil
}

// Register adds a dependency edge and persists it. Self-dependencies are
// rejected. Registering an edge that already exists for the same
// (source, target, type) is idempotent and returns the existing id.
// Cycles are not rejected here: they are detected, not prevented, because
// soft dependency types tolerate cycles; only execution cycles block
// scheduling, and ExecutionOrder surfaces those.
func (m *Manager) Register(ctx context.Context, sourceID, targetID string, depType models.DependencyType, params map[string]any, required bool) (uuid.UUID, error) {
	if sourceID == "" {
		return uuid.Nil, apperrors.NewValidationError("source_id", "must not be empty")
	}
	if targetID == "" {
		return uuid.Nil, apperrors.NewValidationError("target_id", "must not be empty")
	}
	if sourceID == targetID {
		return uuid.Nil, fmt.Errorf("register %s: %w", sourceID, apperrors.ErrSelfDependency)
	}
	if !depType.Valid() {
		return uuid.Nil, apperrors.NewValidationError("type", fmt.Sprintf("unknown dependency type %q", depType))
	}

	key := depKey{sourceID, targetID, depType}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[key]; ok {
		return existing, nil
	}

	now := time.Now()
	dep := &models.Dependency{
		ID:         uuid.New(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       depType,
		Parameters: params,
		Required:   required,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.repo.Create(ctx, dep); err != nil {
		return uuid.Nil, fmt.Errorf("persist dependency: %w", err)
	}

	m.deps[dep.ID] = dep
	m.byKey[key] = dep.ID
	m.graph.AddEdge(Edge{ID: dep.ID, Source: sourceID, Target: targetID, Type: depType})

	m.logger.Info("dependency registered",
		zap.String("dependency_id", dep.ID.String()),
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.String("type", string(depType)),
		zap.Bool("required", required))

	return dep.ID, nil
}

// Remove soft-deletes a dependency. Returns false if the id is unknown or
// already inactive. The edge leaves the live graph; the persisted row
// survives with active=false so lineage is preserved.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep, ok := m.deps[id]
	if !ok {
		return false, nil
	}

	deactivated, err := m.repo.Deactivate(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deactivate dependency: %w", err)
	}
	if !deactivated {
		return false, nil
	}

	m.graph.RemoveEdge(id)
	delete(m.deps, id)
	delete(m.byKey, depKey{dep.SourceID, dep.TargetID, dep.Type})

	m.logger.Info("dependency removed",
		zap.String("dependency_id", id.String()),
		zap.String("source_id", dep.SourceID),
		zap.String("target_id", dep.TargetID))

	return true, nil
}

// DependenciesFor returns the active dependencies of sourceID, optionally
// filtered by type. Results are sorted by target id then type.
func (m *Manager) DependenciesFor(sourceID string, types ...models.DependencyType) []*models.Dependency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dependenciesForLocked(sourceID, types...)
}

func (m *Manager) dependenciesForLocked(sourceID string, types ...models.DependencyType) []*models.Dependency {
	var out []*models.Dependency
	for _, e := range m.graph.EdgesFrom(sourceID) {
		dep := m.deps[e.ID]
		if dep == nil {
			continue
		}
		if len(types) > 0 && !containsType(types, dep.Type) {
			continue
		}
		cp := *dep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// DependentsOf returns the ids of sources that directly depend on
// targetID, optionally filtered by type, sorted ascending.
func (m *Manager) DependentsOf(targetID string, types ...models.DependencyType) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]bool)
	for _, e := range m.graph.EdgesTo(targetID) {
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		set[e.Source] = true
	}
	return sortedKeys(set)
}

func containsType(types []models.DependencyType, t models.DependencyType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Satisfied evaluates every dependency of sourceID against the context
// snapshot. An unsatisfied optional dependency is reported but does not
// flip the overall result. A target absent from the context is treated
// as unsatisfied.
func (m *Manager) Satisfied(sourceID string, sctx models.SatisfactionContext) (bool, []*models.Dependency) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	satisfied := true
	var unsatisfied []*models.Dependency
	for _, dep := range m.dependenciesForLocked(sourceID) {
		if dependencySatisfied(dep, sctx) {
			continue
		}
		unsatisfied = append(unsatisfied, dep)
		if dep.Required {
			satisfied = false
		}
	}
	return satisfied, unsatisfied
}

// dependencySatisfied dispatches the type-specific predicate. The type
// set is closed, so a switch is the whole dispatch mechanism.
func dependencySatisfied(dep *models.Dependency, sctx models.SatisfactionContext) bool {
	state, known := sctx[dep.TargetID]
	if !known {
		return false
	}
	switch dep.Type {
	case models.DependencyTypeData:
		return state.DataAvailable
	case models.DependencyTypeExecution:
		return state.ExecutionComplete
	case models.DependencyTypeResource:
		return state.ResourceAvailable
	case models.DependencyTypeSchema:
		return state.SchemaCompatible
	}
	return false
}

// ExecutionOrder topologically sorts the induced subgraph over the given
// source ids. Ties break by ascending source id, so the order is
// deterministic. An execution-type cycle makes a total order impossible
// and is surfaced as a CycleDetectedError rather than an arbitrary order.
func (m *Manager) ExecutionOrder(sourceIDs []string) ([]string, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	order, cycles := m.graph.TopoSort(sourceIDs)
	if len(cycles) > 0 {
		return nil, &apperrors.CycleDetectedError{Cycles: cycles}
	}
	return order, nil
}

// DetectCycles reports every distinct cycle in the full live graph as an
// ordered, rotation-normalized chain.
func (m *Manager) DetectCycles() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.DetectCycles()
}

// ImpactOf reports which sources are directly and transitively affected
// when sourceID changes or fails.
func (m *Manager) ImpactOf(sourceID string) *models.ImpactReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	direct, transitive := m.graph.Dependents(sourceID)
	return &models.ImpactReport{
		SourceID:             sourceID,
		DirectDependents:     direct,
		TransitiveDependents: transitive,
	}
}
