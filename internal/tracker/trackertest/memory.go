// Package trackertest provides an in-memory tracker.Store and a conformance
// suite every Store implementation runs.
package trackertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
)

// MemoryStore is a mutex-guarded tracker.Store.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*tracker.Record
	approved map[uuid.UUID]bool

	// FailWrites, when non-nil, is returned by CompleteGeneration.
	FailWrites error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[uuid.UUID]*tracker.Record),
		approved: make(map[uuid.UUID]bool),
	}
}

// SetFailWrites toggles injected CompleteGeneration failures.
func (m *MemoryStore) SetFailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWrites = err
}

// ProjectApproved reports whether ApproveScaffold advanced the project.
func (m *MemoryStore) ProjectApproved(projectID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved[projectID]
}

// Backdate moves a record's start time, for timeout tests.
func (m *MemoryStore) Backdate(roleDefinitionID uuid.UUID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[roleDefinitionID]; ok {
		rec.StartedAt = rec.StartedAt.Add(-d)
	}
}

func (m *MemoryStore) ClaimGeneration(_ context.Context, c tracker.Claim) (*tracker.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[c.RoleDefinitionID]
	switch {
	case !ok:
		rec = &tracker.Record{ProjectID: c.ProjectID, RoleDefinitionID: c.RoleDefinitionID}
		m.records[c.RoleDefinitionID] = rec
	case rec.BankID != c.BankID, c.Force && rec.Status == types.StatusFailed:
	default:
		return copyRecord(rec), false, nil
	}

	rec.ProjectID = c.ProjectID
	rec.BankID = c.BankID
	rec.Status = types.StatusGenerating
	rec.Attempt++
	rec.Dimensions = append([]types.Dimension(nil), c.Dimensions...)
	rec.DimensionJustification = c.DimensionJustification
	rec.Result = nil
	rec.Error = ""
	rec.StartedAt = c.Now
	rec.CompletedAt = nil
	rec.ApprovedAt = nil
	rec.UpdatedAt = c.Now
	return copyRecord(rec), true, nil
}

func (m *MemoryStore) GetScaffold(_ context.Context, roleDefinitionID uuid.UUID) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[roleDefinitionID]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) CompleteGeneration(_ context.Context, key tracker.CycleKey, result *types.ScaffoldResult, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	rec, ok := m.current(key)
	if !ok {
		return false, nil
	}
	r := *result
	rec.Status = types.StatusReady
	rec.Result = &r
	rec.CompletedAt = &now
	rec.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) FailGeneration(_ context.Context, key tracker.CycleKey, message string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.current(key)
	if !ok {
		return false, nil
	}
	rec.Status = types.StatusFailed
	rec.Error = message
	rec.CompletedAt = &now
	rec.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) FindReadyByBankID(_ context.Context, bankID string) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *tracker.Record
	for _, rec := range m.records {
		if rec.BankID == bankID && rec.Status == types.StatusReady && (best == nil || rec.UpdatedAt.After(best.UpdatedAt)) {
			best = rec
		}
	}
	if best == nil {
		return nil, tracker.ErrNotFound
	}
	return copyRecord(best), nil
}

func (m *MemoryStore) ApproveScaffold(_ context.Context, roleDefinitionID uuid.UUID, now time.Time) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[roleDefinitionID]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	if rec.Status != types.StatusReady {
		return nil, tracker.ErrNotReady
	}
	if rec.ApprovedAt == nil {
		rec.ApprovedAt = &now
		rec.UpdatedAt = now
	}
	m.approved[rec.ProjectID] = true
	return copyRecord(rec), nil
}

func (m *MemoryStore) current(key tracker.CycleKey) (*tracker.Record, bool) {
	rec, ok := m.records[key.RoleDefinitionID]
	if !ok || rec.BankID != key.BankID || rec.Attempt != key.Attempt || rec.Status != types.StatusGenerating {
		return nil, false
	}
	return rec, true
}

func copyRecord(rec *tracker.Record) *tracker.Record {
	out := *rec
	out.Dimensions = append([]types.Dimension(nil), rec.Dimensions...)
	if rec.Result != nil {
		r := *rec.Result
		out.Result = &r
	}
	return &out
}
