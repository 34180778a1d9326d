package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/types"
)

var (
	// ErrNotFound is returned when no scaffold exists for a role definition.
	ErrNotFound = errors.New("audition scaffold not found")
	// ErrNotReady is returned when approving a scaffold that is not READY.
	ErrNotReady = errors.New("audition scaffold is not ready")
)

// CycleKey identifies one generation cycle. Completion writes only land when
// the stored record still carries the same key.
type CycleKey struct {
	RoleDefinitionID uuid.UUID
	BankID           string
	Attempt          int
}

func (k CycleKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.RoleDefinitionID, k.BankID, k.Attempt)
}

// Record is the persisted scaffold row, one per role definition.
type Record struct {
	ProjectID              uuid.UUID
	RoleDefinitionID       uuid.UUID
	BankID                 string
	Status                 types.ScaffoldStatus
	Attempt                int
	Dimensions             []types.Dimension
	DimensionJustification string
	Result                 *types.ScaffoldResult
	Error                  string
	StartedAt              time.Time
	CompletedAt            *time.Time
	ApprovedAt             *time.Time
	UpdatedAt              time.Time
}

// Key returns the record's current cycle key.
func (r *Record) Key() CycleKey {
	return CycleKey{RoleDefinitionID: r.RoleDefinitionID, BankID: r.BankID, Attempt: r.Attempt}
}

// Claim asks the store to begin a generation cycle.
type Claim struct {
	ProjectID              uuid.UUID
	RoleDefinitionID       uuid.UUID
	BankID                 string
	Dimensions             []types.Dimension
	DimensionJustification string
	// Force restarts a FAILED record with the same bank_id.
	Force bool
	Now   time.Time
}

// Store persists scaffold records. Implementations must make ClaimGeneration
// atomic: for one role definition, at most one caller observes claimed=true
// per cycle.
type Store interface {
	// ClaimGeneration upserts a GENERATING record keyed by role definition.
	// A new cycle (attempt+1) is claimed when no record exists, when the
	// stored bank_id differs, or when Force is set and the record is FAILED.
	// Otherwise the existing record is returned with claimed=false.
	ClaimGeneration(ctx context.Context, claim Claim) (rec *Record, claimed bool, err error)
	// GetScaffold returns the record for a role definition or ErrNotFound.
	GetScaffold(ctx context.Context, roleDefinitionID uuid.UUID) (*Record, error)
	// CompleteGeneration marks a GENERATING cycle READY. It reports false
	// when the cycle was superseded or already finished.
	CompleteGeneration(ctx context.Context, key CycleKey, result *types.ScaffoldResult, now time.Time) (bool, error)
	// FailGeneration marks a GENERATING cycle FAILED. It reports false when
	// the cycle was superseded or already finished.
	FailGeneration(ctx context.Context, key CycleKey, message string, now time.Time) (bool, error)
	// FindReadyByBankID returns any READY record with bankID, or ErrNotFound.
	FindReadyByBankID(ctx context.Context, bankID string) (*Record, error)
	// ApproveScaffold stamps approved_at on a READY record and advances its
	// project. It returns ErrNotReady for other states.
	ApproveScaffold(ctx context.Context, roleDefinitionID uuid.UUID, now time.Time) (*Record, error)
}

// PersistenceError wraps a store failure. Callers may retry the request;
// completed generation results are kept and saved on the next attempt.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func persistenceErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotReady) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &PersistenceError{Op: op, Cause: err}
}
