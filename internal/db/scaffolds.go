package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
)

var _ tracker.Store = (*DB)(nil)

const scaffoldColumns = `project_id, role_definition_id, bank_id, status, attempt, dimensions,
	dimension_justification, result, error, started_at, completed_at, approved_at, updated_at`

// ClaimGeneration upserts a GENERATING row. The conflict clause only fires
// for a changed bank_id or a forced restart of a FAILED row, so concurrent
// claims for the same cycle serialize on the row and exactly one sees
// RETURNING produce a row.
func (db *DB) ClaimGeneration(ctx context.Context, c tracker.Claim) (*tracker.Record, bool, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO audition_scaffolds (role_definition_id, project_id, bank_id, status, attempt,
			dimensions, dimension_justification, started_at, updated_at)
		 VALUES ($1, $2, $3, 'GENERATING', 1, $4, $5, $6, $6)
		 ON CONFLICT (role_definition_id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			bank_id = EXCLUDED.bank_id,
			status = 'GENERATING',
			attempt = audition_scaffolds.attempt + 1,
			dimensions = EXCLUDED.dimensions,
			dimension_justification = EXCLUDED.dimension_justification,
			result = NULL,
			error = '',
			started_at = EXCLUDED.started_at,
			completed_at = NULL,
			approved_at = NULL,
			updated_at = EXCLUDED.updated_at
		 WHERE audition_scaffolds.bank_id <> EXCLUDED.bank_id
			OR ($7 AND audition_scaffolds.status = 'FAILED')
		 RETURNING `+scaffoldColumns,
		c.RoleDefinitionID, c.ProjectID, c.BankID, dimensionStrings(c.Dimensions), c.DimensionJustification, c.Now, c.Force,
	)
	rec, err := scanScaffold(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to claim generation: %w", err)
	}

	rec, err = db.GetScaffold(ctx, c.RoleDefinitionID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// GetScaffold returns the scaffold row for a role definition.
func (db *DB) GetScaffold(ctx context.Context, roleDefinitionID uuid.UUID) (*tracker.Record, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds WHERE role_definition_id = $1`, roleDefinitionID)
	rec, err := scanScaffold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scaffold: %w", err)
	}
	return rec, nil
}

// CompleteGeneration stores the result when the cycle is still current.
func (db *DB) CompleteGeneration(ctx context.Context, key tracker.CycleKey, result *types.ScaffoldResult, now time.Time) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal scaffold result: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE audition_scaffolds
		 SET status = 'READY', result = $4, completed_at = $5, updated_at = $5
		 WHERE role_definition_id = $1 AND bank_id = $2 AND attempt = $3 AND status = 'GENERATING'`,
		key.RoleDefinitionID, key.BankID, key.Attempt, resultJSON, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete generation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailGeneration records a terminal failure when the cycle is still current.
func (db *DB) FailGeneration(ctx context.Context, key tracker.CycleKey, message string, now time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE audition_scaffolds
		 SET status = 'FAILED', error = $4, completed_at = $5, updated_at = $5
		 WHERE role_definition_id = $1 AND bank_id = $2 AND attempt = $3 AND status = 'GENERATING'`,
		key.RoleDefinitionID, key.BankID, key.Attempt, message, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record generation failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindReadyByBankID returns the most recently updated READY row for bankID.
func (db *DB) FindReadyByBankID(ctx context.Context, bankID string) (*tracker.Record, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds
		 WHERE bank_id = $1 AND status = 'READY'
		 ORDER BY updated_at DESC
		 LIMIT 1`, bankID)
	rec, err := scanScaffold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find scaffold by bank_id: %w", err)
	}
	return rec, nil
}

// ApproveScaffold stamps approved_at and advances the owning project in one
// transaction. Approving twice keeps the first timestamp.
func (db *DB) ApproveScaffold(ctx context.Context, roleDefinitionID uuid.UUID, now time.Time) (*tracker.Record, error) {
	var rec *tracker.Record
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		current, err := scanScaffold(tx.QueryRow(ctx,
			`SELECT `+scaffoldColumns+` FROM audition_scaffolds WHERE role_definition_id = $1 FOR UPDATE`,
			roleDefinitionID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tracker.ErrNotFound
			}
			return err
		}
		if current.Status != types.StatusReady {
			return tracker.ErrNotReady
		}

		rec, err = scanScaffold(tx.QueryRow(ctx,
			`UPDATE audition_scaffolds
			 SET approved_at = COALESCE(approved_at, $2), updated_at = $2
			 WHERE role_definition_id = $1
			 RETURNING `+scaffoldColumns,
			roleDefinitionID, now))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`,
			rec.ProjectID, types.ProjectStatusAuditionApproved)
		return err
	})
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) || errors.Is(err, tracker.ErrNotReady) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to approve scaffold: %w", err)
	}
	return rec, nil
}

func scanScaffold(row pgx.Row) (*tracker.Record, error) {
	var (
		rec        tracker.Record
		status     string
		dims       []string
		resultJSON []byte
	)
	err := row.Scan(&rec.ProjectID, &rec.RoleDefinitionID, &rec.BankID, &status, &rec.Attempt, &dims,
		&rec.DimensionJustification, &resultJSON, &rec.Error, &rec.StartedAt, &rec.CompletedAt, &rec.ApprovedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = types.ScaffoldStatus(status)
	rec.Dimensions = parseDimensions(dims)
	if len(resultJSON) > 0 {
		var result types.ScaffoldResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to decode scaffold result: %w", err)
		}
		rec.Result = &result
	}
	return &rec, nil
}

func dimensionStrings(dims []types.Dimension) []string {
	out := make([]string, len(dims))
	for i, d := range dims {
		out[i] = string(d)
	}
	return out
}

// parseDimensions keeps stored ids that still parse; rows written before a
// vocabulary change may carry labels.
func parseDimensions(raw []string) []types.Dimension {
	out := make([]types.Dimension, 0, len(raw))
	for _, s := range raw {
		if d, err := types.ParseDimension(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}
