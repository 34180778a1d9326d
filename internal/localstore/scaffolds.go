package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
)

var _ tracker.Store = (*Store)(nil)

const scaffoldColumns = `project_id, role_definition_id, bank_id, status, attempt, dimensions,
	dimension_justification, result, error, started_at, completed_at, approved_at, updated_at`

// ClaimGeneration decides and writes inside one transaction. The store holds
// a single connection, so concurrent claims run one after another.
func (s *Store) ClaimGeneration(ctx context.Context, c tracker.Claim) (*tracker.Record, bool, error) {
	dims, err := json.Marshal(dimensionStrings(c.Dimensions))
	if err != nil {
		return nil, false, fmt.Errorf("marshaling dimensions: %w", err)
	}
	now := formatTime(c.Now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanScaffold(tx.QueryRowContext(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds WHERE role_definition_id = ?`, c.RoleDefinitionID.String()))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audition_scaffolds (role_definition_id, project_id, bank_id, status, attempt,
				dimensions, dimension_justification, started_at, updated_at)
			 VALUES (?, ?, ?, 'GENERATING', 1, ?, ?, ?, ?)`,
			c.RoleDefinitionID.String(), c.ProjectID.String(), c.BankID, string(dims), c.DimensionJustification, now, now)
	case err != nil:
		return nil, false, fmt.Errorf("reading scaffold: %w", err)
	case existing.BankID != c.BankID, c.Force && existing.Status == types.StatusFailed:
		_, err = tx.ExecContext(ctx,
			`UPDATE audition_scaffolds
			 SET project_id = ?, bank_id = ?, status = 'GENERATING', attempt = attempt + 1,
			     dimensions = ?, dimension_justification = ?, result = NULL, error = '',
			     started_at = ?, completed_at = NULL, approved_at = NULL, updated_at = ?
			 WHERE role_definition_id = ?`,
			c.ProjectID.String(), c.BankID, string(dims), c.DimensionJustification, now, now, c.RoleDefinitionID.String())
	default:
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claiming generation: %w", err)
	}

	rec, err := scanScaffold(tx.QueryRowContext(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds WHERE role_definition_id = ?`, c.RoleDefinitionID.String()))
	if err != nil {
		return nil, false, fmt.Errorf("reading claimed scaffold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing claim: %w", err)
	}
	return rec, true, nil
}

// GetScaffold returns the scaffold row for a role definition.
func (s *Store) GetScaffold(ctx context.Context, roleDefinitionID uuid.UUID) (*tracker.Record, error) {
	rec, err := scanScaffold(s.db.QueryRowContext(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds WHERE role_definition_id = ?`, roleDefinitionID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("getting scaffold: %w", err)
	}
	return rec, nil
}

// CompleteGeneration stores the result when the cycle is still current.
func (s *Store) CompleteGeneration(ctx context.Context, key tracker.CycleKey, result *types.ScaffoldResult, now time.Time) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshaling scaffold result: %w", err)
	}
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE audition_scaffolds
		 SET status = 'READY', result = ?, completed_at = ?, updated_at = ?
		 WHERE role_definition_id = ? AND bank_id = ? AND attempt = ? AND status = 'GENERATING'`,
		string(resultJSON), ts, ts, key.RoleDefinitionID.String(), key.BankID, key.Attempt)
	if err != nil {
		return false, fmt.Errorf("completing generation: %w", err)
	}
	return affectedOne(res)
}

// FailGeneration records a terminal failure when the cycle is still current.
func (s *Store) FailGeneration(ctx context.Context, key tracker.CycleKey, message string, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE audition_scaffolds
		 SET status = 'FAILED', error = ?, completed_at = ?, updated_at = ?
		 WHERE role_definition_id = ? AND bank_id = ? AND attempt = ? AND status = 'GENERATING'`,
		message, ts, ts, key.RoleDefinitionID.String(), key.BankID, key.Attempt)
	if err != nil {
		return false, fmt.Errorf("recording generation failure: %w", err)
	}
	return affectedOne(res)
}

// FindReadyByBankID returns the most recently updated READY row for bankID.
func (s *Store) FindReadyByBankID(ctx context.Context, bankID string) (*tracker.Record, error) {
	rec, err := scanScaffold(s.db.QueryRowContext(ctx,
		`SELECT `+scaffoldColumns+` FROM audition_scaffolds
		 WHERE bank_id = ? AND status = 'READY'
		 ORDER BY updated_at DESC
		 LIMIT 1`, bankID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("finding scaffold by bank_id: %w", err)
	}
	return rec, nil
}

// ApproveScaffold stamps approved_at and advances the owning project.
func (s *Store) ApproveScaffold(ctx context.Context, roleDefinitionID uuid.UUID, now time.Time) (*tracker.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning approval: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + scaffoldColumns + ` FROM audition_scaffolds WHERE role_definition_id = ?`
	rec, err := scanScaffold(tx.QueryRowContext(ctx, query, roleDefinitionID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracker.ErrNotFound
		}
		return nil, fmt.Errorf("reading scaffold: %w", err)
	}
	if rec.Status != types.StatusReady {
		return nil, tracker.ErrNotReady
	}

	ts := formatTime(now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE audition_scaffolds SET approved_at = COALESCE(approved_at, ?), updated_at = ? WHERE role_definition_id = ?`,
		ts, ts, roleDefinitionID.String()); err != nil {
		return nil, fmt.Errorf("approving scaffold: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		types.ProjectStatusAuditionApproved, ts, rec.ProjectID.String()); err != nil {
		return nil, fmt.Errorf("advancing project: %w", err)
	}

	rec, err = scanScaffold(tx.QueryRowContext(ctx, query, roleDefinitionID.String()))
	if err != nil {
		return nil, fmt.Errorf("reading approved scaffold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}
	return rec, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanScaffold(row rowScanner) (*tracker.Record, error) {
	var (
		rec                  tracker.Record
		projectID, roleDefID string
		status, dims         string
		result               sql.NullString
		started, updated     string
		completed, approved  sql.NullString
	)
	err := row.Scan(&projectID, &roleDefID, &rec.BankID, &status, &rec.Attempt, &dims,
		&rec.DimensionJustification, &result, &rec.Error, &started, &completed, &approved, &updated)
	if err != nil {
		return nil, err
	}

	if rec.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, err
	}
	if rec.RoleDefinitionID, err = uuid.Parse(roleDefID); err != nil {
		return nil, err
	}
	rec.Status = types.ScaffoldStatus(status)

	var raw []string
	if err := json.Unmarshal([]byte(dims), &raw); err != nil {
		return nil, fmt.Errorf("decoding dimensions: %w", err)
	}
	rec.Dimensions = make([]types.Dimension, 0, len(raw))
	for _, s := range raw {
		if d, err := types.ParseDimension(s); err == nil {
			rec.Dimensions = append(rec.Dimensions, d)
		}
	}

	if result.Valid && result.String != "" {
		var r types.ScaffoldResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decoding scaffold result: %w", err)
		}
		rec.Result = &r
	}

	if rec.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	if rec.ApprovedAt, err = parseNullTime(approved); err != nil {
		return nil, err
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
