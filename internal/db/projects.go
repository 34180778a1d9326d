package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/role-audition/internal/types"
)

const projectColumns = `id, user_id, title, status, role_definition_id, created_at, updated_at`

// CreateProject inserts a draft project owned by userID.
func (db *DB) CreateProject(ctx context.Context, userID uuid.UUID, title string) (*types.Project, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO projects (user_id, title, status)
		 VALUES ($1, $2, $3)
		 RETURNING `+projectColumns,
		userID, title, types.ProjectStatusDraft,
	)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject returns a project by id, or types.ErrProjectNotFound.
func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns a user's projects, newest first.
func (db *DB) ListProjects(ctx context.Context, userID uuid.UUID) ([]types.Project, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Status, &p.RoleDefinitionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
