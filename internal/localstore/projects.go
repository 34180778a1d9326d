package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/types"
)

const projectColumns = `id, user_id, title, status, role_definition_id, created_at, updated_at`

// CreateProject inserts a draft project owned by userID.
func (s *Store) CreateProject(ctx context.Context, userID uuid.UUID, title string) (*types.Project, error) {
	now := formatTime(time.Now())
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), userID.String(), title, types.ProjectStatusDraft, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return s.GetProject(ctx, id)
}

// GetProject returns a project by id, or types.ErrProjectNotFound.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String())
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects returns a user's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, userID uuid.UUID) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY created_at DESC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// SaveRoleDefinition upserts the project's single role definition and moves
// a draft project to role_defined.
func (s *Store) SaveRoleDefinition(ctx context.Context, in types.RoleDefinitionInput) (*types.RoleDefinition, error) {
	defJSON, err := json.Marshal(in.DefinitionData)
	if err != nil {
		return nil, fmt.Errorf("marshaling definition_data: %w", err)
	}
	flagsJSON, err := json.Marshal(in.ContextFlags)
	if err != nil {
		return nil, fmt.Errorf("marshaling context_flags: %w", err)
	}
	questions := in.ClarifierQuestions
	if questions == nil {
		questions = []string{}
	}
	qJSON, _ := json.Marshal(questions)
	answers := in.ClarifierAnswers
	if answers == nil {
		answers = map[string]string{}
	}
	aJSON, _ := json.Marshal(answers)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var projectExists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, in.ProjectID.String()).Scan(&projectExists); err != nil {
		return nil, fmt.Errorf("checking project: %w", err)
	}
	if projectExists == 0 {
		return nil, types.ErrProjectNotFound
	}

	now := formatTime(time.Now())
	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM role_definitions WHERE project_id = ?`, in.ProjectID.String()).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO role_definitions (id, project_id, definition_data, context_flags, clarifier_questions,
				clarifier_answers, confirmed, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.ProjectID.String(), string(defJSON), string(flagsJSON), string(qJSON), string(aJSON), in.Confirmed, now, now)
	case err == nil:
		_, err = tx.ExecContext(ctx,
			`UPDATE role_definitions
			 SET definition_data = ?, context_flags = ?, clarifier_questions = ?, clarifier_answers = ?,
			     confirmed = ?, updated_at = ?
			 WHERE id = ?`,
			string(defJSON), string(flagsJSON), string(qJSON), string(aJSON), in.Confirmed, now, id)
	}
	if err != nil {
		return nil, fmt.Errorf("saving role definition: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE projects
		 SET role_definition_id = ?,
		     status = CASE WHEN status = ? THEN ? ELSE status END,
		     updated_at = ?
		 WHERE id = ?`,
		id, types.ProjectStatusDraft, types.ProjectStatusRoleDefined, now, in.ProjectID.String())
	if err != nil {
		return nil, fmt.Errorf("linking role definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing role definition: %w", err)
	}

	return s.GetRoleDefinition(ctx, uuid.MustParse(id))
}

const roleDefinitionColumns = `id, project_id, definition_data, context_flags, clarifier_questions,
	clarifier_answers, confirmed, created_at, updated_at`

// GetRoleDefinition returns a role definition by id.
func (s *Store) GetRoleDefinition(ctx context.Context, id uuid.UUID) (*types.RoleDefinition, error) {
	return s.queryRoleDefinition(ctx, `SELECT `+roleDefinitionColumns+` FROM role_definitions WHERE id = ?`, id)
}

// GetProjectRoleDefinition returns the definition attached to a project.
func (s *Store) GetProjectRoleDefinition(ctx context.Context, projectID uuid.UUID) (*types.RoleDefinition, error) {
	return s.queryRoleDefinition(ctx, `SELECT `+roleDefinitionColumns+` FROM role_definitions WHERE project_id = ?`, projectID)
}

func (s *Store) queryRoleDefinition(ctx context.Context, query string, id uuid.UUID) (*types.RoleDefinition, error) {
	var (
		rd                         types.RoleDefinition
		rid, pid, def, flags, q, a string
		created, updated           string
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).
		Scan(&rid, &pid, &def, &flags, &q, &a, &rd.Confirmed, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrRoleDefinitionNotFound
		}
		return nil, fmt.Errorf("getting role definition: %w", err)
	}

	if rd.ID, err = uuid.Parse(rid); err != nil {
		return nil, err
	}
	if rd.ProjectID, err = uuid.Parse(pid); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(def), &rd.DefinitionData); err != nil {
		return nil, fmt.Errorf("decoding definition_data: %w", err)
	}
	if err := json.Unmarshal([]byte(flags), &rd.ContextFlags); err != nil {
		return nil, fmt.Errorf("decoding context_flags: %w", err)
	}
	if err := json.Unmarshal([]byte(q), &rd.ClarifierQuestions); err != nil {
		return nil, fmt.Errorf("decoding clarifier_questions: %w", err)
	}
	if rd.ClarifierQuestions == nil {
		rd.ClarifierQuestions = []string{}
	}
	if err := json.Unmarshal([]byte(a), &rd.ClarifierAnswers); err != nil {
		return nil, fmt.Errorf("decoding clarifier_answers: %w", err)
	}
	if rd.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rd.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &rd, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p                types.Project
		id, userID       string
		roleDefID        sql.NullString
		created, updated string
	)
	if err := row.Scan(&id, &userID, &p.Title, &p.Status, &roleDefID, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if p.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	if roleDefID.Valid {
		rid, err := uuid.Parse(roleDefID.String)
		if err != nil {
			return nil, err
		}
		p.RoleDefinitionID = &rid
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}
