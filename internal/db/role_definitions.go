package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/role-audition/internal/types"
)

const roleDefinitionColumns = `id, project_id, definition_data, context_flags, clarifier_questions,
	clarifier_answers, confirmed, created_at, updated_at`

// SaveRoleDefinition upserts the project's role definition and moves the
// project to role_defined. A project holds one definition; saving again
// replaces its contents and keeps its id.
func (db *DB) SaveRoleDefinition(ctx context.Context, in types.RoleDefinitionInput) (*types.RoleDefinition, error) {
	defJSON, err := json.Marshal(in.DefinitionData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition_data: %w", err)
	}
	flagsJSON, err := json.Marshal(in.ContextFlags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context_flags: %w", err)
	}
	questions := in.ClarifierQuestions
	if questions == nil {
		questions = []string{}
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clarifier_questions: %w", err)
	}
	answers := in.ClarifierAnswers
	if answers == nil {
		answers = map[string]string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clarifier_answers: %w", err)
	}

	var rd *types.RoleDefinition
	err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO role_definitions (project_id, definition_data, context_flags, clarifier_questions, clarifier_answers, confirmed)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (project_id) DO UPDATE SET
				definition_data = EXCLUDED.definition_data,
				context_flags = EXCLUDED.context_flags,
				clarifier_questions = EXCLUDED.clarifier_questions,
				clarifier_answers = EXCLUDED.clarifier_answers,
				confirmed = EXCLUDED.confirmed,
				updated_at = NOW()
			 RETURNING `+roleDefinitionColumns,
			in.ProjectID, defJSON, flagsJSON, questionsJSON, answersJSON, in.Confirmed,
		)
		var err error
		rd, err = scanRoleDefinition(row)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE projects
			 SET role_definition_id = $2,
			     status = CASE WHEN status = $3 THEN $4 ELSE status END,
			     updated_at = NOW()
			 WHERE id = $1`,
			in.ProjectID, rd.ID, types.ProjectStatusDraft, types.ProjectStatusRoleDefined,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return types.ErrProjectNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrProjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save role definition: %w", err)
	}
	return rd, nil
}

// GetRoleDefinition returns a role definition by id, or types.ErrRoleDefinitionNotFound.
func (db *DB) GetRoleDefinition(ctx context.Context, id uuid.UUID) (*types.RoleDefinition, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+roleDefinitionColumns+` FROM role_definitions WHERE id = $1`, id)
	rd, err := scanRoleDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrRoleDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to get role definition: %w", err)
	}
	return rd, nil
}

// GetProjectRoleDefinition returns the definition attached to a project, or
// types.ErrRoleDefinitionNotFound when the project has none.
func (db *DB) GetProjectRoleDefinition(ctx context.Context, projectID uuid.UUID) (*types.RoleDefinition, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+roleDefinitionColumns+` FROM role_definitions WHERE project_id = $1`, projectID)
	rd, err := scanRoleDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrRoleDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to get project role definition: %w", err)
	}
	return rd, nil
}

func scanRoleDefinition(row pgx.Row) (*types.RoleDefinition, error) {
	var (
		rd                                 types.RoleDefinition
		defJSON, flagsJSON, qJSON, ansJSON []byte
	)
	err := row.Scan(&rd.ID, &rd.ProjectID, &defJSON, &flagsJSON, &qJSON, &ansJSON, &rd.Confirmed, &rd.CreatedAt, &rd.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeRoleDefinitionJSON(&rd, defJSON, flagsJSON, qJSON, ansJSON); err != nil {
		return nil, err
	}
	return &rd, nil
}

func decodeRoleDefinitionJSON(rd *types.RoleDefinition, def, flags, questions, answers []byte) error {
	if err := json.Unmarshal(def, &rd.DefinitionData); err != nil {
		return fmt.Errorf("failed to decode definition_data: %w", err)
	}
	if err := json.Unmarshal(flags, &rd.ContextFlags); err != nil {
		return fmt.Errorf("failed to decode context_flags: %w", err)
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &rd.ClarifierQuestions); err != nil {
			return fmt.Errorf("failed to decode clarifier_questions: %w", err)
		}
	}
	if rd.ClarifierQuestions == nil {
		rd.ClarifierQuestions = []string{}
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &rd.ClarifierAnswers); err != nil {
			return fmt.Errorf("failed to decode clarifier_answers: %w", err)
		}
	}
	return nil
}
