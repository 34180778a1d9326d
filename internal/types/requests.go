package types

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// ExtractRequest is the request to extract a role definition from a job description.
// Length bounds are enforced after sanitization by the extractor, not here.
type ExtractRequest struct {
	JDText    string     `json:"jd_text" validate:"required"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
}

// Validate validates the ExtractRequest using the validator.
func (r *ExtractRequest) Validate() error {
	return validate.Struct(r)
}

// BuildScaffoldRequest is the request to build or fetch an audition scaffold from an explicit definition.
type BuildScaffoldRequest struct {
	DefinitionData   json.RawMessage   `json:"definition_data" validate:"required"`
	ContextFlags     RoleContextFlags  `json:"context_flags"`
	ClarifierAnswers map[string]string `json:"clarifier_answers,omitempty"`
	ProjectID        *uuid.UUID        `json:"project_id,omitempty"`
}

// Validate validates the BuildScaffoldRequest using the validator.
func (r *BuildScaffoldRequest) Validate() error {
	return validate.Struct(r)
}

// UpdateRoleDefinitionRequest confirms or edits a project's role definition.
type UpdateRoleDefinitionRequest struct {
	DefinitionData   json.RawMessage   `json:"definition_data" validate:"required"`
	ContextFlags     RoleContextFlags  `json:"context_flags"`
	ClarifierAnswers map[string]string `json:"clarifier_answers,omitempty"`
}

// Validate validates the UpdateRoleDefinitionRequest using the validator.
func (r *UpdateRoleDefinitionRequest) Validate() error {
	return validate.Struct(r)
}

// CreateProjectRequest creates a new vetting project.
type CreateProjectRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// Validate validates the CreateProjectRequest using the validator.
func (r *CreateProjectRequest) Validate() error {
	return validate.Struct(r)
}

var (
	// ErrProjectNotFound is returned when a project does not exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrRoleDefinitionNotFound is returned when a role definition does not exist.
	ErrRoleDefinitionNotFound = errors.New("role definition not found")
)

// Project statuses
const (
	ProjectStatusDraft            = "draft"
	ProjectStatusRoleDefined      = "role_defined"
	ProjectStatusAuditionApproved = "audition_approved"
)

// Project is a candidate-vetting project.
type Project struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	RoleDefinitionID *uuid.UUID `json:"role_definition_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RoleDefinition is a stored role definition owned by a project.
type RoleDefinition struct {
	ID                 uuid.UUID          `json:"id"`
	ProjectID          uuid.UUID          `json:"project_id"`
	DefinitionData     RoleDefinitionData `json:"definition_data"`
	ContextFlags       RoleContextFlags   `json:"context_flags"`
	ClarifierQuestions []string           `json:"clarifier_questions"`
	ClarifierAnswers   map[string]string  `json:"clarifier_answers,omitempty"`
	Confirmed          bool               `json:"confirmed"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// RoleDefinitionInput is the payload a store saves as a project's role definition.
type RoleDefinitionInput struct {
	ProjectID          uuid.UUID
	DefinitionData     RoleDefinitionData
	ContextFlags       RoleContextFlags
	ClarifierQuestions []string
	ClarifierAnswers   map[string]string
	Confirmed          bool
}
