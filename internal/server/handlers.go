package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/server/middleware"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
)

const untitledProject = "Untitled role"

// ExtractResponse is the response for /role-definitions/extract
type ExtractResponse struct {
	types.ExtractionResult
	ProjectID        *uuid.UUID `json:"project_id,omitempty"`
	RoleDefinitionID *uuid.UUID `json:"role_definition_id,omitempty"`
}

// handleExtract extracts a role definition and optionally stores it on a project.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req types.ExtractRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, r, validationError(err))
		return
	}

	var project *types.Project
	if req.ProjectID != nil {
		p, err := s.ownedProject(r, *req.ProjectID)
		if err != nil {
			s.errorResponse(w, r, err)
			return
		}
		project = p
	}

	result, err := s.extractor.Extract(r.Context(), req.JDText)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	resp := ExtractResponse{ExtractionResult: *result}
	if project != nil {
		rd, err := s.store.SaveRoleDefinition(r.Context(), types.RoleDefinitionInput{
			ProjectID:          project.ID,
			DefinitionData:     result.DefinitionData,
			ContextFlags:       result.ContextFlags,
			ClarifierQuestions: result.ClarifierQuestions,
		})
		if err != nil {
			s.errorResponse(w, r, &tracker.PersistenceError{Op: "save role definition", Cause: err})
			return
		}
		resp.ProjectID = &project.ID
		resp.RoleDefinitionID = &rd.ID
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleCreateProject creates a draft project for the caller.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	var req types.CreateProjectRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, r, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := req.Validate(); err != nil {
		s.errorResponse(w, r, validationError(err))
		return
	}

	project, err := s.store.CreateProject(r.Context(), userID, req.Title)
	if err != nil {
		s.errorResponse(w, r, &tracker.PersistenceError{Op: "create project", Cause: err})
		return
	}
	w.Header().Set("Location", "/projects/"+project.ID.String())
	s.jsonResponse(w, http.StatusCreated, project)
}

// handleListProjects lists the caller's projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	projects, err := s.store.ListProjects(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.pathProject(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, project)
}

func (s *Server) handleGetRoleDefinition(w http.ResponseWriter, r *http.Request) {
	project, err := s.pathProject(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	rd, err := s.store.GetProjectRoleDefinition(r.Context(), project.ID)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rd)
}

// handleUpdateRoleDefinition stores the user's edited definition and merges
// new clarifier answers into the ones already stored.
func (s *Server) handleUpdateRoleDefinition(w http.ResponseWriter, r *http.Request) {
	project, err := s.pathProject(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	var req types.UpdateRoleDefinitionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, r, err)
		return
	}
	req.ContextFlags = normalizeFlags(req.ContextFlags)
	if err := req.Validate(); err != nil {
		s.errorResponse(w, r, validationError(err))
		return
	}
	def, err := decodeDefinition(req.DefinitionData)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	rd, err := s.saveConfirmed(r, project.ID, def, req.ContextFlags, req.ClarifierAnswers)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rd)
}

// handleBuildScaffold stores an explicit definition, creating a project when
// none is named, and fetches or starts its audition scaffold.
func (s *Server) handleBuildScaffold(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	var req types.BuildScaffoldRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, r, err)
		return
	}
	req.ContextFlags = normalizeFlags(req.ContextFlags)
	if err := req.Validate(); err != nil {
		s.errorResponse(w, r, validationError(err))
		return
	}
	def, err := decodeDefinition(req.DefinitionData)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	var project *types.Project
	if req.ProjectID != nil {
		project, err = s.ownedProject(r, *req.ProjectID)
	} else {
		project, err = s.store.CreateProject(r.Context(), userID, projectTitle(def))
		if err != nil {
			err = &tracker.PersistenceError{Op: "create project", Cause: err}
		}
	}
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	rd, err := s.saveConfirmed(r, project.ID, def, req.ContextFlags, req.ClarifierAnswers)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	view, err := s.scaffolds.GetOrStart(r.Context(), scaffoldRequest(rd))
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+project.ID.String()+"/audition")
	s.scaffoldResponse(w, view)
}

// handleStartAudition fetches the project's scaffold, starting generation
// when nothing exists for the current definition.
func (s *Server) handleStartAudition(w http.ResponseWriter, r *http.Request) {
	rd, err := s.pathRoleDefinition(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	view, err := s.scaffolds.GetOrStart(r.Context(), scaffoldRequest(rd))
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.scaffoldResponse(w, view)
}

func (s *Server) handleRetryAudition(w http.ResponseWriter, r *http.Request) {
	rd, err := s.pathRoleDefinition(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	view, err := s.scaffolds.Retry(r.Context(), scaffoldRequest(rd))
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.scaffoldResponse(w, view)
}

func (s *Server) handleApproveAudition(w http.ResponseWriter, r *http.Request) {
	rd, err := s.pathRoleDefinition(r)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	view, err := s.scaffolds.Approve(r.Context(), rd.ID)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// scaffoldResponse answers 202 while generation is running.
func (s *Server) scaffoldResponse(w http.ResponseWriter, view *types.AuditionScaffold) {
	status := http.StatusOK
	if view.Status == types.StatusGenerating {
		status = http.StatusAccepted
	}
	s.jsonResponse(w, status, view)
}

// saveConfirmed stores a user-confirmed definition, keeping the clarifier
// questions and answers already on the project.
func (s *Server) saveConfirmed(r *http.Request, projectID uuid.UUID, def types.RoleDefinitionData, flags types.RoleContextFlags, answers map[string]string) (*types.RoleDefinition, error) {
	in := types.RoleDefinitionInput{
		ProjectID:      projectID,
		DefinitionData: def,
		ContextFlags:   flags,
		Confirmed:      true,
	}

	existing, err := s.store.GetProjectRoleDefinition(r.Context(), projectID)
	switch {
	case err == nil:
		in.ClarifierQuestions = existing.ClarifierQuestions
		in.ClarifierAnswers = mergeAnswers(existing.ClarifierAnswers, answers)
	case errors.Is(err, types.ErrRoleDefinitionNotFound):
		in.ClarifierAnswers = mergeAnswers(nil, answers)
	default:
		return nil, err
	}

	rd, err := s.store.SaveRoleDefinition(r.Context(), in)
	if err != nil {
		if errors.Is(err, types.ErrProjectNotFound) {
			return nil, err
		}
		return nil, &tracker.PersistenceError{Op: "save role definition", Cause: err}
	}
	return rd, nil
}

// ownedProject loads a project the caller owns. Projects of other users are
// reported as missing.
func (s *Server) ownedProject(r *http.Request, id uuid.UUID) (*types.Project, error) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, types.ErrProjectNotFound
	}
	return project, nil
}

func (s *Server) pathProject(r *http.Request) (*types.Project, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, &ErrValidation{Field: "id", Message: "must be a UUID"}
	}
	return s.ownedProject(r, id)
}

func (s *Server) pathRoleDefinition(r *http.Request) (*types.RoleDefinition, error) {
	project, err := s.pathProject(r)
	if err != nil {
		return nil, err
	}
	return s.store.GetProjectRoleDefinition(r.Context(), project.ID)
}

// decodeJSON reads a size-limited JSON body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &ErrPayloadTooLarge{Limit: maxErr.Limit}
		}
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// validationError reports the first failed field of a validator error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ErrValidation{Field: fieldPath(fe.Namespace()), Message: msg}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// fieldPath turns "BuildScaffoldRequest.ContextFlags.RoleFamily" into
// "ContextFlags.RoleFamily".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// decodeDefinition reports any unusable definition_data as a validation error.
func decodeDefinition(raw json.RawMessage) (types.RoleDefinitionData, error) {
	def, err := scaffold.DecodeDefinition(raw)
	if err != nil {
		return def, &ErrValidation{Field: "definition_data", Message: err.Error()}
	}
	return def, nil
}

func normalizeFlags(flags types.RoleContextFlags) types.RoleContextFlags {
	flags.RoleFamily = strings.TrimSpace(flags.RoleFamily)
	if flags.RoleFamily == "" {
		flags.RoleFamily = types.RoleFamilyOther
	}
	flags.Seniority = types.NormalizeSeniority(flags.Seniority)
	return flags
}

func mergeAnswers(stored, incoming map[string]string) map[string]string {
	out := make(map[string]string, len(stored)+len(incoming))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func projectTitle(def types.RoleDefinitionData) string {
	title := strings.TrimSpace(def.RoleTitle)
	if title == "" || title == types.NotSpecified {
		return untitledProject
	}
	if r := []rune(title); len(r) > 200 {
		title = string(r[:200])
	}
	return title
}

func scaffoldRequest(rd *types.RoleDefinition) tracker.Request {
	return tracker.Request{
		ProjectID:        rd.ProjectID,
		RoleDefinitionID: rd.ID,
		Definition:       rd.DefinitionData,
		Flags:            rd.ContextFlags,
		Answers:          rd.ClarifierAnswers,
	}
}
