package types

import (
	"encoding/json"
	"time"
)

// ScaffoldStatus is the lifecycle state of an audition scaffold.
type ScaffoldStatus string

// Scaffold statuses
const (
	StatusGenerating ScaffoldStatus = "GENERATING"
	StatusReady      ScaffoldStatus = "READY"
	StatusFailed     ScaffoldStatus = "FAILED"
)

// Question is a single audition question tied to a dimension.
type Question struct {
	QuestionID   string    `json:"question_id"`
	Dimension    Dimension `json:"dimension"`
	ArchetypeID  string    `json:"archetype_id"`
	QuestionText string    `json:"question_text"`
	QualityScore float64   `json:"quality_score"`
}

// ScaffoldData is the qualitative scaffold content produced by the generation step.
type ScaffoldData struct {
	Objective    string     `json:"objective"`
	ContextFrame string     `json:"context_frame"`
	Inputs       []string   `json:"inputs"`
	Constraints  []string   `json:"constraints"`
	Mechanics    string     `json:"mechanics"`
	Questions    []Question `json:"questions"`
}

// ScaffoldResult is the builder output after the dimension override.
type ScaffoldResult struct {
	ScaffoldData           ScaffoldData `json:"scaffold_data"`
	ScaffoldPreviewHTML    string       `json:"scaffold_preview_html"`
	ChosenDimensions       []Dimension  `json:"chosen_dimensions"`
	DimensionJustification string       `json:"dimension_justification"`
}

// AuditionScaffold is the tracker's view of a project's scaffold.
type AuditionScaffold struct {
	BankID                    string         `json:"bank_id"`
	Status                    ScaffoldStatus `json:"status"`
	Questions                 []Question     `json:"questions,omitempty"`
	CacheHit                  bool           `json:"cache_hit"`
	ElapsedMinutes            float64        `json:"elapsed_minutes"`
	EstimatedRemainingMinutes float64        `json:"estimated_remaining_minutes"`
	Error                     string         `json:"error,omitempty"`

	Dimensions             []Dimension   `json:"chosen_dimensions,omitempty"`
	DimensionJustification string        `json:"dimension_justification,omitempty"`
	ScaffoldData           *ScaffoldData `json:"scaffold_data,omitempty"`
	ScaffoldPreviewHTML    string        `json:"scaffold_preview_html,omitempty"`
	Attempt                int           `json:"attempt,omitempty"`
	ApprovedAt             *time.Time    `json:"approved_at,omitempty"`
}

// MarshalJSON emits only the fields meaningful for the scaffold's status.
func (a AuditionScaffold) MarshalJSON() ([]byte, error) {
	switch a.Status {
	case StatusGenerating:
		return json.Marshal(struct {
			Status                    ScaffoldStatus `json:"status"`
			BankID                    string         `json:"bank_id"`
			ElapsedMinutes            float64        `json:"elapsed_minutes"`
			EstimatedRemainingMinutes float64        `json:"estimated_remaining_minutes"`
			Dimensions                []Dimension    `json:"chosen_dimensions,omitempty"`
		}{a.Status, a.BankID, a.ElapsedMinutes, a.EstimatedRemainingMinutes, a.Dimensions})
	case StatusFailed:
		return json.Marshal(struct {
			Status ScaffoldStatus `json:"status"`
			BankID string         `json:"bank_id,omitempty"`
			Error  string         `json:"error"`
		}{a.Status, a.BankID, a.Error})
	default:
		questions := a.Questions
		if questions == nil {
			questions = []Question{}
		}
		return json.Marshal(struct {
			Status                 ScaffoldStatus `json:"status"`
			BankID                 string         `json:"bank_id"`
			Questions              []Question     `json:"questions"`
			CacheHit               bool           `json:"cache_hit"`
			Dimensions             []Dimension    `json:"chosen_dimensions,omitempty"`
			DimensionJustification string         `json:"dimension_justification,omitempty"`
			ScaffoldData           *ScaffoldData  `json:"scaffold_data,omitempty"`
			ScaffoldPreviewHTML    string         `json:"scaffold_preview_html,omitempty"`
			ApprovedAt             *time.Time     `json:"approved_at,omitempty"`
		}{a.Status, a.BankID, questions, a.CacheHit, a.Dimensions, a.DimensionJustification, a.ScaffoldData, a.ScaffoldPreviewHTML, a.ApprovedAt})
	}
}
