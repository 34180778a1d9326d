// Package types provides type definitions for structured data used throughout the role-audition system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "strings"

// NotSpecified is the literal placed in any role definition field the extraction left empty.
const NotSpecified = "Not specified"

// Seniority levels recognized in context flags
const (
	SeniorityJunior       = "Junior"
	SenioritySenior       = "Senior"
	SeniorityManager      = "Manager"
	SeniorityNotSpecified = NotSpecified
)

// RoleFamilyOther is the catch-all role family
const RoleFamilyOther = "Other"

// RoleContextFlags are the coarse classifiers of a role that drive dimension selection.
type RoleContextFlags struct {
	RoleFamily         string `json:"role_family" validate:"required,max=100"`
	Seniority          string `json:"seniority" validate:"omitempty,oneof=Junior Senior Manager 'Not specified'"`
	IsStartupContext   bool   `json:"is_startup_context"`
	IsPeopleManagement bool   `json:"is_people_management"`
}

// NormalizeSeniority maps free-form seniority text onto the closed seniority set.
func NormalizeSeniority(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "junior", "entry", "entry level", "entry-level":
		return SeniorityJunior
	case "senior", "staff", "principal", "lead":
		return SenioritySenior
	case "manager", "director", "head", "vp", "executive":
		return SeniorityManager
	default:
		return SeniorityNotSpecified
	}
}

// IsSenior reports whether the seniority earns the Judgment modifier.
func (f RoleContextFlags) IsSenior() bool {
	return f.Seniority == SenioritySenior || f.Seniority == SeniorityManager
}

// RoleDefinitionData holds the structured facts extracted from a job description.
type RoleDefinitionData struct {
	RoleTitle       string `json:"role_title"`
	JobSummary      string `json:"job_summary"`
	Goals           string `json:"goals"`
	Stakeholders    string `json:"stakeholders"`
	DecisionHorizon string `json:"decision_horizon"`
	Tools           string `json:"tools"`
	KPIs            string `json:"kpis"`
	Constraints     string `json:"constraints"`
	CognitiveType   string `json:"cognitive_type"`
	TeamTopology    string `json:"team_topology"`
	CulturalTone    string `json:"cultural_tone"`

	// AdditionalContext carries clarifier answers that do not map onto a known field.
	AdditionalContext map[string]string `json:"additional_context,omitempty"`
}

// RoleDefinitionFields lists the JSON names of every definition field in a fixed order.
var RoleDefinitionFields = []string{
	"role_title",
	"job_summary",
	"goals",
	"stakeholders",
	"decision_horizon",
	"tools",
	"kpis",
	"constraints",
	"cognitive_type",
	"team_topology",
	"cultural_tone",
}

// field returns a pointer to the named field, or nil if the name is unknown.
func (d *RoleDefinitionData) field(name string) *string {
	switch name {
	case "role_title":
		return &d.RoleTitle
	case "job_summary":
		return &d.JobSummary
	case "goals":
		return &d.Goals
	case "stakeholders":
		return &d.Stakeholders
	case "decision_horizon":
		return &d.DecisionHorizon
	case "tools":
		return &d.Tools
	case "kpis":
		return &d.KPIs
	case "constraints":
		return &d.Constraints
	case "cognitive_type":
		return &d.CognitiveType
	case "team_topology":
		return &d.TeamTopology
	case "cultural_tone":
		return &d.CulturalTone
	default:
		return nil
	}
}

// Get returns the value of the named field and whether the field exists.
func (d *RoleDefinitionData) Get(name string) (string, bool) {
	if p := d.field(name); p != nil {
		return *p, true
	}
	v, ok := d.AdditionalContext[name]
	return v, ok
}

// Set assigns the named field. Unknown names are kept in AdditionalContext.
func (d *RoleDefinitionData) Set(name, value string) {
	if p := d.field(name); p != nil {
		*p = value
		return
	}
	if d.AdditionalContext == nil {
		d.AdditionalContext = make(map[string]string)
	}
	d.AdditionalContext[name] = value
}

// FillDefaults trims every field and replaces empty ones with NotSpecified.
func (d *RoleDefinitionData) FillDefaults() {
	for _, name := range RoleDefinitionFields {
		p := d.field(name)
		*p = strings.TrimSpace(*p)
		if *p == "" {
			*p = NotSpecified
		}
	}
}

// IsUsable reports whether the definition carries a title or a summary.
func (d *RoleDefinitionData) IsUsable() bool {
	return isSpecified(d.RoleTitle) || isSpecified(d.JobSummary)
}

func isSpecified(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != NotSpecified
}

// ExtractionResult is the output of role definition extraction.
type ExtractionResult struct {
	DefinitionData     RoleDefinitionData `json:"definition_data"`
	ContextFlags       RoleContextFlags   `json:"context_flags"`
	ClarifierQuestions []string           `json:"clarifier_questions"`
}
