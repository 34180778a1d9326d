package llm

import (
	"fmt"
	"strings"
)

// OutputSchema describes the JSON object a generation prompt asks for.
// It is rendered into prompts so the model sees every expected field.
type OutputSchema struct {
	Name   string
	Fields []SchemaField
}

// SchemaField defines a single field in the expected output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint rendered verbatim, e.g. "string", ["string"]
	Description string // Description for the model
	Required    bool
}

// Describe renders the schema as an annotated JSON skeleton.
func (s OutputSchema) Describe() string {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, field := range s.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = `"string"`
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  %q: %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(s.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}

// RoleDefinitionSchema is the output shape of role definition extraction.
func RoleDefinitionSchema() OutputSchema {
	return OutputSchema{
		Name: "RoleDefinition",
		Fields: []SchemaField{
			{
				Name: "definition_data",
				Type: `{"role_title": "string", "job_summary": "string", "goals": "string", "stakeholders": "string", ` +
					`"decision_horizon": "string", "tools": "string", "kpis": "string", "constraints": "string", ` +
					`"cognitive_type": "string", "team_topology": "string", "cultural_tone": "string"}`,
				Description: `Facts stated in the job description; use "Not specified" when the text is silent`,
				Required:    true,
			},
			{
				Name: "context_flags",
				Type: `{"role_family": "string", "seniority": "string", "is_startup_context": bool, "is_people_management": bool}`,
				Description: "role_family is one of the listed families or \"Other\"; " +
					"seniority is one of Junior, Senior, Manager, \"Not specified\"",
				Required: true,
			},
			{
				Name:        "clarifier_questions",
				Type:        `["string"]`,
				Description: "Up to 3 short questions for facts the description leaves out; empty when nothing is missing",
				Required:    true,
			},
		},
	}
}

// ScaffoldSchema is the output shape of audition scaffold generation.
func ScaffoldSchema() OutputSchema {
	return OutputSchema{
		Name: "AuditionScaffold",
		Fields: []SchemaField{
			{
				Name: "scaffold_data",
				Type: `{"objective": "string", "context_frame": "string", "inputs": ["string"], "constraints": ["string"], ` +
					`"mechanics": "string", "questions": [{"dimension": "string", "archetype_id": "string", ` +
					`"question_text": "string", "quality_score": number}]}`,
				Description: "The audition outline; every question targets one of the given dimensions",
				Required:    true,
			},
			{
				Name:        "scaffold_preview_html",
				Type:        `"string"`,
				Description: "A short HTML preview of the audition for the hiring manager",
			},
			{
				Name:        "chosen_dimensions",
				Type:        `["string"]`,
				Description: "Echo of the dimensions you were given",
			},
			{
				Name:        "dimension_justification",
				Type:        `"string"`,
				Description: "One sentence on why the dimensions fit the role",
			},
		},
	}
}
