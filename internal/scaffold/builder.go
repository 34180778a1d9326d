// Package scaffold builds audition scaffolds from a role definition.
//
// Building is split in two steps. Plan is pure: it merges clarifier answers,
// selects dimensions and derives the bank_id. Generate makes the external
// call and always stamps the planned dimensions over whatever the model
// proposed.
package scaffold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/dimensions"
	"github.com/jonathan/role-audition/internal/llm"
	"github.com/jonathan/role-audition/internal/prompts"
	"github.com/jonathan/role-audition/internal/schemas"
	"github.com/jonathan/role-audition/internal/types"
)

// Plan is everything known about a scaffold before generation.
type Plan struct {
	Definition types.RoleDefinitionData
	Flags      types.RoleContextFlags
	Selection  dimensions.Selection
	BankID     string
}

// Builder produces audition scaffolds.
type Builder struct {
	client   llm.Client
	selector *dimensions.Selector
	tier     llm.ModelTier
	logger   *slog.Logger
}

// NewBuilder creates a Builder. A nil selector uses the default table.
func NewBuilder(client llm.Client, selector *dimensions.Selector, logger *slog.Logger) *Builder {
	if selector == nil {
		selector = dimensions.NewSelector(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		client:   client,
		selector: selector,
		tier:     llm.TierAdvanced,
		logger:   logger,
	}
}

// Plan merges answers into def, fills defaults, selects dimensions and
// computes the bank_id. It makes no external calls.
func (b *Builder) Plan(def types.RoleDefinitionData, flags types.RoleContextFlags, answers map[string]string) Plan {
	merged := MergeClarifiers(def, answers)
	merged.FillDefaults()

	flags.RoleFamily = strings.TrimSpace(flags.RoleFamily)
	if strings.TrimSpace(flags.Seniority) == "" {
		flags.Seniority = types.SeniorityNotSpecified
	}

	selection := b.selector.Select(flags)
	return Plan{
		Definition: merged,
		Flags:      flags,
		Selection:  selection,
		BankID:     Fingerprint(merged, flags, selection.Dimensions),
	}
}

// Generate calls the generation service for plan and returns the validated
// scaffold. Rate-limit and quota errors are returned unchanged; unusable
// responses yield *InvalidResponseError.
func (b *Builder) Generate(ctx context.Context, plan Plan) (*types.ScaffoldResult, error) {
	prompt, err := b.buildPrompt(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to build scaffold prompt: %w", err)
	}

	raw, err := b.client.GenerateJSON(ctx, prompt, b.tier)
	if err != nil {
		err = llm.Classify(err)
		var malformed *llm.MalformedResponseError
		if errors.As(err, &malformed) {
			b.logMalformed(malformed.Message, malformed.Raw)
			return nil, &InvalidResponseError{Reason: "unusable generation response", Cause: err}
		}
		return nil, err
	}

	result, err := b.parseResponse(raw, plan)
	if err != nil {
		return nil, err
	}
	b.logger.Info("scaffold generated",
		"bank_id", plan.BankID,
		"dimensions", types.DimensionLabels(result.ChosenDimensions),
		"questions", len(result.ScaffoldData.Questions))
	return result, nil
}

// Build is Plan followed by Generate.
func (b *Builder) Build(ctx context.Context, def types.RoleDefinitionData, flags types.RoleContextFlags, answers map[string]string) (Plan, *types.ScaffoldResult, error) {
	plan := b.Plan(def, flags, answers)
	result, err := b.Generate(ctx, plan)
	return plan, result, err
}

func (b *Builder) buildPrompt(plan Plan) (string, error) {
	template, err := prompts.Get(prompts.AuditionFile, prompts.KeyGenerateAuditionScaffold)
	if err != nil {
		return "", err
	}
	definitionJSON, err := json.MarshalIndent(plan.Definition, "", "  ")
	if err != nil {
		return "", err
	}
	contextJSON, err := json.MarshalIndent(plan.Flags, "", "  ")
	if err != nil {
		return "", err
	}
	return prompts.Render(template, map[string]string{
		"Dimensions":     strings.Join(types.DimensionLabels(plan.Selection.Dimensions), ", "),
		"Justification":  plan.Selection.Justification,
		"DefinitionJSON": string(definitionJSON),
		"ContextJSON":    string(contextJSON),
		"OutputSchema":   llm.ScaffoldSchema().Describe(),
	})
}

type rawQuestion struct {
	QuestionID   *string  `json:"question_id"`
	Dimension    string   `json:"dimension"`
	ArchetypeID  *string  `json:"archetype_id"`
	QuestionText string   `json:"question_text"`
	QualityScore *float64 `json:"quality_score"`
}

type rawScaffoldData struct {
	Objective    *string       `json:"objective"`
	ContextFrame *string       `json:"context_frame"`
	Inputs       []string      `json:"inputs"`
	Constraints  []string      `json:"constraints"`
	Mechanics    *string       `json:"mechanics"`
	Questions    []rawQuestion `json:"questions"`
}

type rawScaffoldResponse struct {
	ScaffoldData           *rawScaffoldData `json:"scaffold_data"`
	ScaffoldPreviewHTML    *string          `json:"scaffold_preview_html"`
	ChosenDimensions       []string         `json:"chosen_dimensions"`
	DimensionJustification *string          `json:"dimension_justification"`
}

func (b *Builder) parseResponse(raw string, plan Plan) (*types.ScaffoldResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		b.logMalformed("scaffold response is not a JSON object", raw)
		return nil, &InvalidResponseError{
			Reason: "response is not a JSON object",
			Cause:  &llm.MalformedResponseError{Message: "json decode", Raw: raw, Cause: err},
		}
	}
	data, ok := probe["scaffold_data"]
	if !ok || !isObject(data) {
		b.logMalformed("scaffold response has no scaffold_data object", raw)
		return nil, &InvalidResponseError{Reason: "response is missing a scaffold_data object"}
	}

	if err := schemas.ValidateBytes(schemas.ScaffoldResponse, []byte(raw)); err != nil {
		b.logMalformed("scaffold response failed schema validation", raw)
		return nil, &InvalidResponseError{
			Reason: "response did not match the scaffold schema",
			Cause:  &llm.MalformedResponseError{Message: "schema validation", Raw: raw, Cause: err},
		}
	}

	var resp rawScaffoldResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &InvalidResponseError{Reason: "response could not be decoded", Cause: err}
	}

	if proposed := resp.ChosenDimensions; len(proposed) > 0 {
		b.logger.Debug("overriding generated dimensions",
			"bank_id", plan.BankID, "proposed", proposed,
			"selected", types.DimensionLabels(plan.Selection.Dimensions))
	}

	d := resp.ScaffoldData
	result := &types.ScaffoldResult{
		ScaffoldData: types.ScaffoldData{
			Objective:    deref(d.Objective),
			ContextFrame: deref(d.ContextFrame),
			Inputs:       nonEmpty(d.Inputs),
			Constraints:  nonEmpty(d.Constraints),
			Mechanics:    deref(d.Mechanics),
			Questions:    b.normalizeQuestions(d.Questions, plan),
		},
		ScaffoldPreviewHTML:    deref(resp.ScaffoldPreviewHTML),
		ChosenDimensions:       append([]types.Dimension(nil), plan.Selection.Dimensions...),
		DimensionJustification: plan.Selection.Justification,
	}
	return result, nil
}

// normalizeQuestions canonicalizes dimension names, drops questions for
// dimensions outside the plan, fills missing ids and clamps scores to [0,1].
func (b *Builder) normalizeQuestions(in []rawQuestion, plan Plan) []types.Question {
	selected := make(map[types.Dimension]bool, len(plan.Selection.Dimensions))
	for _, d := range plan.Selection.Dimensions {
		selected[d] = true
	}

	out := make([]types.Question, 0, len(in))
	dropped := 0
	for _, q := range in {
		dim, err := types.ParseDimension(q.Dimension)
		if err != nil || !selected[dim] {
			dropped++
			continue
		}
		id := strings.TrimSpace(deref(q.QuestionID))
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, types.Question{
			QuestionID:   id,
			Dimension:    dim,
			ArchetypeID:  strings.TrimSpace(deref(q.ArchetypeID)),
			QuestionText: strings.TrimSpace(q.QuestionText),
			QualityScore: clampScore(q.QualityScore),
		})
	}
	if dropped > 0 {
		b.logger.Warn("dropped questions outside the selected dimensions", "bank_id", plan.BankID, "dropped", dropped)
	}
	return out
}

func (b *Builder) logMalformed(msg, raw string) {
	b.logger.Warn(msg, "payload", llm.TruncateForLog(raw), "payload_len", len(raw))
}

func isObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "{")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampScore(score *float64) float64 {
	switch {
	case score == nil:
		return 0
	case *score < 0:
		return 0
	case *score > 1:
		return 1
	}
	return *score
}
