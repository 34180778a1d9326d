// Package extraction turns job description text into a structured role definition.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonathan/role-audition/internal/dimensions"
	"github.com/jonathan/role-audition/internal/ingestion"
	"github.com/jonathan/role-audition/internal/llm"
	"github.com/jonathan/role-audition/internal/prompts"
	"github.com/jonathan/role-audition/internal/schemas"
	"github.com/jonathan/role-audition/internal/types"
)

// Length bounds on sanitized job description text, in characters.
const (
	MinJDLength = 50
	MaxJDLength = 10000
)

// MaxClarifierQuestions caps the follow-up questions kept from a response.
const MaxClarifierQuestions = 3

// Extractor runs role definition extraction against a generation client.
type Extractor struct {
	client llm.Client
	table  *dimensions.Table
	tier   llm.ModelTier
	logger *slog.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithTable sets the role-family table used to canonicalize role_family.
func WithTable(t *dimensions.Table) Option {
	return func(e *Extractor) { e.table = t }
}

// WithTier sets the model tier used for extraction.
func WithTier(tier llm.ModelTier) Option {
	return func(e *Extractor) { e.tier = tier }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor.
func NewExtractor(client llm.Client, opts ...Option) *Extractor {
	e := &Extractor{
		client: client,
		table:  dimensions.DefaultTable(),
		tier:   llm.TierStandard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SanitizeJDText cleans raw job description text and enforces the length bounds.
func SanitizeJDText(raw string) (string, error) {
	text := ingestion.CleanText(raw)
	n := ingestion.RuneLength(text)
	switch {
	case n == 0:
		return "", &InputError{Kind: InputEmpty}
	case n < MinJDLength:
		return "", &InputError{Kind: InputTooShort, Length: n, Limit: MinJDLength}
	case n > MaxJDLength:
		return "", &InputError{Kind: InputTooLarge, Length: n, Limit: MaxJDLength}
	}
	return text, nil
}

// Extract sanitizes jdText, asks the generation service for a role definition,
// and normalizes the answer. Every definition field is present in the result,
// with NotSpecified standing in for facts the description leaves out.
func (e *Extractor) Extract(ctx context.Context, jdText string) (*types.ExtractionResult, error) {
	text, err := SanitizeJDText(jdText)
	if err != nil {
		return nil, err
	}

	prompt, err := e.buildPrompt(text)
	if err != nil {
		return nil, &ExtractionFailedError{Reason: "failed to build prompt", Cause: err}
	}

	raw, err := e.client.GenerateJSON(ctx, prompt, e.tier)
	if err != nil {
		err = llm.Classify(err)
		var (
			rateLimited *llm.RateLimitedError
			quota       *llm.QuotaExceededError
			malformed   *llm.MalformedResponseError
		)
		if errors.As(err, &rateLimited) || errors.As(err, &quota) {
			return nil, err
		}
		if errors.As(err, &malformed) {
			e.logMalformed(malformed.Message, malformed.Raw)
		}
		return nil, &ExtractionFailedError{Reason: "generation call failed", Cause: err}
	}

	result, err := e.parseResponse(raw)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("role definition extracted",
		"role_title", result.DefinitionData.RoleTitle,
		"role_family", result.ContextFlags.RoleFamily,
		"seniority", result.ContextFlags.Seniority,
		"clarifiers", len(result.ClarifierQuestions))
	return result, nil
}

func (e *Extractor) buildPrompt(text string) (string, error) {
	template, err := prompts.Get(prompts.AuditionFile, prompts.KeyExtractRoleDefinition)
	if err != nil {
		return "", err
	}
	families := e.table.Families()
	quoted := make([]string, len(families))
	for i, f := range families {
		quoted[i] = strconv.Quote(f)
	}
	return prompts.Render(template, map[string]string{
		"RoleFamilies": strings.Join(quoted, ", "),
		"OutputSchema": llm.RoleDefinitionSchema().Describe(),
		"JDText":       text,
	})
}

// extractionResponse mirrors role_extraction.schema.json. Definition values
// are decoded loosely so extra keys the model adds do not fail the parse.
type extractionResponse struct {
	DefinitionData map[string]any `json:"definition_data"`
	ContextFlags   struct {
		RoleFamily         string  `json:"role_family"`
		Seniority          *string `json:"seniority"`
		IsStartupContext   *bool   `json:"is_startup_context"`
		IsPeopleManagement *bool   `json:"is_people_management"`
	} `json:"context_flags"`
	ClarifierQuestions []string `json:"clarifier_questions"`
}

func (e *Extractor) parseResponse(raw string) (*types.ExtractionResult, error) {
	if err := schemas.ValidateBytes(schemas.RoleExtraction, []byte(raw)); err != nil {
		e.logMalformed("role extraction failed schema validation", raw)
		return nil, &ExtractionFailedError{
			Reason: "response did not match the role definition schema",
			Cause:  &llm.MalformedResponseError{Message: "schema validation", Raw: raw, Cause: err},
		}
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		e.logMalformed("role extraction is not valid JSON", raw)
		return nil, &ExtractionFailedError{
			Reason: "response was not valid JSON",
			Cause:  &llm.MalformedResponseError{Message: "json decode", Raw: raw, Cause: err},
		}
	}

	var def types.RoleDefinitionData
	for _, name := range types.RoleDefinitionFields {
		if s, ok := resp.DefinitionData[name].(string); ok {
			def.Set(name, s)
		}
	}
	if !def.IsUsable() {
		return nil, &ExtractionFailedError{Reason: "response has neither a role title nor a job summary"}
	}
	def.FillDefaults()

	flags := types.RoleContextFlags{
		RoleFamily: e.normalizeFamily(resp.ContextFlags.RoleFamily),
		Seniority:  types.SeniorityNotSpecified,
	}
	if resp.ContextFlags.Seniority != nil {
		flags.Seniority = types.NormalizeSeniority(*resp.ContextFlags.Seniority)
	}
	if resp.ContextFlags.IsStartupContext != nil {
		flags.IsStartupContext = *resp.ContextFlags.IsStartupContext
	}
	if resp.ContextFlags.IsPeopleManagement != nil {
		flags.IsPeopleManagement = *resp.ContextFlags.IsPeopleManagement
	}

	return &types.ExtractionResult{
		DefinitionData:     def,
		ContextFlags:       flags,
		ClarifierQuestions: normalizeQuestions(resp.ClarifierQuestions),
	}, nil
}

// normalizeFamily maps the model's family onto the table's spelling, or Other.
func (e *Extractor) normalizeFamily(family string) string {
	if name, ok := e.table.CanonicalName(family); ok {
		return name
	}
	return types.RoleFamilyOther
}

func normalizeQuestions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == MaxClarifierQuestions {
			break
		}
	}
	return out
}

func (e *Extractor) logMalformed(msg, raw string) {
	e.logger.Warn(msg, "payload", llm.TruncateForLog(raw), "payload_len", len(raw))
}
