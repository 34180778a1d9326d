package scaffold

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jonathan/role-audition/internal/types"
)

// MergeClarifiers returns base patched with clarifier answers. Answers are
// trimmed; a non-empty answer overwrites the field and an empty one is
// ignored. Keys that are not definition fields land in AdditionalContext.
// base is not modified.
func MergeClarifiers(base types.RoleDefinitionData, answers map[string]string) types.RoleDefinitionData {
	merged := base
	if len(base.AdditionalContext) > 0 {
		merged.AdditionalContext = make(map[string]string, len(base.AdditionalContext))
		for k, v := range base.AdditionalContext {
			merged.AdditionalContext[k] = v
		}
	}

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(answers[key])
		name := strings.TrimSpace(key)
		if value == "" || name == "" {
			continue
		}
		merged.Set(name, value)
	}
	return merged
}

// DecodeDefinition parses a definition_data payload. Field values may be
// strings, numbers, booleans, string lists or null; anything else is rejected.
func DecodeDefinition(raw json.RawMessage) (types.RoleDefinitionData, error) {
	var def types.RoleDefinitionData

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return def, ErrDefinitionNotObject
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return def, fmt.Errorf("%w: %w", ErrDefinitionNotObject, err)
	}

	for name, value := range fields {
		if name == "additional_context" {
			continue
		}
		s, err := stringValue(value)
		if err != nil {
			return def, fmt.Errorf("definition_data.%s: %w", name, err)
		}
		def.Set(name, s)
	}

	if extra, ok := fields["additional_context"].(map[string]any); ok {
		for name, value := range extra {
			if s, err := stringValue(value); err == nil && s != "" {
				def.Set(name, s)
			}
		}
	}
	return def, nil
}

func stringValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("list values must be strings")
			}
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), nil
	case map[string]any:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
