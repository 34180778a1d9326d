package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Dimension is a performance dimension evaluated by an audition.
// The string value is the canonical internal id.
type Dimension string

// Canonical dimension ids
const (
	DimensionCognitive             Dimension = "cognitive"
	DimensionExecution             Dimension = "execution"
	DimensionCommunication         Dimension = "communication"
	DimensionEmotionalIntelligence Dimension = "emotional_intelligence"
	DimensionAdaptability          Dimension = "adaptability"
	DimensionJudgment              Dimension = "judgment"
)

// AllDimensions lists every dimension in fallback order.
var AllDimensions = []Dimension{
	DimensionCognitive,
	DimensionExecution,
	DimensionCommunication,
	DimensionJudgment,
	DimensionAdaptability,
	DimensionEmotionalIntelligence,
}

var dimensionLabels = map[Dimension]string{
	DimensionCognitive:             "Cognitive",
	DimensionExecution:             "Execution",
	DimensionCommunication:         "Communication",
	DimensionEmotionalIntelligence: "Emotional Intelligence",
	DimensionAdaptability:          "Adaptability",
	DimensionJudgment:              "Judgment",
}

// dimensionSynonyms maps lowercased display-layer names onto canonical ids.
var dimensionSynonyms = map[string]Dimension{
	"communication_collaboration":   DimensionCommunication,
	"communication & collaboration": DimensionCommunication,
	"emotional intelligence":        DimensionEmotionalIntelligence,
	"eq":                            DimensionEmotionalIntelligence,
	"judgement":                     DimensionJudgment,
}

// Label returns the display name for the dimension.
func (d Dimension) Label() string {
	if label, ok := dimensionLabels[d]; ok {
		return label
	}
	return string(d)
}

// String implements fmt.Stringer.
func (d Dimension) String() string {
	return d.Label()
}

// Valid reports whether d is one of the canonical dimensions.
func (d Dimension) Valid() bool {
	_, ok := dimensionLabels[d]
	return ok
}

// IsHighObservability reports whether the dimension is easy to assess from work artifacts.
func (d Dimension) IsHighObservability() bool {
	return d == DimensionCognitive || d == DimensionExecution || d == DimensionCommunication
}

// ParseDimension resolves a canonical id, display label, or known synonym.
func ParseDimension(s string) (Dimension, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d := Dimension(key); d.Valid() {
		return d, nil
	}
	if d, ok := dimensionSynonyms[key]; ok {
		return d, nil
	}
	for d, label := range dimensionLabels {
		if strings.EqualFold(label, key) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// UnmarshalJSON accepts any recognized spelling and stores the canonical id.
func (d *Dimension) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDimension(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DimensionLabels returns the display labels for a list of dimensions.
func DimensionLabels(dims []Dimension) []string {
	labels := make([]string, len(dims))
	for i, d := range dims {
		labels[i] = d.Label()
	}
	return labels
}
