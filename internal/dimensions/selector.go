package dimensions

import (
	"fmt"
	"strings"

	"github.com/jonathan/role-audition/internal/types"
)

const (
	minDimensions = 3
	maxDimensions = 4
	// minHighObservability is the floor of Cognitive/Execution/Communication members.
	minHighObservability = 2
)

// genericFamilyLabel names the family in justifications when the input family is not in the table.
const genericFamilyLabel = "general"

// Modifier notes recorded in the justification
const (
	noteSenior           = "Judgment because the role is senior"
	noteStartup          = "Adaptability for the startup context"
	notePeopleManagement = "Emotional Intelligence to reflect people leadership"
)

// Selection is the result of dimension selection.
type Selection struct {
	Dimensions    []types.Dimension `json:"dimensions"`
	Justification string            `json:"justification"`
	// Base is the family's base set before modifiers and floors.
	Base []types.Dimension `json:"base"`
	// FamilyMatched is false when the family fell back to the default base.
	FamilyMatched bool     `json:"family_matched"`
	Modifiers     []string `json:"modifiers,omitempty"`
}

// Selector maps role context flags onto 3-4 performance dimensions.
// It is a pure function of its table and input.
type Selector struct {
	table *Table
}

// NewSelector creates a selector over the given table. A nil table uses DefaultTable.
func NewSelector(table *Table) *Selector {
	if table == nil {
		table = DefaultTable()
	}
	return &Selector{table: table}
}

// Select computes the ordered dimension set and its justification.
func (s *Selector) Select(flags types.RoleContextFlags) Selection {
	base, matched := s.table.Lookup(flags.RoleFamily)
	familyLabel := genericFamilyLabel
	if matched {
		familyLabel, _ = s.table.CanonicalName(flags.RoleFamily)
	} else {
		base = append([]types.Dimension(nil), DefaultBase...)
	}

	expanded := append([]types.Dimension(nil), base...)
	var modifiers []string

	if flags.IsSenior() {
		expanded = append(expanded, types.DimensionJudgment)
		modifiers = append(modifiers, noteSenior)
	}
	if flags.IsStartupContext {
		expanded = append(expanded, types.DimensionAdaptability)
		modifiers = append(modifiers, noteStartup)
	}
	if flags.IsPeopleManagement {
		expanded = append(expanded, types.DimensionEmotionalIntelligence)
		modifiers = append(modifiers, notePeopleManagement)
	}

	final := dedupe(expanded)
	final = applyObservabilityFloor(final)
	final = applyMinimumSize(final)
	final = applyMaximumSize(final)

	return Selection{
		Dimensions:    final,
		Justification: justification(familyLabel, base, modifiers),
		Base:          base,
		FamilyMatched: matched,
		Modifiers:     modifiers,
	}
}

// Select runs the default selector.
func Select(flags types.RoleContextFlags) Selection {
	return NewSelector(nil).Select(flags)
}

func dedupe(dims []types.Dimension) []types.Dimension {
	seen := make(map[types.Dimension]bool, len(dims))
	out := make([]types.Dimension, 0, len(dims))
	for _, d := range dims {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func contains(dims []types.Dimension, d types.Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}

func countHighObservability(dims []types.Dimension) int {
	n := 0
	for _, d := range dims {
		if d.IsHighObservability() {
			n++
		}
	}
	return n
}

// missingBase returns the first default-base dimension not present in dims.
func missingBase(dims []types.Dimension) (types.Dimension, bool) {
	for _, d := range DefaultBase {
		if !contains(dims, d) {
			return d, true
		}
	}
	return "", false
}

func applyObservabilityFloor(dims []types.Dimension) []types.Dimension {
	for countHighObservability(dims) < minHighObservability {
		d, ok := missingBase(dims)
		if !ok {
			break
		}
		dims = append(dims, d)
	}
	return dims
}

func applyMinimumSize(dims []types.Dimension) []types.Dimension {
	for _, d := range types.AllDimensions {
		if len(dims) >= minDimensions {
			break
		}
		if !contains(dims, d) {
			dims = append(dims, d)
		}
	}
	return dims
}

func applyMaximumSize(dims []types.Dimension) []types.Dimension {
	for len(dims) > maxDimensions {
		removed := false
		for i := len(dims) - 1; i >= 0; i-- {
			if !dims[i].IsHighObservability() {
				dims = append(dims[:i], dims[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			dims = dims[:len(dims)-1]
		}
	}

	// Trimming may only have popped high-observability members when nothing else was left;
	// swap missing ones back in over the last non-high-observability entries.
	for countHighObservability(dims) < minHighObservability {
		d, ok := missingBase(dims)
		if !ok {
			break
		}
		swapped := false
		for i := len(dims) - 1; i >= 0; i-- {
			if !dims[i].IsHighObservability() {
				dims[i] = d
				swapped = true
				break
			}
		}
		if !swapped {
			break
		}
	}
	return dims
}

func justification(familyLabel string, base []types.Dimension, modifiers []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Based on the %s role family, we are prioritizing %s.",
		familyLabel, strings.Join(types.DimensionLabels(base), ", ")))
	if len(modifiers) > 0 {
		sb.WriteString(fmt.Sprintf(" We added %s.", strings.Join(modifiers, " and ")))
	}
	return sb.String()
}
