// Package dimensions selects the performance dimensions an audition evaluates for a role.
package dimensions

import (
	"sort"
	"strings"

	"github.com/jonathan/role-audition/internal/types"
)

// Role families recognized by the default table
const (
	FamilySoftwareEngineering = "Software Engineering"
	FamilyDataAnalytics       = "Data & Analytics"
	FamilyProductManagement   = "Product Management"
	FamilyDesign              = "Design"
	FamilySales               = "Sales"
	FamilyMarketing           = "Marketing"
	FamilyCustomerSuccess     = "Customer Success"
	FamilyCustomerSupport     = "Customer Support"
	FamilyOperations          = "Operations"
	FamilyFinance             = "Finance"
	FamilyPeopleHR            = "People & HR"
	FamilyLegalCompliance     = "Legal & Compliance"
	FamilyGeneralManagement   = "General Management"
	FamilyResearchScience     = "Research & Science"
)

// DefaultBase is used for unknown role families and "Other".
var DefaultBase = []types.Dimension{
	types.DimensionCognitive,
	types.DimensionExecution,
	types.DimensionCommunication,
}

// Table is an immutable role-family to base-dimension lookup.
// Lookups are case-insensitive on the family name.
type Table struct {
	families []string
	names    map[string]string
	bases    map[string][]types.Dimension
}

// NewTable builds a Table from a family -> base mapping. The input is copied.
func NewTable(entries map[string][]types.Dimension) *Table {
	t := &Table{
		names: make(map[string]string, len(entries)),
		bases: make(map[string][]types.Dimension, len(entries)),
	}
	for family, base := range entries {
		key := tableKey(family)
		t.names[key] = family
		t.bases[key] = append([]types.Dimension(nil), base...)
		t.families = append(t.families, family)
	}
	return t
}

// Lookup returns a copy of the base dimensions for a family and whether it was found.
func (t *Table) Lookup(family string) ([]types.Dimension, bool) {
	base, ok := t.bases[tableKey(family)]
	if !ok {
		return nil, false
	}
	return append([]types.Dimension(nil), base...), true
}

// CanonicalName returns the table's spelling of a family name.
func (t *Table) CanonicalName(family string) (string, bool) {
	name, ok := t.names[tableKey(family)]
	return name, ok
}

// Families returns the family names the table was built with, sorted.
func (t *Table) Families() []string {
	families := append([]string(nil), t.families...)
	sort.Strings(families)
	return families
}

func tableKey(family string) string {
	return strings.ToLower(strings.TrimSpace(family))
}

// DefaultTable returns the 14-entry role family table.
func DefaultTable() *Table {
	const (
		cog  = types.DimensionCognitive
		exe  = types.DimensionExecution
		com  = types.DimensionCommunication
		eq   = types.DimensionEmotionalIntelligence
		adap = types.DimensionAdaptability
		jdg  = types.DimensionJudgment
	)
	return NewTable(map[string][]types.Dimension{
		FamilySoftwareEngineering: {cog, exe, com},
		FamilyDataAnalytics:       {cog, exe, jdg},
		FamilyProductManagement:   {jdg, com, cog},
		FamilyDesign:              {cog, com, adap},
		FamilySales:               {com, eq, exe},
		FamilyMarketing:           {com, cog, adap},
		FamilyCustomerSuccess:     {com, eq, exe},
		FamilyCustomerSupport:     {com, eq, adap},
		FamilyOperations:          {exe, jdg, com},
		FamilyFinance:             {cog, jdg, exe},
		FamilyPeopleHR:            {eq, com, jdg},
		FamilyLegalCompliance:     {jdg, cog, com},
		FamilyGeneralManagement:   {jdg, eq, exe},
		FamilyResearchScience:     {cog, adap, com},
	})
}
