package dimensions

import (
	"testing"

	"github.com/jonathan/role-audition/internal/types"
	"pgregory.net/rapid"
)

func drawFlags(rt *rapid.T) types.RoleContextFlags {
	families := append(DefaultTable().Families(), types.RoleFamilyOther, "NotARealFamily", "")
	family := rapid.OneOf(
		rapid.SampledFrom(families),
		rapid.StringMatching(`[A-Za-z &]{0,20}`),
	).Draw(rt, "role_family")

	return types.RoleContextFlags{
		RoleFamily: family,
		Seniority: rapid.SampledFrom([]string{
			types.SeniorityJunior,
			types.SenioritySenior,
			types.SeniorityManager,
			types.SeniorityNotSpecified,
		}).Draw(rt, "seniority"),
		IsStartupContext:   rapid.Bool().Draw(rt, "is_startup_context"),
		IsPeopleManagement: rapid.Bool().Draw(rt, "is_people_management"),
	}
}

// TestPropertySelectCount verifies every selection has three or four members.
func TestPropertySelectCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		got := Select(drawFlags(rt))
		if n := len(got.Dimensions); n < 3 || n > 4 {
			rt.Fatalf("selected %d dimensions: %v", n, got.Dimensions)
		}
	})
}

// TestPropertySelectObservabilityFloor verifies at least two high-observability members.
func TestPropertySelectObservabilityFloor(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		got := Select(drawFlags(rt))
		if n := countHighObservability(got.Dimensions); n < 2 {
			rt.Fatalf("only %d high-observability dimensions in %v", n, got.Dimensions)
		}
	})
}

// TestPropertySelectNoDuplicates verifies the selection is a set.
func TestPropertySelectNoDuplicates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		got := Select(drawFlags(rt))
		seen := make(map[types.Dimension]bool)
		for _, d := range got.Dimensions {
			if seen[d] {
				rt.Fatalf("duplicate %s in %v", d, got.Dimensions)
			}
			seen[d] = true
		}
	})
}

// TestPropertySelectDeterministic verifies identical input yields identical output.
func TestPropertySelectDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		flags := drawFlags(rt)
		a := Select(flags)
		b := NewSelector(DefaultTable()).Select(flags)
		if a.Justification != b.Justification {
			rt.Fatalf("justification differs: %q vs %q", a.Justification, b.Justification)
		}
		if len(a.Dimensions) != len(b.Dimensions) {
			rt.Fatalf("dimensions differ: %v vs %v", a.Dimensions, b.Dimensions)
		}
		for i := range a.Dimensions {
			if a.Dimensions[i] != b.Dimensions[i] {
				rt.Fatalf("dimensions differ at %d: %v vs %v", i, a.Dimensions, b.Dimensions)
			}
		}
	})
}
