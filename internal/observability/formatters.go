// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/role-audition/internal/dimensions"
	"github.com/jonathan/role-audition/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	inner := boxWidth - 4
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, inner))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(truncate(line, inner), inner))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// PrintRoleDefinition outputs the extracted definition, flags and clarifiers.
func (p *Printer) PrintRoleDefinition(result *types.ExtractionResult) {
	if result == nil {
		return
	}

	var sb strings.Builder
	def := result.DefinitionData
	for _, name := range types.RoleDefinitionFields {
		value, _ := def.Get(name)
		if value == types.NotSpecified {
			continue
		}
		sb.WriteString(fmt.Sprintf("%-17s %s\n", name+":", value))
	}
	sb.WriteString("\n")

	flags := result.ContextFlags
	sb.WriteString(fmt.Sprintf("Family:    %s\n", flags.RoleFamily))
	sb.WriteString(fmt.Sprintf("Seniority: %s\n", flags.Seniority))
	if flags.IsStartupContext {
		sb.WriteString("Context:   startup\n")
	}
	if flags.IsPeopleManagement {
		sb.WriteString("Manages:   people\n")
	}

	if len(result.ClarifierQuestions) > 0 {
		sb.WriteString("\nClarifiers:\n")
		for _, q := range result.ClarifierQuestions {
			sb.WriteString(fmt.Sprintf("  ? %s\n", q))
		}
	}

	p.printBox("ROLE DEFINITION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintDimensionSelection shows the chosen dimensions and how they were derived.
func (p *Printer) PrintDimensionSelection(sel dimensions.Selection) {
	if len(sel.Dimensions) == 0 {
		return
	}

	var sb strings.Builder
	for i, d := range sel.Dimensions {
		marker := " "
		if d.IsHighObservability() {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s\n", i+1, marker, d.Label()))
	}
	if !sel.FamilyMatched {
		sb.WriteString("\nRole family not in table, default base used\n")
	}
	if len(sel.Modifiers) > 0 {
		sb.WriteString(fmt.Sprintf("Modifiers: %s\n", strings.Join(sel.Modifiers, ", ")))
	}
	sb.WriteString("\n" + sel.Justification)

	p.printBox("AUDITION DIMENSIONS", sb.String())
}

// PrintScaffold outputs a scaffold's status and, when READY, its questions.
func (p *Printer) PrintScaffold(view *types.AuditionScaffold) {
	if view == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:  %s\n", view.Status))
	if view.BankID != "" {
		sb.WriteString(fmt.Sprintf("Bank:    %s\n", view.BankID))
	}

	switch view.Status {
	case types.StatusGenerating:
		sb.WriteString(fmt.Sprintf("Elapsed: %.1f min, about %.1f min remaining", view.ElapsedMinutes, view.EstimatedRemainingMinutes))
	case types.StatusFailed:
		sb.WriteString(fmt.Sprintf("Error:   %s", view.Error))
	default:
		sb.WriteString(fmt.Sprintf("Cached:  %t\n", view.CacheHit))
		if len(view.Dimensions) > 0 {
			sb.WriteString(fmt.Sprintf("Dims:    %s\n", strings.Join(types.DimensionLabels(view.Dimensions), ", ")))
		}
		if view.ScaffoldData != nil && view.ScaffoldData.Objective != "" {
			sb.WriteString(fmt.Sprintf("Goal:    %s\n", view.ScaffoldData.Objective))
		}
		sb.WriteString(fmt.Sprintf("\nQuestions: %d\n", len(view.Questions)))
		count := min(len(view.Questions), maxItemsToShow)
		for i := 0; i < count; i++ {
			q := view.Questions[i]
			sb.WriteString(fmt.Sprintf("  [%s] %s\n", q.Dimension.Label(), q.QuestionText))
		}
		if len(view.Questions) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(view.Questions)-maxItemsToShow))
		}
	}

	p.printBox("AUDITION SCAFFOLD", strings.TrimSuffix(sb.String(), "\n"))
}
