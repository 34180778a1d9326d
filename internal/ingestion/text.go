// Package ingestion turns raw job description input (pasted text, files, URLs)
// into sanitized plain text ready for extraction.
package ingestion

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	innerSpace     = regexp.MustCompile(`[ \t\f\v\x{00A0}\x{2000}-\x{200A}\x{3000}]+`)
	blankLineRuns  = regexp.MustCompile(`\n{3,}`)
	bulletPrefixes = []string{"- ", "* ", "• ", "· "}
)

// CleanText sanitizes job description text. It normalizes line endings,
// drops control and zero-width characters, collapses runs of spaces, and
// keeps at most one blank line between paragraphs. Headings and bullet
// markers are preserved. The result is deterministic for a given input.
func CleanText(content string) string {
	if content == "" {
		return ""
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = stripControl(content)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}

	result := blankLineRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(result)
}

// RuneLength returns the length of s in characters, the unit input bounds are
// expressed in.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

func cleanLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ""
	}
	indent := 0
	if isBulletLine(trimmed) {
		indent = len(line) - len(strings.TrimLeft(line, " \t"))
	}
	body := innerSpace.ReplaceAllString(trimmed, " ")
	return strings.Repeat(" ", indent) + body
}

func isBulletLine(trimmed string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// IngestFromFile reads a job description file and returns its sanitized text.
func IngestFromFile(path string) (string, *Metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("file not found: %w", err)
		}
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}

	cleaned := CleanText(string(content))
	return cleaned, NewMetadata(cleaned, ""), nil
}
