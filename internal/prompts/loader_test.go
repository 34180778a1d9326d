package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get(AuditionFile, KeyExtractRoleDefinition)
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "{{.JDText}}")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(AuditionFile, "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestMustGet_ValidPrompt(t *testing.T) {
	ClearCache()

	assert.NotPanics(t, func() {
		prompt := MustGet(AuditionFile, KeyExtractRoleDefinition)
		assert.NotEmpty(t, prompt)
	})
}

func TestFormat(t *testing.T) {
	template := "Design an audition for {{.Role}} at {{.Company}}!"
	data := map[string]string{
		"Role":    "Account Executive",
		"Company": "Acme Corp",
	}

	result := Format(template, data)
	assert.Equal(t, "Design an audition for Account Executive at Acme Corp!", result)
}

func TestFormat_NoPlaceholders(t *testing.T) {
	template := "No placeholders here"
	data := map[string]string{"Key": "Value"}

	result := Format(template, data)
	assert.Equal(t, template, result)
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	data := map[string]string{}

	result := Format(template, data)
	assert.Equal(t, template, result) // Placeholder remains
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List(AuditionFile)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{KeyExtractRoleDefinition, KeyGenerateAuditionScaffold}, keys)
}

func TestCaching(t *testing.T) {
	ClearCache()

	// First call loads from file
	prompt1, err := Get(AuditionFile, KeyExtractRoleDefinition)
	require.NoError(t, err)

	// Second call should use cache
	prompt2, err := Get(AuditionFile, KeyExtractRoleDefinition)
	require.NoError(t, err)

	assert.Equal(t, prompt1, prompt2)
}

func TestRender(t *testing.T) {
	out, err := Render("Role: {{.Role}}", map[string]string{"Role": "uses {{.Literal}} braces"})
	require.NoError(t, err)
	assert.Equal(t, "Role: uses {{.Literal}} braces", out)

	_, err = Render("Role: {{.Role}} in {{.Team}}", map[string]string{"Role": "AE"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "{{.Team}}")
}

func TestAuditionPrompts_Placeholders(t *testing.T) {
	ClearCache()

	extract := MustGet(AuditionFile, KeyExtractRoleDefinition)
	for _, p := range []string{"{{.JDText}}", "{{.OutputSchema}}", "{{.RoleFamilies}}"} {
		assert.Contains(t, extract, p)
	}

	scaffold := MustGet(AuditionFile, KeyGenerateAuditionScaffold)
	for _, p := range []string{"{{.Dimensions}}", "{{.Justification}}", "{{.DefinitionJSON}}", "{{.ContextJSON}}", "{{.OutputSchema}}"} {
		assert.Contains(t, scaffold, p)
	}
}
