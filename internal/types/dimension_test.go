package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDimension(t *testing.T) {
	tests := []struct {
		input   string
		want    Dimension
		wantErr bool
	}{
		{input: "cognitive", want: DimensionCognitive},
		{input: "Communication", want: DimensionCommunication},
		{input: "communication_collaboration", want: DimensionCommunication},
		{input: "Emotional Intelligence", want: DimensionEmotionalIntelligence},
		{input: "emotional_intelligence", want: DimensionEmotionalIntelligence},
		{input: "  JUDGMENT ", want: DimensionJudgment},
		{input: "judgement", want: DimensionJudgment},
		{input: "charisma", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDimension(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDimension_JSON(t *testing.T) {
	var dims []Dimension
	require.NoError(t, json.Unmarshal([]byte(`["Communication","emotional_intelligence","communication_collaboration"]`), &dims))
	assert.Equal(t, []Dimension{DimensionCommunication, DimensionEmotionalIntelligence, DimensionCommunication}, dims)

	out, err := json.Marshal([]Dimension{DimensionEmotionalIntelligence})
	require.NoError(t, err)
	assert.JSONEq(t, `["emotional_intelligence"]`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`["telepathy"]`), &dims))
}

func TestDimension_Metadata(t *testing.T) {
	assert.Equal(t, "Emotional Intelligence", DimensionEmotionalIntelligence.Label())
	assert.True(t, DimensionExecution.IsHighObservability())
	assert.False(t, DimensionJudgment.IsHighObservability())
	assert.Equal(t, []string{"Cognitive", "Adaptability"}, DimensionLabels([]Dimension{DimensionCognitive, DimensionAdaptability}))
	assert.Len(t, AllDimensions, 6)
}
