package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditionScaffold_MarshalJSON(t *testing.T) {
	t.Run("generating", func(t *testing.T) {
		out, err := json.Marshal(AuditionScaffold{
			BankID:                    "bank_1",
			Status:                    StatusGenerating,
			ElapsedMinutes:            1.5,
			EstimatedRemainingMinutes: 1.5,
			Questions:                 []Question{{QuestionID: "q"}},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"status": "GENERATING",
			"bank_id": "bank_1",
			"elapsed_minutes": 1.5,
			"estimated_remaining_minutes": 1.5
		}`, string(out))
	})

	t.Run("ready", func(t *testing.T) {
		out, err := json.Marshal(AuditionScaffold{BankID: "bank_1", Status: StatusReady, CacheHit: true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "READY", "bank_id": "bank_1", "questions": [], "cache_hit": true}`, string(out))
	})

	t.Run("failed", func(t *testing.T) {
		out, err := json.Marshal(AuditionScaffold{Status: StatusFailed, Error: "generation timed out"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status": "FAILED", "error": "generation timed out"}`, string(out))
	})
}

func TestAuditionScaffold_RoundTripForClients(t *testing.T) {
	in := AuditionScaffold{
		BankID:    "bank_2",
		Status:    StatusReady,
		CacheHit:  true,
		Questions: []Question{{QuestionID: "q1", Dimension: DimensionJudgment, QuestionText: "Walk us through a trade-off"}},
	}
	out, err := json.Marshal(in)
	require.NoError(t, err)

	var got AuditionScaffold
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, in.BankID, got.BankID)
	assert.True(t, got.CacheHit)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, DimensionJudgment, got.Questions[0].Dimension)
}

func TestRequestValidation(t *testing.T) {
	assert.Error(t, (&ExtractRequest{}).Validate())
	assert.NoError(t, (&ExtractRequest{JDText: "text"}).Validate())

	assert.Error(t, (&CreateProjectRequest{}).Validate())
	assert.NoError(t, (&CreateProjectRequest{Title: "Founding AE"}).Validate())

	valid := BuildScaffoldRequest{
		DefinitionData: json.RawMessage(`{"role_title":"AE"}`),
		ContextFlags:   RoleContextFlags{RoleFamily: "Sales", Seniority: SeniorityNotSpecified},
	}
	assert.NoError(t, valid.Validate())

	badSeniority := valid
	badSeniority.ContextFlags.Seniority = "Wizard"
	assert.Error(t, badSeniority.Validate())

	noFamily := valid
	noFamily.ContextFlags.RoleFamily = ""
	assert.Error(t, noFamily.Validate())

	pid := uuid.New()
	withProject := valid
	withProject.ProjectID = &pid
	assert.NoError(t, withProject.Validate())
}
