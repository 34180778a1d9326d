package trackertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Seed creates whatever rows a store needs (project, role definition) and
// returns their ids.
type Seed func(t *testing.T) (projectID, roleDefinitionID uuid.UUID)

// Setup returns a fresh store and its seeding function.
type Setup func(t *testing.T) (tracker.Store, Seed)

// SampleResult is a small READY payload.
func SampleResult() *types.ScaffoldResult {
	return &types.ScaffoldResult{
		ScaffoldData: types.ScaffoldData{
			Objective:   "Run a discovery call",
			Inputs:      []string{"Account brief"},
			Constraints: []string{"45 minutes"},
			Questions: []types.Question{{
				QuestionID:   "q1",
				Dimension:    types.DimensionCommunication,
				ArchetypeID:  "discovery",
				QuestionText: "How do you open the call?",
				QualityScore: 0.75,
			}},
		},
		ScaffoldPreviewHTML:    "",
		ChosenDimensions:       []types.Dimension{types.DimensionCommunication, types.DimensionExecution, types.DimensionCognitive},
		DimensionJustification: "Based on the general role family, we are prioritizing Cognitive, Execution, Communication.",
	}
}

func claim(projectID, roleDefinitionID uuid.UUID, bankID string, force bool, now time.Time) tracker.Claim {
	return tracker.Claim{
		ProjectID:              projectID,
		RoleDefinitionID:       roleDefinitionID,
		BankID:                 bankID,
		Dimensions:             []types.Dimension{types.DimensionCognitive, types.DimensionExecution, types.DimensionCommunication},
		DimensionJustification: "because",
		Force:                  force,
		Now:                    now,
	}
}

// RunStoreSuite exercises the tracker.Store contract.
func RunStoreSuite(t *testing.T, setup Setup) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("get missing", func(t *testing.T) {
		store, _ := setup(t)
		_, err := store.GetScaffold(ctx, uuid.New())
		assert.ErrorIs(t, err, tracker.ErrNotFound)
	})

	t.Run("claim is idempotent per bank_id", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		rec, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, types.StatusGenerating, rec.Status)
		assert.Equal(t, 1, rec.Attempt)
		assert.WithinDuration(t, now, rec.StartedAt, time.Second)
		assert.Equal(t, []types.Dimension{types.DimensionCognitive, types.DimensionExecution, types.DimensionCommunication}, rec.Dimensions)

		again, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now.Add(time.Minute)))
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Equal(t, 1, again.Attempt)
		assert.WithinDuration(t, now, again.StartedAt, time.Second)
	})

	t.Run("new bank_id starts a new cycle", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		first, _, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		ok, err := store.CompleteGeneration(ctx, first.Key(), SampleResult(), now)
		require.NoError(t, err)
		require.True(t, ok)

		second, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_b", false, now))
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, 2, second.Attempt)
		assert.Equal(t, "bank_b", second.BankID)
		assert.Equal(t, types.StatusGenerating, second.Status)
		assert.Nil(t, second.Result)

		ok, err = store.CompleteGeneration(ctx, first.Key(), SampleResult(), now)
		require.NoError(t, err)
		assert.False(t, ok, "a superseded cycle cannot complete")
	})

	t.Run("complete round trips the result", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		rec, _, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		ok, err := store.CompleteGeneration(ctx, rec.Key(), SampleResult(), now)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := store.GetScaffold(ctx, rid)
		require.NoError(t, err)
		assert.Equal(t, types.StatusReady, got.Status)
		assert.Equal(t, pid, got.ProjectID)
		require.NotNil(t, got.Result)
		assert.Equal(t, SampleResult().ScaffoldData, got.Result.ScaffoldData)
		assert.Equal(t, "", got.Result.ScaffoldPreviewHTML)
		require.NotNil(t, got.CompletedAt)

		ok, err = store.CompleteGeneration(ctx, rec.Key(), SampleResult(), now)
		require.NoError(t, err)
		assert.False(t, ok, "a finished cycle cannot complete twice")

		ok, err = store.FailGeneration(ctx, rec.Key(), "late failure", now)
		require.NoError(t, err)
		assert.False(t, ok, "a finished cycle cannot fail")
	})

	t.Run("force restarts only failed cycles", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		rec, _, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		ok, err := store.FailGeneration(ctx, rec.Key(), "generation failed", now)
		require.NoError(t, err)
		require.True(t, ok)

		failed, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		assert.False(t, claimed, "failed is terminal without force")
		assert.Equal(t, types.StatusFailed, failed.Status)
		assert.Equal(t, "generation failed", failed.Error)

		retried, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", true, now))
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, 2, retried.Attempt)
		assert.Empty(t, retried.Error)

		ok, err = store.CompleteGeneration(ctx, retried.Key(), SampleResult(), now)
		require.NoError(t, err)
		require.True(t, ok)

		_, claimed, err = store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", true, now))
		require.NoError(t, err)
		assert.False(t, claimed, "force does not regenerate a READY scaffold")
	})

	t.Run("find ready by bank_id", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		_, err := store.FindReadyByBankID(ctx, "bank_shared")
		assert.ErrorIs(t, err, tracker.ErrNotFound)

		rec, _, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_shared", false, now))
		require.NoError(t, err)
		_, err = store.FindReadyByBankID(ctx, "bank_shared")
		assert.ErrorIs(t, err, tracker.ErrNotFound, "generating records are not shared")

		_, err = store.CompleteGeneration(ctx, rec.Key(), SampleResult(), now)
		require.NoError(t, err)
		found, err := store.FindReadyByBankID(ctx, "bank_shared")
		require.NoError(t, err)
		assert.Equal(t, rid, found.RoleDefinitionID)
		require.NotNil(t, found.Result)
	})

	t.Run("approve", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		_, err := store.ApproveScaffold(ctx, rid, now)
		assert.ErrorIs(t, err, tracker.ErrNotFound)

		rec, _, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_a", false, now))
		require.NoError(t, err)
		_, err = store.ApproveScaffold(ctx, rid, now)
		assert.ErrorIs(t, err, tracker.ErrNotReady)

		_, err = store.CompleteGeneration(ctx, rec.Key(), SampleResult(), now)
		require.NoError(t, err)
		approved, err := store.ApproveScaffold(ctx, rid, now)
		require.NoError(t, err)
		require.NotNil(t, approved.ApprovedAt)
		assert.WithinDuration(t, now, *approved.ApprovedAt, time.Second)
	})

	t.Run("concurrent claims elect one generator", func(t *testing.T) {
		store, seed := setup(t)
		pid, rid := seed(t)

		const callers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, claimed, err := store.ClaimGeneration(ctx, claim(pid, rid, "bank_race", false, now))
				assert.NoError(t, err)
				if claimed {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)

		rec, err := store.GetScaffold(ctx, rid)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Attempt)
	})
}
