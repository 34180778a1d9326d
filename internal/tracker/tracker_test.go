package tracker_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/llm/llmtest"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/tracker/trackertest"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

const readyBody = `{
  "scaffold_data": {
    "objective": "Plan a quarter",
    "questions": [
      {"question_id": "q1", "dimension": "Cognitive", "archetype_id": "tradeoff", "question_text": "Which bet do you cut?", "quality_score": 0.9}
    ]
  },
  "scaffold_preview_html": "<h2>Plan</h2>"
}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   *trackertest.MemoryStore
	client  *llmtest.FakeClient
	clock   *fakeClock
	tracker *tracker.Tracker
}

func newHarness(t *testing.T, client *llmtest.FakeClient, opts tracker.Options) *harness {
	t.Helper()
	h := &harness{store: trackertest.NewMemoryStore(), client: client, clock: newFakeClock()}
	if opts.Now == nil {
		opts.Now = h.clock.Now
	}
	h.tracker = tracker.New(h.store, scaffold.NewBuilder(client, nil, nil), opts)
	t.Cleanup(h.tracker.Close)
	return h
}

func newRequest() tracker.Request {
	return tracker.Request{
		ProjectID:        uuid.New(),
		RoleDefinitionID: uuid.New(),
		Definition: types.RoleDefinitionData{
			RoleTitle:  "Staff Engineer",
			JobSummary: "Lead the platform roadmap",
		},
		Flags: types.RoleContextFlags{RoleFamily: "Software Engineering", Seniority: types.SenioritySenior},
	}
}

func TestStoreContract_Memory(t *testing.T) {
	trackertest.RunStoreSuite(t, func(t *testing.T) (tracker.Store, trackertest.Seed) {
		return trackertest.NewMemoryStore(), func(t *testing.T) (uuid.UUID, uuid.UUID) {
			return uuid.New(), uuid.New()
		}
	})
}

func TestGetOrStart_GeneratesThenServesCache(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	first, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, first.Status)
	assert.Equal(t, 0.0, first.ElapsedMinutes)
	assert.Equal(t, 3.0, first.EstimatedRemainingMinutes)
	assert.Regexp(t, `^bank_[0-9a-f]{32}$`, first.BankID)

	h.tracker.Wait()

	second, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, second.Status)
	assert.Equal(t, first.BankID, second.BankID)
	assert.True(t, second.CacheHit)
	require.Len(t, second.Questions, 1)
	assert.Equal(t, "Which bet do you cut?", second.Questions[0].QuestionText)
	assert.Equal(t, []types.Dimension{types.DimensionCognitive, types.DimensionExecution, types.DimensionCommunication, types.DimensionJudgment}, second.Dimensions)

	third, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, second.BankID, third.BankID)
	assert.True(t, third.CacheHit)
	assert.Equal(t, 1, h.client.Calls())
}

func TestGetOrStart_ReportsElapsedWhileGenerating(t *testing.T) {
	client := llmtest.Returning(readyBody)
	client.Gate = make(chan struct{})
	h := newHarness(t, client, tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	_, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	mid, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, mid.Status)
	assert.Equal(t, 1.0, mid.ElapsedMinutes)
	assert.Equal(t, 2.0, mid.EstimatedRemainingMinutes)

	h.clock.Advance(3 * time.Minute)
	late, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 4.0, late.ElapsedMinutes)
	assert.Equal(t, 0.5, late.EstimatedRemainingMinutes)

	close(client.Gate)
	h.tracker.Wait()
	assert.Equal(t, 1, client.Calls())
}

func TestGetOrStart_ConcurrentCallersShareOneCycle(t *testing.T) {
	client := llmtest.Returning(readyBody)
	client.Gate = make(chan struct{})
	h := newHarness(t, client, tracker.Options{})
	req := newRequest()

	var wg sync.WaitGroup
	results := make([]*types.AuditionScaffold, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.tracker.GetOrStart(context.Background(), req)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, types.StatusGenerating, r.Status)
		assert.Equal(t, results[0].BankID, r.BankID)
		assert.Equal(t, 1, r.Attempt)
	}

	require.Eventually(t, func() bool { return client.Calls() == 1 }, time.Second, 5*time.Millisecond)
	close(client.Gate)
	h.tracker.Wait()
	assert.Equal(t, 1, client.Calls())
}

func TestGetOrStart_ChangedDefinitionStartsNewCycle(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	first, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	h.tracker.Wait()

	req.Answers = map[string]string{"kpis": "Deploy frequency"}
	changed, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, changed.Status)
	assert.NotEqual(t, first.BankID, changed.BankID)
	assert.Equal(t, 2, changed.Attempt)

	h.tracker.Wait()
	assert.Equal(t, 2, h.client.Calls())
}

func TestGetOrStart_FailureIsTerminalUntilRetry(t *testing.T) {
	client := llmtest.NewFakeClient(
		llmtest.Response{Err: errors.New("connection reset")},
		llmtest.Response{Body: readyBody},
	)
	h := newHarness(t, client, tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	_, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	h.tracker.Wait()

	failed, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, failed.Status)
	assert.Equal(t, tracker.MsgUpstreamFail, failed.Error)
	assert.Equal(t, 1, client.Calls(), "polling a failed cycle does not regenerate")

	retried, err := h.tracker.Retry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, retried.Status)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, failed.BankID, retried.BankID)

	h.tracker.Wait()
	ready, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, ready.Status)
	assert.Equal(t, 2, client.Calls())
}

func TestGetOrStart_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "rate limited", err: &googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow"}, want: tracker.MsgRateLimited},
		{name: "quota", err: &googleapi.Error{Code: http.StatusPaymentRequired, Message: "billing"}, want: tracker.MsgQuota},
		{name: "upstream", err: errors.New("boom"), want: tracker.MsgUpstreamFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, llmtest.Failing(tt.err), tracker.Options{})
			req := newRequest()
			_, err := h.tracker.GetOrStart(context.Background(), req)
			require.NoError(t, err)
			h.tracker.Wait()

			got, err := h.tracker.Status(context.Background(), req.RoleDefinitionID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusFailed, got.Status)
			assert.Equal(t, tt.want, got.Error)
		})
	}

	t.Run("invalid response", func(t *testing.T) {
		h := newHarness(t, llmtest.Returning(`{"scaffold_preview_html": "<p>no data</p>"}`), tracker.Options{})
		req := newRequest()
		_, err := h.tracker.GetOrStart(context.Background(), req)
		require.NoError(t, err)
		h.tracker.Wait()

		got, err := h.tracker.Status(context.Background(), req.RoleDefinitionID)
		require.NoError(t, err)
		assert.Equal(t, tracker.MsgInvalid, got.Error)
	})
}

func TestGetOrStart_StaleGeneratingRecordTimesOut(t *testing.T) {
	client := llmtest.Returning(readyBody)
	client.Gate = make(chan struct{})
	h := newHarness(t, client, tracker.Options{Timeout: 10 * time.Minute})
	ctx := context.Background()
	req := newRequest()

	_, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	got, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, tracker.MsgTimedOut, got.Error)

	close(client.Gate)
	h.tracker.Wait()
	after, err := h.tracker.Status(ctx, req.RoleDefinitionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, after.Status, "a late result cannot revive a timed out cycle")
}

func TestGetOrStart_GenerationDeadline(t *testing.T) {
	client := llmtest.Returning(readyBody)
	client.Gate = make(chan struct{})
	h := newHarness(t, client, tracker.Options{Timeout: 50 * time.Millisecond, Now: time.Now})
	req := newRequest()

	_, err := h.tracker.GetOrStart(context.Background(), req)
	require.NoError(t, err)
	h.tracker.Wait()

	got, err := h.tracker.Status(context.Background(), req.RoleDefinitionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, tracker.MsgTimedOut, got.Error)
}

func TestGetOrStart_RetriesSaveWithoutRegenerating(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	h.store.SetFailWrites(errors.New("connection refused"))
	_, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	h.tracker.Wait()

	_, err = h.tracker.GetOrStart(ctx, req)
	var persistErr *tracker.PersistenceError
	require.ErrorAs(t, err, &persistErr)

	h.store.SetFailWrites(nil)
	got, err := h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, 1, h.client.Calls())
}

func TestGetOrStart_SharedCache(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{SharedCache: true})
	ctx := context.Background()

	a := newRequest()
	_, err := h.tracker.GetOrStart(ctx, a)
	require.NoError(t, err)
	h.tracker.Wait()

	b := newRequest()
	got, err := h.tracker.GetOrStart(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status)
	assert.True(t, got.CacheHit)
	assert.Len(t, got.Questions, 1)
	assert.Equal(t, 1, h.client.Calls())
}

func TestGetOrStart_NoSharingByDefault(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{})
	ctx := context.Background()

	_, err := h.tracker.GetOrStart(ctx, newRequest())
	require.NoError(t, err)
	h.tracker.Wait()

	got, err := h.tracker.GetOrStart(ctx, newRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, got.Status)
	h.tracker.Wait()
	assert.Equal(t, 2, h.client.Calls())
}

func TestBuildSync(t *testing.T) {
	h := newHarness(t, llmtest.Returning(readyBody), tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	built, err := h.tracker.BuildSync(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, built.Status)
	assert.False(t, built.CacheHit)
	require.NotNil(t, built.ScaffoldData)
	assert.Equal(t, "Plan a quarter", built.ScaffoldData.Objective)

	cached, err := h.tracker.BuildSync(ctx, req, false)
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, built.BankID, cached.BankID)
	assert.Equal(t, 1, h.client.Calls())
}

func TestApprove(t *testing.T) {
	client := llmtest.Returning(readyBody)
	client.Gate = make(chan struct{})
	h := newHarness(t, client, tracker.Options{})
	ctx := context.Background()
	req := newRequest()

	_, err := h.tracker.Approve(ctx, req.RoleDefinitionID)
	assert.ErrorIs(t, err, tracker.ErrNotFound)

	_, err = h.tracker.GetOrStart(ctx, req)
	require.NoError(t, err)
	_, err = h.tracker.Approve(ctx, req.RoleDefinitionID)
	assert.ErrorIs(t, err, tracker.ErrNotReady)

	close(client.Gate)
	h.tracker.Wait()

	approved, err := h.tracker.Approve(ctx, req.RoleDefinitionID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, types.StatusReady, approved.Status)
	assert.True(t, h.store.ProjectApproved(req.ProjectID))
}
