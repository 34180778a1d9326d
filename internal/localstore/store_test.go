package localstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/tracker/trackertest"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDefinition(t *testing.T, s *Store) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, uuid.New(), "Account Executive")
	require.NoError(t, err)
	rd, err := s.SaveRoleDefinition(ctx, types.RoleDefinitionInput{
		ProjectID:      p.ID,
		DefinitionData: types.RoleDefinitionData{RoleTitle: "Account Executive"},
		ContextFlags:   types.RoleContextFlags{RoleFamily: "Sales", Seniority: types.SeniorityNotSpecified},
	})
	require.NoError(t, err)
	return p.ID, rd.ID
}

func TestStoreContract(t *testing.T) {
	trackertest.RunStoreSuite(t, func(t *testing.T) (tracker.Store, trackertest.Seed) {
		s := newTestStore(t)
		return s, func(t *testing.T) (uuid.UUID, uuid.UUID) { return seedDefinition(t, s) }
	})
}

func TestOpen_DataDirIsReusable(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	p, err := s.CreateProject(context.Background(), uuid.New(), "Data Analyst")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Data Analyst", got.Title)
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	userID := uuid.New()
	p, err := s.CreateProject(ctx, userID, "Product Manager")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStatusDraft, p.Status)
	assert.Nil(t, p.RoleDefinitionID)

	_, err = s.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
	_, err = s.GetProjectRoleDefinition(ctx, p.ID)
	assert.ErrorIs(t, err, types.ErrRoleDefinitionNotFound)

	rd, err := s.SaveRoleDefinition(ctx, types.RoleDefinitionInput{
		ProjectID:          p.ID,
		DefinitionData:     types.RoleDefinitionData{RoleTitle: "Product Manager", AdditionalContext: map[string]string{"travel": "20%"}},
		ContextFlags:       types.RoleContextFlags{RoleFamily: "Product", Seniority: types.SenioritySenior},
		ClarifierQuestions: []string{"Who owns pricing?"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Who owns pricing?"}, rd.ClarifierQuestions)
	assert.Equal(t, "20%", rd.DefinitionData.AdditionalContext["travel"])

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStatusRoleDefined, got.Status)
	require.NotNil(t, got.RoleDefinitionID)
	assert.Equal(t, rd.ID, *got.RoleDefinitionID)

	again, err := s.SaveRoleDefinition(ctx, types.RoleDefinitionInput{
		ProjectID:        p.ID,
		DefinitionData:   types.RoleDefinitionData{RoleTitle: "Senior Product Manager"},
		ContextFlags:     types.RoleContextFlags{RoleFamily: "Product", Seniority: types.SenioritySenior},
		ClarifierAnswers: map[string]string{"goals": "Ship v2"},
		Confirmed:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, rd.ID, again.ID, "a project keeps one definition id")
	assert.Equal(t, "Senior Product Manager", again.DefinitionData.RoleTitle)
	assert.Equal(t, map[string]string{"goals": "Ship v2"}, again.ClarifierAnswers)
	assert.Equal(t, []string{}, again.ClarifierQuestions)
	assert.True(t, again.Confirmed)

	list, err := s.ListProjects(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	_, err = s.SaveRoleDefinition(ctx, types.RoleDefinitionInput{ProjectID: uuid.New()})
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
}

func TestApproveAdvancesProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, rid := seedDefinition(t, s)

	rec, claimed, err := s.ClaimGeneration(ctx, tracker.Claim{ProjectID: pid, RoleDefinitionID: rid, BankID: "bank_x", Now: time.Now()})
	require.NoError(t, err)
	require.True(t, claimed)
	ok, err := s.CompleteGeneration(ctx, rec.Key(), trackertest.SampleResult(), time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	first, err := s.ApproveScaffold(ctx, rid, time.Now())
	require.NoError(t, err)
	second, err := s.ApproveScaffold(ctx, rid, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, first.ApprovedAt.Equal(*second.ApprovedAt), "approval keeps the first timestamp")

	p, err := s.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStatusAuditionApproved, p.Status)
}

func TestTimeLayoutSortsChronologically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(time.Nanosecond * 10))
	assert.Less(t, earlier, later)

	parsed, err := parseTime(later)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(10*time.Nanosecond)))
}

func TestConcurrentReadsAndClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, rid := seedDefinition(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := s.ClaimGeneration(ctx, tracker.Claim{ProjectID: pid, RoleDefinitionID: rid, BankID: "bank_y", Now: time.Now()})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.GetScaffold(ctx, rid)
			if err != nil {
				assert.ErrorIs(t, err, tracker.ErrNotFound)
			}
		}()
	}
	wg.Wait()
}
