package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/config"
	"github.com/jonathan/role-audition/internal/extraction"
	"github.com/jonathan/role-audition/internal/llm/llmtest"
	"github.com/jonathan/role-audition/internal/localstore"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/server/ratelimit"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

const testJD = `Founding Account Executive at a seed-stage startup.
You will own the full sales cycle for mid-market customers, build the first playbook,
and work directly with the founders.`

const extractionBody = `{
  "definition_data": {
    "role_title": "Founding Account Executive",
    "job_summary": "Own the full mid-market sales cycle",
    "goals": "Build the first sales playbook"
  },
  "context_flags": {"role_family": "Sales", "seniority": "Senior", "is_startup_context": true},
  "clarifier_questions": ["What is the quota?"]
}`

const scaffoldBody = `{
  "scaffold_data": {
    "objective": "Run a discovery call",
    "questions": [
      {"question_id": "q1", "dimension": "Communication", "archetype_id": "pitch", "question_text": "Open the call.", "quality_score": 0.8}
    ]
  },
  "scaffold_preview_html": "<h2>Discovery</h2>"
}`

type testEnv struct {
	server    *Server
	handler   http.Handler
	store     *localstore.Store
	tracker   *tracker.Tracker
	extractLM *llmtest.FakeClient
	buildLM   *llmtest.FakeClient
	jwt       *JWTService
	userID    uuid.UUID
	token     string
}

type envOption func(*envConfig)

type envConfig struct {
	extractLM *llmtest.FakeClient
	buildLM   *llmtest.FakeClient
	limiter   *ratelimit.Config
	maxBody   int64
}

func withBuildClient(c *llmtest.FakeClient) envOption {
	return func(cfg *envConfig) { cfg.buildLM = c }
}

func withExtractClient(c *llmtest.FakeClient) envOption {
	return func(cfg *envConfig) { cfg.extractLM = c }
}

func withLimiter(c *ratelimit.Config) envOption {
	return func(cfg *envConfig) { cfg.limiter = c }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := &envConfig{
		extractLM: llmtest.Returning(extractionBody),
		buildLM:   llmtest.Returning(scaffoldBody),
		limiter:   &ratelimit.Config{Enabled: false},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := localstore.Open(localstore.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := tracker.New(store, scaffold.NewBuilder(cfg.buildLM, nil, logger), tracker.Options{Logger: logger})
	t.Cleanup(tr.Close)

	jwtService := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1})
	limiter := ratelimit.NewLimiter(cfg.limiter)
	t.Cleanup(limiter.Stop)

	srv, err := New(Config{MaxBodyBytes: cfg.maxBody}, Deps{
		Store:     store,
		Extractor: extraction.NewExtractor(cfg.extractLM, extraction.WithLogger(logger)),
		Scaffolds: tr,
		Tokens:    jwtService.AsTokenValidator(),
		Limiter:   limiter,
		Logger:    logger,
	})
	require.NoError(t, err)

	env := &testEnv{
		server:    srv,
		handler:   srv.Handler(),
		store:     store,
		tracker:   tr,
		extractLM: cfg.extractLM,
		buildLM:   cfg.buildLM,
		jwt:       jwtService,
		userID:    uuid.New(),
	}
	env.token = env.tokenFor(t, env.userID)
	return env
}

func (e *testEnv) tokenFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := e.jwt.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

func (e *testEnv) doAs(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createProject(t *testing.T, title string) types.Project {
	t.Helper()
	w := e.do(t, http.MethodPost, "/projects", map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p types.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.doAs(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	other := NewJWTService(&config.JWTConfig{Secret: "another-secret-another-secret-another", ExpirationHours: 1})
	forged, err := other.GenerateToken(env.userID)
	require.NoError(t, err)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/role-definitions/extract"},
		{http.MethodPost, "/projects"},
		{http.MethodGet, "/projects/" + uuid.NewString()},
		{http.MethodPost, "/audition-scaffolds"},
		{http.MethodGet, "/projects/" + uuid.NewString() + "/audition"},
		{http.MethodPost, "/projects/" + uuid.NewString() + "/audition/approve"},
	}
	for _, rt := range routes {
		for name, token := range map[string]string{"missing": "", "forged": forged} {
			t.Run(rt.method+" "+rt.path+" "+name, func(t *testing.T) {
				w := env.doAs(t, token, rt.method, rt.path, "{}")
				assert.Equal(t, http.StatusUnauthorized, w.Code)
				body := decodeBody[ErrorBody](t, w)
				assert.Equal(t, "unauthorized", body.Error)
				assert.False(t, body.Retryable)
			})
		}
	}
	assert.Zero(t, env.extractLM.Calls())
	assert.Zero(t, env.buildLM.Calls())
}

func TestExtract(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/role-definitions/extract", map[string]string{"jd_text": testJD})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[ExtractResponse](t, w)
	assert.Equal(t, "Founding Account Executive", resp.DefinitionData.RoleTitle)
	assert.Equal(t, types.NotSpecified, resp.DefinitionData.Tools)
	assert.Equal(t, "Sales", resp.ContextFlags.RoleFamily)
	assert.Equal(t, []string{"What is the quota?"}, resp.ClarifierQuestions)
	assert.Nil(t, resp.ProjectID)
}

func TestExtract_StoresOnProject(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "AE hire")

	w := env.do(t, http.MethodPost, "/role-definitions/extract", map[string]any{"jd_text": testJD, "project_id": project.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[ExtractResponse](t, w)
	require.NotNil(t, resp.RoleDefinitionID)

	w = env.do(t, http.MethodGet, "/projects/"+project.ID.String()+"/role-definition", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rd := decodeBody[types.RoleDefinition](t, w)
	assert.Equal(t, *resp.RoleDefinitionID, rd.ID)
	assert.False(t, rd.Confirmed)
	assert.Equal(t, []string{"What is the quota?"}, rd.ClarifierQuestions)

	w = env.do(t, http.MethodGet, "/projects/"+project.ID.String(), nil)
	assert.Equal(t, types.ProjectStatusRoleDefined, decodeBody[types.Project](t, w).Status)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name      string
		client    *llmtest.FakeClient
		body      any
		status    int
		kind      string
		retryable bool
		calls     int
	}{
		{"bad json", llmtest.Returning(extractionBody), `{"jd_text":`, http.StatusBadRequest, "validation_error", false, 0},
		{"missing jd", llmtest.Returning(extractionBody), map[string]string{}, http.StatusBadRequest, "validation_error", false, 0},
		{"whitespace jd", llmtest.Returning(extractionBody), map[string]string{"jd_text": " \n\t "}, http.StatusBadRequest, "invalid_input", false, 0},
		{"short jd", llmtest.Returning(extractionBody), map[string]string{"jd_text": "Engineer"}, http.StatusBadRequest, "invalid_input", false, 0},
		{"large jd", llmtest.Returning(extractionBody), map[string]string{"jd_text": strings.Repeat("a", extraction.MaxJDLength+1)}, http.StatusRequestEntityTooLarge, "payload_too_large", false, 0},
		{"malformed output", llmtest.Returning(`{"definition_data": `), map[string]string{"jd_text": testJD}, http.StatusInternalServerError, "extraction_failed", true, 1},
		{"rate limited", llmtest.Failing(&googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow down"}), map[string]string{"jd_text": testJD}, http.StatusTooManyRequests, "rate_limited", true, 1},
		{"quota", llmtest.Failing(&googleapi.Error{Code: http.StatusTooManyRequests, Message: "Quota exceeded for billing"}), map[string]string{"jd_text": testJD}, http.StatusPaymentRequired, "quota_exceeded", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withExtractClient(tt.client))
			w := env.do(t, http.MethodPost, "/role-definitions/extract", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[ErrorBody](t, w)
			assert.Equal(t, tt.kind, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.Equal(t, tt.calls, tt.client.Calls())
		})
	}
}

func TestExtract_UnknownProjectFailsBeforeGeneration(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/role-definitions/extract", map[string]any{"jd_text": testJD, "project_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, env.extractLM.Calls())
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)

	t.Run("validation", func(t *testing.T) {
		for _, title := range []string{"", "   ", strings.Repeat("x", 201)} {
			w := env.do(t, http.MethodPost, "/projects", map[string]string{"title": title})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation_error", decodeBody[ErrorBody](t, w).Error)
		}
	})

	t.Run("create get list", func(t *testing.T) {
		p := env.createProject(t, "  Platform lead ")
		assert.Equal(t, "Platform lead", p.Title)
		assert.Equal(t, types.ProjectStatusDraft, p.Status)
		assert.Equal(t, env.userID, p.UserID)

		w := env.do(t, http.MethodGet, "/projects/"+p.ID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, p.ID, decodeBody[types.Project](t, w).ID)

		w = env.do(t, http.MethodGet, "/projects", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decodeBody[map[string]any](t, w)["count"])
	})

	t.Run("bad id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/projects/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("other users projects are hidden", func(t *testing.T) {
		p := env.createProject(t, "Mine")
		stranger := env.tokenFor(t, uuid.New())
		w := env.doAs(t, stranger, http.MethodGet, "/projects/"+p.ID.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = env.doAs(t, stranger, http.MethodPost, "/projects/"+p.ID.String()+"/audition", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateRoleDefinition_MergesAnswers(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "AE")
	path := "/projects/" + p.ID.String() + "/role-definition"

	w := env.do(t, http.MethodPut, path, map[string]any{
		"definition_data":   map[string]any{"role_title": "AE", "tools": []string{"Salesforce", "Gong"}},
		"context_flags":     map[string]any{"role_family": "Sales", "seniority": "staff"},
		"clarifier_answers": map[string]string{"kpis": "$1M ARR"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rd := decodeBody[types.RoleDefinition](t, w)
	assert.True(t, rd.Confirmed)
	assert.Equal(t, "Salesforce, Gong", rd.DefinitionData.Tools)
	assert.Equal(t, types.SenioritySenior, rd.ContextFlags.Seniority)

	w = env.do(t, http.MethodPut, path, map[string]any{
		"definition_data":   map[string]any{"role_title": "AE"},
		"context_flags":     map[string]any{},
		"clarifier_answers": map[string]string{"travel": "20%", "kpis": " "},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeBody[types.RoleDefinition](t, w)
	assert.Equal(t, rd.ID, updated.ID)
	assert.Equal(t, map[string]string{"kpis": "$1M ARR", "travel": "20%"}, updated.ClarifierAnswers)
	assert.Equal(t, types.RoleFamilyOther, updated.ContextFlags.RoleFamily)
	assert.Equal(t, types.SeniorityNotSpecified, updated.ContextFlags.Seniority)
}

func TestUpdateRoleDefinition_RejectsNonObject(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "AE")

	for _, def := range []string{`"a string"`, `[1,2]`, `null`, `{"role_title": {"nested": 1}, "goals": [1]}`} {
		w := env.do(t, http.MethodPut, "/projects/"+p.ID.String()+"/role-definition",
			`{"definition_data": `+def+`, "context_flags": {"role_family": "Sales"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, def)
	}
}

func TestBuildScaffold_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	req := map[string]any{
		"definition_data": map[string]any{"role_title": "Account Executive", "job_summary": "Close deals"},
		"context_flags":   map[string]any{"role_family": "Sales", "seniority": "Junior"},
	}

	w := env.do(t, http.MethodPost, "/audition-scaffolds", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decodeBody[types.AuditionScaffold](t, w)
	assert.Equal(t, types.StatusGenerating, started.Status)
	assert.Regexp(t, `^bank_[0-9a-f]{32}$`, started.BankID)

	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/projects/"))
	projectPath := strings.TrimSuffix(location, "/audition")

	env.tracker.Wait()

	w = env.do(t, http.MethodGet, location, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ready := decodeBody[types.AuditionScaffold](t, w)
	assert.Equal(t, types.StatusReady, ready.Status)
	assert.Equal(t, started.BankID, ready.BankID)
	assert.True(t, ready.CacheHit)
	require.Len(t, ready.Questions, 1)
	assert.Equal(t, types.DimensionCommunication, ready.Questions[0].Dimension)

	req["project_id"] = strings.TrimPrefix(projectPath, "/projects/")
	w = env.do(t, http.MethodPost, "/audition-scaffolds", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, env.buildLM.Calls())

	w = env.do(t, http.MethodPost, location+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decodeBody[types.AuditionScaffold](t, w).ApprovedAt)

	w = env.do(t, http.MethodGet, projectPath, nil)
	assert.Equal(t, types.ProjectStatusAuditionApproved, decodeBody[types.Project](t, w).Status)
}

func TestBuildScaffold_ExistingProjectAndValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "Ops")

	w := env.do(t, http.MethodPost, "/audition-scaffolds", `{"definition_data": "nope", "project_id": "`+p.ID.String()+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/audition-scaffolds", map[string]any{
		"definition_data": map[string]any{"role_title": "Ops lead"},
		"context_flags":   map[string]any{"role_family": "Operations"},
		"project_id":      p.ID,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "/projects/"+p.ID.String()+"/audition", w.Header().Get("Location"))
}

func TestAudition_FailureThenRetry(t *testing.T) {
	client := llmtest.NewFakeClient(
		llmtest.Response{Err: &googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow down"}},
		llmtest.Response{Body: scaffoldBody},
	)
	env := newTestEnv(t, withBuildClient(client))
	p := env.createProject(t, "AE")
	base := "/projects/" + p.ID.String()

	w := env.do(t, http.MethodPost, base+"/audition", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no role definition yet")

	w = env.do(t, http.MethodPut, base+"/role-definition", map[string]any{
		"definition_data": map[string]any{"role_title": "AE"},
		"context_flags":   map[string]any{"role_family": "Sales"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, base+"/audition", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	env.tracker.Wait()

	w = env.do(t, http.MethodGet, base+"/audition", nil)
	require.Equal(t, http.StatusOK, w.Code)
	failed := decodeBody[types.AuditionScaffold](t, w)
	assert.Equal(t, types.StatusFailed, failed.Status)
	assert.Equal(t, tracker.MsgRateLimited, failed.Error)

	w = env.do(t, http.MethodPost, base+"/audition/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, base+"/audition/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	env.tracker.Wait()

	w = env.do(t, http.MethodGet, base+"/audition", nil)
	assert.Equal(t, types.StatusReady, decodeBody[types.AuditionScaffold](t, w).Status)
	assert.Equal(t, 2, client.Calls())
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestEnv(t, func(c *envConfig) { c.maxBody = 64 })
	w := env.do(t, http.MethodPost, "/projects", map[string]string{"title": strings.Repeat("x", 100)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimit_GenerationTier(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.CleanupInterval = 0
	env := newTestEnv(t, withLimiter(cfg))

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/role-definitions/extract", map[string]string{"jd_text": testJD})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	}

	w := env.do(t, http.MethodPost, "/role-definitions/extract", map[string]string{"jd_text": testJD})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, 2, env.extractLM.Calls())

	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	w := env.doAs(t, "", http.MethodOptions, "/projects", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestErrorResponse_HidesInternals(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	env.server.errorResponse(w, r, errors.New("pq: password authentication failed for user admin"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
