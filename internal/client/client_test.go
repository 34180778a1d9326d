package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		name               string
		elapsed, remaining float64
		want               float64
	}{
		{"zero total", 0, 0, 0},
		{"start", 0, 3, 0},
		{"half", 1.5, 1.5, 50},
		{"ninety", 9, 1, 90},
		{"decelerated", 19, 1, 92.5},
		{"capped", 100, 0, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Progress(tt.elapsed, tt.remaining), 1e-9)
		})
	}
}

func TestExtract(t *testing.T) {
	projectID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/role-definitions/extract", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req types.ExtractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jd text", req.JDText)
		assert.Equal(t, projectID, *req.ProjectID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"definition_data":     map[string]string{"role_title": "AE"},
			"context_flags":       map[string]any{"role_family": "Sales"},
			"clarifier_questions": []string{"Quota?"},
			"project_id":          projectID,
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL, "tok").Extract(context.Background(), "jd text", &projectID)
	require.NoError(t, err)
	assert.Equal(t, "AE", res.DefinitionData.RoleTitle)
	assert.Equal(t, []string{"Quota?"}, res.ClarifierQuestions)
	assert.Equal(t, projectID, *res.ProjectID)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limited","message":"busy","retryable":true}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").StartAudition(context.Background(), uuid.New())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limited", apiErr.Kind)
	assert.True(t, apiErr.Retryable)
}

func TestAuditionRoutes(t *testing.T) {
	projectID := uuid.New()
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"READY","bank_id":"bank_1","questions":[],"cache_hit":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	ctx := context.Background()
	for _, call := range []func(context.Context, uuid.UUID) (*types.AuditionScaffold, error){
		c.StartAudition, c.GetAudition, c.RetryAudition, c.ApproveAudition,
	} {
		view, err := call(ctx, projectID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusReady, view.Status)
	}

	base := "/projects/" + projectID.String() + "/audition"
	assert.Equal(t, []string{
		"POST " + base,
		"GET " + base,
		"POST " + base + "/retry",
		"POST " + base + "/approve",
	}, got)
}

func TestWaitForAudition(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := polls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "GENERATING", "bank_id": "bank_1",
				"elapsed_minutes": float64(n), "estimated_remaining_minutes": 2.0,
			})
			return
		}
		_, _ = w.Write([]byte(`{"status":"READY","bank_id":"bank_1","questions":[{"question_id":"q1","dimension":"judgment","question_text":"Why?"}],"cache_hit":true}`))
	}))
	defer srv.Close()

	var progress []float64
	c := New(srv.URL, "tok", WithPollInterval(time.Millisecond))
	view, err := c.WaitForAudition(context.Background(), uuid.New(), func(v *types.AuditionScaffold, p float64) {
		assert.Equal(t, types.StatusGenerating, v.Status)
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, view.Status)
	require.Len(t, view.Questions, 1)
	assert.Equal(t, types.DimensionJudgment, view.Questions[0].Dimension)
	assert.Equal(t, int32(3), polls.Load())
	require.Len(t, progress, 2)
	assert.InDelta(t, 100.0/3, progress[0], 0.01)
	assert.InDelta(t, 50, progress[1], 0.01)
}

func TestWaitForAudition_StopsOnFailedAndCancel(t *testing.T) {
	t.Run("failed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"FAILED","error":"generation timed out"}`))
		}))
		defer srv.Close()

		view, err := New(srv.URL, "tok").WaitForAudition(context.Background(), uuid.New(), nil)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, view.Status)
		assert.Equal(t, "generation timed out", view.Error)
	})

	t.Run("cancel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"GENERATING","bank_id":"b","elapsed_minutes":0,"estimated_remaining_minutes":3}`))
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := New(srv.URL, "tok", WithPollInterval(time.Hour)).WaitForAudition(ctx, uuid.New(), nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
