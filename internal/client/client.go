// Package client is a Go client for the audition HTTP API, including
// polling until a scaffold finishes generating.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/types"
)

// DefaultPollInterval is the wait between status polls while a scaffold is GENERATING.
const DefaultPollInterval = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string `json:"error"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// Client talks to the audition API with a bearer token.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// New creates a client for the server at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExtractResult is the extraction response, with the ids set when the
// definition was stored on a project.
type ExtractResult struct {
	types.ExtractionResult
	ProjectID        *uuid.UUID `json:"project_id,omitempty"`
	RoleDefinitionID *uuid.UUID `json:"role_definition_id,omitempty"`
}

// Extract extracts a role definition from jdText. A non-nil projectID
// stores the result on that project.
func (c *Client) Extract(ctx context.Context, jdText string, projectID *uuid.UUID) (*ExtractResult, error) {
	var out ExtractResult
	body := types.ExtractRequest{JDText: jdText, ProjectID: projectID}
	if err := c.do(ctx, http.MethodPost, "/role-definitions/extract", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartAudition fetches the project's scaffold, starting generation if needed.
func (c *Client) StartAudition(ctx context.Context, projectID uuid.UUID) (*types.AuditionScaffold, error) {
	return c.audition(ctx, http.MethodPost, projectID, "")
}

// GetAudition polls the project's scaffold.
func (c *Client) GetAudition(ctx context.Context, projectID uuid.UUID) (*types.AuditionScaffold, error) {
	return c.audition(ctx, http.MethodGet, projectID, "")
}

// RetryAudition starts a fresh cycle after a FAILED one.
func (c *Client) RetryAudition(ctx context.Context, projectID uuid.UUID) (*types.AuditionScaffold, error) {
	return c.audition(ctx, http.MethodPost, projectID, "/retry")
}

// ApproveAudition commits a READY scaffold.
func (c *Client) ApproveAudition(ctx context.Context, projectID uuid.UUID) (*types.AuditionScaffold, error) {
	return c.audition(ctx, http.MethodPost, projectID, "/approve")
}

// ProgressFunc observes each GENERATING poll with its progress percentage.
type ProgressFunc func(view *types.AuditionScaffold, percent float64)

// WaitForAudition polls until the scaffold leaves GENERATING or ctx ends.
// The final READY or FAILED view is returned without an error; callers
// check Status.
func (c *Client) WaitForAudition(ctx context.Context, projectID uuid.UUID, onProgress ProgressFunc) (*types.AuditionScaffold, error) {
	for {
		view, err := c.GetAudition(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if view.Status != types.StatusGenerating {
			return view, nil
		}
		if onProgress != nil {
			onProgress(view, Progress(view.ElapsedMinutes, view.EstimatedRemainingMinutes))
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Progress converts elapsed and remaining minutes into a percentage for
// display. It grows linearly to 90, slows above that, and never passes 95.
func Progress(elapsed, remaining float64) float64 {
	total := elapsed + remaining
	if total <= 0 {
		return 0
	}
	p := elapsed / total * 100
	if p > 90 {
		p = 90 + (p-90)*0.5
	}
	return max(0, min(p, 95))
}

func (c *Client) audition(ctx context.Context, method string, projectID uuid.UUID, suffix string) (*types.AuditionScaffold, error) {
	var out types.AuditionScaffold
	if err := c.do(ctx, method, "/projects/"+projectID.String()+"/audition"+suffix, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr == nil {
			_ = json.Unmarshal(data, apiErr)
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(data))
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
