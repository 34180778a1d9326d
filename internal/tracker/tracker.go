// Package tracker runs audition scaffold generation cycles and reports their
// status. One record exists per role definition; a changed bank_id starts a
// new cycle, an unchanged one reuses the stored result.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/llm"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/types"
	"golang.org/x/sync/singleflight"
)

// Defaults for Options.
const (
	DefaultTimeout  = 10 * time.Minute
	DefaultEstimate = 3 * time.Minute
	saveTimeout     = 15 * time.Second
	// minRemaining keeps the estimate positive once a cycle overruns it.
	minRemaining = 30 * time.Second
)

// Failure messages stored on FAILED records.
const (
	MsgTimedOut     = "generation timed out"
	MsgRateLimited  = "generation service is rate limited, try again shortly"
	MsgQuota        = "generation quota exceeded"
	MsgInvalid      = "generation returned an unusable scaffold"
	MsgUpstreamFail = "generation failed"
)

// Generator plans and generates scaffolds. *scaffold.Builder implements it.
type Generator interface {
	Plan(def types.RoleDefinitionData, flags types.RoleContextFlags, answers map[string]string) scaffold.Plan
	Generate(ctx context.Context, plan scaffold.Plan) (*types.ScaffoldResult, error)
}

// Options configures a Tracker.
type Options struct {
	// Timeout is the wall-clock budget of one generation cycle.
	Timeout time.Duration
	// Estimate is the advertised duration of a cycle.
	Estimate time.Duration
	// SharedCache reuses READY scaffolds with the same bank_id across projects.
	SharedCache bool
	Logger      *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Request identifies the scaffold to fetch or start.
type Request struct {
	ProjectID        uuid.UUID
	RoleDefinitionID uuid.UUID
	Definition       types.RoleDefinitionData
	Flags            types.RoleContextFlags
	Answers          map[string]string
}

// Tracker is the scaffold cache and status state machine.
type Tracker struct {
	store    Store
	gen      Generator
	timeout  time.Duration
	estimate time.Duration
	shared   bool
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc

	mu      sync.Mutex
	pending map[uuid.UUID]pendingSave
}

type pendingSave struct {
	key    CycleKey
	result *types.ScaffoldResult
}

// New creates a Tracker.
func New(store Store, gen Generator, opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Estimate <= 0 {
		opts.Estimate = DefaultEstimate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, stop := context.WithCancel(context.Background())
	return &Tracker{
		store:    store,
		gen:      gen,
		timeout:  opts.Timeout,
		estimate: opts.Estimate,
		shared:   opts.SharedCache,
		logger:   opts.Logger,
		now:      opts.Now,
		base:     base,
		stop:     stop,
		pending:  make(map[uuid.UUID]pendingSave),
	}
}

// GetOrStart returns the scaffold for req, starting a background generation
// cycle when none exists for the current bank_id. Concurrent calls for one
// role definition share a single claim.
func (t *Tracker) GetOrStart(ctx context.Context, req Request) (*types.AuditionScaffold, error) {
	return t.do(ctx, req, false, false)
}

// Retry starts a fresh cycle when the stored cycle FAILED. For any other
// state it behaves like GetOrStart.
func (t *Tracker) Retry(ctx context.Context, req Request) (*types.AuditionScaffold, error) {
	return t.do(ctx, req, true, false)
}

// BuildSync runs a claimed cycle in the calling goroutine and returns its
// final state. A freshly generated scaffold reports cache_hit=false.
func (t *Tracker) BuildSync(ctx context.Context, req Request, force bool) (*types.AuditionScaffold, error) {
	return t.do(ctx, req, force, true)
}

// Status reads the stored scaffold without starting anything.
func (t *Tracker) Status(ctx context.Context, roleDefinitionID uuid.UUID) (*types.AuditionScaffold, error) {
	if err := t.flushPending(ctx, roleDefinitionID); err != nil {
		return nil, err
	}
	rec, err := t.store.GetScaffold(ctx, roleDefinitionID)
	if err != nil {
		return nil, persistenceErr("load audition scaffold", err)
	}
	rec, err = t.expireStale(ctx, rec)
	if err != nil {
		return nil, err
	}
	return t.view(rec, true), nil
}

// Approve commits a READY scaffold.
func (t *Tracker) Approve(ctx context.Context, roleDefinitionID uuid.UUID) (*types.AuditionScaffold, error) {
	if err := t.flushPending(ctx, roleDefinitionID); err != nil {
		return nil, err
	}
	rec, err := t.store.ApproveScaffold(ctx, roleDefinitionID, t.now())
	if err != nil {
		return nil, persistenceErr("approve audition scaffold", err)
	}
	t.logger.Info("audition scaffold approved", "role_definition_id", roleDefinitionID, "bank_id", rec.BankID)
	return t.view(rec, true), nil
}

// Wait blocks until background cycles finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close cancels background cycles and waits for them.
func (t *Tracker) Close() {
	t.stop()
	t.wg.Wait()
}

func (t *Tracker) do(ctx context.Context, req Request, force, inline bool) (*types.AuditionScaffold, error) {
	plan := t.gen.Plan(req.Definition, req.Flags, req.Answers)
	key := req.RoleDefinitionID.String() + "/" + plan.BankID
	if force {
		key += "/retry"
	}
	if inline {
		key += "/inline"
	}

	v, err, shared := t.group.Do(key, func() (any, error) {
		return t.run(ctx, req, plan, force, inline)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*types.AuditionScaffold)
	if shared {
		t.logger.Debug("joined in-flight scaffold request", "role_definition_id", req.RoleDefinitionID, "bank_id", plan.BankID)
	}
	return &out, nil
}

func (t *Tracker) run(ctx context.Context, req Request, plan scaffold.Plan, force, inline bool) (*types.AuditionScaffold, error) {
	if err := t.flushPending(ctx, req.RoleDefinitionID); err != nil {
		return nil, err
	}

	rec, claimed, err := t.store.ClaimGeneration(ctx, Claim{
		ProjectID:              req.ProjectID,
		RoleDefinitionID:       req.RoleDefinitionID,
		BankID:                 plan.BankID,
		Dimensions:             plan.Selection.Dimensions,
		DimensionJustification: plan.Selection.Justification,
		Force:                  force,
		Now:                    t.now(),
	})
	if err != nil {
		return nil, persistenceErr("claim audition scaffold", err)
	}

	if !claimed {
		rec, err = t.expireStale(ctx, rec)
		if err != nil {
			return nil, err
		}
		return t.view(rec, true), nil
	}

	t.logger.Info("scaffold generation started",
		"project_id", req.ProjectID,
		"role_definition_id", req.RoleDefinitionID,
		"bank_id", plan.BankID,
		"attempt", rec.Attempt)

	if t.shared {
		if hit, ok := t.copyShared(ctx, rec); ok {
			return hit, nil
		}
	}

	if inline {
		genCtx, cancel := context.WithTimeout(ctx, t.timeout)
		result, genErr := t.gen.Generate(genCtx, plan)
		cancel()
		if err := t.finish(ctx, rec.Key(), result, genErr); err != nil {
			return nil, err
		}
		final, err := t.store.GetScaffold(ctx, req.RoleDefinitionID)
		if err != nil {
			return nil, persistenceErr("load audition scaffold", err)
		}
		return t.view(final, false), nil
	}

	t.launch(rec.Key(), plan)
	return t.view(rec, false), nil
}

// copyShared completes rec from a READY scaffold with the same bank_id.
func (t *Tracker) copyShared(ctx context.Context, rec *Record) (*types.AuditionScaffold, bool) {
	src, err := t.store.FindReadyByBankID(ctx, rec.BankID)
	if err != nil || src.Result == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			t.logger.Warn("shared scaffold lookup failed", "bank_id", rec.BankID, "error", err)
		}
		return nil, false
	}
	ok, err := t.store.CompleteGeneration(ctx, rec.Key(), src.Result, t.now())
	if err != nil || !ok {
		t.logger.Warn("failed to copy shared scaffold", "bank_id", rec.BankID, "error", err)
		return nil, false
	}
	final, err := t.store.GetScaffold(ctx, rec.RoleDefinitionID)
	if err != nil {
		return nil, false
	}
	t.logger.Info("reused shared scaffold", "bank_id", rec.BankID, "source_role_definition_id", src.RoleDefinitionID)
	return t.view(final, true), true
}

func (t *Tracker) launch(key CycleKey, plan scaffold.Plan) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(t.base, t.timeout)
		result, err := t.gen.Generate(ctx, plan)
		cancel()

		saveCtx, cancelSave := context.WithTimeout(context.Background(), saveTimeout)
		defer cancelSave()
		if err := t.finish(saveCtx, key, result, err); err != nil {
			t.logger.Error("failed to record scaffold outcome", "cycle", key.String(), "error", err)
		}
	}()
}

// finish writes the outcome of a cycle. A completed result that cannot be
// saved is kept for a later save-only retry.
func (t *Tracker) finish(ctx context.Context, key CycleKey, result *types.ScaffoldResult, genErr error) error {
	if genErr != nil {
		msg := failureMessage(genErr)
		t.logger.Warn("scaffold generation failed", "cycle", key.String(), "reason", msg, "error", genErr)
		if _, err := t.store.FailGeneration(ctx, key, msg, t.now()); err != nil {
			return persistenceErr("record failed generation", err)
		}
		return nil
	}

	ok, err := t.store.CompleteGeneration(ctx, key, result, t.now())
	if err != nil {
		t.mu.Lock()
		t.pending[key.RoleDefinitionID] = pendingSave{key: key, result: result}
		t.mu.Unlock()
		return persistenceErr("save audition scaffold", err)
	}
	if !ok {
		t.logger.Info("discarded superseded scaffold", "cycle", key.String())
		return nil
	}
	t.logger.Info("scaffold ready", "cycle", key.String(), "questions", len(result.ScaffoldData.Questions))
	return nil
}

// flushPending retries a save that failed after generation succeeded.
func (t *Tracker) flushPending(ctx context.Context, roleDefinitionID uuid.UUID) error {
	t.mu.Lock()
	p, ok := t.pending[roleDefinitionID]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	saved, err := t.store.CompleteGeneration(ctx, p.key, p.result, t.now())
	if err != nil {
		return persistenceErr("save audition scaffold", err)
	}

	t.mu.Lock()
	if cur, ok := t.pending[roleDefinitionID]; ok && cur.key == p.key {
		delete(t.pending, roleDefinitionID)
	}
	t.mu.Unlock()
	t.logger.Info("saved pending scaffold", "cycle", p.key.String(), "superseded", !saved)
	return nil
}

// expireStale fails a GENERATING record that has outlived the timeout.
func (t *Tracker) expireStale(ctx context.Context, rec *Record) (*Record, error) {
	if rec.Status != types.StatusGenerating || t.now().Sub(rec.StartedAt) < t.timeout {
		return rec, nil
	}
	if _, err := t.store.FailGeneration(ctx, rec.Key(), MsgTimedOut, t.now()); err != nil {
		return nil, persistenceErr("expire audition scaffold", err)
	}
	t.logger.Warn("scaffold generation timed out", "cycle", rec.Key().String(), "started_at", rec.StartedAt)
	fresh, err := t.store.GetScaffold(ctx, rec.RoleDefinitionID)
	if err != nil {
		return nil, persistenceErr("load audition scaffold", err)
	}
	return fresh, nil
}

func (t *Tracker) view(rec *Record, cacheHit bool) *types.AuditionScaffold {
	out := &types.AuditionScaffold{
		BankID:                 rec.BankID,
		Status:                 rec.Status,
		Attempt:                rec.Attempt,
		Dimensions:             rec.Dimensions,
		DimensionJustification: rec.DimensionJustification,
		ApprovedAt:             rec.ApprovedAt,
	}
	switch rec.Status {
	case types.StatusGenerating:
		elapsed := t.now().Sub(rec.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := t.estimate - elapsed
		if remaining < minRemaining {
			remaining = minRemaining
		}
		out.ElapsedMinutes = minutes(elapsed)
		out.EstimatedRemainingMinutes = minutes(remaining)
	case types.StatusReady:
		out.CacheHit = cacheHit
		if rec.Result != nil {
			data := rec.Result.ScaffoldData
			out.Questions = data.Questions
			out.ScaffoldData = &data
			out.ScaffoldPreviewHTML = rec.Result.ScaffoldPreviewHTML
		}
	case types.StatusFailed:
		out.Error = rec.Error
	}
	return out
}

func minutes(d time.Duration) float64 {
	return math.Round(d.Minutes()*100) / 100
}

func failureMessage(err error) string {
	var (
		rateLimited *llm.RateLimitedError
		quota       *llm.QuotaExceededError
		invalid     *scaffold.InvalidResponseError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimedOut
	case errors.As(err, &rateLimited):
		return MsgRateLimited
	case errors.As(err, &quota):
		return MsgQuota
	case errors.As(err, &invalid):
		return MsgInvalid
	default:
		return MsgUpstreamFail
	}
}
