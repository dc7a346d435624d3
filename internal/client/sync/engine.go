package sync

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/avdotin/fitplan/internal/client/queue"
	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
)

// DefaultMaxAge is the plan cache freshness window.
const DefaultMaxAge = time.Hour

// PlanAPI is the remote collaborator the engine synchronizes against.
type PlanAPI interface {
	FetchPlan(ctx context.Context, forceRecompute bool) (*model.PlanArtifact, error)
	SubmitAcknowledgment(ctx context.Context, req model.AcknowledgmentRequest) error
	GetProfile(ctx context.Context) (*model.Profile, error)
	UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error)
}

// Notifier receives the "plan changed significantly" event. Best effort;
// the engine never waits on it.
type Notifier interface {
	PlanChanged(old, current model.TargetBundle)
}

// ClassifiedError carries a ready-to-display classification. The engine
// never surfaces raw transport errors to callers.
type ClassifiedError struct {
	Classification
	cause error
}

func (e *ClassifiedError) Error() string { return e.UserMessage }
func (e *ClassifiedError) Unwrap() error { return e.cause }

// FetchResult is a successful (possibly degraded) plan read.
type FetchResult struct {
	Artifact model.PlanArtifact
	Stale    bool   // a refresh failed and the previous artifact is shown
	Notice   string // non-fatal user-visible message, empty when clean
}

// AckResult reports how an acknowledgment was delivered.
type AckResult struct {
	Queued bool // delivery deferred to the offline queue
	Notice string
}

// UpdateResult reports a profile mutation and its dependent recompute.
// The update can succeed while the recompute fails; that is still an
// overall success because the remote mutation cannot be taken back.
type UpdateResult struct {
	Profile model.Profile
	Plan    *FetchResult // nil when the dependent recompute failed
	Notice  string
}

// State is a read-only snapshot for the presentation layer.
type State struct {
	Artifact  *model.PlanArtifact
	Loading   bool
	Stale     bool
	LastError *Classification
	Queue     queue.Statistics
}

// Engine is the client-side synchronization orchestrator. Two locks: op
// serializes mutating operations end to end, so no interleaving can
// compare bundles from unrelated fetches; mu guards the in-memory state
// and is never held across a network call, so State stays readable while
// a fetch is in flight.
type Engine struct {
	op sync.Mutex
	mu sync.Mutex

	api      PlanAPI
	cache    *ArtifactCache
	queue    queue.Queue
	strategy Strategy
	notifier Notifier
	log      *zap.Logger

	maxAge time.Duration

	profile   *model.Profile
	loading   bool
	stale     bool
	lastError *Classification
}

// NewEngine wires the orchestrator. notifier may be nil.
func NewEngine(api PlanAPI, q queue.Queue, notifier Notifier, strategy Strategy, log *zap.Logger) *Engine {
	return &Engine{
		api:      api,
		cache:    NewArtifactCache(),
		queue:    q,
		strategy: strategy,
		notifier: notifier,
		log:      log,
		maxAge:   DefaultMaxAge,
	}
}

// WithMaxAge overrides the cache freshness window.
func (e *Engine) WithMaxAge(maxAge time.Duration) *Engine {
	e.maxAge = maxAge
	return e
}

// WithClock substitutes the cache time source. Test use.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.cache.WithClock(now)
	return e
}

// FetchPlan returns the cached artifact when it is fresh and force is
// false; otherwise it hits the network. A failed refresh with a prior
// cached artifact degrades to a stale read instead of an error.
func (e *Engine) FetchPlan(ctx context.Context, forceRecompute bool) (*FetchResult, error) {
	e.op.Lock()
	defer e.op.Unlock()
	return e.fetchPlanSerialized(ctx, forceRecompute)
}

// Recompute always hits the network.
func (e *Engine) Recompute(ctx context.Context) (*FetchResult, error) {
	return e.FetchPlan(ctx, true)
}

// fetchPlanSerialized runs with op held.
func (e *Engine) fetchPlanSerialized(ctx context.Context, forceRecompute bool) (*FetchResult, error) {
	e.mu.Lock()
	if !forceRecompute && e.cache.IsFresh(e.maxAge) {
		entry := e.cache.Get()
		stale := e.stale
		e.mu.Unlock()
		return &FetchResult{Artifact: entry.Artifact, Stale: stale}, nil
	}
	e.loading = true
	e.mu.Unlock()

	artifact, err := e.api.FetchPlan(ctx, forceRecompute)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loading = false

	if err != nil {
		return e.handleFetchFailureLocked(err)
	}

	e.cache.Put(*artifact)
	e.stale = false
	e.lastError = nil

	if artifact.PreviousTargets != nil && HasSignificantChange(artifact.PreviousTargets, artifact.Targets) {
		e.dispatchNotification(*artifact.PreviousTargets, artifact.Targets)
	}
	return &FetchResult{Artifact: *artifact}, nil
}

// handleFetchFailureLocked applies the error policy for a failed fetch;
// runs with mu held. With a prior cached artifact the failure degrades to
// a stale read; without one it is a hard, classified error.
func (e *Engine) handleFetchFailureLocked(err error) (*FetchResult, error) {
	cl := Classify(OpFetch, err)
	e.lastError = &cl

	if cl.SecuritySensitive {
		e.clearAllLocked()
		return nil, &ClassifiedError{Classification: cl, cause: err}
	}

	if entry := e.cache.Get(); entry != nil {
		e.stale = true
		e.log.Warn("plan refresh failed, serving last saved plan",
			zap.String("kind", string(cl.Kind)))
		return &FetchResult{
			Artifact: entry.Artifact,
			Stale:    true,
			Notice:   "Showing your last saved plan. " + cl.UserMessage,
		}, nil
	}
	return nil, &ClassifiedError{Classification: cl, cause: err}
}

// LoadProfile fetches and locally caches the profile.
func (e *Engine) LoadProfile(ctx context.Context) (*model.Profile, error) {
	e.op.Lock()
	defer e.op.Unlock()

	p, err := e.api.GetProfile(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		cl := Classify(OpFetch, err)
		if cl.SecuritySensitive {
			e.clearAllLocked()
		}
		e.lastError = &cl
		return nil, &ClassifiedError{Classification: cl, cause: err}
	}
	e.profile = p
	cp := *p
	return &cp, nil
}

// UpdateProfileAndRecompute applies mutate to the local profile
// optimistically, persists it remotely, then forces a plan recompute.
// A failed persist reverts the local profile. A failed recompute after a
// successful persist is reported as success with a notice; the remote
// mutation cannot be rolled back and must not look like one.
func (e *Engine) UpdateProfileAndRecompute(ctx context.Context, mutate func(*model.Profile)) (*UpdateResult, error) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	haveProfile := e.profile != nil
	e.mu.Unlock()

	if !haveProfile {
		p, err := e.api.GetProfile(ctx)
		if err != nil {
			cl := Classify(OpFetch, err)
			e.mu.Lock()
			if cl.SecuritySensitive {
				e.clearAllLocked()
			}
			e.lastError = &cl
			e.mu.Unlock()
			return nil, &ClassifiedError{Classification: cl, cause: err}
		}
		e.mu.Lock()
		e.profile = p
		e.mu.Unlock()
	}

	e.mu.Lock()
	snapshot := *e.profile
	mutate(e.profile)
	candidate := *e.profile
	e.mu.Unlock()

	updated, err := e.api.UpdateProfile(ctx, candidate)
	if err != nil {
		cl := Classify(OpUpdate, err)
		e.mu.Lock()
		if e.profile != nil {
			*e.profile = snapshot
		}
		if cl.SecuritySensitive {
			e.clearAllLocked()
		}
		e.lastError = &cl
		e.mu.Unlock()
		return nil, &ClassifiedError{Classification: cl, cause: err}
	}

	e.mu.Lock()
	e.profile = updated
	e.mu.Unlock()

	res := &UpdateResult{Profile: *updated}
	plan, err := e.fetchPlanSerialized(ctx, true)
	if err != nil {
		res.Notice = "Profile saved. The plan refresh failed and will catch up on the next sync."
		return res, nil
	}
	res.Plan = plan
	return res, nil
}

// Acknowledge confirms the cached plan generation was seen. The token is
// echoed to the server exactly as received. Retryable failures get a
// bounded number of immediate attempts and then fall back to the offline
// queue; security failures clear all cached state instead.
func (e *Engine) Acknowledge(ctx context.Context) (*AckResult, error) {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	entry := e.cache.Get()
	e.mu.Unlock()
	if entry == nil || !entry.Artifact.NeedsAcknowledgment {
		return nil, errs.ErrNothingToAcknowledge
	}
	summary := entry.Artifact.Summary()
	req := model.AcknowledgmentRequest{
		Version:    summary.Version,
		ComputedAt: summary.ComputedAt,
	}

	backoff := retry.WithMaxRetries(uint64(e.strategy.MaxAttempts-1),
		retry.WithCappedDuration(e.strategy.MaxDelay,
			retry.NewExponential(e.strategy.Base)))

	var lastCl Classification
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sendErr := e.api.SubmitAcknowledgment(ctx, req)
		if sendErr == nil {
			return nil
		}
		lastCl = Classify(OpAcknowledge, sendErr)
		if lastCl.Retryable {
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		e.markAcknowledgedLocked()
		return &AckResult{}, nil
	}
	if lastCl.Kind == "" {
		// cancelled before the first attempt completed
		lastCl = Classify(OpAcknowledge, err)
	}

	e.lastError = &lastCl
	switch {
	case lastCl.SecuritySensitive:
		e.clearAllLocked()
		return nil, &ClassifiedError{Classification: lastCl, cause: err}
	case lastCl.Kind == KindStaleData:
		// the plan moved on; drop the summary so the caller refetches
		e.markAcknowledgedLocked()
		return nil, &ClassifiedError{Classification: lastCl, cause: err}
	case lastCl.Retryable:
		if qErr := e.queue.Enqueue(req); qErr != nil {
			e.log.Error("enqueue acknowledgment", zap.Error(qErr))
			return nil, &ClassifiedError{Classification: lastCl, cause: err}
		}
		return &AckResult{
			Queued: true,
			Notice: "Could not reach the server. The acknowledgment is queued and will retry.",
		}, nil
	default:
		return nil, &ClassifiedError{Classification: lastCl, cause: err}
	}
}

// markAcknowledgedLocked flips the flag in place; FetchedAt moves only on
// successful fetches, never here. Runs with mu held.
func (e *Engine) markAcknowledgedLocked() {
	if e.cache.entry != nil {
		e.cache.entry.Artifact.NeedsAcknowledgment = false
	}
}

// Drain replays queued acknowledgments. A security-sensitive replay
// failure clears all cached state, same as an interactive failure would.
func (e *Engine) Drain(ctx context.Context) (queue.DrainResult, error) {
	e.op.Lock()
	defer e.op.Unlock()

	res, err := e.queue.Drain(ctx, e.api.SubmitAcknowledgment)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range res.Failures {
		cl := Classify(OpAcknowledge, f.Err)
		if cl.SecuritySensitive {
			e.clearAllLocked()
		}
		e.lastError = &cl
	}
	return res, err
}

// HasSignificantChanges compares the cached artifact's current targets
// against its previous generation.
func (e *Engine) HasSignificantChanges() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.cache.Get()
	if entry == nil {
		return false
	}
	return HasSignificantChange(entry.Artifact.PreviousTargets, entry.Artifact.Targets)
}

// State returns an observable snapshot. It takes only the state lock, so
// it stays responsive while a fetch or drain is in flight. Queue
// statistics errors surface as an empty Statistics; the snapshot itself
// never fails.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{Loading: e.loading, Stale: e.stale, LastError: e.lastError}
	if entry := e.cache.Get(); entry != nil {
		a := entry.Artifact
		st.Artifact = &a
	}
	if qs, err := e.queue.Statistics(); err == nil {
		st.Queue = qs
	}
	return st
}

// clearAllLocked is the confidentiality control: once authorization is in
// doubt, no fetched personal data stays resident. Runs with mu held.
func (e *Engine) clearAllLocked() {
	e.cache.Clear()
	e.profile = nil
	e.stale = false
	if err := e.queue.Clear(); err != nil {
		e.log.Error("clear offline queue", zap.Error(err))
	}
}

func (e *Engine) dispatchNotification(old, current model.TargetBundle) {
	if e.notifier == nil {
		return
	}
	go e.notifier.PlanChanged(old, current)
}
