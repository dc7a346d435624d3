package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/avdotin/fitplan/internal/calc"
	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
	"github.com/avdotin/fitplan/internal/repository"
)

// PlanService defines plan computation, profile updates and acknowledgments.
type PlanService interface {
	// GetPlan returns the current plan, computing one when missing or when
	// recompute is forced.
	GetPlan(ctx context.Context, userID uuid.UUID, recompute bool) (*model.PlanRecord, error)
	// GetProfile returns the user's body metrics.
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	// UpdateProfile writes new metrics with optimistic concurrency.
	UpdateProfile(ctx context.Context, userID uuid.UUID, p model.Profile) (*model.Profile, error)
	// Acknowledge marks a plan generation as seen by the user.
	Acknowledge(ctx context.Context, userID uuid.UUID, version int64) error
}

type PlanServiceImpl struct {
	profiles repository.ProfileRepository
	plans    repository.PlanRepository
	now      func() time.Time
}

// NewPlanService constructs PlanService.
func NewPlanService(profiles repository.ProfileRepository, plans repository.PlanRepository) *PlanServiceImpl {
	return &PlanServiceImpl{profiles: profiles, plans: plans, now: time.Now}
}

// WithClock overrides the time source (tests).
func (s *PlanServiceImpl) WithClock(now func() time.Time) *PlanServiceImpl {
	s.now = now
	return s
}

// GetPlan serves the stored generation unless recompute is forced or no
// generation exists yet. A recompute carries the retired targets so clients
// can diff; a first generation never does.
func (s *PlanServiceImpl) GetPlan(ctx context.Context, userID uuid.UUID, recompute bool) (*model.PlanRecord, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}

	cur, err := s.plans.GetCurrent(ctx, userID)
	switch {
	case err == nil:
		if !recompute {
			return cur, nil
		}
	case errors.Is(err, errs.ErrNotFound):
		cur = nil
	default:
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		// No metrics yet: the plan genuinely does not exist.
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	rec := &model.PlanRecord{
		ID:         id,
		UserID:     userID,
		Version:    1,
		Targets:    calc.Targets(*profile, s.now()),
		ComputedAt: s.now().UTC(),
	}
	if cur != nil {
		prev := cur.Targets
		rec.Version = cur.Version + 1
		rec.PrevTargets = &prev
		rec.Recomputed = true
	}
	if err := s.plans.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetProfile loads the user's metrics.
func (s *PlanServiceImpl) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.profiles.Get(ctx, userID)
}

// UpdateProfile writes new metrics (ver++ on success). The plan is not
// recomputed here; clients request recomputation explicitly so a failed
// recompute never shadows a persisted profile update.
func (s *PlanServiceImpl) UpdateProfile(ctx context.Context, userID uuid.UUID, p model.Profile) (*model.Profile, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.profiles.Upsert(ctx, userID, p)
}

// Acknowledge marks the given generation as seen.
func (s *PlanServiceImpl) Acknowledge(ctx context.Context, userID uuid.UUID, version int64) error {
	if userID == uuid.Nil {
		return errors.New("validation: empty userID")
	}
	if version <= 0 {
		return errors.New("validation: non-positive version")
	}
	return s.plans.Acknowledge(ctx, userID, version)
}
