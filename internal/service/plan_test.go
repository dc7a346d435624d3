package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
	"github.com/avdotin/fitplan/internal/repository"
)

type fakeProfiles struct {
	profile   *model.Profile
	getErr    error
	upsertErr error

	upsertIn *model.Profile
}

var _ repository.ProfileRepository = (*fakeProfiles)(nil)

func (f *fakeProfiles) Get(_ context.Context, _ uuid.UUID) (*model.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.profile == nil {
		return nil, errs.ErrNotFound
	}
	c := *f.profile
	return &c, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, userID uuid.UUID, p model.Profile) (*model.Profile, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	c := p
	c.UserID = userID
	c.Ver = p.Ver + 1
	f.upsertIn = &c
	return &c, nil
}

type fakePlans struct {
	current   *model.PlanRecord
	getErr    error
	insertErr error
	ackErr    error

	inserted *model.PlanRecord
	ackVer   int64
}

var _ repository.PlanRepository = (*fakePlans)(nil)

func (f *fakePlans) GetCurrent(_ context.Context, _ uuid.UUID) (*model.PlanRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.current == nil {
		return nil, errs.ErrNotFound
	}
	c := *f.current
	return &c, nil
}

func (f *fakePlans) Insert(_ context.Context, rec *model.PlanRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	c := *rec
	f.inserted = &c
	f.current = &c
	return nil
}

func (f *fakePlans) Acknowledge(_ context.Context, _ uuid.UUID, version int64) error {
	f.ackVer = version
	return f.ackErr
}

func testProfile(userID uuid.UUID) *model.Profile {
	return &model.Profile{
		UserID: userID, Age: 30, Sex: model.SexMale, HeightCm: 180, WeightKg: 80,
		GoalWeightKg: 75, WeeklyRateKg: -0.5, ActivityLevel: model.ActivityModerate, Ver: 1,
	}
}

func TestPlanService_GetPlan_FirstGeneration(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	profiles := &fakeProfiles{profile: testProfile(userID)}
	plans := &fakePlans{}
	s := NewPlanService(profiles, plans).WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	rec, err := s.GetPlan(context.Background(), userID, false)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.Version != 1 || rec.Recomputed || rec.PrevTargets != nil {
		t.Fatalf("first generation must be v1 without previous targets: %+v", rec)
	}
	if rec.Targets.CalorieTarget <= 0 {
		t.Fatalf("targets not computed: %+v", rec.Targets)
	}
	if plans.inserted == nil {
		t.Fatalf("first generation must be persisted")
	}
}

func TestPlanService_GetPlan_ServesStoredWithoutRecompute(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	stored := &model.PlanRecord{ID: uuid.Must(uuid.NewV4()), UserID: userID, Version: 4}
	profiles := &fakeProfiles{profile: testProfile(userID)}
	plans := &fakePlans{current: stored}
	s := NewPlanService(profiles, plans)

	rec, err := s.GetPlan(context.Background(), userID, false)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.Version != 4 {
		t.Fatalf("want stored generation, got %+v", rec)
	}
	if plans.inserted != nil {
		t.Fatalf("no insert expected when serving stored plan")
	}
}

func TestPlanService_GetPlan_RecomputeCarriesPrevious(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	stored := &model.PlanRecord{
		ID: uuid.Must(uuid.NewV4()), UserID: userID, Version: 2,
		Targets: model.TargetBundle{CalorieTarget: 2100, ProteinTarget: 140},
	}
	profiles := &fakeProfiles{profile: testProfile(userID)}
	plans := &fakePlans{current: stored}
	s := NewPlanService(profiles, plans)

	rec, err := s.GetPlan(context.Background(), userID, true)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.Version != 3 || !rec.Recomputed {
		t.Fatalf("recompute must bump version and flag: %+v", rec)
	}
	if rec.PrevTargets == nil || rec.PrevTargets.CalorieTarget != 2100 {
		t.Fatalf("recompute must carry retired targets: %+v", rec.PrevTargets)
	}
}

func TestPlanService_GetPlan_NoProfileIsNotFound(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	s := NewPlanService(&fakeProfiles{}, &fakePlans{})

	if _, err := s.GetPlan(context.Background(), userID, false); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound without profile, got %v", err)
	}
}

func TestPlanService_GetPlan_Validation(t *testing.T) {
	t.Parallel()
	s := NewPlanService(&fakeProfiles{}, &fakePlans{})
	if _, err := s.GetPlan(context.Background(), uuid.Nil, false); err == nil {
		t.Fatalf("want validation error on empty userID")
	}
}

func TestPlanService_UpdateProfile_Delegates(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	profiles := &fakeProfiles{}
	s := NewPlanService(profiles, &fakePlans{})

	p := *testProfile(userID)
	out, err := s.UpdateProfile(context.Background(), userID, p)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if out.Ver != p.Ver+1 {
		t.Fatalf("version bump expected: %+v", out)
	}

	profiles.upsertErr = errs.ErrVersionConflict
	if _, err := s.UpdateProfile(context.Background(), userID, p); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want conflict propagate, got %v", err)
	}
}

func TestPlanService_Acknowledge(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	plans := &fakePlans{}
	s := NewPlanService(&fakeProfiles{}, plans)

	if err := s.Acknowledge(context.Background(), uuid.Nil, 1); err == nil {
		t.Fatalf("want validation error on empty userID")
	}
	if err := s.Acknowledge(context.Background(), userID, 0); err == nil {
		t.Fatalf("want validation error on non-positive version")
	}
	if err := s.Acknowledge(context.Background(), userID, 3); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if plans.ackVer != 3 {
		t.Fatalf("version not forwarded: %d", plans.ackVer)
	}

	plans.ackErr = errs.ErrNotFound
	if err := s.Acknowledge(context.Background(), userID, 2); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on stale version, got %v", err)
	}
}
