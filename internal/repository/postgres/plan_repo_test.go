package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleProfile(userID uuid.UUID, ver int64) model.Profile {
	return model.Profile{
		UserID: userID, Age: 30, Sex: model.SexMale, HeightCm: 180, WeightKg: 80,
		GoalWeightKg: 75, WeeklyRateKg: -0.5, ActivityLevel: model.ActivityModerate, Ver: ver,
	}
}

func TestProfileRepo_Upsert_Update_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	p := sampleProfile(userID, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT ver FROM profiles WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"ver"}).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE profiles`).
		WithArgs(userID, p.Age, p.Sex, p.HeightCm, p.WeightKg, p.GoalWeightKg,
			p.WeeklyRateKg, p.ActivityLevel, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := r.Upsert(ctx, userID, p)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Ver)
}

func TestProfileRepo_Upsert_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	p := sampleProfile(userID, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT ver FROM profiles WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO profiles`).
		WithArgs(userID, p.Age, p.Sex, p.HeightCm, p.WeightKg, p.GoalWeightKg,
			p.WeeklyRateKg, p.ActivityLevel, int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	out, err := r.Upsert(ctx, userID, p)
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Ver)
}

func TestProfileRepo_Upsert_VersionConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT ver FROM profiles WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"ver"}).AddRow(int64(5)))
	mock.ExpectRollback()

	_, err := r.Upsert(ctx, userID, sampleProfile(userID, 3))
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestProfileRepo_Upsert_CreateWithNonZeroBase(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProfileRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT ver FROM profiles WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.Upsert(ctx, userID, sampleProfile(userID, 4))
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestPlanRepo_GetCurrent_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlanRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	planID := uuid.Must(uuid.NewV4())
	computedAt := time.Date(2023, 10, 31, 16, 0, 0, 123_000_000, time.UTC)
	prevCal := 2100.0

	cols := []string{
		"id", "user_id", "version", "computed_at", "acknowledged_at", "recomputed",
		"bmr", "tdee", "calorie_target", "protein_target_g", "water_target_ml",
		"weekly_rate_kg", "estimated_weeks", "projected_date",
		"prev_bmr", "prev_tdee", "prev_calorie_target", "prev_protein_target_g",
		"prev_water_target_ml", "prev_weekly_rate_kg",
	}
	mock.ExpectQuery(`SELECT .+ FROM plans WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			planID, userID, int64(3), computedAt, (*time.Time)(nil), true,
			1780.0, 2759.0, 2209.0, 144.0, 2800.0, -0.5, (*int)(nil), (*time.Time)(nil),
			&prevCal, &prevCal, &prevCal, &prevCal, &prevCal, &prevCal,
		))

	rec, err := r.GetCurrent(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.Version)
	require.True(t, rec.Recomputed)
	require.Nil(t, rec.AcknowledgedAt)
	require.NotNil(t, rec.PrevTargets)
	require.Equal(t, 2100.0, rec.PrevTargets.CalorieTarget)
}

func TestPlanRepo_GetCurrent_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlanRepo(db)

	userID := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`SELECT .+ FROM plans WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetCurrent(context.Background(), userID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPlanRepo_Insert_FirstGenerationHasNilPrev(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlanRepo(db)

	rec := &model.PlanRecord{
		ID:         uuid.Must(uuid.NewV4()),
		UserID:     uuid.Must(uuid.NewV4()),
		Version:    1,
		ComputedAt: time.Now().UTC(),
		Targets:    model.TargetBundle{BMR: 1780, TDEE: 2759, CalorieTarget: 2209, ProteinTarget: 144, WaterTarget: 2800, WeeklyRate: -0.5},
	}

	mock.ExpectExec(`INSERT INTO plans`).
		WithArgs(rec.ID, rec.UserID, rec.Version, rec.ComputedAt, rec.Recomputed,
			rec.Targets.BMR, rec.Targets.TDEE, rec.Targets.CalorieTarget, rec.Targets.ProteinTarget,
			rec.Targets.WaterTarget, rec.Targets.WeeklyRate, (*int)(nil), (*time.Time)(nil),
			(*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Insert(context.Background(), rec))
}

func TestPlanRepo_Acknowledge_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlanRepo(db)

	userID := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE plans`).
		WithArgs(userID, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, r.Acknowledge(context.Background(), userID, 3))
}

func TestPlanRepo_Acknowledge_StaleVersion(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlanRepo(db)

	userID := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE plans`).
		WithArgs(userID, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := r.Acknowledge(context.Background(), userID, 2)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
