package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
)

// ProfileRepo implements ProfileRepository using PostgreSQL.
type ProfileRepo struct{ db *DB }

// NewProfileRepo constructs a profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

// Get loads the profile for a user.
func (r *ProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	const q = `
SELECT user_id, age, sex, height_cm, weight_kg, goal_weight_kg, weekly_rate_kg, activity_level, ver, updated_at
FROM profiles WHERE user_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, userID)
	var p model.Profile
	if err := row.Scan(&p.UserID, &p.Age, &p.Sex, &p.HeightCm, &p.WeightKg,
		&p.GoalWeightKg, &p.WeeklyRateKg, &p.ActivityLevel, &p.Ver, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Upsert writes the profile with optimistic concurrency (ver++).
func (r *ProfileRepo) Upsert(
	ctx context.Context, userID uuid.UUID, p model.Profile,
) (out *model.Profile, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT ver FROM profiles WHERE user_id=$1 FOR UPDATE`
	const ins = `
INSERT INTO profiles (user_id, age, sex, height_cm, weight_kg, goal_weight_kg, weekly_rate_kg, activity_level, ver)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	const upd = `
UPDATE profiles
SET age=$2, sex=$3, height_cm=$4, weight_kg=$5, goal_weight_kg=$6, weekly_rate_kg=$7, activity_level=$8, ver=$9, updated_at=now()
WHERE user_id=$1`

	var curVer int64
	scanErr := tx.QueryRow(ctx, sel, userID).Scan(&curVer)
	var newVer int64
	switch {
	case scanErr == nil:
		if curVer != p.Ver {
			return nil, errs.ErrVersionConflict
		}
		newVer = curVer + 1
		if _, err = tx.Exec(ctx, upd, userID, p.Age, p.Sex, p.HeightCm, p.WeightKg,
			p.GoalWeightKg, p.WeeklyRateKg, p.ActivityLevel, newVer); err != nil {
			return nil, err
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		if p.Ver != 0 {
			return nil, errs.ErrVersionConflict
		}
		newVer = 1
		if _, err = tx.Exec(ctx, ins, userID, p.Age, p.Sex, p.HeightCm, p.WeightKg,
			p.GoalWeightKg, p.WeeklyRateKg, p.ActivityLevel, newVer); err != nil {
			return nil, err
		}
	default:
		return nil, scanErr
	}

	res := p
	res.UserID = userID
	res.Ver = newVer
	return &res, nil
}

// PlanRepo implements PlanRepository using PostgreSQL. One row holds the
// current generation per user; the previous targets are kept inline so the
// client can diff without a second query.
type PlanRepo struct{ db *DB }

// NewPlanRepo constructs a plan repository.
func NewPlanRepo(db *DB) *PlanRepo { return &PlanRepo{db: db} }

const planColumns = `
id, user_id, version, computed_at, acknowledged_at, recomputed,
bmr, tdee, calorie_target, protein_target_g, water_target_ml, weekly_rate_kg, estimated_weeks, projected_date,
prev_bmr, prev_tdee, prev_calorie_target, prev_protein_target_g, prev_water_target_ml, prev_weekly_rate_kg`

// GetCurrent returns the latest plan generation for a user.
func (r *PlanRepo) GetCurrent(ctx context.Context, userID uuid.UUID) (*model.PlanRecord, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE user_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, userID)

	var (
		rec      model.PlanRecord
		prevBMR  *float64
		prevTDEE *float64
		prevCal  *float64
		prevProt *float64
		prevWat  *float64
		prevRate *float64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Version, &rec.ComputedAt, &rec.AcknowledgedAt, &rec.Recomputed,
		&rec.Targets.BMR, &rec.Targets.TDEE, &rec.Targets.CalorieTarget, &rec.Targets.ProteinTarget,
		&rec.Targets.WaterTarget, &rec.Targets.WeeklyRate, &rec.Targets.EstimatedWeeks, &rec.Targets.ProjectedDate,
		&prevBMR, &prevTDEE, &prevCal, &prevProt, &prevWat, &prevRate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if prevBMR != nil {
		rec.PrevTargets = &model.TargetBundle{
			BMR: *prevBMR, TDEE: *prevTDEE, CalorieTarget: *prevCal,
			ProteinTarget: *prevProt, WaterTarget: *prevWat, WeeklyRate: *prevRate,
		}
	}
	return &rec, nil
}

// Insert persists a new generation, replacing the user's previous one.
func (r *PlanRepo) Insert(ctx context.Context, rec *model.PlanRecord) error {
	const q = `
INSERT INTO plans (id, user_id, version, computed_at, recomputed,
  bmr, tdee, calorie_target, protein_target_g, water_target_ml, weekly_rate_kg, estimated_weeks, projected_date,
  prev_bmr, prev_tdee, prev_calorie_target, prev_protein_target_g, prev_water_target_ml, prev_weekly_rate_kg)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (user_id) DO UPDATE SET
  id=EXCLUDED.id, version=EXCLUDED.version, computed_at=EXCLUDED.computed_at,
  acknowledged_at=NULL, recomputed=EXCLUDED.recomputed,
  bmr=EXCLUDED.bmr, tdee=EXCLUDED.tdee, calorie_target=EXCLUDED.calorie_target,
  protein_target_g=EXCLUDED.protein_target_g, water_target_ml=EXCLUDED.water_target_ml,
  weekly_rate_kg=EXCLUDED.weekly_rate_kg, estimated_weeks=EXCLUDED.estimated_weeks,
  projected_date=EXCLUDED.projected_date,
  prev_bmr=EXCLUDED.prev_bmr, prev_tdee=EXCLUDED.prev_tdee,
  prev_calorie_target=EXCLUDED.prev_calorie_target, prev_protein_target_g=EXCLUDED.prev_protein_target_g,
  prev_water_target_ml=EXCLUDED.prev_water_target_ml, prev_weekly_rate_kg=EXCLUDED.prev_weekly_rate_kg`

	var (
		prevBMR, prevTDEE, prevCal, prevProt, prevWat, prevRate *float64
	)
	if p := rec.PrevTargets; p != nil {
		prevBMR, prevTDEE, prevCal = &p.BMR, &p.TDEE, &p.CalorieTarget
		prevProt, prevWat, prevRate = &p.ProteinTarget, &p.WaterTarget, &p.WeeklyRate
	}
	_, err := r.db.Pool.Exec(ctx, q,
		rec.ID, rec.UserID, rec.Version, rec.ComputedAt, rec.Recomputed,
		rec.Targets.BMR, rec.Targets.TDEE, rec.Targets.CalorieTarget, rec.Targets.ProteinTarget,
		rec.Targets.WaterTarget, rec.Targets.WeeklyRate, rec.Targets.EstimatedWeeks, rec.Targets.ProjectedDate,
		prevBMR, prevTDEE, prevCal, prevProt, prevWat, prevRate)
	return err
}

// Acknowledge marks the given generation as seen. Re-acknowledging the same
// version is a no-op success; an unknown or superseded version is ErrNotFound.
func (r *PlanRepo) Acknowledge(ctx context.Context, userID uuid.UUID, version int64) error {
	const q = `
UPDATE plans
SET acknowledged_at = COALESCE(acknowledged_at, now())
WHERE user_id=$1 AND version=$2`
	tag, err := r.db.Pool.Exec(ctx, q, userID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
