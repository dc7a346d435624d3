// Package api defines the JSON wire schema shared by the server handlers
// and the client, plus conversions to and from domain types.
package api

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/avdotin/fitplan/internal/model"
)

// ComputedAtFormat is how the server renders plan computation timestamps.
// Clients must treat the rendered value as an opaque token and echo it
// verbatim on acknowledgment; fractional seconds do not survive a
// parse-and-reformat cycle.
const ComputedAtFormat = "2006-01-02T15:04:05.000Z07:00"

// --- auth ---

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// ErrorResponse carries a machine-stable code and a human message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- plan ---

type Targets struct {
	BMR            float64 `json:"bmr"`
	TDEE           float64 `json:"tdee"`
	CalorieTarget  float64 `json:"calorie_target"`
	ProteinTargetG float64 `json:"protein_target_g"`
	WaterTargetMl  float64 `json:"water_target_ml"`
	WeeklyRateKg   float64 `json:"weekly_rate_kg"`
	EstimatedWeeks *int    `json:"estimated_weeks,omitempty"`
	ProjectedDate  *string `json:"projected_date,omitempty"`
}

type PlanResponse struct {
	ID                  string   `json:"id"`
	Version             int64    `json:"version"`
	ComputedAt          string   `json:"computed_at"`
	Recomputed          bool     `json:"recomputed"`
	NeedsAcknowledgment bool     `json:"needs_acknowledgment"`
	Targets             Targets  `json:"targets"`
	PreviousTargets     *Targets `json:"previous_targets,omitempty"`
}

type AckRequest struct {
	Version    int64  `json:"version"`
	ComputedAt string `json:"computed_at"`
}

// --- profile ---

type ProfileRequest struct {
	Age           int     `json:"age"`
	Sex           string  `json:"sex"`
	HeightCm      float64 `json:"height_cm"`
	WeightKg      float64 `json:"weight_kg"`
	GoalWeightKg  float64 `json:"goal_weight_kg"`
	WeeklyRateKg  float64 `json:"weekly_rate_kg"`
	ActivityLevel string  `json:"activity_level"`
	BaseVer       int64   `json:"base_ver"`
}

type ProfileResponse struct {
	Age           int       `json:"age"`
	Sex           string    `json:"sex"`
	HeightCm      float64   `json:"height_cm"`
	WeightKg      float64   `json:"weight_kg"`
	GoalWeightKg  float64   `json:"goal_weight_kg"`
	WeeklyRateKg  float64   `json:"weekly_rate_kg"`
	ActivityLevel string    `json:"activity_level"`
	Ver           int64     `json:"ver"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// --- conversions ---

// ToWireTargets converts a domain bundle to its wire form.
func ToWireTargets(b model.TargetBundle) Targets {
	t := Targets{
		BMR:            b.BMR,
		TDEE:           b.TDEE,
		CalorieTarget:  b.CalorieTarget,
		ProteinTargetG: b.ProteinTarget,
		WaterTargetMl:  b.WaterTarget,
		WeeklyRateKg:   b.WeeklyRate,
		EstimatedWeeks: b.EstimatedWeeks,
	}
	if b.ProjectedDate != nil {
		s := b.ProjectedDate.UTC().Format("2006-01-02")
		t.ProjectedDate = &s
	}
	return t
}

// FromWireTargets converts wire targets back to the domain bundle.
func FromWireTargets(t Targets) model.TargetBundle {
	b := model.TargetBundle{
		BMR:            t.BMR,
		TDEE:           t.TDEE,
		CalorieTarget:  t.CalorieTarget,
		ProteinTarget:  t.ProteinTargetG,
		WaterTarget:    t.WaterTargetMl,
		WeeklyRate:     t.WeeklyRateKg,
		EstimatedWeeks: t.EstimatedWeeks,
	}
	if t.ProjectedDate != nil {
		if d, err := time.Parse("2006-01-02", *t.ProjectedDate); err == nil {
			b.ProjectedDate = &d
		}
	}
	return b
}

// ToWirePlan renders a persisted plan generation for a client.
func ToWirePlan(rec model.PlanRecord) PlanResponse {
	resp := PlanResponse{
		ID:                  rec.ID.String(),
		Version:             rec.Version,
		ComputedAt:          rec.ComputedAt.UTC().Format(ComputedAtFormat),
		Recomputed:          rec.Recomputed,
		NeedsAcknowledgment: rec.AcknowledgedAt == nil,
		Targets:             ToWireTargets(rec.Targets),
	}
	if rec.PrevTargets != nil {
		prev := ToWireTargets(*rec.PrevTargets)
		resp.PreviousTargets = &prev
	}
	return resp
}

// FromWirePlan converts a plan response into the client-side artifact.
// ComputedAt is copied as-is: the artifact keeps the server's exact token.
func FromWirePlan(resp PlanResponse) (*model.PlanArtifact, error) {
	id, err := u.FromString(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid plan id: %w", err)
	}
	a := &model.PlanArtifact{
		ID:                  id,
		Version:             resp.Version,
		ComputedAt:          resp.ComputedAt,
		Targets:             FromWireTargets(resp.Targets),
		Recomputed:          resp.Recomputed,
		NeedsAcknowledgment: resp.NeedsAcknowledgment,
	}
	if resp.PreviousTargets != nil {
		prev := FromWireTargets(*resp.PreviousTargets)
		a.PreviousTargets = &prev
	}
	return a, nil
}

// ToWireProfile renders a profile.
func ToWireProfile(p model.Profile) ProfileResponse {
	return ProfileResponse{
		Age:           p.Age,
		Sex:           string(p.Sex),
		HeightCm:      p.HeightCm,
		WeightKg:      p.WeightKg,
		GoalWeightKg:  p.GoalWeightKg,
		WeeklyRateKg:  p.WeeklyRateKg,
		ActivityLevel: string(p.ActivityLevel),
		Ver:           p.Ver,
		UpdatedAt:     p.UpdatedAt,
	}
}

// FromWireProfileRequest validates and converts a profile update intent.
func FromWireProfileRequest(req ProfileRequest) (model.Profile, error) {
	if req.Age <= 0 || req.Age > 130 {
		return model.Profile{}, fmt.Errorf("validation: age out of range")
	}
	if req.HeightCm <= 0 || req.WeightKg <= 0 {
		return model.Profile{}, fmt.Errorf("validation: non-positive height/weight")
	}
	if req.BaseVer < 0 {
		return model.Profile{}, fmt.Errorf("validation: negative base_ver")
	}
	switch model.Sex(req.Sex) {
	case model.SexMale, model.SexFemale:
	default:
		return model.Profile{}, fmt.Errorf("validation: unknown sex %q", req.Sex)
	}
	return model.Profile{
		Age:           req.Age,
		Sex:           model.Sex(req.Sex),
		HeightCm:      req.HeightCm,
		WeightKg:      req.WeightKg,
		GoalWeightKg:  req.GoalWeightKg,
		WeeklyRateKg:  req.WeeklyRateKg,
		ActivityLevel: model.ActivityLevel(req.ActivityLevel),
		Ver:           req.BaseVer,
	}, nil
}

// FromWireProfileResponse converts a server profile into the domain type.
func FromWireProfileResponse(resp ProfileResponse) model.Profile {
	return model.Profile{
		Age:           resp.Age,
		Sex:           model.Sex(resp.Sex),
		HeightCm:      resp.HeightCm,
		WeightKg:      resp.WeightKg,
		GoalWeightKg:  resp.GoalWeightKg,
		WeeklyRateKg:  resp.WeeklyRateKg,
		ActivityLevel: model.ActivityLevel(resp.ActivityLevel),
		Ver:           resp.Ver,
		UpdatedAt:     resp.UpdatedAt,
	}
}

// ToWireProfileRequest builds an update intent from a domain profile.
func ToWireProfileRequest(p model.Profile) ProfileRequest {
	return ProfileRequest{
		Age:           p.Age,
		Sex:           string(p.Sex),
		HeightCm:      p.HeightCm,
		WeightKg:      p.WeightKg,
		GoalWeightKg:  p.GoalWeightKg,
		WeeklyRateKg:  p.WeeklyRateKg,
		ActivityLevel: string(p.ActivityLevel),
		BaseVer:       p.Ver,
	}
}
