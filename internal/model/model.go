// Package model defines domain entities shared by services, repositories and the client engine.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Sex is the biological sex used by the BMR formula.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// ActivityLevel selects the TDEE multiplier.
type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

// TargetBundle is the server-computed set of daily nutrition targets.
// Immutable once constructed; produced only by the calc package.
type TargetBundle struct {
	BMR            float64    // kcal/day at rest
	TDEE           float64    // maintenance kcal/day
	CalorieTarget  float64    // goal kcal/day
	ProteinTarget  float64    // g/day
	WaterTarget    float64    // ml/day
	WeeklyRate     float64    // kg/week (negative = loss)
	EstimatedWeeks *int       // weeks to goal weight, nil when maintaining
	ProjectedDate  *time.Time // expected goal date, nil when maintaining
}

// PlanArtifact is one generation of a user's plan as served to clients.
// PreviousTargets is set only when this fetch triggered a server-side
// recompute; first-generation plans never carry it.
type PlanArtifact struct {
	ID                  uuid.UUID
	Version             int64
	ComputedAt          string // opaque server token, echoed verbatim on acknowledgment
	Targets             TargetBundle
	PreviousTargets     *TargetBundle
	Recomputed          bool
	NeedsAcknowledgment bool
}

// Summary extracts the acknowledgment-relevant part of the artifact.
func (a *PlanArtifact) Summary() MetricsSummary {
	return MetricsSummary{
		Version:             a.Version,
		ComputedAt:          a.ComputedAt,
		NeedsAcknowledgment: a.NeedsAcknowledgment,
	}
}

// MetricsSummary is the client-cached view of what may need acknowledging.
// ComputedAt is carried as the exact string received from the server:
// timestamp representations with and without fractional seconds do not
// survive a decode→re-encode round trip.
type MetricsSummary struct {
	Version             int64
	ComputedAt          string
	NeedsAcknowledgment bool
}

// AcknowledgmentRequest confirms the user has seen a plan generation.
type AcknowledgmentRequest struct {
	Version    int64
	ComputedAt string // byte-for-byte echo of the server-supplied token
}

// QueuedOperation is a pending acknowledgment awaiting offline replay.
type QueuedOperation struct {
	Op             AcknowledgmentRequest
	Attempts       int
	NextEligibleAt time.Time
	EnqueuedAt     time.Time
}

// Profile holds the body metrics the plan is derived from.
// Ver increases on every accepted update (optimistic concurrency).
type Profile struct {
	UserID        uuid.UUID
	Age           int
	Sex           Sex
	HeightCm      float64
	WeightKg      float64
	GoalWeightKg  float64
	WeeklyRateKg  float64 // desired change, kg/week (negative = loss)
	ActivityLevel ActivityLevel
	Ver           int64
	UpdatedAt     time.Time
}

// PlanRecord is the server-side persisted plan generation.
type PlanRecord struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Version        int64
	Targets        TargetBundle
	PrevTargets    *TargetBundle // populated on recompute only
	ComputedAt     time.Time
	AcknowledgedAt *time.Time
	Recomputed     bool
}

// User represents an account stored on the server. Passwords are stored
// only as Argon2id hashes with a per-user salt.
type User struct {
	ID        uuid.UUID
	Username  string
	PwdHash   []byte
	SaltAuth  []byte
	CreatedAt time.Time
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}
