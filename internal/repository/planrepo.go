package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avdotin/fitplan/internal/model"
)

// ProfileRepository stores body metrics with optimistic concurrency.
type ProfileRepository interface {
	// Get loads the profile for a user.
	Get(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	// Upsert writes the profile when its base version matches (ver++).
	// A missing row is created only when BaseVer is 0.
	Upsert(ctx context.Context, userID uuid.UUID, p model.Profile) (*model.Profile, error)
}

// PlanRepository stores plan generations and their acknowledgment state.
type PlanRepository interface {
	// GetCurrent returns the latest plan generation for a user.
	GetCurrent(ctx context.Context, userID uuid.UUID) (*model.PlanRecord, error)
	// Insert persists a new generation and retires the previous one.
	Insert(ctx context.Context, rec *model.PlanRecord) error
	// Acknowledge marks the given generation as seen. Returns
	// errs.ErrNotFound when version is no longer the current one.
	Acknowledge(ctx context.Context, userID uuid.UUID, version int64) error
}
