// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// Transactor runs fn in one database transaction carried by the returned context
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// BroadcastJobRepository defines operations for broadcast jobs.
// Every status write is conditional on the allowed source statuses and
// reports whether a row was changed.
type BroadcastJobRepository interface {
	Repository[models.BroadcastJob, models.BroadcastJobFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.BroadcastJob, error)
	// NextActionable returns the oldest queued or running job, or nil
	NextActionable(ctx context.Context) (*models.BroadcastJob, error)
	// Claim atomically takes the job for one batch; false means another drive owns it or it is not actionable
	Claim(ctx context.Context, id uint, now time.Time, guardWindow time.Duration) (bool, error)
	// ReleaseClaim clears the lease only while it is still the one stamped at claimedAt
	ReleaseClaim(ctx context.Context, id uint, claimedAt time.Time) (bool, error)
	ApplyDelta(ctx context.Context, id uint, sentDelta, failedDelta int) error
	// TransitionStatus ignores sources from which to is not a legal lifecycle step
	TransitionStatus(ctx context.Context, id uint, from []models.BroadcastJobStatus, to models.BroadcastJobStatus, now time.Time) (bool, error)
	// Finalize writes the reconciled counters and moves a running job to done
	Finalize(ctx context.Context, id uint, counts models.RecipientCounts, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string, now time.Time) (bool, error)
	SetDeliveryWarning(ctx context.Context, id uint, warning string) error
	ListIDs(ctx context.Context, statuses []models.BroadcastJobStatus, createdBefore *time.Time) ([]uint, error)
	DeleteWithRecipients(ctx context.Context, id uint) (bool, error)
}

// BroadcastRecipientRepository defines operations for broadcast recipients.
// MarkSent and MarkFailed only move rows that are still pending.
type BroadcastRecipientRepository interface {
	Repository[models.BroadcastRecipient, models.BroadcastRecipientFilter]
	ListPending(ctx context.Context, jobID uint, limit int) ([]*models.BroadcastRecipient, error)
	MarkSent(ctx context.Context, id uint, providerMessageID *int64, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string, now time.Time) (bool, error)
	CountByStatus(ctx context.Context, jobID uint) (models.RecipientCounts, error)
}

// SubscriberRepository defines operations for bot subscribers
type SubscriberRepository interface {
	Repository[models.Subscriber, models.SubscriberFilter]
	ByChatID(ctx context.Context, chatID string) (*models.Subscriber, error)
}
