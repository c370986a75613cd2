package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BroadcastJobRepositoryImpl implements the BroadcastJobRepository interface
type BroadcastJobRepositoryImpl struct {
	*BaseRepository[models.BroadcastJob, models.BroadcastJobFilter]
}

// NewBroadcastJobRepository creates a new broadcast job repository
func NewBroadcastJobRepository(db *gorm.DB) BroadcastJobRepository {
	return &BroadcastJobRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastJob, models.BroadcastJobFilter](db),
	}
}

// Save inserts a job together with its recipients
func (r *BroadcastJobRepositoryImpl) Save(ctx context.Context, job *models.BroadcastJob) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	recipients := job.Recipients
	job.Recipients = nil
	job.Total = len(recipients)

	if err = db.Create(job).Error; err != nil {
		job.Recipients = recipients
		return fmt.Errorf("failed to save broadcast job: %w", err)
	}

	for i := range recipients {
		recipients[i].JobID = job.ID
		recipients[i].Status = models.RecipientStatusPending
	}
	if len(recipients) > 0 {
		if err = db.CreateInBatches(recipients, 500).Error; err != nil {
			job.Recipients = recipients
			return fmt.Errorf("failed to save broadcast recipients: %w", err)
		}
	}
	job.Recipients = recipients

	return nil
}

// ByUUID retrieves a job by its public identifier
func (r *BroadcastJobRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.BroadcastJob, error) {
	jobs, err := r.ByFilter(ctx, models.BroadcastJobFilter{UUID: &id}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// NextActionable returns the oldest queued or running job
func (r *BroadcastJobRepositoryImpl) NextActionable(ctx context.Context) (*models.BroadcastJob, error) {
	db := r.getDB(ctx)

	var job models.BroadcastJob
	err := db.Where("status IN ?", models.ActionableJobStatuses).
		Order("created_at ASC, id ASC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick next broadcast job: %w", err)
	}

	return &job, nil
}

// Claim sets the job running and stamps the lease in one conditional update.
// A running job is only taken over when its lease is absent or older than guardWindow.
func (r *BroadcastJobRepositoryImpl) Claim(ctx context.Context, id uint, now time.Time, guardWindow time.Duration) (bool, error) {
	db := r.getDB(ctx)
	now = leaseTime(now)

	expired := now.Add(-guardWindow)
	res := db.Model(&models.BroadcastJob{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND (claimed_at IS NULL OR claimed_at < ?))",
			models.BroadcastJobStatusQueued, models.BroadcastJobStatusRunning, expired).
		Updates(map[string]any{
			"status":     models.BroadcastJobStatusRunning,
			"claimed_at": now,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim broadcast job %d: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// ReleaseClaim clears the lease stamped at claimedAt so the next drive does not
// wait for the guard window. A lease taken over by another drive is left alone.
func (r *BroadcastJobRepositoryImpl) ReleaseClaim(ctx context.Context, id uint, claimedAt time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.BroadcastJob{}).
		Where("id = ? AND claimed_at = ?", id, leaseTime(claimedAt)).
		Update("claimed_at", nil)
	if res.Error != nil {
		return false, fmt.Errorf("failed to release claim on broadcast job %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// leaseTime matches the microsecond precision postgres keeps for timestamptz
func leaseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ApplyDelta increments the running sent and failed aggregates
func (r *BroadcastJobRepositoryImpl) ApplyDelta(ctx context.Context, id uint, sentDelta, failedDelta int) error {
	if sentDelta == 0 && failedDelta == 0 {
		return nil
	}
	db := r.getDB(ctx)
	err := db.Model(&models.BroadcastJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent":       gorm.Expr("sent + ?", sentDelta),
			"failed":     gorm.Expr("failed + ?", failedDelta),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update counters of broadcast job %d: %w", id, err)
	}
	return nil
}

// TransitionStatus moves the job to `to` only while it is in one of `from`
func (r *BroadcastJobRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.BroadcastJobStatus, to models.BroadcastJobStatus, now time.Time) (bool, error) {
	from = models.TransitionSources(from, to)
	if len(from) == 0 {
		return false, nil
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	switch {
	case to.IsTerminal():
		updates["finished_at"] = now
		updates["claimed_at"] = nil
	case to == models.BroadcastJobStatusRunning:
		// a live lease survives resume so an in-flight batch keeps its ownership
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	}

	db := r.getDB(ctx)
	res := db.Model(&models.BroadcastJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move broadcast job %d to %s: %w", id, to, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// Finalize reconciles counters from recipient rows and closes a running job
func (r *BroadcastJobRepositoryImpl) Finalize(ctx context.Context, id uint, counts models.RecipientCounts, now time.Time) (bool, error) {
	db := r.getDB(ctx)

	err := db.Model(&models.BroadcastJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent":       counts.Sent,
			"failed":     counts.Failed,
			"updated_at": now,
		}).Error
	if err != nil {
		return false, fmt.Errorf("failed to reconcile broadcast job %d: %w", id, err)
	}

	if counts.Pending > 0 {
		return false, nil
	}

	return r.TransitionStatus(ctx, id, []models.BroadcastJobStatus{models.BroadcastJobStatusRunning}, models.BroadcastJobStatusDone, now)
}

// MarkFailed closes a running job after a systemic provider error
func (r *BroadcastJobRepositoryImpl) MarkFailed(ctx context.Context, id uint, reason string, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.BroadcastJob{}).
		Where("id = ? AND status = ?", id, models.BroadcastJobStatusRunning).
		Updates(map[string]any{
			"status":      models.BroadcastJobStatusFailed,
			"last_error":  reason,
			"finished_at": now,
			"claimed_at":  nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark broadcast job %d failed: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetDeliveryWarning stores the dropped-button report on the job
func (r *BroadcastJobRepositoryImpl) SetDeliveryWarning(ctx context.Context, id uint, warning string) error {
	db := r.getDB(ctx)
	err := db.Model(&models.BroadcastJob{}).
		Where("id = ?", id).
		Update("delivery_warning", warning).Error
	if err != nil {
		return fmt.Errorf("failed to set delivery warning on broadcast job %d: %w", id, err)
	}
	return nil
}

// ListIDs returns ids of jobs in the given statuses, optionally created before a cutoff
func (r *BroadcastJobRepositoryImpl) ListIDs(ctx context.Context, statuses []models.BroadcastJobStatus, createdBefore *time.Time) ([]uint, error) {
	db := r.getDB(ctx)

	query := r.applyFilter(db.Model(&models.BroadcastJob{}), models.BroadcastJobFilter{
		Statuses:      statuses,
		CreatedBefore: createdBefore,
	})

	var ids []uint
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list broadcast job ids: %w", err)
	}
	return ids, nil
}

// DeleteWithRecipients removes a job and every recipient row it owns
func (r *BroadcastJobRepositoryImpl) DeleteWithRecipients(ctx context.Context, id uint) (deleted bool, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	if err = db.Where("job_id = ?", id).Delete(&models.BroadcastRecipient{}).Error; err != nil {
		return false, fmt.Errorf("failed to delete recipients of broadcast job %d: %w", id, err)
	}

	res := db.Delete(&models.BroadcastJob{}, id)
	if res.Error != nil {
		err = res.Error
		return false, fmt.Errorf("failed to delete broadcast job %d: %w", id, err)
	}

	return res.RowsAffected == 1, nil
}

// ByFilter retrieves jobs based on filter criteria
func (r *BroadcastJobRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastJobFilter, orderBy string, limit, offset int) ([]*models.BroadcastJob, error) {
	db := r.getDB(ctx)

	var jobs []*models.BroadcastJob
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find broadcast jobs: %w", err)
	}

	return jobs, nil
}

// Count returns the number of jobs matching the filter
func (r *BroadcastJobRepositoryImpl) Count(ctx context.Context, filter models.BroadcastJobFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.BroadcastJob{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count broadcast jobs: %w", err)
	}

	return count, nil
}

// Exists checks if any job matching the filter exists
func (r *BroadcastJobRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastJobFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *BroadcastJobRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastJobFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		db = db.Where("status IN ?", filter.Statuses)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
