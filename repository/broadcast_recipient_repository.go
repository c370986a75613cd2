package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"gorm.io/gorm"
)

// BroadcastRecipientRepositoryImpl implements the BroadcastRecipientRepository interface
type BroadcastRecipientRepositoryImpl struct {
	*BaseRepository[models.BroadcastRecipient, models.BroadcastRecipientFilter]
}

// NewBroadcastRecipientRepository creates a new broadcast recipient repository
func NewBroadcastRecipientRepository(db *gorm.DB) BroadcastRecipientRepository {
	return &BroadcastRecipientRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BroadcastRecipient, models.BroadcastRecipientFilter](db),
	}
}

// ListPending returns up to limit pending recipients of a job, oldest first
func (r *BroadcastRecipientRepositoryImpl) ListPending(ctx context.Context, jobID uint, limit int) ([]*models.BroadcastRecipient, error) {
	status := models.RecipientStatusPending
	return r.ByFilter(ctx, models.BroadcastRecipientFilter{JobID: &jobID, Status: &status}, "id ASC", limit, 0)
}

// MarkSent moves a pending recipient to sent
func (r *BroadcastRecipientRepositoryImpl) MarkSent(ctx context.Context, id uint, providerMessageID *int64, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.BroadcastRecipient{}).
		Where("id = ? AND status = ?", id, models.RecipientStatusPending).
		Updates(map[string]any{
			"status":              models.RecipientStatusSent,
			"sent_at":             now,
			"provider_message_id": providerMessageID,
			"error":               nil,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark recipient %d sent: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed moves a pending recipient to failed with the provider's reason
func (r *BroadcastRecipientRepositoryImpl) MarkFailed(ctx context.Context, id uint, reason string, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.BroadcastRecipient{}).
		Where("id = ? AND status = ?", id, models.RecipientStatusPending).
		Updates(map[string]any{
			"status":     models.RecipientStatusFailed,
			"error":      reason,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark recipient %d failed: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountByStatus aggregates a job's recipients by status
func (r *BroadcastRecipientRepositoryImpl) CountByStatus(ctx context.Context, jobID uint) (models.RecipientCounts, error) {
	type row struct {
		Status models.RecipientStatus
		Count  int
	}

	var rows []row
	db := r.getDB(ctx)
	err := db.Model(&models.BroadcastRecipient{}).
		Select("status, COUNT(*) AS count").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.RecipientCounts{}, fmt.Errorf("failed to count recipients of job %d: %w", jobID, err)
	}

	var counts models.RecipientCounts
	for _, r := range rows {
		switch r.Status {
		case models.RecipientStatusPending:
			counts.Pending = r.Count
		case models.RecipientStatusSent:
			counts.Sent = r.Count
		case models.RecipientStatusFailed:
			counts.Failed = r.Count
		}
	}
	return counts, nil
}

// ByFilter retrieves recipients based on filter criteria
func (r *BroadcastRecipientRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastRecipientFilter, orderBy string, limit, offset int) ([]*models.BroadcastRecipient, error) {
	db := r.getDB(ctx)

	var recipients []*models.BroadcastRecipient
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

	if err := query.Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to find broadcast recipients: %w", err)
	}

	return recipients, nil
}

// Count returns the number of recipients matching the filter
func (r *BroadcastRecipientRepositoryImpl) Count(ctx context.Context, filter models.BroadcastRecipientFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.BroadcastRecipient{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count broadcast recipients: %w", err)
	}

	return count, nil
}

// Exists checks if any recipient matching the filter exists
func (r *BroadcastRecipientRepositoryImpl) Exists(ctx context.Context, filter models.BroadcastRecipientFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *BroadcastRecipientRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastRecipientFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.JobID != nil {
		db = db.Where("job_id = ?", *filter.JobID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.ExternalRecipientID != nil {
		db = db.Where("external_recipient_id = ?", *filter.ExternalRecipientID)
	}
	return db
}
