package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SubscriberRepositoryImpl implements the SubscriberRepository interface
type SubscriberRepositoryImpl struct {
	*BaseRepository[models.Subscriber, models.SubscriberFilter]
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &SubscriberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Subscriber, models.SubscriberFilter](db),
	}
}

// ByChatID retrieves a subscriber by chat id
func (r *SubscriberRepositoryImpl) ByChatID(ctx context.Context, chatID string) (*models.Subscriber, error) {
	rows, err := r.ByFilter(ctx, models.SubscriberFilter{ChatIDs: []string{chatID}}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ByFilter retrieves subscribers based on filter criteria
func (r *SubscriberRepositoryImpl) ByFilter(ctx context.Context, filter models.SubscriberFilter, orderBy string, limit, offset int) ([]*models.Subscriber, error) {
	db := r.getDB(ctx)

	var subscribers []*models.Subscriber
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

	if err := query.Find(&subscribers).Error; err != nil {
		return nil, fmt.Errorf("failed to find subscribers: %w", err)
	}

	return subscribers, nil
}

// Count returns the number of subscribers matching the filter
func (r *SubscriberRepositoryImpl) Count(ctx context.Context, filter models.SubscriberFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Subscriber{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}

	return count, nil
}

// Exists checks if any subscriber matching the filter exists
func (r *SubscriberRepositoryImpl) Exists(ctx context.Context, filter models.SubscriberFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *SubscriberRepositoryImpl) applyFilter(db *gorm.DB, filter models.SubscriberFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.ChatIDs) > 0 {
		db = db.Where("chat_id = ANY(?)", pq.Array(filter.ChatIDs))
	}
	if len(filter.ZodiacSigns) > 0 {
		db = db.Where("zodiac_sign = ANY(?)", pq.Array(filter.ZodiacSigns))
	}
	if len(filter.PlanCodes) > 0 {
		db = db.Where("plan_code = ANY(?)", pq.Array(filter.PlanCodes))
	}
	if len(filter.LanguageCodes) > 0 {
		db = db.Where("language_code = ANY(?)", pq.Array(filter.LanguageCodes))
	}
	if len(filter.Tags) > 0 {
		db = db.Where("tags && ?", pq.Array(filter.Tags))
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	if filter.IsBlocked != nil {
		db = db.Where("is_blocked = ?", *filter.IsBlocked)
	}
	return db
}
