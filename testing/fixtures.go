package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/utils"
)

// TestFixtures provides helper methods for creating test data in a TestDB
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestSubscriber inserts an active subscriber with the given chat id and sign
func (tf *TestFixtures) CreateTestSubscriber(chatID, zodiac string) (*models.Subscriber, error) {
	sub := NewSubscriber(chatID, zodiac)
	if err := tf.DB.DB.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create test subscriber: %w", err)
	}
	return sub, nil
}

// CreateTestJob inserts a queued job with one pending recipient per chat id
func (tf *TestFixtures) CreateTestJob(message string, chatIDs ...string) (*models.BroadcastJob, error) {
	job := NewJob(message, chatIDs...)
	recipients := job.Recipients
	job.Recipients = nil
	if err := tf.DB.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create test job: %w", err)
	}
	for i := range recipients {
		recipients[i].JobID = job.ID
	}
	if len(recipients) > 0 {
		if err := tf.DB.DB.Create(&recipients).Error; err != nil {
			return nil, fmt.Errorf("failed to create test recipients: %w", err)
		}
	}
	job.Recipients = recipients
	return job, nil
}

// AgeJob moves a job's created_at into the past
func (tf *TestFixtures) AgeJob(jobID uint, age time.Duration) error {
	return tf.DB.DB.Model(&models.BroadcastJob{}).
		Where("id = ?", jobID).
		Update("created_at", utils.UTCNow().Add(-age)).Error
}

// NewSubscriber builds an active, unblocked subscriber
func NewSubscriber(chatID, zodiac string) *models.Subscriber {
	name := "user " + chatID
	return &models.Subscriber{
		ChatID:     chatID,
		FirstName:  &name,
		ZodiacSign: utils.ToPtr(zodiac),
		IsActive:   utils.ToPtr(true),
		IsBlocked:  utils.ToPtr(false),
	}
}

// NewJob builds a queued job with one pending recipient per chat id
func NewJob(message string, chatIDs ...string) *models.BroadcastJob {
	job := &models.BroadcastJob{
		Message: message,
		Status:  models.BroadcastJobStatusQueued,
		Total:   len(chatIDs),
	}
	for _, id := range chatIDs {
		job.Recipients = append(job.Recipients, models.BroadcastRecipient{
			ExternalRecipientID: id,
			Status:              models.RecipientStatusPending,
		})
	}
	return job
}
