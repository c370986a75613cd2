package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// RecipientStatus enumerates the delivery state of one broadcast recipient
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// String returns the string representation of the status
func (s RecipientStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientStatusPending, RecipientStatusSent, RecipientStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for RecipientStatus
func (s *RecipientStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = RecipientStatus(v)
	case []byte:
		*s = RecipientStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RecipientStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for RecipientStatus
func (s RecipientStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid RecipientStatus: %s", s)
	}
	return string(s), nil
}

// BroadcastRecipient is one addressable target within a job's fan-out list
type BroadcastRecipient struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	JobID               uint            `gorm:"not null;index:idx_broadcast_recipients_job_status,priority:1" json:"job_id"`
	SubscriberID        *uint           `gorm:"index:idx_broadcast_recipients_subscriber_id" json:"subscriber_id,omitempty"`
	ExternalRecipientID string          `gorm:"size:64;not null" json:"external_recipient_id"`
	DisplayName         *string         `gorm:"size:255" json:"display_name,omitempty"`
	Status              RecipientStatus `gorm:"type:broadcast_recipient_status;not null;default:'pending';index:idx_broadcast_recipients_job_status,priority:2" json:"status"`
	Error               *string         `gorm:"type:text" json:"error,omitempty"`
	ProviderMessageID   *int64          `json:"provider_message_id,omitempty"`
	SentAt              *time.Time      `json:"sent_at,omitempty"`
	CreatedAt           time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (BroadcastRecipient) TableName() string {
	return "broadcast_recipients"
}

// BroadcastRecipientFilter provides filter fields for repository queries
type BroadcastRecipientFilter struct {
	ID                  *uint
	JobID               *uint
	Status              *RecipientStatus
	ExternalRecipientID *string
}

// RecipientCounts aggregates recipient rows of one job by status
type RecipientCounts struct {
	Pending int
	Sent    int
	Failed  int
}

// Total is the number of recipients counted
func (c RecipientCounts) Total() int {
	return c.Pending + c.Sent + c.Failed
}
