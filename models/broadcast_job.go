package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BroadcastJobStatus represents the lifecycle state of a broadcast job
type BroadcastJobStatus string

const (
	BroadcastJobStatusQueued    BroadcastJobStatus = "queued"
	BroadcastJobStatusRunning   BroadcastJobStatus = "running"
	BroadcastJobStatusPaused    BroadcastJobStatus = "paused"
	BroadcastJobStatusCancelled BroadcastJobStatus = "cancelled"
	BroadcastJobStatusDone      BroadcastJobStatus = "done"
	BroadcastJobStatusFailed    BroadcastJobStatus = "failed"
)

// ActionableJobStatuses are the statuses the dispatcher picks jobs from
var ActionableJobStatuses = []BroadcastJobStatus{
	BroadcastJobStatusQueued,
	BroadcastJobStatusRunning,
}

// TerminalJobStatuses are never left once entered
var TerminalJobStatuses = []BroadcastJobStatus{
	BroadcastJobStatusDone,
	BroadcastJobStatusCancelled,
	BroadcastJobStatusFailed,
}

// String returns the string representation of the status
func (s BroadcastJobStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastJobStatus) Valid() bool {
	switch s {
	case BroadcastJobStatusQueued, BroadcastJobStatusRunning,
		BroadcastJobStatusPaused, BroadcastJobStatusCancelled,
		BroadcastJobStatusDone, BroadcastJobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is done, cancelled or failed
func (s BroadcastJobStatus) IsTerminal() bool {
	switch s {
	case BroadcastJobStatusDone, BroadcastJobStatusCancelled, BroadcastJobStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to target is a legal lifecycle step
func (s BroadcastJobStatus) CanTransitionTo(target BroadcastJobStatus) bool {
	switch s {
	case BroadcastJobStatusQueued:
		return target == BroadcastJobStatusRunning || target == BroadcastJobStatusCancelled
	case BroadcastJobStatusRunning:
		switch target {
		case BroadcastJobStatusPaused, BroadcastJobStatusCancelled,
			BroadcastJobStatusDone, BroadcastJobStatusFailed:
			return true
		}
		return false
	case BroadcastJobStatusPaused:
		return target == BroadcastJobStatusRunning || target == BroadcastJobStatusCancelled
	default:
		return false
	}
}

// TransitionSources keeps the statuses of from that may legally move to target
func TransitionSources(from []BroadcastJobStatus, target BroadcastJobStatus) []BroadcastJobStatus {
	legal := make([]BroadcastJobStatus, 0, len(from))
	for _, s := range from {
		if s.CanTransitionTo(target) {
			legal = append(legal, s)
		}
	}
	return legal
}

// Scan implements the sql.Scanner interface for BroadcastJobStatus
func (s *BroadcastJobStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = BroadcastJobStatus(v)
	case []byte:
		*s = BroadcastJobStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastJobStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BroadcastJobStatus
func (s BroadcastJobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BroadcastJobStatus: %s", s)
	}
	return string(s), nil
}

// BroadcastButton is one inline keyboard button attached to a broadcast
type BroadcastButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// DeliveryConfig describes how a broadcast message is rendered by the provider
type DeliveryConfig struct {
	ButtonText         string            `json:"button_text,omitempty"`
	ButtonURL          string            `json:"button_url,omitempty"`
	ParseMode          string            `json:"parse_mode,omitempty"`
	ImageURL           string            `json:"image_url,omitempty"`
	CustomButtons      []BroadcastButton `json:"custom_buttons,omitempty"`
	DisableLinkPreview bool              `json:"disable_link_preview,omitempty"`
}

// HasImage reports whether the message is sent as an image with caption
func (c DeliveryConfig) HasImage() bool {
	return c.ImageURL != ""
}

// Value implements the driver.Valuer interface for DeliveryConfig
func (c DeliveryConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for DeliveryConfig.
// Unparsable stored JSON yields an empty config (no buttons, no image).
func (c *DeliveryConfig) Scan(value any) error {
	*c = DeliveryConfig{}
	raw, err := jsonBytes(value)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var parsed DeliveryConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	*c = parsed
	return nil
}

// AudienceFilter is the subscriber selection used when a job was created
type AudienceFilter struct {
	ZodiacSigns     []string `json:"zodiac_signs,omitempty"`
	PlanCodes       []string `json:"plan_codes,omitempty"`
	LanguageCodes   []string `json:"language_codes,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ChatIDs         []string `json:"chat_ids,omitempty"`
	IncludeInactive bool     `json:"include_inactive,omitempty"`
}

// Value implements the driver.Valuer interface for AudienceFilter
func (f AudienceFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for AudienceFilter.
// Unparsable stored JSON yields an empty filter.
func (f *AudienceFilter) Scan(value any) error {
	*f = AudienceFilter{}
	raw, err := jsonBytes(value)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var parsed AudienceFilter
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	*f = parsed
	return nil
}

func jsonBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot scan %T into JSON value", value)
	}
}

// BroadcastJob is one message fanned out to a fixed recipient set
type BroadcastJob struct {
	ID              uint               `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:uk_broadcast_jobs_uuid" json:"uuid"`
	Title           *string            `gorm:"size:255" json:"title,omitempty"`
	Message         string             `gorm:"type:text;not null" json:"message"`
	Delivery        DeliveryConfig     `gorm:"type:jsonb;not null" json:"delivery"`
	Audience        AudienceFilter     `gorm:"type:jsonb;not null" json:"audience"`
	Total           int                `gorm:"not null;default:0" json:"total"`
	Sent            int                `gorm:"not null;default:0" json:"sent"`
	Failed          int                `gorm:"not null;default:0" json:"failed"`
	Status          BroadcastJobStatus `gorm:"type:broadcast_job_status;not null;default:'queued';index:idx_broadcast_jobs_status_created_at,priority:1" json:"status"`
	CreatedBy       *string            `gorm:"size:128" json:"created_by,omitempty"`
	DeliveryWarning *string            `gorm:"type:text" json:"delivery_warning,omitempty"`
	LastError       *string            `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time          `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_broadcast_jobs_status_created_at,priority:2" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
	ClaimedAt       *time.Time         `json:"claimed_at,omitempty"`

	Recipients []BroadcastRecipient `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for the model
func (BroadcastJob) TableName() string {
	return "broadcast_jobs"
}

// BeforeCreate assigns the public identifier and the initial status
func (j *BroadcastJob) BeforeCreate(tx *gorm.DB) error {
	if j.UUID == uuid.Nil {
		j.UUID = uuid.New()
	}
	if j.Status == "" {
		j.Status = BroadcastJobStatusQueued
	}
	return nil
}

// Pending is the number of recipients not yet attempted
func (j BroadcastJob) Pending() int {
	p := j.Total - j.Sent - j.Failed
	if p < 0 {
		return 0
	}
	return p
}

// BroadcastJobFilter provides filter fields for repository queries
type BroadcastJobFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	Status        *BroadcastJobStatus
	Statuses      []BroadcastJobStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
