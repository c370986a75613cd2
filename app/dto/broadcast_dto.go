package dto

import (
	"time"
)

// BroadcastButtonRequest is one inline button; links are validated when the message is composed
type BroadcastButtonRequest struct {
	Text string `json:"text" validate:"max=256"`
	URL  string `json:"url" validate:"max=2048"`
}

// BroadcastAudienceRequest selects the subscribers a broadcast is sent to
type BroadcastAudienceRequest struct {
	ZodiacSigns     []string `json:"zodiac_signs,omitempty" validate:"omitempty,max=12,dive,min=1,max=32"`
	PlanCodes       []string `json:"plan_codes,omitempty" validate:"omitempty,max=100,dive,min=1,max=64"`
	LanguageCodes   []string `json:"language_codes,omitempty" validate:"omitempty,max=100,dive,min=1,max=16"`
	Tags            []string `json:"tags,omitempty" validate:"omitempty,max=100,dive,min=1,max=64"`
	ChatIDs         []string `json:"chat_ids,omitempty" validate:"omitempty,max=100000,dive,min=1,max=64"`
	IncludeInactive bool     `json:"include_inactive,omitempty"`
}

// CreateBroadcastRequest represents the request to create a broadcast job
type CreateBroadcastRequest struct {
	CreatedBy          string                   `json:"-"`
	Title              *string                  `json:"title,omitempty" validate:"omitempty,max=255"`
	Message            string                   `json:"message" validate:"required,max=4096"`
	ParseMode          string                   `json:"parse_mode,omitempty" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
	ImageURL           string                   `json:"image_url,omitempty" validate:"omitempty,url,max=2048"`
	ButtonText         string                   `json:"button_text,omitempty" validate:"max=256"`
	ButtonURL          string                   `json:"button_url,omitempty" validate:"max=2048"`
	CustomButtons      []BroadcastButtonRequest `json:"custom_buttons,omitempty" validate:"omitempty,max=20,dive"`
	DisableLinkPreview bool                     `json:"disable_link_preview,omitempty"`
	Audience           BroadcastAudienceRequest `json:"audience"`
}

// DroppedButtonResponse reports a button that was left out of the keyboard
type DroppedButtonResponse struct {
	Text   string `json:"text"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// CreateBroadcastResponse represents the response to create a broadcast job
type CreateBroadcastResponse struct {
	JobID          string                  `json:"job_id"`
	Total          int                     `json:"total"`
	Status         string                  `json:"status"`
	DroppedButtons []DroppedButtonResponse `json:"dropped_buttons"`
}

// BroadcastDispatchRequest optionally targets one job
type BroadcastDispatchRequest struct {
	JobID *string `json:"job_id,omitempty" validate:"omitempty,uuid"`
}

// BroadcastDispatchResponse carries the counters of a processed batch
type BroadcastDispatchResponse struct {
	JobID        string `json:"job_id,omitempty"`
	Processed    int    `json:"processed"`
	SuccessCount int    `json:"success_count"`
	Errors       int    `json:"errors"`
	Remaining    int    `json:"remaining"`
	Status       string `json:"status,omitempty"`
}

// BroadcastDispatchResult is a trigger outcome with its optional batch counters
type BroadcastDispatchResult struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Error   string                     `json:"error,omitempty"`
	Data    *BroadcastDispatchResponse `json:"data,omitempty"`
}

// BroadcastActionRequest asks for one lifecycle change of a job
type BroadcastActionRequest struct {
	JobID  string `json:"-"`
	Action string `json:"action" validate:"required,oneof=cancel pause resume delete"`
}

// BroadcastActionResponse reports the status a job ended up in
type BroadcastActionResponse struct {
	JobID     string `json:"job_id"`
	NewStatus string `json:"new_status"`
}

// BroadcastMaintenanceRequest asks for one bulk operation
type BroadcastMaintenanceRequest struct {
	Action string `json:"action" validate:"required,oneof=cancel_old cleanup_completed pause_all_running"`
	Days   *int   `json:"days,omitempty" validate:"omitempty,min=1,max=3650"`
}

// BroadcastMaintenanceResponse reports the rows a bulk operation touched
type BroadcastMaintenanceResponse struct {
	Action   string `json:"action"`
	Affected int    `json:"affected"`
	Failed   int    `json:"failed"`
	Message  string `json:"message"`
}

// ListBroadcastsRequest represents a paginated history query
type ListBroadcastsRequest struct {
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
	Status   string `query:"status" validate:"omitempty,oneof=queued running paused cancelled done failed"`
}

// BroadcastJobResponse represents one job with its counters
type BroadcastJobResponse struct {
	JobID              string                   `json:"job_id"`
	Title              *string                  `json:"title,omitempty"`
	Message            string                   `json:"message"`
	Status             string                   `json:"status"`
	Total              int                      `json:"total"`
	Sent               int                      `json:"sent"`
	Failed             int                      `json:"failed"`
	Pending            int                      `json:"pending"`
	ParseMode          string                   `json:"parse_mode,omitempty"`
	ImageURL           string                   `json:"image_url,omitempty"`
	ButtonText         string                   `json:"button_text,omitempty"`
	ButtonURL          string                   `json:"button_url,omitempty"`
	CustomButtons      []BroadcastButtonRequest `json:"custom_buttons,omitempty"`
	DisableLinkPreview bool                     `json:"disable_link_preview,omitempty"`
	Audience           BroadcastAudienceRequest `json:"audience"`
	CreatedBy          *string                  `json:"created_by,omitempty"`
	DeliveryWarning    *string                  `json:"delivery_warning,omitempty"`
	LastError          *string                  `json:"last_error,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	StartedAt          *time.Time               `json:"started_at,omitempty"`
	FinishedAt         *time.Time               `json:"finished_at,omitempty"`
}

// ListBroadcastsResponse represents a page of jobs
type ListBroadcastsResponse struct {
	Items      []BroadcastJobResponse `json:"items"`
	Pagination PaginationInfo         `json:"pagination"`
}

// ListBroadcastErrorsRequest represents a paginated query of failed recipients
type ListBroadcastErrorsRequest struct {
	JobID    string `query:"-"`
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
}

// BroadcastRecipientErrorResponse is one failed recipient
type BroadcastRecipientErrorResponse struct {
	RecipientID uint      `json:"recipient_id"`
	ChatID      string    `json:"chat_id"`
	DisplayName *string   `json:"display_name,omitempty"`
	Error       string    `json:"error"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListBroadcastErrorsResponse represents a page of failed recipients
type ListBroadcastErrorsResponse struct {
	JobID      string                            `json:"job_id"`
	Items      []BroadcastRecipientErrorResponse `json:"items"`
	Pagination PaginationInfo                    `json:"pagination"`
}

// AudiencePreviewResponse reports how many subscribers a filter resolves to
type AudiencePreviewResponse struct {
	Count int64 `json:"count"`
}
