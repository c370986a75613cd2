package utils

import (
	"time"
)

// Dispatch engine defaults
const (
	// DefaultBatchSize is the number of pending recipients handled by one engine pass
	DefaultBatchSize = 50

	// DefaultGuardWindow is how long a claim protects a running job from another drive
	DefaultGuardWindow = 2 * time.Minute

	// DefaultCleanupDays is the age after which completed jobs are deleted
	DefaultCleanupDays = 30

	// DefaultCancelStaleDays is the age after which unfinished jobs are cancelled
	DefaultCancelStaleDays = 7

	// DefaultProgressPingInterval is the idle keep-alive interval of progress streams
	DefaultProgressPingInterval = 15 * time.Second
)

// Telegram Bot API limits
const (
	TelegramMessageMaxLength = 4096
	TelegramCaptionMaxLength = 1024
	TelegramButtonTextMax    = 64
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Pagination limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
