// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// DaysAgo returns the UTC instant that lies the given number of days before now
func DaysAgo(now time.Time, days int) time.Time {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// FormatRFC3339Ptr formats an optional time, returning an empty string for nil
func FormatRFC3339Ptr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
