package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Zodiac signs a subscriber can register under
const (
	ZodiacAries       = "aries"
	ZodiacTaurus      = "taurus"
	ZodiacGemini      = "gemini"
	ZodiacCancer      = "cancer"
	ZodiacLeo         = "leo"
	ZodiacVirgo       = "virgo"
	ZodiacLibra       = "libra"
	ZodiacScorpio     = "scorpio"
	ZodiacSagittarius = "sagittarius"
	ZodiacCapricorn   = "capricorn"
	ZodiacAquarius    = "aquarius"
	ZodiacPisces      = "pisces"
)

var zodiacSigns = map[string]struct{}{
	ZodiacAries: {}, ZodiacTaurus: {}, ZodiacGemini: {}, ZodiacCancer: {},
	ZodiacLeo: {}, ZodiacVirgo: {}, ZodiacLibra: {}, ZodiacScorpio: {},
	ZodiacSagittarius: {}, ZodiacCapricorn: {}, ZodiacAquarius: {}, ZodiacPisces: {},
}

// IsZodiacSign reports whether s names one of the twelve signs (case-insensitive)
func IsZodiacSign(s string) bool {
	_, ok := zodiacSigns[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Subscriber is a bot user that can be targeted by broadcasts
type Subscriber struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ChatID       string         `gorm:"size:64;not null;uniqueIndex:uk_subscribers_chat_id" json:"chat_id"`
	Username     *string        `gorm:"size:255" json:"username,omitempty"`
	FirstName    *string        `gorm:"size:255" json:"first_name,omitempty"`
	ZodiacSign   *string        `gorm:"size:32;index:idx_subscribers_zodiac_sign" json:"zodiac_sign,omitempty"`
	PlanCode     *string        `gorm:"size:64;index:idx_subscribers_plan_code" json:"plan_code,omitempty"`
	LanguageCode *string        `gorm:"size:16" json:"language_code,omitempty"`
	Tags         pq.StringArray `gorm:"type:text[]" json:"tags"`
	IsActive     *bool          `gorm:"not null;default:true" json:"is_active"`
	IsBlocked    *bool          `gorm:"not null;default:false" json:"is_blocked"`
	CreatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (Subscriber) TableName() string {
	return "subscribers"
}

// DisplayName picks the most readable name for a subscriber
func (s Subscriber) DisplayName() *string {
	if s.FirstName != nil && strings.TrimSpace(*s.FirstName) != "" {
		name := strings.TrimSpace(*s.FirstName)
		return &name
	}
	if s.Username != nil && strings.TrimSpace(*s.Username) != "" {
		name := "@" + strings.TrimPrefix(strings.TrimSpace(*s.Username), "@")
		return &name
	}
	return nil
}

// SubscriberFilter provides filter fields for repository queries
type SubscriberFilter struct {
	ID            *uint
	ChatIDs       []string
	ZodiacSigns   []string
	PlanCodes     []string
	LanguageCodes []string
	Tags          []string
	IsActive      *bool
	IsBlocked     *bool
}

// SubscriberFilterFromAudience converts a stored audience filter into a query filter
func SubscriberFilterFromAudience(a AudienceFilter) SubscriberFilter {
	f := SubscriberFilter{
		ChatIDs:       a.ChatIDs,
		PlanCodes:     a.PlanCodes,
		LanguageCodes: a.LanguageCodes,
		Tags:          a.Tags,
	}
	for _, z := range a.ZodiacSigns {
		f.ZodiacSigns = append(f.ZodiacSigns, strings.ToLower(strings.TrimSpace(z)))
	}
	if !a.IncludeInactive {
		active := true
		blocked := false
		f.IsActive = &active
		f.IsBlocked = &blocked
	}
	return f
}
