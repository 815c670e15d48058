package models

import (
	"fmt"
	"time"
)

// Role is the plan of a registered user.
type Role string

const (
	RoleFree    Role = "free"
	RolePremium Role = "premium"
)

// UserProfile holds the quota-relevant attributes of a registered user.
type UserProfile struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	MonthlyLimit int       `json:"monthlyLimit"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DailyUsage is one day of the monthly breakdown.
type DailyUsage struct {
	FilesProcessed int `json:"filesProcessed"`
	TextExtracted  int `json:"textExtracted"`
	FilesRenamed   int `json:"filesRenamed"`
	APICallsMade   int `json:"apiCallsMade"`
}

// UsageCounter aggregates one owner's usage for one calendar month.
type UsageCounter struct {
	OwnerID        string             `json:"ownerId"`
	Year           int                `json:"year"`
	Month          int                `json:"month"`
	FilesProcessed int                `json:"filesProcessed"`
	TextExtracted  int                `json:"textExtracted"`
	FilesRenamed   int                `json:"filesRenamed"`
	APICallsMade   int                `json:"apiCallsMade"`
	Days           map[int]DailyUsage `json:"days"`
}

// NewUsageCounter returns an empty counter for the month containing at.
func NewUsageCounter(ownerID string, at time.Time) *UsageCounter {
	at = at.UTC()
	return &UsageCounter{
		OwnerID: ownerID,
		Year:    at.Year(),
		Month:   int(at.Month()),
		Days:    make(map[int]DailyUsage),
	}
}

// UsageDelta is an increment applied to one day.
type UsageDelta struct {
	FilesProcessed int
	TextExtracted  int
	FilesRenamed   int
	APICallsMade   int
}

// IsZero reports whether applying d would change nothing.
func (d UsageDelta) IsZero() bool {
	return d == UsageDelta{}
}

// Add applies d to day and to the aggregates together.
func (u *UsageCounter) Add(day int, d UsageDelta) {
	if u.Days == nil {
		u.Days = make(map[int]DailyUsage)
	}
	cur := u.Days[day]
	cur.FilesProcessed += d.FilesProcessed
	cur.TextExtracted += d.TextExtracted
	cur.FilesRenamed += d.FilesRenamed
	cur.APICallsMade += d.APICallsMade
	u.Days[day] = cur

	u.FilesProcessed += d.FilesProcessed
	u.TextExtracted += d.TextExtracted
	u.FilesRenamed += d.FilesRenamed
	u.APICallsMade += d.APICallsMade
}

// Recompute sets the aggregates to the sum of the day breakdown.
func (u *UsageCounter) Recompute() {
	u.FilesProcessed, u.TextExtracted, u.FilesRenamed, u.APICallsMade = 0, 0, 0, 0
	for _, d := range u.Days {
		u.FilesProcessed += d.FilesProcessed
		u.TextExtracted += d.TextExtracted
		u.FilesRenamed += d.FilesRenamed
		u.APICallsMade += d.APICallsMade
	}
}

// Clone returns a deep copy.
func (u *UsageCounter) Clone() *UsageCounter {
	c := *u
	c.Days = make(map[int]DailyUsage, len(u.Days))
	for k, v := range u.Days {
		c.Days[k] = v
	}
	return &c
}

// MonthKey formats the counter's month as YYYY-MM.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}
