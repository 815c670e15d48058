// Package quota decides whether a batch of files may be admitted.
package quota

import (
	"github.com/feichai0017/file-organizer/internal/models"
)

const (
	// DefaultGuestLimit is the lifetime ceiling for one guest identity.
	DefaultGuestLimit = 5
	// DefaultFreeMonthlyLimit applies to registered users without a plan.
	DefaultFreeMonthlyLimit = 20
	// Unlimited is reported as remaining for premium users.
	Unlimited = -1
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// IsUnlimited reports whether the owner has no ceiling.
func (d Decision) IsUnlimited() bool {
	return d.Remaining == Unlimited
}

// Gate holds the ceilings. It does not touch any store.
type Gate struct {
	GuestLimit int
}

// NewGate returns a gate with the given guest ceiling (DefaultGuestLimit when <= 0).
func NewGate(guestLimit int) *Gate {
	if guestLimit <= 0 {
		guestLimit = DefaultGuestLimit
	}
	return &Gate{GuestLimit: guestLimit}
}

// CanProcess decides whether fileCount more files may be processed.
// fileCount must be positive; callers validate before calling.
func (g *Gate) CanProcess(owner models.OwnerContext, fileCount int) Decision {
	switch owner.Kind {
	case models.OwnerRegistered:
		if owner.Role == models.RolePremium {
			return Decision{Allowed: true, Remaining: Unlimited}
		}
		remaining := owner.MonthlyLimit - owner.FilesProcessedThisMonth
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: remaining >= fileCount, Remaining: remaining}
	default:
		remaining := g.GuestLimit - owner.GuestCount
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: owner.GuestCount+fileCount <= g.GuestLimit, Remaining: remaining}
	}
}
