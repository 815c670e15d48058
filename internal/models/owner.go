package models

// Identity is who is calling: a registered user or an anonymous guest.
type Identity struct {
	UserID  string `json:"userId,omitempty"`
	GuestID string `json:"guestId,omitempty"`
}

// IsGuest reports whether the caller has no account.
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// Key returns the id counters are keyed by.
func (i Identity) Key() string {
	if i.IsGuest() {
		return i.GuestID
	}
	return i.UserID
}

// OwnerKind distinguishes the two quota regimes.
type OwnerKind string

const (
	OwnerGuest      OwnerKind = "guest"
	OwnerRegistered OwnerKind = "registered"
)

// OwnerContext is everything the quota decision needs about the caller.
type OwnerContext struct {
	Kind     OwnerKind `json:"kind"`
	Identity Identity  `json:"identity"`

	// guest
	GuestCount int `json:"guestCount,omitempty"`

	// registered
	Role                    Role `json:"role,omitempty"`
	MonthlyLimit            int  `json:"monthlyLimit,omitempty"`
	FilesProcessedThisMonth int  `json:"filesProcessedThisMonth,omitempty"`
}

// GuestOwner builds the context for a guest with the files admitted so far.
func GuestOwner(guestID string, count int) OwnerContext {
	return OwnerContext{Kind: OwnerGuest, Identity: Identity{GuestID: guestID}, GuestCount: count}
}

// RegisteredOwner builds the context for a registered user.
func RegisteredOwner(userID string, role Role, monthlyLimit, processedThisMonth int) OwnerContext {
	return OwnerContext{
		Kind:                    OwnerRegistered,
		Identity:                Identity{UserID: userID},
		Role:                    role,
		MonthlyLimit:            monthlyLimit,
		FilesProcessedThisMonth: processedThisMonth,
	}
}
