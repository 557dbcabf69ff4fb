package models

import (
	"time"
)

const (
	RoleCustomer = "customer"
	RoleMerchant = "merchant"
)

// External identity providers. The value doubles as the provider key in URLs.
const (
	ProviderLine   = "line"
	ProviderGoogle = "google"
)

// SupportedProviders lists every provider that owns an identity slot on User.
var SupportedProviders = []string{ProviderLine, ProviderGoogle}

type User struct {
	ID             string
	Username       string
	PasswordHash   string // empty for identity-only accounts
	DisplayName    string
	Role           string
	Email          *string
	Phone          *string
	LineID         *string
	GoogleID       *string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword reports whether the account can log in with a password at all.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

func (u *User) IsMerchant() bool {
	return u.Role == RoleMerchant
}

// ProviderID returns the external id bound in the given provider slot.
func (u *User) ProviderID(provider string) *string {
	switch provider {
	case ProviderLine:
		return u.LineID
	case ProviderGoogle:
		return u.GoogleID
	}
	return nil
}

// LinkedProviders returns the providers with a bound identity, in SupportedProviders order.
func (u *User) LinkedProviders() []string {
	linked := []string{}
	for _, p := range SupportedProviders {
		if id := u.ProviderID(p); id != nil && *id != "" {
			linked = append(linked, p)
		}
	}
	return linked
}

type MerchantProfile struct {
	UserID       string
	BusinessName string
	BusinessType string
	Address      string
	Verified     bool
	Rating       float64
	CreatedAt    time.Time
}

// NewUser is the input for account creation. Merchant is required when Role is merchant.
type NewUser struct {
	Username     string
	PasswordHash string
	DisplayName  string
	Role         string
	Email        *string
	Phone        *string
	Provider     string
	ExternalID   string
	Merchant     *MerchantProfile
}

// LockoutState is the lockout bookkeeping of an account after a failed attempt.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
	// NewlyLocked is set when this failure armed the lock.
	NewlyLocked bool
	Email       *string
}
