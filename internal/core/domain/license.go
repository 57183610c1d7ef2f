// Package domain contains the core business entities for the SquarePro
// licensing backend.
package domain

import (
	"errors"
	"time"
)

// LicenseStatus is the internal subscription status of a license.
type LicenseStatus string

const (
	StatusActive     LicenseStatus = "ACTIVE"
	StatusTrialing   LicenseStatus = "TRIALING"
	StatusPastDue    LicenseStatus = "PAST_DUE"
	StatusCanceled   LicenseStatus = "CANCELED"
	StatusIncomplete LicenseStatus = "INCOMPLETE"
)

// CanVerify reports whether a license in this status passes domain
// verification. Only ACTIVE and TRIALING licenses are usable.
func (s LicenseStatus) CanVerify() bool {
	return s == StatusActive || s == StatusTrialing
}

// MapStripeStatus converts a Stripe subscription status string to the
// internal enum. Unknown statuses (incomplete, incomplete_expired, paused,
// anything new Stripe invents) collapse to INCOMPLETE.
func MapStripeStatus(status string) LicenseStatus {
	switch status {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "canceled", "unpaid":
		return StatusCanceled
	default:
		return StatusIncomplete
	}
}

// OtpTTL is how long a one-time code stays redeemable.
const OtpTTL = 10 * time.Minute

// DefaultMaxDomains is the bound-domain capacity assigned to new licenses.
const DefaultMaxDomains = 2

// License is a purchased entitlement tied to a Stripe subscription.
type License struct {
	ID                   string        `json:"id"`
	LicenseKey           string        `json:"license_key"`
	StripeCustomerID     string        `json:"stripe_customer_id"`
	StripeSubscriptionID string        `json:"stripe_subscription_id"`
	Status               LicenseStatus `json:"status"`
	CustomerEmail        string        `json:"customer_email,omitempty"` // first-write-wins, never overwritten
	KeySentAt            *time.Time    `json:"key_sent_at,omitempty"`    // non-nil once the key email claim is held
	MaxDomains           int           `json:"max_domains"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// LicenseDomain binds a normalized hostname to a license.
type LicenseDomain struct {
	ID         string    `json:"id"`
	LicenseID  string    `json:"license_id"`
	Hostname   string    `json:"hostname"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// EmailOtp is a single-use emailed code. Only the HMAC of the code is
// stored; rows are never deleted, they go inert via expires_at/used_at.
type EmailOtp struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	CodeHash  string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Subscription is the slice of a billing-provider subscription this
// service cares about.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
}

// Reason is a machine-readable denial code returned to API clients.
type Reason string

const (
	ReasonInvalidKey           Reason = "INVALID_KEY"
	ReasonInactiveSubscription Reason = "INACTIVE_SUBSCRIPTION"
	ReasonLimitReached         Reason = "LIMIT_REACHED"
	ReasonMissingLicenseKey    Reason = "MISSING_LICENSE_KEY"
	ReasonMissingOtp           Reason = "MISSING_OTP"
	ReasonNoEmailOnFile        Reason = "NO_EMAIL_ON_FILE"
	ReasonInvalidOtp           Reason = "INVALID_OTP"
	ReasonCustomerNotFound     Reason = "CUSTOMER_NOT_FOUND"
	ReasonRateLimited          Reason = "RATE_LIMITED"
	ReasonServerError          Reason = "SERVER_ERROR"
)

// VerifyResult is the outcome of a domain verification request.
type VerifyResult struct {
	Active       bool     `json:"active"`
	Reason       Reason   `json:"reason,omitempty"`
	BoundDomains []string `json:"boundDomains,omitempty"`
	MaxDomains   int      `json:"maxDomains,omitempty"`
}

// Sentinel errors for domain-logic denials. Handlers map these to reason
// codes; anything else surfaces as SERVER_ERROR.
var (
	ErrInvalidKey       = errors.New("invalid license key")
	ErrNoEmailOnFile    = errors.New("no customer email on file")
	ErrInvalidOtp       = errors.New("invalid or expired one-time code")
	ErrCustomerNotFound = errors.New("no billing customer for license")

	// ErrDuplicate is returned by the repository on a unique-constraint
	// violation so services can run their create-or-update recovery.
	ErrDuplicate = errors.New("duplicate row")
)
