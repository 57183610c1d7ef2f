package ports

import (
	"context"
	"time"

	"github.com/squarepro/licensing/internal/core/domain"
)

// LicenseRepository is the persistence boundary. Lookups return (nil, nil)
// when the row does not exist; writes racing on the same key resolve via
// conditional updates or unique indexes, never in-process locks.
type LicenseRepository interface {
	GetLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	GetLicenseBySubscription(ctx context.Context, subscriptionID string) (*domain.License, error)
	// CreateLicense returns domain.ErrDuplicate (wrapped) when a unique
	// index rejects the row.
	CreateLicense(ctx context.Context, lic *domain.License) error
	// UpdateLicenseBilling refreshes billing fields; customer_email is
	// first-write-wins and an empty email writes nothing.
	UpdateLicenseBilling(ctx context.Context, id, customerID string, status domain.LicenseStatus, email string) error
	SetStatusBySubscription(ctx context.Context, subscriptionID string, status domain.LicenseStatus) error

	ListDomains(ctx context.Context, licenseID string) ([]domain.LicenseDomain, error)
	// UpsertDomain inserts a binding or, on (license_id, hostname)
	// collision, refreshes last_seen_at on the existing row.
	UpsertDomain(ctx context.Context, d *domain.LicenseDomain) error
	TouchDomain(ctx context.Context, id string, seenAt time.Time) error

	// ClaimKeyDelivery atomically sets key_sent_at where it is still NULL,
	// backfilling customer_email. Returns true iff this caller won the
	// claim.
	ClaimKeyDelivery(ctx context.Context, licenseID, email string, at time.Time) (bool, error)
	// ReleaseKeyDelivery reverts a claim after a failed send so a later
	// event can retry.
	ReleaseKeyDelivery(ctx context.Context, licenseID string) error

	// ExpireLiveOtps marks every unused, unexpired code for the email as
	// used, enforcing a single live code per address.
	ExpireLiveOtps(ctx context.Context, email string, at time.Time) error
	CreateOtp(ctx context.Context, otp *domain.EmailOtp) error
	// ConsumeOtp marks the newest matching live code used and reports
	// whether one existed. The mark-used is atomic with the match.
	ConsumeOtp(ctx context.Context, email, codeHash string, at time.Time) (bool, error)

	Ping(ctx context.Context) error
}

// LicenseService serves end-user verification and lookup requests.
type LicenseService interface {
	// VerifyDomain never fails open: on any unexpected error the result is
	// inactive with reason INACTIVE_SUBSCRIPTION.
	VerifyDomain(ctx context.Context, key, hostname string) domain.VerifyResult
	Status(ctx context.Context, key string) (*domain.License, []domain.LicenseDomain, error)
	BySubscription(ctx context.Context, subscriptionID string) (*domain.License, []domain.LicenseDomain, error)
}

// SubscriptionService reconciles billing-provider events into licenses.
type SubscriptionService interface {
	HandleCheckoutCompleted(ctx context.Context, subscriptionID, customerID, email string) error
	HandleSubscriptionEvent(ctx context.Context, subscriptionID, customerID, stripeStatus string) error
	HandleInvoicePaid(ctx context.Context, subscriptionID string) error
	HandleInvoicePaymentFailed(ctx context.Context, subscriptionID string) error
}

// OtpService runs the one-time-code recovery flow gating the billing
// portal.
type OtpService interface {
	RequestCode(ctx context.Context, licenseKey string) error
	RedeemForPortalSession(ctx context.Context, licenseKey, code string) (string, error)
}

// BillingProvider is the outbound Stripe boundary.
type BillingProvider interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

// Mailer sends the two transactional emails. Implementations must enforce
// their own timeouts; a hung mail server must not pin a request open.
type Mailer interface {
	SendOTPCode(ctx context.Context, to, code string) error
	SendLicenseKey(ctx context.Context, to, licenseKey string) error
}

// RateLimiter answers whether a caller identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}
