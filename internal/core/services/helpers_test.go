package services

import (
	"context"
	"sync"
	"time"

	"github.com/squarepro/licensing/internal/core/domain"
)

// fakeRepo is an in-memory LicenseRepository with the same row-level
// semantics as the Postgres adapter.
type fakeRepo struct {
	mu       sync.Mutex
	licenses map[string]*domain.License       // by id
	domains  map[string][]domain.LicenseDomain // by license id
	otps     []domain.EmailOtp

	getErr  error
	listErr error
	bindErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		licenses: make(map[string]*domain.License),
		domains:  make(map[string][]domain.LicenseDomain),
	}
}

func (f *fakeRepo) addLicense(lic *domain.License) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *lic
	f.licenses[lic.ID] = &cp
}

func (f *fakeRepo) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, lic := range f.licenses {
		if lic.LicenseKey == key {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetLicenseBySubscription(ctx context.Context, subscriptionID string) (*domain.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, lic := range f.licenses {
		if lic.StripeSubscriptionID == subscriptionID {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateLicense(ctx context.Context, lic *domain.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.licenses {
		if existing.StripeSubscriptionID == lic.StripeSubscriptionID ||
			existing.LicenseKey == lic.LicenseKey {
			return domain.ErrDuplicate
		}
	}
	cp := *lic
	f.licenses[lic.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLicenseBilling(ctx context.Context, id, customerID string, status domain.LicenseStatus, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[id]
	if !ok {
		return nil
	}
	lic.StripeCustomerID = customerID
	lic.Status = status
	if lic.CustomerEmail == "" && email != "" {
		lic.CustomerEmail = domain.NormalizeEmail(email)
	}
	return nil
}

func (f *fakeRepo) SetStatusBySubscription(ctx context.Context, subscriptionID string, status domain.LicenseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lic := range f.licenses {
		if lic.StripeSubscriptionID == subscriptionID {
			lic.Status = status
		}
	}
	return nil
}

func (f *fakeRepo) ListDomains(ctx context.Context, licenseID string) ([]domain.LicenseDomain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.LicenseDomain(nil), f.domains[licenseID]...), nil
}

func (f *fakeRepo) UpsertDomain(ctx context.Context, d *domain.LicenseDomain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	for i, existing := range f.domains[d.LicenseID] {
		if existing.Hostname == d.Hostname {
			f.domains[d.LicenseID][i].LastSeenAt = d.LastSeenAt
			return nil
		}
	}
	f.domains[d.LicenseID] = append(f.domains[d.LicenseID], *d)
	return nil
}

func (f *fakeRepo) TouchDomain(ctx context.Context, id string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for licID := range f.domains {
		for i := range f.domains[licID] {
			if f.domains[licID][i].ID == id {
				f.domains[licID][i].LastSeenAt = seenAt
			}
		}
	}
	return nil
}

func (f *fakeRepo) ClaimKeyDelivery(ctx context.Context, licenseID, email string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[licenseID]
	if !ok || lic.KeySentAt != nil {
		return false, nil
	}
	t := at
	lic.KeySentAt = &t
	if lic.CustomerEmail == "" && email != "" {
		lic.CustomerEmail = domain.NormalizeEmail(email)
	}
	return true, nil
}

func (f *fakeRepo) ReleaseKeyDelivery(ctx context.Context, licenseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lic, ok := f.licenses[licenseID]; ok {
		lic.KeySentAt = nil
	}
	return nil
}

func (f *fakeRepo) ExpireLiveOtps(ctx context.Context, email string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.otps {
		o := &f.otps[i]
		if o.Email == email && o.UsedAt == nil && o.ExpiresAt.After(at) {
			t := at
			o.UsedAt = &t
		}
	}
	return nil
}

func (f *fakeRepo) CreateOtp(ctx context.Context, otp *domain.EmailOtp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps = append(f.otps, *otp)
	return nil
}

func (f *fakeRepo) ConsumeOtp(ctx context.Context, email, codeHash string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := -1
	for i := range f.otps {
		o := &f.otps[i]
		if o.Email == email && o.CodeHash == codeHash && o.UsedAt == nil && o.ExpiresAt.After(at) {
			if best == -1 || o.CreatedAt.After(f.otps[best].CreatedAt) {
				best = i
			}
		}
	}
	if best == -1 {
		return false, nil
	}
	t := at
	f.otps[best].UsedAt = &t
	return true, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }

// fakeBilling is a canned BillingProvider.
type fakeBilling struct {
	sub       *domain.Subscription
	subErr    error
	email     string
	emailErr  error
	portalURL string
	portalErr error

	portalCalls int
}

func (f *fakeBilling) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return f.sub, f.subErr
}

func (f *fakeBilling) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	return f.email, f.emailErr
}

func (f *fakeBilling) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	f.portalCalls++
	return f.portalURL, f.portalErr
}

// fakeMailer records sends and can fail on demand.
type fakeMailer struct {
	otpTo    []string
	otpCodes []string
	keyTo    []string
	keys     []string

	otpErr error
	keyErr error
}

func (f *fakeMailer) SendOTPCode(ctx context.Context, to, code string) error {
	if f.otpErr != nil {
		return f.otpErr
	}
	f.otpTo = append(f.otpTo, to)
	f.otpCodes = append(f.otpCodes, code)
	return nil
}

func (f *fakeMailer) SendLicenseKey(ctx context.Context, to, licenseKey string) error {
	if f.keyErr != nil {
		return f.keyErr
	}
	f.keyTo = append(f.keyTo, to)
	f.keys = append(f.keys, licenseKey)
	return nil
}
