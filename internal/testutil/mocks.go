package testutil

import (
	"context"
	"time"

	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	args := m.Called(key)
	lic, _ := args.Get(0).(*domain.License)
	return lic, args.Error(1)
}

func (m *MockRepo) GetLicenseBySubscription(ctx context.Context, subscriptionID string) (*domain.License, error) {
	args := m.Called(subscriptionID)
	lic, _ := args.Get(0).(*domain.License)
	return lic, args.Error(1)
}

func (m *MockRepo) CreateLicense(ctx context.Context, lic *domain.License) error {
	args := m.Called(lic)
	return args.Error(0)
}

func (m *MockRepo) UpdateLicenseBilling(ctx context.Context, id, customerID string, status domain.LicenseStatus, email string) error {
	args := m.Called(id, customerID, status, email)
	return args.Error(0)
}

func (m *MockRepo) SetStatusBySubscription(ctx context.Context, subscriptionID string, status domain.LicenseStatus) error {
	args := m.Called(subscriptionID, status)
	return args.Error(0)
}

func (m *MockRepo) ListDomains(ctx context.Context, licenseID string) ([]domain.LicenseDomain, error) {
	args := m.Called(licenseID)
	domains, _ := args.Get(0).([]domain.LicenseDomain)
	return domains, args.Error(1)
}

func (m *MockRepo) UpsertDomain(ctx context.Context, d *domain.LicenseDomain) error {
	args := m.Called(d)
	return args.Error(0)
}

func (m *MockRepo) TouchDomain(ctx context.Context, id string, seenAt time.Time) error {
	args := m.Called(id, seenAt)
	return args.Error(0)
}

func (m *MockRepo) ClaimKeyDelivery(ctx context.Context, licenseID, email string, at time.Time) (bool, error) {
	args := m.Called(licenseID, email, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) ReleaseKeyDelivery(ctx context.Context, licenseID string) error {
	args := m.Called(licenseID)
	return args.Error(0)
}

func (m *MockRepo) ExpireLiveOtps(ctx context.Context, email string, at time.Time) error {
	args := m.Called(email, at)
	return args.Error(0)
}

func (m *MockRepo) CreateOtp(ctx context.Context, otp *domain.EmailOtp) error {
	args := m.Called(otp)
	return args.Error(0)
}

func (m *MockRepo) ConsumeOtp(ctx context.Context, email, codeHash string, at time.Time) (bool, error) {
	args := m.Called(email, codeHash, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

type MockBilling struct {
	mock.Mock
}

func (m *MockBilling) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	args := m.Called(subscriptionID)
	sub, _ := args.Get(0).(*domain.Subscription)
	return sub, args.Error(1)
}

func (m *MockBilling) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	args := m.Called(customerID)
	return args.String(0), args.Error(1)
}

func (m *MockBilling) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	args := m.Called(customerID)
	return args.String(0), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendOTPCode(ctx context.Context, to, code string) error {
	args := m.Called(to, code)
	return args.Error(0)
}

func (m *MockMailer) SendLicenseKey(ctx context.Context, to, licenseKey string) error {
	args := m.Called(to, licenseKey)
	return args.Error(0)
}
