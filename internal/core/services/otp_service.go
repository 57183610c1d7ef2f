package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/core/ports"
	"github.com/squarepro/licensing/internal/crypto"
)

type otpService struct {
	repo    ports.LicenseRepository
	billing ports.BillingProvider
	mailer  ports.Mailer
	hasher  *crypto.Hasher
	now     func() time.Time
}

// NewOtpService creates the one-time-code flow gating billing-portal
// access.
func NewOtpService(repo ports.LicenseRepository, billing ports.BillingProvider, mailer ports.Mailer, hasher *crypto.Hasher) ports.OtpService {
	return &otpService{
		repo:    repo,
		billing: billing,
		mailer:  mailer,
		hasher:  hasher,
		now:     time.Now,
	}
}

// emailOnFile resolves the license for a key and its billing-confirmed
// email. The OTP flow only works for licenses whose email came through
// subscription reconciliation.
func (s *otpService) emailOnFile(ctx context.Context, licenseKey string) (*domain.License, string, error) {
	lic, err := s.repo.GetLicenseByKey(ctx, strings.TrimSpace(licenseKey))
	if err != nil {
		return nil, "", err
	}
	if lic == nil {
		return nil, "", domain.ErrInvalidKey
	}
	if !domain.HasMailbox(lic.CustomerEmail) {
		return nil, "", domain.ErrNoEmailOnFile
	}
	return lic, domain.NormalizeEmail(lic.CustomerEmail), nil
}

func (s *otpService) RequestCode(ctx context.Context, licenseKey string) error {
	_, email, err := s.emailOnFile(ctx, licenseKey)
	if err != nil {
		return err
	}

	code, err := crypto.GenerateOTPCode()
	if err != nil {
		return err
	}

	now := s.now()
	// One live code per address: retire anything still redeemable before
	// inserting the replacement.
	if err := s.repo.ExpireLiveOtps(ctx, email, now); err != nil {
		return fmt.Errorf("expire prior codes: %w", err)
	}
	otp := &domain.EmailOtp{
		ID:        uuid.New().String(),
		Email:     email,
		CodeHash:  s.hasher.Hash(email, code),
		CreatedAt: now,
		ExpiresAt: now.Add(domain.OtpTTL),
	}
	if err := s.repo.CreateOtp(ctx, otp); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.SendOTPCode(ctx, email, code); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}
	return nil
}

func (s *otpService) RedeemForPortalSession(ctx context.Context, licenseKey, code string) (string, error) {
	lic, email, err := s.emailOnFile(ctx, licenseKey)
	if err != nil {
		return "", err
	}

	// Mark-used is atomic with the match and happens before the portal
	// session exists, so a code can never be replayed.
	ok, err := s.repo.ConsumeOtp(ctx, email, s.hasher.Hash(email, code), s.now())
	if err != nil {
		return "", fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		return "", domain.ErrInvalidOtp
	}

	if lic.StripeCustomerID == "" {
		return "", domain.ErrCustomerNotFound
	}

	url, err := s.billing.CreatePortalSession(ctx, lic.StripeCustomerID)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return url, nil
}
