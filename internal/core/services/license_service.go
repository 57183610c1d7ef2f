package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/core/ports"
)

type licenseService struct {
	repo ports.LicenseRepository
	now  func() time.Time
}

// NewLicenseService creates the verification/lookup service.
func NewLicenseService(repo ports.LicenseRepository) ports.LicenseService {
	return &licenseService{repo: repo, now: time.Now}
}

// failClosed is the result for any unexpected failure on the verify path.
// An internal error must never read as "license valid".
var failClosed = domain.VerifyResult{Active: false, Reason: domain.ReasonInactiveSubscription}

func (s *licenseService) VerifyDomain(ctx context.Context, key, hostname string) domain.VerifyResult {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(hostname) == "" {
		return domain.VerifyResult{Active: false, Reason: domain.ReasonInvalidKey}
	}

	lic, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		log.Printf("verify: license lookup failed: %v", err)
		return failClosed
	}
	if lic == nil {
		return domain.VerifyResult{Active: false, Reason: domain.ReasonInvalidKey}
	}
	if !lic.Status.CanVerify() {
		return domain.VerifyResult{Active: false, Reason: domain.ReasonInactiveSubscription}
	}

	normalized := domain.NormalizeHostname(hostname)
	if normalized == "" {
		return domain.VerifyResult{Active: false, Reason: domain.ReasonInvalidKey}
	}

	bound, err := s.repo.ListDomains(ctx, lic.ID)
	if err != nil {
		log.Printf("verify: domain list failed for license %s: %v", lic.ID, err)
		return failClosed
	}

	hostnames := make([]string, 0, len(bound)+1)
	for _, d := range bound {
		hostnames = append(hostnames, d.Hostname)
	}

	for _, d := range bound {
		if d.Hostname != normalized {
			continue
		}
		// Re-check path: timestamp touch only, must stay idempotent.
		if err := s.repo.TouchDomain(ctx, d.ID, s.now()); err != nil {
			log.Printf("verify: touch failed for binding %s: %v", d.ID, err)
			return failClosed
		}
		return domain.VerifyResult{Active: true, BoundDomains: hostnames, MaxDomains: lic.MaxDomains}
	}

	if len(bound) >= lic.MaxDomains {
		return domain.VerifyResult{Active: false, Reason: domain.ReasonLimitReached}
	}

	// Check-then-insert: two first-time hostnames racing at capacity-1 can
	// both land, overshooting max_domains by one. Accepted; the unique
	// index still collapses duplicate hostnames into a single binding.
	now := s.now()
	binding := &domain.LicenseDomain{
		ID:         uuid.New().String(),
		LicenseID:  lic.ID,
		Hostname:   normalized,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repo.UpsertDomain(ctx, binding); err != nil {
		log.Printf("verify: bind failed for license %s host %s: %v", lic.ID, normalized, err)
		return failClosed
	}

	return domain.VerifyResult{
		Active:       true,
		BoundDomains: append(hostnames, normalized),
		MaxDomains:   lic.MaxDomains,
	}
}

func (s *licenseService) Status(ctx context.Context, key string) (*domain.License, []domain.LicenseDomain, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, domain.ErrInvalidKey
	}
	lic, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if lic == nil {
		return nil, nil, domain.ErrInvalidKey
	}
	bound, err := s.repo.ListDomains(ctx, lic.ID)
	if err != nil {
		return nil, nil, err
	}
	return lic, bound, nil
}

func (s *licenseService) BySubscription(ctx context.Context, subscriptionID string) (*domain.License, []domain.LicenseDomain, error) {
	lic, err := s.repo.GetLicenseBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if lic == nil {
		return nil, nil, domain.ErrInvalidKey
	}
	bound, err := s.repo.ListDomains(ctx, lic.ID)
	if err != nil {
		return nil, nil, err
	}
	return lic, bound, nil
}
