package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/core/ports"
	"github.com/squarepro/licensing/internal/crypto"
	"github.com/squarepro/licensing/internal/infrastructure/metrics"
)

type subscriptionService struct {
	repo       ports.LicenseRepository
	billing    ports.BillingProvider
	mailer     ports.Mailer
	maxDomains int
	now        func() time.Time
}

// NewSubscriptionService creates the webhook-event reconciliation service.
// maxDomains is the capacity assigned to licenses it creates.
func NewSubscriptionService(repo ports.LicenseRepository, billing ports.BillingProvider, mailer ports.Mailer, maxDomains int) ports.SubscriptionService {
	if maxDomains <= 0 {
		maxDomains = domain.DefaultMaxDomains
	}
	return &subscriptionService{
		repo:       repo,
		billing:    billing,
		mailer:     mailer,
		maxDomains: maxDomains,
		now:        time.Now,
	}
}

// ensureLicense updates the license for a subscription or creates it on
// first sight. The create path can lose two races: another handler
// inserting the same subscription id (re-read and update), or a
// license-key collision (regenerate). Both surface as ErrDuplicate, so
// the loop simply goes around again; it terminates because a
// subscription-id conflict means a winner's row now exists.
func (s *subscriptionService) ensureLicense(ctx context.Context, subscriptionID, customerID string, status domain.LicenseStatus, email string) (*domain.License, error) {
	for {
		existing, err := s.repo.GetLicenseBySubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.repo.UpdateLicenseBilling(ctx, existing.ID, customerID, status, email); err != nil {
				return nil, err
			}
			existing.StripeCustomerID = customerID
			existing.Status = status
			if existing.CustomerEmail == "" && email != "" {
				existing.CustomerEmail = domain.NormalizeEmail(email)
			}
			return existing, nil
		}

		key, err := crypto.GenerateLicenseKey()
		if err != nil {
			return nil, err
		}
		now := s.now()
		lic := &domain.License{
			ID:                   uuid.New().String(),
			LicenseKey:           key,
			StripeCustomerID:     customerID,
			StripeSubscriptionID: subscriptionID,
			Status:               status,
			CustomerEmail:        domain.NormalizeEmail(email),
			MaxDomains:           s.maxDomains,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		err = s.repo.CreateLicense(ctx, lic)
		if err == nil {
			log.Printf("created license %s for subscription %s", lic.ID, subscriptionID)
			return lic, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
	}
}

// deliverKeyIfNeeded sends the license-key email at most once per license.
// The claim is a conditional update on key_sent_at; losing it means some
// other caller sent (or is sending) the email. A failed send reverts the
// claim so a later invoice-paid event can retry.
func (s *subscriptionService) deliverKeyIfNeeded(ctx context.Context, lic *domain.License, email string) error {
	if lic == nil || email == "" || !domain.HasMailbox(email) {
		return nil
	}
	email = domain.NormalizeEmail(email)

	won, err := s.repo.ClaimKeyDelivery(ctx, lic.ID, email, s.now())
	if err != nil {
		return fmt.Errorf("claim key delivery: %w", err)
	}
	if !won {
		return nil
	}

	if err := s.mailer.SendLicenseKey(ctx, email, lic.LicenseKey); err != nil {
		metrics.KeyEmailsTotal.WithLabelValues("error").Inc()
		if relErr := s.repo.ReleaseKeyDelivery(ctx, lic.ID); relErr != nil {
			log.Printf("failed to release key-delivery claim for license %s: %v", lic.ID, relErr)
		}
		return fmt.Errorf("send license key email: %w", err)
	}
	metrics.KeyEmailsTotal.WithLabelValues("sent").Inc()
	log.Printf("license key email sent for license %s", lic.ID)
	return nil
}

func (s *subscriptionService) HandleCheckoutCompleted(ctx context.Context, subscriptionID, customerID, email string) error {
	if subscriptionID == "" || customerID == "" {
		return nil
	}

	// The session payload's status is not trusted; fetch the canonical
	// subscription state.
	sub, err := s.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}

	lic, err := s.ensureLicense(ctx, subscriptionID, customerID, domain.MapStripeStatus(sub.Status), email)
	if err != nil {
		return err
	}
	return s.deliverKeyIfNeeded(ctx, lic, firstNonEmpty(email, lic.CustomerEmail))
}

func (s *subscriptionService) HandleSubscriptionEvent(ctx context.Context, subscriptionID, customerID, stripeStatus string) error {
	if subscriptionID == "" || customerID == "" {
		return nil
	}

	// Email is optional enrichment; a billing API hiccup must never block
	// status reconciliation.
	email, err := s.billing.GetCustomerEmail(ctx, customerID)
	if err != nil {
		log.Printf("customer email lookup failed for %s: %v", customerID, err)
		email = ""
	}

	lic, err := s.ensureLicense(ctx, subscriptionID, customerID, domain.MapStripeStatus(stripeStatus), email)
	if err != nil {
		return err
	}
	return s.deliverKeyIfNeeded(ctx, lic, firstNonEmpty(email, lic.CustomerEmail))
}

// HandleInvoicePaid is the reliability backstop: it re-derives both the
// subscription status and the customer email from the billing provider so
// license issuance never depends on one particular event type arriving.
func (s *subscriptionService) HandleInvoicePaid(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}

	sub, err := s.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}

	email, err := s.billing.GetCustomerEmail(ctx, sub.CustomerID)
	if err != nil {
		log.Printf("customer email lookup failed for %s: %v", sub.CustomerID, err)
		email = ""
	}

	lic, err := s.ensureLicense(ctx, subscriptionID, sub.CustomerID, domain.MapStripeStatus(sub.Status), email)
	if err != nil {
		return err
	}
	return s.deliverKeyIfNeeded(ctx, lic, firstNonEmpty(email, lic.CustomerEmail))
}

func (s *subscriptionService) HandleInvoicePaymentFailed(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}
	return s.repo.SetStatusBySubscription(ctx, subscriptionID, domain.StatusPastDue)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
