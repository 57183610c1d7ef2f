package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/crypto"
)

func newOtpFixture() (*fakeRepo, *fakeBilling, *fakeMailer, *crypto.Hasher) {
	repo := newFakeRepo()
	lic := activeLicense()
	lic.CustomerEmail = "buyer@example.com"
	repo.addLicense(lic)

	billing := &fakeBilling{portalURL: "https://billing.stripe.com/session/xyz"}
	mailer := &fakeMailer{}
	hasher := crypto.NewHasher("test-otp-secret")
	return repo, billing, mailer, hasher
}

func TestRequestCode(t *testing.T) {
	ctx := context.Background()

	t.Run("SendsCodeToEmailOnFile", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		if err := svc.RequestCode(ctx, "SPRO_test"); err != nil {
			t.Fatalf("RequestCode failed: %v", err)
		}
		if len(mailer.otpTo) != 1 || mailer.otpTo[0] != "buyer@example.com" {
			t.Errorf("Unexpected recipients: %v", mailer.otpTo)
		}
		if len(mailer.otpCodes[0]) != 6 {
			t.Errorf("Expected 6-digit code, got %q", mailer.otpCodes[0])
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		err := svc.RequestCode(ctx, "SPRO_nope")
		if !errors.Is(err, domain.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("NoEmailOnFile", func(t *testing.T) {
		repo := newFakeRepo()
		repo.addLicense(activeLicense()) // no email
		svc := NewOtpService(repo, &fakeBilling{}, &fakeMailer{}, crypto.NewHasher("s"))

		err := svc.RequestCode(ctx, "SPRO_test")
		if !errors.Is(err, domain.ErrNoEmailOnFile) {
			t.Errorf("Expected ErrNoEmailOnFile, got %v", err)
		}
	})

	t.Run("NewRequestSupersedesOldCode", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		svc.RequestCode(ctx, "SPRO_test")
		svc.RequestCode(ctx, "SPRO_test")

		first, second := mailer.otpCodes[0], mailer.otpCodes[1]

		// The two random codes can collide; only the distinct case proves
		// supersession.
		if first != second {
			if _, err := svc.RedeemForPortalSession(ctx, "SPRO_test", first); !errors.Is(err, domain.ErrInvalidOtp) {
				t.Errorf("Superseded code must not redeem, got %v", err)
			}
		}
		if _, err := svc.RedeemForPortalSession(ctx, "SPRO_test", second); err != nil {
			t.Errorf("Latest code must redeem: %v", err)
		}
	})

	t.Run("MailFailureSurfaces", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		mailer.otpErr = errors.New("resend down")
		svc := NewOtpService(repo, billing, mailer, hasher)

		if err := svc.RequestCode(ctx, "SPRO_test"); err == nil {
			t.Error("Expected error when the email cannot be sent")
		}
	})
}

func TestRedeemForPortalSession(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		if err := svc.RequestCode(ctx, "SPRO_test"); err != nil {
			t.Fatalf("RequestCode failed: %v", err)
		}
		code := mailer.otpCodes[0]

		url, err := svc.RedeemForPortalSession(ctx, "SPRO_test", code)
		if err != nil {
			t.Fatalf("Redeem failed: %v", err)
		}
		if url != "https://billing.stripe.com/session/xyz" {
			t.Errorf("Unexpected portal URL: %q", url)
		}
	})

	t.Run("SingleUse", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		svc.RequestCode(ctx, "SPRO_test")
		code := mailer.otpCodes[0]

		if _, err := svc.RedeemForPortalSession(ctx, "SPRO_test", code); err != nil {
			t.Fatalf("First redeem failed: %v", err)
		}
		_, err := svc.RedeemForPortalSession(ctx, "SPRO_test", code)
		if !errors.Is(err, domain.ErrInvalidOtp) {
			t.Errorf("Replay must fail with ErrInvalidOtp, got %v", err)
		}
	})

	t.Run("WrongCode", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, mailer, hasher)

		svc.RequestCode(ctx, "SPRO_test")
		wrong := "000000"
		if wrong == mailer.otpCodes[0] {
			wrong = "000001"
		}

		_, err := svc.RedeemForPortalSession(ctx, "SPRO_test", wrong)
		if !errors.Is(err, domain.ErrInvalidOtp) {
			t.Errorf("Expected ErrInvalidOtp, got %v", err)
		}
	})

	t.Run("ExpiredCode", func(t *testing.T) {
		repo, billing, _, hasher := newOtpFixture()
		svc := NewOtpService(repo, billing, &fakeMailer{}, hasher)

		// Insert a code that expired before now.
		past := time.Now().Add(-time.Hour)
		repo.CreateOtp(ctx, &domain.EmailOtp{
			ID: "otp-old", Email: "buyer@example.com",
			CodeHash:  hasher.Hash("buyer@example.com", "123456"),
			CreatedAt: past, ExpiresAt: past.Add(domain.OtpTTL),
		})

		_, err := svc.RedeemForPortalSession(ctx, "SPRO_test", "123456")
		if !errors.Is(err, domain.ErrInvalidOtp) {
			t.Errorf("Expired code must fail, got %v", err)
		}
	})

	t.Run("NoStripeCustomer", func(t *testing.T) {
		repo := newFakeRepo()
		lic := activeLicense()
		lic.CustomerEmail = "buyer@example.com"
		lic.StripeCustomerID = ""
		repo.addLicense(lic)

		mailer := &fakeMailer{}
		hasher := crypto.NewHasher("test-otp-secret")
		svc := NewOtpService(repo, &fakeBilling{}, mailer, hasher)

		svc.RequestCode(ctx, "SPRO_test")
		_, err := svc.RedeemForPortalSession(ctx, "SPRO_test", mailer.otpCodes[0])
		if !errors.Is(err, domain.ErrCustomerNotFound) {
			t.Errorf("Expected ErrCustomerNotFound, got %v", err)
		}
	})

	t.Run("CodeConsumedEvenWhenPortalFails", func(t *testing.T) {
		repo, billing, mailer, hasher := newOtpFixture()
		billing.portalErr = errors.New("stripe down")
		svc := NewOtpService(repo, billing, mailer, hasher)

		svc.RequestCode(ctx, "SPRO_test")
		code := mailer.otpCodes[0]

		if _, err := svc.RedeemForPortalSession(ctx, "SPRO_test", code); err == nil {
			t.Fatal("Expected portal error to surface")
		}

		// Mark-used happens before session creation, so the code is gone.
		_, err := svc.RedeemForPortalSession(ctx, "SPRO_test", code)
		if !errors.Is(err, domain.ErrInvalidOtp) {
			t.Errorf("Code must be consumed despite the portal failure, got %v", err)
		}
	})
}
