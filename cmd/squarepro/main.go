package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/squarepro/licensing/internal/adapters/api"
	"github.com/squarepro/licensing/internal/adapters/billing"
	"github.com/squarepro/licensing/internal/adapters/mailer"
	"github.com/squarepro/licensing/internal/adapters/repository"
	"github.com/squarepro/licensing/internal/config"
	"github.com/squarepro/licensing/internal/core/ports"
	"github.com/squarepro/licensing/internal/core/services"
	"github.com/squarepro/licensing/internal/crypto"
	"github.com/squarepro/licensing/internal/infrastructure/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Printf("Warning: could not ping database: %v\n", err)
	}

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	// Feed the connection gauge from the pool stats.
	go func() {
		for range time.Tick(15 * time.Second) {
			metrics.DBConnectionsActive.Set(float64(db.Stats().OpenConnections))
		}
	}()

	stripeProvider := billing.NewStripeProvider(cfg.StripeSecretKey, cfg.AppBaseURL)
	resend := mailer.NewResendMailer(cfg.ResendAPIKey, cfg.EmailFrom)
	hasher := crypto.NewHasher(cfg.OtpSecret)

	licenseSvc := services.NewLicenseService(repo)
	subSvc := services.NewSubscriptionService(repo, stripeProvider, resend, cfg.MaxDomains)
	otpSvc := services.NewOtpService(repo, stripeProvider, resend, hasher)

	// OTP requests are limited per client IP: 5 per 10 minutes, shared
	// across instances when Redis is configured.
	var limiter ports.RateLimiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisRateLimiter(cfg.RedisAddr, 5, 10*time.Minute)
		log.Printf("rate limiting via redis at %s", cfg.RedisAddr)
	} else {
		tb := api.NewTokenBucketLimiter(1.0/120, 5)
		go func() {
			for range time.Tick(10 * time.Minute) {
				tb.Cleanup()
			}
		}()
		limiter = tb
	}

	apiHandler := api.NewAPIHandler(licenseSvc, subSvc, otpSvc, repo, limiter, cfg.AdminToken, cfg.StripeWebhookSecret)
	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	addr := ":" + cfg.Port
	fmt.Printf("Licensing API listening on %s...\n", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
