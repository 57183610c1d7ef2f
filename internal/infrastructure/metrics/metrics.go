package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal tracks Stripe webhook events by type and outcome
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squarepro_webhook_events_total",
		Help: "Total number of Stripe webhook events received",
	}, []string{"type", "result"})

	// VerificationsTotal tracks license verification requests by outcome
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squarepro_license_verifications_total",
		Help: "Total number of license verification requests",
	}, []string{"result"})

	// OtpRequestsTotal tracks one-time-code requests by outcome
	OtpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squarepro_otp_requests_total",
		Help: "Total number of one-time-code requests",
	}, []string{"result"})

	// KeyEmailsTotal tracks license-key email delivery attempts
	KeyEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squarepro_key_emails_total",
		Help: "Total number of license-key email sends",
	}, []string{"result"})

	// DBConnectionsActive tracks open database connections
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "squarepro_db_connections_active",
		Help: "Number of active database connections",
	})
)
