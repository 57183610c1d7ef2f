package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/core/ports"
	"github.com/squarepro/licensing/internal/infrastructure/metrics"
)

// APIHandler handles HTTP requests for license verification, billing
// reconciliation and the billing-portal recovery flow.
type APIHandler struct {
	licenses ports.LicenseService
	subs     ports.SubscriptionService
	otp      ports.OtpService
	repo     ports.LicenseRepository
	limiter  ports.RateLimiter

	adminToken    string
	webhookSecret string
}

// NewAPIHandler creates and returns a new APIHandler instance.
func NewAPIHandler(licenses ports.LicenseService, subs ports.SubscriptionService, otp ports.OtpService,
	repo ports.LicenseRepository, limiter ports.RateLimiter, adminToken, webhookSecret string) *APIHandler {
	return &APIHandler{
		licenses:      licenses,
		subs:          subs,
		otp:           otp,
		repo:          repo,
		limiter:       limiter,
		adminToken:    adminToken,
		webhookSecret: webhookSecret,
	}
}

// RegisterRoutes registers the API routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	// Public Routes
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)
	mux.HandleFunc("POST /license/verify", h.VerifyLicense)
	mux.HandleFunc("POST /stripe/webhook", h.StripeWebhook)
	mux.HandleFunc("POST /stripe/portal-session", h.PortalSession)

	// Middleware
	admin := AdminAuth(h.adminToken)
	limited := RateLimit(h.limiter)

	mux.Handle("POST /stripe/request-otp", limited(http.HandlerFunc(h.RequestOtp)))

	// Operator routes
	mux.Handle("POST /license/status", admin(http.HandlerFunc(h.LicenseStatus)))
	mux.Handle("GET /stripe/license/by-subscription/{subscriptionId}", admin(http.HandlerFunc(h.LicenseBySubscription)))
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// HealthCheck handles health check requests.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := make(map[string]string)

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "DEGRADED"
		details["database"] = err.Error()
	} else {
		details["database"] = "OK"
	}

	resp := map[string]interface{}{
		"status":  status,
		"details": details,
	}

	code := http.StatusOK
	if status == "DEGRADED" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type verifyRequest struct {
	Key      string `json:"key"`
	Hostname string `json:"hostname"`
}

type statusRequest struct {
	Key string `json:"key"`
}

type otpRequest struct {
	LicenseKey string `json:"licenseKey"`
}

type portalSessionRequest struct {
	LicenseKey string `json:"licenseKey"`
	Code       string `json:"code"`
}

type reasonResponse struct {
	OK     bool          `json:"ok"`
	Reason domain.Reason `json:"reason,omitempty"`
}

// VerifyLicense checks a license key against a hostname and binds the
// hostname when capacity allows. Denials are 200s; only a malformed
// request is a 4xx.
func (h *APIHandler) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.VerifyResult{Active: false, Reason: domain.ReasonInvalidKey})
		return
	}

	// Empty key or hostname resolves to INVALID_KEY inside the service.
	result := h.licenses.VerifyDomain(r.Context(), req.Key, req.Hostname)
	if result.Active {
		metrics.VerificationsTotal.WithLabelValues("active").Inc()
	} else {
		metrics.VerificationsTotal.WithLabelValues(string(result.Reason)).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

type licenseStatusResponse struct {
	LicenseKey    string   `json:"licenseKey"`
	Status        string   `json:"status"`
	CustomerEmail string   `json:"customerEmail,omitempty"`
	MaxDomains    int      `json:"maxDomains"`
	KeySent       bool     `json:"keySent"`
	BoundDomains  []string `json:"boundDomains"`
}

func licenseStatusFrom(lic *domain.License, bindings []domain.LicenseDomain) licenseStatusResponse {
	hostnames := make([]string, 0, len(bindings))
	for _, b := range bindings {
		hostnames = append(hostnames, b.Hostname)
	}
	return licenseStatusResponse{
		LicenseKey:    lic.LicenseKey,
		Status:        string(lic.Status),
		CustomerEmail: lic.CustomerEmail,
		MaxDomains:    lic.MaxDomains,
		KeySent:       lic.KeySentAt != nil,
		BoundDomains:  hostnames,
	}
}

// LicenseStatus is the operator lookup by license key.
func (h *APIHandler) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonMissingLicenseKey})
		return
	}

	lic, bindings, err := h.licenses.Status(r.Context(), req.Key)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseStatusFrom(lic, bindings))
}

// LicenseBySubscription is the operator lookup by Stripe subscription id.
func (h *APIHandler) LicenseBySubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("subscriptionId")
	if subscriptionID == "" {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonInvalidKey})
		return
	}

	lic, bindings, err := h.licenses.BySubscription(r.Context(), subscriptionID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseStatusFrom(lic, bindings))
}

// RequestOtp emails a one-time code to the address on file for a license.
func (h *APIHandler) RequestOtp(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.LicenseKey) == "" {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonMissingLicenseKey})
		return
	}

	err := h.otp.RequestCode(r.Context(), req.LicenseKey)
	switch {
	case err == nil:
		metrics.OtpRequestsTotal.WithLabelValues("sent").Inc()
		writeJSON(w, http.StatusOK, reasonResponse{OK: true})
	case errors.Is(err, domain.ErrInvalidKey):
		metrics.OtpRequestsTotal.WithLabelValues("invalid_key").Inc()
		writeJSON(w, http.StatusNotFound, reasonResponse{OK: false, Reason: domain.ReasonInvalidKey})
	case errors.Is(err, domain.ErrNoEmailOnFile):
		metrics.OtpRequestsTotal.WithLabelValues("no_email").Inc()
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonNoEmailOnFile})
	default:
		metrics.OtpRequestsTotal.WithLabelValues("error").Inc()
		log.Printf("otp request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, reasonResponse{OK: false, Reason: domain.ReasonServerError})
	}
}

type portalSessionResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// PortalSession redeems a one-time code for a billing-portal URL.
func (h *APIHandler) PortalSession(w http.ResponseWriter, r *http.Request) {
	var req portalSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonMissingLicenseKey})
		return
	}
	if strings.TrimSpace(req.LicenseKey) == "" {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonMissingLicenseKey})
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonMissingOtp})
		return
	}

	url, err := h.otp.RedeemForPortalSession(r.Context(), req.LicenseKey, strings.TrimSpace(req.Code))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, portalSessionResponse{OK: true, URL: url})
	case errors.Is(err, domain.ErrInvalidOtp):
		writeJSON(w, http.StatusUnauthorized, reasonResponse{OK: false, Reason: domain.ReasonInvalidOtp})
	case errors.Is(err, domain.ErrInvalidKey):
		writeJSON(w, http.StatusNotFound, reasonResponse{OK: false, Reason: domain.ReasonInvalidKey})
	case errors.Is(err, domain.ErrNoEmailOnFile):
		writeJSON(w, http.StatusBadRequest, reasonResponse{OK: false, Reason: domain.ReasonNoEmailOnFile})
	case errors.Is(err, domain.ErrCustomerNotFound):
		writeJSON(w, http.StatusNotFound, reasonResponse{OK: false, Reason: domain.ReasonCustomerNotFound})
	default:
		log.Printf("portal session failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, reasonResponse{OK: false, Reason: domain.ReasonServerError})
	}
}

func (h *APIHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidKey) {
		writeJSON(w, http.StatusNotFound, reasonResponse{OK: false, Reason: domain.ReasonInvalidKey})
		return
	}
	log.Printf("license lookup failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, reasonResponse{OK: false, Reason: domain.ReasonServerError})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
