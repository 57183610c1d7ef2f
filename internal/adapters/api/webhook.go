package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/squarepro/licensing/internal/infrastructure/metrics"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const stripeWebhookBodyLimit = 1024 * 1024 // 1MiB

// Local views of the Stripe event payloads; only the fields the
// reconciliation flow reads.
type stripeCheckoutSession struct {
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	Subscription    string            `json:"subscription"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails stripeCustDetails `json:"customer_details"`
}

type stripeCustDetails struct {
	Email string `json:"email"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type stripeInvoice struct {
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *stripeInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

// StripeWebhook ingests billing events. Signature verification is the
// authentication mechanism for this endpoint; after a valid signature
// the response is always 200 so Stripe does not retry events we failed
// on our side (reconciliation catches up on the next event).
func (h *APIHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, stripeWebhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleStripeEvent(r.Context(), &event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		log.Printf("webhook %s (%s) failed: %v", event.Type, event.ID, err)
	} else {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

func (h *APIHandler) handleStripeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		if session.Mode != "" && session.Mode != "subscription" {
			return nil
		}
		email := session.CustomerDetails.Email
		if email == "" {
			email = session.CustomerEmail
		}
		return h.subs.HandleCheckoutCompleted(ctx, session.Subscription, session.Customer, email)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		status := sub.Status
		if event.Type == "customer.subscription.deleted" {
			status = "canceled"
		}
		return h.subs.HandleSubscriptionEvent(ctx, sub.ID, sub.Customer, status)

	case "invoice.paid":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.subs.HandleInvoicePaid(ctx, inv.subscriptionID())

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.subs.HandleInvoicePaymentFailed(ctx, inv.subscriptionID())

	default:
		// Unhandled event types are acknowledged without action.
		return nil
	}
}
