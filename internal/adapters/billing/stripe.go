package billing

import (
	"context"
	"fmt"

	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeProvider talks to the Stripe REST API for subscription state,
// customer email lookup and billing-portal sessions.
type StripeProvider struct {
	sc        *client.API
	returnURL string
}

// NewStripeProvider creates a Stripe-backed billing provider. returnURL
// is where the billing portal sends customers when they are done.
func NewStripeProvider(apiKey, returnURL string) *StripeProvider {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeProvider{sc: sc, returnURL: returnURL}
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	sub, err := p.sc.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe subscription %s: %w", subscriptionID, err)
	}

	out := &domain.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out, nil
}

func (p *StripeProvider) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	cust, err := p.sc.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", fmt.Errorf("stripe customer %s: %w", customerID, err)
	}
	return cust.Email, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	sess, err := p.sc.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("stripe portal session for %s: %w", customerID, err)
	}
	return sess.URL, nil
}
