package billing

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// CheckoutParams describes one subscription purchase attempt.
type CheckoutParams struct {
	CustomerID     string
	PriceID        string
	TrialDays      int64
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// ProviderAPI is the slice of the payment provider's API this service uses.
// The concrete implementation wraps the Stripe SDK; tests substitute fakes.
type ProviderAPI interface {
	CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)

	LatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)

	ListInvoices(ctx context.Context, customerID string, limit int64, start, end *time.Time) ([]*stripe.Invoice, error)
	ListCharges(ctx context.Context, customerID string, start, end time.Time) ([]*stripe.Charge, error)
	ListCreditNotes(ctx context.Context, customerID string) ([]*stripe.CreditNote, error)
}
