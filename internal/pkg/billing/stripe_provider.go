package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// stripeProvider implements ProviderAPI on top of the official Stripe SDK.
// Each provider owns its API client so keys never leak through the SDK's
// package-level state.
type stripeProvider struct {
	api *client.API
}

func newStripeProvider(secretKey string) (*stripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeProvider{api: api}, nil
}

func (p *stripeProvider) CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	return p.api.Customers.New(params)
}

func (p *stripeProvider) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return p.api.Customers.Get(id, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
}

func (p *stripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if in.TrialDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(in.TrialDays),
		}
	}
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}
	return p.api.CheckoutSessions.New(params)
}

func (p *stripeProvider) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	return p.api.CheckoutSessions.Get(id, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
}

func (p *stripeProvider) LatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{Context: ctx, Limit: stripe.Int64(1)},
		Customer:   stripe.String(customerID),
		Status:     stripe.String("all"),
	}
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		return iter.Subscription(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *stripeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return p.api.Subscriptions.Get(id, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
}

func (p *stripeProvider) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	return p.api.Subscriptions.Update(id, params)
}

func (p *stripeProvider) ListInvoices(ctx context.Context, customerID string, limit int64, start, end *time.Time) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		ListParams: stripe.ListParams{Context: ctx, Limit: stripe.Int64(limit)},
		Customer:   stripe.String(customerID),
	}
	if start != nil && end != nil {
		params.CreatedRange = &stripe.RangeQueryParams{
			GreaterThanOrEqual: start.Unix(),
			LesserThanOrEqual:  end.Unix(),
		}
	}

	var out []*stripe.Invoice
	iter := p.api.Invoices.List(params)
	for iter.Next() {
		out = append(out, iter.Invoice())
	}
	return out, iter.Err()
}

func (p *stripeProvider) ListCharges(ctx context.Context, customerID string, start, end time.Time) ([]*stripe.Charge, error) {
	params := &stripe.ChargeListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: start.Unix(),
			LesserThanOrEqual:  end.Unix(),
		},
	}

	var out []*stripe.Charge
	iter := p.api.Charges.List(params)
	for iter.Next() {
		out = append(out, iter.Charge())
	}
	return out, iter.Err()
}

func (p *stripeProvider) ListCreditNotes(ctx context.Context, customerID string) ([]*stripe.CreditNote, error) {
	params := &stripe.CreditNoteListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
	}

	var out []*stripe.CreditNote
	iter := p.api.CreditNotes.List(params)
	for iter.Next() {
		out = append(out, iter.CreditNote())
	}
	return out, iter.Err()
}
