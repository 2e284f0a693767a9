package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TitanCloudAI/titan-cloud/app/models"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/plans"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"
)

// invoiceHistoryLimit caps the dashboard invoice listing.
const invoiceHistoryLimit = 24

// Service exposes the subscription operations of the billing API. The
// payment provider is the single source of truth; the only local writes are
// the customer linkage rows created alongside checkout sessions.
type Service struct {
	init  *Initializer
	repo  Repository
	cfg   Config
	track TrackFunc
}

func NewService(init *Initializer, repo Repository, cfg Config) *Service {
	return &Service{
		init:  init,
		repo:  repo,
		cfg:   cfg,
		track: analytics.Track,
	}
}

func (s *Service) provider(ctx context.Context) (ProviderAPI, error) {
	return s.init.Initialize(ctx)
}

// CreateSubscription creates a checkout session for the given plan, creating
// a provider customer first when none is supplied. Every session carries the
// fixed trial length, automatic tax, and the platform redirect URLs.
func (s *Service) CreateSubscription(ctx context.Context, planID, customerID, email string) (*CheckoutResult, error) {
	if !plans.IsKnown(planID) {
		return nil, fmt.Errorf("unknown plan: %s", planID)
	}

	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	if customerID == "" {
		customer, err := api.CreateCustomer(ctx, email, "")
		if err != nil {
			log.Printf("billing: customer creation failed: %v", err)
			s.track("subscription_create_failed", map[string]string{"stage": "customer"})
			return nil, &SubscriptionCreationError{Err: err}
		}
		customerID = customer.ID

		if err := s.repo.UpsertCustomer(&models.BillingCustomer{
			ProviderCustomerID: customer.ID,
			Email:              email,
		}); err != nil {
			// Linkage is best-effort; the webhook sync path backfills it.
			log.Printf("billing: customer linkage upsert failed: %v", err)
		}
	}

	session, err := api.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:     customerID,
		PriceID:        plans.PriceID(plans.Normalize(planID)),
		TrialDays:      plans.TrialPeriodDays,
		SuccessURL:     s.cfg.AppBaseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.cfg.AppBaseURL + "/pricing",
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		log.Printf("billing: checkout session creation failed: %v", err)
		s.track("subscription_create_failed", map[string]string{"stage": "session"})
		return nil, &SubscriptionCreationError{Err: err}
	}

	s.track("subscription_checkout_created", map[string]string{"plan": planID})
	return &CheckoutResult{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		CustomerID:  customerID,
	}, nil
}

// GetSubscriptionStatus reads back checkout session state. When a customer
// id is supplied the customer's subscription is served from the local mirror
// while it grants access; otherwise the provider is consulted. Read-only and
// safe to retry.
func (s *Service) GetSubscriptionStatus(ctx context.Context, sessionID, customerID string) (*StatusResult, error) {
	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	session, err := api.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		log.Printf("billing: checkout session lookup failed: %v", err)
		return nil, &ProviderError{Op: "get checkout session", Err: err}
	}

	result := &StatusResult{SessionStatus: string(session.Status)}
	if customerID != "" {
		if row, err := s.repo.LatestSubscriptionByCustomer(customerID); err == nil && row.IsEntitling() {
			result.Subscription = projectMirroredSubscription(row)
			return result, nil
		}

		sub, err := api.LatestSubscription(ctx, customerID)
		if err != nil {
			log.Printf("billing: subscription lookup failed: %v", err)
			return nil, &ProviderError{Op: "list subscriptions", Err: err}
		}
		if sub != nil {
			result.Subscription = projectSubscription(sub)
		}
	}
	return result, nil
}

// GetInvoices lists the customer's most recent invoices in a stable shape.
func (s *Service) GetInvoices(ctx context.Context, customerID string) ([]InvoiceSummary, error) {
	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	invoices, err := api.ListInvoices(ctx, customerID, invoiceHistoryLimit, nil, nil)
	if err != nil {
		log.Printf("billing: invoice listing failed: %v", err)
		return nil, &ProviderError{Op: "list invoices", Err: err}
	}

	out := make([]InvoiceSummary, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, projectInvoice(inv))
	}
	return out, nil
}

// GetFinancialReport fetches invoices, charges, and credit notes for the
// window concurrently and reduces them to aggregate sums. TotalPaid nets
// out refunded amounts per charge before summing.
func (s *Service) GetFinancialReport(ctx context.Context, customerID string, start, end time.Time) (*FinancialReport, error) {
	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	var (
		invoices []*stripe.Invoice
		charges  []*stripe.Charge
		credits  []*stripe.CreditNote
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = api.ListInvoices(gctx, customerID, 100, &start, &end)
		return err
	})
	g.Go(func() error {
		var err error
		charges, err = api.ListCharges(gctx, customerID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		credits, err = api.ListCreditNotes(gctx, customerID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("billing: financial report fetch failed: %v", err)
		return nil, &ProviderError{Op: "financial report", Err: err}
	}

	report := &FinancialReport{}
	for _, inv := range invoices {
		report.TotalBilled += inv.AmountDue
		report.Invoices = append(report.Invoices, projectInvoice(inv))
	}
	for _, ch := range charges {
		if ch.Status == stripe.ChargeStatusSucceeded {
			report.TotalPaid += ch.Amount - ch.AmountRefunded
		}
		report.Charges = append(report.Charges, ChargeSummary{
			ID:             ch.ID,
			Amount:         ch.Amount,
			AmountRefunded: ch.AmountRefunded,
			Status:         string(ch.Status),
			Created:        time.Unix(ch.Created, 0).UTC(),
		})
	}
	for _, cn := range credits {
		created := time.Unix(cn.Created, 0).UTC()
		// The credit-note list endpoint has no created filter, so the
		// window is applied here.
		if created.Before(start) || created.After(end) {
			continue
		}
		report.TotalCredits += cn.Total
		report.Credits = append(report.Credits, CreditSummary{
			ID:      cn.ID,
			Total:   cn.Total,
			Created: created,
		})
	}
	return report, nil
}

// CancelSubscription schedules cancellation for period end so the customer
// keeps access through the current billing period. It never terminates
// immediately.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := api.UpdateSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		log.Printf("billing: subscription cancellation failed: %v", err)
		return nil, &ProviderError{Op: "cancel subscription", Err: err}
	}

	s.track("subscription_canceled", map[string]string{"subscription_id": subscriptionID})
	return projectSubscription(sub), nil
}

// UpdateSubscription swaps the subscription's single line item to the new
// price and invoices the prorated difference immediately instead of at the
// next renewal.
func (s *Service) UpdateSubscription(ctx context.Context, subscriptionID, newPriceID string) (*SubscriptionState, error) {
	api, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}

	current, err := api.GetSubscription(ctx, subscriptionID)
	if err != nil {
		log.Printf("billing: subscription lookup failed: %v", err)
		return nil, &ProviderError{Op: "get subscription", Err: err}
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &ProviderError{Op: "update subscription", Err: fmt.Errorf("subscription %s has no items", subscriptionID)}
	}

	sub, err := api.UpdateSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("always_invoice"),
	})
	if err != nil {
		log.Printf("billing: subscription update failed: %v", err)
		return nil, &ProviderError{Op: "update subscription", Err: err}
	}

	s.track("subscription_updated", map[string]string{"price_id": newPriceID})
	return projectSubscription(sub), nil
}

func projectInvoice(inv *stripe.Invoice) InvoiceSummary {
	out := InvoiceSummary{
		ID:        inv.ID,
		Number:    inv.Number,
		AmountDue: inv.AmountDue,
		Status:    string(inv.Status),
		PDFURL:    inv.InvoicePDF,
		HostedURL: inv.HostedInvoiceURL,
	}
	if inv.DueDate > 0 {
		due := time.Unix(inv.DueDate, 0).UTC()
		out.DueDate = &due
	}
	return out
}

func projectMirroredSubscription(row *models.BillingSubscription) *SubscriptionState {
	return &SubscriptionState{
		ID:                row.ProviderSubscriptionID,
		Status:            row.Status,
		PriceID:           row.PriceID,
		CancelAtPeriodEnd: row.CancelAtPeriodEnd,
		CurrentPeriodEnd:  row.CurrentPeriodEnd,
	}
}

func projectSubscription(sub *stripe.Subscription) *SubscriptionState {
	state := &SubscriptionState{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			state.CurrentPeriodEnd = &end
		}
	}
	return state
}
