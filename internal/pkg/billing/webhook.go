package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/TitanCloudAI/titan-cloud/app/models"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/plans"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// InvoiceNotice carries the invoice fields rendered into customer emails.
type InvoiceNotice struct {
	Number    string
	AmountDue int64
	DueDate   *time.Time
	HostedURL string
}

// Mailer sends customer-facing billing notifications.
type Mailer interface {
	SendInvoiceCreated(to string, n InvoiceNotice) error
	SendPaymentReminder(to string, n InvoiceNotice) error
	SendOverdueNotice(to string, n InvoiceNotice) error
}

// DispatchResult reports what Handle did with a delivery.
type DispatchResult struct {
	Duplicate bool
	EventType string
}

// Dispatcher verifies and processes provider webhook deliveries. Every
// verified event is recorded before dispatch. A redelivery of an event whose
// processing completed is acknowledged without side effects; a redelivery
// after a failed attempt is processed again, since the provider retry is the
// only retry mechanism.
type Dispatcher struct {
	secret string
	repo   Repository
	mailer Mailer
	init   *Initializer
	track  TrackFunc
}

func NewDispatcher(secret string, repo Repository, mailer Mailer, init *Initializer) *Dispatcher {
	return &Dispatcher{
		secret: secret,
		repo:   repo,
		mailer: mailer,
		init:   init,
		track:  analytics.Track,
	}
}

// invoicePayload is the subset of the invoice event body the dispatcher
// consumes.
type invoicePayload struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	Customer         string `json:"customer"`
	CustomerEmail    string `json:"customer_email"`
	AmountDue        int64  `json:"amount_due"`
	DueDate          int64  `json:"due_date"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// subscriptionPayload is the subset of the subscription event body mirrored
// into the local table.
type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// Handle verifies the delivery signature, records the event, and dispatches
// it by type. Returns InvalidSignatureError when verification fails.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, sigHeader string) (*DispatchResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, d.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Printf("billing: webhook signature verification failed: %v", err)
		d.track("webhook_signature_invalid", nil)
		return nil, &InvalidSignatureError{Err: err}
	}

	created, stored, err := d.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("billing: webhook event record failed: %v", err)
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created {
		// Only suppress deliveries whose prior attempt completed cleanly.
		// A failed dispatch leaves its error on the row and must run again
		// on the next delivery.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			log.Printf("billing: duplicate webhook event %s ignored", event.ID)
			d.track("webhook_duplicate_ignored", map[string]string{"event_type": string(event.Type)})
			return &DispatchResult{Duplicate: true, EventType: string(event.Type)}, nil
		}
		log.Printf("billing: reprocessing webhook event %s after failed attempt", event.ID)
		d.track("webhook_reprocessed", map[string]string{"event_type": string(event.Type)})
	}

	dispatchErr := d.dispatch(ctx, event)

	errMsg := ""
	if dispatchErr != nil {
		errMsg = dispatchErr.Error()
	}
	if err := d.repo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
		log.Printf("billing: webhook event %s mark processed failed: %v", event.ID, err)
	}

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	d.track("webhook_processed", map[string]string{"event_type": string(event.Type)})
	return &DispatchResult{EventType: string(event.Type)}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "invoice.created":
		return d.handleInvoiceEvent(ctx, event, d.mailer.SendInvoiceCreated)
	case "invoice.upcoming":
		return d.handleInvoiceEvent(ctx, event, d.mailer.SendPaymentReminder)
	case "invoice.payment_failed":
		return d.handleInvoiceEvent(ctx, event, d.mailer.SendOverdueNotice)
	case "customer.subscription.created", "customer.subscription.updated":
		return d.syncSubscription(event, "")
	case "customer.subscription.deleted":
		return d.syncSubscription(event, models.BillingStatusCanceled)
	default:
		log.Printf("billing: unhandled webhook event type %s", event.Type)
		return nil
	}
}

func (d *Dispatcher) handleInvoiceEvent(ctx context.Context, event stripe.Event, send func(string, InvoiceNotice) error) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice payload: %w", err)
	}

	email, err := d.resolveEmail(ctx, inv)
	if err != nil {
		return err
	}
	if email == "" {
		log.Printf("billing: no email for customer %s, skipping %s notification", inv.Customer, event.Type)
		return nil
	}

	notice := InvoiceNotice{
		Number:    inv.Number,
		AmountDue: inv.AmountDue,
		HostedURL: inv.HostedInvoiceURL,
	}
	if inv.DueDate > 0 {
		due := time.Unix(inv.DueDate, 0).UTC()
		notice.DueDate = &due
	}

	if err := send(email, notice); err != nil {
		log.Printf("billing: %s notification to %s failed: %v", event.Type, email, err)
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}
	d.track("billing_email_sent", map[string]string{"event_type": string(event.Type)})
	return nil
}

// resolveEmail prefers the address on the payload, then the local linkage
// row, then a provider lookup.
func (d *Dispatcher) resolveEmail(ctx context.Context, inv invoicePayload) (string, error) {
	if inv.CustomerEmail != "" {
		return inv.CustomerEmail, nil
	}
	if inv.Customer == "" {
		return "", nil
	}

	if c, err := d.repo.GetCustomerByProviderID(inv.Customer); err == nil && c.Email != "" {
		return c.Email, nil
	}

	api, err := d.init.Initialize(ctx)
	if err != nil {
		return "", err
	}
	customer, err := api.GetCustomer(ctx, inv.Customer)
	if err != nil {
		return "", &ProviderError{Op: "get customer", Err: err}
	}
	return customer.Email, nil
}

// syncSubscription mirrors the event's subscription into the local table.
// An overrideStatus forces the stored status regardless of the payload,
// which keeps deletions canceled even when the final event body lags.
func (d *Dispatcher) syncSubscription(event stripe.Event, overrideStatus string) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription payload: %w", err)
	}

	status := sub.Status
	if overrideStatus != "" {
		status = overrideStatus
	}

	row := &models.BillingSubscription{
		ProviderCustomerID:     sub.Customer,
		ProviderSubscriptionID: sub.ID,
		Status:                 status,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		RawPayloadJSON:         string(event.Data.Raw),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		row.PriceID = item.Price.ID
		row.PlanID = string(plans.FromPriceID(item.Price.ID))
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			row.CurrentPeriodEnd = &end
		}
	}

	if err := d.repo.UpsertSubscription(row); err != nil {
		log.Printf("billing: subscription mirror upsert failed: %v", err)
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	d.track("subscription_synced", map[string]string{"status": status})
	return nil
}
