package billing

import "time"

// CheckoutResult identifies the provider-hosted checkout flow created for a
// subscribe action.
type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	CustomerID  string `json:"customer_id"`
}

// SubscriptionState is the projection of a provider subscription returned to
// callers.
type SubscriptionState struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

// StatusResult reports checkout session state plus, when a customer is
// known, their most recent subscription.
type StatusResult struct {
	SessionStatus string             `json:"status"`
	Subscription  *SubscriptionState `json:"subscription,omitempty"`
}

// InvoiceSummary is the stable invoice shape exposed to the dashboard.
type InvoiceSummary struct {
	ID        string     `json:"id"`
	Number    string     `json:"number"`
	AmountDue int64      `json:"amount_due"`
	Status    string     `json:"status"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	PDFURL    string     `json:"pdf_url,omitempty"`
	HostedURL string     `json:"hosted_url,omitempty"`
}

// ChargeSummary carries the fields the financial report reduces over.
type ChargeSummary struct {
	ID             string    `json:"id"`
	Amount         int64     `json:"amount"`
	AmountRefunded int64     `json:"amount_refunded"`
	Status         string    `json:"status"`
	Created        time.Time `json:"created"`
}

// CreditSummary is a credit note within the report window.
type CreditSummary struct {
	ID      string    `json:"id"`
	Total   int64     `json:"total"`
	Created time.Time `json:"created"`
}

// FinancialReport aggregates a customer's billing activity in a date window.
type FinancialReport struct {
	TotalBilled  int64            `json:"total_billed"`
	TotalPaid    int64            `json:"total_paid"`
	TotalCredits int64            `json:"total_credits"`
	Invoices     []InvoiceSummary `json:"invoices"`
	Charges      []ChargeSummary  `json:"charges"`
	Credits      []CreditSummary  `json:"credits"`
}
