package mail

import (
	"fmt"
	"time"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/billing"
)

// BillingMailer renders and sends invoice notifications. SendFunc is
// swappable so tests can capture messages instead of hitting SMTP.
type BillingMailer struct {
	Send func(to, subject, body string) error
}

func NewBillingMailer() *BillingMailer {
	return &BillingMailer{Send: SendMail}
}

func (m *BillingMailer) SendInvoiceCreated(to string, n billing.InvoiceNotice) error {
	subject := fmt.Sprintf("Your Titan Cloud invoice %s is ready", n.Number)
	body := fmt.Sprintf(
		"<h2>New Invoice</h2>"+
			"<p>Invoice <strong>%s</strong> for <strong>%s</strong> has been created.</p>"+
			"<p>Payment is due %s.</p>"+
			"%s",
		n.Number, formatAmount(n.AmountDue), formatDueDate(n.DueDate), invoiceLink(n),
	)
	return m.Send(to, subject, body)
}

func (m *BillingMailer) SendPaymentReminder(to string, n billing.InvoiceNotice) error {
	subject := fmt.Sprintf("Upcoming payment for invoice %s", n.Number)
	body := fmt.Sprintf(
		"<h2>Payment Reminder</h2>"+
			"<p>Your upcoming invoice <strong>%s</strong> for <strong>%s</strong> will be charged soon.</p>"+
			"<p>Due %s.</p>"+
			"%s",
		n.Number, formatAmount(n.AmountDue), formatDueDate(n.DueDate), invoiceLink(n),
	)
	return m.Send(to, subject, body)
}

func (m *BillingMailer) SendOverdueNotice(to string, n billing.InvoiceNotice) error {
	subject := fmt.Sprintf("Payment failed for invoice %s", n.Number)
	body := fmt.Sprintf(
		"<h2>Payment Failed</h2>"+
			"<p>We could not collect payment for invoice <strong>%s</strong> (%s).</p>"+
			"<p>Please update your payment method to keep your subscription active.</p>"+
			"%s",
		n.Number, formatAmount(n.AmountDue), invoiceLink(n),
	)
	return m.Send(to, subject, body)
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

func formatDueDate(due *time.Time) string {
	if due == nil {
		return "upon receipt"
	}
	return "on " + due.Format("Jan 2, 2006")
}

func invoiceLink(n billing.InvoiceNotice) string {
	if n.HostedURL == "" {
		return ""
	}
	return fmt.Sprintf("<p><a href=\"%s\">View invoice</a></p>", n.HostedURL)
}
