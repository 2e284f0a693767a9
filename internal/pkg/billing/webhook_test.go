package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TitanCloudAI/titan-cloud/app/models"
)

const testWebhookSecret = "whsec_testsecret"

type fakeMailer struct {
	created   []string
	reminders []string
	overdue   []string
	notices   []InvoiceNotice
	err       error
}

func (m *fakeMailer) SendInvoiceCreated(to string, n InvoiceNotice) error {
	m.created = append(m.created, to)
	m.notices = append(m.notices, n)
	return m.err
}

func (m *fakeMailer) SendPaymentReminder(to string, n InvoiceNotice) error {
	m.reminders = append(m.reminders, to)
	m.notices = append(m.notices, n)
	return m.err
}

func (m *fakeMailer) SendOverdueNotice(to string, n InvoiceNotice) error {
	m.overdue = append(m.overdue, to)
	m.notices = append(m.notices, n)
	return m.err
}

func signPayload(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"api_version":"2025-03-31.basil","data":{"object":%s}}`, id, eventType, object))
}

func newTestDispatcher(repo Repository, mailer Mailer, provider ProviderAPI) *Dispatcher {
	init, _ := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		if provider == nil {
			return nil, errors.New("no provider configured")
		}
		return provider, nil
	})
	return &Dispatcher{
		secret: testWebhookSecret,
		repo:   repo,
		mailer: mailer,
		init:   init,
		track:  func(string, map[string]string) {},
	}
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	repo := newFakeRepo()
	d := newTestDispatcher(repo, &fakeMailer{}, nil)

	payload := eventPayload("evt_1", "invoice.created", `{"id":"in_1"}`)
	_, err := d.Handle(context.Background(), payload, "t=1,v1=deadbeef")

	var sigErr *InvalidSignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected InvalidSignatureError, got %v", err)
	}
	if len(repo.events) != 0 {
		t.Fatal("unverified deliveries must not be recorded")
	}
}

func TestHandleInvoiceCreatedSendsEmail(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_1","number":"TITAN-0001","customer":"cus_1","customer_email":"user@example.com","amount_due":2900,"due_date":1767225600,"hosted_invoice_url":"https://invoice.stripe.com/in_1"}`
	payload := eventPayload("evt_1", "invoice.created", object)

	result, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first delivery must not be marked duplicate")
	}
	if len(mailer.created) != 1 || mailer.created[0] != "user@example.com" {
		t.Fatalf("expected invoice email to user@example.com, got %v", mailer.created)
	}

	notice := mailer.notices[0]
	if notice.Number != "TITAN-0001" || notice.AmountDue != 2900 {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if notice.DueDate == nil {
		t.Fatal("expected due date on notice")
	}

	stored, ok := repo.events["evt_1"]
	if !ok {
		t.Fatal("expected event to be recorded")
	}
	if errMsg, ok := repo.processed[stored.ID]; !ok || errMsg != "" {
		t.Fatalf("expected event marked processed without error, got %q", errMsg)
	}
}

func TestHandleDuplicateEventIsAcknowledgedWithoutSideEffects(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_1","customer_email":"user@example.com","amount_due":100}`
	payload := eventPayload("evt_dup", "invoice.created", object)
	sig := signPayload(t, testWebhookSecret, payload)

	if _, err := d.Handle(context.Background(), payload, sig); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	result, err := d.Handle(context.Background(), payload, sig)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}

	if !result.Duplicate {
		t.Fatal("expected duplicate flag on second delivery")
	}
	if len(mailer.created) != 1 {
		t.Fatalf("expected exactly one email across duplicate deliveries, got %d", len(mailer.created))
	}
}

func TestHandlePaymentFailedSendsOverdueNotice(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_2","number":"TITAN-0002","customer_email":"user@example.com","amount_due":2900}`
	payload := eventPayload("evt_2", "invoice.payment_failed", object)

	if _, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mailer.overdue) != 1 {
		t.Fatalf("expected overdue notice, got %v", mailer.overdue)
	}
	if len(mailer.created) != 0 || len(mailer.reminders) != 0 {
		t.Fatal("payment failure must only trigger the overdue notice")
	}
}

func TestHandleResolvesEmailFromLocalCustomer(t *testing.T) {
	repo := newFakeRepo()
	if err := repo.UpsertCustomer(&models.BillingCustomer{
		ProviderCustomerID: "cus_local",
		Email:              "stored@example.com",
	}); err != nil {
		t.Fatal(err)
	}
	mailer := &fakeMailer{}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_3","customer":"cus_local","amount_due":100}`
	payload := eventPayload("evt_3", "invoice.upcoming", object)

	if _, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mailer.reminders) != 1 || mailer.reminders[0] != "stored@example.com" {
		t.Fatalf("expected reminder to stored address, got %v", mailer.reminders)
	}
}

func TestHandleSubscriptionUpdatedMirrorsState(t *testing.T) {
	repo := newFakeRepo()
	d := newTestDispatcher(repo, &fakeMailer{}, nil)

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	object := fmt.Sprintf(`{"id":"sub_1","customer":"cus_1","status":"active","cancel_at_period_end":true,"items":{"data":[{"current_period_end":%d,"price":{"id":"price_titan_pro"}}]}}`, periodEnd.Unix())
	payload := eventPayload("evt_4", "customer.subscription.updated", object)

	if _, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, ok := repo.subscriptions["sub_1"]
	if !ok {
		t.Fatal("expected mirrored subscription row")
	}
	if sub.Status != "active" || !sub.CancelAtPeriodEnd {
		t.Fatalf("unexpected mirror state %+v", sub)
	}
	if sub.PriceID != "price_titan_pro" || sub.PlanID != "pro" {
		t.Fatalf("expected price and plan mapping, got %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("expected period end %v, got %v", periodEnd, sub.CurrentPeriodEnd)
	}
}

func TestHandleSubscriptionDeletedForcesCanceled(t *testing.T) {
	repo := newFakeRepo()
	d := newTestDispatcher(repo, &fakeMailer{}, nil)

	object := `{"id":"sub_2","customer":"cus_1","status":"active"}`
	payload := eventPayload("evt_5", "customer.subscription.deleted", object)

	if _, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, ok := repo.subscriptions["sub_2"]
	if !ok {
		t.Fatal("expected mirrored subscription row")
	}
	if sub.Status != models.BillingStatusCanceled {
		t.Fatalf("deletion must force canceled status, got %q", sub.Status)
	}
}

func TestHandleUnknownEventTypeIsAcknowledged(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	d := newTestDispatcher(repo, mailer, nil)

	payload := eventPayload("evt_6", "charge.refunded", `{"id":"ch_1"}`)

	result, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload))
	if err != nil {
		t.Fatalf("unknown types must be acknowledged, got %v", err)
	}
	if result.EventType != "charge.refunded" {
		t.Fatalf("unexpected event type %q", result.EventType)
	}
	if len(mailer.created)+len(mailer.reminders)+len(mailer.overdue) != 0 {
		t.Fatal("unknown types must not send email")
	}
}

func TestHandleReprocessesRedeliveryAfterFailedDispatch(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{err: errors.New("smtp down")}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_8","number":"TITAN-0008","customer_email":"user@example.com","amount_due":2900}`
	payload := eventPayload("evt_retry", "invoice.created", object)
	sig := signPayload(t, testWebhookSecret, payload)

	if _, err := d.Handle(context.Background(), payload, sig); err == nil {
		t.Fatal("expected first delivery to fail while mail is down")
	}

	// Stripe redelivers after the failure response; by then mail is back.
	mailer.err = nil
	result, err := d.Handle(context.Background(), payload, sig)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if result.Duplicate {
		t.Fatal("redelivery after a failed attempt must not be treated as duplicate")
	}
	if len(mailer.created) != 2 {
		t.Fatalf("expected the retry to send the email, got %d sends", len(mailer.created))
	}

	stored := repo.events["evt_retry"]
	if stored.ProcessingError != "" {
		t.Fatalf("expected processing error cleared after successful retry, got %q", stored.ProcessingError)
	}

	// A further delivery is now a plain duplicate.
	result, err = d.Handle(context.Background(), payload, sig)
	if err != nil {
		t.Fatalf("third delivery failed: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate after successful processing")
	}
	if len(mailer.created) != 2 {
		t.Fatalf("duplicate must not send again, got %d sends", len(mailer.created))
	}
}

func TestHandleRecordsMailFailure(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{err: errors.New("smtp down")}
	d := newTestDispatcher(repo, mailer, nil)

	object := `{"id":"in_9","customer_email":"user@example.com","amount_due":100}`
	payload := eventPayload("evt_7", "invoice.created", object)

	_, err := d.Handle(context.Background(), payload, signPayload(t, testWebhookSecret, payload))
	if err == nil {
		t.Fatal("expected mail failure to surface")
	}

	stored := repo.events["evt_7"]
	if stored == nil {
		t.Fatal("expected event recorded despite failure")
	}
	if errMsg := repo.processed[stored.ID]; errMsg == "" {
		t.Fatal("expected processing error to be recorded")
	}
}
