package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reconciler/internal/domain"
	"reconciler/internal/ratelimit"
	"reconciler/internal/signature"
	"reconciler/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const (
	stripeSecret   = "whsec_test"
	razorpaySecret = "rzp_webhook_secret"
)

type recordingPublisher struct {
	mu        sync.Mutex
	successes []domain.PaymentSucceededEvent
	failures  []domain.PaymentFailedEvent
}

func (p *recordingPublisher) PublishSuccess(ctx context.Context, e domain.PaymentSucceededEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes = append(p.successes, e)
}

func (p *recordingPublisher) PublishFailure(ctx context.Context, e domain.PaymentFailedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, e)
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) NotifyPaymentSucceeded(ctx context.Context, p *domain.Payment) error {
	n.calls++
	return n.err
}

type fakeLocker struct {
	held    map[string]string
	err     error
	release []string
}

func (l *fakeLocker) TryLock(ctx context.Context, eventID string, ttl time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[eventID]; ok {
		return "", false, nil
	}
	token := "tok-" + eventID
	l.held[eventID] = token
	return token, true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, eventID, token string) error {
	if l.held[eventID] == token {
		delete(l.held, eventID)
	}
	l.release = append(l.release, eventID)
	return nil
}

type fixture struct {
	store     *testutil.Store
	clock     *testutil.Clock
	publisher *recordingPublisher
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	clock := testutil.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	svc := NewService(
		store,
		store.Payments(),
		store.Inbox(),
		store.RetryTasks(),
		store.Audit(),
		pub,
		[]ProviderAdapter{
			NewStripeAdapter(signature.NewStripeVerifier(stripeSecret, webhook.DefaultTolerance)),
			NewRazorpayAdapter(signature.NewRazorpayVerifier(razorpaySecret)),
		},
		zap.NewNop(),
	).WithClock(clock.Now)
	return &fixture{store: store, clock: clock, publisher: pub, service: svc}
}

func (f *fixture) seedPayment(orderID string, provider domain.Provider, status domain.PaymentStatus) {
	created := f.clock.Now().Add(-time.Minute)
	p := domain.NewPayment("pay-"+orderID, orderID, "user-1", "buyer@shop.test", provider, 1000, "USD", created)
	p.Status = status
	f.store.PutPayment(*p)
}

func stripePayload(eventID, eventType, orderID, sessionID string) []byte {
	return stripeSessionPayload(eventID, eventType, orderID, sessionID, "paid")
}

func stripeSessionPayload(eventID, eventType, orderID, sessionID, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":%q,"data":{"object":{"id":%q,"object":"checkout.session","payment_status":%q,"metadata":{"orderId":%q}}}}`,
		eventID, eventType, sessionID, paymentStatus, orderID))
}

func signStripe(payload []byte) string {
	return signStripeAt(payload, time.Now())
}

func signStripeAt(payload []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeSecret,
		Timestamp: at,
	}).Header
}

func razorpayPayload(event, referenceID, linkID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"payload":{"payment_link":{"entity":{"id":%q,"reference_id":%q,"status":"paid"}}}}`,
		event, linkID, referenceID))
}

func TestIngest_RazorpayPaymentLinkPaid(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderRazorpay, domain.PaymentStatusLinkCreated)

	payload := razorpayPayload("payment_link.paid", "order123", "pay_123")
	res := f.service.Ingest(context.Background(), domain.ProviderRazorpay, payload, signature.RazorpaySignature(payload, razorpaySecret))

	require.Equal(t, OutcomeProcessed, res.Outcome, res.Message())
	p, ok := f.store.PaymentByOrder("order123")
	require.True(t, ok)
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, "pay_123", p.ExternalPaymentID)
	assert.Equal(t, f.clock.Now(), p.UpdatedAt)
	assert.True(t, f.store.HasEvent("order123"))

	require.Len(t, f.publisher.successes, 1)
	assert.Equal(t, domain.PaymentSucceededEvent{
		OrderID:           "order123",
		Status:            domain.PaymentStatusSucceeded,
		PaymentProvider:   domain.ProviderRazorpay,
		ExternalPaymentID: "pay_123",
	}, f.publisher.successes[0])

	audit := f.store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditActionSucceeded, audit[0].Action)
}

func TestIngest_StripeDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	header := signStripe(payload)

	first := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)
	require.Equal(t, OutcomeProcessed, first.Outcome, first.Message())

	second := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.ErrorIs(t, second.Err, domain.ErrEventAlreadyProcessed)

	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, "cs_1", p.ExternalPaymentID)
	assert.Len(t, f.publisher.successes, 1)
	assert.Len(t, f.store.AuditLog(), 1)
	assert.Equal(t, 1, f.store.EventCount())
}

func TestIngest_StripeInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, "invalid_signature")

	assert.Equal(t, OutcomeInvalidSignature, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusLinkCreated, p.Status)
	assert.Equal(t, 0, f.store.EventCount())
	assert.Empty(t, f.store.Tasks())
	assert.Empty(t, f.publisher.successes)
}

func TestIngest_TamperedPayloadRejected(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderRazorpay, domain.PaymentStatusLinkCreated)

	payload := razorpayPayload("payment_link.paid", "order123", "pay_123")
	sig := signature.RazorpaySignature(payload, razorpaySecret)
	tampered := razorpayPayload("payment_link.paid", "order123", "pay_999")

	res := f.service.Ingest(context.Background(), domain.ProviderRazorpay, tampered, sig)
	assert.Equal(t, OutcomeInvalidSignature, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusLinkCreated, p.Status)
}

func TestIngest_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	payload := razorpayPayload("payment_link.paid", "order999", "pay_999")
	res := f.service.Ingest(context.Background(), domain.ProviderRazorpay, payload, signature.RazorpaySignature(payload, razorpaySecret))

	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrPaymentNotFound)
	_, ok := f.store.PaymentByOrder("order999")
	assert.False(t, ok)
	assert.Empty(t, f.store.Tasks(), "unknown order must not be retried")
	assert.False(t, f.store.HasEvent("order999"))

	require.Len(t, f.publisher.failures, 1)
	assert.Equal(t, "order999", f.publisher.failures[0].OrderID)
	assert.Equal(t, "no matching payment found", f.publisher.failures[0].FailureReason)
	assert.Empty(t, f.publisher.failures[0].UserID)
}

func TestIngest_StoreFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	f.store.FailPaymentUpdate = errors.New("db down")

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	header := signStripe(payload)
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)

	assert.Equal(t, OutcomeRetryScheduled, res.Outcome)
	assert.False(t, res.Final())

	tasks := f.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, res.RetryTaskID, tasks[0].ID)
	assert.Equal(t, 0, tasks[0].AttemptCount)
	assert.False(t, tasks[0].Processed)
	assert.Equal(t, payload, tasks[0].Payload)
	assert.Equal(t, header, tasks[0].Signature)
	assert.Equal(t, domain.ProviderStripe, tasks[0].Provider)

	assert.False(t, f.store.HasEvent("evt_1"), "ledger insert must roll back with the failed transaction")
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusLinkCreated, p.Status)
	assert.Empty(t, f.publisher.successes)
}

func TestIngest_RetryPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	f.store.FailPaymentUpdate = errors.New("db down")
	f.store.FailTaskCreate = errors.New("db still down")

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))

	assert.Equal(t, OutcomeTransientFailure, res.Outcome)
	assert.Contains(t, res.Message(), "db still down")
}

func TestIngest_TerminalPaymentIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderRazorpay, domain.PaymentStatusFailed)

	payload := razorpayPayload("payment_link.paid", "order123", "pay_123")
	res := f.service.Ingest(context.Background(), domain.ProviderRazorpay, payload, signature.RazorpaySignature(payload, razorpaySecret))

	assert.Equal(t, OutcomeIgnored, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Empty(t, p.ExternalPaymentID)
	assert.Empty(t, f.publisher.successes)
	assert.Empty(t, f.store.AuditLog())
	assert.True(t, f.store.HasEvent("order123"))
}

func TestIngest_FailureWebhook(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	payload := stripePayload("evt_9", "checkout.session.expired", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))

	require.Equal(t, OutcomeProcessed, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	require.Len(t, f.publisher.failures, 1)
	assert.Equal(t, "checkout session expired", f.publisher.failures[0].FailureReason)
	assert.Equal(t, "user-1", f.publisher.failures[0].UserID)

	audit := f.store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditActionFailed, audit[0].Action)
}

func TestIngest_LateSuccessForInitiatedPayment(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusInitiated)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))

	require.Equal(t, OutcomeProcessed, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
}

func TestIngest_UnhandledEventTypeIgnored(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_5","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, f.store.EventCount())
}

func TestIngest_StripeCompletedUnpaidWaitsForAsyncSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	unpaid := stripeSessionPayload("evt_1", "checkout.session.completed", "order123", "cs_1", "unpaid")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, unpaid, signStripe(unpaid))
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusLinkCreated, p.Status)
	assert.Empty(t, f.publisher.successes)
	assert.Empty(t, f.store.AuditLog())

	settled := stripeSessionPayload("evt_2", "checkout.session.async_payment_succeeded", "order123", "cs_1", "paid")
	res = f.service.Ingest(context.Background(), domain.ProviderStripe, settled, signStripe(settled))
	require.Equal(t, OutcomeProcessed, res.Outcome, res.Message())

	p, _ = f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusSucceeded, p.Status)
	assert.Len(t, f.publisher.successes, 1)
}

func TestIngest_Malformed(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		provider domain.Provider
		payload  []byte
	}{
		{"razorpay not json", domain.ProviderRazorpay, []byte(`not json`)},
		{"razorpay missing payment link", domain.ProviderRazorpay, []byte(`{"event":"payment_link.paid","payload":{}}`)},
		{"razorpay empty reference", domain.ProviderRazorpay, razorpayPayload("payment_link.paid", "", "pay_1")},
		{"stripe missing order metadata", domain.ProviderStripe, []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid"}}}`)},
		{"stripe missing data", domain.ProviderStripe, []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sig string
			if tt.provider == domain.ProviderStripe {
				sig = signStripe(tt.payload)
			} else {
				sig = signature.RazorpaySignature(tt.payload, razorpaySecret)
			}
			res := f.service.Ingest(context.Background(), tt.provider, tt.payload, sig)
			assert.Equal(t, OutcomeMalformed, res.Outcome)
			assert.ErrorIs(t, res.Err, domain.ErrMalformedPayload)
		})
	}
	assert.Empty(t, f.store.Tasks())
}

func TestIngest_UnsupportedProvider(t *testing.T) {
	f := newFixture(t)
	res := f.service.Ingest(context.Background(), domain.Provider("PAYPAL"), []byte(`{}`), "sig")
	assert.Equal(t, OutcomeMalformed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrUnsupportedProvider)
}

func TestIngest_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.service.WithAdmission(ratelimit.NewWithClock(ratelimit.Config{Capacity: 2, RefillTokens: 1, RefillPeriod: time.Minute}, f.clock.Now))

	payload := []byte(`{"event":"payment.authorized"}`)
	sig := signature.RazorpaySignature(payload, razorpaySecret)
	for i := 0; i < 2; i++ {
		assert.Equal(t, OutcomeIgnored, f.service.Ingest(context.Background(), domain.ProviderRazorpay, payload, sig).Outcome)
	}
	assert.Equal(t, OutcomeRateLimited, f.service.Ingest(context.Background(), domain.ProviderRazorpay, payload, sig).Outcome)

	stripe := []byte(`{"id":"evt_1","type":"customer.created"}`)
	assert.Equal(t, OutcomeIgnored, f.service.Ingest(context.Background(), domain.ProviderStripe, stripe, signStripe(stripe)).Outcome)
}

func TestIngest_InFlightLock(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	locker := &fakeLocker{held: map[string]string{"evt_1": "other-worker"}}
	f.service.WithLocker(locker, time.Minute)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	header := signStripe(payload)

	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	p, _ := f.store.PaymentByOrder("order123")
	assert.Equal(t, domain.PaymentStatusLinkCreated, p.Status)

	delete(locker.held, "evt_1")
	res = f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []string{"evt_1"}, locker.release)
	assert.Empty(t, locker.held)
}

func TestIngest_LockBackendDownFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	f.service.WithLocker(&fakeLocker{held: map[string]string{}, err: errors.New("redis down")}, time.Minute)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))
	assert.Equal(t, OutcomeProcessed, res.Outcome)
}

func TestIngest_NotifierFailureDoesNotFailWebhook(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	f.service.WithNotifier(notifier)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	res := f.service.Ingest(context.Background(), domain.ProviderStripe, payload, signStripe(payload))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 1, notifier.calls)
}

func TestIngest_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	header := signStripe(payload)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.service.Ingest(context.Background(), domain.ProviderStripe, payload, header)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		switch r.Outcome {
		case OutcomeProcessed:
			processed++
		case OutcomeDuplicate, OutcomeIgnored:
		default:
			t.Fatalf("unexpected outcome %s", r.Outcome)
		}
	}
	assert.Equal(t, 1, processed)
	assert.Len(t, f.publisher.successes, 1)
}

func TestReplay_StaleStripeSignatureAccepted(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	header := signStripeAt(payload, time.Now().Add(-2*time.Hour))
	task := domain.NewRetryTask("t1", domain.ProviderStripe, payload, header, "db down", f.clock.Now())

	res := f.service.Replay(context.Background(), *task)
	assert.Equal(t, OutcomeProcessed, res.Outcome, res.Message())
	assert.Empty(t, f.store.Tasks(), "replay never creates retry tasks")
}

func TestReplay_TransientFailureCreatesNoTask(t *testing.T) {
	f := newFixture(t)
	f.seedPayment("order123", domain.ProviderStripe, domain.PaymentStatusLinkCreated)
	f.store.FailEventExists = errors.New("db down")

	payload := stripePayload("evt_1", "checkout.session.completed", "order123", "cs_1")
	task := domain.NewRetryTask("t1", domain.ProviderStripe, payload, signStripe(payload), "", f.clock.Now())

	res := f.service.Replay(context.Background(), *task)
	assert.Equal(t, OutcomeTransientFailure, res.Outcome)
	assert.Empty(t, f.store.Tasks())
}
