package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	checkoutrepo "github.com/snapvend/snapvend/internal/checkout/repository"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/config"
	payoutdomain "github.com/snapvend/snapvend/internal/payout/domain"
	"github.com/snapvend/snapvend/internal/providers"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
	"github.com/snapvend/snapvend/internal/webhook/domain"
	webhookrepo "github.com/snapvend/snapvend/internal/webhook/repository"
	webhookservice "github.com/snapvend/snapvend/internal/webhook/service"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE transactions (
			id BIGINT PRIMARY KEY,
			scope TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			event_id BIGINT,
			creator_id BIGINT NOT NULL,
			wallet_id BIGINT,
			buyer_id BIGINT,
			guest_email TEXT,
			media_ids JSONB,
			photo_count INT NOT NULL DEFAULT 0,
			amount_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			base_amount_cents BIGINT NOT NULL DEFAULT 0,
			base_currency TEXT NOT NULL DEFAULT 'USD',
			exchange_rate DOUBLE PRECISION NOT NULL DEFAULT 1,
			platform_fee_cents BIGINT NOT NULL DEFAULT 0,
			provider_fee_cents BIGINT NOT NULL DEFAULT 0,
			transaction_fee_cents BIGINT NOT NULL DEFAULT 0,
			net_amount_cents BIGINT NOT NULL DEFAULT 0,
			session_id TEXT,
			order_id TEXT,
			tx_ref TEXT,
			provider_reference TEXT,
			idempotency_key TEXT,
			failure_reason TEXT,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			settled_at TIMESTAMP
		)`,
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			payload JSONB,
			status TEXT NOT NULL DEFAULT 'received',
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX idx_webhook_events_provider_event
			ON webhook_events (provider, provider_event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// fakeAdapter replays a scripted event so tests control exactly what the
// provider "sent".
type fakeAdapter struct {
	verifyErr error
	event     *providerdomain.Event
	parseErr  error
}

func (a *fakeAdapter) Verify(context.Context, []byte, http.Header) error { return a.verifyErr }

func (a *fakeAdapter) Parse(context.Context, []byte) (*providerdomain.Event, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.event, nil
}

type fakeClient struct {
	verification *providerdomain.PaymentVerification
	verifyErr    error
}

func (c *fakeClient) Provider() string { return providerdomain.ProviderStripe }

func (c *fakeClient) CreateCheckoutSession(context.Context, providerdomain.CheckoutSessionInput) (*providerdomain.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (c *fakeClient) CreateSubscription(context.Context, providerdomain.SubscriptionInput) (*providerdomain.SubscriptionSession, error) {
	return nil, errors.New("not used")
}

func (c *fakeClient) VerifyPayment(context.Context, string) (*providerdomain.PaymentVerification, error) {
	return c.verification, c.verifyErr
}

func (c *fakeClient) VerifySubscription(context.Context, string) (*providerdomain.SubscriptionVerification, error) {
	return nil, errors.New("not used")
}

type fakeFactory struct {
	client  *fakeClient
	adapter *fakeAdapter
}

func (f *fakeFactory) Provider() string { return providerdomain.ProviderStripe }

func (f *fakeFactory) NewClient(config.ProviderCredentials, time.Duration) (providerdomain.Client, error) {
	return f.client, nil
}

func (f *fakeFactory) NewAdapter(config.ProviderCredentials) (providerdomain.Adapter, error) {
	return f.adapter, nil
}

type fakeCheckout struct {
	grants int
}

func (c *fakeCheckout) CreateSession(context.Context, checkoutdomain.CreateSessionInput) (*checkoutdomain.Outcome, error) {
	return nil, errors.New("not used")
}

func (c *fakeCheckout) GrantEntitlements(context.Context, *checkoutdomain.Transaction) (int64, error) {
	c.grants++
	return 3, nil
}

type fakeLedger struct {
	postings int
}

func (l *fakeLedger) PostSettlement(context.Context, *checkoutdomain.Transaction) (bool, error) {
	l.postings++
	return true, nil
}

func (l *fakeLedger) CreatorBalance(context.Context, snowflake.ID) (int64, error) {
	return 0, nil
}

type fakeSubscriptions struct {
	applied []subdomain.ProviderState
}

func (s *fakeSubscriptions) Checkout(context.Context, subdomain.CheckoutInput) (*checkoutdomain.Outcome, error) {
	return nil, errors.New("not used")
}

func (s *fakeSubscriptions) Apply(_ context.Context, state subdomain.ProviderState) (*subdomain.RecurringSubscription, error) {
	s.applied = append(s.applied, state)
	return &subdomain.RecurringSubscription{}, nil
}

func (s *fakeSubscriptions) Verify(context.Context, subdomain.VerifyInput) (*subdomain.RecurringSubscription, error) {
	return nil, errors.New("not used")
}

func (s *fakeSubscriptions) HasActivePaidPlan(context.Context, snowflake.ID) (bool, error) {
	return true, nil
}

type fakePayouts struct{}

func (fakePayouts) Insert(context.Context, *gorm.DB, *payoutdomain.Payout) error { return nil }

func (fakePayouts) FindByProviderReference(context.Context, *gorm.DB, string, string) (*payoutdomain.Payout, error) {
	return nil, nil
}

func (fakePayouts) MarkCompleted(context.Context, *gorm.DB, snowflake.ID, time.Time) (bool, error) {
	return false, nil
}

type fixture struct {
	db            *gorm.DB
	svc           domain.Service
	adapter       *fakeAdapter
	client        *fakeClient
	checkout      *fakeCheckout
	ledger        *fakeLedger
	subscriptions *fakeSubscriptions
	transactions  checkoutdomain.Repository
	tx            *checkoutdomain.Transaction
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(41)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	adapter := &fakeAdapter{}
	client := &fakeClient{}
	cfg := config.Config{
		ProviderTimeout: 5 * time.Second,
		Providers: config.ProvidersConfig{
			Stripe: config.ProviderCredentials{SecretKey: "sk_test"},
		},
	}
	registry, err := providers.NewRegistry(cfg, &fakeFactory{client: client, adapter: adapter})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	checkout := &fakeCheckout{}
	ledger := &fakeLedger{}
	subscriptions := &fakeSubscriptions{}
	transactions := checkoutrepo.Provide()

	svc := webhookservice.NewService(webhookservice.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.SystemClock{},
		Repo:          webhookrepo.Provide(),
		Registry:      registry,
		Transactions:  transactions,
		Checkout:      checkout,
		Ledger:        ledger,
		Payouts:       fakePayouts{},
		Subscriptions: subscriptions,
	})

	now := time.Now().UTC()
	sessionID := "cs_live_1"
	tx := &checkoutdomain.Transaction{
		ID:             node.Generate(),
		Scope:          checkoutdomain.ScopePhotoPurchase,
		Provider:       providerdomain.ProviderStripe,
		Status:         checkoutdomain.StatusPending,
		EventID:        5,
		CreatorID:      7,
		AmountCents:    2500,
		Currency:       "USD",
		NetAmountCents: 2272,
		SessionID:      &sessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := transactions.InsertTransaction(context.Background(), db, tx); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	return &fixture{
		db:            db,
		svc:           svc,
		adapter:       adapter,
		client:        client,
		checkout:      checkout,
		ledger:        ledger,
		subscriptions: subscriptions,
		transactions:  transactions,
		tx:            tx,
	}
}

func chargeSucceeded(reference string) *providerdomain.Event {
	return &providerdomain.Event{
		Provider:        providerdomain.ProviderStripe,
		ProviderEventID: "evt_1",
		Type:            providerdomain.EventTypeChargeSucceeded,
		Reference:       reference,
		RawPayload:      []byte(`{"id":"evt_1"}`),
	}
}

func TestHandleChargeSucceededSettles(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.event = chargeSucceeded("cs_live_1")
	f.client.verification = &providerdomain.PaymentVerification{Reference: "cs_live_1", Status: "paid", Paid: true}

	result, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Code != http.StatusOK || result.Duplicate {
		t.Fatalf("result = %+v, want fresh 200", result)
	}

	stored, err := f.transactions.FindTransactionByID(ctx, f.db, f.tx.ID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if stored.Status != checkoutdomain.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", stored.Status)
	}
	if stored.SettledAt == nil {
		t.Fatal("settled_at must be set")
	}
	if f.checkout.grants != 1 {
		t.Fatalf("grants = %d, want 1", f.checkout.grants)
	}
	if f.ledger.postings != 1 {
		t.Fatalf("ledger postings = %d, want 1", f.ledger.postings)
	}
}

func TestHandleReplayIsAcknowledgedWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.event = chargeSucceeded("cs_live_1")
	f.client.verification = &providerdomain.PaymentVerification{Reference: "cs_live_1", Status: "paid", Paid: true}

	if _, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	result, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("replay Handle: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("replay must be flagged duplicate")
	}
	if f.checkout.grants != 1 {
		t.Fatalf("grants = %d after replay, want 1", f.checkout.grants)
	}
	if f.ledger.postings != 1 {
		t.Fatalf("ledger postings = %d after replay, want 1", f.ledger.postings)
	}
}

func TestHandleRejectsBadSignatureBeforeParsing(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.verifyErr = providerdomain.ErrInvalidSignature
	f.adapter.event = chargeSucceeded("cs_live_1")

	_, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{})
	if !errors.Is(err, providerdomain.ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM webhook_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected delivery must not claim a dedup row, got %d", count)
	}
}

func TestHandleUnpaidVerificationFailsAndRetries(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.event = chargeSucceeded("cs_live_1")
	f.client.verification = &providerdomain.PaymentVerification{Reference: "cs_live_1", Status: "requires_payment_method", Paid: false}

	if _, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{}); err == nil {
		t.Fatal("unpaid verification must fail the delivery")
	}

	stored, err := f.transactions.FindTransactionByID(ctx, f.db, f.tx.ID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if stored.Status != checkoutdomain.StatusPending {
		t.Fatalf("status = %q, settlement must not happen", stored.Status)
	}

	// The provider retries; once the charge is actually paid the same
	// event id must process on its existing dedup row.
	f.client.verification = &providerdomain.PaymentVerification{Reference: "cs_live_1", Status: "paid", Paid: true}
	result, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("retry Handle: %v", err)
	}
	if result.Duplicate {
		t.Fatal("retry of a failed delivery is not a duplicate")
	}
	if f.checkout.grants != 1 {
		t.Fatalf("grants = %d, want 1", f.checkout.grants)
	}
}

func TestHandleChargeFailedMarksTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.event = &providerdomain.Event{
		Provider:        providerdomain.ProviderStripe,
		ProviderEventID: "evt_2",
		Type:            providerdomain.EventTypeChargeFailed,
		Reference:       "cs_live_1",
		ProviderStatus:  "card_declined",
		RawPayload:      []byte(`{"id":"evt_2"}`),
	}

	if _, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, err := f.transactions.FindTransactionByID(ctx, f.db, f.tx.ID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if stored.Status != checkoutdomain.StatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.FailureReason != "card_declined" {
		t.Fatalf("failure reason = %q, want card_declined", stored.FailureReason)
	}
}

func TestHandleSubscriptionEventFlowsToApply(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	f.adapter.event = &providerdomain.Event{
		Provider:               providerdomain.ProviderStripe,
		ProviderEventID:        "evt_sub_1",
		Type:                   providerdomain.EventTypeSubscriptionUpdated,
		ExternalSubscriptionID: "sub_123",
		ProviderStatus:         "past_due",
		PeriodEnd:              &periodEnd,
		Metadata:               map[string]string{"scope": "creator_subscription", "owner_id": "77", "plan_code": "pro"},
		RawPayload:             []byte(`{"id":"evt_sub_1"}`),
	}

	if _, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(f.subscriptions.applied) != 1 {
		t.Fatalf("applied = %d states, want 1", len(f.subscriptions.applied))
	}
	state := f.subscriptions.applied[0]
	if state.ExternalSubscriptionID != "sub_123" {
		t.Fatalf("external id = %q", state.ExternalSubscriptionID)
	}
	if state.ProviderStatus != "past_due" {
		t.Fatalf("provider status = %q", state.ProviderStatus)
	}
	if state.PlanCode != "pro" || state.OwnerID != 77 {
		t.Fatalf("state = %+v, metadata not carried", state)
	}
	if state.Cancelled {
		t.Fatal("updated event must not set Cancelled")
	}
}

func TestHandleUnknownTransactionFails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.adapter.event = chargeSucceeded("cs_unknown")
	f.client.verification = &providerdomain.PaymentVerification{Reference: "cs_unknown", Status: "paid", Paid: true}

	_, err := f.svc.Handle(ctx, "stripe", []byte(`{}`), http.Header{})
	if !errors.Is(err, checkoutdomain.ErrTransactionNotFound) {
		t.Fatalf("got %v, want ErrTransactionNotFound", err)
	}
}
