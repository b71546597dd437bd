package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/snapvend/snapvend/internal/checkout/domain"
	checkoutrepo "github.com/snapvend/snapvend/internal/checkout/repository"
	checkoutservice "github.com/snapvend/snapvend/internal/checkout/service"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/config"
	eventdomain "github.com/snapvend/snapvend/internal/event/domain"
	eventrepo "github.com/snapvend/snapvend/internal/event/repository"
	"github.com/snapvend/snapvend/internal/fees"
	"github.com/snapvend/snapvend/internal/gateway"
	idemrepo "github.com/snapvend/snapvend/internal/idempotency/repository"
	idemservice "github.com/snapvend/snapvend/internal/idempotency/service"
	"github.com/snapvend/snapvend/internal/providers"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	walletdomain "github.com/snapvend/snapvend/internal/wallet/domain"
	walletrepo "github.com/snapvend/snapvend/internal/wallet/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE events (
			id BIGINT PRIMARY KEY,
			creator_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL DEFAULT 'active',
			unlock_all_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE wallets (
			id BIGINT PRIMARY KEY,
			creator_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			account_reference TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
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
		`CREATE UNIQUE INDEX idx_transactions_session
			ON transactions (provider, session_id) WHERE session_id IS NOT NULL`,
		`CREATE TABLE entitlements (
			id BIGINT PRIMARY KEY,
			event_id BIGINT NOT NULL,
			owner_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			media_id TEXT NOT NULL DEFAULT '',
			transaction_id BIGINT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_entitlements_owner
			ON entitlements (event_id, owner_key, kind, media_id)`,
		`CREATE TABLE idempotency_records (
			id BIGINT PRIMARY KEY,
			scope TEXT NOT NULL,
			actor_key TEXT NOT NULL,
			idem_key TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'processing',
			response_code INT,
			response_body TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_idempotency_records_key
			ON idempotency_records(scope, actor_key, idem_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// fakeClient fulfils provider sessions without HTTP.
type fakeClient struct {
	provider   string
	sessions   int
	failCreate error
}

func (c *fakeClient) Provider() string { return c.provider }

func (c *fakeClient) CreateCheckoutSession(_ context.Context, in providerdomain.CheckoutSessionInput) (*providerdomain.CheckoutSession, error) {
	if c.failCreate != nil {
		return nil, c.failCreate
	}
	c.sessions++
	return &providerdomain.CheckoutSession{
		SessionID:   "cs_test_" + in.ReferenceID,
		CheckoutURL: "https://pay.example.com/" + in.ReferenceID,
	}, nil
}

func (c *fakeClient) CreateSubscription(context.Context, providerdomain.SubscriptionInput) (*providerdomain.SubscriptionSession, error) {
	return nil, errors.New("not used")
}

func (c *fakeClient) VerifyPayment(context.Context, string) (*providerdomain.PaymentVerification, error) {
	return nil, errors.New("not used")
}

func (c *fakeClient) VerifySubscription(context.Context, string) (*providerdomain.SubscriptionVerification, error) {
	return nil, errors.New("not used")
}

type fakeAdapter struct{}

func (fakeAdapter) Verify(context.Context, []byte, http.Header) error { return nil }
func (fakeAdapter) Parse(context.Context, []byte) (*providerdomain.Event, error) {
	return nil, providerdomain.ErrEventIgnored
}

type fakeFactory struct {
	client *fakeClient
}

func (f *fakeFactory) Provider() string { return f.client.provider }

func (f *fakeFactory) NewClient(config.ProviderCredentials, time.Duration) (providerdomain.Client, error) {
	return f.client, nil
}

func (f *fakeFactory) NewAdapter(config.ProviderCredentials) (providerdomain.Adapter, error) {
	return fakeAdapter{}, nil
}

type fakePlanGate struct {
	active bool
	err    error
}

func (g *fakePlanGate) HasActivePaidPlan(context.Context, snowflake.ID) (bool, error) {
	return g.active, g.err
}

type fixture struct {
	db     *gorm.DB
	svc    domain.Service
	client *fakeClient
	gate   *fakePlanGate
	repo   domain.Repository
	event  *eventdomain.Event
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)

	node, err := snowflake.NewNode(31)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	cfg := config.Config{
		BaseURL:         "https://snapvend.test",
		ProviderTimeout: 5 * time.Second,
		Providers: config.ProvidersConfig{
			Stripe: config.ProviderCredentials{SecretKey: "sk_test"},
		},
	}
	client := &fakeClient{provider: providerdomain.ProviderStripe}
	registry, err := providers.NewRegistry(cfg, &fakeFactory{client: client})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	pricing := config.NewStaticPricingHolder(config.DefaultPricingConfig())
	idem := idemservice.NewService(idemservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  idemrepo.Provide(),
	})

	gate := &fakePlanGate{active: true}
	repo := checkoutrepo.Provide()
	svc := checkoutservice.NewService(checkoutservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.SystemClock{},
		Cfg:         cfg,
		Pricing:     pricing,
		Repo:        repo,
		Events:      eventrepo.Provide(),
		Wallets:     walletrepo.Provide(),
		PlanGate:    gate,
		Fees:        fees.NewCalculator(pricing),
		Gateway:     gateway.NewSelector(cfg, pricing),
		Idempotency: idem,
		Registry:    registry,
	})

	ctx := context.Background()
	now := time.Now().UTC()
	event := &eventdomain.Event{
		ID:               node.Generate(),
		CreatorID:        77,
		Title:            "Lagos Marathon 2026",
		Slug:             "lagos-marathon-2026",
		Country:          "US",
		Currency:         "USD",
		Status:           eventdomain.StatusActive,
		UnlockAllEnabled: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := eventrepo.Provide().Insert(ctx, db, event); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	wallet := &walletdomain.Wallet{
		ID:        node.Generate(),
		CreatorID: 77,
		Provider:  providerdomain.ProviderStripe,
		Currency:  "USD",
		Status:    walletdomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := walletrepo.Provide().Insert(ctx, db, wallet); err != nil {
		t.Fatalf("insert wallet: %v", err)
	}

	return &fixture{db: db, svc: svc, client: client, gate: gate, repo: repo, event: event}
}

func baseInput(f *fixture, key string) domain.CreateSessionInput {
	return domain.CreateSessionInput{
		EventID:        f.event.ID,
		CustomerEmail:  "buyer@example.com",
		MediaIDs:       []string{"m1", "m2", "m3"},
		IdempotencyKey: key,
		ClientIP:       "203.0.113.9",
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	outcome, err := f.svc.CreateSession(ctx, baseInput(f, "key-1"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if outcome.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", outcome.Code)
	}

	var resp domain.SessionResponse
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if resp.Provider != providerdomain.ProviderStripe {
		t.Fatalf("provider = %q, want stripe", resp.Provider)
	}
	if resp.CheckoutURL == "" || resp.SessionID == "" {
		t.Fatalf("response missing session fields: %+v", resp)
	}

	tx, err := f.repo.FindTransactionByReference(ctx, f.db, providerdomain.ProviderStripe, resp.SessionID)
	if err != nil {
		t.Fatalf("FindTransactionByReference: %v", err)
	}
	if tx == nil {
		t.Fatal("pending transaction must be persisted")
	}
	if tx.Status != domain.StatusPending {
		t.Fatalf("status = %q, want pending", tx.Status)
	}
	if tx.PhotoCount != 3 {
		t.Fatalf("photo count = %d, want 3", tx.PhotoCount)
	}
	if tx.AmountCents <= 0 || tx.NetAmountCents <= 0 || tx.NetAmountCents >= tx.AmountCents {
		t.Fatalf("fee split looks wrong: gross=%d net=%d", tx.AmountCents, tx.NetAmountCents)
	}
}

func TestCreateSessionReplaysSameKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.svc.CreateSession(ctx, baseInput(f, "key-replay"))
	if err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}

	second, err := f.svc.CreateSession(ctx, baseInput(f, "key-replay"))
	if err != nil {
		t.Fatalf("second CreateSession: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second call must be a replay")
	}
	if string(first.Body) != string(second.Body) {
		t.Fatalf("replay body differs:\nfirst:  %s\nsecond: %s", first.Body, second.Body)
	}
	if f.client.sessions != 1 {
		t.Fatalf("provider sessions = %d, replay must not create another", f.client.sessions)
	}
}

func TestCreateSessionRejectsReusedKeyWithDifferentPayload(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if _, err := f.svc.CreateSession(ctx, baseInput(f, "key-reuse")); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}

	in := baseInput(f, "key-reuse")
	in.MediaIDs = []string{"m9"}
	_, err := f.svc.CreateSession(ctx, in)
	if err == nil {
		t.Fatal("expected key reuse to be rejected")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	in := baseInput(f, "")
	if _, err := f.svc.CreateSession(ctx, in); !errors.Is(err, domain.ErrMissingIdempotencyKey) {
		t.Fatalf("missing key: got %v", err)
	}

	in = baseInput(f, "key-v1")
	in.CustomerEmail = ""
	if _, err := f.svc.CreateSession(ctx, in); !errors.Is(err, domain.ErrMissingCustomerEmail) {
		t.Fatalf("guest without email: got %v", err)
	}

	in = baseInput(f, "key-v2")
	in.MediaIDs = nil
	if _, err := f.svc.CreateSession(ctx, in); !errors.Is(err, domain.ErrNothingToPurchase) {
		t.Fatalf("empty basket: got %v", err)
	}
}

func TestCreateSessionRequiresCreatorPlan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.gate.active = false

	_, err := f.svc.CreateSession(ctx, baseInput(f, "key-plan"))
	if !errors.Is(err, domain.ErrCreatorPlanRequired) {
		t.Fatalf("got %v, want ErrCreatorPlanRequired", err)
	}
}

func TestCreateSessionDraftEventIs404(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if err := f.db.Exec(`UPDATE events SET status = 'draft' WHERE id = ?`, f.event.ID).Error; err != nil {
		t.Fatalf("update event: %v", err)
	}

	_, err := f.svc.CreateSession(ctx, baseInput(f, "key-draft"))
	if !errors.Is(err, eventdomain.ErrEventNotFound) {
		t.Fatalf("got %v, want ErrEventNotFound", err)
	}
}

func TestCreateSessionSuggestsGatewayWithWallet(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	in := baseInput(f, "key-gw")
	in.Provider = "paystack"
	_, err := f.svc.CreateSession(ctx, in)

	var retry *domain.RetryWithGatewayError
	if !errors.As(err, &retry) {
		t.Fatalf("got %v, want RetryWithGatewayError", err)
	}
	if retry.Suggested != providerdomain.ProviderStripe {
		t.Fatalf("suggested = %q, want stripe", retry.Suggested)
	}
}

func TestCreateSessionFailedProviderFinalizesKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.client.failCreate = errors.New("stripe: api unavailable")

	if _, err := f.svc.CreateSession(ctx, baseInput(f, "key-fail")); err == nil {
		t.Fatal("expected provider failure to surface")
	}

	// The key must be finalized as failed, not wedged in processing, so
	// a later replay returns the stored failure instead of ErrInFlight.
	outcome, err := f.svc.CreateSession(ctx, baseInput(f, "key-fail"))
	if err != nil {
		t.Fatalf("replay after failure: %v", err)
	}
	if !outcome.Replayed {
		t.Fatal("expected a replayed outcome")
	}
	if outcome.Code != http.StatusBadGateway {
		t.Fatalf("replayed code = %d, want 502", outcome.Code)
	}
}

func TestCreateSessionRejectsAlreadyOwned(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.svc.CreateSession(ctx, baseInput(f, "key-own-1"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	var resp domain.SessionResponse
	if err := json.Unmarshal(first.Body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tx, err := f.repo.FindTransactionByReference(ctx, f.db, providerdomain.ProviderStripe, resp.SessionID)
	if err != nil || tx == nil {
		t.Fatalf("find transaction: tx=%v err=%v", tx, err)
	}
	if _, err := f.svc.GrantEntitlements(ctx, tx); err != nil {
		t.Fatalf("GrantEntitlements: %v", err)
	}

	in := baseInput(f, "key-own-2")
	in.MediaIDs = []string{"m1", "m4"}
	_, err = f.svc.CreateSession(ctx, in)

	var owned *domain.AlreadyOwnedError
	if !errors.As(err, &owned) {
		t.Fatalf("got %v, want AlreadyOwnedError", err)
	}
	if len(owned.MediaIDs) != 1 || owned.MediaIDs[0] != "m1" {
		t.Fatalf("already owned = %v, want [m1]", owned.MediaIDs)
	}
}

func TestGrantEntitlementsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	outcome, err := f.svc.CreateSession(ctx, baseInput(f, "key-grant"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	var resp domain.SessionResponse
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tx, err := f.repo.FindTransactionByReference(ctx, f.db, providerdomain.ProviderStripe, resp.SessionID)
	if err != nil || tx == nil {
		t.Fatalf("find transaction: tx=%v err=%v", tx, err)
	}

	granted, err := f.svc.GrantEntitlements(ctx, tx)
	if err != nil {
		t.Fatalf("GrantEntitlements: %v", err)
	}
	if granted != 3 {
		t.Fatalf("granted = %d, want 3", granted)
	}

	again, err := f.svc.GrantEntitlements(ctx, tx)
	if err != nil {
		t.Fatalf("GrantEntitlements replay: %v", err)
	}
	if again != 0 {
		t.Fatalf("replay granted = %d, want 0", again)
	}
}
