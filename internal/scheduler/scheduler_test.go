package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	checkoutrepo "github.com/snapvend/snapvend/internal/checkout/repository"
	"github.com/snapvend/snapvend/internal/clock"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	idemrepo "github.com/snapvend/snapvend/internal/idempotency/repository"
	idemservice "github.com/snapvend/snapvend/internal/idempotency/service"
	webhookdomain "github.com/snapvend/snapvend/internal/webhook/domain"
	webhookrepo "github.com/snapvend/snapvend/internal/webhook/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
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

type fakeWebhooks struct {
	retried []snowflake.ID
	err     error
}

func (w *fakeWebhooks) Handle(context.Context, string, []byte, http.Header) (*webhookdomain.Result, error) {
	return nil, nil
}

func (w *fakeWebhooks) Retry(_ context.Context, record *webhookdomain.EventRecord) error {
	if w.err != nil {
		return w.err
	}
	w.retried = append(w.retried, record.ID)
	return nil
}

type fixture struct {
	db       *gorm.DB
	s        *Scheduler
	node     *snowflake.Node
	idem     idemdomain.Service
	webhooks *fakeWebhooks
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(51)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	idem := idemservice.NewService(idemservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  idemrepo.Provide(),
	})
	webhooks := &fakeWebhooks{}

	cfg := DefaultConfig()
	cfg.StaleAfter = time.Minute
	cfg.WebhookRetryAfter = time.Minute

	s := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clock.SystemClock{},
		Cfg:          cfg,
		IdemRepo:     idemrepo.Provide(),
		Idempotency:  idem,
		Transactions: checkoutrepo.Provide(),
		WebhookRepo:  webhookrepo.Provide(),
		Webhooks:     webhooks,
	})
	return &fixture{db: db, s: s, node: node, idem: idem, webhooks: webhooks}
}

// ageRecord pushes an idempotency record's timestamps past the stale cutoff.
func ageRecord(t *testing.T, db *gorm.DB, id snowflake.ID, age time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-age)
	if err := db.Exec(
		`UPDATE idempotency_records SET created_at = ?, updated_at = ? WHERE id = ?`,
		past, past, id,
	).Error; err != nil {
		t.Fatalf("age record: %v", err)
	}
}

func TestSweepCompletesStaleRecordWithTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	claim, err := f.idem.Claim(ctx, idemdomain.ScopeCheckout, "user:1", "key-sweep", "hash")
	if err != nil || !claim.Claimed {
		t.Fatalf("claim: claimed=%v err=%v", claim.Claimed, err)
	}
	ageRecord(t, f.db, claim.RecordID, 5*time.Minute)

	now := time.Now().UTC()
	sessionID := "cs_sweep_1"
	meta, _ := json.Marshal(map[string]any{"checkout_url": "https://pay.example.com/cs_sweep_1"})
	tx := &checkoutdomain.Transaction{
		ID:             f.node.Generate(),
		Scope:          checkoutdomain.ScopePhotoPurchase,
		Provider:       "stripe",
		Status:         checkoutdomain.StatusPending,
		CreatorID:      7,
		AmountCents:    1000,
		Currency:       "USD",
		SessionID:      &sessionID,
		IdempotencyKey: "key-sweep",
		Metadata:       datatypes.JSON(meta),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := checkoutrepo.Provide().InsertTransaction(ctx, f.db, tx); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	if err := f.s.sweepIdempotency(ctx); err != nil {
		t.Fatalf("sweepIdempotency: %v", err)
	}

	var stored idemdomain.Record
	if err := f.db.Raw(`SELECT * FROM idempotency_records WHERE id = ?`, claim.RecordID).Scan(&stored).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if stored.Status != idemdomain.StatusCompleted {
		t.Fatalf("status = %q, want completed", stored.Status)
	}
	if stored.ResponseCode == nil || *stored.ResponseCode != http.StatusOK {
		t.Fatalf("response code = %v, want 200", stored.ResponseCode)
	}
	var resp checkoutdomain.SessionResponse
	if err := json.Unmarshal(stored.ResponseBody, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.SessionID != sessionID || resp.CheckoutURL == "" {
		t.Fatalf("reconstructed response = %+v", resp)
	}
}

func TestSweepFailsStaleRecordWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	claim, err := f.idem.Claim(ctx, idemdomain.ScopeCheckout, "user:2", "key-lost", "hash")
	if err != nil || !claim.Claimed {
		t.Fatalf("claim: claimed=%v err=%v", claim.Claimed, err)
	}
	ageRecord(t, f.db, claim.RecordID, 5*time.Minute)

	if err := f.s.sweepIdempotency(ctx); err != nil {
		t.Fatalf("sweepIdempotency: %v", err)
	}

	var stored idemdomain.Record
	if err := f.db.Raw(`SELECT * FROM idempotency_records WHERE id = ?`, claim.RecordID).Scan(&stored).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if stored.Status != idemdomain.StatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.ResponseCode == nil || *stored.ResponseCode != http.StatusGatewayTimeout {
		t.Fatalf("response code = %v, want 504", stored.ResponseCode)
	}
}

func TestSweepLeavesFreshRecordsAlone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	claim, err := f.idem.Claim(ctx, idemdomain.ScopeCheckout, "user:3", "key-fresh", "hash")
	if err != nil || !claim.Claimed {
		t.Fatalf("claim: claimed=%v err=%v", claim.Claimed, err)
	}

	if err := f.s.sweepIdempotency(ctx); err != nil {
		t.Fatalf("sweepIdempotency: %v", err)
	}

	var status string
	if err := f.db.Raw(`SELECT status FROM idempotency_records WHERE id = ?`, claim.RecordID).Scan(&status).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if status != idemdomain.StatusProcessing {
		t.Fatalf("status = %q, a fresh in-flight record must not be swept", status)
	}
}

func TestRetryWebhooksDrivesFailedEvents(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	past := time.Now().UTC().Add(-10 * time.Minute)
	record := &webhookdomain.EventRecord{
		ID:              f.node.Generate(),
		Provider:        "stripe",
		ProviderEventID: "evt_retry",
		EventType:       "charge_succeeded",
		Payload:         datatypes.JSON([]byte(`{}`)),
		Status:          webhookdomain.StatusFailed,
		Attempts:        2,
		ReceivedAt:      past,
	}
	if _, err := webhookrepo.Provide().Claim(ctx, f.db, record); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	exhausted := &webhookdomain.EventRecord{
		ID:              f.node.Generate(),
		Provider:        "stripe",
		ProviderEventID: "evt_dead",
		EventType:       "charge_succeeded",
		Payload:         datatypes.JSON([]byte(`{}`)),
		Status:          webhookdomain.StatusFailed,
		Attempts:        f.s.cfg.MaxWebhookAttempts,
		ReceivedAt:      past,
	}
	if _, err := webhookrepo.Provide().Claim(ctx, f.db, exhausted); err != nil {
		t.Fatalf("seed exhausted event: %v", err)
	}

	if err := f.s.retryWebhooks(ctx); err != nil {
		t.Fatalf("retryWebhooks: %v", err)
	}

	if len(f.webhooks.retried) != 1 {
		t.Fatalf("retried = %d events, want 1", len(f.webhooks.retried))
	}
	if f.webhooks.retried[0] != record.ID {
		t.Fatalf("retried %d, want %d; exhausted events must stay dead", f.webhooks.retried[0], record.ID)
	}
}
