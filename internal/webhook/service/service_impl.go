package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/clock"
	ledgerdomain "github.com/snapvend/snapvend/internal/ledger/domain"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
	payoutdomain "github.com/snapvend/snapvend/internal/payout/domain"
	"github.com/snapvend/snapvend/internal/providers"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
	"github.com/snapvend/snapvend/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	Registry      *providers.Registry
	Transactions  checkoutdomain.Repository
	Checkout      checkoutdomain.Service
	Ledger        ledgerdomain.Service
	Payouts       payoutdomain.Repository
	Subscriptions subdomain.Service
	Metrics       *obsmetrics.Metrics
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	registry      *providers.Registry
	transactions  checkoutdomain.Repository
	checkout      checkoutdomain.Service
	ledger        ledgerdomain.Service
	payouts       payoutdomain.Repository
	subscriptions subdomain.Service
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		registry:      p.Registry,
		transactions:  p.Transactions,
		checkout:      p.Checkout,
		ledger:        p.Ledger,
		payouts:       p.Payouts,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

// Handle runs one webhook delivery end to end: verify the transport
// signature before touching any untrusted field, claim the dedup slot,
// dispatch, and record the outcome. A processing failure is marked on the
// ledger row and returned so the HTTP layer answers non-200 and the
// provider retries.
func (s *Service) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.Result, error) {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "rejected")
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if errors.Is(err, providerdomain.ErrEventIgnored) {
		return &domain.Result{Code: http.StatusOK}, nil
	}
	if err != nil {
		return nil, err
	}

	eventID := event.ProviderEventID
	if eventID == "" {
		// Providers without a dedicated event id dedup on the
		// transaction reference composite.
		eventID = event.Type + ":" + event.Reference
	}

	now := s.clock.Now()
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: eventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		Status:          domain.StatusReceived,
		ReceivedAt:      now,
	}
	claimed, err := s.repo.Claim(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !claimed {
		existing, err := s.repo.Find(ctx, s.db, event.Provider, eventID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrEventNotFound
		}
		if existing.Status == domain.StatusProcessed {
			s.metrics.RecordWebhookEvent(ctx, provider, event.Type, "duplicate")
			return &domain.Result{Code: http.StatusOK, Duplicate: true}, nil
		}
		// A previously failed delivery gets another attempt.
		record = existing
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, "failed")
		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("mark webhook failed", zap.Error(markErr))
		}
		return nil, err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return nil, err
	}
	s.metrics.RecordWebhookEvent(ctx, provider, event.Type, "processed")
	return &domain.Result{Code: http.StatusOK}, nil
}

// Retry re-runs a failed event from its stored payload. Used by the
// background sweep; the dedup row already exists so only dispatch and
// outcome marking happen here.
func (s *Service) Retry(ctx context.Context, record *domain.EventRecord) error {
	adapter, err := s.registry.Adapter(record.Provider)
	if err != nil {
		return err
	}
	event, err := adapter.Parse(ctx, []byte(record.Payload))
	if err != nil {
		return err
	}
	if err := s.dispatch(ctx, event); err != nil {
		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("mark webhook failed", zap.Error(markErr))
		}
		return err
	}
	return s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now())
}

func (s *Service) dispatch(ctx context.Context, event *providerdomain.Event) error {
	switch event.Type {
	case providerdomain.EventTypeChargeSucceeded:
		return s.handleChargeSucceeded(ctx, event)
	case providerdomain.EventTypeChargeFailed:
		return s.handleChargeFailed(ctx, event)
	case providerdomain.EventTypePayoutCompleted:
		return s.handlePayoutCompleted(ctx, event)
	case providerdomain.EventTypeSubscriptionUpdated, providerdomain.EventTypeSubscriptionCancelled:
		return s.handleSubscriptionEvent(ctx, event)
	default:
		return fmt.Errorf("unhandled event type %s", event.Type)
	}
}

// handleChargeSucceeded re-verifies the payment with the provider before
// settling; webhook body amounts alone are never trusted.
func (s *Service) handleChargeSucceeded(ctx context.Context, event *providerdomain.Event) error {
	client, err := s.registry.Client(event.Provider)
	if err != nil {
		return err
	}
	verification, err := client.VerifyPayment(ctx, event.Reference)
	if err != nil {
		return err
	}
	if !verification.Paid {
		return fmt.Errorf("provider reports %s unpaid (status %s)", event.Reference, verification.Status)
	}

	tx, err := s.findTransaction(ctx, event, verification.Metadata)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	settled, err := s.transactions.UpdateTransactionStatus(ctx, s.db,
		tx.ID, checkoutdomain.StatusPending, checkoutdomain.StatusSucceeded, "", &now, now)
	if err != nil {
		return err
	}
	if !settled {
		// Replay or a race with manual verification; the first settler
		// already granted and posted.
		s.log.Debug("transaction already settled", zap.Int64("transaction_id", int64(tx.ID)))
	}

	if tx.Scope == checkoutdomain.ScopePhotoPurchase {
		if _, err := s.checkout.GrantEntitlements(ctx, tx); err != nil {
			return err
		}
		if _, err := s.ledger.PostSettlement(ctx, tx); err != nil {
			return err
		}
	}

	// A subscription checkout completes through a charge event carrying
	// the provider's subscription id; fold it into the canonical record.
	if event.ExternalSubscriptionID != "" {
		return s.applySubscription(ctx, event, verification.Metadata)
	}
	return nil
}

func (s *Service) handleChargeFailed(ctx context.Context, event *providerdomain.Event) error {
	tx, err := s.findTransaction(ctx, event, event.Metadata)
	if err != nil {
		return err
	}
	reason := event.ProviderStatus
	if reason == "" {
		reason = "payment_failed"
	}
	now := s.clock.Now()
	_, err = s.transactions.UpdateTransactionStatus(ctx, s.db,
		tx.ID, checkoutdomain.StatusPending, checkoutdomain.StatusFailed, reason, nil, now)
	return err
}

func (s *Service) handlePayoutCompleted(ctx context.Context, event *providerdomain.Event) error {
	payout, err := s.payouts.FindByProviderReference(ctx, s.db, event.Provider, event.Reference)
	if err != nil {
		return err
	}
	if payout == nil {
		// Not a payout we initiated; acknowledge and move on.
		s.log.Warn("payout event without local record",
			zap.String("provider", event.Provider),
			zap.String("reference", event.Reference))
		return nil
	}
	_, err = s.payouts.MarkCompleted(ctx, s.db, payout.ID, s.clock.Now())
	return err
}

func (s *Service) handleSubscriptionEvent(ctx context.Context, event *providerdomain.Event) error {
	return s.applySubscription(ctx, event, event.Metadata)
}

func (s *Service) applySubscription(ctx context.Context, event *providerdomain.Event, metadata map[string]string) error {
	merged := map[string]string{}
	for k, v := range event.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}

	var ownerID snowflake.ID
	if raw := merged["owner_id"]; raw != "" {
		if parsed, err := snowflake.ParseString(raw); err == nil {
			ownerID = parsed
		}
	}

	_, err := s.subscriptions.Apply(ctx, subdomain.ProviderState{
		Scope:                  merged["scope"],
		OwnerID:                ownerID,
		Provider:               event.Provider,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		PlanCode:               merged["plan_code"],
		ProviderStatus:         event.ProviderStatus,
		Cancelled:              event.Type == providerdomain.EventTypeSubscriptionCancelled,
		CurrentPeriodEnd:       event.PeriodEnd,
		Metadata:               merged,
	})
	return err
}

// findTransaction resolves the local row for a provider event, first by the
// provider reference, then by the transaction id the checkout flow planted
// in the provider metadata.
func (s *Service) findTransaction(ctx context.Context, event *providerdomain.Event, metadata map[string]string) (*checkoutdomain.Transaction, error) {
	if event.Reference != "" {
		tx, err := s.transactions.FindTransactionByReference(ctx, s.db, event.Provider, event.Reference)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	for _, source := range []map[string]string{metadata, event.Metadata} {
		raw := strings.TrimSpace(source["transaction_id"])
		if raw == "" {
			continue
		}
		id, err := snowflake.ParseString(raw)
		if err != nil {
			continue
		}
		tx, err := s.transactions.FindTransactionByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, checkoutdomain.ErrTransactionNotFound
}
