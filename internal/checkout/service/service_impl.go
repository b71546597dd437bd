package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/config"
	eventdomain "github.com/snapvend/snapvend/internal/event/domain"
	"github.com/snapvend/snapvend/internal/fees"
	"github.com/snapvend/snapvend/internal/gateway"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	idemservice "github.com/snapvend/snapvend/internal/idempotency/service"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
	"github.com/snapvend/snapvend/internal/providers"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	"github.com/snapvend/snapvend/internal/ratelimit"
	walletdomain "github.com/snapvend/snapvend/internal/wallet/domain"
	"github.com/snapvend/snapvend/pkg/db"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Pricing     *config.PricingHolder
	Repo        domain.Repository
	Events      eventdomain.Repository
	Wallets     walletdomain.Repository
	PlanGate    domain.PlanGate
	Fees        *fees.Calculator
	Gateway     *gateway.Selector
	Idempotency idemdomain.Service
	Registry    *providers.Registry
	Limiter     *ratelimit.CheckoutLimiter
	Metrics     *obsmetrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	pricing     *config.PricingHolder
	repo        domain.Repository
	events      eventdomain.Repository
	wallets     walletdomain.Repository
	planGate    domain.PlanGate
	fees        *fees.Calculator
	gateway     *gateway.Selector
	idempotency idemdomain.Service
	registry    *providers.Registry
	limiter     *ratelimit.CheckoutLimiter
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("checkout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		pricing:     p.Pricing,
		repo:        p.Repo,
		events:      p.Events,
		wallets:     p.Wallets,
		planGate:    p.PlanGate,
		fees:        p.Fees,
		gateway:     p.Gateway,
		idempotency: p.Idempotency,
		registry:    p.Registry,
		limiter:     p.Limiter,
		metrics:     p.Metrics,
	}
}

// CreateSession runs the full checkout flow: validate, gate, select a
// gateway, price, claim the idempotency slot, create the provider session
// and persist the pending transaction. All validation happens before the
// idempotency claim so rejected requests leave no ledger residue; everything
// after the claim finalizes the record on every exit path.
func (s *Service) CreateSession(ctx context.Context, in domain.CreateSessionInput) (*domain.Outcome, error) {
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return nil, domain.ErrMissingIdempotencyKey
	}
	if in.BuyerID == 0 && strings.TrimSpace(in.CustomerEmail) == "" {
		return nil, domain.ErrMissingCustomerEmail
	}
	if len(in.MediaIDs) == 0 && !in.UnlockAll {
		return nil, domain.ErrNothingToPurchase
	}

	allowed, retryAfter, err := s.limiter.Allow(ctx, in.ClientIP)
	if err != nil {
		// Allow fails open on a redis outage, so an error here still
		// carries a usable verdict.
		s.log.Warn("rate limiter unavailable", zap.Error(err))
	}
	if !allowed {
		s.metrics.RecordRateLimitDenied(ctx, in.ClientIP, "checkout", "token_bucket")
		return nil, &domain.RateLimitedError{RetryAfter: retryAfter}
	}
	s.metrics.RecordRateLimitAllowed(ctx, in.ClientIP, "checkout")

	event, err := s.events.FindByID(ctx, s.db, in.EventID)
	if err != nil {
		return nil, err
	}
	if event == nil || !event.Purchasable() {
		// Drafts and closed events are not purchasable through this
		// path, not even by their own photographer.
		return nil, eventdomain.ErrEventNotFound
	}
	if in.UnlockAll && !event.UnlockAllEnabled {
		return nil, domain.ErrNothingToPurchase
	}

	hasPlan, err := s.planGate.HasActivePaidPlan(ctx, event.CreatorID)
	if err != nil {
		return nil, err
	}
	if !hasPlan {
		return nil, domain.ErrCreatorPlanRequired
	}

	currency := s.effectiveCurrency(in.Currency, event.Country, event.Currency)

	activeWallets, err := s.wallets.FindActiveByCreator(ctx, s.db, event.CreatorID)
	if err != nil {
		return nil, err
	}
	selection, err := s.gateway.Select(gateway.Input{
		Preference:    in.Provider,
		CountryCode:   event.Country,
		PayeeGateways: walletdomain.ActiveProviders(activeWallets),
	})
	if err != nil {
		return nil, err
	}
	if pref := strings.ToLower(strings.TrimSpace(in.Provider)); pref != "" && pref != selection.Gateway {
		// The preferred gateway has no payee account but another one
		// does. The client must re-confirm, not be silently rerouted.
		return nil, &domain.RetryWithGatewayError{Selected: pref, Suggested: selection.Gateway}
	}
	wallet, err := s.wallets.FindActive(ctx, s.db, event.CreatorID, selection.Gateway)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrNoPaymentMethod
	}

	ownerKey := domain.OwnerKey(in.BuyerID, in.CustomerEmail)
	if err := s.rejectAlreadyOwned(ctx, event.ID, ownerKey, in); err != nil {
		return nil, err
	}

	var grossCents int64
	if in.UnlockAll {
		grossCents = s.fees.UnlockAllPrice()
	} else {
		grossCents, err = s.fees.ResolveBulkPrice(len(in.MediaIDs))
		if err != nil {
			return nil, err
		}
	}
	calc, err := s.fees.Calculate(selection.Gateway, grossCents, event.Currency, currency)
	if err != nil {
		return nil, err
	}

	requestHash := idemservice.HashRequest(map[string]any{
		"eventId":   event.ID.String(),
		"mediaIds":  normalizedMediaIDs(in.MediaIDs),
		"unlockAll": in.UnlockAll,
		"provider":  strings.ToLower(strings.TrimSpace(in.Provider)),
		"currency":  currency,
		"ownerKey":  ownerKey,
	})
	claim, err := s.idempotency.Claim(ctx, idemdomain.ScopeCheckout, ownerKey, in.IdempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}
	if !claim.Claimed {
		return replay(claim.Existing, requestHash)
	}

	outcome, err := s.execute(ctx, claim.RecordID, event, wallet, selection, calc, currency, ownerKey, in)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// execute runs the side-effecting tail of checkout. The claimed idempotency
// record is finalized on every exit path, including errors, so a failed
// attempt never wedges its key in processing.
func (s *Service) execute(
	ctx context.Context,
	recordID snowflake.ID,
	event *eventdomain.Event,
	wallet *walletdomain.Wallet,
	selection gateway.Selection,
	calc fees.Calculation,
	currency string,
	ownerKey string,
	in domain.CreateSessionInput,
) (outcome *domain.Outcome, err error) {
	finalized := false
	defer func() {
		if finalized {
			return
		}
		status := idemdomain.StatusFailed
		code := http.StatusBadGateway
		body := []byte(`{"error":"checkout_failed"}`)
		if err != nil {
			encoded, encErr := json.Marshal(map[string]string{"error": err.Error()})
			if encErr == nil {
				body = encoded
			}
		}
		if finErr := s.idempotency.Finalize(ctx, recordID, status, code, body); finErr != nil {
			s.log.Error("finalize idempotency record failed",
				zap.Int64("record_id", int64(recordID)),
				zap.Error(finErr))
		}
	}()

	txID := s.genID.Generate()
	reference := "snap-" + ulid.Make().String()

	client, err := s.registry.Client(selection.Gateway)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"scope":          domain.ScopePhotoPurchase,
		"transaction_id": txID.String(),
		"event_id":       event.ID.String(),
		"wallet_id":      wallet.ID.String(),
		"owner_key":      ownerKey,
		"event_currency": event.Currency,
		"exchange_rate":  strconv.FormatFloat(calc.ExchangeRate, 'f', -1, 64),
		"media":          mediaSummary(in),
	}

	session, err := client.CreateCheckoutSession(ctx, providerdomain.CheckoutSessionInput{
		ReferenceID:    reference,
		AmountCents:    calc.GrossCents,
		Currency:       currency,
		Description:    event.Title,
		CustomerEmail:  in.CustomerEmail,
		SuccessURL:     s.cfg.BaseURL + "/checkout/success",
		CancelURL:      s.cfg.BaseURL + "/checkout/cancel",
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       metadata,
	})
	if err != nil {
		s.log.Warn("provider session creation failed",
			zap.String("provider", selection.Gateway),
			zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	tx := &domain.Transaction{
		ID:                  txID,
		Scope:               domain.ScopePhotoPurchase,
		Provider:            selection.Gateway,
		Status:              domain.StatusPending,
		EventID:             event.ID,
		CreatorID:           event.CreatorID,
		WalletID:            wallet.ID,
		BuyerID:             in.BuyerID,
		GuestEmail:          strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		PhotoCount:          len(in.MediaIDs),
		AmountCents:         calc.GrossCents,
		Currency:            currency,
		BaseAmountCents:     calc.OriginalCents,
		BaseCurrency:        event.Currency,
		ExchangeRate:        calc.ExchangeRate,
		PlatformFeeCents:    calc.PlatformFeeCents,
		ProviderFeeCents:    calc.ProviderFeeCents,
		TransactionFeeCents: calc.TransactionFeeCents,
		NetAmountCents:      calc.NetCents,
		ProviderReference:   session.Reference(),
		IdempotencyKey:      in.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	setProviderColumns(tx, selection.Gateway, session)
	if encoded, encErr := json.Marshal(map[string]any{
		"checkout_url": session.CheckoutURL,
		"media_ids":    normalizedMediaIDs(in.MediaIDs),
		"unlock_all":   in.UnlockAll,
	}); encErr == nil {
		tx.Metadata = datatypes.JSON(encoded)
	}
	if len(in.MediaIDs) > 0 {
		if encoded, encErr := json.Marshal(normalizedMediaIDs(in.MediaIDs)); encErr == nil {
			tx.MediaIDs = datatypes.JSON(encoded)
		}
	}

	response := &domain.SessionResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.Reference(),
		Provider:    selection.Gateway,
		GatewaySelection: map[string]any{
			"gateway":           selection.Gateway,
			"reason":            selection.Reason,
			"availableGateways": selection.AvailableGateways,
		},
		TransactionID: txID.String(),
	}

	if insErr := s.repo.InsertTransaction(ctx, s.db, tx); insErr != nil {
		existing, dupErr := s.existingSessionResponse(ctx, selection, session, insErr)
		if dupErr != nil {
			return nil, dupErr
		}
		response = existing
	}

	body, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	if err = s.idempotency.Finalize(ctx, recordID, idemdomain.StatusCompleted, http.StatusOK, body); err != nil {
		return nil, err
	}
	finalized = true

	s.metrics.RecordCheckoutSession(ctx, selection.Gateway, domain.ScopePhotoPurchase)
	s.log.Info("checkout session created",
		zap.String("provider", selection.Gateway),
		zap.String("reference", session.Reference()),
		zap.Int64("amount_cents", calc.GrossCents),
		zap.String("currency", currency))

	return &domain.Outcome{Code: http.StatusOK, Body: body}, nil
}

// existingSessionResponse turns a duplicate-key insert into the stored
// response for the row that already holds this provider session. Any other
// insert error propagates.
func (s *Service) existingSessionResponse(ctx context.Context, selection gateway.Selection, session *providerdomain.CheckoutSession, insErr error) (*domain.SessionResponse, error) {
	if !db.IsDuplicateKeyErr(insErr) {
		return nil, insErr
	}
	existing, err := s.repo.FindTransactionByReference(ctx, s.db, selection.Gateway, session.Reference())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, insErr
	}
	var meta map[string]any
	checkoutURL := session.CheckoutURL
	if len(existing.Metadata) > 0 && json.Unmarshal(existing.Metadata, &meta) == nil {
		if stored, ok := meta["checkout_url"].(string); ok && stored != "" {
			checkoutURL = stored
		}
	}
	return &domain.SessionResponse{
		CheckoutURL: checkoutURL,
		SessionID:   existing.Reference(),
		Provider:    existing.Provider,
		GatewaySelection: map[string]any{
			"gateway":           selection.Gateway,
			"reason":            selection.Reason,
			"availableGateways": selection.AvailableGateways,
		},
		TransactionID: existing.ID.String(),
	}, nil
}

// GrantEntitlements creates the entitlement rows a succeeded transaction
// pays for. The underlying insert skips rows that already exist, so calling
// this twice for the same transaction grants exactly one set.
func (s *Service) GrantEntitlements(ctx context.Context, tx *domain.Transaction) (int64, error) {
	ownerKey := domain.OwnerKey(tx.BuyerID, tx.GuestEmail)
	now := s.clock.Now()

	var entitlements []domain.Entitlement
	var mediaIDs []string
	if len(tx.MediaIDs) > 0 {
		if err := json.Unmarshal(tx.MediaIDs, &mediaIDs); err != nil {
			return 0, err
		}
	}
	if len(mediaIDs) == 0 {
		entitlements = append(entitlements, domain.Entitlement{
			ID:            s.genID.Generate(),
			EventID:       tx.EventID,
			OwnerKey:      ownerKey,
			Kind:          domain.EntitlementBulk,
			TransactionID: tx.ID,
			CreatedAt:     now,
		})
	} else {
		for _, mediaID := range mediaIDs {
			entitlements = append(entitlements, domain.Entitlement{
				ID:            s.genID.Generate(),
				EventID:       tx.EventID,
				OwnerKey:      ownerKey,
				Kind:          domain.EntitlementSingle,
				MediaID:       mediaID,
				TransactionID: tx.ID,
				CreatedAt:     now,
			})
		}
	}

	inserted, err := s.repo.InsertEntitlements(ctx, s.db, entitlements)
	if err != nil {
		return inserted, err
	}
	s.log.Info("entitlements granted",
		zap.Int64("transaction_id", int64(tx.ID)),
		zap.Int64("granted", inserted),
		zap.Int("requested", len(entitlements)))
	return inserted, nil
}

func (s *Service) rejectAlreadyOwned(ctx context.Context, eventID snowflake.ID, ownerKey string, in domain.CreateSessionInput) error {
	if in.UnlockAll {
		hasBulk, err := s.repo.HasBulkEntitlement(ctx, s.db, eventID, ownerKey)
		if err != nil {
			return err
		}
		if hasBulk {
			return &domain.AlreadyOwnedError{}
		}
		return nil
	}
	owned, err := s.repo.FindOwnedMedia(ctx, s.db, eventID, ownerKey, in.MediaIDs)
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		return &domain.AlreadyOwnedError{MediaIDs: owned}
	}
	return nil
}

func (s *Service) effectiveCurrency(requested, country, eventCurrency string) string {
	if c := strings.ToUpper(strings.TrimSpace(requested)); c != "" {
		return c
	}
	if country != "" {
		if c, ok := s.pricing.Current().CountryCurrencies[strings.ToUpper(country)]; ok {
			return c
		}
	}
	return strings.ToUpper(eventCurrency)
}

// replay answers a request whose key is already claimed. Completed and
// failed records replay their stored response verbatim; a live processing
// record or a payload mismatch is a 409.
func replay(existing *idemdomain.Record, requestHash string) (*domain.Outcome, error) {
	if existing == nil {
		return nil, idemdomain.ErrInFlight
	}
	if existing.RequestHash != requestHash {
		return nil, idemdomain.ErrKeyReused
	}
	switch existing.Status {
	case idemdomain.StatusCompleted, idemdomain.StatusFailed:
		code := http.StatusOK
		if existing.ResponseCode != nil {
			code = *existing.ResponseCode
		}
		return &domain.Outcome{Code: code, Body: existing.ResponseBody, Replayed: true}, nil
	default:
		return nil, idemdomain.ErrInFlight
	}
}

func setProviderColumns(tx *domain.Transaction, provider string, session *providerdomain.CheckoutSession) {
	switch provider {
	case providerdomain.ProviderStripe:
		id := session.SessionID
		tx.SessionID = &id
	case providerdomain.ProviderPayPal:
		id := session.OrderID
		tx.OrderID = &id
	default:
		id := session.TxRef
		tx.TxRef = &id
	}
}

func normalizedMediaIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mediaSummary(in domain.CreateSessionInput) string {
	if in.UnlockAll {
		return "all"
	}
	return strings.Join(normalizedMediaIDs(in.MediaIDs), ",")
}
