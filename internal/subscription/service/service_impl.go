package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/gateway"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	idemservice "github.com/snapvend/snapvend/internal/idempotency/service"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	"github.com/snapvend/snapvend/internal/providers"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	"github.com/snapvend/snapvend/internal/subscription/domain"
	"github.com/snapvend/snapvend/pkg/db"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Pricing      *config.PricingHolder
	Repo         domain.Repository
	Plans        plandomain.Repository
	Transactions checkoutdomain.Repository
	Gateway      *gateway.Selector
	Idempotency  idemdomain.Service
	Registry     *providers.Registry
	Metrics      *obsmetrics.Metrics
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.Config
	pricing      *config.PricingHolder
	repo         domain.Repository
	plans        plandomain.Repository
	transactions checkoutdomain.Repository
	gateway      *gateway.Selector
	idempotency  idemdomain.Service
	registry     *providers.Registry
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg,
		pricing:      p.Pricing,
		repo:         p.Repo,
		plans:        p.Plans,
		transactions: p.Transactions,
		gateway:      p.Gateway,
		idempotency:  p.Idempotency,
		registry:     p.Registry,
		metrics:      p.Metrics,
	}
}

// billingTarget is the resolved provider-side identity of a plan: which
// gateway bills it and, when pre-registered, the provider's plan id. An
// empty ExternalPlanID means Stripe inline pricing.
type billingTarget struct {
	Gateway        string
	ExternalPlanID string
	Selection      gateway.Selection
}

// Checkout creates a recurring billing session for a plan. Same idempotent
// shape as the one-off checkout: validate and resolve everything first,
// claim the key, then create the provider subscription and the pending
// transaction.
func (s *Service) Checkout(ctx context.Context, in domain.CheckoutInput) (*checkoutdomain.Outcome, error) {
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return nil, domain.ErrMissingIdempotency
	}
	if in.OwnerID == 0 {
		return nil, domain.ErrOwnerMismatch
	}

	plan, err := s.plans.FindPlanByCode(ctx, s.db, in.PlanCode)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active || plan.Free() {
		return nil, plandomain.ErrPlanNotFound
	}
	scope := plan.Scope
	if in.Scope != "" && in.Scope != scope {
		return nil, plandomain.ErrPlanNotFound
	}

	currency := s.effectiveCurrency(in.Currency, in.CountryCode)
	price, err := s.resolvePrice(ctx, plan.ID, currency)
	if err != nil {
		return nil, err
	}
	currency = price.Currency

	target, err := s.resolveBillingTarget(ctx, plan.ID, in.Provider, in.CountryCode)
	if err != nil {
		return nil, err
	}

	actorKey := "user:" + in.OwnerID.String() + ":" + scope
	requestHash := idemservice.HashRequest(map[string]any{
		"planCode":     plan.Code,
		"billingCycle": plan.BillingInterval,
		"currency":     currency,
		"provider":     strings.ToLower(strings.TrimSpace(in.Provider)),
	})
	claim, err := s.idempotency.Claim(ctx, idemdomain.ScopeSubscriptionCheckout, actorKey, in.IdempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}
	if !claim.Claimed {
		return replay(claim.Existing, requestHash)
	}

	return s.execute(ctx, claim.RecordID, plan, price, target, in)
}

func (s *Service) execute(
	ctx context.Context,
	recordID snowflake.ID,
	plan *plandomain.Plan,
	price *plandomain.PlanPrice,
	target billingTarget,
	in domain.CheckoutInput,
) (outcome *checkoutdomain.Outcome, err error) {
	finalized := false
	defer func() {
		if finalized {
			return
		}
		body := []byte(`{"error":"subscription_checkout_failed"}`)
		if err != nil {
			if encoded, encErr := json.Marshal(map[string]string{"error": err.Error()}); encErr == nil {
				body = encoded
			}
		}
		if finErr := s.idempotency.Finalize(ctx, recordID, idemdomain.StatusFailed, http.StatusBadGateway, body); finErr != nil {
			s.log.Error("finalize idempotency record failed",
				zap.Int64("record_id", int64(recordID)),
				zap.Error(finErr))
		}
	}()

	txID := s.genID.Generate()
	reference := "snapsub-" + ulid.Make().String()
	metadata := map[string]string{
		"scope":          plan.Scope,
		"owner_id":       in.OwnerID.String(),
		"plan_code":      plan.Code,
		"transaction_id": txID.String(),
		"tx_ref":         reference,
	}

	client, err := s.registry.Client(target.Gateway)
	if err != nil {
		return nil, err
	}

	input := providerdomain.SubscriptionInput{
		ExternalPlanID: target.ExternalPlanID,
		PlanCode:       plan.Code,
		AmountCents:    price.AmountCents,
		Currency:       price.Currency,
		Interval:       plan.BillingInterval,
		CustomerEmail:  in.CustomerEmail,
		SuccessURL:     s.cfg.BaseURL + "/subscriptions/success",
		CancelURL:      s.cfg.BaseURL + "/subscriptions/cancel",
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       metadata,
	}
	session, err := client.CreateSubscription(ctx, input)
	if err != nil && target.Gateway == providerdomain.ProviderStripe && target.ExternalPlanID == "" && !strings.EqualFold(price.Currency, "USD") {
		// Inline Stripe pricing can fail on a misconfigured regional
		// currency; retry once in USD before giving up.
		usdPrice, priceErr := s.plans.FindPrice(ctx, s.db, plan.ID, "USD")
		if priceErr == nil && usdPrice != nil {
			retry := input
			retry.AmountCents = usdPrice.AmountCents
			retry.Currency = usdPrice.Currency
			if retried, retryErr := client.CreateSubscription(ctx, retry); retryErr == nil {
				session = retried
				price = usdPrice
				err = nil
			}
		}
	}
	if err != nil {
		s.log.Warn("provider subscription creation failed",
			zap.String("provider", target.Gateway),
			zap.String("plan_code", plan.Code),
			zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	tx := &checkoutdomain.Transaction{
		ID:             txID,
		Scope:          plan.Scope,
		Provider:       target.Gateway,
		Status:         checkoutdomain.StatusPending,
		CreatorID:      in.OwnerID,
		BuyerID:        in.OwnerID,
		GuestEmail:     strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		AmountCents:    price.AmountCents,
		Currency:       price.Currency,
		BaseCurrency:   price.Currency,
		ExchangeRate:   1,
		NetAmountCents: price.AmountCents,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sessionRef := session.Reference()
	switch target.Gateway {
	case providerdomain.ProviderStripe:
		tx.SessionID = &sessionRef
	case providerdomain.ProviderPayPal:
		tx.OrderID = &sessionRef
	default:
		tx.TxRef = &sessionRef
	}
	if encoded, encErr := json.Marshal(map[string]any{
		"checkout_url": session.ApprovalURL,
		"plan_code":    plan.Code,
	}); encErr == nil {
		tx.Metadata = datatypes.JSON(encoded)
	}
	if insErr := s.transactions.InsertTransaction(ctx, s.db, tx); insErr != nil && !db.IsDuplicateKeyErr(insErr) {
		return nil, insErr
	}

	response := map[string]any{
		"checkoutUrl":        session.ApprovalURL,
		"sessionId":          sessionRef,
		"provider":           target.Gateway,
		"gateway":            target.Gateway,
		"pricingCurrency":    price.Currency,
		"pricingAmountCents": price.AmountCents,
		"gatewaySelection": map[string]any{
			"gateway":           target.Selection.Gateway,
			"reason":            target.Selection.Reason,
			"availableGateways": target.Selection.AvailableGateways,
		},
	}
	body, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	if err = s.idempotency.Finalize(ctx, recordID, idemdomain.StatusCompleted, http.StatusOK, body); err != nil {
		return nil, err
	}
	finalized = true

	s.metrics.RecordCheckoutSession(ctx, target.Gateway, plan.Scope)
	s.log.Info("subscription checkout session created",
		zap.String("provider", target.Gateway),
		zap.String("plan_code", plan.Code),
		zap.String("reference", sessionRef))

	return &checkoutdomain.Outcome{Code: http.StatusOK, Body: body}, nil
}

// resolveBillingTarget picks the gateway and provider plan for a recurring
// checkout. Mapping fallback order: the selected gateway's mapping, any
// other configured gateway's mapping, then Stripe with inline pricing. No
// mapping and no Stripe fails closed; it never downgrades to another plan.
func (s *Service) resolveBillingTarget(ctx context.Context, planID snowflake.ID, preference, countryCode string) (billingTarget, error) {
	selection, err := s.gateway.Select(gateway.Input{
		Preference:  preference,
		CountryCode: countryCode,
	})
	if err != nil {
		return billingTarget{}, err
	}

	mapping, err := s.plans.FindMapping(ctx, s.db, planID, selection.Gateway)
	if err != nil {
		return billingTarget{}, err
	}
	if mapping != nil {
		return billingTarget{Gateway: selection.Gateway, ExternalPlanID: mapping.ExternalPlanID, Selection: selection}, nil
	}

	for _, candidate := range selection.AvailableGateways {
		if candidate == selection.Gateway {
			continue
		}
		mapping, err = s.plans.FindMapping(ctx, s.db, planID, candidate)
		if err != nil {
			return billingTarget{}, err
		}
		if mapping != nil {
			return billingTarget{Gateway: candidate, ExternalPlanID: mapping.ExternalPlanID, Selection: selection}, nil
		}
	}

	if s.registry.Exists(providerdomain.ProviderStripe) {
		return billingTarget{Gateway: providerdomain.ProviderStripe, Selection: selection}, nil
	}
	return billingTarget{}, domain.ErrMissingPlanMapping
}

// Apply is the single canonical upsert for subscription provider state. The
// webhook reconciler and manual verification both call it, so the two paths
// cannot develop divergent status mappings, and the guarded upsert makes
// their race commutative.
func (s *Service) Apply(ctx context.Context, state domain.ProviderState) (*domain.RecurringSubscription, error) {
	if state.ExternalSubscriptionID == "" {
		return nil, domain.ErrSubscriptionNotFound
	}

	existing, err := s.repo.FindByExternalID(ctx, s.db, state.Provider, state.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &domain.RecurringSubscription{
		ID:                     s.genID.Generate(),
		Scope:                  state.Scope,
		OwnerID:                state.OwnerID,
		EventID:                state.EventID,
		Provider:               state.Provider,
		ExternalSubscriptionID: state.ExternalSubscriptionID,
		PlanCode:               state.PlanCode,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		CancelAtPeriodEnd:      state.Cancelled,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if existing != nil {
		// Identity fields come from the first writer; later events may
		// not carry owner metadata.
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		if record.OwnerID == 0 {
			record.OwnerID = existing.OwnerID
		}
		if record.Scope == "" {
			record.Scope = existing.Scope
		}
		if record.EventID == 0 {
			record.EventID = existing.EventID
		}
		if record.CurrentPeriodEnd == nil {
			record.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
	}
	// Status maps per scope, so resolve it after the scope merge: later
	// provider events often omit the scope metadata.
	record.Status = domain.CanonicalStatus(record.Scope, state.Provider, state.ProviderStatus)
	if state.Cancelled {
		record.Status = domain.StatusCancelled
	}
	if len(state.Metadata) > 0 {
		if encoded, encErr := json.Marshal(state.Metadata); encErr == nil {
			record.Metadata = datatypes.JSON(encoded)
		}
	}

	if err := s.repo.Upsert(ctx, s.db, record); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindByExternalID(ctx, s.db, state.Provider, state.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	s.metrics.RecordSubscriptionSync(ctx, state.Provider, stored.Status)
	s.log.Info("subscription state applied",
		zap.String("provider", state.Provider),
		zap.String("external_id", state.ExternalSubscriptionID),
		zap.String("status", stored.Status))
	return stored, nil
}

// Verify queries the provider directly for a session or subscription id the
// client brought back from a redirect. The returned metadata must name the
// calling owner and scope; otherwise a user could claim someone else's
// payment by guessing ids.
func (s *Service) Verify(ctx context.Context, in domain.VerifyInput) (*domain.RecurringSubscription, error) {
	client, err := s.registry.Client(in.Provider)
	if err != nil {
		return nil, err
	}
	verification, err := client.VerifySubscription(ctx, in.Reference)
	if err != nil {
		return nil, err
	}

	meta := verification.Metadata
	if owner := meta["owner_id"]; owner != "" && owner != in.OwnerID.String() {
		return nil, domain.ErrOwnerMismatch
	}
	if scope := meta["scope"]; scope != "" && in.Scope != "" && scope != in.Scope {
		return nil, domain.ErrOwnerMismatch
	}

	planCode := verification.PlanCode
	if planCode == "" {
		planCode = meta["plan_code"]
	}
	scope := in.Scope
	if scope == "" {
		scope = meta["scope"]
	}

	return s.Apply(ctx, domain.ProviderState{
		Scope:                  scope,
		OwnerID:                in.OwnerID,
		Provider:               in.Provider,
		ExternalSubscriptionID: verification.ExternalSubscriptionID,
		PlanCode:               planCode,
		ProviderStatus:         verification.ProviderStatus,
		CurrentPeriodEnd:       verification.PeriodEnd,
		Metadata:               meta,
	})
}

// HasActivePaidPlan is the creator payment gate: an active, non-free
// creator subscription is required before the creator can accept payments.
func (s *Service) HasActivePaidPlan(ctx context.Context, creatorID snowflake.ID) (bool, error) {
	current, err := s.repo.FindCurrent(ctx, s.db, creatorID, plandomain.ScopeCreator)
	if err != nil {
		return false, err
	}
	return current.ActivePaid(), nil
}

func (s *Service) effectiveCurrency(requested, country string) string {
	if c := strings.ToUpper(strings.TrimSpace(requested)); c != "" {
		return c
	}
	if country != "" {
		if c, ok := s.pricing.Current().CountryCurrencies[strings.ToUpper(country)]; ok {
			return c
		}
	}
	return "USD"
}

// resolvePrice finds the plan price in the requested currency, falling back
// to USD when the plan has no regional price.
func (s *Service) resolvePrice(ctx context.Context, planID snowflake.ID, currency string) (*plandomain.PlanPrice, error) {
	price, err := s.plans.FindPrice(ctx, s.db, planID, currency)
	if err != nil {
		return nil, err
	}
	if price == nil && currency != "USD" {
		price, err = s.plans.FindPrice(ctx, s.db, planID, "USD")
		if err != nil {
			return nil, err
		}
	}
	if price == nil {
		return nil, plandomain.ErrPriceNotFound
	}
	return price, nil
}

func replay(existing *idemdomain.Record, requestHash string) (*checkoutdomain.Outcome, error) {
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
		return &checkoutdomain.Outcome{Code: code, Body: existing.ResponseBody, Replayed: true}, nil
	default:
		return nil, idemdomain.ErrInFlight
	}
}
