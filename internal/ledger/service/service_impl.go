package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/ledger/domain"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *obsmetrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// PostSettlement books the money split of a succeeded transaction: debit
// cash for the gross, credit the creator's payable for the net and the
// platform and provider fee accounts for the rest. One journal per
// transaction; a replay posts nothing and returns false.
func (s *Service) PostSettlement(ctx context.Context, tx *checkoutdomain.Transaction) (bool, error) {
	now := s.clock.Now()
	payableCode := domain.CreatorPayableCode(tx.CreatorID)

	accounts := []domain.Account{
		{ID: s.genID.Generate(), Code: domain.AccountCash, Kind: domain.KindAsset, Currency: tx.Currency, CreatedAt: now},
		{ID: s.genID.Generate(), Code: domain.AccountPlatformRevenue, Kind: domain.KindRevenue, Currency: tx.Currency, CreatedAt: now},
		{ID: s.genID.Generate(), Code: domain.AccountProviderFees, Kind: domain.KindExpense, Currency: tx.Currency, CreatedAt: now},
		{ID: s.genID.Generate(), Code: payableCode, Kind: domain.KindLiability, Currency: tx.Currency, CreatedAt: now},
	}
	for i := range accounts {
		if err := s.repo.EnsureAccount(ctx, s.db, &accounts[i]); err != nil {
			return false, err
		}
	}

	journal := &domain.Journal{
		ID:            s.genID.Generate(),
		TransactionID: tx.ID,
		Description:   tx.Scope + " settlement",
		CreatedAt:     now,
	}
	// Fee rounding and the floored net must still balance against the
	// gross: the provider portion is capped by what is left after the
	// creator's net, and the platform takes the remainder.
	remaining := tx.AmountCents - tx.NetAmountCents
	providerPortion := tx.ProviderFeeCents + tx.TransactionFeeCents
	if providerPortion > remaining {
		providerPortion = remaining
	}
	platformPortion := remaining - providerPortion

	entries := []domain.Entry{
		{AccountCode: domain.AccountCash, Direction: domain.DirectionDebit, AmountCents: tx.AmountCents},
		{AccountCode: payableCode, Direction: domain.DirectionCredit, AmountCents: tx.NetAmountCents},
		{AccountCode: domain.AccountPlatformRevenue, Direction: domain.DirectionCredit, AmountCents: platformPortion},
		{AccountCode: domain.AccountProviderFees, Direction: domain.DirectionCredit, AmountCents: providerPortion},
	}

	kept := make([]domain.Entry, 0, len(entries))
	var debits, credits int64
	for _, e := range entries {
		if e.AmountCents == 0 {
			continue
		}
		e.ID = s.genID.Generate()
		e.LedgerTransactionID = journal.ID
		e.Currency = tx.Currency
		e.CreatedAt = now
		kept = append(kept, e)
		if e.Direction == domain.DirectionDebit {
			debits += e.AmountCents
		} else {
			credits += e.AmountCents
		}
	}
	if debits != credits {
		return false, domain.ErrUnbalancedJournal
	}

	posted, err := s.repo.InsertJournal(ctx, s.db, journal, kept)
	if err != nil {
		return posted, err
	}
	if posted {
		s.metrics.RecordLedgerEntry(ctx, tx.Scope)
		s.log.Info("settlement posted",
			zap.Int64("transaction_id", int64(tx.ID)),
			zap.Int64("gross_cents", tx.AmountCents),
			zap.Int64("net_cents", tx.NetAmountCents))
	}
	return posted, nil
}

func (s *Service) CreatorBalance(ctx context.Context, creatorID snowflake.ID) (int64, error) {
	return s.repo.AccountBalance(ctx, s.db, domain.CreatorPayableCode(creatorID))
}
