package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/clock"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
	webhookdomain "github.com/snapvend/snapvend/internal/webhook/domain"
)

const (
	jobSweepIdempotency = "sweep_idempotency"
	jobRetryWebhooks    = "retry_webhooks"
)

// Config tunes the reconciliation loop. StaleAfter must exceed the provider
// call timeout by a wide margin so an in-flight checkout is never swept.
type Config struct {
	Interval           time.Duration
	JobTimeout         time.Duration
	StaleAfter         time.Duration
	WebhookRetryAfter  time.Duration
	BatchSize          int
	MaxWebhookAttempts int
}

func DefaultConfig() Config {
	return Config{
		Interval:           time.Minute,
		JobTimeout:         30 * time.Second,
		StaleAfter:         10 * time.Minute,
		WebhookRetryAfter:  5 * time.Minute,
		BatchSize:          100,
		MaxWebhookAttempts: 8,
	}
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Cfg          Config
	IdemRepo     idemdomain.Repository
	Idempotency  idemdomain.Service
	Transactions checkoutdomain.Repository
	WebhookRepo  webhookdomain.Repository
	Webhooks     webhookdomain.Service
}

// Scheduler closes the at-least-once gaps the request path leaves behind: a
// crash between provider call and ledger finalize strands an idempotency
// record in processing, and a failed webhook dispatch needs re-driving
// beyond the provider's own retry window.
type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	cfg          Config
	idemRepo     idemdomain.Repository
	idempotency  idemdomain.Service
	transactions checkoutdomain.Repository
	webhookRepo  webhookdomain.Repository
	webhooks     webhookdomain.Service
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler"),
		clock:        p.Clock,
		cfg:          p.Cfg,
		idemRepo:     p.IdemRepo,
		idempotency:  p.Idempotency,
		transactions: p.Transactions,
		webhookRepo:  p.WebhookRepo,
		webhooks:     p.Webhooks,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			obsmetrics.Scheduler().ObserveRunLoopLag(time.Since(tick))
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.runJob(ctx, jobSweepIdempotency, s.sweepIdempotency)
	s.runJob(ctx, jobRetryWebhooks, s.retryWebhooks)
}

func (s *Scheduler) runJob(ctx context.Context, job string, fn func(context.Context) error) {
	metrics := obsmetrics.Scheduler()
	metrics.IncJobRun(job)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := fn(jobCtx)
	metrics.ObserveJobDuration(job, time.Since(start))

	if err == nil {
		return
	}
	if jobCtx.Err() != nil {
		metrics.IncJobTimeout(job)
	}
	metrics.IncJobError(job, err)
	s.log.Error("scheduler job failed",
		zap.String("job", job),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err))
}

// sweepIdempotency resolves records stuck in processing: when a transaction
// row exists for the record's key the provider call did succeed, so the
// record completes with that transaction's stored session; otherwise the
// attempt is declared failed so the ledger stops blocking the key.
func (s *Scheduler) sweepIdempotency(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.StaleAfter)
	records, err := s.idemRepo.FindStaleProcessing(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	metrics := obsmetrics.Scheduler()
	for i := range records {
		record := records[i]
		if err := s.resolveStale(ctx, &record); err != nil {
			if !obsmetrics.IsSchedulerErrorRetryable(err) {
				s.log.Error("stale idempotency record unresolved",
					zap.Int64("record_id", int64(record.ID)),
					zap.Error(err))
			}
			metrics.IncBatchDeferred(jobSweepIdempotency, obsmetrics.ClassifySchedulerJobReason(err))
			continue
		}
		metrics.AddBatchProcessed(jobSweepIdempotency, obsmetrics.SweepResourceIdempotencyRecords, 1)
	}
	return nil
}

func (s *Scheduler) resolveStale(ctx context.Context, record *idemdomain.Record) error {
	tx, err := s.transactions.FindTransactionByIdempotencyKey(ctx, s.db, record.Key)
	if err != nil {
		return err
	}
	if tx == nil {
		body := []byte(`{"error":"checkout_timed_out"}`)
		return s.idempotency.Finalize(ctx, record.ID, idemdomain.StatusFailed, http.StatusGatewayTimeout, body)
	}

	checkoutURL := ""
	var meta map[string]any
	if len(tx.Metadata) > 0 && json.Unmarshal(tx.Metadata, &meta) == nil {
		if stored, ok := meta["checkout_url"].(string); ok {
			checkoutURL = stored
		}
	}
	body, err := json.Marshal(checkoutdomain.SessionResponse{
		CheckoutURL:   checkoutURL,
		SessionID:     tx.Reference(),
		Provider:      tx.Provider,
		TransactionID: tx.ID.String(),
	})
	if err != nil {
		return err
	}
	return s.idempotency.Finalize(ctx, record.ID, idemdomain.StatusCompleted, http.StatusOK, body)
}

// retryWebhooks re-drives failed webhook events from their stored payloads,
// giving up permanently once an event exhausts its attempts.
func (s *Scheduler) retryWebhooks(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.WebhookRetryAfter)
	events, err := s.webhookRepo.FindFailedRetryable(ctx, s.db, s.cfg.MaxWebhookAttempts, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	metrics := obsmetrics.Scheduler()
	for i := range events {
		record := events[i]
		if err := s.webhooks.Retry(ctx, &record); err != nil {
			metrics.IncBatchDeferred(jobRetryWebhooks, obsmetrics.ClassifySchedulerJobReason(err))
			continue
		}
		metrics.AddBatchProcessed(jobRetryWebhooks, obsmetrics.SweepResourceWebhookEvents, 1)
	}
	return nil
}
