// Package worker provides background processing: asynchronous assessment
// of submitted loans off the event bus, and a periodic sweep flagging
// workflow stages that blew their due date.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/talon/internal/assessment"
	"github.com/opensource-finance/talon/internal/domain"
)

// Worker runs the async decisioning pipeline for configured tenants.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	assessor *assessment.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// SweepInterval is how often the overdue sweep runs. Zero disables
	// the sweep.
	SweepInterval time.Duration
}

// NewWorker creates a background worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, assessor *assessment.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		assessor: assessor,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to loan submissions for each tenant and launches the
// overdue sweep.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	if cfg.SweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(cfg.TenantIDs, cfg.SweepInterval)
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"sweep_interval", cfg.SweepInterval,
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLoanSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicLoanSubmitted,
	)
	return nil
}

// processSubmission runs the automated assessment for a submitted loan.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var loan domain.Loan
	if err := json.Unmarshal(msg.Payload, &loan); err != nil {
		slog.Error("failed to parse loan submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if loan.TenantID != "" {
		tenantID = loan.TenantID
	}

	resp, err := w.assessor.Assess(ctx, tenantID, assessment.AssessRequest{
		LoanID:                        loan.ID,
		IncludeDocumentVerification:   true,
		IncludeEmploymentVerification: true,
		IncludeCreditCheck:            true,
		ActorID:                       "worker",
	})
	if err != nil {
		// A loan decided between publish and delivery is not an error
		// worth retrying.
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			slog.Warn("skipping submission",
				"loan_id", loan.ID,
				"reason", err,
			)
			return nil
		}
		slog.Error("async assessment failed",
			"loan_id", loan.ID,
			"error", err,
		)
		return err
	}

	slog.Info("loan assessed asynchronously",
		"loan_id", loan.ID,
		"tenant_id", tenantID,
		"result", resp.Decision.Result,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) sweepLoop(tenantIDs []string, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range tenantIDs {
				w.SweepOverdue(w.ctx, tenantID)
			}
		}
	}
}

// SweepOverdue flags open workflow stages past their due date and
// publishes an event per newly flagged stage. Returns the number of
// stages flagged.
func (w *Worker) SweepOverdue(ctx context.Context, tenantID string) int {
	candidates, err := w.repo.ListOverdueCandidates(ctx, tenantID, time.Now().UTC())
	if err != nil {
		slog.Error("overdue sweep failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return 0
	}

	flagged := 0
	for _, entry := range candidates {
		if err := w.repo.MarkStageOverdue(ctx, tenantID, entry.ID); err != nil {
			slog.Error("failed to flag overdue stage",
				"entry_id", entry.ID,
				"error", err,
			)
			continue
		}
		flagged++

		payload, err := json.Marshal(domain.WorkflowEvent{
			LoanID:   entry.LoanID,
			TenantID: tenantID,
			ToStage:  entry.CurrentStage,
			EntryID:  entry.ID,
		})
		if err != nil {
			continue
		}
		if err := w.bus.Publish(ctx, tenantID, domain.TopicWorkflowOverdue, payload); err != nil {
			slog.Error("failed to publish overdue event",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	if flagged > 0 {
		slog.Info("overdue stages flagged",
			"tenant_id", tenantID,
			"count", flagged,
		)
	}
	return flagged
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
