package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/dashboard"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/metrics"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/search"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

// ReconcileWorker periodically recomputes the cached company metrics from
// the stored ledgers and reindexes purchasable projects.
type ReconcileWorker struct {
	cron      *cron.Cron
	companies companies.Repository
	projects  projects.Repository
	// index is nil when search is not configured.
	index   search.Index
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.Mutex
}

// ReconcileStats summarises one run.
type ReconcileStats struct {
	Companies int
	Updated   int
	// Conflicted companies changed during the run and are retried next time.
	Conflicted int
	Reindexed  int
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(companyRepo companies.Repository, projectRepo projects.Repository, index search.Index, timeout time.Duration, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		cron:      cron.New(cron.WithSeconds()),
		companies: companyRepo,
		projects:  projectRepo,
		index:     index,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the reconciliation and runs it once immediately.
func (w *ReconcileWorker) Start(ctx context.Context, schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() { w.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	w.logger.Info("Starting reconcile worker", zap.String("schedule", schedule))
	w.cron.Start()
	go w.runOnce(ctx)
	return nil
}

// Stop stops scheduling and waits for a running reconciliation.
func (w *ReconcileWorker) Stop() {
	<-w.cron.Stop().Done()
	w.mu.Lock()
	defer w.mu.Unlock()
}

func (w *ReconcileWorker) runOnce(parent context.Context) {
	if !w.mu.TryLock() {
		w.logger.Warn("Previous reconciliation still running, skipping")
		return
	}
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	start := time.Now()
	stats, err := w.Reconcile(ctx)
	metrics.RecordReconcile(err == nil, time.Since(start))
	if err != nil {
		w.logger.Error("Reconciliation failed", zap.Error(err))
		return
	}
	w.logger.Info("Reconciliation complete",
		zap.Int("companies", stats.Companies),
		zap.Int("updated", stats.Updated),
		zap.Int("conflicted", stats.Conflicted),
		zap.Int("reindexed", stats.Reindexed),
		zap.Duration("duration", time.Since(start)))
}

// Reconcile rewrites every company whose stored metrics drifted from its
// ledger. Stored credit statuses are used as-is.
func (w *ReconcileWorker) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	all, err := w.companies.List(ctx, companies.ListFilter{WithLedger: true})
	if err != nil {
		return stats, fmt.Errorf("failed to list companies: %w", err)
	}
	stats.Companies = len(all)

	for i := range all {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		company := &all[i]

		updated := LedgerMetrics(company.PurchasedCredits)
		var verifier *companies.VerifierMetrics
		if company.Type == companies.TypeSeller {
			count, issued, err := w.projects.SellerTotals(ctx, company.CompanyID)
			if err != nil {
				w.logger.Warn("Failed to total seller projects", zap.String("company_id", company.CompanyID), zap.Error(err))
				continue
			}
			v := companies.VerifierMetrics{}
			if company.VerifierMetrics != nil {
				v = *company.VerifierMetrics
			}
			v.TotalProjects = count
			v.CreditsIssued = money.Tons(issued)
			if company.VerifierMetrics == nil || v != *company.VerifierMetrics {
				verifier = &v
			}
		}

		if updated == company.Metrics && verifier == nil {
			continue
		}
		err := w.companies.ReplaceMetrics(ctx, company.CompanyID, company.Version, updated, verifier)
		if errors.Is(err, companies.ErrVersionConflict) {
			w.logger.Info("Company changed during reconciliation, deferring", zap.String("company_id", company.CompanyID))
			stats.Conflicted++
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to replace metrics", zap.String("company_id", company.CompanyID), zap.Error(err))
			continue
		}
		stats.Updated++
	}

	if w.index != nil {
		available, err := w.projects.ListAvailable(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to list projects for reindex: %w", err)
		}
		for i := range available {
			if err := w.index.Upsert(ctx, &available[i]); err != nil {
				w.logger.Warn("Failed to reindex project", zap.String("project_id", available[i].ProjectID), zap.Error(err))
				continue
			}
			stats.Reindexed++
		}
	}

	return stats, nil
}

// LedgerMetrics derives the buyer metrics from purchased credits, including
// the invested total.
func LedgerMetrics(credits []ledger.PurchasedCredit) companies.Metrics {
	var invested float64
	for _, c := range credits {
		invested = money.AddUSD(invested, money.Cost(c.PricePerTonUsd, c.Tons))
	}
	return dashboard.RefreshMetrics(credits, invested)
}
