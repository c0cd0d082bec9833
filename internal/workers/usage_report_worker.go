package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"github.com/hashicorp/go-multierror"
)

// ActiveUserLister lists users that own at least one billable ad account.
type ActiveUserLister interface {
	ListUsersWithActiveSubscriptions(ctx context.Context) ([]string, error)
}

// UsageBiller pushes one user's active-account count to Stripe.
type UsageBiller interface {
	ReportUsage(ctx context.Context, userID string) (billing.UsageReport, error)
}

// UsageReportStats summarizes one pass.
type UsageReportStats struct {
	Users    int
	Reported int
	Skipped  int
	Failed   int
}

// UsageReportWorker periodically reports metered usage for every user with
// active ad-account subscriptions.
type UsageReportWorker struct {
	Users    ActiveUserLister
	Billing  UsageBiller
	Interval time.Duration // default: 1 hour
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

func (w *UsageReportWorker) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Start runs one pass immediately and then one per interval until ctx is done.
func (w *UsageReportWorker) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Interval = time.Hour
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.logf("[UsageReportWorker] started (interval=%s)", w.Interval)
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logf("[UsageReportWorker] stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *UsageReportWorker) runOnce(ctx context.Context) {
	stats, err := w.ReportAll(ctx)
	if err != nil {
		w.logf("[UsageReportWorker] error: %v", err)
	}
	if stats.Users > 0 {
		w.logf("[UsageReportWorker] users=%d reported=%d skipped=%d failed=%d",
			stats.Users, stats.Reported, stats.Skipped, stats.Failed)
	}
}

// ReportAll reports usage for every active user. Users without a metered item
// are skipped; other failures are collected and returned together.
func (w *UsageReportWorker) ReportAll(ctx context.Context) (UsageReportStats, error) {
	var stats UsageReportStats
	users, err := w.Users.ListUsersWithActiveSubscriptions(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active users: %w", err)
	}
	stats.Users = len(users)

	var result *multierror.Error
	for _, userID := range users {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}
		_, err := w.Billing.ReportUsage(ctx, userID)
		switch {
		case err == nil:
			stats.Reported++
			w.Metrics.UsageReport("ok")
		case errors.Is(err, billing.ErrNoUsageSubscription):
			stats.Skipped++
			w.Metrics.UsageReport("skipped")
		default:
			stats.Failed++
			w.Metrics.UsageReport("error")
			result = multierror.Append(result, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return stats, result.ErrorOrNil()
}
