// Package runner drives the scheduled ingestion and classification
// jobs and reports run summaries.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/service"
)

// Ingester runs one scrape pass over all configured accounts.
type Ingester interface {
	ScrapeAll(ctx context.Context) []model.ScrapeResult
}

// Classifier feeds pending transactions through the decision chain.
type Classifier interface {
	PendingTransactions(ctx context.Context) ([]model.Transaction, error)
	Classify(ctx context.Context, txn model.Transaction) model.ClassificationResult
}

// Resolver opens manual resolution flows for unclassifiable
// transactions.
type Resolver interface {
	Begin(ctx context.Context, txn model.Transaction) error
	Active(transactionID string) bool
}

// ScrapeSummary aggregates one ingestion run.
type ScrapeSummary struct {
	Accounts        int
	Failed          int
	NewTransactions int
	Errors          []string
}

func (s ScrapeSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scrape run: %d/%d accounts succeeded, %d new transactions",
		s.Accounts-s.Failed, s.Accounts, s.NewTransactions)
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n  - %s", e)
	}
	return b.String()
}

// ClassifySummary aggregates one classification run.
type ClassifySummary struct {
	Processed      int
	AutoClassified int
	SentToReview   int
	Errors         []string
}

func (s ClassifySummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classification run: %d processed, %d auto-classified, %d sent to review",
		s.Processed, s.AutoClassified, s.SentToReview)
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n  - %s", e)
	}
	return b.String()
}

// Runner guards each job with an in-flight flag so overlapping triggers
// are skipped rather than queued.
type Runner struct {
	ingester   Ingester
	classifier Classifier
	resolver   Resolver
	notifier   service.Notifier

	scraping    atomic.Bool
	classifying atomic.Bool
}

// New creates a runner. notifier may be nil to silence summaries.
func New(ingester Ingester, classifier Classifier, resolver Resolver, notifier service.Notifier) *Runner {
	return &Runner{
		ingester:   ingester,
		classifier: classifier,
		resolver:   resolver,
		notifier:   notifier,
	}
}

// RunScrape executes one ingestion run. Returns ErrAlreadyRunning when
// a scrape is already in flight.
func (r *Runner) RunScrape(ctx context.Context) (ScrapeSummary, error) {
	if !r.scraping.CompareAndSwap(false, true) {
		return ScrapeSummary{}, fmt.Errorf("%w: scrape", common.ErrAlreadyRunning)
	}
	defer r.scraping.Store(false)

	results := r.ingester.ScrapeAll(ctx)

	summary := ScrapeSummary{Accounts: len(results)}
	for _, result := range results {
		if !result.Success {
			summary.Failed++
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("%s: %v", result.Account, result.Err))
			continue
		}
		summary.NewTransactions += len(result.NewTransactions)
	}

	slog.Info("Scrape run finished",
		"accounts", summary.Accounts,
		"failed", summary.Failed,
		"new_transactions", summary.NewTransactions)
	r.notify(ctx, summary.String())
	return summary, nil
}

// RunClassify executes one classification run over all pending
// transactions. Unclassifiable transactions get a resolution flow
// opened, skipping transactions already mid-flow. Returns
// ErrAlreadyRunning when a run is already in flight.
func (r *Runner) RunClassify(ctx context.Context) (ClassifySummary, error) {
	if !r.classifying.CompareAndSwap(false, true) {
		return ClassifySummary{}, fmt.Errorf("%w: classify", common.ErrAlreadyRunning)
	}
	defer r.classifying.Store(false)

	pending, err := r.classifier.PendingTransactions(ctx)
	if err != nil {
		return ClassifySummary{}, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	var summary ClassifySummary
	for _, txn := range pending {
		summary.Processed++

		result := r.classifier.Classify(ctx, txn)
		if result.Success {
			summary.AutoClassified++
			continue
		}

		if r.resolver.Active(txn.ID) {
			continue
		}
		if err := r.resolver.Begin(ctx, txn); err != nil {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("%s: %v", txn.ID, err))
			continue
		}
		summary.SentToReview++
	}

	slog.Info("Classification run finished",
		"processed", summary.Processed,
		"auto_classified", summary.AutoClassified,
		"sent_to_review", summary.SentToReview)
	r.notify(ctx, summary.String())
	return summary, nil
}

// Schedule blocks, firing the scrape and classify jobs daily at the
// given local "HH:MM" times, until the context is cancelled.
func (r *Runner) Schedule(ctx context.Context, scrapeAt, classifyAt string) error {
	scrapeHour, scrapeMinute, err := parseClock(scrapeAt)
	if err != nil {
		return fmt.Errorf("invalid scrape schedule: %w", err)
	}
	classifyHour, classifyMinute, err := parseClock(classifyAt)
	if err != nil {
		return fmt.Errorf("invalid classify schedule: %w", err)
	}

	go r.daily(ctx, scrapeHour, scrapeMinute, "scrape", func(ctx context.Context) error {
		_, err := r.RunScrape(ctx)
		return err
	})
	go r.daily(ctx, classifyHour, classifyMinute, "classify", func(ctx context.Context) error {
		_, err := r.RunClassify(ctx)
		return err
	})

	<-ctx.Done()
	return ctx.Err()
}

func (r *Runner) daily(ctx context.Context, hour, minute int, name string, job func(context.Context) error) {
	for {
		wait := untilNext(time.Now(), hour, minute)
		slog.Info("Next scheduled run", "job", name, "in", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := job(ctx); err != nil {
			slog.Error("Scheduled run failed", "job", name, "error", err)
		}
	}
}

// untilNext returns the duration from now to the next occurrence of the
// given wall-clock time, always in the future.
func untilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func (r *Runner) notify(ctx context.Context, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, message); err != nil {
		slog.Warn("Failed to deliver run summary", "error", err)
	}
}
