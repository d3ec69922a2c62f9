// Package ingest drives account scraping, normalization, deduplication,
// and persistence of new transactions.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/scraper"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

const (
	defaultLookbackDays = 30
	scrapeAttempts      = 3
)

// Engine ingests transactions from every configured account.
type Engine struct {
	store    service.RecordStore
	scrapers scraper.Selector
	clock    func() time.Time
	accounts []model.BankCredentials
}

// New creates an ingestion engine over the given credential sets.
func New(recordStore service.RecordStore, scrapers scraper.Selector, accounts []model.BankCredentials) *Engine {
	return &Engine{
		store:    recordStore,
		scrapers: scrapers,
		accounts: accounts,
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// ScrapeAll scrapes every configured account in configuration order.
// One account's failure never aborts the others; each account reports
// its own ScrapeResult.
func (e *Engine) ScrapeAll(ctx context.Context) []model.ScrapeResult {
	results := make([]model.ScrapeResult, 0, len(e.accounts))
	for _, cred := range e.accounts {
		result := e.scrapeAccount(ctx, cred)
		if result.Err != nil {
			slog.Error("Account scrape failed",
				"account", cred.Name,
				"error", result.Err)
		} else {
			slog.Info("Account scraped",
				"account", cred.Name,
				"new_transactions", len(result.NewTransactions))
		}
		results = append(results, result)
	}
	return results
}

func (e *Engine) scrapeAccount(ctx context.Context, cred model.BankCredentials) model.ScrapeResult {
	result := model.ScrapeResult{Account: cred.Name}

	account, err := e.ensureAccount(ctx, cred)
	if err != nil {
		result.Err = fmt.Errorf("failed to load account record: %w", err)
		return result
	}

	startDate := e.clock().AddDate(0, 0, -defaultLookbackDays)
	if account.LastScraped != nil {
		startDate = *account.LastScraped
	}

	adapter, err := e.scrapers.AdapterFor(cred.Company)
	if err != nil {
		result.Err = err
		return result
	}

	var scraped *scraper.Result
	attempt := 0
	err = common.WithRetry(ctx, func() error {
		attempt++
		r, scrapeErr := adapter.Scrape(ctx, scraper.Request{
			Company:     cred.Company,
			Credentials: cred.Payload,
			StartDate:   startDate,
		})
		if scrapeErr != nil {
			// Full error detail only on the first failure; retries log
			// the short form through WithRetry.
			if attempt == 1 {
				common.LogError(scrapeErr, "Scrape attempt failed", common.Fields{
					"account": cred.Name,
					"company": cred.Company,
				})
			}
			return scrapeErr
		}
		scraped = r
		return nil
	}, service.RetryOptions{
		MaxAttempts:  scrapeAttempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	})
	if err != nil {
		result.Err = err
		return result
	}

	candidates, balance := e.flatten(cred, scraped)

	inserted, err := e.insertNew(ctx, candidates)
	if err != nil {
		result.Err = fmt.Errorf("failed to persist transactions: %w", err)
		return result
	}

	if err := e.updateAccount(ctx, account.ID, balance); err != nil {
		result.Err = fmt.Errorf("failed to update account watermark: %w", err)
		return result
	}

	result.Success = true
	result.NewTransactions = inserted
	result.Balance = balance
	return result
}

// flatten applies the sub-account allow-list and converts raw
// transactions into normalized, hashed pending transactions.
func (e *Engine) flatten(cred model.BankCredentials, scraped *scraper.Result) ([]model.Transaction, *float64) {
	var candidates []model.Transaction
	var balance *float64

	for _, raw := range scraped.Accounts {
		if !cred.AllowsAccount(raw.AccountNumber) {
			slog.Debug("Skipping sub-account outside allow-list",
				"account", cred.Name,
				"sub_account", raw.AccountNumber)
			continue
		}
		if balance == nil && raw.Balance != nil {
			balance = raw.Balance
		}
		for _, tx := range raw.Transactions {
			txn := model.Transaction{
				Date:        tx.Date.Truncate(24 * time.Hour),
				Amount:      NormalizeAmount(tx.ChargedAmount, tx.Type),
				Description: tx.Description,
				Account:     cred.Name,
				UserID:      cred.UserID,
				Status:      model.StatusPending,
			}
			txn.Hash = txn.GenerateHash()
			candidates = append(candidates, txn)
		}
	}

	return candidates, balance
}

// insertNew filters out transactions whose content hash already exists
// in the store and batch-inserts the remainder as pending. Returns the
// inserted transactions with their store ids filled in.
func (e *Engine) insertNew(ctx context.Context, candidates []model.Transaction) ([]model.Transaction, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	// Duplicates share a date, so existing records at or after the
	// earliest candidate date cover every possible collision.
	minDate := candidates[0].Date
	userID := candidates[0].UserID
	for _, c := range candidates {
		if c.Date.Before(minDate) {
			minDate = c.Date
		}
	}

	existing, err := e.store.Query(ctx, store.TableTransactions, service.Query{
		Filter: service.Filter{}.
			Where(store.TxFieldUserID, service.OpEq, userID).
			Where(store.TxFieldDate, service.OpGTE, store.FormatDate(minDate)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query existing transactions: %w", err)
	}

	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[store.TransactionFromRecord(rec).Hash] = true
	}

	var fresh []model.Transaction
	for _, c := range candidates {
		if seen[c.Hash] {
			continue
		}
		seen[c.Hash] = true // Also collapses duplicates within the batch
		fresh = append(fresh, c)
	}

	if len(fresh) == 0 {
		return nil, nil
	}

	for start := 0; start < len(fresh); start += service.MaxBatchSize {
		end := start + service.MaxBatchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		batch := make([]map[string]any, 0, end-start)
		for _, txn := range fresh[start:end] {
			batch = append(batch, store.TransactionFields(txn))
		}
		ids, err := e.store.CreateBatch(ctx, store.TableTransactions, batch)
		if err != nil {
			return nil, err
		}
		for i, id := range ids {
			fresh[start+i].ID = id
		}
	}

	return fresh, nil
}

// ensureAccount loads the account record for a credential set, creating
// it lazily when absent.
func (e *Engine) ensureAccount(ctx context.Context, cred model.BankCredentials) (*model.Account, error) {
	records, err := e.store.Query(ctx, store.TableAccounts, service.Query{
		Filter: service.Filter{}.
			Where(store.AccFieldName, service.OpEq, cred.Name).
			Where(store.AccFieldUserID, service.OpEq, cred.UserID),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		account := store.AccountFromRecord(records[0])
		return &account, nil
	}

	account := model.Account{Name: cred.Name, UserID: cred.UserID}
	id, err := e.store.Create(ctx, store.TableAccounts, store.AccountFields(account))
	if err != nil {
		return nil, err
	}
	account.ID = id
	slog.Info("Created account record", "account", cred.Name)
	return &account, nil
}

func (e *Engine) updateAccount(ctx context.Context, accountID string, balance *float64) error {
	fields := map[string]any{
		store.AccFieldLastScraped: e.clock().Format(time.RFC3339),
	}
	if balance != nil {
		fields[store.AccFieldBalance] = *balance
	}
	return e.store.Update(ctx, store.TableAccounts, accountID, fields)
}

// NormalizeAmount converts a provider-reported amount into the signed
// convention: charges become negative expenses, everything else is
// positive income.
func NormalizeAmount(chargedAmount float64, txType string) float64 {
	abs := math.Abs(chargedAmount)
	switch txType {
	case "normal", "installments", "charge", "":
		return -abs
	default:
		return abs
	}
}

// Import persists externally sourced transactions (statement files)
// through the same hash-dedup path as scraping. Transactions must all
// belong to one user. Returns the number of newly inserted records.
func (e *Engine) Import(ctx context.Context, txns []model.Transaction) (int, error) {
	for i := range txns {
		txns[i].Status = model.StatusPending
		if txns[i].Hash == "" {
			txns[i].Hash = txns[i].GenerateHash()
		}
	}
	inserted, err := e.insertNew(ctx, txns)
	if err != nil {
		return 0, err
	}
	return len(inserted), nil
}
