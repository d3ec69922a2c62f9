package model

import "time"

// Account is the per-source bookkeeping record: the last-successful
// scrape watermark and the most recently observed balance.
type Account struct {
	LastScraped *time.Time
	Balance     *float64
	ID          string
	Name        string
	UserID      string
}

// ScrapeResult is the per-account outcome of one ingestion run.
type ScrapeResult struct {
	Err             error
	Balance         *float64
	Account         string
	NewTransactions []Transaction
	Success         bool
}
