// Package scraper defines the account-scraping capability and its backends.
package scraper

import (
	"context"
	"time"

	"github.com/nbarak/shekelbot/internal/model"
)

// Request asks a backend to scrape one account from a start date.
type Request struct {
	StartDate   time.Time
	Credentials map[string]string
	Company     model.CompanyType
}

// RawTransaction is a provider-reported transaction before sign
// normalization and hashing.
type RawTransaction struct {
	Date          time.Time
	Description   string
	Type          string // "normal", "installments", "credit", ...
	ChargedAmount float64
}

// RawAccount is one sub-account's scrape output.
type RawAccount struct {
	Balance       *float64
	AccountNumber string
	Transactions  []RawTransaction
}

// Result is a successful scrape of one credential set.
type Result struct {
	Accounts []RawAccount
}

// Adapter is the scraping capability. Implementations wrap one backend
// family (the bridge sidecar, Plaid) behind the same contract.
type Adapter interface {
	Scrape(ctx context.Context, req Request) (*Result, error)
}

// Selector picks the adapter for a company type.
type Selector interface {
	AdapterFor(company model.CompanyType) (Adapter, error)
}
