// Package ledger matches income transactions against per-business
// expected-payment ledgers kept in Google Sheets.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/nbarak/shekelbot/internal/model"
)

const (
	dateWindowDays = 7
	// Ledger rows are entered by hand; a wide 10% tolerance absorbs the
	// imprecision of the source data.
	amountTolerance = 0.10
)

// Business points at one business's expected-payments range.
type Business struct {
	Entity        model.Entity
	SpreadsheetID string
	ReadRange     string
}

// Config holds the ledger layer configuration. Missing auth or an empty
// business list disables the layer rather than failing startup.
type Config struct {
	ServiceAccountPath string
	Businesses         []Business
}

// Enabled reports whether the layer has enough configuration to run.
func (c *Config) Enabled() bool {
	return c.ServiceAccountPath != "" && len(c.Businesses) > 0
}

// Matcher reads expected payments from the per-business sheets.
type Matcher struct {
	svc        *sheets.Service
	businesses []Business
}

// NewMatcher creates a sheets-backed ledger matcher.
func NewMatcher(ctx context.Context, cfg Config) (*Matcher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ledger matcher requires service account and businesses")
	}

	tokenSource, err := serviceAccountTokenSource(ctx, cfg.ServiceAccountPath)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Matcher{svc: svc, businesses: cfg.Businesses}, nil
}

// serviceAccountTokenSource builds a read-only token source from a
// service account key file.
func serviceAccountTokenSource(ctx context.Context, path string) (oauth2.TokenSource, error) {
	jsonKey, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account key file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account key: %w", err)
	}

	return jwtConfig.TokenSource(ctx), nil
}

// Match scans each business ledger for an expected payment within
// ±7 days and ±10% of the transaction amount. The first candidate the
// range query returns wins; no closest-date tie-break is applied.
func (m *Matcher) Match(ctx context.Context, txn model.Transaction) (*model.LedgerMatch, error) {
	for _, business := range m.businesses {
		match, err := m.matchBusiness(ctx, business, txn)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}
	return nil, nil
}

func (m *Matcher) matchBusiness(ctx context.Context, business Business, txn model.Transaction) (*model.LedgerMatch, error) {
	resp, err := m.svc.Spreadsheets.Values.
		Get(business.SpreadsheetID, business.ReadRange).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", business.Entity, err)
	}

	from := txn.Date.AddDate(0, 0, -dateWindowDays)
	to := txn.Date.AddDate(0, 0, dateWindowDays)
	tolerance := txn.Amount * amountTolerance

	for _, row := range resp.Values {
		entry, ok := parseRow(row)
		if !ok {
			continue
		}
		if entry.date.Before(from) || entry.date.After(to) {
			continue
		}
		if math.Abs(entry.amount-txn.Amount) > tolerance {
			continue
		}
		return &model.LedgerMatch{
			ClientName: entry.client,
			Entity:     business.Entity,
			Amount:     entry.amount,
		}, nil
	}
	return nil, nil
}

type ledgerEntry struct {
	date   time.Time
	client string
	amount float64
}

// parseRow reads a (date, client, amount) row. Rows that don't parse
// (headers, notes) are skipped.
func parseRow(row []any) (ledgerEntry, bool) {
	if len(row) < 3 {
		return ledgerEntry{}, false
	}

	dateStr, _ := row[0].(string)
	client, _ := row[1].(string)
	amountStr := fmt.Sprintf("%v", row[2])

	date, ok := parseDate(dateStr)
	if !ok {
		return ledgerEntry{}, false
	}

	amountStr = strings.ReplaceAll(amountStr, ",", "")
	amount, err := strconv.ParseFloat(strings.TrimSpace(amountStr), 64)
	if err != nil {
		slog.Debug("Skipping ledger row with unparseable amount", "value", amountStr)
		return ledgerEntry{}, false
	}

	return ledgerEntry{date: date, client: client, amount: amount}, true
}

func parseDate(s string) (time.Time, bool) {
	layouts := []string{"2006-01-02", "02/01/2006", "2/1/2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
