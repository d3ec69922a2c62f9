package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/service"
)

// PlaidConfig holds the Plaid application credentials. The per-account
// access token travels in the scrape request's credential payload.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *PlaidConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client id is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("%w: plaid environment must be sandbox or production", common.ErrInvalidConfig)
	}
	return nil
}

// PlaidAdapter implements Adapter against the Plaid API.
type PlaidAdapter struct {
	client    *plaid.APIClient
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// NewPlaidAdapter creates a Plaid-backed scraper.
func NewPlaidAdapter(cfg PlaidConfig) (*PlaidAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &PlaidAdapter{
		client: plaid.NewAPIClient(configuration),
		logger: slog.Default().With("component", "plaid"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// Scrape fetches all transactions for the account behind the access
// token, paginating through Plaid's result set.
func (a *PlaidAdapter) Scrape(ctx context.Context, req Request) (*Result, error) {
	accessToken := req.Credentials["access_token"]
	if accessToken == "" {
		return nil, fmt.Errorf("%w: plaid credentials missing access_token", common.ErrInvalidAccount)
	}

	endDate := time.Now()
	var allTransactions []plaid.Transaction
	var accounts []plaid.AccountBase
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				accessToken,
				req.StartDate.Format("2006-01-02"),
				endDate.Format("2006-01-02"),
			)
			options := plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			}
			request.SetOptions(options)

			resp, _, err := a.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				if plaidError := extractPlaidError(err); plaidError != nil {
					if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
						a.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
						return &common.RetryableError{Err: err, Retryable: true}
					}
					return fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
				}
				return fmt.Errorf("failed to fetch transactions: %w", err)
			}

			page = resp.GetTransactions()
			accounts = resp.GetAccounts()
			return nil
		}, a.retryOpts)

		if retryErr != nil {
			return nil, retryErr
		}

		allTransactions = append(allTransactions, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	a.logger.Debug("Fetched Plaid transactions", "count", len(allTransactions))

	byAccount := make(map[string][]RawTransaction)
	for _, pt := range allTransactions {
		date, err := time.Parse("2006-01-02", pt.GetDate())
		if err != nil {
			a.logger.Warn("Skipping transaction with unparseable date", "date", pt.GetDate())
			continue
		}

		// Plaid reports positive amounts for money out, negative for
		// money in; map that onto the bridge's charge/credit types so
		// the ingestion engine normalizes both backends the same way.
		amount := pt.GetAmount()
		txType := "normal"
		if amount < 0 {
			txType = "credit"
			amount = -amount
		}

		accountID := pt.GetAccountId()
		byAccount[accountID] = append(byAccount[accountID], RawTransaction{
			Date:          date,
			Description:   pt.GetName(),
			Type:          txType,
			ChargedAmount: amount,
		})
	}

	result := &Result{}
	for _, acc := range accounts {
		raw := RawAccount{
			AccountNumber: acc.GetAccountId(),
			Transactions:  byAccount[acc.GetAccountId()],
		}
		if balances := acc.GetBalances(); balances.Current.IsSet() {
			if current := balances.Current.Get(); current != nil {
				balance := *current
				raw.Balance = &balance
			}
		}
		result.Accounts = append(result.Accounts, raw)
	}

	return result, nil
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// Ensure PlaidAdapter implements the Adapter interface.
var _ Adapter = (*PlaidAdapter)(nil)
