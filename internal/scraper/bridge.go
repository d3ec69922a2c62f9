package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nbarak/shekelbot/internal/common"
)

// BridgeClient talks to the bank-scraper sidecar over HTTP. The sidecar
// wraps the actual per-bank scraping drivers; this client only carries
// credentials, a start date, and the normalized response back.
type BridgeClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewBridgeClient creates a bridge scraper client.
func NewBridgeClient(baseURL string) (*BridgeClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: scraper bridge url is required", common.ErrMissingConfig)
	}
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Bank scrapes are slow
		},
	}, nil
}

type bridgeRequest struct {
	Credentials map[string]string `json:"credentials"`
	Company     string            `json:"companyId"`
	StartDate   string            `json:"startDate"`
}

type bridgeTransaction struct {
	Date          string  `json:"date"`
	Description   string  `json:"description"`
	Type          string  `json:"type"`
	ChargedAmount float64 `json:"chargedAmount"`
}

type bridgeAccount struct {
	Balance       *float64            `json:"balance,omitempty"`
	AccountNumber string              `json:"accountNumber"`
	Transactions  []bridgeTransaction `json:"txns"`
}

type bridgeResponse struct {
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Accounts     []bridgeAccount `json:"accounts"`
	Success      bool            `json:"success"`
}

// Scrape runs one scrape through the sidecar.
func (c *BridgeClient) Scrape(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(bridgeRequest{
		Company:     string(req.Company),
		Credentials: req.Credentials,
		StartDate:   req.StartDate.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Requesting scrape from bridge",
		"company", req.Company,
		"start_date", req.StartDate.Format("2006-01-02"))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrScrapeFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: bridge returned %d - %s", common.ErrScrapeFailed, resp.StatusCode, string(detail))
	}

	var decoded bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode bridge response: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("%w: %s", common.ErrScrapeFailed, decoded.ErrorMessage)
	}

	result := &Result{Accounts: make([]RawAccount, 0, len(decoded.Accounts))}
	for _, acc := range decoded.Accounts {
		raw := RawAccount{
			AccountNumber: acc.AccountNumber,
			Balance:       acc.Balance,
			Transactions:  make([]RawTransaction, 0, len(acc.Transactions)),
		}
		for _, tx := range acc.Transactions {
			date, err := time.Parse("2006-01-02", tx.Date)
			if err != nil {
				// Some drivers return full timestamps.
				date, err = time.Parse(time.RFC3339, tx.Date)
				if err != nil {
					slog.Warn("Skipping transaction with unparseable date",
						"date", tx.Date,
						"description", tx.Description)
					continue
				}
			}
			raw.Transactions = append(raw.Transactions, RawTransaction{
				Date:          date,
				Description:   tx.Description,
				Type:          tx.Type,
				ChargedAmount: tx.ChargedAmount,
			})
		}
		result.Accounts = append(result.Accounts, raw)
	}

	return result, nil
}
