// Package invoice matches income transactions against documents in the
// external invoicing system.
package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/nbarak/shekelbot/internal/model"
)

const (
	dateWindowDays  = 7
	amountTolerance = 0.01 // Invoices are exact; allow 1% for fees/rounding
)

// Config holds the invoicing API configuration. A missing api key or
// company id disables the layer rather than failing startup.
type Config struct {
	APIKey    string
	CompanyID string
	BaseURL   string
	Entity    model.Entity // Business the invoicing account belongs to
}

// Enabled reports whether the layer has enough configuration to run.
func (c *Config) Enabled() bool {
	return c.APIKey != "" && c.CompanyID != ""
}

// Client queries the invoicing API for documents matching a transaction.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	companyID  string
	entity     model.Entity
}

// NewClient creates an invoicing API client.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("invoice matcher requires api key and company id")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sumit.co.il"
	}
	entity := cfg.Entity
	if entity == "" {
		entity = model.EntityBusinessA
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		companyID: cfg.CompanyID,
		entity:    entity,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type apiCredentials struct {
	CompanyID string `json:"CompanyID"`
	APIKey    string `json:"APIKey"`
}

type searchRequest struct {
	Credentials apiCredentials `json:"Credentials"`
	DateFrom    string         `json:"DateFrom"`
	DateTo      string         `json:"DateTo"`
}

type document struct {
	DocumentID   string  `json:"DocumentID"`
	Date         string  `json:"Date"`
	CustomerName string  `json:"CustomerName"`
	TotalAmount  float64 `json:"TotalAmount"`
}

type searchResponse struct {
	Data struct {
		Documents []document `json:"Documents"`
	} `json:"Data"`
	UserErrorMessage string `json:"UserErrorMessage"`
	Success          bool   `json:"Success"`
}

type detailsRequest struct {
	Credentials apiCredentials `json:"Credentials"`
	DocumentID  string         `json:"DocumentID"`
}

type detailsResponse struct {
	Data struct {
		Items []struct {
			PriceIncludesTax bool `json:"PriceIncludesTax"`
		} `json:"Items"`
	} `json:"Data"`
	Success bool `json:"Success"`
}

// Match looks for an invoice within ±7 days and ±1% of the transaction
// amount. Among multiple candidates the one with the closest date wins.
// Returns (nil, nil) when nothing matches.
func (c *Client) Match(ctx context.Context, txn model.Transaction) (*model.InvoiceMatch, error) {
	from := txn.Date.AddDate(0, 0, -dateWindowDays)
	to := txn.Date.AddDate(0, 0, dateWindowDays)

	docs, err := c.searchDocuments(ctx, from, to)
	if err != nil {
		return nil, err
	}

	tolerance := txn.Amount * amountTolerance
	var best *document
	var bestDistance time.Duration
	for i, doc := range docs {
		if math.Abs(doc.TotalAmount-txn.Amount) > tolerance {
			continue
		}
		docDate, parseErr := time.Parse("2006-01-02", doc.Date)
		if parseErr != nil {
			slog.Warn("Skipping document with unparseable date",
				"document", doc.DocumentID,
				"date", doc.Date)
			continue
		}
		distance := txn.Date.Sub(docDate)
		if distance < 0 {
			distance = -distance
		}
		if best == nil || distance < bestDistance {
			best = &docs[i]
			bestDistance = distance
		}
	}
	if best == nil {
		return nil, nil
	}

	return &model.InvoiceMatch{
		DocumentID:   best.DocumentID,
		CustomerName: best.CustomerName,
		Entity:       c.entity,
		Amount:       best.TotalAmount,
		TaxIncluded:  c.documentTaxIncluded(ctx, best.DocumentID),
	}, nil
}

func (c *Client) searchDocuments(ctx context.Context, from, to time.Time) ([]document, error) {
	req := searchRequest{
		Credentials: apiCredentials{CompanyID: c.companyID, APIKey: c.apiKey},
		DateFrom:    from.Format("2006-01-02"),
		DateTo:      to.Format("2006-01-02"),
	}

	var resp searchResponse
	if err := c.post(ctx, "/accounting/documents/search", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("invoice search failed: %s", resp.UserErrorMessage)
	}
	return resp.Data.Documents, nil
}

// documentTaxIncluded inspects line-item detail to decide whether the
// document's price includes tax. Any lookup failure falls back to
// "tax included".
func (c *Client) documentTaxIncluded(ctx context.Context, documentID string) bool {
	req := detailsRequest{
		Credentials: apiCredentials{CompanyID: c.companyID, APIKey: c.apiKey},
		DocumentID:  documentID,
	}

	var resp detailsResponse
	if err := c.post(ctx, "/accounting/documents/details", req, &resp); err != nil {
		slog.Warn("Document detail lookup failed, assuming tax included",
			"document", documentID,
			"error", err)
		return true
	}
	if !resp.Success || len(resp.Data.Items) == 0 {
		return true
	}

	for _, item := range resp.Data.Items {
		if !item.PriceIncludesTax {
			return false
		}
	}
	return true
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoice API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("invoice API error: %d - %s", resp.StatusCode, string(detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
