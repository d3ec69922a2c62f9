package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/service"
)

// AirtableConfig holds the hosted record-store configuration.
type AirtableConfig struct {
	APIKey  string
	BaseID  string
	BaseURL string // Overridable for tests
}

// Validate ensures all required fields are present.
func (c *AirtableConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: airtable api key is required", common.ErrMissingConfig)
	}
	if c.BaseID == "" {
		return fmt.Errorf("%w: airtable base id is required", common.ErrMissingConfig)
	}
	return nil
}

// AirtableStore implements service.RecordStore against the Airtable
// REST API. Filters are compiled to formula expressions server-side.
type AirtableStore struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	baseID     string
}

// NewAirtableStore creates a hosted record-store client.
func NewAirtableStore(cfg AirtableConfig) (*AirtableStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.airtable.com/v0"
	}
	return &AirtableStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		baseID:  cfg.BaseID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type airtableRecord struct {
	Fields map[string]any `json:"fields"`
	ID     string         `json:"id,omitempty"`
}

type airtablePage struct {
	Offset  string           `json:"offset,omitempty"`
	Records []airtableRecord `json:"records"`
}

// Create inserts a single record and returns its id.
func (s *AirtableStore) Create(ctx context.Context, table string, fields map[string]any) (string, error) {
	ids, err := s.CreateBatch(ctx, table, []map[string]any{fields})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// CreateBatch inserts up to MaxBatchSize records in one call.
func (s *AirtableStore) CreateBatch(ctx context.Context, table string, batch []map[string]any) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > service.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds store limit of %d", len(batch), service.MaxBatchSize)
	}

	records := make([]airtableRecord, len(batch))
	for i, fields := range batch {
		records[i] = airtableRecord{Fields: fields}
	}

	var page airtablePage
	if err := s.do(ctx, http.MethodPost, s.tableURL(table), map[string]any{"records": records}, &page); err != nil {
		return nil, err
	}

	ids := make([]string, len(page.Records))
	for i, r := range page.Records {
		ids[i] = r.ID
	}
	return ids, nil
}

// Update patches the given fields on an existing record.
func (s *AirtableStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	body := map[string]any{
		"records": []airtableRecord{{ID: id, Fields: fields}},
	}
	return s.do(ctx, http.MethodPatch, s.tableURL(table), body, nil)
}

// Find fetches one record by id.
func (s *AirtableStore) Find(ctx context.Context, table, id string) (*service.Record, error) {
	var rec airtableRecord
	if err := s.do(ctx, http.MethodGet, s.tableURL(table)+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &service.Record{ID: rec.ID, Fields: rec.Fields}, nil
}

// Query lists records matching the filter, following pagination.
func (s *AirtableStore) Query(ctx context.Context, table string, q service.Query) ([]service.Record, error) {
	params := url.Values{}
	if formula := compileFormula(q.Filter); formula != "" {
		params.Set("filterByFormula", formula)
	}
	if q.SortField != "" {
		params.Set("sort[0][field]", q.SortField)
		direction := "asc"
		if q.SortDesc {
			direction = "desc"
		}
		params.Set("sort[0][direction]", direction)
	}
	if q.Limit > 0 {
		params.Set("maxRecords", strconv.Itoa(q.Limit))
	}

	var records []service.Record
	offset := ""
	for {
		if offset != "" {
			params.Set("offset", offset)
		}
		var page airtablePage
		if err := s.do(ctx, http.MethodGet, s.tableURL(table)+"?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			records = append(records, service.Record{ID: r.ID, Fields: r.Fields})
		}
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}
	return records, nil
}

// Destroy deletes records by id.
func (s *AirtableStore) Destroy(ctx context.Context, table string, ids ...string) error {
	for start := 0; start < len(ids); start += service.MaxBatchSize {
		end := start + service.MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		params := url.Values{}
		for _, id := range ids[start:end] {
			params.Add("records[]", id)
		}
		if err := s.do(ctx, http.MethodDelete, s.tableURL(table)+"?"+params.Encode(), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the HTTP backend.
func (s *AirtableStore) Close() error {
	return nil
}

func (s *AirtableStore) tableURL(table string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.baseID, url.PathEscape(table))
}

func (s *AirtableStore) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("record store request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{Err: common.ErrRateLimit, Retryable: true}
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("record store error: %d - %s", resp.StatusCode, string(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// compileFormula renders a filter as an Airtable formula expression.
func compileFormula(f service.Filter) string {
	if len(f.Conditions) == 0 {
		return ""
	}

	clauses := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		field := "{" + c.Field + "}"
		switch c.Op {
		case service.OpEq:
			clauses = append(clauses, fmt.Sprintf("%s=%s", field, formulaValue(c.Value)))
		case service.OpContains:
			clauses = append(clauses, fmt.Sprintf("FIND(LOWER(%s), LOWER(%s))", formulaValue(c.Value), field))
		case service.OpGTE:
			clauses = append(clauses, fmt.Sprintf("%s>=%s", field, formulaValue(c.Value)))
		case service.OpLTE:
			clauses = append(clauses, fmt.Sprintf("%s<=%s", field, formulaValue(c.Value)))
		}
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return "AND(" + strings.Join(clauses, ",") + ")"
}

func formulaValue(v any) string {
	switch n := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(n, "'", "\\'") + "'"
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case bool:
		if n {
			return "TRUE()"
		}
		return "FALSE()"
	default:
		return "''"
	}
}
