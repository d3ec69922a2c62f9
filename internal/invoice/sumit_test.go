package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbarak/shekelbot/internal/model"
)

type fakeAPI struct {
	documents     []document
	detailsFail   bool
	taxedItems    map[string][]bool
	searchCalls   int
	detailCalls   int
	lastDateFrom  string
	lastDateTo    string
	failureStatus int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounting/documents/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls++
		if f.failureStatus != 0 {
			w.WriteHeader(f.failureStatus)
			return
		}
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastDateFrom = req.DateFrom
		f.lastDateTo = req.DateTo

		resp := searchResponse{Success: true}
		resp.Data.Documents = f.documents
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/accounting/documents/details", func(w http.ResponseWriter, r *http.Request) {
		f.detailCalls++
		if f.detailsFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req detailsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := detailsResponse{Success: true}
		for _, taxed := range f.taxedItems[req.DocumentID] {
			resp.Data.Items = append(resp.Data.Items, struct {
				PriceIncludesTax bool `json:"PriceIncludesTax"`
			}{PriceIncludesTax: taxed})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func testClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		APIKey:    "key",
		CompanyID: "co",
		BaseURL:   srv.URL,
		Entity:    model.EntityBusinessA,
	})
	require.NoError(t, err)
	return client
}

func incomeTxn(amount float64) model.Transaction {
	return model.Transaction{
		Date:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount: amount,
		UserID: "u1",
	}
}

func TestMatchPicksClosestDate(t *testing.T) {
	api := &fakeAPI{
		documents: []document{
			{DocumentID: "far", Date: "2024-03-09", CustomerName: "Acme", TotalAmount: 1000},
			{DocumentID: "near", Date: "2024-03-14", CustomerName: "Acme", TotalAmount: 1000},
			{DocumentID: "off-amount", Date: "2024-03-15", CustomerName: "Acme", TotalAmount: 1100},
		},
		taxedItems: map[string][]bool{"near": {true}},
	}
	client := testClient(t, api)

	match, err := client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "near", match.DocumentID)
	assert.Equal(t, model.EntityBusinessA, match.Entity)
	assert.True(t, match.TaxIncluded)

	// Search window is the transaction date ±7 days.
	assert.Equal(t, "2024-03-08", api.lastDateFrom)
	assert.Equal(t, "2024-03-22", api.lastDateTo)
}

func TestMatchToleratesOnePercent(t *testing.T) {
	api := &fakeAPI{
		documents: []document{
			{DocumentID: "doc", Date: "2024-03-15", TotalAmount: 1009},
		},
		taxedItems: map[string][]bool{"doc": {true}},
	}
	client := testClient(t, api)

	match, err := client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	require.NotNil(t, match, "0.9% difference is within tolerance")

	api.documents[0].TotalAmount = 1011
	match, err = client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	assert.Nil(t, match, "1.1% difference is outside tolerance")
}

func TestMatchNoCandidates(t *testing.T) {
	client := testClient(t, &fakeAPI{})

	match, err := client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatchSearchFailureIsError(t *testing.T) {
	client := testClient(t, &fakeAPI{failureStatus: http.StatusBadGateway})

	_, err := client.Match(context.Background(), incomeTxn(1000))
	assert.Error(t, err)
}

func TestTaxIncludedDefaultsTrueOnLookupFailure(t *testing.T) {
	api := &fakeAPI{
		documents: []document{
			{DocumentID: "doc", Date: "2024-03-15", TotalAmount: 1000},
		},
		detailsFail: true,
	}
	client := testClient(t, api)

	match, err := client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.True(t, match.TaxIncluded)
}

func TestTaxExcludedWhenAnyItemExcludesTax(t *testing.T) {
	api := &fakeAPI{
		documents: []document{
			{DocumentID: "doc", Date: "2024-03-15", TotalAmount: 1000},
		},
		taxedItems: map[string][]bool{"doc": {true, false}},
	}
	client := testClient(t, api)

	match, err := client.Match(context.Background(), incomeTxn(1000))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.False(t, match.TaxIncluded)
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
