package scraper

import (
	"context"
	"sync"
)

// MockAdapter is a test double for the scraping capability.
type MockAdapter struct {
	ScrapeFunc func(ctx context.Context, req Request) (*Result, error)
	mu         sync.Mutex
	Requests   []Request
}

// Scrape records the request and delegates to ScrapeFunc.
func (m *MockAdapter) Scrape(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.ScrapeFunc != nil {
		return m.ScrapeFunc(ctx, req)
	}
	return &Result{}, nil
}

// CallCount returns how many times Scrape was invoked.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
