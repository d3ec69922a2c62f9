package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbarak/shekelbot/internal/classify"
	"github.com/nbarak/shekelbot/internal/config"
	"github.com/nbarak/shekelbot/internal/creds"
	"github.com/nbarak/shekelbot/internal/ingest"
	"github.com/nbarak/shekelbot/internal/invoice"
	"github.com/nbarak/shekelbot/internal/ledger"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/notify"
	"github.com/nbarak/shekelbot/internal/resolve"
	"github.com/nbarak/shekelbot/internal/rules"
	"github.com/nbarak/shekelbot/internal/runner"
	"github.com/nbarak/shekelbot/internal/scraper"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

func openStore(cfg config.Config) (service.RecordStore, error) {
	switch cfg.Store.Backend {
	case "airtable":
		return store.NewAirtableStore(store.AirtableConfig{
			APIKey:  cfg.Store.APIKey,
			BaseID:  cfg.Store.BaseID,
			BaseURL: cfg.Store.BaseURL,
		})
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func buildIngester(cfg config.Config, recordStore service.RecordStore) (*ingest.Engine, error) {
	provider, err := creds.Load(cfg.Credentials.File, cfg.Credentials.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	factory := &scraper.Factory{}
	if cfg.Scraper.BridgeURL != "" {
		bridge, err := scraper.NewBridgeClient(cfg.Scraper.BridgeURL)
		if err != nil {
			return nil, err
		}
		factory.Bridge = bridge
	}
	plaidCfg := scraper.PlaidConfig{
		ClientID:    cfg.Scraper.Plaid.ClientID,
		Secret:      cfg.Scraper.Plaid.Secret,
		Environment: cfg.Scraper.Plaid.Environment,
	}
	if plaidCfg.ClientID != "" {
		plaidAdapter, err := scraper.NewPlaidAdapter(plaidCfg)
		if err != nil {
			return nil, err
		}
		factory.Plaid = plaidAdapter
	}

	return ingest.New(recordStore, factory, provider.Accounts()), nil
}

// buildOrchestrator assembles the classification chain. Invoice and
// ledger layers come up only when configured.
func buildOrchestrator(ctx context.Context, cfg config.Config, recordStore service.RecordStore) (*classify.Orchestrator, *rules.Engine, error) {
	var invoiceMatcher classify.InvoiceMatcher
	invoiceCfg := invoice.Config{
		APIKey:    cfg.Invoice.APIKey,
		CompanyID: cfg.Invoice.CompanyID,
		BaseURL:   cfg.Invoice.BaseURL,
		Entity:    model.Entity(cfg.Invoice.Entity),
	}
	if invoiceCfg.Enabled() {
		client, err := invoice.NewClient(invoiceCfg)
		if err != nil {
			return nil, nil, err
		}
		invoiceMatcher = client
	} else {
		slog.Info("Invoice layer disabled, missing configuration")
	}

	var ledgerMatcher classify.LedgerMatcher
	ledgerCfg := ledger.Config{ServiceAccountPath: cfg.Ledger.ServiceAccountPath}
	for _, business := range cfg.Ledger.Businesses {
		ledgerCfg.Businesses = append(ledgerCfg.Businesses, ledger.Business{
			Entity:        model.Entity(business.Entity),
			SpreadsheetID: business.SpreadsheetID,
			ReadRange:     business.ReadRange,
		})
	}
	if ledgerCfg.Enabled() {
		matcher, err := ledger.NewMatcher(ctx, ledgerCfg)
		if err != nil {
			return nil, nil, err
		}
		ledgerMatcher = matcher
	} else {
		slog.Info("Ledger layer disabled, missing configuration")
	}

	ruleEngine := rules.New(recordStore)
	return classify.New(recordStore, invoiceMatcher, ledgerMatcher, ruleEngine), ruleEngine, nil
}

func buildResolver(cfg config.Config, recordStore service.RecordStore, orchestrator *classify.Orchestrator) (*resolve.Channel, service.Notifier) {
	if cfg.Notify.WebhookURL == "" {
		slog.Warn("No notify webhook configured, resolution prompts will not be delivered")
		return resolve.NewChannel(recordStore, orchestrator, noopPresenter{}), nil
	}
	webhook := notify.NewWebhook(cfg.Notify.WebhookURL)
	return resolve.NewChannel(recordStore, orchestrator, webhook), webhook
}

func buildRunner(ingester *ingest.Engine, orchestrator *classify.Orchestrator, resolver *resolve.Channel, notifier service.Notifier) *runner.Runner {
	return runner.New(ingester, orchestrator, resolver, notifier)
}

// noopPresenter swallows render requests when no transport is
// configured. Flows still advance for local testing via the HTTP
// events.
type noopPresenter struct{}

func (noopPresenter) PresentChoices(context.Context, model.Transaction) error { return nil }
func (noopPresenter) PresentCategories(context.Context, model.Transaction, []model.Category, int, int) error {
	return nil
}
func (noopPresenter) PresentIgnoreConfirm(context.Context, model.Transaction) error { return nil }
func (noopPresenter) PresentResolved(context.Context, model.Transaction, model.ClassificationResult) error {
	return nil
}
func (noopPresenter) PresentIgnored(context.Context, model.Transaction) error      { return nil }
func (noopPresenter) PresentError(context.Context, model.Transaction, string) error { return nil }
