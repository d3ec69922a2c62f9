// Package classify runs the layered classification chain over pending
// transactions: invoice match, ledger match, learned rules, and finally
// manual resolution.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

// InvoiceMatcher is the invoice layer. A nil matcher disables the layer.
type InvoiceMatcher interface {
	Match(ctx context.Context, txn model.Transaction) (*model.InvoiceMatch, error)
}

// LedgerMatcher is the per-business ledger layer. A nil matcher
// disables the layer.
type LedgerMatcher interface {
	Match(ctx context.Context, txn model.Transaction) (*model.LedgerMatch, error)
}

// RuleEngine is the learned-rules layer.
type RuleEngine interface {
	FindMatchingRule(ctx context.Context, description, userID string) (*model.Rule, error)
	IncrementUsage(ctx context.Context, ruleID string) error
	CreateFromManualClassification(ctx context.Context, description, categoryID string, entity model.Entity, txType model.CategoryType, userID string) (string, error)
}

// Orchestrator drives the four-layer decision chain.
type Orchestrator struct {
	store   service.RecordStore
	invoice InvoiceMatcher
	ledger  LedgerMatcher
	rules   RuleEngine
}

// New creates an orchestrator. Pass nil for disabled matcher layers.
func New(recordStore service.RecordStore, invoice InvoiceMatcher, ledger LedgerMatcher, ruleEngine RuleEngine) *Orchestrator {
	return &Orchestrator{
		store:   recordStore,
		invoice: invoice,
		ledger:  ledger,
		rules:   ruleEngine,
	}
}

// Classify runs the decision chain for one transaction, short-circuiting
// on the first successful layer. Layer errors are absorbed as "no
// match" so one matcher's transient failure never blocks the rest of
// the chain. An exhausted chain returns method "failed", which routes
// the transaction to manual resolution.
func (o *Orchestrator) Classify(ctx context.Context, txn model.Transaction) model.ClassificationResult {
	if txn.IsIncome() && o.invoice != nil {
		match, err := o.invoice.Match(ctx, txn)
		switch {
		case err != nil:
			slog.Warn("Invoice layer failed, continuing chain",
				"transaction", txn.ID, "error", err)
		case match != nil:
			result, applyErr := o.applyIncomeMatch(ctx, txn, match.Entity, model.MethodInvoice, map[string]string{
				"document":     match.DocumentID,
				"customer":     match.CustomerName,
				"tax_included": fmt.Sprintf("%t", match.TaxIncluded),
			})
			if applyErr != nil {
				slog.Warn("Failed to apply invoice match, continuing chain",
					"transaction", txn.ID, "error", applyErr)
			} else {
				return result
			}
		}
	}

	if txn.IsIncome() && o.ledger != nil {
		match, err := o.ledger.Match(ctx, txn)
		switch {
		case err != nil:
			slog.Warn("Ledger layer failed, continuing chain",
				"transaction", txn.ID, "error", err)
		case match != nil:
			result, applyErr := o.applyIncomeMatch(ctx, txn, match.Entity, model.MethodLedger, map[string]string{
				"client": match.ClientName,
			})
			if applyErr != nil {
				slog.Warn("Failed to apply ledger match, continuing chain",
					"transaction", txn.ID, "error", applyErr)
			} else {
				return result
			}
		}
	}

	rule, err := o.rules.FindMatchingRule(ctx, txn.Description, txn.UserID)
	switch {
	case err != nil:
		slog.Warn("Rule layer failed", "transaction", txn.ID, "error", err)
	case rule != nil:
		result, applyErr := o.applyRule(ctx, txn, rule)
		if applyErr != nil {
			slog.Warn("Failed to apply rule match",
				"transaction", txn.ID, "rule", rule.ID, "error", applyErr)
		} else {
			return result
		}
	}

	return model.ClassificationResult{Method: model.MethodFailed}
}

// applyIncomeMatch links the transaction to the first active income
// category for the matched entity. The catalog keeps one primary income
// category per entity at the top of the table.
func (o *Orchestrator) applyIncomeMatch(ctx context.Context, txn model.Transaction, entity model.Entity, method model.ClassificationMethod, metadata map[string]string) (model.ClassificationResult, error) {
	category, err := o.incomeCategoryFor(ctx, entity)
	if err != nil {
		return model.ClassificationResult{}, err
	}

	if _, err := o.store.Create(ctx, store.TableIncome, store.LinkFields(txn, category.ID, entity)); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to create income record: %w", err)
	}

	err = o.store.Update(ctx, store.TableTransactions, txn.ID, map[string]any{
		store.TxFieldStatus:   string(model.StatusAutoClassified),
		store.TxFieldCategory: category.ID,
		store.TxFieldEntity:   string(entity),
	})
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to update transaction: %w", err)
	}

	return model.ClassificationResult{
		Success:    true,
		Method:     method,
		CategoryID: category.ID,
		Entity:     entity,
		Confidence: model.ConfidenceConfirmed,
		Metadata:   metadata,
	}, nil
}

func (o *Orchestrator) applyRule(ctx context.Context, txn model.Transaction, rule *model.Rule) (model.ClassificationResult, error) {
	table := store.TableExpenses
	if rule.Type == model.CategoryTypeIncome {
		table = store.TableIncome
	}

	if _, err := o.store.Create(ctx, table, store.LinkFields(txn, rule.CategoryID, rule.Entity)); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to create %s record: %w", table, err)
	}

	err := o.store.Update(ctx, store.TableTransactions, txn.ID, map[string]any{
		store.TxFieldStatus:   string(model.StatusAutoClassified),
		store.TxFieldCategory: rule.CategoryID,
		store.TxFieldEntity:   string(rule.Entity),
		store.TxFieldRule:     rule.ID,
	})
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := o.rules.IncrementUsage(ctx, rule.ID); err != nil {
		// The transaction is already classified; a failed counter bump
		// only delays promotion.
		slog.Warn("Failed to increment rule usage", "rule", rule.ID, "error", err)
	}

	return model.ClassificationResult{
		Success:    true,
		Method:     model.MethodRule,
		CategoryID: rule.CategoryID,
		Entity:     rule.Entity,
		Confidence: rule.Confidence,
		RuleID:     rule.ID,
	}, nil
}

// ManualClassify applies a human decision to a transaction, optionally
// learning a rule from its description. Missing transactions or
// categories are explicit failures surfaced to the caller.
func (o *Orchestrator) ManualClassify(ctx context.Context, transactionID, categoryID string, entity model.Entity, txType model.CategoryType, userID string, createRule bool) (model.ClassificationResult, error) {
	txnRec, err := o.store.Find(ctx, store.TableTransactions, transactionID)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("%w: %s", common.ErrTransactionNotFound, transactionID)
	}
	txn := store.TransactionFromRecord(*txnRec)

	catRec, err := o.store.Find(ctx, store.TableCategories, categoryID)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("%w: %s", common.ErrCategoryNotFound, categoryID)
	}
	category := store.CategoryFromRecord(*catRec)

	table := store.TableExpenses
	if txType == model.CategoryTypeIncome {
		table = store.TableIncome
	}
	if _, err := o.store.Create(ctx, table, store.LinkFields(txn, category.ID, entity)); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to create %s record: %w", table, err)
	}

	ruleID := ""
	if createRule {
		ruleID, err = o.rules.CreateFromManualClassification(ctx, txn.Description, category.ID, entity, txType, userID)
		if err != nil {
			slog.Warn("Failed to learn rule from manual classification",
				"transaction", transactionID, "error", err)
			ruleID = ""
		}
	}

	fields := map[string]any{
		store.TxFieldStatus:   string(model.StatusManuallyClassified),
		store.TxFieldCategory: category.ID,
		store.TxFieldEntity:   string(entity),
	}
	if ruleID != "" {
		fields[store.TxFieldRule] = ruleID
	}
	if err := o.store.Update(ctx, store.TableTransactions, transactionID, fields); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("failed to update transaction: %w", err)
	}

	return model.ClassificationResult{
		Success:    true,
		Method:     model.MethodManual,
		CategoryID: category.ID,
		Entity:     entity,
		Confidence: model.ConfidenceConfirmed,
		RuleID:     ruleID,
	}, nil
}

// PendingTransactions lists transactions awaiting classification, most
// recent first.
func (o *Orchestrator) PendingTransactions(ctx context.Context) ([]model.Transaction, error) {
	records, err := o.store.Query(ctx, store.TableTransactions, service.Query{
		Filter:    service.Filter{}.Where(store.TxFieldStatus, service.OpEq, string(model.StatusPending)),
		SortField: store.TxFieldDate,
		SortDesc:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}

	txns := make([]model.Transaction, 0, len(records))
	for _, rec := range records {
		txns = append(txns, store.TransactionFromRecord(rec))
	}
	return txns, nil
}

// incomeCategoryFor returns the first active income category visible to
// the entity (entity-tagged or shared catalog entries).
func (o *Orchestrator) incomeCategoryFor(ctx context.Context, entity model.Entity) (*model.Category, error) {
	records, err := o.store.Query(ctx, store.TableCategories, service.Query{
		Filter: service.Filter{}.Where(store.CatFieldType, service.OpEq, string(model.CategoryTypeIncome)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}

	for _, rec := range records {
		category := store.CategoryFromRecord(rec)
		if !category.IsActive {
			continue
		}
		if category.Entity == entity || category.Entity == "" {
			return &category, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrNoActiveCategory, entity)
}
