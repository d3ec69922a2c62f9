package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/rules"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

type mockInvoice struct {
	match *model.InvoiceMatch
	err   error
	calls int
}

func (m *mockInvoice) Match(context.Context, model.Transaction) (*model.InvoiceMatch, error) {
	m.calls++
	return m.match, m.err
}

type mockLedger struct {
	match *model.LedgerMatch
	err   error
	calls int
}

func (m *mockLedger) Match(context.Context, model.Transaction) (*model.LedgerMatch, error) {
	m.calls++
	return m.match, m.err
}

func seedCategory(t *testing.T, s *store.MemoryStore, name string, catType model.CategoryType, entity model.Entity, active bool) string {
	t.Helper()
	id, err := s.Create(context.Background(), store.TableCategories, map[string]any{
		store.CatFieldName:   name,
		store.CatFieldType:   string(catType),
		store.CatFieldEntity: string(entity),
		store.CatFieldActive: active,
	})
	require.NoError(t, err)
	return id
}

func seedTxn(t *testing.T, s *store.MemoryStore, txn model.Transaction) model.Transaction {
	t.Helper()
	txn.Status = model.StatusPending
	if txn.Hash == "" {
		txn.Hash = txn.GenerateHash()
	}
	id, err := s.Create(context.Background(), store.TableTransactions, store.TransactionFields(txn))
	require.NoError(t, err)
	txn.ID = id
	return txn
}

func incomeTxn() model.Transaction {
	return model.Transaction{
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Description: "העברה מלקוח",
		Account:     "Hapoalim Checking",
		UserID:      "u1",
		Amount:      3510,
	}
}

func expenseTxn() model.Transaction {
	return model.Transaction{
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Description: "coffee house tlv",
		Account:     "Isracard",
		UserID:      "u1",
		Amount:      -18.5,
	}
}

func TestClassifyInvoiceLayerShortCircuits(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Client Income", model.CategoryTypeIncome, model.EntityBusinessA, true)

	invoiceMock := &mockInvoice{match: &model.InvoiceMatch{
		DocumentID:   "doc-1",
		CustomerName: "Acme",
		Entity:       model.EntityBusinessA,
		Amount:       3510,
		TaxIncluded:  true,
	}}
	ledgerMock := &mockLedger{}
	orchestrator := New(s, invoiceMock, ledgerMock, rules.New(s))

	txn := seedTxn(t, s, incomeTxn())
	result := orchestrator.Classify(context.Background(), txn)

	require.True(t, result.Success)
	assert.Equal(t, model.MethodInvoice, result.Method)
	assert.Equal(t, categoryID, result.CategoryID)
	assert.Equal(t, model.EntityBusinessA, result.Entity)
	assert.Equal(t, 0, ledgerMock.calls, "later layers must not run after a match")

	// Transaction is updated and an income record created.
	rec, err := s.Find(context.Background(), store.TableTransactions, txn.ID)
	require.NoError(t, err)
	updated := store.TransactionFromRecord(*rec)
	assert.Equal(t, model.StatusAutoClassified, updated.Status)
	assert.Equal(t, categoryID, updated.CategoryID)

	income, err := s.Query(context.Background(), store.TableIncome, service.Query{})
	require.NoError(t, err)
	require.Len(t, income, 1)
	assert.Equal(t, txn.ID, income[0].Fields[store.LinkFieldTransaction])
	assert.Equal(t, 3510.0, income[0].Fields[store.LinkFieldAmount])
}

func TestClassifyFallsThroughToLedger(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategory(t, s, "Client Income", model.CategoryTypeIncome, model.EntityBusinessB, true)

	invoiceMock := &mockInvoice{} // no match
	ledgerMock := &mockLedger{match: &model.LedgerMatch{
		ClientName: "Globex",
		Entity:     model.EntityBusinessB,
		Amount:     3500,
	}}
	orchestrator := New(s, invoiceMock, ledgerMock, rules.New(s))

	txn := seedTxn(t, s, incomeTxn())
	result := orchestrator.Classify(context.Background(), txn)

	require.True(t, result.Success)
	assert.Equal(t, model.MethodLedger, result.Method)
	assert.Equal(t, 1, invoiceMock.calls)
	assert.Equal(t, 1, ledgerMock.calls)
}

func TestClassifyExpenseSkipsIncomeLayers(t *testing.T) {
	s := store.NewMemoryStore()
	invoiceMock := &mockInvoice{}
	ledgerMock := &mockLedger{}
	orchestrator := New(s, invoiceMock, ledgerMock, rules.New(s))

	txn := seedTxn(t, s, expenseTxn())
	result := orchestrator.Classify(context.Background(), txn)

	assert.False(t, result.Success)
	assert.Equal(t, model.MethodFailed, result.Method)
	assert.Equal(t, 0, invoiceMock.calls)
	assert.Equal(t, 0, ledgerMock.calls)
}

func TestClassifyRuleLayer(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Food", model.CategoryTypeExpense, model.EntityHousehold, true)

	ruleEngine := rules.New(s)
	_, err := s.Create(context.Background(), store.TableRules, store.RuleFields(model.Rule{
		Pattern:    "coffee house",
		CategoryID: categoryID,
		Entity:     model.EntityHousehold,
		Type:       model.CategoryTypeExpense,
		Confidence: model.ConfidenceAutomatic,
		UseCount:   1,
		CreatedBy:  "u1",
		CreatedAt:  time.Now(),
	}))
	require.NoError(t, err)

	orchestrator := New(s, nil, nil, ruleEngine)

	txn := seedTxn(t, s, expenseTxn())
	result := orchestrator.Classify(context.Background(), txn)

	require.True(t, result.Success)
	assert.Equal(t, model.MethodRule, result.Method)
	assert.Equal(t, categoryID, result.CategoryID)
	assert.Equal(t, model.ConfidenceAutomatic, result.Confidence)
	assert.NotEmpty(t, result.RuleID)

	// Usage incremented.
	rec, err := s.Find(context.Background(), store.TableRules, result.RuleID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.RuleFromRecord(*rec).UseCount)
}

func TestClassifyAbsorbsLayerErrors(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Client Income", model.CategoryTypeIncome, model.EntityBusinessB, true)

	invoiceMock := &mockInvoice{err: errors.New("api down")}
	ledgerMock := &mockLedger{match: &model.LedgerMatch{
		ClientName: "Globex",
		Entity:     model.EntityBusinessB,
	}}
	orchestrator := New(s, invoiceMock, ledgerMock, rules.New(s))

	txn := seedTxn(t, s, incomeTxn())
	result := orchestrator.Classify(context.Background(), txn)

	require.True(t, result.Success)
	assert.Equal(t, model.MethodLedger, result.Method)
	assert.Equal(t, categoryID, result.CategoryID)
}

func TestClassifyExhaustedChainFails(t *testing.T) {
	s := store.NewMemoryStore()
	orchestrator := New(s, &mockInvoice{}, &mockLedger{}, rules.New(s))

	txn := seedTxn(t, s, incomeTxn())
	result := orchestrator.Classify(context.Background(), txn)

	assert.False(t, result.Success)
	assert.Equal(t, model.MethodFailed, result.Method)

	// The transaction stays pending for manual resolution.
	rec, err := s.Find(context.Background(), store.TableTransactions, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, store.TransactionFromRecord(*rec).Status)
}

func TestClassifyInactiveCategoryIsSkipped(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategory(t, s, "Old Income", model.CategoryTypeIncome, model.EntityBusinessA, false)
	activeID := seedCategory(t, s, "Income", model.CategoryTypeIncome, "", true)

	invoiceMock := &mockInvoice{match: &model.InvoiceMatch{Entity: model.EntityBusinessA}}
	orchestrator := New(s, invoiceMock, nil, rules.New(s))

	txn := seedTxn(t, s, incomeTxn())
	result := orchestrator.Classify(context.Background(), txn)

	require.True(t, result.Success)
	assert.Equal(t, activeID, result.CategoryID)
}

func TestManualClassifyCreatesRule(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Food", model.CategoryTypeExpense, model.EntityHousehold, true)
	ruleEngine := rules.New(s)
	orchestrator := New(s, nil, nil, ruleEngine)

	txn := seedTxn(t, s, expenseTxn())
	result, err := orchestrator.ManualClassify(context.Background(),
		txn.ID, categoryID, model.EntityHousehold, model.CategoryTypeExpense, "u1", true)
	require.NoError(t, err)

	require.True(t, result.Success)
	assert.Equal(t, model.MethodManual, result.Method)
	require.NotEmpty(t, result.RuleID)

	all, err := ruleEngine.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.ConfidenceAutomatic, all[0].Confidence)
	assert.Equal(t, 1, all[0].UseCount)

	rec, err := s.Find(context.Background(), store.TableTransactions, txn.ID)
	require.NoError(t, err)
	updated := store.TransactionFromRecord(*rec)
	assert.Equal(t, model.StatusManuallyClassified, updated.Status)
	assert.Equal(t, result.RuleID, updated.RuleID)
}

func TestManualClassifyWithoutRule(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Food", model.CategoryTypeExpense, model.EntityHousehold, true)
	ruleEngine := rules.New(s)
	orchestrator := New(s, nil, nil, ruleEngine)

	txn := seedTxn(t, s, expenseTxn())
	result, err := orchestrator.ManualClassify(context.Background(),
		txn.ID, categoryID, model.EntityHousehold, model.CategoryTypeExpense, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, result.RuleID)

	all, err := ruleEngine.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManualClassifyUnknownIDs(t *testing.T) {
	s := store.NewMemoryStore()
	categoryID := seedCategory(t, s, "Food", model.CategoryTypeExpense, model.EntityHousehold, true)
	orchestrator := New(s, nil, nil, rules.New(s))

	_, err := orchestrator.ManualClassify(context.Background(),
		"missing", categoryID, model.EntityHousehold, model.CategoryTypeExpense, "u1", false)
	assert.Error(t, err)

	txn := seedTxn(t, s, expenseTxn())
	_, err = orchestrator.ManualClassify(context.Background(),
		txn.ID, "missing", model.EntityHousehold, model.CategoryTypeExpense, "u1", false)
	assert.Error(t, err)
}

func TestPendingTransactionsSortedNewestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	orchestrator := New(s, nil, nil, rules.New(s))

	older := incomeTxn()
	older.Date = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := incomeTxn()
	newer.Date = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedTxn(t, s, older)
	seedTxn(t, s, newer)

	classified := incomeTxn()
	classified.Date = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	classified.Status = model.StatusAutoClassified
	_, err := s.Create(context.Background(), store.TableTransactions, store.TransactionFields(classified))
	require.NoError(t, err)

	pending, err := orchestrator.PendingTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Date.After(pending[1].Date))
}
