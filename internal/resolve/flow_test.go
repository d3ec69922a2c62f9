package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/store"
)

// recordingPresenter captures every render request for assertions.
type recordingPresenter struct {
	events     []string
	categories []model.Category
	page       int
	totalPages int
	lastError  string
}

func (p *recordingPresenter) PresentChoices(_ context.Context, _ model.Transaction) error {
	p.events = append(p.events, "choices")
	return nil
}

func (p *recordingPresenter) PresentCategories(_ context.Context, _ model.Transaction, categories []model.Category, page, totalPages int) error {
	p.events = append(p.events, "categories")
	p.categories = categories
	p.page = page
	p.totalPages = totalPages
	return nil
}

func (p *recordingPresenter) PresentIgnoreConfirm(_ context.Context, _ model.Transaction) error {
	p.events = append(p.events, "ignore_confirm")
	return nil
}

func (p *recordingPresenter) PresentResolved(_ context.Context, _ model.Transaction, _ model.ClassificationResult) error {
	p.events = append(p.events, "resolved")
	return nil
}

func (p *recordingPresenter) PresentIgnored(_ context.Context, _ model.Transaction) error {
	p.events = append(p.events, "ignored")
	return nil
}

func (p *recordingPresenter) PresentError(_ context.Context, _ model.Transaction, message string) error {
	p.events = append(p.events, "error")
	p.lastError = message
	return nil
}

func (p *recordingPresenter) last() string {
	if len(p.events) == 0 {
		return ""
	}
	return p.events[len(p.events)-1]
}

type mockClassifier struct {
	err   error
	calls int
}

func (m *mockClassifier) ManualClassify(_ context.Context, transactionID, categoryID string, entity model.Entity, txType model.CategoryType, _ string, _ bool) (model.ClassificationResult, error) {
	m.calls++
	if m.err != nil {
		return model.ClassificationResult{}, m.err
	}
	return model.ClassificationResult{
		Success:    true,
		Method:     model.MethodManual,
		CategoryID: categoryID,
		Entity:     entity,
	}, nil
}

func pendingTxn(t *testing.T, s *store.MemoryStore) model.Transaction {
	t.Helper()
	txn := model.Transaction{
		Date:        time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Description: "mystery charge",
		Account:     "Isracard",
		UserID:      "u1",
		Amount:      -99,
		Status:      model.StatusPending,
	}
	txn.Hash = txn.GenerateHash()
	id, err := s.Create(context.Background(), store.TableTransactions, store.TransactionFields(txn))
	require.NoError(t, err)
	txn.ID = id
	return txn
}

func seedCategories(t *testing.T, s *store.MemoryStore, count int, catType model.CategoryType, entity model.Entity) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := s.Create(context.Background(), store.TableCategories, map[string]any{
			store.CatFieldName:   fmt.Sprintf("Category %02d", i),
			store.CatFieldType:   string(catType),
			store.CatFieldEntity: string(entity),
			store.CatFieldActive: true,
		})
		require.NoError(t, err)
	}
}

func TestFullResolutionFlow(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategories(t, s, 3, model.CategoryTypeExpense, model.EntityHousehold)
	presenter := &recordingPresenter{}
	classifier := &mockClassifier{}
	channel := NewChannel(s, classifier, presenter)

	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	assert.Equal(t, "choices", presenter.last())

	require.NoError(t, channel.Choose(context.Background(), txn.ID, model.CategoryTypeExpense, model.EntityHousehold))
	assert.Equal(t, "categories", presenter.last())
	assert.Len(t, presenter.categories, 3)
	assert.Equal(t, 1, presenter.totalPages)

	require.NoError(t, channel.ChooseCategory(context.Background(), txn.ID, "cat-1", true))
	assert.Equal(t, "resolved", presenter.last())
	assert.Equal(t, 1, classifier.calls)

	// The flow is closed; further events fail.
	err := channel.Back(context.Background(), txn.ID)
	assert.ErrorIs(t, err, common.ErrNoPendingFlow)
	assert.False(t, channel.Active(txn.ID))
}

func TestChooseRequiresOpenFlow(t *testing.T) {
	channel := NewChannel(store.NewMemoryStore(), &mockClassifier{}, &recordingPresenter{})

	err := channel.Choose(context.Background(), "nope", model.CategoryTypeExpense, model.EntityHousehold)
	assert.ErrorIs(t, err, common.ErrNoPendingFlow)
}

func TestChooseCategoryRequiresChoiceFirst(t *testing.T) {
	s := store.NewMemoryStore()
	channel := NewChannel(s, &mockClassifier{}, &recordingPresenter{})
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	err := channel.ChooseCategory(context.Background(), txn.ID, "cat-1", false)
	assert.ErrorIs(t, err, common.ErrInvalidFlowState)
}

func TestBackDiscardsChoices(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategories(t, s, 2, model.CategoryTypeExpense, model.EntityHousehold)
	presenter := &recordingPresenter{}
	channel := NewChannel(s, &mockClassifier{}, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Choose(context.Background(), txn.ID, model.CategoryTypeExpense, model.EntityHousehold))
	require.NoError(t, channel.Back(context.Background(), txn.ID))
	assert.Equal(t, "choices", presenter.last())

	// After back, a category pick is invalid until type/entity are
	// chosen again.
	err := channel.ChooseCategory(context.Background(), txn.ID, "cat-1", false)
	assert.ErrorIs(t, err, common.ErrInvalidFlowState)
}

func TestIgnoreFlow(t *testing.T) {
	s := store.NewMemoryStore()
	presenter := &recordingPresenter{}
	channel := NewChannel(s, &mockClassifier{}, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Ignore(context.Background(), txn.ID))
	assert.Equal(t, "ignore_confirm", presenter.last())

	require.NoError(t, channel.ConfirmIgnore(context.Background(), txn.ID))
	assert.Equal(t, "ignored", presenter.last())
	assert.False(t, channel.Active(txn.ID))

	rec, err := s.Find(context.Background(), store.TableTransactions, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, store.TransactionFromRecord(*rec).Status)
}

func TestCancelIgnoreReturnsToChoices(t *testing.T) {
	s := store.NewMemoryStore()
	presenter := &recordingPresenter{}
	channel := NewChannel(s, &mockClassifier{}, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Ignore(context.Background(), txn.ID))
	require.NoError(t, channel.CancelIgnore(context.Background(), txn.ID))
	assert.Equal(t, "choices", presenter.last())
	assert.True(t, channel.Active(txn.ID))

	rec, err := s.Find(context.Background(), store.TableTransactions, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, store.TransactionFromRecord(*rec).Status)
}

func TestClassifierFailureKeepsFlowForRetry(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategories(t, s, 1, model.CategoryTypeExpense, model.EntityHousehold)
	presenter := &recordingPresenter{}
	classifier := &mockClassifier{err: errors.New("store down")}
	channel := NewChannel(s, classifier, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Choose(context.Background(), txn.ID, model.CategoryTypeExpense, model.EntityHousehold))

	require.NoError(t, channel.ChooseCategory(context.Background(), txn.ID, "cat-1", false))
	assert.Equal(t, "error", presenter.last())
	assert.True(t, channel.Active(txn.ID))

	// Same selection succeeds once the store recovers.
	classifier.err = nil
	require.NoError(t, channel.ChooseCategory(context.Background(), txn.ID, "cat-1", false))
	assert.Equal(t, "resolved", presenter.last())
}

func TestPaginationIsStateless(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategories(t, s, 19, model.CategoryTypeExpense, model.EntityHousehold)
	presenter := &recordingPresenter{}
	channel := NewChannel(s, &mockClassifier{}, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Choose(context.Background(), txn.ID, model.CategoryTypeExpense, model.EntityHousehold))
	assert.Equal(t, 0, presenter.page)
	assert.Equal(t, 3, presenter.totalPages)
	assert.Len(t, presenter.categories, CategoryPageSize)

	require.NoError(t, channel.Page(context.Background(), txn.ID, 2))
	assert.Equal(t, 2, presenter.page)
	assert.Len(t, presenter.categories, 3)

	// Jumping backwards works because no page state is stored.
	require.NoError(t, channel.Page(context.Background(), txn.ID, 0))
	assert.Equal(t, 0, presenter.page)
	assert.Len(t, presenter.categories, CategoryPageSize)

	// Out-of-range pages clamp to the last page.
	require.NoError(t, channel.Page(context.Background(), txn.ID, 99))
	assert.Equal(t, 2, presenter.page)
}

func TestCategoryFilteringByEntity(t *testing.T) {
	s := store.NewMemoryStore()
	seedCategories(t, s, 2, model.CategoryTypeExpense, model.EntityHousehold)
	seedCategories(t, s, 3, model.CategoryTypeExpense, model.EntityBusinessA)
	seedCategories(t, s, 1, model.CategoryTypeExpense, "") // shared catalog entry
	presenter := &recordingPresenter{}
	channel := NewChannel(s, &mockClassifier{}, presenter)
	txn := pendingTxn(t, s)

	require.NoError(t, channel.Begin(context.Background(), txn))
	require.NoError(t, channel.Choose(context.Background(), txn.ID, model.CategoryTypeExpense, model.EntityHousehold))
	assert.Len(t, presenter.categories, 3)
}
