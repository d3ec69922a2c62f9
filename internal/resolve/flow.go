// Package resolve implements the human-in-the-loop resolution flow for
// transactions the classification chain could not place. Flow state is
// process-local and volatile; a restart drops in-flight selections and
// the user restarts the flow for that transaction.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

// State names one step of the resolution flow.
type State string

const (
	StateAwaitingChoice        State = "awaiting-choice"
	StateAwaitingCategory      State = "awaiting-category"
	StateAwaitingIgnoreConfirm State = "awaiting-ignore-confirmation"
)

// CategoryPageSize is how many categories one rendered page holds.
const CategoryPageSize = 8

// ManualClassifier applies a human category decision to a transaction.
type ManualClassifier interface {
	ManualClassify(ctx context.Context, transactionID, categoryID string, entity model.Entity, txType model.CategoryType, userID string, createRule bool) (model.ClassificationResult, error)
}

// Presenter renders flow states on the external chat transport. Only
// the payload each state needs is defined here; formatting and message
// delivery belong to the transport.
type Presenter interface {
	PresentChoices(ctx context.Context, txn model.Transaction) error
	PresentCategories(ctx context.Context, txn model.Transaction, categories []model.Category, page, totalPages int) error
	PresentIgnoreConfirm(ctx context.Context, txn model.Transaction) error
	PresentResolved(ctx context.Context, txn model.Transaction, result model.ClassificationResult) error
	PresentIgnored(ctx context.Context, txn model.Transaction) error
	PresentError(ctx context.Context, txn model.Transaction, message string) error
}

type flow struct {
	txn    model.Transaction
	state  State
	txType model.CategoryType
	entity model.Entity
}

// Channel is the resolution state machine, keyed by transaction id.
type Channel struct {
	store      service.RecordStore
	classifier ManualClassifier
	presenter  Presenter
	mu         sync.Mutex
	flows      map[string]*flow
}

// NewChannel creates a resolution channel.
func NewChannel(recordStore service.RecordStore, classifier ManualClassifier, presenter Presenter) *Channel {
	return &Channel{
		store:      recordStore,
		classifier: classifier,
		presenter:  presenter,
		flows:      make(map[string]*flow),
	}
}

// Begin opens a flow for a transaction and presents the type/entity
// choices. Reopening an existing flow resets it to the initial state.
func (c *Channel) Begin(ctx context.Context, txn model.Transaction) error {
	c.mu.Lock()
	c.flows[txn.ID] = &flow{txn: txn, state: StateAwaitingChoice}
	c.mu.Unlock()

	return c.presenter.PresentChoices(ctx, txn)
}

// Choose records the type/entity selection and presents the first
// category page.
func (c *Channel) Choose(ctx context.Context, transactionID string, txType model.CategoryType, entity model.Entity) error {
	f, err := c.flowIn(transactionID, StateAwaitingChoice)
	if err != nil {
		return err
	}

	c.mu.Lock()
	f.txType = txType
	f.entity = entity
	f.state = StateAwaitingCategory
	c.mu.Unlock()

	return c.showCategories(ctx, f, 0)
}

// ChooseCategory applies the category decision. On success the flow is
// terminal and removed; on failure the flow stays in place so the user
// can retry the same selection.
func (c *Channel) ChooseCategory(ctx context.Context, transactionID, categoryID string, createRule bool) error {
	f, err := c.flowIn(transactionID, StateAwaitingCategory)
	if err != nil {
		return err
	}

	result, err := c.classifier.ManualClassify(ctx, transactionID, categoryID, f.entity, f.txType, f.txn.UserID, createRule)
	if err != nil {
		slog.Error("Manual classification failed", "transaction", transactionID, "error", err)
		return c.presenter.PresentError(ctx, f.txn, "Could not save the classification, please try again.")
	}

	c.mu.Lock()
	delete(c.flows, transactionID)
	c.mu.Unlock()

	return c.presenter.PresentResolved(ctx, f.txn, result)
}

// Ignore asks for confirmation before marking the transaction ignored.
func (c *Channel) Ignore(ctx context.Context, transactionID string) error {
	f, err := c.flowIn(transactionID, StateAwaitingChoice, StateAwaitingCategory)
	if err != nil {
		return err
	}

	c.mu.Lock()
	f.state = StateAwaitingIgnoreConfirm
	c.mu.Unlock()

	return c.presenter.PresentIgnoreConfirm(ctx, f.txn)
}

// ConfirmIgnore marks the transaction ignored and closes the flow.
func (c *Channel) ConfirmIgnore(ctx context.Context, transactionID string) error {
	f, err := c.flowIn(transactionID, StateAwaitingIgnoreConfirm)
	if err != nil {
		return err
	}

	err = c.store.Update(ctx, store.TableTransactions, transactionID, map[string]any{
		store.TxFieldStatus: string(model.StatusIgnored),
	})
	if err != nil {
		slog.Error("Failed to mark transaction ignored", "transaction", transactionID, "error", err)
		return c.presenter.PresentError(ctx, f.txn, "Could not ignore the transaction, please try again.")
	}

	c.mu.Lock()
	delete(c.flows, transactionID)
	c.mu.Unlock()

	return c.presenter.PresentIgnored(ctx, f.txn)
}

// CancelIgnore abandons the ignore prompt and restarts the flow from
// the initial choices.
func (c *Channel) CancelIgnore(ctx context.Context, transactionID string) error {
	f, err := c.flowIn(transactionID, StateAwaitingIgnoreConfirm)
	if err != nil {
		return err
	}
	return c.reset(ctx, f)
}

// Back discards accumulated choices and returns to the initial state.
func (c *Channel) Back(ctx context.Context, transactionID string) error {
	f, err := c.flowIn(transactionID, StateAwaitingCategory, StateAwaitingIgnoreConfirm)
	if err != nil {
		return err
	}
	return c.reset(ctx, f)
}

// Page re-renders the category list at the requested page. The page
// index travels in the callback, never in flow state.
func (c *Channel) Page(ctx context.Context, transactionID string, pageIndex int) error {
	f, err := c.flowIn(transactionID, StateAwaitingCategory)
	if err != nil {
		return err
	}
	return c.showCategories(ctx, f, pageIndex)
}

// Active reports whether a flow is open for the transaction.
func (c *Channel) Active(transactionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flows[transactionID]
	return ok
}

func (c *Channel) reset(ctx context.Context, f *flow) error {
	c.mu.Lock()
	f.txType = ""
	f.entity = ""
	f.state = StateAwaitingChoice
	c.mu.Unlock()

	return c.presenter.PresentChoices(ctx, f.txn)
}

func (c *Channel) showCategories(ctx context.Context, f *flow, pageIndex int) error {
	categories, err := c.categoriesFor(ctx, f.txType, f.entity)
	if err != nil {
		slog.Error("Failed to load categories", "transaction", f.txn.ID, "error", err)
		return c.presenter.PresentError(ctx, f.txn, "Could not load categories, please try again.")
	}
	if len(categories) == 0 {
		return c.presenter.PresentError(ctx, f.txn,
			fmt.Sprintf("No active %s categories for %s.", f.txType, f.entity))
	}

	totalPages := (len(categories) + CategoryPageSize - 1) / CategoryPageSize
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex >= totalPages {
		pageIndex = totalPages - 1
	}

	start := pageIndex * CategoryPageSize
	end := start + CategoryPageSize
	if end > len(categories) {
		end = len(categories)
	}

	return c.presenter.PresentCategories(ctx, f.txn, categories[start:end], pageIndex, totalPages)
}

// categoriesFor lists active categories of the given type visible to
// the entity, in store order.
func (c *Channel) categoriesFor(ctx context.Context, txType model.CategoryType, entity model.Entity) ([]model.Category, error) {
	records, err := c.store.Query(ctx, store.TableCategories, service.Query{
		Filter: service.Filter{}.Where(store.CatFieldType, service.OpEq, string(txType)),
	})
	if err != nil {
		return nil, err
	}

	var categories []model.Category
	for _, rec := range records {
		category := store.CategoryFromRecord(rec)
		if !category.IsActive {
			continue
		}
		if category.Entity != entity && category.Entity != "" {
			continue
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// flowIn fetches the flow for a transaction and checks it is in one of
// the allowed states.
func (c *Channel) flowIn(transactionID string, allowed ...State) (*flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNoPendingFlow, transactionID)
	}
	for _, state := range allowed {
		if f.state == state {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is %s", common.ErrInvalidFlowState, transactionID, f.state)
}
