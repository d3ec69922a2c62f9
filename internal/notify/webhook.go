// Package notify delivers outbound messages to the chat transport over
// a webhook. The transport owns rendering and delivery to the user;
// this package only ships the payload each flow state needs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nbarak/shekelbot/internal/model"
)

// Webhook posts JSON payloads to the configured chat-transport URL. It
// implements both the run-summary Notifier and the resolution-flow
// Presenter.
type Webhook struct {
	httpClient *http.Client
	url        string
}

// NewWebhook creates a webhook sender.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Notify delivers a plain-text run summary.
func (w *Webhook) Notify(ctx context.Context, message string) error {
	return w.send(ctx, map[string]any{
		"type": "summary",
		"text": message,
	})
}

type transactionPayload struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Account     string  `json:"account"`
	Amount      float64 `json:"amount"`
}

func txnPayload(txn model.Transaction) transactionPayload {
	return transactionPayload{
		ID:          txn.ID,
		Date:        txn.Date.Format("2006-01-02"),
		Description: txn.Description,
		Account:     txn.Account,
		Amount:      txn.Amount,
	}
}

// PresentChoices asks the user for the transaction type and entity.
func (w *Webhook) PresentChoices(ctx context.Context, txn model.Transaction) error {
	return w.send(ctx, map[string]any{
		"type":        "choices",
		"transaction": txnPayload(txn),
		"entities": []model.Entity{
			model.EntityHousehold,
			model.EntityBusinessA,
			model.EntityBusinessB,
			model.EntityShared,
		},
	})
}

type categoryPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PresentCategories shows one page of the category list.
func (w *Webhook) PresentCategories(ctx context.Context, txn model.Transaction, categories []model.Category, page, totalPages int) error {
	payload := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		payload = append(payload, categoryPayload{ID: category.ID, Name: category.Name})
	}
	return w.send(ctx, map[string]any{
		"type":        "categories",
		"transaction": txnPayload(txn),
		"categories":  payload,
		"page":        page,
		"total_pages": totalPages,
	})
}

// PresentIgnoreConfirm asks the user to confirm ignoring the
// transaction.
func (w *Webhook) PresentIgnoreConfirm(ctx context.Context, txn model.Transaction) error {
	return w.send(ctx, map[string]any{
		"type":        "ignore_confirm",
		"transaction": txnPayload(txn),
	})
}

// PresentResolved reports a completed classification.
func (w *Webhook) PresentResolved(ctx context.Context, txn model.Transaction, result model.ClassificationResult) error {
	return w.send(ctx, map[string]any{
		"type":        "resolved",
		"transaction": txnPayload(txn),
		"category":    result.CategoryID,
		"entity":      result.Entity,
		"rule":        result.RuleID,
	})
}

// PresentIgnored reports a transaction marked ignored.
func (w *Webhook) PresentIgnored(ctx context.Context, txn model.Transaction) error {
	return w.send(ctx, map[string]any{
		"type":        "ignored",
		"transaction": txnPayload(txn),
	})
}

// PresentError surfaces a failure with a retryable prompt.
func (w *Webhook) PresentError(ctx context.Context, txn model.Transaction, message string) error {
	return w.send(ctx, map[string]any{
		"type":        "error",
		"transaction": txnPayload(txn),
		"text":        message,
	})
}

func (w *Webhook) send(ctx context.Context, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook error: %d - %s", resp.StatusCode, string(detail))
	}
	return nil
}
