package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/nbarak/shekelbot/internal/model"
)

// Console writes styled output to a terminal. It satisfies the
// run-summary Notifier so CLI runs render locally instead of posting to
// the chat webhook.
type Console struct {
	w io.Writer
}

// NewConsole creates a console sink.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Notify renders a run summary in a box.
func (c *Console) Notify(_ context.Context, message string) error {
	_, err := fmt.Fprintln(c.w, RenderBox("Run Summary", message))
	return err
}

// TransactionLine renders one transaction for list output.
func TransactionLine(txn model.Transaction) string {
	amount := SuccessStyle.Render(fmt.Sprintf("%+.2f", txn.Amount))
	if txn.Amount < 0 {
		amount = ErrorStyle.Render(fmt.Sprintf("%.2f", txn.Amount))
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		SubtleStyle.Render(txn.Date.Format("2006-01-02")),
		amount,
		BoldStyle.Render(txn.Description),
		SubtleStyle.Render(txn.Account))
}

// RuleLine renders one classification rule for list output.
func RuleLine(rule model.Rule) string {
	confidence := SubtleStyle.Render(string(rule.Confidence))
	if rule.Confidence == model.ConfidenceConfirmed {
		confidence = SuccessStyle.Render(string(rule.Confidence))
	}
	return fmt.Sprintf("%s  %s  %s  uses=%d  %s",
		BoldStyle.Render(rule.Pattern),
		rule.CategoryID,
		SubtleStyle.Render(string(rule.Entity)),
		rule.UseCount,
		confidence)
}
