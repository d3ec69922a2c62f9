// Package rules owns the learned pattern-matching ruleset: matching,
// usage tracking, confidence promotion, and learning from manual
// classifications.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/service"
	"github.com/nbarak/shekelbot/internal/store"
)

const cacheTTL = 5 * time.Minute

// Engine matches transaction descriptions against the learned ruleset.
type Engine struct {
	store       service.RecordStore
	clock       func() time.Time
	cached      []model.Rule
	cacheExpiry time.Time
	mu          sync.Mutex
}

// New creates a rule engine backed by the record store.
func New(recordStore service.RecordStore) *Engine {
	return &Engine{
		store: recordStore,
		clock: time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// FindMatchingRule returns the best rule whose pattern is a
// case-insensitive substring of the description, or nil when nothing
// matches. Ranking: confirmed before automatic, then higher use count.
func (e *Engine) FindMatchingRule(ctx context.Context, description, userID string) (*model.Rule, error) {
	rules, err := e.rules(ctx)
	if err != nil {
		return nil, err
	}

	normalized := strings.ToLower(strings.TrimSpace(description))

	var matched []model.Rule
	for _, rule := range rules {
		if rule.CreatedBy != userID {
			continue
		}
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(normalized, pattern) {
			matched = append(matched, rule)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence == model.ConfidenceConfirmed
		}
		return matched[i].UseCount > matched[j].UseCount
	})

	best := matched[0]
	return &best, nil
}

// IncrementUsage bumps a rule's use count, promoting its confidence
// from automatic to confirmed when the count reaches the threshold.
// Promotion never regresses.
func (e *Engine) IncrementUsage(ctx context.Context, ruleID string) error {
	rec, err := e.store.Find(ctx, store.TableRules, ruleID)
	if err != nil {
		return fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	rule := store.RuleFromRecord(*rec)

	rule.UseCount++
	if rule.UseCount >= model.RulePromotionThreshold {
		rule.Confidence = model.ConfidenceConfirmed
	}

	err = e.store.Update(ctx, store.TableRules, ruleID, map[string]any{
		store.RuleFieldUseCount:   rule.UseCount,
		store.RuleFieldConfidence: string(rule.Confidence),
	})
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", ruleID, err)
	}

	e.invalidate()
	return nil
}

// CreateFromManualClassification learns a rule from a manually
// classified transaction. An existing rule with the same (pattern,
// category, entity) triple is reused and incremented instead of
// duplicated. Returns the rule id.
func (e *Engine) CreateFromManualClassification(ctx context.Context, description, categoryID string, entity model.Entity, txType model.CategoryType, userID string) (string, error) {
	pattern := ExtractPattern(description)
	if pattern == "" {
		return "", fmt.Errorf("no usable pattern in description %q", description)
	}

	existing, err := e.rules(ctx)
	if err != nil {
		return "", err
	}
	for _, rule := range existing {
		if strings.EqualFold(rule.Pattern, pattern) &&
			rule.CategoryID == categoryID &&
			rule.Entity == entity {
			if err := e.IncrementUsage(ctx, rule.ID); err != nil {
				return "", err
			}
			slog.Debug("Reusing existing rule", "rule", rule.ID, "pattern", pattern)
			return rule.ID, nil
		}
	}

	rule := model.Rule{
		Pattern:    pattern,
		CategoryID: categoryID,
		Entity:     entity,
		Type:       txType,
		Confidence: model.ConfidenceAutomatic,
		UseCount:   1,
		CreatedBy:  userID,
		CreatedAt:  e.clock(),
	}
	id, err := e.store.Create(ctx, store.TableRules, store.RuleFields(rule))
	if err != nil {
		return "", fmt.Errorf("failed to create rule: %w", err)
	}

	e.invalidate()
	slog.Info("Learned new classification rule", "pattern", pattern, "category", categoryID)
	return id, nil
}

// All returns every rule, through the cache.
func (e *Engine) All(ctx context.Context) ([]model.Rule, error) {
	return e.rules(ctx)
}

// rules returns the cached ruleset, refreshing it when the TTL has
// elapsed or a mutation invalidated it.
func (e *Engine) rules(ctx context.Context) ([]model.Rule, error) {
	e.mu.Lock()
	if e.cached != nil && e.clock().Before(e.cacheExpiry) {
		cached := e.cached
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	records, err := e.store.Query(ctx, store.TableRules, service.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rules := make([]model.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, store.RuleFromRecord(rec))
	}

	e.mu.Lock()
	e.cached = rules
	e.cacheExpiry = e.clock().Add(cacheTTL)
	e.mu.Unlock()

	return rules, nil
}

// invalidate drops the cache so the next read is fresh. Called on every
// mutation to keep ranking from seeing stale confidence/use counts.
func (e *Engine) invalidate() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}
