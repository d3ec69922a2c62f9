package model

import "time"

// RuleConfidence is a classification rule's trust level.
type RuleConfidence string

const (
	// ConfidenceAutomatic marks a freshly learned rule.
	ConfidenceAutomatic RuleConfidence = "automatic"
	// ConfidenceConfirmed marks a rule promoted after repeated use.
	ConfidenceConfirmed RuleConfidence = "confirmed"
)

// RulePromotionThreshold is the use count at which a rule's confidence
// is promoted from automatic to confirmed.
const RulePromotionThreshold = 5

// Rule matches transaction descriptions against a learned pattern and
// maps them to a category and owning entity.
type Rule struct {
	CreatedAt  time.Time
	ID         string
	Pattern    string
	CategoryID string
	Entity     Entity
	Type       CategoryType
	Confidence RuleConfidence
	CreatedBy  string
	UseCount   int
}
