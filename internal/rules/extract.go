package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Transactional lead-ins that carry no merchant information.
var knownPrefixes = []string{
	"הוראת קבע",
	"תשלום",
	"העברה",
	"חיוב",
	"זיכוי",
	"משיכה",
	"payment",
	"transfer",
	"pos",
}

// Currency markers that appear next to amounts.
var currencyTokens = map[string]bool{
	"₪":    true,
	"ש\"ח": true,
	"שח":   true,
	"nis":  true,
	"ils":  true,
	"$":    true,
	"usd":  true,
	"€":    true,
	"eur":  true,
}

var (
	datePattern   = regexp.MustCompile(`\d{1,2}[./-]\d{1,2}(?:[./-]\d{2,4})?`)
	amountPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// ExtractPattern derives a matching pattern from a transaction
// description: strip transactional prefixes, dates, amounts, and
// currency markers, then keep the whole cleaned string when short or
// its first 3–5 tokens when long.
func ExtractPattern(description string) string {
	cleaned := strings.TrimSpace(description)

	// Strip leading transactional prefixes, repeatedly in case of
	// stacked lead-ins ("תשלום העברה ...").
	for {
		stripped := false
		lower := strings.ToLower(cleaned)
		for _, prefix := range knownPrefixes {
			if strings.HasPrefix(lower, prefix) {
				cleaned = strings.TrimSpace(cleaned[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	cleaned = datePattern.ReplaceAllString(cleaned, " ")
	cleaned = amountPattern.ReplaceAllString(cleaned, " ")

	tokens := strings.Fields(cleaned)
	kept := tokens[:0]
	for _, token := range tokens {
		if currencyTokens[strings.ToLower(token)] {
			continue
		}
		kept = append(kept, token)
	}
	cleaned = strings.Join(kept, " ")

	length := utf8.RuneCountInString(cleaned)
	if length < 15 {
		return cleaned
	}

	tokenCount := 3
	switch {
	case length >= 40:
		tokenCount = 5
	case length >= 25:
		tokenCount = 4
	}
	if tokenCount > len(kept) {
		tokenCount = len(kept)
	}
	return strings.Join(kept[:tokenCount], " ")
}
