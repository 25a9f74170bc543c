/**
 * @description
 * Currency policy for the ledger. The bank operates a fixed set of account
 * currencies; internal transfers additionally require both sides to match.
 * There is no conversion anywhere in this service.
 */

package app

import "strings"

// DefaultAllowedCurrencies is the bank's supported currency set.
var DefaultAllowedCurrencies = []string{"EUR", "USD", "GBP"}

// CurrencyPolicy validates currencies against a fixed allowed set.
type CurrencyPolicy struct {
	allowed map[string]struct{}
}

// NewCurrencyPolicy builds a policy from the given currency codes. Codes are
// normalized to upper case. An empty list falls back to the default set.
func NewCurrencyPolicy(currencies []string) *CurrencyPolicy {
	if len(currencies) == 0 {
		currencies = DefaultAllowedCurrencies
	}
	allowed := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &CurrencyPolicy{allowed: allowed}
}

// IsAllowed reports whether the currency is in the allowed set.
func (p *CurrencyPolicy) IsAllowed(currency string) bool {
	_, ok := p.allowed[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// RequireMatch enforces the currency-matching rule for internal transfers.
func (p *CurrencyPolicy) RequireMatch(a, b string) error {
	if !strings.EqualFold(a, b) {
		return ErrCurrencyMismatch
	}
	return nil
}
