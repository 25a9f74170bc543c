/**
 * @description
 * Sentinel errors for the ledger service's business rules. Validation,
 * authorization and not-found conditions are all detected before any balance
 * mutation, so callers receiving one of these can assume no partial state
 * exists.
 */

package app

import "errors"

var (
	ErrMissingField           = errors.New("required field is missing")
	ErrAmountNotPositive      = errors.New("amount must be a positive number")
	ErrCurrencyNotAllowed     = errors.New("currency is not allowed")
	ErrCurrencyMismatch       = errors.New("sender and receiver account currencies must match")
	ErrSameAccount            = errors.New("source and destination accounts must differ")
	ErrNotAccountOwner        = errors.New("account does not belong to the requester")
	ErrDestinationNotExternal = errors.New("destination account belongs to this bank; use an internal transfer")
	ErrRateLimited            = errors.New("too many transfer requests")
	ErrAccountNumberExhausted = errors.New("could not allocate a unique account number")
)

// errSettlementChannelUnavailable is raised when an external transfer is
// requested while no settlement publisher is wired, so the hold is reversed
// the same way a failed handoff would be.
var errSettlementChannelUnavailable = errors.New("settlement channel unavailable")
