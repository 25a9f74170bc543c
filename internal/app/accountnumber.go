/**
 * @description
 * Account number allocation. Numbers are the bank prefix followed by six
 * random digits; the keyspace is small enough that collisions are expected
 * and must be retried against the store's uniqueness guarantee rather than
 * assumed away.
 */

package app

import (
	"fmt"
	"math/rand"
)

// maxAllocationAttempts bounds the retry loop when generated numbers collide
// with existing accounts. Past this the error surfaces as a storage failure.
const maxAllocationAttempts = 5

// AccountNumberAllocator generates bank-prefixed account numbers.
type AccountNumberAllocator struct {
	prefix string
}

// NewAccountNumberAllocator creates an allocator for the given bank prefix.
func NewAccountNumberAllocator(prefix string) *AccountNumberAllocator {
	return &AccountNumberAllocator{prefix: prefix}
}

// Prefix returns the bank prefix this allocator stamps onto account numbers.
func (a *AccountNumberAllocator) Prefix() string {
	return a.prefix
}

// Generate produces a candidate account number. Uniqueness is only decided by
// the store; callers must retry on a collision.
func (a *AccountNumberAllocator) Generate() string {
	return fmt.Sprintf("%s%06d", a.prefix, 100000+rand.Intn(900000))
}
