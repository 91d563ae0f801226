package engine

import (
	"errors"
	"fmt"

	"github.com/ironmark/ledgerengine/invoice"
	"github.com/ironmark/ledgerengine/payment"
	"github.com/ironmark/ledgerengine/returns"
	"github.com/ironmark/ledgerengine/stock"
)

// Sentinel error kinds returned at the public boundary (§6/§7).
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrConflict           = errors.New("conflict")
	ErrLockTimeout        = errors.New("lock timeout")
	ErrBusinessRule       = errors.New("business rule violation")
	ErrInternal           = errors.New("internal error")
)

// classify maps an internal error from a component package onto one of the
// sentinel kinds above, so callers can use errors.Is against a single
// stable taxonomy regardless of which component raised the error. Errors
// of any other type are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *stock.ErrInsufficientStock
	if errors.As(err, &stockErr) {
		return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
	}
	var creditErr *payment.ErrInsufficientCredit
	if errors.As(err, &creditErr) {
		return fmt.Errorf("%w: %v", ErrInsufficientCredit, err)
	}
	var conflictErr *invoice.ConflictError
	if errors.As(err, &conflictErr) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var invBizErr *invoice.BusinessRuleError
	if errors.As(err, &invBizErr) {
		return fmt.Errorf("%w: %v", ErrBusinessRule, err)
	}
	var retBizErr *returns.BusinessRuleError
	if errors.As(err, &retBizErr) {
		return fmt.Errorf("%w: %v", ErrBusinessRule, err)
	}
	return err
}

// IsRetryable reports false for a LockTimeout error, because the engine
// already exhausted its internal retries for it and an immediate retry by
// the caller will not succeed; it reports true for any other error.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrLockTimeout)
}
