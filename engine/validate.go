package engine

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// validate is a single shared validator instance — the package's own
// documentation recommends caching it rather than constructing one per
// call, since struct tag parsing is memoized per type the first time it's
// seen.
var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validateInst = validator.New() })
	return validateInst
}

// validateRequest runs struct-tag validation on a request DTO and, on
// failure, wraps the result in ErrValidation so callers can use
// errors.Is(err, engine.ErrValidation) regardless of which field failed.
func validateRequest(req any) error {
	if err := validatorInstance().Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
