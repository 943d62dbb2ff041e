package fault

import (
	"errors"
	"fmt"
)

// Category classifies why an engine operation was rejected. Callers that need
// to distinguish retry-worthy conditions from permanent rejections branch on
// the category; callers that need the precise cause unwrap to the module
// sentinel underneath.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryCapacity      Category = "capacity"
	CategoryState         Category = "state"
	CategoryOracle        Category = "oracle"
	CategoryAuthorization Category = "authorization"
)

// Fault wraps a module sentinel error with its category and the operation
// that rejected it. Every public engine entry point returns either nil or a
// Fault; no partial state mutation precedes one.
type Fault struct {
	Category Category
	Op       string
	Err      error
}

func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Category)
	}
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Category: category, Op: op, Err: err}
}

// Validation marks rejections caused by malformed input: unknown assets, zero
// or negative amounts, unknown positions.
func Validation(op string, err error) error { return wrap(CategoryValidation, op, err) }

// Capacity marks rejections caused by exhausted limits: mint caps, reserve
// shortfalls, per-asset deposit caps.
func Capacity(op string, err error) error { return wrap(CategoryCapacity, op, err) }

// State marks rejections caused by the current lifecycle state: active
// cooldowns, closed positions, health factors outside the required band.
func State(op string, err error) error { return wrap(CategoryState, op, err) }

// Oracle marks rejections caused by unusable price data: stale quotes or a
// tripped deviation latch.
func Oracle(op string, err error) error { return wrap(CategoryOracle, op, err) }

// Authorization marks rejections of callers lacking the required capability
// or role.
func Authorization(op string, err error) error { return wrap(CategoryAuthorization, op, err) }

// CategoryOf extracts the category from an error chain. The second return is
// false when no Fault is present in the chain.
func CategoryOf(err error) (Category, bool) {
	var f *Fault
	if errors.As(err, &f) && f != nil {
		return f.Category, true
	}
	return "", false
}

// Is reports whether the error chain carries the given category.
func Is(err error, category Category) bool {
	got, ok := CategoryOf(err)
	return ok && got == category
}
