package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInactiveOrClosed      = errors.New("inactive or closed")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrConflict              = errors.New("conflict")
	ErrValidation            = errors.New("validation error")
)

// Kind is the stable, machine-readable name of an error category.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInactiveOrClosed      Kind = "inactive_or_closed"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindConflict              Kind = "conflict"
	KindValidation            Kind = "validation"
	KindInternal              Kind = "internal"
)

func (k Kind) String() string {
	return string(k)
}

// KindOf reports the category of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInactiveOrClosed):
		return KindInactiveOrClosed
	case errors.Is(err, ErrInsufficientInventory):
		return KindInsufficientInventory
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}
