package cart

import "errors"

var (
	// ErrProductNotFound is returned in strict mode when an operation names a
	// product that is not in the cart.
	ErrProductNotFound = errors.New("product not found in cart")

	// ErrInvalidQuantity is returned in strict mode when AddItem receives a
	// quantity below 1.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrInvalidProduct is returned in strict mode when AddItem receives no
	// product or one without an id.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrPersistenceUnavailable wraps slot read and write failures. The
	// in-memory cart stays valid when it is returned.
	ErrPersistenceUnavailable = errors.New("cart persistence unavailable")
)
