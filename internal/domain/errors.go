package domain

import "errors"

// Error classes shared across packages. Wrap them with fmt.Errorf("%w: ...")
// and match with errors.Is.
var (
	// ErrValidation marks a malformed request, rejected before any simulation.
	ErrValidation = errors.New("validation error")

	// ErrDataIntegrity marks malformed or insufficient price history.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrConfiguration marks an unknown strategy type or a bad strategy
	// parameter.
	ErrConfiguration = errors.New("configuration error")
)
