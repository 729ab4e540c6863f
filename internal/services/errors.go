package services

import (
	"errors"
	"fmt"

	"github.com/tradepost/api/internal/repositories"
)

// Shared error taxonomy. Every service wraps one of these sentinels so the
// HTTP layer can map failures to a status code with a single errors.Is chain.
var (
	// ErrValidation signals bad request data; never retried.
	ErrValidation = errors.New("services: invalid input")
	// ErrNotFound indicates a referenced product, order, label or seller does not exist.
	ErrNotFound = errors.New("services: not found")
	// ErrConflict indicates a business-rule conflict such as mixed sellers or a double refund.
	ErrConflict = errors.New("services: conflict")
	// ErrInsufficientFunds indicates the seller wallet cannot cover a charge.
	ErrInsufficientFunds = errors.New("services: insufficient funds")
	// ErrExternalService indicates a processor, carrier or tax provider failure.
	ErrExternalService = errors.New("services: external service failure")
)

// translateRepoError converts repository failures into taxonomy sentinels,
// preserving the storage detail in the wrap chain.
func translateRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrExternalService, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
