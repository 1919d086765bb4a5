package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
	ErrValidation         = errors.New("validation error")
	ErrTransaction        = errors.New("transaction failure")
	ErrDictionary         = errors.New("dictionary error")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrLoaderBusy         = errors.New("loader already running")
	ErrCollectionState    = errors.New("illegal collection state transition")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
