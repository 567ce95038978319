package memutils

import "github.com/cockroachdb/errors"

// Validatable is implemented by every structure DebugValidate can check: block metadata, spans, the
// heap as a whole
type Validatable interface {
	Validate() error
}

// ValidateEach validates items in order and stops at the first failure, naming its position
func ValidateEach[T Validatable](items []T) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return errors.Wrapf(err, "item %d of %d", i, len(items))
		}
	}
	return nil
}
