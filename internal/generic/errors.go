package generic

import (
	"errors"
	"fmt"
)

// ErrTypeCoercion is matched by every CoercionError.
var ErrTypeCoercion = errors.New("type coercion failed")

// CoercionError reports a value that could not be converted into its
// declared generic type.
type CoercionError struct {
	Value any
	Type  Type
	Err   error
}

func (e *CoercionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot coerce %v (%T) to %s: %v", e.Value, e.Value, e.Type, e.Err)
	}
	return fmt.Sprintf("cannot coerce %v (%T) to %s", e.Value, e.Value, e.Type)
}

func (e *CoercionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTypeCoercion}
	}
	return []error{ErrTypeCoercion, e.Err}
}

func coercionError(v any, t Type, err error) error {
	return &CoercionError{Value: v, Type: t, Err: err}
}
