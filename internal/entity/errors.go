package entity

import "errors"

var (
	// ErrNotFound is returned by loaders for unknown entity names.
	ErrNotFound = errors.New("entity not found")
	// ErrAmbiguousKey is returned when more than one field is a primary key.
	ErrAmbiguousKey = errors.New("entity has more than one key field")
	// ErrNoKey is returned when no field is a primary key.
	ErrNoKey = errors.New("entity has no key field")
	// ErrInvalidDefinition is returned by New for malformed definitions.
	ErrInvalidDefinition = errors.New("invalid entity definition")
)
