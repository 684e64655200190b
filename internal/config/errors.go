package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrInvalidConfig is returned when a configuration file fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")
