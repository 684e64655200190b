package catalog

import "errors"

// ErrNotFound is returned when a schema or table does not exist.
var ErrNotFound = errors.New("not found")
