package changes

import "errors"

var (
	// ErrEntityFieldMissing is returned when action data or keys name a
	// field the entity does not declare.
	ErrEntityFieldMissing = errors.New("entity field missing")
	// ErrNoSourceTable is returned when a field to be written has no
	// originating table.
	ErrNoSourceTable = errors.New("field has no source table")
	// ErrReadOnly is returned when any action targets a read-only entity.
	ErrReadOnly = errors.New("entity is read-only")
	// ErrDuplicateName is returned when action values name one field or
	// argument twice, in different case.
	ErrDuplicateName = errors.New("name given more than once")
	// ErrUnknownAction is returned for an action value of a foreign type.
	ErrUnknownAction = errors.New("unknown action")
)
