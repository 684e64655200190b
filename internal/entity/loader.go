package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Loader resolves an entity by name. Unknown names yield an error wrapping
// ErrNotFound.
type Loader interface {
	LoadEntity(ctx context.Context, name string) (*Entity, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, name string) (*Entity, error)

func (f LoaderFunc) LoadEntity(ctx context.Context, name string) (*Entity, error) {
	return f(ctx, name)
}

// Static serves a fixed set of entities, matched by name ignoring case.
type Static map[string]*Entity

// NewStatic indexes entities by name.
func NewStatic(entities ...*Entity) Static {
	s := make(Static, len(entities))
	for _, e := range entities {
		s[strings.ToLower(e.Name())] = e
	}
	return s
}

func (s Static) LoadEntity(_ context.Context, name string) (*Entity, error) {
	if e, ok := s[strings.ToLower(name)]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Chain asks each loader in turn and returns the first entity found. Errors
// other than ErrNotFound stop the search.
type Chain []Loader

func (c Chain) LoadEntity(ctx context.Context, name string) (*Entity, error) {
	for _, l := range c {
		e, err := l.LoadEntity(ctx, name)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}
