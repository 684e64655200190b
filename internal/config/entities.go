package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/faucetdb/cistern/internal/entity"
)

// EntityLoader serves the entity definitions kept in a Store. Loaded
// entities are cached and rebuilt when their stored version changes.
type EntityLoader struct {
	store  *Store
	tables entity.TablesFunc
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedEntity
}

type cachedEntity struct {
	version int64
	entity  *entity.Entity
}

// Entities returns a loader over the stored definitions. tables supplies
// the catalog used to complete undeclared field attributes; it may be nil.
func (s *Store) Entities(tables entity.TablesFunc, logger *slog.Logger) *EntityLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityLoader{store: s, tables: tables, logger: logger, cache: make(map[string]cachedEntity)}
}

// LoadEntity implements entity.Loader.
func (l *EntityLoader) LoadEntity(ctx context.Context, name string) (*entity.Entity, error) {
	version, err := l.store.entityVersion(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", name, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(name)
	l.mu.Lock()
	cached, ok := l.cache[key]
	l.mu.Unlock()
	if ok && cached.version == version {
		return cached.entity, nil
	}

	stored, err := l.store.GetEntity(ctx, name)
	if err != nil {
		return nil, err
	}
	spec, err := entity.ParseSpec(stored.Name, strings.TrimSpace(stored.Clause), []byte(stored.Sidecar))
	if err != nil {
		return nil, err
	}
	var tables entity.TableSource
	if l.tables != nil {
		tables = l.tables(spec.Source())
	}
	def, err := spec.Definition(ctx, tables)
	if err != nil {
		return nil, err
	}
	e, err := entity.New(def)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[key] = cachedEntity{version: stored.Version, entity: e}
	l.mu.Unlock()
	if ok {
		l.logger.Info("entity reloaded", "entity", stored.Name, "version", stored.Version)
	}
	return e, nil
}
