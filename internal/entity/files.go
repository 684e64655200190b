package entity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SidecarExtensions are tried in order next to <name>.sql.
var SidecarExtensions = []string{".yaml", ".yml", ".json"}

// TablesFunc returns the catalog used to complete the fields of entities
// bound to a data source. It may return nil.
type TablesFunc func(source string) TableSource

// Files loads entities from a directory of <name>.sql clauses with optional
// YAML/JSON sidecars. Loaded entities are cached and reloaded when either
// file's modification time changes.
type Files struct {
	dir    string
	tables TablesFunc
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedFile
}

type cachedFile struct {
	entity   *Entity
	sqlMod   time.Time
	sidePath string
	sideMod  time.Time
}

// NewFiles creates a loader over dir. tables may be nil.
func NewFiles(dir string, tables TablesFunc, logger *slog.Logger) *Files {
	if logger == nil {
		logger = slog.Default()
	}
	return &Files{
		dir:    dir,
		tables: tables,
		logger: logger,
		cache:  make(map[string]cachedFile),
	}
}

// Dir returns the directory the loader reads from.
func (f *Files) Dir() string { return f.dir }

func (f *Files) LoadEntity(ctx context.Context, name string) (*Entity, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	sqlPath, sqlInfo, err := f.locate(name)
	if err != nil {
		return nil, err
	}
	sidePath, sideMod := f.sidecar(strings.TrimSuffix(sqlPath, ".sql"))

	key := strings.ToLower(name)
	f.mu.Lock()
	cached, ok := f.cache[key]
	f.mu.Unlock()
	if ok && cached.sqlMod.Equal(sqlInfo.ModTime()) && cached.sidePath == sidePath && cached.sideMod.Equal(sideMod) {
		return cached.entity, nil
	}

	e, err := f.load(ctx, name, sqlPath, sidePath)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[key] = cachedFile{entity: e, sqlMod: sqlInfo.ModTime(), sidePath: sidePath, sideMod: sideMod}
	f.mu.Unlock()

	if ok {
		f.logger.Info("entity reloaded", "entity", name, "path", sqlPath)
	}
	return e, nil
}

// locate finds <name>.sql, falling back to the lowercase spelling.
func (f *Files) locate(name string) (string, fs.FileInfo, error) {
	for _, candidate := range []string{name, strings.ToLower(name)} {
		path := filepath.Join(f.dir, candidate+".sql")
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, info, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

func (f *Files) sidecar(base string) (string, time.Time) {
	for _, ext := range SidecarExtensions {
		if info, err := os.Stat(base + ext); err == nil && !info.IsDir() {
			return base + ext, info.ModTime()
		}
	}
	return "", time.Time{}
}

func (f *Files) load(ctx context.Context, name, sqlPath, sidePath string) (*Entity, error) {
	clause, err := os.ReadFile(sqlPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sqlPath, err)
	}
	var side []byte
	if sidePath != "" {
		if side, err = os.ReadFile(sidePath); err != nil {
			return nil, fmt.Errorf("read %s: %w", sidePath, err)
		}
	}

	spec, err := ParseSpec(name, strings.TrimSpace(string(clause)), side)
	if err != nil {
		return nil, err
	}

	var tables TableSource
	if f.tables != nil {
		tables = f.tables(spec.Source())
	}
	def, err := spec.Definition(ctx, tables)
	if err != nil {
		return nil, err
	}
	return New(def)
}

// Names lists the entities in the directory, sorted.
func (f *Files) Names() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read entity dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(names)
	return names, nil
}
