package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/viper"

	"github.com/faucetdb/cistern/internal/config"
	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/dialect/mssql"
	"github.com/faucetdb/cistern/internal/dialect/mysql"
	"github.com/faucetdb/cistern/internal/dialect/oracle"
	"github.com/faucetdb/cistern/internal/dialect/postgres"
	"github.com/faucetdb/cistern/internal/dialect/snowflake"
	"github.com/faucetdb/cistern/internal/dialect/sqlite"
	"github.com/faucetdb/cistern/internal/engine"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/metrics"
	"github.com/faucetdb/cistern/internal/model"
)

// Persistent flag values, set on the root command.
var (
	dataDir      string
	databaseFlag string
)

// defaultDatabaseSetting is the store setting naming the default database.
const defaultDatabaseSetting = "default_database"

// resolveDataDir returns the data directory from --data-dir flag,
// CISTERN_DATA_DIR env var, or ~/.cistern as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CISTERN_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cistern")
}

// openConfigStore opens the SQLite store in the data directory.
func openConfigStore() (*config.Store, error) {
	store, err := config.NewStore(resolveDataDir())
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return store, nil
}

// newDialects returns a registry holding every supported dialect.
func newDialects() *dialect.Registry {
	return dialect.NewRegistry(
		postgres.New(),
		mysql.New(),
		mssql.New(),
		sqlite.New(),
		oracle.New(),
		snowflake.New(),
	)
}

// loadSettings reads the config file viper located, or the defaults when
// there is none. CISTERN_LOGGING_LEVEL, CISTERN_LOGGING_FORMAT,
// CISTERN_METRICS_ENABLED and CISTERN_DEFAULT_DATABASE override the file.
func loadSettings() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	env := viper.New()
	env.SetEnvPrefix("CISTERN")
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()
	if env.IsSet("logging.level") {
		cfg.Logging.Level = env.GetString("logging.level")
	}
	if env.IsSet("logging.format") {
		cfg.Logging.Format = env.GetString("logging.format")
	}
	if env.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = env.GetBool("metrics.enabled")
	}
	if env.IsSet("default_database") {
		cfg.DefaultDatabase = env.GetString("default_database")
	}
	return cfg, nil
}

// newLogger builds the stderr logger described by cfg.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// session is everything a data command needs: the settings, the store and
// a registry connected to every configured database.
type session struct {
	cfg      *config.YAMLConfig
	logger   *slog.Logger
	store    *config.Store
	registry *engine.Registry
	gatherer *prometheus.Registry
}

// openSession connects the databases declared in the config file and those
// registered in the store. A database that fails to connect is logged and
// skipped; using it later reports it as unknown.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	store, err := openConfigStore()
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	var gatherer *prometheus.Registry
	if cfg.Metrics.Enabled {
		collector = metrics.New(cfg.Metrics.Namespace)
		gatherer = prometheus.NewRegistry()
		if err := collector.Register(gatherer); err != nil {
			store.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	s := &session{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: engine.NewRegistry(newDialects(), logger, collector),
		gatherer: gatherer,
	}

	declared := make(map[string]bool, len(cfg.Databases))
	for _, d := range cfg.Databases {
		declared[d.Name] = true
		dbCfg, err := d.ToModel()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.connect(dbCfg)
	}

	registered, err := store.ListDatabases(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, d := range registered {
		if !d.IsActive || declared[d.Name] {
			continue
		}
		s.connect(d)
	}

	s.registry.SetDefault(s.defaultDatabase(ctx))
	s.registry.SetLoader(entity.Chain{
		entity.NewFiles(cfg.Entities.Dir, s.registry.Tables, logger),
		store.Entities(s.registry.Tables, logger),
	})
	return s, nil
}

func (s *session) connect(d model.DatabaseConfig) {
	opts := engine.Options{Workers: d.Workers, CompletionWorkers: d.CompletionWorkers}
	if err := s.registry.Connect(d.Name, d.ConnectionConfig(), opts); err != nil {
		s.logger.Warn("failed to connect database", "database", d.Name, "driver", d.Driver, "error", err)
		return
	}
	s.logger.Debug("database connected", "database", d.Name, "driver", d.Driver)
}

// defaultDatabase picks --database, then the config file, then the store.
// "" leaves the first connected database as the default.
func (s *session) defaultDatabase(ctx context.Context) string {
	if databaseFlag != "" {
		return databaseFlag
	}
	if s.cfg.DefaultDatabase != "" {
		return s.cfg.DefaultDatabase
	}
	name, _ := s.store.GetSetting(ctx, defaultDatabaseSetting)
	return name
}

// writeMetrics dumps the collected metrics in the Prometheus text format.
func (s *session) writeMetrics(w io.Writer) error {
	if s.gatherer == nil {
		return nil
	}
	families, err := s.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects every database and closes the store. Metrics, when
// enabled, are written to stderr.
func (s *session) Close() {
	if err := s.writeMetrics(os.Stderr); err != nil {
		s.logger.Warn("failed to write metrics", "error", err)
	}
	if err := s.registry.Close(); err != nil {
		s.logger.Warn("failed to close databases", "error", err)
	}
	s.store.Close()
}
