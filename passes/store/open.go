package store

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverBolt     = "bolt"
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects and locates the backing store.
type Config struct {
	Driver string `yaml:"driver" toml:"driver"`
	// Path is the file used by the bolt, json and sqlite drivers.
	Path string `yaml:"path" toml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// Open constructs the configured Store.
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverBolt
	}
	switch driver {
	case DriverBolt:
		return OpenBolt(cfg.Path, nil)
	case DriverJSON:
		return OpenJSONFile(cfg.Path)
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("%w: sqlite path required", ErrStorage)
		}
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormConfig())
		if err != nil {
			return nil, storageErr("open sqlite", err)
		}
		return NewSQL(db)
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("%w: postgres dsn required", ErrStorage)
		}
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig())
		if err != nil {
			return nil, storageErr("open postgres", err)
		}
		return NewSQL(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
}
