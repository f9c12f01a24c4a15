package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout = 5 * time.Second
)

// DatabaseConfig satisfies the go-persistence-bun config contract.
type DatabaseConfig struct {
	Driver      string        `koanf:"driver" json:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" json:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" json:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" json:"ping_timeout" mapstructure:"ping_timeout"`
	MaxOpenConn int           `koanf:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return c.driver()
}

func (c DatabaseConfig) GetServer() string {
	return strings.TrimSpace(c.DSN)
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	return "go-crowdauth"
}

// driver falls back to the DSN shape when Driver is blank: postgres URLs
// select lib/pq, everything else is treated as a sqlite file.
func (c DatabaseConfig) driver() string {
	driver := strings.TrimSpace(strings.ToLower(c.Driver))
	switch driver {
	case "postgresql", "pg":
		return DriverPostgres
	case "sqlite":
		return DriverSQLite
	case "":
	default:
		return driver
	}
	dsn := strings.TrimSpace(c.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open builds a persistence client for the configured driver. Migrations are
// not registered here.
func Open(cfg DatabaseConfig) (*persistence.Client, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}
	driver := cfg.driver()

	var dialect schema.Dialect
	switch driver {
	case DriverPostgres:
		dialect = pgdialect.New()
	case DriverSQLite:
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, cfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}
