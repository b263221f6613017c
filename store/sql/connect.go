package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	formrelaymigrations "github.com/goliatone/go-formrelay/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-formrelay"
}

// Connect opens the configured database through go-persistence-bun and
// applies the embedded migrations for its dialect.
func Connect(ctx context.Context, config core.DatabaseConfig) (*persistence.Client, error) {
	target, driverName, err := formrelaymigrations.DialectForDriver(config.Driver)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	var dialect schema.Dialect = pgdialect.New()
	if target == formrelaymigrations.DialectSQLite {
		dialect = sqlitedialect.New()
	}
	if strings.TrimSpace(config.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}

	sqlDB, err := sql.Open(driverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{
		driver: driverName,
		server: config.DSN,
		debug:  config.Debug,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = formrelaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, formrelaymigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}
