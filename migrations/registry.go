package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	identitytransfer "github.com/goliatone/go-identity-transfer"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir = "data/sql/migrations"
)

// Migrator is the part of a go-persistence-bun client that applies schema.
type Migrator interface {
	RegisterSQLMigrations(migrations ...fs.FS) *persistence.Migrations
	Migrate(ctx context.Context) error
}

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// FS returns the embedded migration tree for dialect. Postgres files sit at
// the root of data/sql/migrations, sqlite files under sqlite/.
func FS(dialect string) (fs.FS, error) {
	dir := rootDir
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(identitytransfer.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", dialect, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}

// Apply registers the schema matching driver with m and migrates. It returns
// the dialect that was applied.
func Apply(ctx context.Context, m Migrator, driver string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("migrations: migrator is required")
	}
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return "", err
	}
	fsys, err := FS(dialect)
	if err != nil {
		return "", err
	}
	m.RegisterSQLMigrations(fsys)
	if err := m.Migrate(ctx); err != nil {
		return dialect, fmt.Errorf("migrations: apply %s schema: %w", dialect, err)
	}
	return dialect, nil
}
