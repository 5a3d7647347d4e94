package identitytransfer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/query"
	mongostore "github.com/goliatone/go-identity-transfer/store/mongo"
	sqlstore "github.com/goliatone/go-identity-transfer/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// UserStore is a user store that can also answer single record lookups.
type UserStore interface {
	core.UserStore
	query.UserReader
}

// RunStore records finished runs and lists them back.
type RunStore interface {
	core.RunLedger
	query.RunHistoryReader
}

type storeBundle struct {
	users       UserStore
	runs        RunStore
	persistence *persistence.Client
	close       func(context.Context) error
}

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.dsn
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-identity-transfer"
}

func openStores(ctx context.Context, cfg Config, client *persistence.Client) (storeBundle, error) {
	driver := strings.TrimSpace(cfg.Store.Driver)
	switch driver {
	case core.StoreDriverMongo:
		stores, err := mongostore.Connect(ctx, cfg.Store.DSN, cfg.Store.Database, cfg.Store.Collection)
		if err != nil {
			return storeBundle{}, err
		}
		return storeBundle{users: stores.Users, runs: stores.Runs, close: stores.Close}, nil
	case core.StoreDriverPostgres, core.StoreDriverSQLite:
		owned := client == nil
		if owned {
			opened, err := OpenPersistence(cfg)
			if err != nil {
				return storeBundle{}, err
			}
			client = opened
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
		if err != nil {
			if owned {
				_ = client.Close()
			}
			return storeBundle{}, err
		}
		bundle := storeBundle{
			users:       factory.UserStore(),
			runs:        factory.RunStore(),
			persistence: client,
			close:       func(context.Context) error { return nil },
		}
		if owned {
			bundle.close = func(context.Context) error { return client.Close() }
		}
		return bundle, nil
	default:
		return storeBundle{}, fmt.Errorf("identitytransfer: unsupported store driver %q", cfg.Store.Driver)
	}
}

// OpenPersistence opens the SQL database named by the store section. The
// database/sql driver must be registered by the caller.
func OpenPersistence(cfg Config) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Store.Driver)
	var dialect schema.Dialect
	switch driver {
	case core.StoreDriverPostgres:
		dialect = pgdialect.New()
	case core.StoreDriverSQLite:
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("identitytransfer: %q is not a sql driver", driver)
	}

	sqlDB, err := sql.Open(driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("identitytransfer: open %s: %w", driver, err)
	}
	if driver == core.StoreDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, dsn: cfg.Store.DSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("identitytransfer: new persistence client: %w", err)
	}
	return client, nil
}
