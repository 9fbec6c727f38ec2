package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open picks a backend: PostgreSQL when databaseURL is set, else SQLite when
// sqlitePath is set, else an in-memory store. Schema migrations are applied
// before returning. The returned func releases the backend.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, func(), error) {
	switch {
	case databaseURL != "":
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := MigratePostgres(pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")
		return NewPostgresStore(pool), pool.Close, nil

	case sqlitePath != "":
		st, err := OpenSQLite(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened SQLite ledger", "path", sqlitePath)
		return st, func() { st.Close() }, nil

	default:
		slog.Warn("no DATABASE_URL or SQLITE_PATH set, using in-memory store (data will not persist)")
		return NewMemoryStore(), func() {}, nil
	}
}
