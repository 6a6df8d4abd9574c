// Package pg implements the store interfaces on PostgreSQL via pgx.
// Schema management lives in the embedded migrations, applied by the
// migrate command.
package pg

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letsgohq/letsgo/internal/store"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// Connect opens a pgx pool and returns the store bundle backed by it.
func Connect(ctx context.Context, dsn string, opts store.PairingOptions) (*store.Stores, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &store.Stores{
		Pairing: NewPairingStore(pool, opts),
		Cron:    NewCronStore(pool),
	}, pool, nil
}
