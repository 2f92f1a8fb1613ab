package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(dbURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool}, nil
}

// Migrate applies the schema script. The script is idempotent (CREATE IF
// NOT EXISTS) so it runs safely on every startup.
func (r *Repository) Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	_, err = r.db.Exec(context.Background(), string(content))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// ingestLockKey derives the advisory-lock key for a dataset name.
func ingestLockKey(dataset string) int64 {
	h := fnv.New64a()
	h.Write([]byte("condoscan/ingest/" + dataset))
	return int64(h.Sum64())
}

// TryAcquireIngestLock takes the session advisory lock serializing ingest
// runs for one dataset. The lock is held on a dedicated connection; call
// the returned release func when the run finishes. Returns (nil, nil)
// without blocking when another run holds the lock.
func (r *Repository) TryAcquireIngestLock(ctx context.Context, dataset string) (release func(), err error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for ingest lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", ingestLockKey(dataset)).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquiring ingest lock for %s: %w", dataset, err)
	}
	if !acquired {
		conn.Release()
		return nil, nil
	}

	key := ingestLockKey(dataset)
	return func() {
		// Unlock on the same session that took the lock.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}, nil
}
