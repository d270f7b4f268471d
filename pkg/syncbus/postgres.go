package syncbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgChannel is the NOTIFY channel name.
const pgChannel = "clara_sync_events"

// PostgresTransport carries events through Postgres: each publish inserts a
// durable row into sync_events and notifies listeners. It serves as the
// fallback when Redis is not configured.
type PostgresTransport struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresTransport wraps an existing pool. The sync_events table must
// exist; see the embedded migrations.
func NewPostgresTransport(pool *pgxpool.Pool, logger *slog.Logger) *PostgresTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTransport{pool: pool, logger: logger}
}

// Publish implements Transport.
func (t *PostgresTransport) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sync_events (event_type, data, timestamp_ms, source) VALUES ($1, $2, $3, $4)`,
		string(e.Type), e.Data, e.TimestampMs, e.Source,
	)
	if err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChannel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Start implements Transport. A dedicated connection LISTENs for
// notifications until Close or context cancellation.
func (t *PostgresTransport) Start(ctx context.Context, sink func(Event)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	listenCtx, cancel := context.WithCancel(ctx)

	conn, err := t.pool.Acquire(listenCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(listenCtx, "LISTEN "+pgChannel); err != nil {
		conn.Release()
		cancel()
		return fmt.Errorf("listen: %w", err)
	}

	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					t.logger.Warn("notification wait failed", "error", err)
				}
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
				t.logger.Warn("dropping malformed sync event", "error", err)
				continue
			}
			sink(e)
		}
	}()
	return nil
}

// Close implements Transport.
func (t *PostgresTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}
