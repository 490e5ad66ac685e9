package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore remembers processed webhook events so that Stripe retries are
// acknowledged without running side effects twice.
type EventStore interface {
	// Record stores the event and reports whether it was seen for the first time.
	Record(ctx context.Context, id, eventType string) (bool, error)
	// Forget removes an event whose processing failed so a retry can run it.
	Forget(ctx context.Context, id string) error
}

type pgEventStore struct{ pool *pgxpool.Pool }

func NewPGEventStore(pool *pgxpool.Pool) EventStore { return &pgEventStore{pool: pool} }

func (s *pgEventStore) Record(ctx context.Context, id, eventType string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO billing_events (id, type) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, id, eventType)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgEventStore) Forget(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM billing_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("forget billing event: %w", err)
	}
	return nil
}
