package store

import (
	"context"
	"database/sql"
)

// ClaimIdempotency records a (scope, key) pair and reports whether this
// caller is the first to see it, so a consumer of at-least-once events can
// treat a redelivered event as a no-op. Nothing in the engine calls it; the
// job.rescued publisher does not deduplicate through it.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	var claimed bool
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO idempotency_keys (scope, key)
VALUES ($1,$2)
ON CONFLICT (scope, key) DO NOTHING
RETURNING true`, scope, key).Scan(&claimed)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return claimed, nil
}
