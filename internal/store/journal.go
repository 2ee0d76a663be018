package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Round is the journal record of one source processed in one pool round.
type Round struct {
	PoolID    string `json:"pool_id"`
	Epoch     uint64 `json:"epoch"`
	Source    string `json:"source"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Deleted   int    `json:"deleted"`

	Changes []Change `json:"changes,omitempty"`
}

// Change is one row a round touched. Seq is the row position in the delta.
type Change struct {
	Seq    int    `json:"seq"`
	PKey   string `json:"pkey"`
	Status string `json:"status"`
}

// KeyEvent is one change to a primary key, located by round.
type KeyEvent struct {
	Epoch  uint64 `json:"epoch"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// WriteRound inserts a round and its changes in one transaction.
// Uses ON CONFLICT DO NOTHING for idempotency - a round already written for
// the same (pool_id, epoch, source) is left untouched and its changes are
// not written again. Busy errors are retried.
func (s *Store) WriteRound(ctx context.Context, r Round) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.writeRound(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("write round %d/%s: %w", r.Epoch, r.Source, err)
	}
	return nil
}

func (s *Store) writeRound(ctx context.Context, r Round) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds
		(pool_id, epoch, source, inserted, updated, unchanged, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id, epoch, source) DO NOTHING
	`, r.PoolID, r.Epoch, r.Source, r.Inserted, r.Updated, r.Unchanged, r.Deleted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO row_changes (pool_id, epoch, source, seq, pkey, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range r.Changes {
		if _, err := stmt.ExecContext(ctx, r.PoolID, r.Epoch, r.Source, c.Seq, c.PKey, c.Status); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadRounds returns the rounds of a pool without their changes, ordered
// by epoch then source. Returns an empty slice if none exist.
func (s *Store) ReadRounds(ctx context.Context, poolID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool_id, epoch, source, inserted, updated, unchanged, deleted
		FROM rounds
		WHERE pool_id = ?
		ORDER BY epoch ASC, source COLLATE BINARY ASC
	`, poolID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	rounds := []Round{}
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.PoolID, &r.Epoch, &r.Source, &r.Inserted, &r.Updated, &r.Unchanged, &r.Deleted); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return rounds, nil
}

// ReadRound returns one round with its changes in delta order.
// Returns sql.ErrNoRows if the round was never written.
func (s *Store) ReadRound(ctx context.Context, poolID string, epoch uint64, source string) (Round, error) {
	r := Round{PoolID: poolID, Epoch: epoch, Source: source}
	err := s.db.QueryRowContext(ctx, `
		SELECT inserted, updated, unchanged, deleted
		FROM rounds
		WHERE pool_id = ? AND epoch = ? AND source = ?
	`, poolID, epoch, source).Scan(&r.Inserted, &r.Updated, &r.Unchanged, &r.Deleted)
	if err != nil {
		return Round{}, fmt.Errorf("read round %d/%s: %w", epoch, source, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, pkey, status
		FROM row_changes
		WHERE pool_id = ? AND epoch = ? AND source = ?
		ORDER BY seq ASC
	`, poolID, epoch, source)
	if err != nil {
		return Round{}, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	r.Changes = []Change{}
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Seq, &c.PKey, &c.Status); err != nil {
			return Round{}, fmt.Errorf("scan change: %w", err)
		}
		r.Changes = append(r.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return Round{}, fmt.Errorf("iterate changes: %w", err)
	}
	return r, nil
}

// KeyHistory returns every change journaled for one formatted primary key,
// ordered by epoch then source.
func (s *Store) KeyHistory(ctx context.Context, poolID, pkey string) ([]KeyEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, source, status
		FROM row_changes
		WHERE pool_id = ? AND pkey = ?
		ORDER BY epoch ASC, source COLLATE BINARY ASC, seq ASC
	`, poolID, pkey)
	if err != nil {
		return nil, fmt.Errorf("query key history: %w", err)
	}
	defer rows.Close()

	events := []KeyEvent{}
	for rows.Next() {
		var e KeyEvent
		if err := rows.Scan(&e.Epoch, &e.Source, &e.Status); err != nil {
			return nil, fmt.Errorf("scan key event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key history: %w", err)
	}
	return events, nil
}

// Pools returns the distinct pool ids in the journal, sorted.
func (s *Store) Pools(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT pool_id FROM rounds ORDER BY pool_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return ids, nil
}

// LastEpoch returns the highest journaled epoch of a pool, or 0.
func (s *Store) LastEpoch(ctx context.Context, poolID string) (uint64, error) {
	var epoch sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(epoch) FROM rounds WHERE pool_id = ?`, poolID).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("last epoch: %w", err)
	}
	return uint64(epoch.Int64), nil
}
