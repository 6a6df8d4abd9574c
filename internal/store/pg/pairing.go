package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letsgohq/letsgo/internal/store"
)

// PairingStore is the PostgreSQL-backed pairing store. The rolling rate
// window stays in process memory; a multi-node deployment would need a
// shared counter, which is out of scope for a single daemon.
type PairingStore struct {
	pool *pgxpool.Pool
	opts store.PairingOptions
	rate *store.RateWindow
}

// NewPairingStore wraps a connected pool.
func NewPairingStore(pool *pgxpool.Pool, opts store.PairingOptions) *PairingStore {
	opts = opts.WithDefaults()
	return &PairingStore{
		pool: pool,
		opts: opts,
		rate: store.NewRateWindow(opts.MaxPerMinute, time.Minute),
	}
}

func (s *PairingStore) RequestPairing(ctx context.Context, senderID, channel, channelName, label string) (string, error) {
	code, err := store.GenerateCode()
	if err != nil {
		return "", err
	}
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO senders (key, sender_id, channel, channel_name, status, label)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`,
		key, senderID, channel, channelName, store.StatusPending, label); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO pairing_codes (key, sender_id, channel, code, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET code = excluded.code,
			issued_at = excluded.issued_at, expires_at = excluded.expires_at`,
		key, senderID, channel, code, now, now.Add(s.opts.CodeTTL)); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return code, nil
}

func (s *PairingStore) VerifyPairing(ctx context.Context, senderID, channel, code string) (bool, error) {
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()

	var stored string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT code, expires_at FROM pairing_codes WHERE key = $1`, key).
		Scan(&stored, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if !now.Before(expiresAt) || store.NormalizeCode(code) != stored {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`UPDATE senders SET status = $1, approved_at = $2 WHERE key = $3`,
		store.StatusApproved, now, key); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM pairing_codes WHERE key = $1`, key); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return true, nil
}

func (s *PairingStore) IsApproved(ctx context.Context, senderID, channel string) (bool, error) {
	status, found, err := s.SenderStatus(ctx, senderID, channel)
	return found && status == store.StatusApproved, err
}

func (s *PairingStore) SenderStatus(ctx context.Context, senderID, channel string) (store.AuthStatus, bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM senders WHERE key = $1`,
		store.SenderKey(channel, senderID)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return store.AuthStatus(status), true, nil
}

func (s *PairingStore) HasPendingCode(ctx context.Context, senderID, channel string) (bool, error) {
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT expires_at FROM pairing_codes WHERE key = $1`,
		store.SenderKey(channel, senderID)).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return s.opts.Now().Before(expiresAt), nil
}

func (s *PairingStore) BlockSender(ctx context.Context, senderID, channel string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE senders SET status = $1 WHERE key = $2`,
		store.StatusBlocked, store.SenderKey(channel, senderID))
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sender %s not found", store.SenderKey(channel, senderID))
	}
	return nil
}

func (s *PairingStore) UnblockSender(ctx context.Context, senderID, channel string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE senders SET status = $1 WHERE key = $2 AND status = $3`,
		store.StatusApproved, store.SenderKey(channel, senderID), store.StatusBlocked)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return nil
}

func (s *PairingStore) AllSenders(ctx context.Context, channel string) ([]store.SenderRecord, error) {
	return s.list(ctx, channel, "")
}

func (s *PairingStore) ApprovedSenders(ctx context.Context, channel string) ([]store.SenderRecord, error) {
	return s.list(ctx, channel, store.StatusApproved)
}

func (s *PairingStore) list(ctx context.Context, channel string, status store.AuthStatus) ([]store.SenderRecord, error) {
	q := `SELECT sender_id, channel, channel_name, status, label, approved_at, last_seen, message_count
	      FROM senders WHERE ($1 = '' OR channel = $1) AND ($2 = '' OR status = $2)`
	rows, err := s.pool.Query(ctx, q, channel, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer rows.Close()

	var out []store.SenderRecord
	for rows.Next() {
		var rec store.SenderRecord
		if err := rows.Scan(&rec.SenderID, &rec.Channel, &rec.ChannelName,
			&rec.Status, &rec.Label, &rec.ApprovedAt, &rec.LastSeen, &rec.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PairingStore) CheckRateLimit(ctx context.Context, senderID, channel string) (bool, error) {
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()
	allowed := s.rate.Allow(key, now)
	_, err := s.pool.Exec(ctx,
		`UPDATE senders SET message_count = message_count + 1, last_seen = $1 WHERE key = $2`,
		now, key)
	if err != nil {
		return allowed, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return allowed, nil
}

func (s *PairingStore) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the pool's lifetime is owned by the caller.
func (s *PairingStore) Close() error { return nil }
