// Package sqlite implements the store interfaces on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/letsgohq/letsgo/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS senders (
	key           TEXT PRIMARY KEY,
	sender_id     TEXT NOT NULL,
	channel       TEXT NOT NULL,
	channel_name  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	approved_at   INTEGER,
	last_seen     INTEGER,
	message_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS pairing_codes (
	key        TEXT PRIMARY KEY,
	sender_id  TEXT NOT NULL,
	channel    TEXT NOT NULL,
	code       TEXT NOT NULL,
	issued_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cron_jobs (
	name     TEXT PRIMARY KEY,
	expr     TEXT NOT NULL,
	recipe   TEXT NOT NULL DEFAULT '',
	context  TEXT NOT NULL DEFAULT '{}',
	agent_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS cron_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name    TEXT NOT NULL,
	agent_id    TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT ''
);
`

// Open opens (and migrates) the embedded database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize at the pool level.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// PairingStore is the SQLite-backed pairing store. The rolling rate
// window stays in memory; counters and status are durable.
type PairingStore struct {
	db   *sql.DB
	opts store.PairingOptions
	rate *store.RateWindow
}

// NewPairingStore wraps an opened database.
func NewPairingStore(db *sql.DB, opts store.PairingOptions) *PairingStore {
	opts = opts.WithDefaults()
	return &PairingStore{
		db:   db,
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO senders (key, sender_id, channel, channel_name, status, label)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, senderID, channel, channelName, store.StatusPending, label); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pairing_codes (key, sender_id, channel, code, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET code=excluded.code,
			issued_at=excluded.issued_at, expires_at=excluded.expires_at`,
		key, senderID, channel, code, now.UnixMilli(), now.Add(s.opts.CodeTTL).UnixMilli()); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return code, nil
}

func (s *PairingStore) VerifyPairing(ctx context.Context, senderID, channel, code string) (bool, error) {
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()

	var stored string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT code, expires_at FROM pairing_codes WHERE key = ?`, key).
		Scan(&stored, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if now.UnixMilli() >= expiresAt || store.NormalizeCode(code) != stored {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE senders SET status = ?, approved_at = ? WHERE key = ?`,
		store.StatusApproved, now.UnixMilli(), key); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pairing_codes WHERE key = ?`, key); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM senders WHERE key = ?`,
		store.SenderKey(channel, senderID)).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return store.AuthStatus(status), true, nil
}

func (s *PairingStore) HasPendingCode(ctx context.Context, senderID, channel string) (bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM pairing_codes WHERE key = ?`,
		store.SenderKey(channel, senderID)).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return s.opts.Now().UnixMilli() < expiresAt, nil
}

func (s *PairingStore) BlockSender(ctx context.Context, senderID, channel string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE senders SET status = ? WHERE key = ?`,
		store.StatusBlocked, store.SenderKey(channel, senderID))
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sender %s not found", store.SenderKey(channel, senderID))
	}
	return nil
}

func (s *PairingStore) UnblockSender(ctx context.Context, senderID, channel string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE senders SET status = ? WHERE key = ? AND status = ?`,
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
	      FROM senders WHERE 1=1`
	args := []any{}
	if channel != "" {
		q += ` AND channel = ?`
		args = append(args, channel)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	defer rows.Close()

	var out []store.SenderRecord
	for rows.Next() {
		var rec store.SenderRecord
		var approvedAt, lastSeen sql.NullInt64
		if err := rows.Scan(&rec.SenderID, &rec.Channel, &rec.ChannelName,
			&rec.Status, &rec.Label, &approvedAt, &lastSeen, &rec.MessageCount); err != nil {
			return nil, err
		}
		if approvedAt.Valid {
			t := time.UnixMilli(approvedAt.Int64)
			rec.ApprovedAt = &t
		}
		if lastSeen.Valid {
			t := time.UnixMilli(lastSeen.Int64)
			rec.LastSeen = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PairingStore) CheckRateLimit(ctx context.Context, senderID, channel string) (bool, error) {
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()
	allowed := s.rate.Allow(key, now)
	_, err := s.db.ExecContext(ctx,
		`UPDATE senders SET message_count = message_count + 1, last_seen = ? WHERE key = ?`,
		now.UnixMilli(), key)
	if err != nil {
		return allowed, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return allowed, nil
}

func (s *PairingStore) Flush(ctx context.Context) error { return nil }

func (s *PairingStore) Close() error { return s.db.Close() }
