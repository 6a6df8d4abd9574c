// Package file implements the store interfaces on single-document JSON
// files written with atomic replace.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/letsgohq/letsgo/internal/store"
)

// pairingDoc is the on-disk shape of the pairing database.
type pairingDoc struct {
	Senders map[string]store.SenderRecord `json:"senders"`
	Codes   map[string]store.PairingCode  `json:"codes"`
}

// PairingStore keeps the full sender map in memory and rewrites the
// backing file atomically on every mutation. Persistence failure rolls
// the in-memory change back and surfaces the error.
type PairingStore struct {
	mu   sync.RWMutex
	path string
	opts store.PairingOptions
	doc  pairingDoc
	rate *store.RateWindow
}

// NewPairingStore loads (or initializes) the pairing database at path.
func NewPairingStore(path string, opts store.PairingOptions) (*PairingStore, error) {
	opts = opts.WithDefaults()
	s := &PairingStore{
		path: path,
		opts: opts,
		doc: pairingDoc{
			Senders: make(map[string]store.SenderRecord),
			Codes:   make(map[string]store.PairingCode),
		},
		rate: store.NewRateWindow(opts.MaxPerMinute, time.Minute),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh store
	case err != nil:
		return nil, fmt.Errorf("read pairing db: %w", err)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse pairing db %s: %w", path, err)
		}
		if s.doc.Senders == nil {
			s.doc.Senders = make(map[string]store.SenderRecord)
		}
		if s.doc.Codes == nil {
			s.doc.Codes = make(map[string]store.PairingCode)
		}
	}
	return s, nil
}

// RequestPairing issues a fresh code, replacing any outstanding one, and
// creates a pending record on first contact.
func (s *PairingStore) RequestPairing(ctx context.Context, senderID, channel, channelName, label string) (string, error) {
	code, err := store.GenerateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()

	prevRecord, hadRecord := s.doc.Senders[key]
	prevCode, hadCode := s.doc.Codes[key]

	if !hadRecord {
		s.doc.Senders[key] = store.SenderRecord{
			SenderID:    senderID,
			Channel:     channel,
			ChannelName: channelName,
			Status:      store.StatusPending,
			Label:       label,
		}
	}
	s.doc.Codes[key] = store.PairingCode{
		SenderID:  senderID,
		Channel:   channel,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.opts.CodeTTL),
	}

	if err := s.persistLocked(); err != nil {
		if hadRecord {
			s.doc.Senders[key] = prevRecord
		} else {
			delete(s.doc.Senders, key)
		}
		if hadCode {
			s.doc.Codes[key] = prevCode
		} else {
			delete(s.doc.Codes, key)
		}
		return "", err
	}
	return code, nil
}

// VerifyPairing consumes a matching unexpired code and approves the sender.
func (s *PairingStore) VerifyPairing(ctx context.Context, senderID, channel, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()

	pc, ok := s.doc.Codes[key]
	if !ok || pc.Expired(now) {
		if ok {
			// Lazily drop the expired code; not worth failing on persist.
			delete(s.doc.Codes, key)
			_ = s.persistLocked()
		}
		return false, nil
	}
	if store.NormalizeCode(code) != pc.Code {
		return false, nil
	}

	rec, hadRecord := s.doc.Senders[key]
	prevRecord := rec
	if !hadRecord {
		rec = store.SenderRecord{SenderID: senderID, Channel: channel}
	}
	rec.Status = store.StatusApproved
	approvedAt := now
	rec.ApprovedAt = &approvedAt
	s.doc.Senders[key] = rec
	delete(s.doc.Codes, key)

	if err := s.persistLocked(); err != nil {
		if hadRecord {
			s.doc.Senders[key] = prevRecord
		} else {
			delete(s.doc.Senders, key)
		}
		s.doc.Codes[key] = pc
		return false, err
	}
	return true, nil
}

// IsApproved reports whether the sender exists and is approved.
func (s *PairingStore) IsApproved(ctx context.Context, senderID, channel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Senders[store.SenderKey(channel, senderID)]
	return ok && rec.Status == store.StatusApproved, nil
}

// SenderStatus returns the sender's current status.
func (s *PairingStore) SenderStatus(ctx context.Context, senderID, channel string) (store.AuthStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Senders[store.SenderKey(channel, senderID)]
	if !ok {
		return "", false, nil
	}
	return rec.Status, true, nil
}

// HasPendingCode reports whether an unexpired code is outstanding.
func (s *PairingStore) HasPendingCode(ctx context.Context, senderID, channel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.doc.Codes[store.SenderKey(channel, senderID)]
	return ok && !pc.Expired(s.opts.Now()), nil
}

// BlockSender sets the sender to blocked.
func (s *PairingStore) BlockSender(ctx context.Context, senderID, channel string) error {
	return s.setStatus(senderID, channel, store.StatusBlocked, false)
}

// UnblockSender transitions blocked back to approved, no-op otherwise.
func (s *PairingStore) UnblockSender(ctx context.Context, senderID, channel string) error {
	return s.setStatus(senderID, channel, store.StatusApproved, true)
}

func (s *PairingStore) setStatus(senderID, channel string, status store.AuthStatus, onlyFromBlocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := store.SenderKey(channel, senderID)
	rec, ok := s.doc.Senders[key]
	if !ok {
		return fmt.Errorf("sender %s not found", key)
	}
	if onlyFromBlocked && rec.Status != store.StatusBlocked {
		return nil
	}
	prev := rec
	rec.Status = status
	if status == store.StatusApproved && rec.ApprovedAt == nil {
		t := s.opts.Now()
		rec.ApprovedAt = &t
	}
	s.doc.Senders[key] = rec

	if err := s.persistLocked(); err != nil {
		s.doc.Senders[key] = prev
		return err
	}
	return nil
}

// AllSenders lists records, optionally filtered by channel type.
func (s *PairingStore) AllSenders(ctx context.Context, channel string) ([]store.SenderRecord, error) {
	return s.list(channel, "")
}

// ApprovedSenders lists approved records, optionally filtered.
func (s *PairingStore) ApprovedSenders(ctx context.Context, channel string) ([]store.SenderRecord, error) {
	return s.list(channel, store.StatusApproved)
}

func (s *PairingStore) list(channel string, status store.AuthStatus) ([]store.SenderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.SenderRecord, 0, len(s.doc.Senders))
	for _, rec := range s.doc.Senders {
		if channel != "" && rec.Channel != channel {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CheckRateLimit applies the rolling per-minute window and bumps the
// sender's counters. Counter persistence is best-effort; losing a count
// on crash is acceptable, losing a status transition is not.
func (s *PairingStore) CheckRateLimit(ctx context.Context, senderID, channel string) (bool, error) {
	key := store.SenderKey(channel, senderID)
	now := s.opts.Now()
	allowed := s.rate.Allow(key, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.doc.Senders[key]; ok {
		rec.MessageCount++
		seen := now
		rec.LastSeen = &seen
		s.doc.Senders[key] = rec
		_ = s.persistLocked()
	}
	return allowed, nil
}

// Flush rewrites the document.
func (s *PairingStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Close flushes and releases the store.
func (s *PairingStore) Close() error {
	return s.Flush(context.Background())
}

// persistLocked writes the document with temp-file + rename so concurrent
// readers of the path never observe a partial write. Caller holds mu.
func (s *PairingStore) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, "pairing-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	cleanup = false
	return nil
}
