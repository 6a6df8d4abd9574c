// Package store defines the persistence interfaces for the gateway's
// pairing/auth state and cron jobs, with file, sqlite, and postgres
// backends in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthStatus is the lifecycle state of a sender record.
type AuthStatus string

const (
	StatusPending  AuthStatus = "pending"
	StatusApproved AuthStatus = "approved"
	StatusBlocked  AuthStatus = "blocked"
)

// SenderRecord tracks one sender on one channel type. A sender appearing
// on a second channel is a separate record; sender identity never
// migrates between channels.
type SenderRecord struct {
	SenderID     string     `json:"sender_id"`
	Channel      string     `json:"channel"`
	ChannelName  string     `json:"channel_name,omitempty"`
	Status       AuthStatus `json:"status"`
	Label        string     `json:"label,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	MessageCount int64      `json:"message_count"`
}

// PairingCode is a single-use short-lived code bound to one sender+channel.
// A new request replaces any outstanding code for the same key.
type PairingCode struct {
	SenderID  string    `json:"sender_id"`
	Channel   string    `json:"channel"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code is no longer valid at t.
// A code exactly at its expiry instant is expired.
func (c PairingCode) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// SenderKey is the canonical map key for a sender record.
func SenderKey(channel, senderID string) string {
	return fmt.Sprintf("%s:%s", channel, senderID)
}

// ErrPersistence wraps backend write failures. Mutations that fail to
// persist are rolled back in memory before the error reaches the caller.
var ErrPersistence = errors.New("pairing store persistence failure")

// PairingStore is the sole mutator of sender records. Implementations are
// safe for concurrent use and persist every mutation before returning.
type PairingStore interface {
	// RequestPairing issues a fresh code for the sender, creating a
	// pending record if none exists. Overwrites any outstanding code.
	RequestPairing(ctx context.Context, senderID, channel, channelName, label string) (string, error)

	// VerifyPairing consumes the code if it matches and has not expired,
	// transitioning the sender to approved. Missing or expired codes
	// verify false without error.
	VerifyPairing(ctx context.Context, senderID, channel, code string) (bool, error)

	// IsApproved reports whether the sender exists with status approved.
	IsApproved(ctx context.Context, senderID, channel string) (bool, error)

	// SenderStatus returns the sender's status; found is false when no
	// record exists.
	SenderStatus(ctx context.Context, senderID, channel string) (status AuthStatus, found bool, err error)

	// HasPendingCode reports whether an unexpired code is outstanding.
	HasPendingCode(ctx context.Context, senderID, channel string) (bool, error)

	// BlockSender sets the sender to blocked.
	BlockSender(ctx context.Context, senderID, channel string) error

	// UnblockSender transitions blocked back to approved; a no-op for any
	// other status.
	UnblockSender(ctx context.Context, senderID, channel string) error

	// AllSenders lists records, optionally filtered by channel type
	// (empty channel = all).
	AllSenders(ctx context.Context, channel string) ([]SenderRecord, error)

	// ApprovedSenders lists approved records, optionally filtered.
	ApprovedSenders(ctx context.Context, channel string) ([]SenderRecord, error)

	// CheckRateLimit reports whether the sender is under the per-minute
	// cap, and as a side effect increments the record's message count and
	// refreshes last_seen.
	CheckRateLimit(ctx context.Context, senderID, channel string) (bool, error)

	// Flush forces pending state to durable storage.
	Flush(ctx context.Context) error

	Close() error
}

// CronJob is a named scheduled job.
type CronJob struct {
	Name    string            `json:"name"`
	Expr    string            `json:"cron"`
	Recipe  string            `json:"recipe"`
	Context map[string]string `json:"context,omitempty"`
	AgentID string            `json:"agent_id,omitempty"`
	NextRun *time.Time        `json:"next_run,omitempty"`
	LastRun *time.Time        `json:"last_run,omitempty"`
}

// CronRun is one execution record for a job.
type CronRun struct {
	JobName    string    `json:"job"`
	AgentID    string    `json:"agent_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"` // "ok" or "failed"
	Result     string    `json:"result,omitempty"`
}

// CronStore persists job definitions and an append-only run log.
type CronStore interface {
	ListJobs(ctx context.Context) ([]CronJob, error)
	SaveJob(ctx context.Context, job CronJob) error
	DeleteJob(ctx context.Context, name string) error
	AppendRun(ctx context.Context, run CronRun) error
	RecentRuns(ctx context.Context, limit int) ([]CronRun, error)
	Close() error
}

// Stores bundles the storage backends handed to the daemon.
type Stores struct {
	Pairing PairingStore
	Cron    CronStore
}

// Close closes all backends, returning the first error.
func (s *Stores) Close() error {
	var first error
	if s.Pairing != nil {
		if err := s.Pairing.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.Cron != nil {
		if err := s.Cron.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
