// Package cron schedules recurring jobs from configuration and drives
// the heartbeat engine. Expressions are standard 5-field cron plus the
// named shorthands (@hourly, @daily, and friends).
package cron

import (
	"strings"
	"sync"
	"time"
)

// historySize bounds each job's retained execution records.
const historySize = 100

// Execution is one recorded firing of a job.
type Execution struct {
	JobName   string        `json:"job_name"`
	AgentID   string        `json:"agent_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // "ok" or "failed"
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// historyRing is a bounded append-only record of executions, oldest
// dropped first. Safe for concurrent use.
type historyRing struct {
	mu      sync.Mutex
	entries []Execution
}

func (r *historyRing) add(e Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > historySize {
		r.entries = r.entries[len(r.entries)-historySize:]
	}
}

func (r *historyRing) snapshot() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Execution(nil), r.entries...)
}

// shorthands maps bare schedule names to their cron macro form.
var shorthands = map[string]string{
	"hourly":   "@hourly",
	"daily":    "@daily",
	"midnight": "@midnight",
	"weekly":   "@weekly",
	"monthly":  "@monthly",
	"yearly":   "@yearly",
	"annually": "@annually",
}

// NormalizeExpr canonicalizes a schedule expression: bare shorthand
// names gain their @ prefix, everything else passes through trimmed.
func NormalizeExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if macro, ok := shorthands[strings.ToLower(expr)]; ok {
		return macro
	}
	return expr
}
