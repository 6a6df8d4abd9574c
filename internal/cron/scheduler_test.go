package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/letsgohq/letsgo/internal/store"
)

// collectHandler records fired jobs.
type collectHandler struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (h *collectHandler) handle(_ context.Context, job store.CronJob) (string, error) {
	h.mu.Lock()
	h.fired = append(h.fired, job.Name)
	h.mu.Unlock()
	return "done " + job.Name, h.err
}

func (h *collectHandler) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.fired...)
}

func TestNormalizeExpr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hourly", "@hourly"},
		{"DAILY", "@daily"},
		{" weekly ", "@weekly"},
		{"@daily", "@daily"},
		{"*/5 * * * *", "*/5 * * * *"},
		{"0 7 * * *", "0 7 * * *"},
	}
	for _, tt := range tests {
		if got := NormalizeExpr(tt.in); got != tt.want {
			t.Errorf("NormalizeExpr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSchedulerSkipsInvalid(t *testing.T) {
	h := &collectHandler{}
	s := NewScheduler([]store.CronJob{
		{Name: "good", Expr: "* * * * *"},
		{Name: "bad", Expr: "not a cron"},
		{Expr: "* * * * *"}, // no name
	}, h.handle, nil)

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "good" {
		t.Fatalf("jobs = %+v, want only the valid one", jobs)
	}
	if jobs[0].NextRun == nil {
		t.Fatal("next run should be computed on add")
	}
}

func TestSchedulerRunOnceFiresDue(t *testing.T) {
	h := &collectHandler{}
	clock := time.Date(2025, 6, 1, 6, 59, 59, 0, time.UTC)
	s := NewScheduler([]store.CronJob{
		{Name: "morning", Expr: "0 7 * * *"},
		{Name: "evening", Expr: "0 19 * * *"},
	}, h.handle, nil, WithNow(func() time.Time { return clock }))

	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("fired %d jobs before due time", n)
	}

	clock = time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d jobs at 07:00, want 1", n)
	}
	waitFor(t, func() bool { return len(h.names()) == 1 })
	if h.names()[0] != "morning" {
		t.Fatalf("fired %v, want morning", h.names())
	}

	// Same tick again: next run advanced, nothing due.
	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("job refired within the same minute, n=%d", n)
	}

	clock = time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("next day firing n=%d, want 1", n)
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	h := &collectHandler{err: errors.New("recipe exploded")}
	clock := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	s := NewScheduler([]store.CronJob{
		{Name: "morning", Expr: "0 7 * * *"},
	}, h.handle, nil, WithNow(func() time.Time { return clock }))

	if err := s.RunJob(context.Background(), "morning"); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	hist := s.History("morning")
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	if hist[0].Status != "failed" || hist[0].Error != "recipe exploded" {
		t.Fatalf("execution = %+v", hist[0])
	}

	if err := s.RunJob(context.Background(), "ghost"); err == nil {
		t.Fatal("RunJob on unknown job should error")
	}
}

func TestSchedulerPersistsRuns(t *testing.T) {
	h := &collectHandler{}
	cs := &memCronStore{}
	clock := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	s := NewScheduler([]store.CronJob{
		{Name: "morning", Expr: "0 7 * * *"},
	}, h.handle, cs, WithNow(func() time.Time { return clock }))

	s.RunJob(context.Background(), "morning")

	if len(cs.runs) != 1 || cs.runs[0].JobName != "morning" || cs.runs[0].Status != "ok" {
		t.Fatalf("persisted runs = %+v", cs.runs)
	}
	if len(cs.saved) != 1 || cs.saved[0].LastRun == nil {
		t.Fatalf("persisted job = %+v, want last run set", cs.saved)
	}
}

func TestSchedulerAddRemoveJob(t *testing.T) {
	h := &collectHandler{}
	s := NewScheduler(nil, h.handle, nil)

	if err := s.AddJob(store.CronJob{Name: "j", Expr: "hourly"}); err != nil {
		t.Fatalf("AddJob with shorthand: %v", err)
	}
	if err := s.AddJob(store.CronJob{Name: "bad", Expr: "nope"}); err == nil {
		t.Fatal("invalid expression should be rejected")
	}

	s.RemoveJob("j")
	if len(s.Jobs()) != 0 {
		t.Fatal("job survived removal")
	}
}

func TestSchedulerTickerLoop(t *testing.T) {
	h := &collectHandler{}
	var mu sync.Mutex
	clock := time.Date(2025, 6, 1, 6, 59, 59, 500000000, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	s := NewScheduler([]store.CronJob{
		{Name: "morning", Expr: "0 7 * * *"},
	}, h.handle, nil, WithNow(now), WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start should be idempotent: %v", err)
	}

	mu.Lock()
	clock = time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	mu.Unlock()

	waitFor(t, func() bool { return len(h.names()) >= 1 })

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// memCronStore is an in-memory CronStore for scheduler tests.
type memCronStore struct {
	mu    sync.Mutex
	runs  []store.CronRun
	saved []store.CronJob
}

func (m *memCronStore) ListJobs(context.Context) ([]store.CronJob, error) { return nil, nil }

func (m *memCronStore) SaveJob(_ context.Context, job store.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, job)
	return nil
}

func (m *memCronStore) DeleteJob(context.Context, string) error { return nil }

func (m *memCronStore) AppendRun(_ context.Context, run store.CronRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memCronStore) RecentRuns(_ context.Context, limit int) ([]store.CronRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := append([]store.CronRun(nil), m.runs...)
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

func (m *memCronStore) Close() error { return nil }

func TestHistoryRingBounded(t *testing.T) {
	r := &historyRing{}
	for i := 0; i < historySize+10; i++ {
		r.add(Execution{JobName: fmt.Sprintf("e%d", i)})
	}
	snap := r.snapshot()
	if len(snap) != historySize {
		t.Fatalf("ring = %d entries, want %d", len(snap), historySize)
	}
	if snap[0].JobName != "e10" || snap[len(snap)-1].JobName != fmt.Sprintf("e%d", historySize+9) {
		t.Fatalf("ring kept wrong window: first=%s last=%s", snap[0].JobName, snap[len(snap)-1].JobName)
	}
}
