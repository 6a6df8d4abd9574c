package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/letsgohq/letsgo/internal/store"
)

func newTestCronStore(t *testing.T) *CronStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewCronStore(filepath.Join(dir, "cron_jobs.json"), filepath.Join(dir, "cron.log"))
	if err != nil {
		t.Fatalf("NewCronStore: %v", err)
	}
	return s
}

func TestCronStoreJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestCronStore(t)

	job := store.CronJob{Name: "morning", Expr: "0 7 * * *", Recipe: "heartbeat"}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs = %v (err %v), want 1 job", jobs, err)
	}
	if jobs[0].Name != "morning" || jobs[0].Expr != "0 7 * * *" {
		t.Fatalf("job round-trip mismatch: %+v", jobs[0])
	}

	// Upsert replaces by name.
	job.Recipe = "digest"
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob upsert: %v", err)
	}
	jobs, _ = s.ListJobs(ctx)
	if len(jobs) != 1 || jobs[0].Recipe != "digest" {
		t.Fatalf("upsert should replace, got %+v", jobs)
	}

	if err := s.DeleteJob(ctx, "morning"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, "morning"); err != nil {
		t.Fatalf("DeleteJob of missing job should be a no-op, got %v", err)
	}
	jobs, _ = s.ListJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("jobs after delete = %v, want none", jobs)
	}
}

func TestCronStorePersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	jobsPath := filepath.Join(dir, "cron_jobs.json")
	logPath := filepath.Join(dir, "cron.log")

	s, err := NewCronStore(jobsPath, logPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveJob(ctx, store.CronJob{Name: "nightly", Expr: "@daily"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewCronStore(jobsPath, logPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	jobs, _ := reopened.ListJobs(ctx)
	if len(jobs) != 1 || jobs[0].Name != "nightly" {
		t.Fatalf("jobs after reopen = %+v", jobs)
	}
}

func TestCronStoreRunLog(t *testing.T) {
	ctx := context.Background()
	s := newTestCronStore(t)

	base := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := store.CronRun{
			JobName:   "morning",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Status:    "ok",
		}
		if err := s.AppendRun(ctx, run); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	runs, err := s.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("RecentRuns = %d entries, want 3", len(runs))
	}
	// Tail of the log, newest last.
	if !runs[2].StartedAt.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("last run = %v, want the newest", runs[2].StartedAt)
	}

	all, _ := s.RecentRuns(ctx, 0)
	if len(all) != 5 {
		t.Fatalf("unlimited RecentRuns = %d, want 5", len(all))
	}
}

func TestCronStoreRecentRunsMissingLog(t *testing.T) {
	s := newTestCronStore(t)
	runs, err := s.RecentRuns(context.Background(), 10)
	if err != nil || runs != nil {
		t.Fatalf("missing log should yield nil, nil; got %v, %v", runs, err)
	}
}
