package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/letsgohq/letsgo/internal/store"
)

// CronStore keeps job definitions in a JSON document next to an
// append-only JSON-lines run log.
type CronStore struct {
	mu       sync.Mutex
	jobsPath string
	logPath  string
	jobs     map[string]store.CronJob
}

// NewCronStore loads job definitions from jobsPath; logPath receives one
// JSON line per run.
func NewCronStore(jobsPath, logPath string) (*CronStore, error) {
	s := &CronStore{
		jobsPath: jobsPath,
		logPath:  logPath,
		jobs:     make(map[string]store.CronJob),
	}

	data, err := os.ReadFile(jobsPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read cron jobs: %w", err)
	default:
		var jobs []store.CronJob
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, fmt.Errorf("parse cron jobs %s: %w", jobsPath, err)
		}
		for _, j := range jobs {
			s.jobs[j.Name] = j
		}
	}
	return s, nil
}

// ListJobs returns all job definitions.
func (s *CronStore) ListJobs(ctx context.Context) ([]store.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

// SaveJob upserts a job definition and persists the document.
func (s *CronStore) SaveJob(ctx context.Context, job store.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.jobs[job.Name]
	s.jobs[job.Name] = job
	if err := s.persistLocked(); err != nil {
		if had {
			s.jobs[job.Name] = prev
		} else {
			delete(s.jobs, job.Name)
		}
		return err
	}
	return nil
}

// DeleteJob removes a job definition.
func (s *CronStore) DeleteJob(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.jobs[name]
	if !had {
		return nil
	}
	delete(s.jobs, name)
	if err := s.persistLocked(); err != nil {
		s.jobs[name] = prev
		return err
	}
	return nil
}

// AppendRun appends one JSON line to the run log.
func (s *CronStore) AppendRun(ctx context.Context, run store.CronRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0755); err != nil {
		return fmt.Errorf("cron log dir: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open cron log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append cron run: %w", err)
	}
	return nil
}

// RecentRuns reads the tail of the run log, newest last.
func (s *CronStore) RecentRuns(ctx context.Context, limit int) ([]store.CronRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cron log: %w", err)
	}
	defer f.Close()

	var runs []store.CronRun
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r store.CronRun
		if json.Unmarshal(sc.Bytes(), &r) != nil {
			continue // skip corrupt lines
		}
		runs = append(runs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

// Close is a no-op for the file backend.
func (s *CronStore) Close() error { return nil }

func (s *CronStore) persistLocked() error {
	jobs := make([]store.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.jobsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "cron-*.tmp")
	if err != nil {
		return err
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
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, s.jobsPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}
