package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letsgohq/letsgo/internal/store"
)

// CronStore is the PostgreSQL-backed cron store.
type CronStore struct {
	pool *pgxpool.Pool
}

// NewCronStore wraps a connected pool.
func NewCronStore(pool *pgxpool.Pool) *CronStore { return &CronStore{pool: pool} }

func (s *CronStore) ListJobs(ctx context.Context) ([]store.CronJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, expr, recipe, context, agent_id FROM cron_jobs`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []store.CronJob
	for rows.Next() {
		var j store.CronJob
		var ctxJSON []byte
		if err := rows.Scan(&j.Name, &j.Expr, &j.Recipe, &ctxJSON, &j.AgentID); err != nil {
			return nil, err
		}
		if len(ctxJSON) > 0 {
			_ = json.Unmarshal(ctxJSON, &j.Context)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *CronStore) SaveJob(ctx context.Context, job store.CronJob) error {
	ctxJSON, err := json.Marshal(job.Context)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cron_jobs (name, expr, recipe, context, agent_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET expr = excluded.expr,
			recipe = excluded.recipe, context = excluded.context, agent_id = excluded.agent_id`,
		job.Name, job.Expr, job.Recipe, ctxJSON, job.AgentID)
	if err != nil {
		return fmt.Errorf("save cron job: %w", err)
	}
	return nil
}

func (s *CronStore) DeleteJob(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cron_jobs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	return nil
}

func (s *CronStore) AppendRun(ctx context.Context, run store.CronRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cron_runs (job_name, agent_id, started_at, duration_ms, status, result)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.JobName, run.AgentID, run.StartedAt, run.DurationMS, run.Status, run.Result)
	if err != nil {
		return fmt.Errorf("append cron run: %w", err)
	}
	return nil
}

func (s *CronStore) RecentRuns(ctx context.Context, limit int) ([]store.CronRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT job_name, agent_id, started_at, duration_ms, status, result
		FROM cron_runs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent cron runs: %w", err)
	}
	defer rows.Close()

	var out []store.CronRun
	for rows.Next() {
		var r store.CronRun
		if err := rows.Scan(&r.JobName, &r.AgentID, &r.StartedAt, &r.DurationMS, &r.Status, &r.Result); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *CronStore) Close() error { return nil }
