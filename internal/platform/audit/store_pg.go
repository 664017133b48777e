package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) InsertLog(ctx context.Context, level, source, message string, detail json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_logs (level, source, message, detail)
		VALUES ($1, $2, $3, $4)`,
		level, source, message, detail)
	return err
}

func (s *storePG) InsertJobRun(ctx context.Context, run *JobRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job_name, status, processed, failed, detail, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.JobName, run.Status, run.Processed, run.Failed, run.Detail, run.StartedAt)
	return err
}

func (s *storePG) UpdateJobRun(ctx context.Context, run *JobRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET status=$2, processed=$3, failed=$4, detail=$5, completed_at=$6
		WHERE id = $1`,
		run.ID, run.Status, run.Processed, run.Failed, run.Detail, run.CompletedAt)
	return err
}
