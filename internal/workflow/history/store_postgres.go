package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"devguard/internal/workflow"
	"devguard/pkg/platform/sentinel"
	txcontext "devguard/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// PostgresStore persists runs in two tables: one row per run and one row per
// step result, written in a single transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the history tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate workflow history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, run Run) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Execer(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_runs (
				id, workflow_id, workflow_name, device_id, user_id,
				status, success, failed_step_index, reason, started_at, finished_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`,
			run.ExecutionID, run.WorkflowID, run.WorkflowName, run.DeviceID, run.UserID,
			string(run.Status), run.Success, run.FailedStepIndex, run.Reason,
			run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("insert workflow run: %w", err)
		}

		for pos, sr := range run.Results {
			var details []byte
			if sr.Details != nil {
				if details, err = json.Marshal(sr.Details); err != nil {
					return fmt.Errorf("encode step details: %w", err)
				}
			}
			_, err = exec.ExecContext(ctx, `
				INSERT INTO workflow_run_steps (
					run_id, position, step_id, step_name, step_index,
					success, output, error, retried_count, details, executed_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (run_id, position) DO NOTHING
			`,
				run.ExecutionID, pos, sr.StepID, sr.StepName, sr.Index,
				sr.Success, sr.Output, sr.Error, sr.RetriedCount, details, sr.Timestamp,
			)
			if err != nil {
				return fmt.Errorf("insert step result: %w", err)
			}
		}
		return nil
	})
}

const runColumns = `
	id, workflow_id, workflow_name, device_id, user_id,
	status, success, failed_step_index, reason, started_at, finished_at
`

func (s *PostgresStore) Get(ctx context.Context, id string) (Run, error) {
	runs, err := s.query(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, sentinel.ErrNotFound
	}
	return runs[0], nil
}

func (s *PostgresStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Run, error) {
	return s.query(ctx, `
		SELECT `+runColumns+`
		FROM workflow_runs
		WHERE device_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`, deviceID, clampLimit(limit))
}

func (s *PostgresStore) ListByWorkflows(ctx context.Context, workflowIDs []string, limit int) ([]Run, error) {
	if len(workflowIDs) == 0 {
		return []Run{}, nil
	}
	return s.query(ctx, `
		SELECT `+runColumns+`
		FROM workflow_runs
		WHERE workflow_id = ANY($1::text[])
		ORDER BY finished_at DESC
		LIMIT $2
	`, pq.Array(workflowIDs), clampLimit(limit))
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	return s.query(ctx, `
		SELECT `+runColumns+`
		FROM workflow_runs
		ORDER BY finished_at DESC
		LIMIT $1
	`, clampLimit(limit))
}

// query loads the matching runs, then their steps in one round trip.
func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	index := map[string]int{}
	for rows.Next() {
		var (
			r      Run
			status string
			failed sql.NullInt64
		)
		if err := rows.Scan(
			&r.ExecutionID, &r.WorkflowID, &r.WorkflowName, &r.DeviceID, &r.UserID,
			&status, &r.Success, &failed, &r.Reason, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		r.Status = workflow.Status(status)
		if failed.Valid {
			idx := int(failed.Int64)
			r.FailedStepIndex = &idx
		}
		r.StartedAt = r.StartedAt.UTC()
		r.FinishedAt = r.FinishedAt.UTC()
		r.Results = []workflow.StepResult{}
		flags(&r)
		index[r.ExecutionID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow runs: %w", err)
	}
	if len(runs) == 0 {
		return runs, nil
	}
	if err := s.attachSteps(ctx, runs, index); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *PostgresStore) attachSteps(ctx context.Context, runs []Run, index map[string]int) error {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ExecutionID)
	}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT run_id, step_id, step_name, step_index, success,
		       output, error, retried_count, details, executed_at
		FROM workflow_run_steps
		WHERE run_id = ANY($1::text[])
		ORDER BY run_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID   string
			sr      workflow.StepResult
			retried sql.NullInt64
			details []byte
		)
		if err := rows.Scan(
			&runID, &sr.StepID, &sr.StepName, &sr.Index, &sr.Success,
			&sr.Output, &sr.Error, &retried, &details, &sr.Timestamp,
		); err != nil {
			return fmt.Errorf("scan step result: %w", err)
		}
		if retried.Valid {
			n := int(retried.Int64)
			sr.RetriedCount = &n
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &sr.Details); err != nil {
				return fmt.Errorf("decode step details: %w", err)
			}
		}
		sr.Timestamp = sr.Timestamp.UTC()
		i, ok := index[runID]
		if !ok {
			return errors.New("step result for unknown run")
		}
		runs[i].Results = append(runs[i].Results, sr)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate step results: %w", err)
	}
	return nil
}
