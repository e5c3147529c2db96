package duckdb

import (
	"context"
	"fmt"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
)

var _ ports.ResultJournal = (*Repository)(nil)

// AppendResult stores one result. Replaying a sequence number already stored is a no-op.
func (r *Repository) AppendResult(ctx context.Context, res domain.Result) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO results (seq, job_id, original, filtered, processed_by, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (seq) DO NOTHING`,
		res.Seq,
		string(res.JobID),
		res.Original,
		res.Filtered,
		string(res.ProcessedBy),
		res.SubmittedAt.UTC(),
		res.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result %d: %w", res.Seq, err)
	}
	return nil
}

// ListResults returns all stored results in sequence order.
func (r *Repository) ListResults(ctx context.Context) ([]domain.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, job_id, original, filtered, processed_by, submitted_at, completed_at
		FROM results
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		var (
			res                    domain.Result
			jobID, processedBy     string
			submittedAt, completed time.Time
		)
		if err := rows.Scan(&res.Seq, &jobID, &res.Original, &res.Filtered, &processedBy, &submittedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.JobID = domain.JobID(jobID)
		res.ProcessedBy = domain.WorkerAddress(processedBy)
		res.SubmittedAt = submittedAt
		res.CompletedAt = completed
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) ClearResults(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	return nil
}
