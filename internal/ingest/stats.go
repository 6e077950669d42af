package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carpulse/internal/facts"
	"carpulse/pkg/database"
	"carpulse/pkg/models"
)

// RunStats is the summary of one job. None of these counters stops a run.
type RunStats struct {
	Files           int `json:"files"`
	TotalRows       int `json:"total_rows"`
	Rejected        int `json:"rejected"`
	SkippedNoMatch  int `json:"skipped_no_match"`
	Candidates      int `json:"candidates"`
	Created         int `json:"created"`
	Existing        int `json:"existing"`
	Enriched        int `json:"enriched"`
	URLsUpdated     int `json:"urls_updated"`
	Collisions      int `json:"collisions"`
	Mismatches      int `json:"mismatches"`
	Inserted        int `json:"inserted"`
	Updated         int `json:"updated"`
	Unchanged       int `json:"unchanged"`
	ImagesInserted  int `json:"images_inserted"`
	ImagesDuplicate int `json:"images_duplicate"`
	RowsWritten     int `json:"rows_written"`
}

func (s *RunStats) Merge(o RunStats) {
	s.Files += o.Files
	s.TotalRows += o.TotalRows
	s.Rejected += o.Rejected
	s.SkippedNoMatch += o.SkippedNoMatch
	s.Candidates += o.Candidates
	s.Created += o.Created
	s.Existing += o.Existing
	s.Enriched += o.Enriched
	s.URLsUpdated += o.URLsUpdated
	s.Collisions += o.Collisions
	s.Mismatches += o.Mismatches
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.ImagesInserted += o.ImagesInserted
	s.ImagesDuplicate += o.ImagesDuplicate
	s.RowsWritten += o.RowsWritten
}

func (s *RunStats) addTally(t facts.Tally) {
	s.Inserted += t.Inserted
	s.Updated += t.Updated
	s.Unchanged += t.Unchanged
}

// KV flattens the counters for structured logging, omitting zeros.
func (s RunStats) KV() []any {
	pairs := []struct {
		k string
		v int
	}{
		{"files", s.Files}, {"total_rows", s.TotalRows}, {"rejected", s.Rejected},
		{"skipped_no_match", s.SkippedNoMatch}, {"candidates", s.Candidates}, {"created", s.Created}, {"existing", s.Existing},
		{"enriched", s.Enriched}, {"urls_updated", s.URLsUpdated}, {"collisions", s.Collisions},
		{"mismatches", s.Mismatches}, {"inserted", s.Inserted}, {"updated", s.Updated},
		{"unchanged", s.Unchanged}, {"images_inserted", s.ImagesInserted}, {"images_duplicate", s.ImagesDuplicate},
		{"rows_written", s.RowsWritten},
	}
	out := make([]any, 0, len(pairs)*2)
	for _, p := range pairs {
		if p.v != 0 {
			out = append(out, p.k, p.v)
		}
	}
	return out
}

// RunRepo persists job summaries to ingestion_run.
type RunRepo struct {
	DB *database.DB
}

func NewRunRepo(db *database.DB) *RunRepo {
	return &RunRepo{DB: db}
}

func (r *RunRepo) Record(ctx context.Context, runID, job string, started, finished time.Time, stats RunStats) (models.IngestionRun, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return models.IngestionRun{}, fmt.Errorf("marshal run stats: %w", err)
	}
	run := models.IngestionRun{
		ID:         uuid.New(),
		RunID:      runID,
		Job:        job,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Stats:      raw,
	}
	_, err = r.DB.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO ingestion_run (id, run_id, job, started_at, finished_at, stats)
		VALUES (?, ?, ?, ?, ?, ?)
	`), run.ID.String(), run.RunID, run.Job, run.StartedAt, run.FinishedAt, string(raw))
	if err != nil {
		return models.IngestionRun{}, fmt.Errorf("insert ingestion_run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
		SELECT id, run_id, job, started_at, finished_at, stats
		FROM ingestion_run
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion_run: %w", err)
	}
	defer rows.Close()

	var out []models.IngestionRun
	for rows.Next() {
		var (
			run   models.IngestionRun
			id    string
			stats string
		)
		if err := rows.Scan(&id, &run.RunID, &run.Job, &run.StartedAt, &run.FinishedAt, &stats); err != nil {
			return nil, fmt.Errorf("scan ingestion_run: %w", err)
		}
		run.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("ingestion_run id %q: %w", id, err)
		}
		run.Stats = json.RawMessage(stats)
		out = append(out, run)
	}
	return out, rows.Err()
}
