package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestionRun is the persisted summary of one pipeline job.
type IngestionRun struct {
	ID         uuid.UUID       `json:"id"`
	RunID      string          `json:"run_id"`
	Job        string          `json:"job"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stats      json.RawMessage `json:"stats"`
}
