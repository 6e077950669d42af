// Package facts reconciles monthly sales and interest measurements into the
// fact tables keyed by (model_id, month).
package facts

import (
	"context"
	"database/sql"

	"carpulse/internal/registry"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
)

// Change describes what an upsert did to one fact row.
type Change string

const (
	Inserted  Change = "inserted"
	Updated   Change = "updated"
	Unchanged Change = "unchanged"
)

type Repo struct {
	DB     *database.DB
	Models *registry.Repo
	log    *logger.Logger
}

func NewRepo(db *database.DB, baseLog *logger.Logger) *Repo {
	return &Repo{
		DB:     db,
		Models: registry.NewRepo(db, baseLog),
		log:    baseLog.With("repo", "facts"),
	}
}

func (r *Repo) q(tx *sql.Tx) database.Querier {
	if tx == nil {
		return r.DB
	}
	return tx
}

// Tally counts upsert outcomes across a batch.
type Tally struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

func (t *Tally) Add(c Change) {
	switch c {
	case Inserted:
		t.Inserted++
	case Updated:
		t.Updated++
	case Unchanged:
		t.Unchanged++
	}
}

func (r *Repo) withTx(ctx context.Context, tx *sql.Tx, fn func(tx *sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return database.WithTx(ctx, r.DB, fn)
}
