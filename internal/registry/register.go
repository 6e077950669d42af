package registry

import (
	"context"
	"database/sql"
	"fmt"

	"carpulse/pkg/models"
)

type RegisterResult struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// RegisterCandidates creates a model for every candidate whose natural key
// is not registered yet. Existing rows are never touched, so running it
// again with the same candidates changes nothing.
func (r *Repo) RegisterCandidates(ctx context.Context, tx *sql.Tx, cands []*models.ModelCandidate) (RegisterResult, error) {
	var res RegisterResult
	q := r.DB.Rebind(`
		INSERT INTO car_model (brand_name, model_name, external_id, external_url)
		VALUES (?, ?, NULL, NULL)
		ON CONFLICT (brand_name, model_name) DO NOTHING
	`)

	for _, c := range cands {
		if c == nil || c.BrandName == "" || c.EntityName == "" {
			continue
		}
		out, err := r.q(tx).ExecContext(ctx, q, c.BrandName, c.EntityName)
		if err != nil {
			return res, fmt.Errorf("register %s/%s: %w", c.BrandName, c.EntityName, err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("register %s/%s rows affected: %w", c.BrandName, c.EntityName, err)
		}
		if n > 0 {
			res.Created++
			r.log.Debug("model registered", "brand", c.BrandName, "model", c.EntityName)
		} else {
			res.Existing++
		}
	}
	return res, nil
}
