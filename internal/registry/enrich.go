package registry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"carpulse/pkg/models"
)

type Outcome string

const (
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeEnriched  Outcome = "enriched"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeCollision: another model already owns the external id.
	OutcomeCollision Outcome = "collision"
	// OutcomeMismatch: this model already carries a different external id.
	OutcomeMismatch Outcome = "mismatch"
)

type EnrichResult struct {
	ModelID    int64
	Outcome    Outcome
	URLUpdated bool
}

// Enrich attaches an external id and detail URL to the model with the
// given natural key.
//
// The external id is written only while the model has none and no other
// model owns it, in one conditional UPDATE: the first writer of an id keeps
// it. The URL is display data and is updated whenever one is supplied, even
// on a collision. Missing inputs never clear stored values.
func (r *Repo) Enrich(ctx context.Context, tx *sql.Tx, key models.ModelKey, externalID *int64, externalURL string) (EnrichResult, error) {
	m, err := r.GetByKey(ctx, tx, key)
	if err != nil {
		return EnrichResult{}, err
	}
	if m == nil {
		return EnrichResult{Outcome: OutcomeNoMatch}, nil
	}

	res := EnrichResult{ModelID: m.ModelID, Outcome: OutcomeUnchanged}

	if externalID != nil {
		res.Outcome, err = r.claimExternalID(ctx, tx, m, *externalID)
		if err != nil {
			return res, err
		}
	}

	if u := strings.TrimSpace(externalURL); u != "" {
		out, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`
			UPDATE car_model SET external_url = ?
			WHERE model_id = ? AND (external_url IS NULL OR external_url <> ?)
		`), u, m.ModelID, u)
		if err != nil {
			return res, fmt.Errorf("update external_url for %d: %w", m.ModelID, err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("update external_url rows affected: %w", err)
		}
		res.URLUpdated = n > 0
	}

	if res.Outcome == OutcomeCollision || res.Outcome == OutcomeMismatch {
		r.log.Warn("external id not applied",
			"outcome", res.Outcome,
			"model_id", m.ModelID,
			"brand", key.BrandName,
			"model", key.EntityName,
			"external_id", *externalID,
		)
	}
	return res, nil
}

func (r *Repo) claimExternalID(ctx context.Context, tx *sql.Tx, m *models.CanonicalModel, externalID int64) (Outcome, error) {
	out, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`
		UPDATE car_model SET external_id = ?
		WHERE model_id = ?
		  AND external_id IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM car_model owner
		    WHERE owner.external_id = ? AND owner.model_id <> ?
		  )
	`), externalID, m.ModelID, externalID, m.ModelID)
	if err != nil {
		return "", fmt.Errorf("claim external_id %d for %d: %w", externalID, m.ModelID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("claim external_id rows affected: %w", err)
	}
	if n > 0 {
		return OutcomeEnriched, nil
	}

	if m.ExternalID != nil && *m.ExternalID == externalID {
		return OutcomeUnchanged, nil
	}
	owner, err := r.GetByExternalID(ctx, tx, externalID)
	if err != nil {
		return "", err
	}
	if owner != nil && owner.ModelID != m.ModelID {
		return OutcomeCollision, nil
	}
	return OutcomeMismatch, nil
}

// ExternalIDFromURL extracts the numeric id carried by a detail URL's
// "Model" query parameter, e.g. https://auto.danawa.com/auto/?Work=model&Model=33191.
func ExternalIDFromURL(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	qs := u.Query()
	v := qs.Get("Model")
	if v == "" {
		v = qs.Get("model")
	}
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
