// Package registry owns the durable model identities: creating them from
// candidates and enriching them with identifiers minted by the source site.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/models"
)

type Repo struct {
	DB  *database.DB
	log *logger.Logger
}

func NewRepo(db *database.DB, baseLog *logger.Logger) *Repo {
	return &Repo{DB: db, log: baseLog.With("repo", "registry")}
}

func (r *Repo) q(tx *sql.Tx) database.Querier {
	if tx == nil {
		return r.DB
	}
	return tx
}

const modelColumns = `model_id, brand_name, model_name, external_id, external_url`

func scanModel(row interface{ Scan(...any) error }) (*models.CanonicalModel, error) {
	var (
		m      models.CanonicalModel
		extID  sql.NullInt64
		extURL sql.NullString
	)
	if err := row.Scan(&m.ModelID, &m.BrandName, &m.EntityName, &extID, &extURL); err != nil {
		return nil, err
	}
	if extID.Valid {
		v := extID.Int64
		m.ExternalID = &v
	}
	if extURL.Valid && extURL.String != "" {
		v := extURL.String
		m.ExternalURL = &v
	}
	return &m, nil
}

func (r *Repo) getOne(ctx context.Context, tx *sql.Tx, where string, args ...any) (*models.CanonicalModel, error) {
	row := r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT `+modelColumns+` FROM car_model WHERE `+where), args...)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan car_model: %w", err)
	}
	return m, nil
}

// GetByKey resolves a model by its natural key. A nil model means no match.
func (r *Repo) GetByKey(ctx context.Context, tx *sql.Tx, key models.ModelKey) (*models.CanonicalModel, error) {
	return r.getOne(ctx, tx, `brand_name = ? AND model_name = ?`, key.BrandName, key.EntityName)
}

func (r *Repo) GetByID(ctx context.Context, tx *sql.Tx, id int64) (*models.CanonicalModel, error) {
	return r.getOne(ctx, tx, `model_id = ?`, id)
}

func (r *Repo) GetByExternalID(ctx context.Context, tx *sql.Tx, externalID int64) (*models.CanonicalModel, error) {
	return r.getOne(ctx, tx, `external_id = ?`, externalID)
}

// KeyIndex maps model name -> model id for every model of one brand, so a
// whole batch resolves with one query.
func (r *Repo) KeyIndex(ctx context.Context, tx *sql.Tx, brandName string) (map[string]int64, error) {
	rows, err := r.q(tx).QueryContext(ctx, r.DB.Rebind(`
		SELECT model_id, model_name FROM car_model WHERE brand_name = ?
	`), brandName)
	if err != nil {
		return nil, fmt.Errorf("key index query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("key index scan: %w", err)
		}
		out[strings.TrimSpace(name)] = id
	}
	return out, rows.Err()
}

// Exists reports whether a model id is registered.
func (r *Repo) Exists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var one int
	err := r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT 1 FROM car_model WHERE model_id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

type ListQuery struct {
	Brand  string
	Q      string // substring of model name
	Limit  int
	Offset int
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	var total int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind(sqlStr), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.CanonicalModel, error) {
	q.Limit, q.Offset = Page(q.Limit, q.Offset)
	sqlStr, args := buildListSQL(q, false)
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(sqlStr), args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.CanonicalModel, 0, q.Limit)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// All returns every registered model ordered by id.
func (r *Repo) All(ctx context.Context) ([]models.CanonicalModel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+modelColumns+` FROM car_model ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("all query: %w", err)
	}
	defer rows.Close()

	var out []models.CanonicalModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("all scan: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	baseSelect := `SELECT ` + modelColumns + ` FROM car_model`
	if countOnly {
		baseSelect = `SELECT COUNT(*) FROM car_model`
	}

	var where []string
	var args []any

	if b := strings.TrimSpace(q.Brand); b != "" {
		where = append(where, "brand_name = ?")
		args = append(args, b)
	}
	if kw := strings.TrimSpace(q.Q); kw != "" {
		where = append(where, "LOWER(model_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}

	sqlStr := baseSelect
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if !countOnly {
		sqlStr += " ORDER BY brand_name ASC, model_name ASC"
		sqlStr += " LIMIT ? OFFSET ?"
		limit, offset := Page(q.Limit, q.Offset)
		args = append(args, limit, offset)
	}

	return sqlStr, args
}

// Page clamps list paging to 1..100 rows (default 20) and a non-negative offset.
func Page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
