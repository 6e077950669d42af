package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"carpulse/pkg/models"
)

// InterestPoint is one loader's value for one (model, month).
type InterestPoint struct {
	ModelID int64
	Month   models.Month
	Value   decimal.Decimal
}

// MergeInterest writes the given source values into one (model, month)
// interest row. Only the columns owned by the supplied sources are written;
// on insert the rest stay NULL and on conflict they keep their stored value.
func (r *Repo) MergeInterest(ctx context.Context, tx *sql.Tx, modelID int64, month models.Month, values map[models.InterestSource]decimal.Decimal) (Change, error) {
	if _, err := models.ParseMonth(string(month)); err != nil {
		return "", err
	}
	if len(values) == 0 {
		return Unchanged, nil
	}

	sources := make([]models.InterestSource, 0, len(values))
	for src := range values {
		if src.Column() == "" {
			return "", fmt.Errorf("unknown interest source %q", src)
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	cur, err := r.getInterest(ctx, tx, modelID, month)
	if err != nil {
		return "", err
	}
	if cur != nil && sameInterest(*cur, values) {
		return Unchanged, nil
	}

	cols := []string{"model_id", "month"}
	marks := []string{"?", "?"}
	sets := make([]string, 0, len(sources)+1)
	args := []any{modelID, string(month)}
	for _, src := range sources {
		col := src.Column()
		cols = append(cols, col)
		marks = append(marks, "?")
		sets = append(sets, col+" = excluded."+col)
		args = append(args, values[src].String())
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	stmt := `INSERT INTO model_monthly_interest (` + strings.Join(cols, ", ") + `)
		VALUES (` + strings.Join(marks, ", ") + `)
		ON CONFLICT (model_id, month) DO UPDATE SET ` + strings.Join(sets, ", ")

	if _, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(stmt), args...); err != nil {
		return "", fmt.Errorf("merge interest %d/%s: %w", modelID, month, err)
	}
	if cur == nil {
		return Inserted, nil
	}
	return Updated, nil
}

// MergeInterestBatch merges one source's points in a single transaction.
// Points for unknown model ids are skipped and counted.
func (r *Repo) MergeInterestBatch(ctx context.Context, src models.InterestSource, points []InterestPoint) (Tally, int, error) {
	var (
		tally   Tally
		skipped int
	)
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		known := make(map[int64]bool)
		for _, p := range points {
			ok, seen := known[p.ModelID]
			if !seen {
				var err error
				if ok, err = r.Models.Exists(ctx, tx, p.ModelID); err != nil {
					return fmt.Errorf("lookup model %d: %w", p.ModelID, err)
				}
				known[p.ModelID] = ok
			}
			if !ok {
				skipped++
				continue
			}
			c, err := r.MergeInterest(ctx, tx, p.ModelID, p.Month, map[models.InterestSource]decimal.Decimal{src: p.Value})
			if err != nil {
				return err
			}
			tally.Add(c)
		}
		return nil
	})
	if err != nil {
		return Tally{}, 0, err
	}
	if skipped > 0 {
		r.log.Warn("interest points without model", "source", src, "skipped", skipped)
	}
	return tally, skipped, nil
}

const interestColumns = `model_id, month, naver_index, google_index, danawa_popularity`

func (r *Repo) getInterest(ctx context.Context, tx *sql.Tx, modelID int64, month models.Month) (*models.MonthlyInterestFact, error) {
	row := r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`
		SELECT `+interestColumns+`
		FROM model_monthly_interest
		WHERE model_id = ? AND month = ?
	`), modelID, string(month))
	f, err := scanInterest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get interest %d/%s: %w", modelID, month, err)
	}
	return f, nil
}

func scanInterest(row interface{ Scan(...any) error }) (*models.MonthlyInterestFact, error) {
	var (
		f                     models.MonthlyInterestFact
		month                 string
		naver, google, danawa decimal.NullDecimal
	)
	if err := row.Scan(&f.ModelID, &month, &naver, &google, &danawa); err != nil {
		return nil, err
	}
	f.Month = models.Month(month)
	f.NaverIndex = fromNull(naver)
	f.GoogleIndex = fromNull(google)
	f.DanawaPopularity = fromNull(danawa)
	return &f, nil
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

// interestValue returns the stored value of the column owned by src.
func interestValue(f models.MonthlyInterestFact, src models.InterestSource) *decimal.Decimal {
	switch src {
	case models.InterestNaver:
		return f.NaverIndex
	case models.InterestGoogle:
		return f.GoogleIndex
	case models.InterestDanawa:
		return f.DanawaPopularity
	}
	return nil
}

func sameInterest(cur models.MonthlyInterestFact, values map[models.InterestSource]decimal.Decimal) bool {
	for src, v := range values {
		v := v
		if !equalDecimal(interestValue(cur, src), &v) {
			return false
		}
	}
	return true
}

func (r *Repo) InterestByModel(ctx context.Context, modelID int64, from, to models.Month) ([]models.MonthlyInterestFact, error) {
	sqlStr, args := rangeSQL(`SELECT `+interestColumns+` FROM model_monthly_interest`, modelID, from, to)
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(sqlStr), args...)
	if err != nil {
		return nil, fmt.Errorf("interest query: %w", err)
	}
	defer rows.Close()

	var out []models.MonthlyInterestFact
	for rows.Next() {
		f, err := scanInterest(rows)
		if err != nil {
			return nil, fmt.Errorf("interest scan: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// EachInterest streams every interest fact ordered by model and month.
func (r *Repo) EachInterest(ctx context.Context, fn func(models.MonthlyInterestFact) error) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+interestColumns+` FROM model_monthly_interest ORDER BY model_id, month`)
	if err != nil {
		return fmt.Errorf("interest query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanInterest(rows)
		if err != nil {
			return fmt.Errorf("interest scan: %w", err)
		}
		if err := fn(*f); err != nil {
			return err
		}
	}
	return rows.Err()
}
