package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"carpulse/pkg/models"
)

// adoptionScale is the number of decimal places kept for adoption rates.
const adoptionScale = 6

var hundred = decimal.NewFromInt(100)

// SalesResult summarises one reconciled sales batch.
type SalesResult struct {
	Tally
	SkippedNoMatch   int   `json:"skipped_no_match"`
	MarketTotalUnits int64 `json:"market_total_units"`
}

// MarketTotal sums the volume of every record in one batch.
func MarketTotal(recs []models.NormalizedRecord) int64 {
	var total int64
	for _, rec := range recs {
		total += rec.Volume
	}
	return total
}

// AdoptionRate is the share of the batch a record accounts for, as a
// fraction. A source-supplied share (percent) wins over the batch ratio.
// With neither, the rate is unknown.
func AdoptionRate(rec models.NormalizedRecord, marketTotal int64) *decimal.Decimal {
	if rec.ShareRatio != nil {
		v := rec.ShareRatio.Div(hundred).Round(adoptionScale)
		return &v
	}
	if marketTotal <= 0 {
		return nil
	}
	v := decimal.NewFromInt(rec.Volume).DivRound(decimal.NewFromInt(marketTotal), adoptionScale)
	return &v
}

// BuildSalesFacts derives the fact rows of one (brand, month) batch.
// ids maps entity name to model id; records whose name is not in ids are
// returned as skipped. The market total covers the whole batch, resolved
// or not.
func BuildSalesFacts(month models.Month, source string, recs []models.NormalizedRecord, ids map[string]int64) (facts []models.MonthlySalesFact, skipped []models.NormalizedRecord) {
	total := MarketTotal(recs)
	var totalPtr *int64
	if total > 0 {
		totalPtr = &total
	}

	for _, rec := range recs {
		id, ok := ids[rec.EntityName]
		if !ok {
			skipped = append(skipped, rec)
			continue
		}
		facts = append(facts, models.MonthlySalesFact{
			ModelID:          id,
			Month:            month,
			SalesUnits:       rec.Volume,
			MarketTotalUnits: totalPtr,
			AdoptionRate:     AdoptionRate(rec, total),
			Source:           source,
		})
	}
	return facts, skipped
}

// ReconcileSales writes one (brand, month) batch. Every write happens in a
// single transaction; when tx is nil one is opened here.
//
// Sales columns have a single producer, so an existing row is overwritten
// with the new values. Rows whose stored values already match are left
// alone and counted as unchanged.
func (r *Repo) ReconcileSales(ctx context.Context, tx *sql.Tx, month models.Month, source string, recs []models.NormalizedRecord, ids map[string]int64) (SalesResult, error) {
	var res SalesResult
	if _, err := models.ParseMonth(string(month)); err != nil {
		return res, err
	}

	facts, skipped := BuildSalesFacts(month, source, recs, ids)
	res.SkippedNoMatch = len(skipped)
	res.MarketTotalUnits = MarketTotal(recs)
	for _, s := range skipped {
		r.log.Debug("sales row has no model", "month", month, "model", s.EntityName)
	}

	err := r.withTx(ctx, tx, func(tx *sql.Tx) error {
		for _, f := range facts {
			c, err := r.upsertSales(ctx, tx, f)
			if err != nil {
				return err
			}
			res.Add(c)
		}
		return nil
	})
	if err != nil {
		return SalesResult{}, err
	}
	return res, nil
}

func (r *Repo) upsertSales(ctx context.Context, tx *sql.Tx, f models.MonthlySalesFact) (Change, error) {
	cur, err := r.getSales(ctx, tx, f.ModelID, f.Month)
	if err != nil {
		return "", err
	}
	if cur != nil && sameSales(*cur, f) {
		return Unchanged, nil
	}

	_, err = tx.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO model_monthly_sales
		  (model_id, month, sales_units, market_total_units, adoption_rate, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (model_id, month) DO UPDATE SET
		  sales_units        = excluded.sales_units,
		  market_total_units = excluded.market_total_units,
		  adoption_rate      = excluded.adoption_rate,
		  source             = excluded.source,
		  updated_at         = CURRENT_TIMESTAMP
	`), f.ModelID, string(f.Month), f.SalesUnits, nullInt64(f.MarketTotalUnits), nullDecimal(f.AdoptionRate), f.Source)
	if err != nil {
		return "", fmt.Errorf("upsert sales %d/%s: %w", f.ModelID, f.Month, err)
	}
	if cur == nil {
		return Inserted, nil
	}
	return Updated, nil
}

func (r *Repo) getSales(ctx context.Context, tx *sql.Tx, modelID int64, month models.Month) (*models.MonthlySalesFact, error) {
	row := r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`
		SELECT `+salesColumns+`
		FROM model_monthly_sales
		WHERE model_id = ? AND month = ?
	`), modelID, string(month))
	f, err := scanSales(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sales %d/%s: %w", modelID, month, err)
	}
	return f, nil
}

const salesColumns = `model_id, month, sales_units, market_total_units, adoption_rate, source`

func scanSales(row interface{ Scan(...any) error }) (*models.MonthlySalesFact, error) {
	var (
		f     models.MonthlySalesFact
		month string
		total sql.NullInt64
		rate  decimal.NullDecimal
	)
	if err := row.Scan(&f.ModelID, &month, &f.SalesUnits, &total, &rate, &f.Source); err != nil {
		return nil, err
	}
	f.Month = models.Month(month)
	if total.Valid {
		v := total.Int64
		f.MarketTotalUnits = &v
	}
	if rate.Valid {
		v := rate.Decimal
		f.AdoptionRate = &v
	}
	return &f, nil
}

func sameSales(a, b models.MonthlySalesFact) bool {
	return a.SalesUnits == b.SalesUnits &&
		a.Source == b.Source &&
		equalInt64(a.MarketTotalUnits, b.MarketTotalUnits) &&
		equalDecimal(a.AdoptionRate, b.AdoptionRate)
}

// SalesByModel returns a model's sales facts in month order, optionally
// bounded by inclusive from/to months (empty means open).
func (r *Repo) SalesByModel(ctx context.Context, modelID int64, from, to models.Month) ([]models.MonthlySalesFact, error) {
	sqlStr, args := rangeSQL(`SELECT `+salesColumns+` FROM model_monthly_sales`, modelID, from, to)
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(sqlStr), args...)
	if err != nil {
		return nil, fmt.Errorf("sales query: %w", err)
	}
	defer rows.Close()

	var out []models.MonthlySalesFact
	for rows.Next() {
		f, err := scanSales(rows)
		if err != nil {
			return nil, fmt.Errorf("sales scan: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// EachSales streams every sales fact ordered by model and month.
func (r *Repo) EachSales(ctx context.Context, fn func(models.MonthlySalesFact) error) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+salesColumns+` FROM model_monthly_sales ORDER BY model_id, month`)
	if err != nil {
		return fmt.Errorf("sales query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanSales(rows)
		if err != nil {
			return fmt.Errorf("sales scan: %w", err)
		}
		if err := fn(*f); err != nil {
			return err
		}
	}
	return rows.Err()
}
