package facts

import (
	"github.com/shopspring/decimal"

	"carpulse/pkg/models"
)

// nullDecimal and nullInt64 hand NULL to the driver for nil pointers.
func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func rangeSQL(base string, modelID int64, from, to models.Month) (string, []any) {
	sqlStr := base + ` WHERE model_id = ?`
	args := []any{modelID}
	if from != "" {
		sqlStr += ` AND month >= ?`
		args = append(args, string(from))
	}
	if to != "" {
		sqlStr += ` AND month <= ?`
		args = append(args, string(to))
	}
	return sqlStr + ` ORDER BY month ASC`, args
}
