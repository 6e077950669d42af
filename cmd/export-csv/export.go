package main

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"carpulse/internal/facts"
	"carpulse/internal/registry"
	"carpulse/pkg/models"
)

type exporter struct {
	models *registry.Repo
	facts  *facts.Repo
}

// csvFile counts the data rows written through it.
type csvFile struct {
	w    *csv.Writer
	rows int
}

func (f *csvFile) write(rec []string) error {
	f.rows++
	return f.w.Write(rec)
}

func writeCSVFile(ctx context.Context, path string, fn func(context.Context, *csvFile) error) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	f := &csvFile{w: csv.NewWriter(out)}
	if err := fn(ctx, f); err != nil {
		return 0, err
	}
	f.w.Flush()
	if err := f.w.Error(); err != nil {
		return 0, err
	}
	return f.rows, out.Close()
}

func (ex exporter) writeModels(ctx context.Context, f *csvFile) error {
	if err := f.w.Write([]string{"model_id", "brand_name", "model_name", "external_id", "external_url"}); err != nil {
		return err
	}
	all, err := ex.models.All(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		extID, extURL := "", ""
		if m.ExternalID != nil {
			extID = strconv.FormatInt(*m.ExternalID, 10)
		}
		if m.ExternalURL != nil {
			extURL = *m.ExternalURL
		}
		if err := f.write([]string{
			strconv.FormatInt(m.ModelID, 10),
			m.BrandName,
			m.EntityName,
			extID,
			extURL,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (ex exporter) writeSales(ctx context.Context, f *csvFile) error {
	if err := f.w.Write([]string{"model_id", "month", "sales_units", "market_total_units", "adoption_rate", "source"}); err != nil {
		return err
	}
	return ex.facts.EachSales(ctx, func(s models.MonthlySalesFact) error {
		total := ""
		if s.MarketTotalUnits != nil {
			total = strconv.FormatInt(*s.MarketTotalUnits, 10)
		}
		return f.write([]string{
			strconv.FormatInt(s.ModelID, 10),
			s.Month.String(),
			strconv.FormatInt(s.SalesUnits, 10),
			total,
			decimalString(s.AdoptionRate),
			s.Source,
		})
	})
}

func (ex exporter) writeInterest(ctx context.Context, f *csvFile) error {
	if err := f.w.Write([]string{"model_id", "month", "naver_index", "google_index", "danawa_popularity"}); err != nil {
		return err
	}
	return ex.facts.EachInterest(ctx, func(i models.MonthlyInterestFact) error {
		return f.write([]string{
			strconv.FormatInt(i.ModelID, 10),
			i.Month.String(),
			decimalString(i.NaverIndex),
			decimalString(i.GoogleIndex),
			decimalString(i.DanawaPopularity),
		})
	})
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
