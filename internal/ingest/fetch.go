package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"carpulse/internal/trend"
)

// TrendFetcher returns a keyword's search-interest series.
type TrendFetcher interface {
	FetchTrend(ctx context.Context, keyword, start, end, unit string) ([]trend.Point, error)
}

// FetchNaver queries the trend source once per registered model, keyed by
// model name, and writes the raw naver trend file of the run. A model whose
// request fails is logged and counted as rejected.
func (p *Pipeline) FetchNaver(ctx context.Context, src TrendFetcher, start, end, unit string) (RunStats, error) {
	return p.track(ctx, JobFetchNaver, func() (RunStats, error) {
		var stats RunStats
		all, err := p.Registry.All(ctx)
		if err != nil {
			return stats, err
		}

		var rows []trend.NaverRow
		for _, m := range all {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.TotalRows++
			pts, err := src.FetchTrend(ctx, m.EntityName, start, end, unit)
			if err != nil {
				stats.Rejected++
				p.log.Warn("trend fetch failed", "model_id", m.ModelID, "keyword", m.EntityName, "error", err)
				continue
			}
			for _, pt := range pts {
				rows = append(rows, trend.NaverRow{ModelID: m.ModelID, Keyword: m.EntityName, Date: pt.Period, Ratio: pt.Ratio})
			}
		}

		path := p.Layout.NaverFile()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return stats, err
		}
		f, err := os.Create(path)
		if err != nil {
			return stats, err
		}
		if err := trend.WriteNaver(f, rows); err != nil {
			f.Close()
			return stats, fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return stats, err
		}
		stats.Files = 1
		stats.RowsWritten = len(rows)
		return stats, nil
	})
}
