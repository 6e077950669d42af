package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"carpulse/internal/normalize"
	"carpulse/pkg/models"
)

// ReadMeta parses a metadata table (brand, month, rank, model_name,
// detail_url, image_url). Rows without a model name are dropped and
// counted. The month comes from the file, not the row.
func ReadMeta(r io.Reader, brandCode string, month models.Month) ([]models.MetaRow, int, error) {
	cr := normalize.NewCSVReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read meta header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["model_name"]; !ok {
		return nil, 0, fmt.Errorf("meta table has no model_name column")
	}

	var (
		out      []models.MetaRow
		rejected int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, rejected, fmt.Errorf("read meta row: %w", err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		name := normalize.CanonicalName(get("model_name"))
		if name == "" {
			rejected++
			continue
		}
		code := strings.ToLower(get("brand"))
		if code == "" {
			code = brandCode
		}
		rank, _ := strconv.Atoi(get("rank"))
		out = append(out, models.MetaRow{
			BrandCode: code,
			Month:     month,
			Rank:      rank,
			ModelName: name,
			DetailURL: get("detail_url"),
			ImageURL:  get("image_url"),
		})
	}
	return out, rejected, nil
}
