package candidates

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"carpulse/internal/normalize"
	"carpulse/pkg/models"
)

var csvHeader = []string{"brand_name", "model_name", "first_month", "last_month", "months_count", "total_sales"}

// WriteCSV writes the set sorted by key.
func WriteCSV(w io.Writer, s Set) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range s.Sorted() {
		if err := cw.Write([]string{
			c.BrandName,
			c.EntityName,
			c.FirstMonth.String(),
			c.LastMonth.String(),
			strconv.Itoa(len(c.MonthsObserved)),
			strconv.FormatInt(c.TotalVolume, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a file produced by WriteCSV. Only the natural key and the
// month bounds survive the trip; the observed-month set is not written out.
func ReadCSV(r io.Reader) ([]*models.ModelCandidate, error) {
	cr := normalize.NewCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read candidates header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []*models.ModelCandidate
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candidates line %d: %w", line, err)
		}
		brand, name := get(row, "brand_name"), normalize.CanonicalName(get(row, "model_name"))
		if brand == "" || name == "" {
			continue
		}
		c := &models.ModelCandidate{
			BrandName:      brand,
			EntityName:     name,
			MonthsObserved: map[models.Month]struct{}{},
		}
		if m, err := models.ParseMonth(get(row, "first_month")); err == nil {
			c.FirstMonth = m
		}
		if m, err := models.ParseMonth(get(row, "last_month")); err == nil {
			c.LastMonth = m
		}
		if n, err := strconv.ParseInt(get(row, "total_sales"), 10, 64); err == nil {
			c.TotalVolume = n
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadSet reads a candidate CSV into a Set. Repeated keys are merged.
func ReadSet(r io.Reader) (Set, error) {
	cands, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	s := New()
	for _, c := range cands {
		s.Merge(Set{models.ModelKey{BrandName: c.BrandName, EntityName: c.EntityName}: c})
	}
	return s, nil
}
