package trend

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"carpulse/internal/facts"
	"carpulse/internal/normalize"
	"carpulse/pkg/models"
)

// averageScale is the number of decimal places kept for monthly averages.
const averageScale = 4

var NaverHeader = []string{"model_id", "keyword", "date", "ratio"}

// NaverRow is one line of the raw naver trend file.
type NaverRow struct {
	ModelID int64
	Keyword string
	Date    string
	Ratio   decimal.Decimal
}

type modelMonth struct {
	ModelID int64
	Month   models.Month
}

// ReadResult carries parsed points and the number of lines dropped.
type ReadResult struct {
	Points   []facts.InterestPoint
	Rows     int
	Rejected int
}

func WriteNaver(w io.Writer, rows []NaverRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(NaverHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{strconv.FormatInt(r.ModelID, 10), r.Keyword, r.Date, r.Ratio.String()}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadNaver parses a raw naver trend file and averages the daily or weekly
// ratios of each (model_id, month). Malformed lines are counted and skipped.
func ReadNaver(r io.Reader) (ReadResult, error) {
	var res ReadResult
	type bucket struct {
		sum decimal.Decimal
		n   int64
	}
	buckets := make(map[modelMonth]*bucket)

	err := eachRow(r, []string{"model_id", "date", "ratio"}, func(get func(string) string) {
		res.Rows++
		id, err := strconv.ParseInt(get("model_id"), 10, 64)
		if err != nil {
			res.Rejected++
			return
		}
		month, err := models.MonthFromDate(get("date"))
		if err != nil {
			res.Rejected++
			return
		}
		ratio, err := decimal.NewFromString(get("ratio"))
		if err != nil {
			res.Rejected++
			return
		}
		k := modelMonth{ModelID: id, Month: month}
		b := buckets[k]
		if b == nil {
			b = &bucket{}
			buckets[k] = b
		}
		b.sum = b.sum.Add(ratio)
		b.n++
	})
	if err != nil {
		return res, err
	}

	for k, b := range buckets {
		res.Points = append(res.Points, facts.InterestPoint{
			ModelID: k.ModelID,
			Month:   k.Month,
			Value:   b.sum.DivRound(decimal.NewFromInt(b.n), averageScale),
		})
	}
	sortPoints(res.Points)
	return res, nil
}

// ReadGoogle parses a normalized google trend file
// (model_id, month, google_trend_index).
func ReadGoogle(r io.Reader) (ReadResult, error) {
	var res ReadResult
	err := eachRow(r, []string{"model_id", "month", "google_trend_index"}, func(get func(string) string) {
		res.Rows++
		id, err := strconv.ParseInt(get("model_id"), 10, 64)
		if err != nil {
			res.Rejected++
			return
		}
		month, err := models.MonthFromDate(get("month"))
		if err != nil {
			res.Rejected++
			return
		}
		v, err := decimal.NewFromString(get("google_trend_index"))
		if err != nil {
			res.Rejected++
			return
		}
		res.Points = append(res.Points, facts.InterestPoint{ModelID: id, Month: month, Value: v})
	})
	if err != nil {
		return res, err
	}
	sortPoints(res.Points)
	return res, nil
}

func eachRow(r io.Reader, required []string, fn func(get func(string) string)) error {
	cr := normalize.NewCSVReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		fn(get)
	}
}

func sortPoints(ps []facts.InterestPoint) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].ModelID != ps[j].ModelID {
			return ps[i].ModelID < ps[j].ModelID
		}
		return ps[i].Month < ps[j].Month
	})
}
