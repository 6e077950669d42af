package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"carpulse/pkg/models"
)

// NormalizedHeader is the header of every *_normalized.csv file.
var NormalizedHeader = []string{"rank", "modelName", "salesUnits", "shareRatio", "momDelta", "yoyDelta"}

// Korean headers written by the first generation of collectors.
var headerAliases = map[string]string{
	"순위":   "rank",
	"모델명":  "modelname",
	"판매량":  "salesunits",
	"점유율":  "shareratio",
	"전월대비": "momdelta",
	"전년대비": "yoydelta",
}

// NewCSVReader wraps r in a csv.Reader that tolerates a UTF-8 byte-order
// mark and ragged rows.
func NewCSVReader(r io.Reader) *csv.Reader {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// Stats counts what happened to the rows of one table.
type Stats struct {
	Rows     int            `json:"rows"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Reasons  map[Reason]int `json:"reasons,omitempty"`
}

func (s *Stats) reject(err error) {
	s.Rejected++
	var re *RejectError
	if errors.As(err, &re) {
		if s.Reasons == nil {
			s.Reasons = make(map[Reason]int)
		}
		s.Reasons[re.Reason]++
	}
}

// ReadRaw reads a scraped sales table (header row ignored) and normalizes
// every row. Rejected rows are counted and dropped.
func ReadRaw(r io.Reader) ([]models.NormalizedRecord, Stats, error) {
	var st Stats
	cr := NewCSVReader(r)

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, st, nil
		}
		return nil, st, fmt.Errorf("read header: %w", err)
	}

	var out []models.NormalizedRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, st, fmt.Errorf("read row %d: %w", st.Rows+1, err)
		}
		if isBlank(row) {
			continue
		}
		st.Rows++

		rec, err := Normalize(trimCells(row))
		if err != nil {
			st.reject(err)
			continue
		}
		st.Accepted++
		out = append(out, rec)
	}
	return out, st, nil
}

// WriteNormalized writes records with the canonical header.
func WriteNormalized(w io.Writer, recs []models.NormalizedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(NormalizedHeader); err != nil {
		return err
	}
	for _, r := range recs {
		share := ""
		if r.ShareRatio != nil {
			share = r.ShareRatio.String()
		}
		if err := cw.Write([]string{
			strconv.Itoa(r.Rank),
			r.EntityName,
			strconv.FormatInt(r.Volume, 10),
			share,
			formatDelta(r.MoMDelta),
			formatDelta(r.YoYDelta),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadNormalized reads a *_normalized.csv file. Columns are located by
// header name, English or Korean.
func ReadNormalized(r io.Reader) ([]models.NormalizedRecord, Stats, error) {
	var st Stats
	cr := NewCSVReader(r)

	header, err := readHeader(cr)
	if err != nil {
		if err == io.EOF {
			return nil, st, nil
		}
		return nil, st, fmt.Errorf("read header: %w", err)
	}
	for _, col := range []string{"rank", "modelname", "salesunits"} {
		if _, ok := header[col]; !ok {
			return nil, st, fmt.Errorf("normalized header missing column %q", col)
		}
	}

	var out []models.NormalizedRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, st, fmt.Errorf("read row %d: %w", st.Rows+1, err)
		}
		if isBlank(row) {
			continue
		}
		st.Rows++

		rec, err := NormalizeAs(LayoutCompact, models.RawRow{
			valueAt(header, row, "rank"),
			valueAt(header, row, "modelname"),
			valueAt(header, row, "salesunits"),
			valueAt(header, row, "shareratio"),
			"", "",
		})
		if err != nil {
			st.reject(err)
			continue
		}
		// deltas are already signed integers here, not glyph cells
		rec.MoMDelta = parseSigned(valueAt(header, row, "momdelta"))
		rec.YoYDelta = parseSigned(valueAt(header, row, "yoydelta"))

		st.Accepted++
		out = append(out, rec)
	}
	return out, st, nil
}

// NormalizeFile converts one raw sales CSV into its normalized sibling.
// Nothing is written when no row survives.
func NormalizeFile(inPath, outPath string) (Stats, error) {
	f, err := os.Open(inPath)
	if err != nil {
		return Stats{}, err
	}
	recs, st, err := ReadRaw(f)
	f.Close()
	if err != nil {
		return st, fmt.Errorf("%s: %w", inPath, err)
	}
	if len(recs) == 0 {
		return st, nil
	}
	return st, writeFile(outPath, recs)
}

// FolderResult summarizes Folder.
type FolderResult struct {
	Files   []string `json:"files"`
	Skipped []string `json:"skipped,omitempty"`
	Stats   Stats    `json:"stats"`
}

// Folder normalizes every raw sales CSV in one brand directory into a
// *_normalized.csv sibling. Only "*_model_sales_*" tables are read; files
// that are already normalized are left alone; the legacy "_nomalized.csv" spelling is
// rewritten under the canonical name.
func Folder(dir string) (FolderResult, error) {
	var res FolderResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		if !strings.Contains(name, "_model_sales_") || strings.HasSuffix(name, "_normalized.csv") {
			continue
		}

		in := filepath.Join(dir, name)
		var (
			st  Stats
			out string
		)
		if strings.HasSuffix(name, "_nomalized.csv") {
			out = filepath.Join(dir, strings.TrimSuffix(name, "_nomalized.csv")+"_normalized.csv")
			st, err = renormalize(in, out)
		} else {
			out = filepath.Join(dir, strings.TrimSuffix(name, ".csv")+"_normalized.csv")
			st, err = NormalizeFile(in, out)
		}
		if err != nil {
			return res, err
		}

		res.Stats.add(st)
		if st.Accepted == 0 {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		res.Files = append(res.Files, filepath.Base(out))
	}
	return res, nil
}

func renormalize(inPath, outPath string) (Stats, error) {
	f, err := os.Open(inPath)
	if err != nil {
		return Stats{}, err
	}
	recs, st, err := ReadNormalized(f)
	f.Close()
	if err != nil {
		return st, fmt.Errorf("%s: %w", inPath, err)
	}
	if len(recs) == 0 {
		return st, nil
	}
	return st, writeFile(outPath, recs)
}

func writeFile(path string, recs []models.NormalizedRecord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteNormalized(f, recs); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Stats) add(o Stats) {
	s.Rows += o.Rows
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	for k, v := range o.Reasons {
		if s.Reasons == nil {
			s.Reasons = make(map[Reason]int)
		}
		s.Reasons[k] += v
	}
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		key := strings.ToLower(strings.TrimSpace(name))
		if alias, ok := headerAliases[key]; ok {
			key = alias
		}
		header[key] = idx
	}
	return header, nil
}

func valueAt(header map[string]int, row []string, key string) string {
	idx, ok := header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseSigned(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func formatDelta(d *int64) string {
	if d == nil {
		return ""
	}
	return strconv.FormatInt(*d, 10)
}

func trimCells(row []string) models.RawRow {
	out := make(models.RawRow, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
