package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"carpulse/pkg/models"
)

// ErrMissingInput marks a batch whose input cannot be located. It is raised
// before anything is written.
var ErrMissingInput = errors.New("missing input")

var fileMonth = regexp.MustCompile(`(\d{4})_(\d{2})_00`)

// Layout locates the files of one run under the data directory.
type Layout struct {
	DataDir string
	RunID   string
}

func (l Layout) BrandDir(brandCode string) string {
	return filepath.Join(l.DataDir, "raw", "danawa", l.RunID, brandCode)
}

func (l Layout) NaverFile() string {
	return filepath.Join(l.DataDir, "raw", "naver", l.RunID, "naver_trend_"+l.RunID+".csv")
}

func (l Layout) GoogleFile() string {
	return filepath.Join(l.DataDir, "raw", "google", l.RunID, "google_trend_"+l.RunID+"_normalized.csv")
}

func (l Layout) CandidatesFile() string {
	return filepath.Join(l.DataDir, "processed", "car_model_candidates_"+l.RunID+".csv")
}

// MonthFromFilename extracts the month of a YYYY_MM_00 file name token.
func MonthFromFilename(name string) (models.Month, error) {
	m := fileMonth.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", fmt.Errorf("%w: no month in file name %q", ErrMissingInput, name)
	}
	year, _ := strconv.Atoi(m[1])
	mon, _ := strconv.Atoi(m[2])
	month, err := models.MonthOf(year, mon)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMissingInput, name, err)
	}
	return month, nil
}

// SourceFile is one monthly input file of a brand.
type SourceFile struct {
	Path  string
	Month models.Month
}

type fileKind int

const (
	salesFiles fileKind = iota
	metaFiles
)

func (k fileKind) match(name string) (bool, int) {
	if !strings.HasSuffix(name, ".csv") {
		return false, 0
	}
	switch k {
	case salesFiles:
		if !strings.Contains(name, "_model_sales_") {
			return false, 0
		}
		if strings.HasSuffix(name, "_normalized.csv") {
			return true, 2
		}
		if strings.HasSuffix(name, "_nomalized.csv") {
			return true, 1
		}
	case metaFiles:
		if strings.Contains(name, "_model_meta_") {
			return true, 1
		}
	}
	return false, 0
}

// listFiles returns one file per month, sorted by month. When both spellings
// of a normalized file exist, the canonical one wins.
func listFiles(dir string, kind fileKind) ([]SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: directory %s", ErrMissingInput, dir)
	}
	if err != nil {
		return nil, err
	}

	type pick struct {
		SourceFile
		prio int
	}
	byMonth := make(map[models.Month]pick)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, prio := kind.match(e.Name())
		if !ok {
			continue
		}
		month, err := MonthFromFilename(e.Name())
		if err != nil {
			return nil, err
		}
		if cur, seen := byMonth[month]; seen && cur.prio >= prio {
			continue
		}
		byMonth[month] = pick{SourceFile{Path: filepath.Join(dir, e.Name()), Month: month}, prio}
	}

	out := make([]SourceFile, 0, len(byMonth))
	for _, p := range byMonth {
		out = append(out, p.SourceFile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// SalesFiles lists the normalized sales files of one brand directory.
func SalesFiles(dir string) ([]SourceFile, error) {
	files, err := listFiles(dir, salesFiles)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no normalized sales files in %s", ErrMissingInput, dir)
	}
	return files, nil
}

// MetaFiles lists the metadata files of one brand directory.
func MetaFiles(dir string) ([]SourceFile, error) {
	files, err := listFiles(dir, metaFiles)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no metadata files in %s", ErrMissingInput, dir)
	}
	return files, nil
}
