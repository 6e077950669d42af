// Package normalize turns scraped, locale-formatted ranking rows into
// canonical sales records.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"carpulse/pkg/models"
)

// ErrRejected is wrapped by every rejection returned from Normalize.
var ErrRejected = errors.New("row rejected")

type Reason string

const (
	ReasonShape  Reason = "shape"
	ReasonRank   Reason = "rank"
	ReasonName   Reason = "name"
	ReasonVolume Reason = "volume"
)

type RejectError struct {
	Reason Reason
	Cells  int
	Value  string
}

func (e *RejectError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("row rejected (%s): %q", e.Reason, e.Value)
	}
	return fmt.Sprintf("row rejected (%s): %d cells", e.Reason, e.Cells)
}

func (e *RejectError) Unwrap() error { return ErrRejected }

// Layout is one known positional shape of a scraped ranking row.
type Layout struct {
	Name   string
	Rank   int
	Model  int
	Volume int
	Share  int
	MoM    int
	YoY    int
}

var (
	// LayoutCompact is the six-cell table written by earlier collectors.
	LayoutCompact = Layout{Name: "compact", Rank: 0, Model: 1, Volume: 2, Share: 3, MoM: 4, YoY: 5}
	// LayoutCrawler is the crawler's own export: an empty spacer cell
	// between rank and model name, and possibly trailing extras.
	LayoutCrawler = Layout{Name: "crawler", Rank: 0, Model: 2, Volume: 3, Share: 4, MoM: 5, YoY: 6}
)

// DetectLayout picks the layout for a row with the given number of cells.
func DetectLayout(cells int) (Layout, bool) {
	switch {
	case cells >= 7:
		return LayoutCrawler, true
	case cells == 6:
		return LayoutCompact, true
	default:
		return Layout{}, false
	}
}

// Normalize converts one raw row into a NormalizedRecord, or returns a
// *RejectError. It has no side effects.
func Normalize(row models.RawRow) (models.NormalizedRecord, error) {
	layout, ok := DetectLayout(len(row))
	if !ok {
		return models.NormalizedRecord{}, &RejectError{Reason: ReasonShape, Cells: len(row)}
	}
	return NormalizeAs(layout, row)
}

func NormalizeAs(layout Layout, row models.RawRow) (models.NormalizedRecord, error) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	// A rank cell without digits ("신규") keeps the row with rank 0.
	rankCell := cell(layout.Rank)
	if rankCell == "" {
		return models.NormalizedRecord{}, &RejectError{Reason: ReasonRank, Cells: len(row)}
	}
	rank, _ := leadingInt(rankCell)

	name := CanonicalName(cell(layout.Model))
	if name == "" {
		return models.NormalizedRecord{}, &RejectError{Reason: ReasonName, Cells: len(row)}
	}

	volCell := cell(layout.Volume)
	volume, ok := ParseVolume(volCell)
	if !ok {
		return models.NormalizedRecord{}, &RejectError{Reason: ReasonVolume, Cells: len(row), Value: volCell}
	}

	return models.NormalizedRecord{
		Rank:       int(rank),
		EntityName: name,
		Volume:     volume,
		ShareRatio: ParseShare(cell(layout.Share)),
		MoMDelta:   ParseDelta(cell(layout.MoM)),
		YoYDelta:   ParseDelta(cell(layout.YoY)),
	}, nil
}

// CanonicalName NFC-normalizes a model name and collapses inner whitespace,
// so the same name scraped twice always yields the same natural key.
func CanonicalName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

var digitRun = regexp.MustCompile(`\d+`)

// ParseVolume reads "12,345대" as 12345. ok is false when the cell holds
// no digits at all.
func ParseVolume(s string) (int64, bool) {
	return leadingInt(s)
}

func leadingInt(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	run := digitRun.FindString(s)
	if run == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(run, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var signedDecimal = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseShare extracts the first signed decimal number ("17.7 %" -> 17.7).
// The value stays in display units.
func ParseShare(s string) *decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	m := signedDecimal.FindString(s)
	if m == "" {
		return nil
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return nil
	}
	return &d
}

const (
	glyphDown      = "▼"
	glyphDownLight = "▽"
)

// ParseDelta reads month-over-month / year-over-year cells such as
// "9118 697▲" (baseline then delta) or "697▲" (delta only). Only the delta
// token's digits count. A down glyph anywhere in the cell makes it
// negative. nil means the cell carried no delta digits.
func ParseDelta(s string) *int64 {
	parts := strings.Fields(s)
	var token string
	switch len(parts) {
	case 0:
		return nil
	case 1:
		token = parts[0]
	default:
		token = parts[1]
	}

	sign := int64(1)
	if strings.Contains(s, glyphDown) || strings.Contains(s, glyphDownLight) {
		sign = -1
	}

	digits := strings.Join(digitRun.FindAllString(strings.ReplaceAll(token, ",", ""), -1), "")
	if digits == "" {
		return nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	n *= sign
	return &n
}
