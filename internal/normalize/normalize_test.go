package normalize

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"carpulse/pkg/models"
)

func TestParseDelta(t *testing.T) {
	cases := []struct {
		in   string
		want *int64
	}{
		{"9118 697▲", ptr(697)},
		{"6578 351▼", ptr(-351)},
		{"697▲", ptr(697)},
		{"0 9815▲", ptr(9815)},
		{"1,204 1,001▼", ptr(-1001)},
		{"42", ptr(42)},
		{"120 5▽", ptr(-5)},
		{"6578 351 ▼", ptr(-351)},
		{"", nil},
		{"   ", nil},
		{"-", nil},
		{"9118 ▲", nil},
	}
	for _, tc := range cases {
		got := ParseDelta(tc.in)
		if (got == nil) != (tc.want == nil) {
			t.Errorf("ParseDelta(%q) = %v, want %v", tc.in, show(got), show(tc.want))
			continue
		}
		if got != nil && *got != *tc.want {
			t.Errorf("ParseDelta(%q) = %d, want %d", tc.in, *got, *tc.want)
		}
	}
}

func TestParseShare(t *testing.T) {
	want := decimal.RequireFromString("17.7")
	for _, in := range []string{"17.7%", "17.7 %", " 17.7", "점유율 17.7%"} {
		got := ParseShare(in)
		if got == nil || !got.Equal(want) {
			t.Errorf("ParseShare(%q) = %v, want 17.7", in, got)
		}
	}
	if got := ParseShare("-2.5%"); got == nil || !got.Equal(decimal.RequireFromString("-2.5")) {
		t.Errorf("negative share = %v", got)
	}
	for _, in := range []string{"", "%", "n/a"} {
		if got := ParseShare(in); got != nil {
			t.Errorf("ParseShare(%q) = %v, want nil", in, got)
		}
	}
}

func TestParseVolume(t *testing.T) {
	cases := map[string]int64{
		"12,345대": 12345,
		"9118":    9118,
		" 0 ":     0,
		"1,000 대": 1000,
	}
	for in, want := range cases {
		got, ok := ParseVolume(in)
		if !ok || got != want {
			t.Errorf("ParseVolume(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "대", "-"} {
		if _, ok := ParseVolume(in); ok {
			t.Errorf("ParseVolume(%q) should fail", in)
		}
	}
}

func TestNormalizeLayouts(t *testing.T) {
	compact := models.RawRow{"1", "그랜저", "9,118대", "17.7%", "9118 697▲", "6578 351▼"}
	crawler := models.RawRow{"1", "", "그랜저", "9,118대", "17.7 %", "697▲", "6578 351▼", "extra"}

	for name, row := range map[string]models.RawRow{"compact": compact, "crawler": crawler} {
		rec, err := Normalize(row)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if rec.Rank != 1 || rec.EntityName != "그랜저" || rec.Volume != 9118 {
			t.Errorf("%s: got %+v", name, rec)
		}
		if rec.ShareRatio == nil || !rec.ShareRatio.Equal(decimal.RequireFromString("17.7")) {
			t.Errorf("%s: share = %v", name, rec.ShareRatio)
		}
		if rec.MoMDelta == nil || *rec.MoMDelta != 697 {
			t.Errorf("%s: mom = %v", name, show(rec.MoMDelta))
		}
		if rec.YoYDelta == nil || *rec.YoYDelta != -351 {
			t.Errorf("%s: yoy = %v", name, show(rec.YoYDelta))
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		name   string
		row    models.RawRow
		reason Reason
	}{
		{"too few cells", models.RawRow{"1", "그랜저", "9118", "17.7%", "697▲"}, ReasonShape},
		{"empty", models.RawRow{}, ReasonShape},
		{"no volume digits", models.RawRow{"1", "그랜저", "집계중", "17.7%", "", ""}, ReasonVolume},
		{"empty name", models.RawRow{"1", "  ", "9118", "", "", ""}, ReasonName},
		{"no rank", models.RawRow{"", "그랜저", "9118", "", "", ""}, ReasonRank},
	}
	for _, tc := range cases {
		_, err := Normalize(tc.row)
		if !errors.Is(err, ErrRejected) {
			t.Errorf("%s: expected ErrRejected, got %v", tc.name, err)
			continue
		}
		var re *RejectError
		if !errors.As(err, &re) || re.Reason != tc.reason {
			t.Errorf("%s: reason = %v, want %s", tc.name, err, tc.reason)
		}
	}
}

func TestNormalizeRankWithoutDigits(t *testing.T) {
	rec, err := Normalize(models.RawRow{"신규", "캐스퍼", "1,000", "1%", "", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Rank != 0 || rec.EntityName != "캐스퍼" || rec.Volume != 1000 {
		t.Errorf("record = %+v", rec)
	}
}

func TestNormalizeNullDeltas(t *testing.T) {
	rec, err := Normalize(models.RawRow{"3", "쏘렌토", "7000", "", "", "-"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ShareRatio != nil || rec.MoMDelta != nil || rec.YoYDelta != nil {
		t.Errorf("expected nil optional fields, got %+v", rec)
	}
}

func TestCanonicalName(t *testing.T) {
	// decomposed jamo (NFD) must match the precomposed form
	nfd := "\u1100\u1161\u11ab"
	if got := CanonicalName("  " + nfd + "   EV "); got != "\uac04 EV" {
		t.Errorf("CanonicalName = %q", got)
	}
}

func ptr(n int64) *int64 { return &n }

func show(p *int64) any {
	if p == nil {
		return "nil"
	}
	return *p
}
