package facts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"carpulse/internal/registry"
	"carpulse/internal/testutil"
	"carpulse/pkg/database"
	"carpulse/pkg/models"
)

type fixture struct {
	db    *database.DB
	facts *Repo
	ids   map[string]int64
}

func setup(t *testing.T, names ...string) fixture {
	t.Helper()
	db := testutil.DB(t)
	reg := registry.NewRepo(db, testutil.Logger(t))
	ctx := context.Background()

	cands := make([]*models.ModelCandidate, 0, len(names))
	for _, n := range names {
		cands = append(cands, &models.ModelCandidate{BrandName: "현대", EntityName: n})
	}
	if _, err := reg.RegisterCandidates(ctx, nil, cands); err != nil {
		t.Fatalf("RegisterCandidates: %v", err)
	}
	ids, err := reg.KeyIndex(ctx, nil, "현대")
	if err != nil {
		t.Fatalf("KeyIndex: %v", err)
	}
	return fixture{db: db, facts: NewRepo(db, testutil.Logger(t)), ids: ids}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func rec(name string, volume int64, share *decimal.Decimal) models.NormalizedRecord {
	return models.NormalizedRecord{EntityName: name, Volume: volume, ShareRatio: share}
}

func TestAdoptionRateFallback(t *testing.T) {
	fx := setup(t, "A", "B", "C")
	ctx := context.Background()
	recs := []models.NormalizedRecord{rec("A", 100, nil), rec("B", 150, nil), rec("C", 250, nil)}

	res, err := fx.facts.ReconcileSales(ctx, nil, "2024-03", models.SourceDanawa, recs, fx.ids)
	if err != nil {
		t.Fatalf("ReconcileSales: %v", err)
	}
	if res.Inserted != 3 || res.MarketTotalUnits != 500 {
		t.Fatalf("result = %+v", res)
	}

	want := map[string]string{"A": "0.2", "B": "0.3", "C": "0.5"}
	for name, rate := range want {
		got, err := fx.facts.SalesByModel(ctx, fx.ids[name], "", "")
		if err != nil {
			t.Fatalf("SalesByModel: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("%s: %d facts", name, len(got))
		}
		f := got[0]
		if f.MarketTotalUnits == nil || *f.MarketTotalUnits != 500 {
			t.Errorf("%s market total = %v, want 500", name, f.MarketTotalUnits)
		}
		if f.AdoptionRate == nil || !f.AdoptionRate.Equal(decimal.RequireFromString(rate)) {
			t.Errorf("%s adoption = %v, want %s", name, f.AdoptionRate, rate)
		}
	}
}

func TestAdoptionRateUsesShare(t *testing.T) {
	got := AdoptionRate(rec("A", 10, dec("17.7")), 1000)
	if got == nil || !got.Equal(decimal.RequireFromString("0.177")) {
		t.Fatalf("AdoptionRate = %v, want 0.177", got)
	}
	if AdoptionRate(rec("A", 0, nil), 0) != nil {
		t.Fatalf("zero market total must give nil rate")
	}
}

func TestReconcileSalesIdempotentAndSkips(t *testing.T) {
	fx := setup(t, "A", "B")
	ctx := context.Background()
	recs := []models.NormalizedRecord{rec("A", 100, dec("40")), rec("B", 100, nil), rec("UNKNOWN", 50, nil)}

	first, err := fx.facts.ReconcileSales(ctx, nil, "2024-03", models.SourceDanawa, recs, fx.ids)
	if err != nil {
		t.Fatalf("ReconcileSales: %v", err)
	}
	if first.Inserted != 2 || first.SkippedNoMatch != 1 || first.MarketTotalUnits != 250 {
		t.Fatalf("first = %+v", first)
	}

	second, err := fx.facts.ReconcileSales(ctx, nil, "2024-03", models.SourceDanawa, recs, fx.ids)
	if err != nil {
		t.Fatalf("ReconcileSales: %v", err)
	}
	if second.Unchanged != 2 || second.Inserted != 0 || second.Updated != 0 {
		t.Fatalf("second = %+v", second)
	}

	recs[1].Volume = 120
	third, err := fx.facts.ReconcileSales(ctx, nil, "2024-03", models.SourceDanawa, recs, fx.ids)
	if err != nil {
		t.Fatalf("ReconcileSales: %v", err)
	}
	// market total moved, so both resolved rows change
	if third.Updated != 2 {
		t.Fatalf("third = %+v", third)
	}
	got, _ := fx.facts.SalesByModel(ctx, fx.ids["B"], "", "")
	if len(got) != 1 || got[0].SalesUnits != 120 {
		t.Fatalf("B sales = %+v", got)
	}
}

func TestReconcileSalesRejectsBadMonth(t *testing.T) {
	fx := setup(t, "A")
	_, err := fx.facts.ReconcileSales(context.Background(), nil, "2024-13", models.SourceDanawa, []models.NormalizedRecord{rec("A", 1, nil)}, fx.ids)
	if err == nil {
		t.Fatalf("expected invalid month error")
	}
}

func TestReconcileSalesRollsBackOnFailure(t *testing.T) {
	fx := setup(t, "A")
	ctx := context.Background()
	ids := map[string]int64{"A": fx.ids["A"], "GHOST": 999999}
	recs := []models.NormalizedRecord{rec("A", 10, nil), rec("GHOST", 5, nil)}

	// the unknown id violates the foreign key, failing the batch
	if _, err := fx.facts.ReconcileSales(ctx, nil, "2024-03", models.SourceDanawa, recs, ids); err == nil {
		t.Fatalf("expected foreign key failure")
	}
	got, err := fx.facts.SalesByModel(ctx, fx.ids["A"], "", "")
	if err != nil {
		t.Fatalf("SalesByModel: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("partial batch committed: %+v", got)
	}
}

func TestMergeInterestPreservesColumns(t *testing.T) {
	fx := setup(t, "A")
	ctx := context.Background()
	id := fx.ids["A"]

	merge := func(src models.InterestSource, v string) Change {
		t.Helper()
		c, err := fx.facts.MergeInterest(ctx, nil, id, "2024-03", map[models.InterestSource]decimal.Decimal{src: decimal.RequireFromString(v)})
		if err != nil {
			t.Fatalf("MergeInterest(%s): %v", src, err)
		}
		return c
	}

	if c := merge(models.InterestNaver, "61.5"); c != Inserted {
		t.Fatalf("naver first = %s", c)
	}
	if c := merge(models.InterestGoogle, "40"); c != Updated {
		t.Fatalf("google = %s", c)
	}
	if c := merge(models.InterestNaver, "61.5"); c != Unchanged {
		t.Fatalf("naver again = %s", c)
	}
	if c := merge(models.InterestNaver, "70"); c != Updated {
		t.Fatalf("naver new value = %s", c)
	}

	got, err := fx.facts.InterestByModel(ctx, id, "", "")
	if err != nil {
		t.Fatalf("InterestByModel: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("%d interest rows", len(got))
	}
	f := got[0]
	if f.NaverIndex == nil || !f.NaverIndex.Equal(decimal.NewFromInt(70)) {
		t.Errorf("naver = %v", f.NaverIndex)
	}
	if f.GoogleIndex == nil || !f.GoogleIndex.Equal(decimal.NewFromInt(40)) {
		t.Errorf("google = %v, lost after naver rewrite", f.GoogleIndex)
	}
	if f.DanawaPopularity != nil {
		t.Errorf("danawa = %v, want NULL", f.DanawaPopularity)
	}
}

func TestMergeInterestBatchSkipsUnknownModels(t *testing.T) {
	fx := setup(t, "A")
	ctx := context.Background()
	points := []InterestPoint{
		{ModelID: fx.ids["A"], Month: "2024-01", Value: decimal.NewFromInt(3)},
		{ModelID: fx.ids["A"], Month: "2024-02", Value: decimal.NewFromInt(1)},
		{ModelID: 424242, Month: "2024-01", Value: decimal.NewFromInt(9)},
	}

	tally, skipped, err := fx.facts.MergeInterestBatch(ctx, models.InterestDanawa, points)
	if err != nil {
		t.Fatalf("MergeInterestBatch: %v", err)
	}
	if tally.Inserted != 2 || skipped != 1 {
		t.Fatalf("tally = %+v skipped = %d", tally, skipped)
	}

	tally, _, err = fx.facts.MergeInterestBatch(ctx, models.InterestDanawa, points)
	if err != nil {
		t.Fatalf("MergeInterestBatch: %v", err)
	}
	if tally.Unchanged != 2 {
		t.Fatalf("rerun tally = %+v", tally)
	}

	got, _ := fx.facts.InterestByModel(ctx, fx.ids["A"], "2024-02", "2024-02")
	if len(got) != 1 || got[0].DanawaPopularity == nil || !got[0].DanawaPopularity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("range query = %+v", got)
	}
}
