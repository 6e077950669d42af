package registry

import (
	"context"
	"testing"

	"carpulse/internal/testutil"
	"carpulse/pkg/models"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	return NewRepo(testutil.DB(t), testutil.Logger(t))
}

func cand(brand, name string) *models.ModelCandidate {
	return &models.ModelCandidate{BrandName: brand, EntityName: name}
}

func id64(v int64) *int64 { return &v }

func mustRegister(t *testing.T, r *Repo, cands ...*models.ModelCandidate) RegisterResult {
	t.Helper()
	res, err := r.RegisterCandidates(context.Background(), nil, cands)
	if err != nil {
		t.Fatalf("RegisterCandidates: %v", err)
	}
	return res
}

func mustGet(t *testing.T, r *Repo, brand, name string) *models.CanonicalModel {
	t.Helper()
	m, err := r.GetByKey(context.Background(), nil, models.ModelKey{BrandName: brand, EntityName: name})
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if m == nil {
		t.Fatalf("model %s/%s not registered", brand, name)
	}
	return m
}

func TestRegisterCandidatesIdempotent(t *testing.T) {
	r := newRepo(t)
	cands := []*models.ModelCandidate{cand("현대", "그랜저"), cand("현대", "아반떼"), cand("기아", "쏘렌토")}

	first := mustRegister(t, r, cands...)
	if first.Created != 3 || first.Existing != 0 {
		t.Fatalf("first run = %+v, want 3 created", first)
	}
	before := mustGet(t, r, "현대", "그랜저").ModelID

	second := mustRegister(t, r, cands...)
	if second.Created != 0 || second.Existing != 3 {
		t.Fatalf("second run = %+v, want 3 existing", second)
	}
	if after := mustGet(t, r, "현대", "그랜저").ModelID; after != before {
		t.Fatalf("model id changed across runs: %d -> %d", before, after)
	}

	n, err := r.Count(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
}

func TestRegisterDoesNotTouchEnrichedModel(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("현대", "그랜저"))

	key := models.ModelKey{BrandName: "현대", EntityName: "그랜저"}
	if _, err := r.Enrich(ctx, nil, key, id64(101), "https://auto.danawa.com/auto/?Work=model&Model=101"); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	mustRegister(t, r, cand("현대", "그랜저"))

	m := mustGet(t, r, "현대", "그랜저")
	if m.ExternalID == nil || *m.ExternalID != 101 {
		t.Fatalf("external id lost after re-registration: %+v", m)
	}
}

func TestEnrichFirstWriterWins(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("현대", "그랜저"), cand("현대", "그랜저 하이브리드"))

	a := models.ModelKey{BrandName: "현대", EntityName: "그랜저"}
	b := models.ModelKey{BrandName: "현대", EntityName: "그랜저 하이브리드"}

	res, err := r.Enrich(ctx, nil, a, id64(42), "")
	if err != nil {
		t.Fatalf("Enrich a: %v", err)
	}
	if res.Outcome != OutcomeEnriched {
		t.Fatalf("a outcome = %s, want enriched", res.Outcome)
	}

	res, err = r.Enrich(ctx, nil, b, id64(42), "")
	if err != nil {
		t.Fatalf("Enrich b: %v", err)
	}
	if res.Outcome != OutcomeCollision {
		t.Fatalf("b outcome = %s, want collision", res.Outcome)
	}

	if m := mustGet(t, r, "현대", "그랜저 하이브리드"); m.ExternalID != nil {
		t.Fatalf("colliding model got external id %d", *m.ExternalID)
	}
	owner, err := r.GetByExternalID(ctx, nil, 42)
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if owner == nil || owner.EntityName != "그랜저" {
		t.Fatalf("owner of 42 = %+v, want 그랜저", owner)
	}
}

func TestEnrichOutcomes(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("기아", "쏘렌토"))
	key := models.ModelKey{BrandName: "기아", EntityName: "쏘렌토"}

	if _, err := r.Enrich(ctx, nil, key, id64(7), ""); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	tests := []struct {
		name string
		key  models.ModelKey
		id   *int64
		want Outcome
	}{
		{"same id again", key, id64(7), OutcomeUnchanged},
		{"different id", key, id64(8), OutcomeMismatch},
		{"no id", key, nil, OutcomeUnchanged},
		{"unknown model", models.ModelKey{BrandName: "기아", EntityName: "없는차"}, id64(9), OutcomeNoMatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Enrich(ctx, nil, tc.key, tc.id, "")
			if err != nil {
				t.Fatalf("Enrich: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tc.want)
			}
		})
	}

	if m := mustGet(t, r, "기아", "쏘렌토"); m.ExternalID == nil || *m.ExternalID != 7 {
		t.Fatalf("external id overwritten: %+v", m)
	}
	n, _ := r.Count(ctx, ListQuery{})
	if n != 1 {
		t.Fatalf("enrichment created models: count = %d", n)
	}
}

func TestEnrichURLUpdatesEvenOnCollision(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("현대", "캐스퍼"), cand("현대", "캐스퍼 일렉트릭"))

	if _, err := r.Enrich(ctx, nil, models.ModelKey{BrandName: "현대", EntityName: "캐스퍼"}, id64(5), ""); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	res, err := r.Enrich(ctx, nil, models.ModelKey{BrandName: "현대", EntityName: "캐스퍼 일렉트릭"}, id64(5), "https://example.test/ev")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.Outcome != OutcomeCollision || !res.URLUpdated {
		t.Fatalf("result = %+v, want collision with url update", res)
	}

	// empty URL never clears the stored one
	res, err = r.Enrich(ctx, nil, models.ModelKey{BrandName: "현대", EntityName: "캐스퍼 일렉트릭"}, nil, "")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if res.URLUpdated {
		t.Fatalf("empty url reported as update")
	}
	m := mustGet(t, r, "현대", "캐스퍼 일렉트릭")
	if m.ExternalURL == nil || *m.ExternalURL != "https://example.test/ev" {
		t.Fatalf("url = %v", m.ExternalURL)
	}
}

func TestExternalIDFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"https://auto.danawa.com/auto/?Work=model&Model=33191", 33191},
		{"https://auto.danawa.com/auto/?model=12", 12},
		{"https://auto.danawa.com/auto/?Work=model", 0},
		{"https://auto.danawa.com/auto/?Model=abc", 0},
		{"", 0},
	}
	for _, tc := range tests {
		got := ExternalIDFromURL(tc.in)
		if tc.want == 0 {
			if got != nil {
				t.Errorf("ExternalIDFromURL(%q) = %d, want nil", tc.in, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Errorf("ExternalIDFromURL(%q) = %v, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAddImageDedupAndPrimary(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("기아", "EV9"))
	id := mustGet(t, r, "기아", "EV9").ModelID

	for i, u := range []string{"https://img.test/a.png", "https://img.test/a.png", "https://img.test/b.png", ""} {
		want := i == 0 || i == 2
		got, err := r.AddImage(ctx, nil, id, u)
		if err != nil {
			t.Fatalf("AddImage(%q): %v", u, err)
		}
		if got != want {
			t.Fatalf("AddImage(%q) inserted = %v, want %v", u, got, want)
		}
	}

	imgs, err := r.Images(ctx, id)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(imgs) != 2 {
		t.Fatalf("got %d images, want 2", len(imgs))
	}
	if !imgs[0].IsPrimary || imgs[0].ImageURL != "https://img.test/a.png" || imgs[1].IsPrimary {
		t.Fatalf("primary flags wrong: %+v", imgs)
	}
}

func TestListFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mustRegister(t, r, cand("현대", "그랜저"), cand("현대", "아반떼"), cand("기아", "K5"))

	got, err := r.List(ctx, ListQuery{Brand: "현대"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].EntityName != "그랜저" {
		t.Fatalf("List(brand) = %+v", got)
	}

	got, err = r.List(ctx, ListQuery{Q: "k"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].EntityName != "K5" {
		t.Fatalf("List(q) = %+v", got)
	}

	idx, err := r.KeyIndex(ctx, nil, "현대")
	if err != nil {
		t.Fatalf("KeyIndex: %v", err)
	}
	if len(idx) != 2 || idx["아반떼"] == 0 {
		t.Fatalf("KeyIndex = %v", idx)
	}
}
