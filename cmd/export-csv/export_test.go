package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"carpulse/internal/facts"
	"carpulse/internal/registry"
	"carpulse/internal/testutil"
	"carpulse/pkg/models"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestExportAll(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ex := exporter{models: registry.NewRepo(db, log), facts: facts.NewRepo(db, log)}
	ctx := context.Background()

	if _, err := ex.models.RegisterCandidates(ctx, nil, []*models.ModelCandidate{{BrandName: "기아", EntityName: "쏘렌토"}}); err != nil {
		t.Fatalf("RegisterCandidates: %v", err)
	}
	ids, _ := ex.models.KeyIndex(ctx, nil, "기아")
	share := decimal.RequireFromString("12.5")
	if _, err := ex.facts.ReconcileSales(ctx, nil, "2024-05", models.SourceDanawa,
		[]models.NormalizedRecord{{EntityName: "쏘렌토", Volume: 8000, ShareRatio: &share}}, ids); err != nil {
		t.Fatalf("ReconcileSales: %v", err)
	}
	if _, err := ex.facts.MergeInterest(ctx, nil, ids["쏘렌토"], "2024-05",
		map[models.InterestSource]decimal.Decimal{models.InterestGoogle: decimal.NewFromInt(33)}); err != nil {
		t.Fatalf("MergeInterest: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "out")
	counts, err := ex.exportAll(ctx, dir)
	if err != nil {
		t.Fatalf("exportAll: %v", err)
	}
	for _, name := range []string{fileModels, fileSales, fileInterest} {
		if counts[name] != 1 {
			t.Errorf("%s rows = %d, want 1", name, counts[name])
		}
	}

	sales := readAll(t, filepath.Join(dir, fileSales))
	if len(sales) != 2 || sales[1][1] != "2024-05" || sales[1][3] != "8000" || sales[1][4] != "0.125" {
		t.Fatalf("sales csv = %v", sales)
	}
	interest := readAll(t, filepath.Join(dir, fileInterest))
	if interest[1][2] != "" || interest[1][3] != "33" {
		t.Fatalf("interest csv = %v", interest)
	}
}
