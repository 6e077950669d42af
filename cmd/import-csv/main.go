package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"carpulse/internal/candidates"
	"carpulse/internal/ingest"
	"carpulse/internal/normalize"
	"carpulse/internal/registry"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/models"
	"carpulse/pkg/utils"
)

func main() {
	var (
		configPath   = flag.String("config", os.Getenv("CARPULSE_CONFIG"), "YAML config file")
		candidatesIn = flag.String("candidates", "", "comma-separated candidate CSVs to merge and register (brand_name,model_name,...)")
		modelsIn     = flag.String("models", "", "car_model.csv export to restore")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *candidatesIn == "" && *modelsIn == "" {
		log.Fatal("nothing to import: pass -candidates and/or -models")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Open(cfg.DB())
	if err != nil {
		log.Fatal("db open failed", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal("db migrate failed", "error", err)
	}

	p := ingest.New(db, cfg, "import-"+time.Now().UTC().Format("20060102T150405"), log)

	if *candidatesIn != "" {
		stats, err := importCandidates(ctx, p, *candidatesIn)
		if err != nil {
			log.Fatal("import candidates failed", "path", *candidatesIn, "error", err)
		}
		log.Info("candidates imported", append([]any{"path", *candidatesIn}, stats.KV()...)...)
	}
	if *modelsIn != "" {
		stats, err := importModels(ctx, db, p.Registry, *modelsIn)
		if err != nil {
			log.Fatal("import models failed", "path", *modelsIn, "error", err)
		}
		log.Info("models imported", append([]any{"path", *modelsIn}, stats.KV()...)...)
	}
}

func importCandidates(ctx context.Context, p *ingest.Pipeline, paths string) (ingest.RunStats, error) {
	set := candidates.New()
	for _, path := range strings.Split(paths, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		part, err := readCandidateFile(path)
		if err != nil {
			return ingest.RunStats{}, err
		}
		set.Merge(part)
	}
	return p.RegisterSet(ctx, set.Sorted())
}

func readCandidateFile(path string) (candidates.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set, err := candidates.ReadSet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// importModels restores registry rows from a car_model.csv export. Models
// are registered by natural key and then enriched, so ids already owned by
// another model are reported as collisions, never overwritten.
func importModels(ctx context.Context, db *database.DB, reg *registry.Repo, path string) (ingest.RunStats, error) {
	var stats ingest.RunStats

	f, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	rows, err := readModelRows(f)
	if err != nil {
		return stats, err
	}

	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
		cands := make([]*models.ModelCandidate, 0, len(rows))
		for _, r := range rows {
			cands = append(cands, &models.ModelCandidate{BrandName: r.key.BrandName, EntityName: r.key.EntityName})
		}
		res, err := reg.RegisterCandidates(ctx, tx, cands)
		if err != nil {
			return err
		}
		stats.Created = res.Created
		stats.Existing = res.Existing

		for _, r := range rows {
			er, err := reg.Enrich(ctx, tx, r.key, r.externalID, r.externalURL)
			if err != nil {
				return err
			}
			switch er.Outcome {
			case registry.OutcomeEnriched:
				stats.Enriched++
			case registry.OutcomeCollision:
				stats.Collisions++
			case registry.OutcomeMismatch:
				stats.Mismatches++
			}
			if er.URLUpdated {
				stats.URLsUpdated++
			}
		}
		return nil
	})
	stats.TotalRows = len(rows)
	return stats, err
}

type modelRow struct {
	key         models.ModelKey
	externalID  *int64
	externalURL string
}

func readModelRows(r io.Reader) ([]modelRow, error) {
	cr := normalize.NewCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{"brand_name", "model_name"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var out []modelRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		row := modelRow{
			key: models.ModelKey{
				BrandName:  get("brand_name"),
				EntityName: normalize.CanonicalName(get("model_name")),
			},
			externalURL: get("external_url"),
		}
		if row.key.BrandName == "" || row.key.EntityName == "" {
			continue
		}
		if v := get("external_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("external_id %q: %w", v, err)
			}
			row.externalID = &id
		}
		out = append(out, row)
	}
	return out, nil
}
