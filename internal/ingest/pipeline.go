// Package ingest runs the batch jobs that move scraped tables into the
// registry and the fact tables.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"carpulse/internal/candidates"
	"carpulse/internal/facts"
	"carpulse/internal/normalize"
	"carpulse/internal/registry"
	"carpulse/internal/trend"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/models"
	"carpulse/pkg/utils"
)

// Job names recorded in ingestion_run.
const (
	JobNormalize    = "normalize"
	JobCandidates   = "candidates"
	JobRegister     = "register"
	JobEnrich       = "enrich"
	JobLoadSales    = "load-sales"
	JobLoadInterest = "load-interest"
	JobFetchNaver   = "fetch-naver"
)

// parseWorkers bounds concurrent file parsing.
const parseWorkers = 4

type Pipeline struct {
	Layout   Layout
	Config   utils.Config
	DB       *database.DB
	Registry *registry.Repo
	Facts    *facts.Repo
	Runs     *RunRepo
	log      *logger.Logger
	now      func() time.Time
}

func New(db *database.DB, cfg utils.Config, runID string, baseLog *logger.Logger) *Pipeline {
	return &Pipeline{
		Layout:   Layout{DataDir: cfg.DataDir, RunID: runID},
		Config:   cfg,
		DB:       db,
		Registry: registry.NewRepo(db, baseLog),
		Facts:    facts.NewRepo(db, baseLog),
		Runs:     NewRunRepo(db),
		log:      baseLog.With("component", "ingest", "run_id", runID),
		now:      time.Now,
	}
}

// brand is one resolved brand input directory.
type brand struct {
	Code string
	Name string
	Dir  string
}

// resolve validates every brand code before any job touches the store.
func (p *Pipeline) resolve(codes []string) ([]brand, error) {
	if strings.TrimSpace(p.Layout.RunID) == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrMissingInput)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no brands selected", ErrMissingInput)
	}
	out := make([]brand, 0, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		name, ok := p.Config.BrandName(code)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: unknown brand code %q", ErrMissingInput, code)
		}
		dir := p.Layout.BrandDir(code)
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%w: brand directory %s", ErrMissingInput, dir)
		}
		out = append(out, brand{Code: code, Name: name, Dir: dir})
	}
	return out, nil
}

// track runs one job, logs its summary and records it in ingestion_run.
// Failed jobs are logged only.
func (p *Pipeline) track(ctx context.Context, job string, fn func() (RunStats, error)) (RunStats, error) {
	started := p.now()
	stats, err := fn()
	finished := p.now()

	log := p.log.With("job", job, "elapsed", finished.Sub(started).String())
	if err != nil {
		log.Error("job failed", "error", err)
		return stats, err
	}
	kv := stats.KV()
	log.Info("job finished", kv...)
	if stats.Rejected+stats.SkippedNoMatch+stats.Collisions+stats.Mismatches > 0 {
		log.Warn("job dropped rows",
			"rejected", stats.Rejected,
			"skipped_no_match", stats.SkippedNoMatch,
			"collisions", stats.Collisions,
			"mismatches", stats.Mismatches,
		)
	}
	if _, rerr := p.Runs.Record(ctx, p.Layout.RunID, job, started, finished, stats); rerr != nil {
		log.Warn("run summary not persisted", "error", rerr)
	}
	return stats, nil
}

// Normalize rewrites the raw sales tables of every brand folder.
func (p *Pipeline) Normalize(ctx context.Context, codes []string) (RunStats, error) {
	return p.track(ctx, JobNormalize, func() (RunStats, error) {
		brands, err := p.resolve(codes)
		if err != nil {
			return RunStats{}, err
		}

		var (
			mu    sync.Mutex
			stats RunStats
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, b := range brands {
			b := b
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := normalize.Folder(b.Dir)
				if err != nil {
					return fmt.Errorf("normalize %s: %w", b.Code, err)
				}
				p.log.Debug("brand normalized", "brand", b.Code, "files", len(res.Files), "empty", len(res.Skipped))

				mu.Lock()
				stats.Files += len(res.Files)
				stats.TotalRows += res.Stats.Rows
				stats.Rejected += res.Stats.Rejected
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return RunStats{}, err
		}
		return stats, nil
	})
}

// batch is one parsed normalized sales file.
type batch struct {
	Brand brand
	File  SourceFile
	Recs  []models.NormalizedRecord
	Stats normalize.Stats
}

// readBatches lists and parses every normalized sales file of the brands.
// All files are located before any is parsed, so a missing input fails the
// job up front.
func (p *Pipeline) readBatches(ctx context.Context, brands []brand) ([]batch, error) {
	var batches []batch
	for _, b := range brands {
		files, err := SalesFiles(b.Dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			batches = append(batches, batch{Brand: b, File: f})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseWorkers)
	for i := range batches {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs, st, err := readSalesFile(batches[i].File.Path)
			if err != nil {
				return err
			}
			batches[i].Recs = recs
			batches[i].Stats = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

func readSalesFile(path string) ([]models.NormalizedRecord, normalize.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, normalize.Stats{}, fmt.Errorf("%w: %v", ErrMissingInput, err)
	}
	defer f.Close()
	recs, st, err := normalize.ReadNormalized(f)
	if err != nil {
		return nil, st, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return recs, st, nil
}

// BuildCandidates folds every normalized snapshot of the run into a fresh
// candidate set.
func (p *Pipeline) BuildCandidates(ctx context.Context, codes []string) (candidates.Set, RunStats, error) {
	var set candidates.Set
	stats, err := p.track(ctx, JobCandidates, func() (RunStats, error) {
		var stats RunStats
		brands, err := p.resolve(codes)
		if err != nil {
			return stats, err
		}
		batches, err := p.readBatches(ctx, brands)
		if err != nil {
			return stats, err
		}

		set = candidates.New()
		for _, b := range batches {
			stats.Files++
			stats.TotalRows += b.Stats.Rows
			stats.Rejected += b.Stats.Rejected
			if err := set.AddBatch(b.Brand.Name, b.File.Month, b.Recs); err != nil {
				return stats, err
			}
		}
		stats.Candidates = len(set)
		return stats, nil
	})
	return set, stats, err
}

// Register creates a model for every candidate of the run.
func (p *Pipeline) Register(ctx context.Context, codes []string) (RunStats, error) {
	set, _, err := p.BuildCandidates(ctx, codes)
	if err != nil {
		return RunStats{}, err
	}
	return p.RegisterSet(ctx, set.Sorted())
}

// RegisterSet creates models for the given candidates in one transaction.
func (p *Pipeline) RegisterSet(ctx context.Context, cands []*models.ModelCandidate) (RunStats, error) {
	return p.track(ctx, JobRegister, func() (RunStats, error) {
		var stats RunStats
		err := database.WithTx(ctx, p.DB, func(tx *sql.Tx) error {
			res, err := p.Registry.RegisterCandidates(ctx, tx, cands)
			if err != nil {
				return err
			}
			stats.TotalRows = len(cands)
			stats.Created = res.Created
			stats.Existing = res.Existing
			return nil
		})
		return stats, err
	})
}

// Enrich applies every metadata table of the run: external ids, detail
// URLs and images. One transaction per file.
func (p *Pipeline) Enrich(ctx context.Context, codes []string) (RunStats, error) {
	return p.track(ctx, JobEnrich, func() (RunStats, error) {
		var stats RunStats
		brands, err := p.resolve(codes)
		if err != nil {
			return stats, err
		}

		type metaBatch struct {
			Brand brand
			File  SourceFile
		}
		var todo []metaBatch
		for _, b := range brands {
			files, err := MetaFiles(b.Dir)
			if err != nil {
				return stats, err
			}
			for _, f := range files {
				todo = append(todo, metaBatch{Brand: b, File: f})
			}
		}

		for _, mb := range todo {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rows, rejected, err := readMetaFile(mb.File.Path, mb.Brand.Code, mb.File.Month)
			if err != nil {
				return stats, err
			}

			var fs RunStats
			fs.Files = 1
			fs.Rejected = rejected
			fs.TotalRows = len(rows) + rejected
			err = database.WithTx(ctx, p.DB, func(tx *sql.Tx) error {
				return p.enrichRows(ctx, tx, mb.Brand, rows, &fs)
			})
			if err != nil {
				return stats, fmt.Errorf("enrich %s: %w", filepath.Base(mb.File.Path), err)
			}
			stats.Merge(fs)
		}
		return stats, nil
	})
}

func (p *Pipeline) enrichRows(ctx context.Context, tx *sql.Tx, b brand, rows []models.MetaRow, stats *RunStats) error {
	for _, row := range rows {
		brandName := b.Name
		if name, ok := p.Config.BrandName(row.BrandCode); ok && name != "" {
			brandName = name
		}
		key := models.ModelKey{BrandName: brandName, EntityName: row.ModelName}

		res, err := p.Registry.Enrich(ctx, tx, key, registry.ExternalIDFromURL(row.DetailURL), row.DetailURL)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case registry.OutcomeNoMatch:
			stats.SkippedNoMatch++
			p.log.Debug("metadata row has no model", "brand", brandName, "model", row.ModelName)
			continue
		case registry.OutcomeEnriched:
			stats.Enriched++
		case registry.OutcomeCollision:
			stats.Collisions++
		case registry.OutcomeMismatch:
			stats.Mismatches++
		}
		if res.URLUpdated {
			stats.URLsUpdated++
		}

		if row.ImageURL == "" {
			continue
		}
		inserted, err := p.Registry.AddImage(ctx, tx, res.ModelID, row.ImageURL)
		if err != nil {
			return err
		}
		if inserted {
			stats.ImagesInserted++
		} else {
			stats.ImagesDuplicate++
		}
	}
	return nil
}

func readMetaFile(path, brandCode string, month models.Month) ([]models.MetaRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMissingInput, err)
	}
	defer f.Close()
	rows, rejected, err := ReadMeta(f, brandCode, month)
	if err != nil {
		return nil, rejected, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, rejected, nil
}

// LoadSales reconciles every normalized sales file of the run. Each file is
// one batch in its own transaction.
func (p *Pipeline) LoadSales(ctx context.Context, codes []string) (RunStats, error) {
	return p.track(ctx, JobLoadSales, func() (RunStats, error) {
		var stats RunStats
		brands, err := p.resolve(codes)
		if err != nil {
			return stats, err
		}
		batches, err := p.readBatches(ctx, brands)
		if err != nil {
			return stats, err
		}

		for _, b := range batches {
			var res facts.SalesResult
			err := database.WithTx(ctx, p.DB, func(tx *sql.Tx) error {
				ids, err := p.Registry.KeyIndex(ctx, tx, b.Brand.Name)
				if err != nil {
					return err
				}
				res, err = p.Facts.ReconcileSales(ctx, tx, b.File.Month, models.SourceDanawa, b.Recs, ids)
				return err
			})
			if err != nil {
				return stats, fmt.Errorf("load sales %s: %w", filepath.Base(b.File.Path), err)
			}
			p.log.Info("sales batch committed",
				"brand", b.Brand.Code,
				"month", b.File.Month,
				"market_total", res.MarketTotalUnits,
				"inserted", res.Inserted,
				"updated", res.Updated,
			)

			stats.Files++
			stats.TotalRows += b.Stats.Rows
			stats.Rejected += b.Stats.Rejected
			stats.SkippedNoMatch += res.SkippedNoMatch
			stats.addTally(res.Tally)
		}
		return stats, nil
	})
}

// LoadInterest merges one interest source for the run.
func (p *Pipeline) LoadInterest(ctx context.Context, src models.InterestSource, codes []string) (RunStats, error) {
	return p.track(ctx, JobLoadInterest+":"+string(src), func() (RunStats, error) {
		var (
			stats  RunStats
			points []facts.InterestPoint
			err    error
		)
		switch src {
		case models.InterestNaver:
			points, err = p.readTrendFile(p.Layout.NaverFile(), trend.ReadNaver, &stats)
		case models.InterestGoogle:
			points, err = p.readTrendFile(p.Layout.GoogleFile(), trend.ReadGoogle, &stats)
		case models.InterestDanawa:
			points, err = p.danawaPopularity(ctx, codes, &stats)
		default:
			err = fmt.Errorf("unknown interest source %q", src)
		}
		if err != nil {
			return stats, err
		}

		tally, skipped, err := p.Facts.MergeInterestBatch(ctx, src, points)
		if err != nil {
			return stats, err
		}
		stats.SkippedNoMatch += skipped
		stats.addTally(tally)
		return stats, nil
	})
}

func (p *Pipeline) readTrendFile(path string, read func(io.Reader) (trend.ReadResult, error), stats *RunStats) ([]facts.InterestPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingInput, err)
	}
	defer f.Close()
	res, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	stats.Files = 1
	stats.TotalRows = res.Rows
	stats.Rejected = res.Rejected
	return res.Points, nil
}

// danawaPopularity turns each model's rank in the run's sales tables into
// its popularity value for that month.
func (p *Pipeline) danawaPopularity(ctx context.Context, codes []string, stats *RunStats) ([]facts.InterestPoint, error) {
	brands, err := p.resolve(codes)
	if err != nil {
		return nil, err
	}
	batches, err := p.readBatches(ctx, brands)
	if err != nil {
		return nil, err
	}

	index := make(map[string]map[string]int64)
	var points []facts.InterestPoint
	for _, b := range batches {
		ids, ok := index[b.Brand.Name]
		if !ok {
			ids, err = p.Registry.KeyIndex(ctx, nil, b.Brand.Name)
			if err != nil {
				return nil, err
			}
			index[b.Brand.Name] = ids
		}
		stats.Files++
		stats.TotalRows += b.Stats.Rows
		stats.Rejected += b.Stats.Rejected
		for _, rec := range b.Recs {
			id, ok := ids[rec.EntityName]
			if !ok || rec.Rank <= 0 {
				stats.SkippedNoMatch++
				continue
			}
			points = append(points, facts.InterestPoint{
				ModelID: id,
				Month:   b.File.Month,
				Value:   decimal.NewFromInt(int64(rec.Rank)),
			})
		}
	}
	return points, nil
}

// Run executes the whole sales pipeline for the run in dependency order.
func (p *Pipeline) Run(ctx context.Context, codes []string) (RunStats, error) {
	var total RunStats
	steps := []func(context.Context, []string) (RunStats, error){
		p.Normalize,
		p.Register,
		p.Enrich,
		p.LoadSales,
		func(ctx context.Context, codes []string) (RunStats, error) {
			return p.LoadInterest(ctx, models.InterestDanawa, codes)
		},
	}
	for _, step := range steps {
		st, err := step(ctx, codes)
		if err != nil {
			return total, err
		}
		total.Merge(st)
	}
	return total, nil
}
