// carpulse runs the sales and interest ingestion jobs.
//
// Usage:
//
//	carpulse --run-id 24_03_31 run
//	carpulse --run-id 24_03_31 --brands kia load-sales
//	carpulse --run-id 24_03_31 load-interest --source naver
//	carpulse token --subject dashboard
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"carpulse/internal/auth"
	"carpulse/internal/candidates"
	"carpulse/internal/ingest"
	"carpulse/internal/trend"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/models"
	"carpulse/pkg/utils"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "carpulse",
		Usage:   "reconcile scraped car sales rankings and search interest into a monthly fact store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"CARPULSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "root of the raw/ and processed/ trees (overrides config)",
			},
			&cli.StringFlag{
				Name:    "run-id",
				Aliases: []string{"r"},
				Usage:   "crawl run identifier, e.g. 24_03_31",
				EnvVars: []string{"CARPULSE_RUN_ID"},
			},
			&cli.StringSliceFlag{
				Name:    "brands",
				Aliases: []string{"b"},
				Usage:   "brand codes to process (default: every configured brand)",
			},
			&cli.StringFlag{
				Name:  "log-mode",
				Usage: "dev, prod or test (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "normalize",
				Usage:  "rewrite raw sales tables as *_normalized.csv",
				Action: withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) { return a.p.Normalize(ctx, a.brands) }),
			},
			{
				Name:  "candidates",
				Usage: "aggregate model candidates and write them as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path (default: processed/car_model_candidates_<run>.csv)"},
				},
				Action: candidatesAction,
			},
			{
				Name:   "register",
				Usage:  "create models for every candidate of the run",
				Action: withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) { return a.p.Register(ctx, a.brands) }),
			},
			{
				Name:   "enrich",
				Usage:  "attach external ids, detail URLs and images from metadata tables",
				Action: withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) { return a.p.Enrich(ctx, a.brands) }),
			},
			{
				Name:   "load-sales",
				Usage:  "reconcile normalized sales tables into model_monthly_sales",
				Action: withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) { return a.p.LoadSales(ctx, a.brands) }),
			},
			{
				Name:  "load-interest",
				Usage: "merge one interest source into model_monthly_interest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "naver, google or danawa", Required: true},
				},
				Action: func(c *cli.Context) error {
					src, err := models.ParseInterestSource(strings.ToLower(c.String("source")))
					if err != nil {
						return err
					}
					return withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) {
						return a.p.LoadInterest(ctx, src, a.brands)
					})(c)
				},
			},
			{
				Name:  "fetch-naver",
				Usage: "fetch DataLab trends for every registered model into the raw naver file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "YYYY-MM-DD", Required: true},
					&cli.StringFlag{Name: "end", Usage: "YYYY-MM-DD", Required: true},
					&cli.StringFlag{Name: "unit", Value: "month", Usage: "date, week or month"},
				},
				Action: func(c *cli.Context) error {
					return withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) {
						client, err := trend.NewNaverClient(a.cfg.Naver.ClientID, a.cfg.Naver.ClientSecret, a.cfg.Naver.BaseURL)
						if err != nil {
							return ingest.RunStats{}, err
						}
						return a.p.FetchNaver(ctx, client, c.String("start"), c.String("end"), c.String("unit"))
					})(c)
				},
			},
			{
				Name:   "run",
				Usage:  "normalize, register, enrich, load sales and danawa popularity",
				Action: withPipeline(func(ctx context.Context, a *env) (ingest.RunStats, error) { return a.p.Run(ctx, a.brands) }),
			},
			{
				Name:  "token",
				Usage: "mint a read API token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Value: "dashboard", Usage: "token subject"},
					&cli.StringFlag{Name: "scope", Value: auth.ScopeRead, Usage: "token scope"},
				},
				Action: tokenAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    utils.Config
	log    *logger.Logger
	db     *database.DB
	p      *ingest.Pipeline
	brands []string
}

func loadConfig(c *cli.Context) (utils.Config, error) {
	cfg, err := utils.LoadConfig(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := c.String("log-mode"); v != "" {
		cfg.LogMode = v
	}
	return cfg, nil
}

func open(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(cfg.DB())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate failed: %w", err)
	}

	brands := c.StringSlice("brands")
	if len(brands) == 0 {
		brands = cfg.BrandCodes()
	}
	return &env{
		cfg:    cfg,
		log:    log,
		db:     db,
		p:      ingest.New(db, cfg, c.String("run-id"), log),
		brands: brands,
	}, nil
}

func (a *env) close() {
	_ = a.db.Close()
	a.log.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func withPipeline(job func(ctx context.Context, a *env) (ingest.RunStats, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := open(c)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		stats, err := job(ctx, a)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}
}

func candidatesAction(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	set, stats, err := a.p.BuildCandidates(ctx, a.brands)
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "" {
		out = a.p.Layout.CandidatesFile()
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := candidates.WriteCSV(f, set); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.log.Info("candidates written", "path", out, "count", len(set))
	return printJSON(stats)
}

func tokenAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ts := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTDuration)
	tok, exp, err := ts.Sign(c.String("subject"), c.String("scope"))
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
