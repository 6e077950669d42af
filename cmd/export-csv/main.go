package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"carpulse/internal/facts"
	"carpulse/internal/registry"
	"carpulse/pkg/database"
	"carpulse/pkg/logger"
	"carpulse/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CARPULSE_CONFIG"), "YAML config file")
		outDir     = flag.String("out", "data/export", "output directory")
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Open(cfg.DB())
	if err != nil {
		log.Fatal("db open failed", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal("db migrate failed", "error", err)
	}

	ex := exporter{
		models: registry.NewRepo(db, log),
		facts:  facts.NewRepo(db, log),
	}
	counts, err := ex.exportAll(ctx, *outDir)
	if err != nil {
		log.Fatal("export failed", "dir", *outDir, "error", err)
	}
	log.Info("export finished",
		"dir", *outDir,
		"models", counts[fileModels],
		"sales", counts[fileSales],
		"interest", counts[fileInterest],
	)
}

const (
	fileModels   = "car_model.csv"
	fileSales    = "model_monthly_sales.csv"
	fileInterest = "model_monthly_interest.csv"
)

func (ex exporter) exportAll(ctx context.Context, dir string) (map[string]int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	counts := make(map[string]int, 3)
	for name, fn := range map[string]func(context.Context, *csvFile) error{
		fileModels:   ex.writeModels,
		fileSales:    ex.writeSales,
		fileInterest: ex.writeInterest,
	} {
		n, err := writeCSVFile(ctx, filepath.Join(dir, name), fn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}
