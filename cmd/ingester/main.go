package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"surveillance-platform/internal/config"
	"surveillance-platform/internal/repository"
	"surveillance-platform/internal/services"
	"surveillance-platform/pkg/database"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	countsFile := flag.String("counts", "", "Gzipped CSV file with case counts (region,period,count)")
	populationFile := flag.String("population", "", "CSV file with region populations (code,name,population)")
	covariateName := flag.String("covariate", "", "Covariate name to fetch from the configured source")
	batchSize := flag.Int("batch-size", 1000, "Number of records to process in each batch")
	flag.Parse()

	if *countsFile == "" && *populationFile == "" && *covariateName == "" {
		fmt.Fprintln(os.Stderr, "Nothing to do: pass -counts, -population or -covariate")
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("surveillance-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting surveillance data ingestion", logging.Fields{
		"version":         "1.0.0",
		"counts_file":     *countsFile,
		"population_file": *populationFile,
		"covariate":       *covariateName,
		"batch_size":      *batchSize,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("surveillance_ingester")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository and services
	repo := repository.NewSurveillanceRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(repo, logger, metricsCollector)
	covariateService := services.NewCovariateService(repo, logger, metricsCollector)

	// Ingest population metadata first so counts can resolve regions
	if *populationFile != "" {
		result, err := ingestionService.IngestPopulation(ctx, *populationFile)
		if err != nil {
			logger.Fatal(ctx, "[INGESTION_ERROR] Population ingestion failed", logging.Fields{
				"file": *populationFile,
			}, err)
		}
		printResult("POPULATION INGESTION COMPLETE", result)
	}

	// Ingest case counts
	if *countsFile != "" {
		result, err := ingestionService.IngestCounts(ctx, *countsFile, *batchSize)
		if err != nil {
			logger.Fatal(ctx, "[INGESTION_ERROR] Count ingestion failed", logging.Fields{
				"file": *countsFile,
			}, err)
		}
		printResult("COUNT INGESTION COMPLETE", result)

		logger.Info(ctx, "[INGESTER_COMPLETE] Count ingestion completed", logging.Fields{
			"total_records":      result.TotalRecords,
			"successful_records": result.SuccessfulRecords,
			"failed_records":     result.FailedRecords,
			"duration_seconds":   result.Duration.Seconds(),
		})
	}

	// Fetch covariates from the configured remote source
	if *covariateName != "" {
		if cfg.Data.CovariateURL == "" {
			logger.Fatal(ctx, "[INGESTION_ERROR] COVARIATE_URL is not configured", logging.Fields{}, fmt.Errorf("missing covariate source"))
		}
		result, err := covariateService.FetchCovariates(ctx, *covariateName, cfg.Data.CovariateURL)
		if err != nil {
			logger.Fatal(ctx, "[INGESTION_ERROR] Covariate fetch failed", logging.Fields{
				"covariate": *covariateName,
			}, err)
		}
		printResult("COVARIATE FETCH COMPLETE", result)
	}
}

func printResult(title string, result *services.IngestionResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if result.Duration.Seconds() > 0 {
		fmt.Printf("Records/Second:     %.2f\n", float64(result.SuccessfulRecords)/result.Duration.Seconds())
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
