package services

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"surveillance-platform/internal/models"
	"surveillance-platform/internal/repository"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

// IngestionService loads surveillance source files into the database
type IngestionService struct {
	repo    repository.SurveillanceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.SurveillanceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestCounts loads a gzip-compressed CSV of monthly case counts.
// Each row is region code, YYYY-MM period, count. Rows that fail
// validation are skipped and counted, not fatal.
func (s *IngestionService) IngestCounts(ctx context.Context, path string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting case count ingestion", logging.Fields{
		"path":       path,
		"batch_size": batchSize,
	})

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open counts file: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("counts file is not valid gzip: %w", err)
	}
	defer gz.Close()

	result := &IngestionResult{Errors: make([]string, 0)}
	batch := make([]*models.CaseCount, 0, batchSize)
	seenRegions := make(map[string]bool)

	reader := csv.NewReader(gz)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	for line := 1; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.FailedRecords++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		// Skip a header row.
		if line == 1 && strings.EqualFold(strings.TrimSpace(fields[0]), "region") {
			continue
		}

		result.TotalRecords++
		raw := &models.RawCaseRecord{
			RegionCode: fields[0],
			Period:     fields[1],
			Count:      fields[2],
		}

		count, err := raw.ToCaseCount()
		if err != nil {
			result.FailedRecords++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			s.metrics.RecordIngestionError("validation_error")
			continue
		}

		if !seenRegions[count.RegionCode] {
			region := &models.Region{
				Code:      count.RegionCode,
				Name:      count.RegionCode,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.repo.UpsertRegion(ctx, region); err != nil {
				return nil, fmt.Errorf("failed to upsert region %s: %w", count.RegionCode, err)
			}
			seenRegions[count.RegionCode] = true
		}

		batch = append(batch, count)
		if len(batch) >= batchSize {
			if err := s.repo.CreateCaseCountsBatch(ctx, batch); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			result.SuccessfulRecords += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.repo.CreateCaseCountsBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		result.SuccessfulRecords += len(batch)
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Case count ingestion completed", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"regions":            len(seenRegions),
		"duration_seconds":   result.Duration.Seconds(),
	})

	return result, nil
}

// IngestPopulation loads a plain CSV of region metadata. Each row is
// region code, display name, population.
func (s *IngestionService) IngestPopulation(ctx context.Context, path string) (*IngestionResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open population file: %w", err)
	}
	defer file.Close()

	result := &IngestionResult{Errors: make([]string, 0)}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	startTime := time.Now()
	for line := 1; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.FailedRecords++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		if line == 1 && strings.EqualFold(strings.TrimSpace(fields[0]), "region") {
			continue
		}

		result.TotalRecords++
		code := strings.TrimSpace(fields[0])
		pop, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if code == "" || err != nil || pop <= 0 {
			result.FailedRecords++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: invalid region row", line))
			s.metrics.RecordIngestionError("validation_error")
			continue
		}

		region := &models.Region{
			Code:       code,
			Name:       strings.TrimSpace(fields[1]),
			Population: &pop,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := s.repo.UpsertRegion(ctx, region); err != nil {
			return nil, fmt.Errorf("failed to upsert region %s: %w", code, err)
		}
		result.SuccessfulRecords++
	}

	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[INGEST_POPULATION] Region metadata loaded", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
	})

	return result, nil
}
