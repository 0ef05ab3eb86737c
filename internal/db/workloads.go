package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jonathan/evals-ingest/internal/config"
	"github.com/jonathan/evals-ingest/internal/reconcile"
)

const (
	workloadsTable = "grfxml_workloads"
	appType        = "ps-evals"
)

// Store persists reconciled test-case records into the workloads table of the
// IHV database each platform routes to.
type Store struct {
	logger   zerolog.Logger
	registry *Registry
}

// NewStore creates a Store on top of an existing pool registry. The registry's
// lifecycle stays with the caller.
func NewStore(logger zerolog.Logger, registry *Registry) *Store {
	return &Store{logger: logger, registry: registry}
}

// PushRun writes every platform's record list to its IHV database. Platform
// failures are collected, not fatal: the remaining platforms are still pushed.
func (s *Store) PushRun(ctx context.Context, data map[string][]*reconcile.Record, buildID string) error {
	var errs []error
	for _, platform := range config.Platforms {
		records, ok := data[platform]
		if !ok {
			continue
		}
		if err := s.pushPlatform(ctx, records, platform, buildID); err != nil {
			s.logger.Error().Str("platform", platform).Err(err).Msg("failed to push records")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) pushPlatform(ctx context.Context, records []*reconcile.Record, platform, buildID string) error {
	ihv, ok := config.IHVForPlatform(platform)
	if !ok {
		return fmt.Errorf("unknown platform %s, cannot determine IHV", platform)
	}

	pool, err := s.registry.Pool(ctx, ihv)
	if err != nil {
		return err
	}

	var count int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+workloadsTable+` WHERE azurepipelineid = $1 AND typeofapp = $2`,
		buildID, appType,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check existing records: %w", err)
	}
	exists := count > 0

	// Each record commits on its own: a failed row rolls back alone and the
	// rest of the record set still lands.
	for _, rec := range records {
		if err := s.writeRecord(ctx, pool, rec, exists); err != nil {
			s.logger.Error().
				Str("testcase", rec.TestcaseName).
				Err(err).
				Msg("failed to write record")
			continue
		}
		s.logger.Info().
			Str("testcase", rec.TestcaseName).
			Bool("updated", exists).
			Msg("record written")
	}
	return nil
}

func (s *Store) writeRecord(ctx context.Context, pool *pgxpool.Pool, rec *reconcile.Record, exists bool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	metricsParam, err := performanceMetricsParam(rec.PerformanceMetrics)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.Exec(ctx,
			`UPDATE `+workloadsTable+`
			 SET name = $1,
			     architecture = $2,
			     testresult = $3,
			     resultssummary = jsonb_build_object('ErrorType', $4::text, 'ErrorMessage', $5::text),
			     azurepipelinelink = $6,
			     agentpool = $7,
			     timestamp = $8,
			     performancemetrics = $9,
			     miscellaneous = jsonb_build_object('Duration', $10::text, 'RepoName', $11::text,
			                                        'RepoCommit', $12::text, 'RepoBranch', $13::text,
			                                        'TriggerType', $14::text, 'TriggeredBy', $15::text)
			 WHERE azurepipelineid = $16 AND typeofapp = $17 AND name = $18`,
			rec.TestcaseName, rec.Architecture, rec.Status,
			fmt.Sprint(rec.ErrorType), rec.ErrorMessage,
			rec.PipelineRunLink, rec.AgentName, rec.TimeStamp, metricsParam,
			rec.Duration, rec.RepoName, rec.RepoCommit, rec.RepoBranch,
			rec.TriggerType, rec.TriggeredBy,
			rec.PipelineRunID, appType, rec.TestcaseName,
		)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+workloadsTable+` (
			     name, architecture, testresult, resultssummary,
			     azurepipelineid, azurepipelinelink, agentpool, typeofapp,
			     timestamp, performancesummary, performancemetrics, miscellaneous
			 )
			 VALUES (
			     $1, $2, $3, jsonb_build_object('ErrorType', $4::text, 'ErrorMessage', $5::text),
			     $6, $7, $8, $9, $10, NULL, $11,
			     jsonb_build_object('Duration', $12::text, 'RepoName', $13::text,
			                        'RepoCommit', $14::text, 'RepoBranch', $15::text,
			                        'TriggerType', $16::text, 'TriggeredBy', $17::text)
			 )`,
			rec.TestcaseName, rec.Architecture, rec.Status,
			fmt.Sprint(rec.ErrorType), rec.ErrorMessage,
			rec.PipelineRunID, rec.PipelineRunLink, rec.AgentName, appType,
			rec.TimeStamp, metricsParam,
			rec.Duration, rec.RepoName, rec.RepoCommit, rec.RepoBranch,
			rec.TriggerType, rec.TriggeredBy,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return tx.Commit(ctx)
}

// performanceMetricsParam serializes the attached metrics value for the
// performancemetrics column; empty values become NULL.
func performanceMetricsParam(v any) (*string, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case string:
		if value == "" {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance metrics: %w", err)
	}
	s := string(data)
	return &s, nil
}
