package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RunStore keeps one row per finished migration run.
type RunStore struct {
	db   *bun.DB
	repo repository.Repository[*runRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*runRecord](db, runHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run repository wiring: %w", err)
		}
	}
	return &RunStore{db: db, repo: repo}, nil
}

func (s *RunStore) RecordRun(ctx context.Context, report core.RunReport) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	if strings.TrimSpace(report.RunID) == "" {
		return fmt.Errorf("sqlstore: run id is required")
	}
	if err := report.Phase.Validate(); err != nil {
		return err
	}
	record := runRecordFromReport(report)
	record.ID = uuid.NewString()
	_, err := s.repo.Create(ctx, record)
	return err
}

// ListRuns returns the most recent runs first. An empty phase lists all phases.
func (s *RunStore) ListRuns(ctx context.Context, phase core.Phase, limit int) ([]core.RunReport, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: run store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("started_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if phase != "" {
		if err := phase.Validate(); err != nil {
			return nil, err
		}
		selectors = append(selectors, repository.SelectBy("phase", "=", string(phase)))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	reports := make([]core.RunReport, 0, len(records))
	for _, record := range records {
		reports = append(reports, record.toDomain())
	}
	return reports, nil
}
