package mongostore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultRunCollection = "migration_runs"

// RunStore appends one document per finished migration run.
type RunStore struct {
	collection *mongo.Collection
}

func NewRunStore(collection *mongo.Collection) (*RunStore, error) {
	if collection == nil {
		return nil, fmt.Errorf("mongostore: runs collection is required")
	}
	return &RunStore{collection: collection}, nil
}

func (s *RunStore) RecordRun(ctx context.Context, report core.RunReport) error {
	if s == nil || s.collection == nil {
		return fmt.Errorf("mongostore: run store is not configured")
	}
	if strings.TrimSpace(report.RunID) == "" {
		return fmt.Errorf("mongostore: run id is required")
	}
	if _, err := s.collection.InsertOne(ctx, runDocumentFromReport(report)); err != nil {
		return fmt.Errorf("mongostore: insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. An empty phase lists all phases.
func (s *RunStore) ListRuns(ctx context.Context, phase core.Phase, limit int) ([]core.RunReport, error) {
	if s == nil || s.collection == nil {
		return nil, fmt.Errorf("mongostore: run store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	filter := bson.D{}
	if phase != "" {
		if err := phase.Validate(); err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: "phase", Value: string(phase)})
	}

	cursor, err := s.collection.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "startedAt", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongostore: find runs: %w", err)
	}
	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode runs: %w", err)
	}
	reports := make([]core.RunReport, 0, len(docs))
	for _, doc := range docs {
		reports = append(reports, doc.toDomain())
	}
	return reports, nil
}
