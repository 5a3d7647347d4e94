package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserStore struct {
	collection *mongo.Collection
}

func NewUserStore(collection *mongo.Collection) (*UserStore, error) {
	if collection == nil {
		return nil, fmt.Errorf("mongostore: users collection is required")
	}
	return &UserStore{collection: collection}, nil
}

func (s *UserStore) ListCandidates(ctx context.Context, query core.CandidateQuery) ([]core.UserRecord, error) {
	if s == nil || s.collection == nil {
		return nil, fmt.Errorf("mongostore: user store is not configured")
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	filter, err := candidateFilter(query)
	if err != nil {
		return nil, err
	}

	cursor, err := s.collection.Find(ctx, filter,
		options.Find().
			SetSort(candidateSort()).
			SetLimit(int64(query.Limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongostore: find candidates: %w", err)
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode candidates: %w", err)
	}

	users := make([]core.UserRecord, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toDomain())
	}
	return users, nil
}

func (s *UserStore) SetTransferSub(ctx context.Context, id string, transferSub string) (bool, error) {
	if s == nil || s.collection == nil {
		return false, fmt.Errorf("mongostore: user store is not configured")
	}
	transferSub = strings.TrimSpace(transferSub)
	if transferSub == "" {
		return false, core.ErrMissingTransferSub
	}
	filter, update, err := transferSubUpdate(id, transferSub)
	if err != nil {
		return false, err
	}
	return s.updateOne(ctx, filter, update)
}

func (s *UserStore) SetProviderIdentity(ctx context.Context, id string, expectedSub string, identity core.ProviderIdentity) (bool, error) {
	if s == nil || s.collection == nil {
		return false, fmt.Errorf("mongostore: user store is not configured")
	}
	expectedSub = strings.TrimSpace(expectedSub)
	if expectedSub == "" {
		return false, core.ErrMissingProviderSub
	}
	if err := identity.Validate(); err != nil {
		return false, err
	}
	identity.Sub = strings.TrimSpace(identity.Sub)
	identity.Email = strings.TrimSpace(identity.Email)
	filter, update, err := identityUpdate(id, expectedSub, identity)
	if err != nil {
		return false, err
	}
	return s.updateOne(ctx, filter, update)
}

func (s *UserStore) Get(ctx context.Context, id string) (core.UserRecord, error) {
	if s == nil || s.collection == nil {
		return core.UserRecord{}, fmt.Errorf("mongostore: user store is not configured")
	}
	oid, err := parseObjectID(id)
	if err != nil {
		return core.UserRecord{}, err
	}
	var doc userDocument
	if err := s.collection.FindOne(ctx, bson.D{{Key: fieldID, Value: oid}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return core.UserRecord{}, fmt.Errorf("%w: id %q", core.ErrRecordNotFound, id)
		}
		return core.UserRecord{}, fmt.Errorf("mongostore: find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *UserStore) updateOne(ctx context.Context, filter bson.D, update bson.D) (bool, error) {
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongostore: update user: %w", err)
	}
	return res.MatchedCount > 0, nil
}
