package mongostore

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Stores bundles the stores sharing one client connection.
type Stores struct {
	client *mongo.Client
	Users  *UserStore
	Runs   *RunStore
}

// Connect dials uri, pings the primary and opens the users and runs
// collections of database.
func Connect(ctx context.Context, uri string, database string, usersCollection string) (*Stores, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongostore: connection uri is required")
	}
	if strings.TrimSpace(database) == "" || strings.TrimSpace(usersCollection) == "" {
		return nil, fmt.Errorf("mongostore: database and users collection are required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(database)
	users, err := NewUserStore(db.Collection(usersCollection))
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	runs, err := NewRunStore(db.Collection(DefaultRunCollection))
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return &Stores{client: client, Users: users, Runs: runs}, nil
}

func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
