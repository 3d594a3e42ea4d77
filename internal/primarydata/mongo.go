package primarydata

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Client is the pipeline's narrow handle on the primary transactional
// store. The pipeline never interprets the documents it moves: captures
// read collections verbatim and restore writes them back verbatim, so the
// primary schema stays out of scope.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, uri, database string) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Collect reads one collection in full, documents verbatim.
func (c *Client) Collect(ctx context.Context, collection string) ([]map[string]any, error) {
	cursor, err := c.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	return docs, nil
}

// Drop removes one collection in full.
func (c *Client) Drop(ctx context.Context, collection string) error {
	return c.db.Collection(collection).Drop(ctx)
}

// InsertAll bulk-inserts captured documents, bypassing any application
// middleware the primary app runs on normal writes.
func (c *Client) InsertAll(ctx context.Context, collection string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]any, len(docs))
	for i, doc := range docs {
		rows[i] = doc
	}
	if _, err := c.db.Collection(collection).InsertMany(ctx, rows); err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return nil
}
