// SPDX-License-Identifier: Apache-2.0

// Package mongo implements source.DocumentAdapter for MongoDB collections
// via go.mongodb.org/mongo-driver/v2, following the Connect/Database/
// Collection idiom used for reseed tooling elsewhere in the ecosystem.
// There is no SQL here: field sets are discovered by sampling documents,
// and only FULL_LOAD is meaningful (spec §4.2).
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/dsn"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
)

func init() {
	source.RegisterDocument(catalog.EngineMongoDB, func() source.DocumentAdapter { return &Adapter{} })
}

// DocumentColumn is the reserved column holding every field not captured
// during sampling, stored as JSON (spec §4.2).
const DocumentColumn = "_document"

// Adapter is the source.DocumentAdapter implementation for MongoDB.
type Adapter struct {
	client *mongo.Client
}

func (a *Adapter) Open(ctx context.Context, connString string) error {
	p, err := dsn.Parse(catalog.EngineMongoDB, connString)
	if err != nil {
		return err
	}

	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return &synerr.ConnectionError{Engine: "MongoDB", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return &synerr.ConnectionError{Engine: "MongoDB", Err: err}
	}

	a.client = client
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.client.Ping(ctx, nil); err != nil {
		return &synerr.ConnectionError{Engine: "MongoDB", Err: err}
	}
	return nil
}

func (a *Adapter) Count(ctx context.Context, database, collection string) (int64, error) {
	n, err := a.client.Database(database).Collection(collection).EstimatedDocumentCount(ctx)
	return source.ParseCountDefensive(n, err), nil
}

// sampleSizeDefault caps the document sample used for field discovery
// (spec §4.2: "up to 100 documents").
const sampleSizeDefault = 100

// DiscoverFields samples up to sampleSize documents and returns the union
// of scalar top-level fields seen. Nested documents and arrays are never
// promoted to scalar columns — they, and any field outside the sample,
// fall through to DocumentColumn at fetch time.
func (a *Adapter) DiscoverFields(ctx context.Context, database, collection string, sampleSize int) ([]source.Column, error) {
	if sampleSize <= 0 {
		sampleSize = sampleSizeDefault
	}

	cur, err := a.client.Database(database).Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(sampleSize)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	seen := map[string]source.Column{"_id": {Name: "_id", Type: "TEXT", Nullable: false, PK: true}}
	order := []string{"_id"}

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		for field, value := range doc {
			if field == "_id" {
				continue
			}
			if !isScalar(value) {
				continue
			}
			if _, ok := seen[field]; !ok {
				seen[field] = source.Column{Name: field, Type: mongoScalarType(value), Nullable: true}
				order = append(order, field)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	cols := make([]source.Column, 0, len(order)+1)
	for _, name := range order {
		cols = append(cols, seen[name])
	}
	cols = append(cols, source.Column{Name: DocumentColumn, Type: "JSONB", Nullable: true})
	return cols, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case bson.M, bson.D, bson.A, []any:
		return false
	default:
		return true
	}
}

func mongoScalarType(v any) string {
	switch v.(type) {
	case int32, int64, int:
		return "BIGINT"
	case float64, float32:
		return "DOUBLE PRECISION"
	case bool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// FetchDocuments pages by _id ascending. MongoDB's ObjectID is naturally
// monotonic-ish on insert, but the cursor here compares string-encoded
// hex ids lexicographically, consistent with the rest of the
// synchronizer's opaque-string cursor convention (spec GLOSSARY: Cursor).
func (a *Adapter) FetchDocuments(ctx context.Context, database, collection string, afterID string, limit int) ([]source.Document, error) {
	filter := bson.D{}
	if afterID != "" {
		oid, err := bson.ObjectIDFromHex(afterID)
		if err == nil {
			filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: oid}}}}
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cur, err := a.client.Database(database).Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []source.Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}

		doc := source.Document{Fields: map[string]string{}, Extra: map[string]any{}}
		for field, value := range raw {
			if field == "_id" {
				if oid, ok := value.(bson.ObjectID); ok {
					doc.ID = oid.Hex()
				} else {
					doc.ID = fmt.Sprintf("%v", value)
				}
				continue
			}
			if isScalar(value) {
				doc.Fields[field] = fmt.Sprintf("%v", value)
			} else {
				doc.Extra[field] = value
			}
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(context.Background())
}
