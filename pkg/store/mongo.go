package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
)

// Atlas defaults for the policy collection.
const (
	DefaultMongoDatabase    = "delivery_shield"
	DefaultMongoCollection  = "refund_policies"
	DefaultVectorIndex      = "vector_index"
	DefaultVectorDimensions = 768
)

// MongoPolicyStore keeps the corpus in MongoDB Atlas and searches it with
// the $vectorSearch aggregation stage. The vector index has to exist in
// Atlas:
//
//	{"fields": [{"type": "vector", "path": "embedding", "numDimensions": 768, "similarity": "cosine"}]}
type MongoPolicyStore struct {
	coll  *mongo.Collection
	index string
}

// NewMongoPolicyStore wraps an existing collection.
func NewMongoPolicyStore(coll *mongo.Collection, index string) *MongoPolicyStore {
	if index == "" {
		index = DefaultVectorIndex
	}
	return &MongoPolicyStore{coll: coll, index: index}
}

// ConnectMongo opens a client for uri and returns the default policy
// collection. The caller owns the returned client.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("store: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("store: mongo ping: %w", err)
	}
	return client, client.Database(DefaultMongoDatabase).Collection(DefaultMongoCollection), nil
}

// vectorSearchPipeline builds the aggregation for a similarity query.
func vectorSearchPipeline(index string, vector Embedding, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: []float32(vector)},
			{Key: "numCandidates", Value: limit * 20},
			{Key: "limit", Value: limit},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "id", Value: 1},
			{Key: "title", Value: 1},
			{Key: "description", Value: 1},
			{Key: "conditions", Value: 1},
			{Key: "refundPercentage", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
}

func (m *MongoPolicyStore) Search(ctx context.Context, vector Embedding, limit int) ([]policy.RefundPolicy, error) {
	if norm(vector) == 0 {
		return nil, ErrZeroVector
	}
	cur, err := m.coll.Aggregate(ctx, vectorSearchPipeline(m.index, vector, limit))
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	var out []policy.RefundPolicy
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode search results: %w", err)
	}
	if out == nil {
		out = []policy.RefundPolicy{}
	}
	return out, nil
}

func (m *MongoPolicyStore) ListAll(ctx context.Context, limit int) ([]policy.RefundPolicy, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 0}, {Key: "embedding", Value: 0}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	var out []policy.RefundPolicy
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode policies: %w", err)
	}
	if out == nil {
		out = []policy.RefundPolicy{}
	}
	return out, nil
}

func (m *MongoPolicyStore) Upsert(ctx context.Context, policies []policy.RefundPolicy) error {
	if len(policies) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(policies))
	for _, p := range policies {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "id", Value: p.ID}}).
			SetReplacement(p).
			SetUpsert(true))
	}
	if _, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("store: upsert policies: %w", err)
	}
	return nil
}

func (m *MongoPolicyStore) Count(ctx context.Context) (int, error) {
	n, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("store: count policies: %w", err)
	}
	return int(n), nil
}
