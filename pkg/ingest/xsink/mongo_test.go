package xsink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// fakeCollection 实现 mongoCollection，记录调用参数。
type fakeCollection struct {
	models   []mongo.WriteModel
	bulkRes  *mongo.BulkWriteResult
	bulkErr  error
	maxDoc   any
	maxErr   error
	findDocs []any
	findErr  error
	count    int64
	filter   any
}

func (f *fakeCollection) BulkWrite(_ context.Context, models []mongo.WriteModel, _ ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error) {
	f.models = models
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	return f.bulkRes, nil
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	f.filter = filter
	if f.maxErr != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.maxErr, nil)
	}
	return mongo.NewSingleResultFromDocument(f.maxDoc, nil, nil)
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	f.filter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}
	return mongo.NewCursorFromDocuments(f.findDocs, nil, nil)
}

func (f *fakeCollection) CountDocuments(_ context.Context, _ any, _ ...options.Lister[options.CountOptions]) (int64, error) {
	return f.count, nil
}

func TestNewMongoSink_NilCollection(t *testing.T) {
	_, err := NewMongoSink(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestMongoSink_Upsert(t *testing.T) {
	coll := &fakeCollection{bulkRes: &mongo.BulkWriteResult{UpsertedCount: 1, ModifiedCount: 1}}
	s := &MongoSink{coll: coll}

	n, err := s.Upsert(context.Background(), []Record{
		{"Id": json.Number("1"), "Total": json.Number("9.5"), "Lines": []any{map[string]any{"Qty": json.Number("2")}}},
		{"Id": json.Number("2")},
	}, "Id")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, coll.models, 2)

	m, ok := coll.models[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "_id", Value: "1"}}, m.Filter)
	require.NotNil(t, m.Upsert)
	assert.True(t, *m.Upsert)

	doc, ok := m.Replacement.(bson.M)
	require.True(t, ok)
	assert.Equal(t, "1", doc["_id"])
	assert.Equal(t, int64(1), doc["Id"])
	assert.InDelta(t, 9.5, doc["Total"], 1e-9)
	lines := doc["Lines"].(bson.A)
	assert.Equal(t, int64(2), lines[0].(bson.M)["Qty"])
}

func TestMongoSink_UpsertErrors(t *testing.T) {
	s := &MongoSink{coll: &fakeCollection{bulkErr: errors.New("not primary")}}
	_, err := s.Upsert(context.Background(), []Record{{"Id": 1}}, "Id")
	assert.ErrorContains(t, err, "not primary")

	_, err = s.Upsert(context.Background(), []Record{{"Name": "x"}}, "Id")
	assert.ErrorIs(t, err, ErrMissingKey)

	n, err := s.Upsert(context.Background(), nil, "Id")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMongoSink_MaxKey(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		s := &MongoSink{coll: &fakeCollection{maxDoc: bson.D{{Key: "Id", Value: int32(42)}}}}
		v, ok, err := s.MaxKey(context.Background(), "Id")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(42), v)
	})

	t.Run("Empty", func(t *testing.T) {
		s := &MongoSink{coll: &fakeCollection{maxErr: mongo.ErrNoDocuments}}
		_, ok, err := s.MaxKey(context.Background(), "Id")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Error", func(t *testing.T) {
		s := &MongoSink{coll: &fakeCollection{maxErr: errors.New("timeout")}}
		_, _, err := s.MaxKey(context.Background(), "Id")
		assert.Error(t, err)
	})
}

func TestMongoSink_ExistsAndCount(t *testing.T) {
	coll := &fakeCollection{
		findDocs: []any{bson.D{{Key: "_id", Value: "1"}}, bson.D{{Key: "_id", Value: "3"}}},
		count:    7,
	}
	s := &MongoSink{coll: coll}

	got, err := s.Exists(context.Background(), "Id", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true, "3": true}, got)
	assert.Equal(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: []string{"1", "2", "3"}}}}}, coll.filter)

	empty, err := s.Exists(context.Background(), "Id", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}
