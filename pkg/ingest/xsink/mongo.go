package xsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoCollection MongoSink 用到的集合操作，*mongo.Collection 实现此接口。
type mongoCollection interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
}

// MongoSink 以主键为 _id 写入 MongoDB 集合。
type MongoSink struct {
	coll mongoCollection
}

// NewMongoSink 创建 MongoDB Sink。
func NewMongoSink(coll *mongo.Collection) (*MongoSink, error) {
	if coll == nil {
		return nil, ErrNilClient
	}
	return &MongoSink{coll: coll}, nil
}

// Upsert 实现 Sink：一次无序 BulkWrite，每条记录一个 ReplaceOne{upsert}。
func (s *MongoSink) Upsert(ctx context.Context, records []Record, pkField string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return 0, err
		}
		doc := toDocument(r)
		doc["_id"] = k
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: k}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("xsink: mongo bulk write: %w", err)
	}
	return int(res.UpsertedCount), nil
}

// MaxKey 实现 Sink：按 field 降序取第一条。
func (s *MongoSink) MaxKey(ctx context.Context, field string) (any, bool, error) {
	filter := bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}}
	opts := options.FindOne().
		SetSort(bson.D{{Key: field, Value: -1}}).
		SetProjection(bson.D{{Key: field, Value: 1}})

	var doc bson.M
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("xsink: mongo max key: %w", err)
	}
	v, ok := doc[field]
	if !ok || v == nil {
		return nil, false, nil
	}
	return fromBSON(v), true, nil
}

// Count 实现 Sink。
func (s *MongoSink) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("xsink: mongo count: %w", err)
	}
	return n, nil
}

// Exists 实现 Sink：按 _id 的 $in 查询，只投影 _id。
func (s *MongoSink) Exists(ctx context.Context, _ string, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("xsink: mongo exists: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("xsink: mongo exists decode: %w", err)
		}
		out[doc.ID] = true
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("xsink: mongo exists: %w", err)
	}
	return out, nil
}

// toDocument 深拷贝记录并把 json.Number 转为 BSON 数值类型。
func toDocument(r Record) bson.M {
	doc := make(bson.M, len(r)+1)
	for k, v := range r {
		doc[k] = toBSON(v)
	}
	return doc
}

func toBSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return x.String()
	case map[string]any:
		return toDocument(x)
	case []any:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = toBSON(e)
		}
		return out
	default:
		return v
	}
}

// fromBSON 把驱动解码出的数值还原为 CompareKeys 可比较的类型。
func fromBSON(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case bson.Decimal128:
		return json.Number(x.String())
	default:
		return v
	}
}

var _ Sink = (*MongoSink)(nil)
