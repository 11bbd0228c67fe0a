package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// MongoStore maps every collection path to a MongoDB collection, replacing
// the path separator with a dot, and stores the document id in _id.
// Batches run in a multi-document transaction, which needs a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, config MongoConfig) (*MongoStore, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout)
	if config.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(config.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("Ping: %w", err)
	}

	return &MongoStore{client: client, db: client.Database(config.Database)}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) collection(path string) *mongo.Collection {
	return s.db.Collection(strings.ReplaceAll(path, "/", "."))
}

func (s *MongoStore) Get(ctx context.Context, collection, id string, dst any) error {
	var d bson.D
	err := s.collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("FindOne(%s/%s): %w", collection, id, err)
	}
	data, err := fromBSON(d)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("json.Unmarshal(%s/%s): %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, doc any) error {
	d, err := toBSON(doc)
	if err != nil {
		return err
	}
	_, err = s.collection(collection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}}, d, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ReplaceOne(%s/%s): %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	update, err := mongoUpdate(fields)
	if err != nil {
		return err
	}
	res, err := s.collection(collection).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("UpdateOne(%s/%s): %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("DeleteOne(%s/%s): %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter, err := mongoFilter(q.Filters)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.OrderBy) > 0 {
		sort := bson.D{}
		for _, o := range q.OrderBy {
			sort = append(sort, bson.E{Key: o.Field, Value: direction(o.Desc)})
		}
		sort = append(sort, bson.E{Key: "_id", Value: direction(q.OrderBy[0].Desc)})
		opts.SetSort(sort)
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("Find(%s): %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	for cursor.Next(ctx) {
		var d bson.D
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("cursor.Decode: %w", err)
		}
		id, _ := lookup(d, "_id").(string)
		data, err := fromBSON(d)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor.Err: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	filter, err := mongoFilter(filters)
	if err != nil {
		return 0, err
	}
	n, err := s.collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("CountDocuments(%s): %w", collection, err)
	}
	return int(n), nil
}

func (s *MongoStore) Batch() Batch {
	return &mongoBatch{s: s}
}

type mongoBatch struct {
	s   *MongoStore
	ops []batchOp
}

func (b *mongoBatch) Set(collection, id string, doc any) Batch {
	b.ops = append(b.ops, batchOp{kind: opSet, collection: collection, id: id, doc: doc})
	return b
}

func (b *mongoBatch) Update(collection, id string, fields map[string]any) Batch {
	b.ops = append(b.ops, batchOp{kind: opUpdate, collection: collection, id: id, fields: fields})
	return b
}

func (b *mongoBatch) Delete(collection, id string) Batch {
	b.ops = append(b.ops, batchOp{kind: opDelete, collection: collection, id: id})
	return b
}

func (b *mongoBatch) Commit(ctx context.Context) error {
	sess, err := b.s.client.StartSession()
	if err != nil {
		return fmt.Errorf("StartSession: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, op := range b.ops {
			var err error
			switch op.kind {
			case opSet:
				err = b.s.Set(sc, op.collection, op.id, op.doc)
			case opUpdate:
				err = b.s.Update(sc, op.collection, op.id, op.fields)
			case opDelete:
				err = b.s.Delete(sc, op.collection, op.id)
			}
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("WithTransaction: %w", err)
	}
	return nil
}

func direction(desc bool) int {
	if desc {
		return -1
	}
	return 1
}

func lookup(d bson.D, key string) any {
	for _, e := range d {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// toBSON converts a JSON encodable value into a BSON document going through
// relaxed extended JSON, so that the stored fields match the JSON tags.
func toBSON(doc any) (bson.D, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON(b, false, &d); err != nil {
		return nil, fmt.Errorf("bson.UnmarshalExtJSON: %w", err)
	}
	return d, nil
}

func toBSONValue(v any) (any, error) {
	d, err := toBSON(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return lookup(d, "v"), nil
}

func fromBSON(d bson.D) ([]byte, error) {
	out := make(bson.D, 0, len(d))
	for _, e := range d {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	b, err := bson.MarshalExtJSON(out, false, false)
	if err != nil {
		return nil, fmt.Errorf("bson.MarshalExtJSON: %w", err)
	}
	return b, nil
}

func mongoFilter(filters []Filter) (bson.D, error) {
	clauses := bson.A{}
	for _, f := range filters {
		value, err := toBSONValue(f.Value)
		if err != nil {
			return nil, err
		}
		var clause bson.D
		switch f.Op {
		case Eq, Contains:
			clause = bson.D{{Key: f.Field, Value: value}}
		case NotEq:
			clause = bson.D{{Key: f.Field, Value: bson.D{{Key: "$ne", Value: value}}}}
		case Lt:
			clause = bson.D{{Key: f.Field, Value: bson.D{{Key: "$lt", Value: value}}}}
		case Lte:
			clause = bson.D{{Key: f.Field, Value: bson.D{{Key: "$lte", Value: value}}}}
		case Gt:
			clause = bson.D{{Key: f.Field, Value: bson.D{{Key: "$gt", Value: value}}}}
		case Gte:
			clause = bson.D{{Key: f.Field, Value: bson.D{{Key: "$gte", Value: value}}}}
		case Prefix:
			s, ok := f.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: prefix on non string value", ErrUnsupportedFilter)
			}
			clause = bson.D{{Key: f.Field, Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s)}}}
		default:
			return nil, fmt.Errorf("%w: op %q", ErrUnsupportedFilter, f.Op)
		}
		clauses = append(clauses, clause)
	}

	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0].(bson.D), nil
	default:
		return bson.D{{Key: "$and", Value: clauses}}, nil
	}
}

func mongoUpdate(fields map[string]any) (bson.D, error) {
	set := bson.D{}
	addToSet := bson.D{}
	pull := bson.D{}
	for k, v := range fields {
		switch v := v.(type) {
		case ArrayUnion:
			each, err := toBSONValue([]any(v))
			if err != nil {
				return nil, err
			}
			addToSet = append(addToSet, bson.E{Key: k, Value: bson.D{{Key: "$each", Value: each}}})
		case ArrayRemove:
			in, err := toBSONValue([]any(v))
			if err != nil {
				return nil, err
			}
			pull = append(pull, bson.E{Key: k, Value: bson.D{{Key: "$in", Value: in}}})
		default:
			bv, err := toBSONValue(v)
			if err != nil {
				return nil, err
			}
			set = append(set, bson.E{Key: k, Value: bv})
		}
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(addToSet) > 0 {
		update = append(update, bson.E{Key: "$addToSet", Value: addToSet})
	}
	if len(pull) > 0 {
		update = append(update, bson.E{Key: "$pull", Value: pull})
	}
	return update, nil
}
