package archive

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

// messageDoc is the persisted document in the "messages" collection.
type messageDoc struct {
	ID        bson.ObjectID `bson:"_id"`
	User      string        `bson:"user"`
	Server    string        `bson:"server"`
	JID       jidDoc        `bson:"jid"`
	Body      string        `bson:"body"`
	Direction string        `bson:"direction"`
	TS        time.Time     `bson:"ts"`
	Raw       []byte        `bson:"raw"`
}

// projectedDoc is what Find reads back.
type projectedDoc struct {
	ID  bson.ObjectID `bson:"_id"`
	TS  time.Time     `bson:"ts"`
	Raw []byte        `bson:"raw"`
}

// MongoStore is a Store backed by a MongoDB collection.
//
// Ownership model mirrors PostgresStore: the client is owned by the caller
// unless WithOwnedClient is given.
//
// Write model:
//   - Inserts use an unacknowledged write concern (fire-and-forget).
//   - Finds read with majority read concern from the primary.
//   - ObjectIDs are assigned client-side so the id is known without an ack.
type MongoStore struct {
	client     *mongo.Client
	writes     *mongo.Collection
	reads      *mongo.Collection
	ownsClient bool
}

// MongoOption configures MongoStore behavior.
type MongoOption func(*MongoStore)

// WithOwnedClient makes Close disconnect the client.
func WithOwnedClient() MongoOption {
	return func(s *MongoStore) { s.ownsClient = true }
}

// NewMongoStore constructs a Mongo-backed Store on database db.
func NewMongoStore(client *mongo.Client, db string, opts ...MongoOption) (*MongoStore, error) {
	if client == nil {
		return nil, errors.New("archive: nil mongo client")
	}
	if db == "" {
		return nil, errors.New("archive: empty mongo database")
	}

	database := client.Database(db)
	st := &MongoStore{
		client: client,
		writes: database.Collection(CollectionMessages,
			options.Collection().SetWriteConcern(writeconcern.Unacknowledged())),
		reads: database.Collection(CollectionMessages,
			options.Collection().
				SetReadConcern(readconcern.Majority()).
				SetReadPreference(readpref.Primary()).
				SetWriteConcern(writeconcern.Majority())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(st)
		}
	}
	return st, nil
}

// Close disconnects the client when the store owns it.
func (s *MongoStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks primary reachability.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("archive.MongoStore.Ping", err)
	}
	return nil
}

// EnsureIndexes creates the indexes Find and PurgeBefore rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.reads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldUser, Value: 1}, {Key: fieldServer, Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: fieldUser, Value: 1}, {Key: fieldServer, Value: 1}, {Key: fieldTS, Value: 1}}},
		{Keys: bson.D{{Key: fieldTS, Value: 1}}},
	})
	if err != nil {
		return unavailable("archive.MongoStore.EnsureIndexes", err)
	}
	return nil
}

// Insert writes rec without waiting for acknowledgement.
func (s *MongoStore) Insert(ctx context.Context, rec ArchivedMessage) (string, error) {
	if rec.Owner.IsZero() {
		return "", errors.New("archive: missing owner")
	}

	owner := rec.Owner.Bare()
	doc := messageDoc{
		ID:        bson.NewObjectID(),
		User:      owner.User,
		Server:    owner.Server,
		JID:       newJIDDoc(rec.Counterpart),
		Body:      rec.Body,
		Direction: rec.Direction.String(),
		TS:        rec.Timestamp.UTC(),
		Raw:       rec.Raw,
	}
	if _, err := s.writes.InsertOne(ctx, doc); err != nil {
		return "", unavailable("archive.MongoStore.Insert", err)
	}
	return doc.ID.Hex(), nil
}

// Find returns matching records ordered by _id ASC.
func (s *MongoStore) Find(ctx context.Context, in FindInput) ([]ArchivedMessage, error) {
	if in.Limit <= 0 {
		return nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(in.Limit)).
		SetProjection(bson.D{{Key: "_id", Value: 1}, {Key: fieldRaw, Value: 1}, {Key: fieldTS, Value: 1}})

	cur, err := s.reads.Find(ctx, mongoFilter(in), opts)
	if err != nil {
		return nil, unavailable("archive.MongoStore.Find", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	owner := in.Owner.Bare()
	out := make([]ArchivedMessage, 0, min(in.Limit, MaxPageSize+1))
	for cur.Next(ctx) {
		var d projectedDoc
		if err := cur.Decode(&d); err != nil {
			return nil, unavailable("archive.MongoStore.Find", err)
		}
		out = append(out, ArchivedMessage{
			ID:        d.ID.Hex(),
			Owner:     owner,
			Timestamp: d.TS.UTC(),
			Raw:       d.Raw,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("archive.MongoStore.Find", err)
	}
	return out, nil
}

// PurgeBefore deletes records of server's owners archived before cutoff.
func (s *MongoStore) PurgeBefore(ctx context.Context, server string, cutoff time.Time) (int64, error) {
	res, err := s.reads.DeleteMany(ctx, mongoPurgeFilter(server, cutoff))
	if err != nil {
		return 0, unavailable("archive.MongoStore.PurgeBefore", err)
	}
	return res.DeletedCount, nil
}

func mongoPurgeFilter(server string, cutoff time.Time) bson.D {
	return bson.D{
		{Key: fieldServer, Value: server},
		{Key: fieldTS, Value: bson.D{{Key: "$lt", Value: cutoff.UTC()}}},
	}
}

func mongoFilter(in FindInput) bson.D {
	owner := in.Owner.Bare()
	filter := bson.D{
		{Key: fieldUser, Value: owner.User},
		{Key: fieldServer, Value: owner.Server},
	}

	f := in.Filter
	if f.Start != nil || f.End != nil {
		var ts bson.D
		if f.Start != nil {
			ts = append(ts, bson.E{Key: "$gte", Value: f.Start.UTC()})
		}
		if f.End != nil {
			ts = append(ts, bson.E{Key: "$lte", Value: f.End.UTC()})
		}
		filter = append(filter, bson.E{Key: fieldTS, Value: ts})
	}
	if f.With != nil {
		filter = append(filter,
			bson.E{Key: fieldJID + ".user", Value: f.With.User},
			bson.E{Key: fieldJID + ".server", Value: f.With.Server},
		)
		if !f.With.IsBare() {
			filter = append(filter, bson.E{Key: fieldJID + ".resource", Value: f.With.Resource})
		}
	}
	return filter
}
