package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/andrej220/storops/internal/errs"
)

var _ Registry = (*MongoStore)(nil)

type nodeFinder interface {
	FindNode(ctx context.Context, node string) (nodeDocument, error)
}

type collectionFinder struct {
	coll *mongo.Collection
}

func (c collectionFinder) FindNode(ctx context.Context, node string) (nodeDocument, error) {
	var doc nodeDocument
	res := c.coll.FindOne(ctx, bson.M{"_id": node})
	if err := res.Err(); err != nil {
		return doc, err
	}
	if err := res.Decode(&doc); err != nil {
		return doc, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

// nodeDocument is a registry entry keyed by node name.
type nodeDocument struct {
	Node  string `bson:"_id"`
	Entry `bson:",inline"`
}

// MongoStore keeps one document per node in a shared collection.
type MongoStore struct {
	client *mongo.Client
	coll   nodeFinder
	source string
}

func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	source := fmt.Sprintf("mongodb %s.%s", dbName, collName)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &errs.RegistryError{Source: source, Err: fmt.Errorf("connect: %w", err)}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &errs.RegistryError{Source: source, Err: fmt.Errorf("ping: %w", err)}
	}

	return &MongoStore{
		client: client,
		coll:   collectionFinder{coll: client.Database(dbName).Collection(collName)},
		source: source,
	}, nil
}

func (m *MongoStore) Lookup(ctx context.Context, node string) (Entry, bool, error) {
	doc, err := m.coll.FindNode(ctx, node)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, false, nil
		}
		return Entry{}, false, &errs.RegistryError{Source: m.source, Err: fmt.Errorf("find %q: %w", node, err)}
	}
	if err := validateEntry(node, doc.Entry); err != nil {
		return Entry{}, false, &errs.RegistryError{Source: m.source, Err: err}
	}
	return doc.Entry, true, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
