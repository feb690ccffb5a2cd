package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names shared by the document stores and the schema migrations.
const (
	TenantsCollection       = "tenants"
	UsersCollection         = "users"
	SubscriptionsCollection = "subscriptions"
	CountersCollection      = "counters"
)

// DocumentSource hands out document databases per scope. The connection
// registry implements it.
type DocumentSource interface {
	Document(scope Scope) (*mongo.Database, error)
}

// MongoProvider implements Provider over a DocumentSource.
type MongoProvider struct {
	src DocumentSource
}

// NewMongoProvider creates a new MongoProvider.
func NewMongoProvider(src DocumentSource) *MongoProvider {
	return &MongoProvider{src: src}
}

func (p *MongoProvider) Backend() Backend { return BackendDocument }

func (p *MongoProvider) Tenants(_ context.Context, scope Scope) (TenantStore, error) {
	db, err := p.src.Document(scope)
	if err != nil {
		return nil, err
	}
	return NewMongoTenantStore(db), nil
}

func (p *MongoProvider) Users(_ context.Context, scope Scope) (UserStore, error) {
	db, err := p.src.Document(scope)
	if err != nil {
		return nil, err
	}
	return NewMongoUserStore(db), nil
}

func (p *MongoProvider) Subscriptions(_ context.Context, scope Scope) (SubscriptionStore, error) {
	db, err := p.src.Document(scope)
	if err != nil {
		return nil, err
	}
	return NewMongoSubscriptionStore(db), nil
}

// nextSequence allocates integer ids for documents written without a
// relational counterpart.
func nextSequence(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, opError(BackendDocument, "next "+name+" id", err)
	}
	return doc.Seq, nil
}

func findOptions(p Pagination) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(p.Offset)).
		SetLimit(int64(p.limit()))
}

func mongoWriteError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, op)
	}
	return opError(BackendDocument, op, err)
}

func mongoReadError(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return opError(BackendDocument, op, err)
}
