package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSubscriptionStore implements SubscriptionStore on a document database.
type MongoSubscriptionStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoSubscriptionStore creates a new MongoSubscriptionStore.
func NewMongoSubscriptionStore(db *mongo.Database) *MongoSubscriptionStore {
	return &MongoSubscriptionStore{db: db, coll: db.Collection(SubscriptionsCollection)}
}

func (s *MongoSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == 0 {
		id, err := nextSequence(ctx, s.db, SubscriptionsCollection)
		if err != nil {
			return err
		}
		sub.ID = id
	}
	if _, err := s.coll.InsertOne(ctx, sub); err != nil {
		return mongoWriteError("create subscription", err)
	}
	return nil
}

func (s *MongoSubscriptionStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&sub); err != nil {
		return nil, mongoReadError("get subscription", err)
	}
	return &sub, nil
}

func (s *MongoSubscriptionStore) Latest(ctx context.Context, tenantID int64) (*Subscription, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var sub Subscription
	if err := s.coll.FindOne(ctx, bson.M{"tenant_id": tenantID}, opts).Decode(&sub); err != nil {
		return nil, mongoReadError("get subscription", err)
	}
	return &sub, nil
}

func (s *MongoSubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sub.ID}, sub)
	if err != nil {
		return mongoWriteError("update subscription", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoSubscriptionStore) List(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	cur, err := s.coll.Find(ctx, subscriptionFilterDoc(f), findOptions(f.Pagination))
	if err != nil {
		return nil, opError(BackendDocument, "list subscriptions", err)
	}
	var subs []*Subscription
	if err := cur.All(ctx, &subs); err != nil {
		return nil, opError(BackendDocument, "list subscriptions", err)
	}
	return subs, nil
}

func (s *MongoSubscriptionStore) Count(ctx context.Context, f SubscriptionFilter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, subscriptionFilterDoc(f))
	if err != nil {
		return 0, opError(BackendDocument, "count subscriptions", err)
	}
	return n, nil
}

func subscriptionFilterDoc(f SubscriptionFilter) bson.M {
	filter := bson.M{}
	if f.TenantID > 0 {
		filter["tenant_id"] = f.TenantID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.PlanType != "" {
		filter["plan_type"] = f.PlanType
	}
	return filter
}
