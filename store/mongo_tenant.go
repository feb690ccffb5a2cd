package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoTenantStore implements TenantStore on a document database. Documents
// carry the relational id as _id.
type MongoTenantStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoTenantStore creates a new MongoTenantStore.
func NewMongoTenantStore(db *mongo.Database) *MongoTenantStore {
	return &MongoTenantStore{db: db, coll: db.Collection(TenantsCollection)}
}

func (s *MongoTenantStore) Create(ctx context.Context, t *Tenant) error {
	if t.ID == 0 {
		id, err := nextSequence(ctx, s.db, TenantsCollection)
		if err != nil {
			return err
		}
		t.ID = id
	}
	if _, err := s.coll.InsertOne(ctx, t); err != nil {
		return mongoWriteError("create tenant", err)
	}
	return nil
}

func (s *MongoTenantStore) Get(ctx context.Context, id int64) (*Tenant, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoTenantStore) GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	return s.findOne(ctx, bson.M{"subdomain": subdomain})
}

func (s *MongoTenantStore) Update(ctx context.Context, t *Tenant) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return mongoWriteError("update tenant", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoTenantStore) Delete(ctx context.Context, id int64) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoWriteError("delete tenant", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoTenantStore) List(ctx context.Context, f TenantFilter) ([]*Tenant, error) {
	cur, err := s.coll.Find(ctx, tenantFilterDoc(f), findOptions(f.Pagination))
	if err != nil {
		return nil, opError(BackendDocument, "list tenants", err)
	}
	var tenants []*Tenant
	if err := cur.All(ctx, &tenants); err != nil {
		return nil, opError(BackendDocument, "list tenants", err)
	}
	return tenants, nil
}

func (s *MongoTenantStore) Count(ctx context.Context, f TenantFilter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, tenantFilterDoc(f))
	if err != nil {
		return 0, opError(BackendDocument, "count tenants", err)
	}
	return n, nil
}

func (s *MongoTenantStore) findOne(ctx context.Context, filter bson.M) (*Tenant, error) {
	var t Tenant
	if err := s.coll.FindOne(ctx, filter).Decode(&t); err != nil {
		return nil, mongoReadError("get tenant", err)
	}
	return &t, nil
}

func tenantFilterDoc(f TenantFilter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}
