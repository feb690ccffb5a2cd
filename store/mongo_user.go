package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// userDocument is the stored shape of a user. tenant_id is always a 64-bit
// integer.
type userDocument struct {
	ID            primitive.ObjectID `bson:"_id"`
	TenantID      int64              `bson:"tenant_id"`
	Name          string             `bson:"name"`
	Email         string             `bson:"email"`
	Password      string             `bson:"password,omitempty"`
	GoogleID      string             `bson:"google_id,omitempty"`
	Avatar        string             `bson:"avatar,omitempty"`
	Role          UserRole           `bson:"role"`
	Status        UserStatus         `bson:"status"`
	EmailVerified bool               `bson:"email_verified"`
	LastLogin     *time.Time         `bson:"last_login,omitempty"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

func toUserDocument(u *User, id primitive.ObjectID) *userDocument {
	return &userDocument{
		ID:            id,
		TenantID:      u.TenantID,
		Name:          u.Name,
		Email:         u.Email,
		Password:      u.PasswordHash,
		GoogleID:      u.GoogleID,
		Avatar:        u.Avatar,
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (d *userDocument) user() *User {
	return &User{
		ID:            d.ID.Hex(),
		TenantID:      d.TenantID,
		Name:          d.Name,
		Email:         d.Email,
		PasswordHash:  d.Password,
		GoogleID:      d.GoogleID,
		Avatar:        d.Avatar,
		Role:          d.Role,
		Status:        d.Status,
		EmailVerified: d.EmailVerified,
		LastLogin:     d.LastLogin,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// MongoUserStore implements UserStore on one users collection.
type MongoUserStore struct {
	coll *mongo.Collection
}

// NewMongoUserStore creates a new MongoUserStore.
func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{coll: db.Collection(UsersCollection)}
}

func (s *MongoUserStore) Create(ctx context.Context, u *User) error {
	id := primitive.NewObjectID()
	if u.ID != "" {
		var err error
		if id, err = primitive.ObjectIDFromHex(u.ID); err != nil {
			return Validationf("document user id %q is not an ObjectID", u.ID)
		}
	}
	if _, err := s.coll.InsertOne(ctx, toUserDocument(u, id)); err != nil {
		return mongoWriteError("create user", err)
	}
	u.ID = id.Hex()
	return nil
}

func (s *MongoUserStore) Get(ctx context.Context, id string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoUserStore) GetByEmail(ctx context.Context, email string, tenantID int64) (*User, error) {
	filter := bson.M{"email": email}
	if tenantID > 0 {
		filter["tenant_id"] = tenantID
	}
	return s.findOne(ctx, filter)
}

func (s *MongoUserStore) GetByGoogleID(ctx context.Context, googleID string, tenantID int64) (*User, error) {
	if googleID == "" {
		return nil, ErrNotFound
	}
	filter := bson.M{"google_id": googleID}
	if tenantID > 0 {
		filter["tenant_id"] = tenantID
	}
	return s.findOne(ctx, filter)
}

func (s *MongoUserStore) Update(ctx context.Context, u *User) error {
	oid, err := primitive.ObjectIDFromHex(u.ID)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": oid}, toUserDocument(u, oid))
	if err != nil {
		return mongoWriteError("update user", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return mongoWriteError("delete user", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) List(ctx context.Context, f UserFilter) ([]*User, error) {
	cur, err := s.coll.Find(ctx, userFilterDoc(f), findOptions(f.Pagination))
	if err != nil {
		return nil, opError(BackendDocument, "list users", err)
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, opError(BackendDocument, "list users", err)
	}
	users := make([]*User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].user())
	}
	return users, nil
}

func (s *MongoUserStore) Count(ctx context.Context, f UserFilter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, userFilterDoc(f))
	if err != nil {
		return 0, opError(BackendDocument, "count users", err)
	}
	return n, nil
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var d userDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, mongoReadError("get user", err)
	}
	return d.user(), nil
}

func userFilterDoc(f UserFilter) bson.M {
	filter := bson.M{}
	if f.TenantID > 0 {
		filter["tenant_id"] = f.TenantID
	}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	if f.GoogleID != "" {
		filter["google_id"] = f.GoogleID
	}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}
