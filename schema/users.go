package schema

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/tenancy/migration"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	userRoles    = enumValues(store.RoleAdmin, store.RoleTenant, store.RoleUser, store.RoleModerator)
	userStatuses = enumValues(store.UserStatusActive, store.UserStatusInactive, store.UserStatusSuspended)
)

// The users table has no foreign key to tenants: tenant databases hold user
// mirrors for a tenant whose row lives in the global database.
func createUsers() migration.Migration {
	return migration.Migration{
		Name: "002_create_users_table",
		RelationalUp: func(ctx context.Context, db *sqlx.DB, d store.Dialect) error {
			return execAll(ctx, db,
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
					id             %s,
					tenant_id      BIGINT NOT NULL,
					name           VARCHAR(255) NOT NULL,
					email          VARCHAR(255) NOT NULL,
					password       VARCHAR(255) NOT NULL DEFAULT '',
					google_id      VARCHAR(255) NOT NULL DEFAULT '',
					avatar         VARCHAR(1024) NOT NULL DEFAULT '',
					role           VARCHAR(20) NOT NULL DEFAULT 'user' CHECK (role IN (%s)),
					status         VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN (%s)),
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					last_login     %s,
					created_at     %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at     %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, email)
				)`, d.AutoIncrementPK, inList(userRoles), inList(userStatuses),
					d.TimestampType, d.TimestampType, d.TimestampType),
				`CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users (tenant_id)`,
				`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
				`CREATE INDEX IF NOT EXISTS idx_users_google_id ON users (google_id)`,
			)
		},
		RelationalDown: dropTable("users"),
		DocumentUp: func(ctx context.Context, db *mongo.Database) error {
			err := createCollection(ctx, db, store.UsersCollection, bson.M{
				"bsonType": "object",
				"required": bson.A{"tenant_id", "name", "email"},
				"properties": bson.M{
					"tenant_id":      typed(bson.A{"long", "int"}, "must be an integer and is required"),
					"name":           typed("string", "must be a string and is required"),
					"email":          typed("string", "must be a string and is required"),
					"password":       typed("string", "must be a string"),
					"google_id":      typed("string", "must be a string"),
					"avatar":         typed("string", "must be a string"),
					"role":           stringEnum(userRoles, "must be one of the enum values"),
					"status":         stringEnum(userStatuses, "must be one of the enum values"),
					"email_verified": typed("bool", "must be a boolean"),
					"last_login":     typed("date", "must be a date"),
					"created_at":     typed("date", "must be a date"),
					"updated_at":     typed("date", "must be a date"),
				},
			})
			if err != nil {
				return err
			}
			return createIndexes(ctx, db, store.UsersCollection,
				index(false, "tenant_id"),
				index(false, "email"),
				index(false, "google_id"),
				index(true, "tenant_id", "email"),
			)
		},
		DocumentDown: dropCollection(store.UsersCollection),
	}
}

// normalizeUserTenantIDs rewrites tenant_id values stored as strings into
// 64-bit integers so that every query can match a single representation.
func normalizeUserTenantIDs() migration.Migration {
	return migration.Migration{
		Name: "004_normalize_user_tenant_ids",
		DocumentUp: func(ctx context.Context, db *mongo.Database) error {
			_, err := db.Collection(store.UsersCollection).UpdateMany(ctx,
				bson.M{"tenant_id": bson.M{"$type": "string"}},
				mongo.Pipeline{
					{{Key: "$set", Value: bson.D{{Key: "tenant_id", Value: bson.M{"$toLong": "$tenant_id"}}}}},
				},
			)
			if err != nil {
				return fmt.Errorf("normalize users.tenant_id: %w", err)
			}
			return nil
		},
		// Integer ids are valid input for every reader; nothing to undo.
		DocumentDown: func(context.Context, *mongo.Database) error { return nil },
	}
}
