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

var tenantStatuses = enumValues(store.TenantStatusActive, store.TenantStatusInactive, store.TenantStatusSuspended)

func createTenants() migration.Migration {
	return migration.Migration{
		Name: "001_create_tenants_table",
		RelationalUp: func(ctx context.Context, db *sqlx.DB, d store.Dialect) error {
			return execAll(ctx, db,
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tenants (
					id            %s,
					name          VARCHAR(255) NOT NULL,
					subdomain     VARCHAR(255) NOT NULL UNIQUE,
					database_name VARCHAR(255) NOT NULL,
					status        VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN (%s)),
					settings      %s,
					created_at    %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at    %s NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`, d.AutoIncrementPK, inList(tenantStatuses), d.JSONType, d.TimestampType, d.TimestampType),
				`CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants (status)`,
			)
		},
		RelationalDown: dropTable("tenants"),
		DocumentUp: func(ctx context.Context, db *mongo.Database) error {
			err := createCollection(ctx, db, store.TenantsCollection, bson.M{
				"bsonType": "object",
				"required": bson.A{"name", "subdomain", "database_name"},
				"properties": bson.M{
					"name":          typed("string", "must be a string and is required"),
					"subdomain":     typed("string", "must be a string and is required"),
					"database_name": typed("string", "must be a string and is required"),
					"status":        stringEnum(tenantStatuses, "must be one of the enum values"),
					"settings":      typed("object", "must be an object"),
					"created_at":    typed("date", "must be a date"),
					"updated_at":    typed("date", "must be a date"),
				},
			})
			if err != nil {
				return err
			}
			return createIndexes(ctx, db, store.TenantsCollection,
				index(true, "subdomain"),
				index(false, "status"),
			)
		},
		DocumentDown: dropCollection(store.TenantsCollection),
	}
}
