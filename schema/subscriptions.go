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
	planTypes = enumValues(store.PlanFree, store.PlanBasic, store.PlanPremium, store.PlanEnterprise)
	subStatus = enumValues(store.SubscriptionActive, store.SubscriptionCancelled, store.SubscriptionExpired, store.SubscriptionSuspended)
	cycles    = enumValues(store.BillingMonthly, store.BillingYearly)
)

func createSubscriptions() migration.Migration {
	return migration.Migration{
		Name: "003_create_subscriptions_table",
		RelationalUp: func(ctx context.Context, db *sqlx.DB, d store.Dialect) error {
			return execAll(ctx, db,
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subscriptions (
					id                   %[1]s,
					tenant_id            BIGINT NOT NULL,
					plan_name            VARCHAR(255) NOT NULL,
					plan_type            VARCHAR(20) NOT NULL CHECK (plan_type IN (%[2]s)),
					status               VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN (%[3]s)),
					billing_cycle        VARCHAR(20) NOT NULL DEFAULT 'monthly' CHECK (billing_cycle IN (%[4]s)),
					price                %[5]s NOT NULL DEFAULT 0,
					currency             VARCHAR(3) NOT NULL DEFAULT 'USD',
					max_users            INTEGER,
					max_storage          BIGINT,
					features             %[6]s,
					trial_ends_at        %[7]s,
					current_period_start %[7]s NOT NULL DEFAULT CURRENT_TIMESTAMP,
					current_period_end   %[7]s NOT NULL,
					cancelled_at         %[7]s,
					created_at           %[7]s NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at           %[7]s NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`, d.AutoIncrementPK, inList(planTypes), inList(subStatus), inList(cycles),
					d.DecimalType, d.JSONType, d.TimestampType),
				`CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant_id ON subscriptions (tenant_id)`,
				`CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status)`,
				`CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_type ON subscriptions (plan_type)`,
			)
		},
		RelationalDown: dropTable("subscriptions"),
		DocumentUp: func(ctx context.Context, db *mongo.Database) error {
			err := createCollection(ctx, db, store.SubscriptionsCollection, bson.M{
				"bsonType": "object",
				"required": bson.A{"tenant_id", "plan_name", "plan_type", "price", "current_period_start", "current_period_end"},
				"properties": bson.M{
					"tenant_id":            typed(bson.A{"long", "int"}, "must be an integer and is required"),
					"plan_name":            typed("string", "must be a string and is required"),
					"plan_type":            stringEnum(planTypes, "must be one of the enum values"),
					"status":               stringEnum(subStatus, "must be one of the enum values"),
					"billing_cycle":        stringEnum(cycles, "must be one of the enum values"),
					"price":                typed("number", "must be a number and is required"),
					"currency":             typed("string", "must be a string"),
					"max_users":            typed("number", "must be a number"),
					"max_storage":          typed("number", "must be a number"),
					"features":             typed("object", "must be an object"),
					"trial_ends_at":        typed("date", "must be a date"),
					"current_period_start": typed("date", "must be a date and is required"),
					"current_period_end":   typed("date", "must be a date and is required"),
					"cancelled_at":         typed("date", "must be a date"),
					"created_at":           typed("date", "must be a date"),
					"updated_at":           typed("date", "must be a date"),
				},
			})
			if err != nil {
				return err
			}
			return createIndexes(ctx, db, store.SubscriptionsCollection,
				index(false, "tenant_id"),
				index(false, "status"),
				index(false, "plan_type"),
			)
		},
		DocumentDown: dropCollection(store.SubscriptionsCollection),
	}
}
