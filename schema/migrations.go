// Package schema defines the built-in migration units for the tenants, users
// and subscriptions tables and collections.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/tenancy/migration"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Migrations returns the built-in units in application order.
func Migrations() []migration.Migration {
	return []migration.Migration{
		createTenants(),
		createUsers(),
		createSubscriptions(),
		normalizeUserTenantIDs(),
	}
}

// execAll runs statements in order, stopping at the first error.
func execAll(ctx context.Context, db *sqlx.DB, stmts ...string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func dropTable(name string) migration.RelationalStep {
	return func(ctx context.Context, db *sqlx.DB, _ store.Dialect) error {
		_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name)
		return err
	}
}

func dropCollection(name string) migration.DocumentStep {
	return func(ctx context.Context, db *mongo.Database) error {
		return db.Collection(name).Drop(ctx)
	}
}

// inList renders a CHECK constraint value list.
func inList(values []string) string {
	return "'" + strings.Join(values, "', '") + "'"
}

// enumValues returns the values of an enum set as strings, in the given order.
func enumValues[T ~string](order ...T) []string {
	out := make([]string, len(order))
	for i, v := range order {
		out[i] = string(v)
	}
	return out
}

// stringEnum is a $jsonSchema enum property.
func stringEnum(values []string, desc string) bson.M {
	arr := bson.A{}
	for _, v := range values {
		arr = append(arr, v)
	}
	return bson.M{"enum": arr, "description": desc}
}

func typed(bsonType any, desc string) bson.M {
	return bson.M{"bsonType": bsonType, "description": desc}
}

// createCollection creates name with a $jsonSchema validator. An existing
// collection gets its validator replaced instead.
func createCollection(ctx context.Context, db *mongo.Database, name string, schema bson.M) error {
	validator := bson.M{"$jsonSchema": schema}
	err := db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(validator))
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != 48 { // NamespaceExists
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	res := db.RunCommand(ctx, bson.D{{Key: "collMod", Value: name}, {Key: "validator", Value: validator}})
	if err := res.Err(); err != nil {
		return fmt.Errorf("update validator on %s: %w", name, err)
	}
	return nil
}

func createIndexes(ctx context.Context, db *mongo.Database, name string, models ...mongo.IndexModel) error {
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}
	return nil
}

func index(unique bool, fields ...string) mongo.IndexModel {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	m := mongo.IndexModel{Keys: keys}
	if unique {
		m.Options = options.Index().SetUnique(true)
	}
	return m
}
