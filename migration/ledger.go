package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/tenancy/store"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LedgerName is the table and collection holding applied-unit records.
const LedgerName = "migrations"

// Ledger persists the names of applied units, one ledger per database.
type Ledger interface {
	// Ensure creates the ledger table or collection if missing.
	Ensure(ctx context.Context) error
	// Applied returns all records ordered by batch, then name.
	Applied(ctx context.Context) ([]store.MigrationRecord, error)
	// Record stores an applied unit.
	Record(ctx context.Context, rec store.MigrationRecord) error
	// Remove deletes the record of an applied unit.
	Remove(ctx context.Context, name string) error
}

// SQLLedger implements Ledger on a relational database.
type SQLLedger struct {
	db      *sqlx.DB
	dialect store.Dialect
}

// NewSQLLedger creates a new SQLLedger.
func NewSQLLedger(db *sqlx.DB, d store.Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: d}
}

func (l *SQLLedger) Ensure(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          %s,
		name        VARCHAR(255) NOT NULL UNIQUE,
		batch       INTEGER NOT NULL,
		executed_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, LedgerName, l.dialect.AutoIncrementPK, l.dialect.TimestampType)
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", LedgerName, err)
	}
	return nil
}

func (l *SQLLedger) Applied(ctx context.Context) ([]store.MigrationRecord, error) {
	var recs []store.MigrationRecord
	q := `SELECT name, batch, executed_at FROM ` + LedgerName + ` ORDER BY batch, name`
	if err := l.db.SelectContext(ctx, &recs, q); err != nil {
		return nil, fmt.Errorf("query %s: %w", LedgerName, err)
	}
	return recs, nil
}

func (l *SQLLedger) Record(ctx context.Context, rec store.MigrationRecord) error {
	q := l.db.Rebind(`INSERT INTO ` + LedgerName + ` (name, batch, executed_at) VALUES (?, ?, ?)`)
	if _, err := l.db.ExecContext(ctx, q, rec.Name, rec.Batch, rec.ExecutedAt); err != nil {
		return fmt.Errorf("insert %s: %w", LedgerName, err)
	}
	return nil
}

func (l *SQLLedger) Remove(ctx context.Context, name string) error {
	q := l.db.Rebind(`DELETE FROM ` + LedgerName + ` WHERE name = ?`)
	if _, err := l.db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("delete %s: %w", LedgerName, err)
	}
	return nil
}

// MongoLedger implements Ledger on a document database.
type MongoLedger struct {
	coll *mongo.Collection
}

// NewMongoLedger creates a new MongoLedger.
func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{coll: db.Collection(LedgerName)}
}

func (l *MongoLedger) Ensure(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("index %s collection: %w", LedgerName, err)
	}
	return nil
}

func (l *MongoLedger) Applied(ctx context.Context) ([]store.MigrationRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "batch", Value: 1}, {Key: "name", Value: 1}})
	cur, err := l.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", LedgerName, err)
	}
	var recs []store.MigrationRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LedgerName, err)
	}
	return recs, nil
}

func (l *MongoLedger) Record(ctx context.Context, rec store.MigrationRecord) error {
	if _, err := l.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert %s: %w", LedgerName, err)
	}
	return nil
}

func (l *MongoLedger) Remove(ctx context.Context, name string) error {
	_, err := l.coll.DeleteOne(ctx, bson.M{"name": name})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("delete %s: %w", LedgerName, err)
	}
	return nil
}
