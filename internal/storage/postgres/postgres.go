// Package postgres implements storage.Store on PostgreSQL. Each category
// has its own sink table referencing the base element_sets table, and the
// schema is applied from embedded migrations at startup.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsTable = "orbit_schema_migrations"

// sinkTables is the category dispatch table.
var sinkTables = map[model.Category]string{
	model.Satellite:  "satellite_sets",
	model.Debris:     "debris_sets",
	model.RocketBody: "rocket_body_sets",
}

const selectColumns = `e.id, e.object_name, e.type_label, e.category, e.line1, e.line2, e.ingested_at`

// Store is a storage.Store backed by a *sql.DB using the lib/pq driver.
type Store struct {
	db  *sql.DB
	log logging.Logger
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = logging.OrNoop(l) }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to dsn, applies pending migrations and returns a Store.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storage.Wrap("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Wrap("ping", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, opts...), nil
}

// New wraps an already-migrated database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, log: logging.Noop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded schema migrations to dsn. It uses its own
// connection, closed on return.
func Migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return storage.Wrap("migrate", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return storage.Wrap("migrate", fmt.Errorf("load migrations: %w", err))
	}
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = db.Close()
		return storage.Wrap("migrate", fmt.Errorf("create database driver: %w", err))
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return storage.Wrap("migrate", fmt.Errorf("create migrate instance: %w", err))
	}
	// Closing m closes db as well.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return storage.Wrap("migrate", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMany writes objs in one transaction. An existing row with the same
// name and epoch is deleted first, so the replacement gets a fresh id.
func (s *Store) InsertMany(ctx context.Context, objs []model.TrackedObject) ([]model.Record, error) {
	for _, obj := range objs {
		if err := storage.Validate(obj); err != nil {
			return nil, storage.Wrap("insert", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	out := make([]model.Record, 0, len(objs))
	for _, obj := range objs {
		line1, line2, err := linesOf(obj.ElementSet)
		if err != nil {
			return nil, storage.Wrap("insert", fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err))
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM element_sets WHERE object_name = $1 AND epoch = $2`,
			obj.Identity(), obj.Epoch); err != nil {
			return nil, wrap("insert", err)
		}

		var id int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO element_sets (object_name, catalog_number, epoch, type_label, category, line1, line2, ingested_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			obj.Identity(), obj.CatalogNumber, obj.Epoch, obj.TypeLabel, obj.Category.String(), line1, line2, now,
		).Scan(&id)
		if err != nil {
			return nil, wrap("insert", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (element_set_id) VALUES ($1)`, sinkTables[obj.Category]),
			id); err != nil {
			return nil, wrap("insert", err)
		}

		rec := model.Record{TrackedObject: obj, Seq: uint64(id), IngestedAt: now}
		rec.Line1, rec.Line2 = line1, line2
		out = append(out, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("insert", err)
	}
	s.log.Debug(ctx, "element sets stored", logging.Int("count", len(out)))
	return out, nil
}

// LatestPerObject ranks each object's rows by (epoch, id) and keeps the top
// one, newest epoch first.
func (s *Store) LatestPerObject(ctx context.Context) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY object_name ORDER BY epoch DESC, id DESC) AS rn
			FROM element_sets
		) e
		WHERE e.rn = 1
		ORDER BY e.epoch DESC, e.id DESC`)
	if err != nil {
		return nil, wrap("latest per object", err)
	}
	return s.collect(ctx, "latest per object", rows)
}

// LatestOverall returns the row with the greatest id.
func (s *Store) LatestOverall(ctx context.Context) (model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM element_sets e ORDER BY e.id DESC LIMIT 1`)
	return s.one("latest overall", row)
}

// LatestByName returns the latest row for one object.
func (s *Store) LatestByName(ctx context.Context, name string) (model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM element_sets e
		 WHERE e.object_name = $1 ORDER BY e.epoch DESC, e.id DESC LIMIT 1`, name)
	return s.one("latest by name", row)
}

// AllByCategory joins the category's sink table with the base rows.
func (s *Store) AllByCategory(ctx context.Context, category model.Category) ([]model.Record, error) {
	table, ok := sinkTables[category]
	if !ok {
		return nil, storage.Wrap("all by category", model.ErrInvalidCategory)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM element_sets e JOIN %s c ON c.element_set_id = e.id ORDER BY e.id`,
		selectColumns, table))
	if err != nil {
		return nil, wrap("all by category", err)
	}
	return s.collect(ctx, "all by category", rows)
}

// DeleteAll empties the sink tables in model.Categories order and then the
// base table inside one transaction.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete all", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range model.Categories() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+sinkTables[c]); err != nil {
			return wrap("delete all", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM element_sets`); err != nil {
		return wrap("delete all", err)
	}
	if err := tx.Commit(); err != nil {
		return wrap("delete all", err)
	}
	s.log.Info(ctx, "element sets wiped")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) one(op string, row scanner) (model.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Record{}, wrap(op, err)
	}
	return rec, nil
}

func (s *Store) collect(ctx context.Context, op string, rows *sql.Rows) ([]model.Record, error) {
	defer rows.Close()
	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	s.log.Debug(ctx, "query complete", logging.String("op", op), logging.Int("rows", len(out)))
	return out, nil
}

// scanRecord decodes the stored lines again so every field of the element
// set is restored exactly as ingested.
func scanRecord(row scanner) (model.Record, error) {
	var (
		id         int64
		name       string
		typeLabel  string
		category   string
		line1      string
		line2      string
		ingestedAt time.Time
	)
	if err := row.Scan(&id, &name, &typeLabel, &category, &line1, &line2, &ingestedAt); err != nil {
		return model.Record{}, err
	}
	set, err := tle.ParseLines(name, line1, line2)
	if err != nil {
		return model.Record{}, fmt.Errorf("stored element set %d: %w", id, err)
	}
	set.TypeLabel = typeLabel
	cat, err := model.ParseCategory(category)
	if err != nil {
		return model.Record{}, fmt.Errorf("stored element set %d: %w", id, err)
	}
	return model.Record{
		TrackedObject: model.TrackedObject{ElementSet: set, Category: cat},
		Seq:           uint64(id),
		IngestedAt:    ingestedAt.UTC(),
	}, nil
}

func linesOf(set model.ElementSet) (string, string, error) {
	if set.Line1 != "" && set.Line2 != "" {
		return set.Line1, set.Line2, nil
	}
	return tle.Format(set)
}

// wrap maps driver errors onto the storage taxonomy. Integrity violations
// (SQLSTATE class 23) mean the record itself was rejected.
func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return &storage.StorageError{
			Op:  op,
			Err: fmt.Errorf("%w: %s (%s)", storage.ErrInvalidRecord, pqErr.Message, pqErr.Code.Name()),
		}
	}
	return storage.Wrap(op, err)
}
