package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"docproof/internal/document/hashing"
	"docproof/internal/document/metrics"
	"docproof/internal/document/models"
	"docproof/pkg/platform/sentinel"
	"docproof/pkg/platform/tx"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	key             TEXT PRIMARY KEY,
	hash            TEXT NOT NULL,
	file_name       TEXT NOT NULL,
	file_type       TEXT NOT NULL DEFAULT '',
	file_size       BIGINT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	tags            TEXT[] NOT NULL DEFAULT '{}',
	uploader        TEXT NOT NULL DEFAULT '',
	private         BOOLEAN NOT NULL DEFAULT FALSE,
	expiration_date TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	verified_at     TIMESTAMPTZ,
	verifier        TEXT,
	verify_method   TEXT
);
CREATE INDEX IF NOT EXISTS documents_file_name_idx ON documents (file_name);
`

const selectDocument = `
	SELECT key, hash, file_name, file_type, file_size, status, description, category, tags,
		uploader, private, expiration_date, created_at, verified_at, verifier, verify_method
	FROM documents`

// PostgresStore persists records in a documents table.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresStore constructs a PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{db: db, metrics: m}
}

// WithinTx runs fn in one transaction; store calls made with the ctx passed to
// fn join it.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}

// Migrate creates the documents table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAvailable(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	return s.db.PingContext(ctx) == nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (rec *models.Record, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, selectDocument+` WHERE key = $1`, key)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapPostgresErr("get", err)
	}
	return e.Record, nil
}

// Put upserts record under its normalized hash.
func (s *PostgresStore) Put(ctx context.Context, record *models.Record) error {
	if record == nil {
		return nil
	}
	return s.Import(ctx, hashing.Normalize(record.Hash), record)
}

// Import upserts record under key. A stored terminal status is never replaced, which
// keeps racing writers from reverting a verification.
func (s *PostgresStore) Import(ctx context.Context, key string, record *models.Record) (err error) {
	if record == nil {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("put", start, err) }()

	var verifier, method sql.NullString
	if v := record.Verification; v != nil {
		verifier = sql.NullString{String: v.Verifier, Valid: true}
		method = sql.NullString{String: v.Method, Valid: true}
	}
	tags := record.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO documents (key, hash, file_name, file_type, file_size, status, description,
			category, tags, uploader, private, expiration_date, created_at, verified_at, verifier, verify_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			private = EXCLUDED.private,
			expiration_date = EXCLUDED.expiration_date,
			verified_at = EXCLUDED.verified_at,
			verifier = EXCLUDED.verifier,
			verify_method = EXCLUDED.verify_method
		WHERE documents.status NOT IN ('verified', 'revoked', 'expired')
	`
	_, err = tx.Conn(ctx, s.db).ExecContext(ctx, query,
		key, record.Hash, record.FileName, record.FileType, record.FileSize, string(record.Status),
		record.Metadata.Description, record.Metadata.Category, pq.Array(tags), record.Metadata.Uploader,
		record.Metadata.Private, record.Metadata.ExpirationDate, record.CreatedAt, record.VerifiedAt,
		verifier, method,
	)
	if err != nil {
		return wrapPostgresErr("put", err)
	}
	return nil
}

func (s *PostgresStore) ListAll(ctx context.Context) (entries []Entry, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, selectDocument)
	if err != nil {
		return nil, wrapPostgresErr("list", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPostgresErr("list", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		rec        models.Record
		status     string
		tags       pq.StringArray
		expiration sql.NullTime
		verifiedAt sql.NullTime
		verifier   sql.NullString
		method     sql.NullString
	)
	err := row.Scan(&e.Key, &rec.Hash, &rec.FileName, &rec.FileType, &rec.FileSize, &status,
		&rec.Metadata.Description, &rec.Metadata.Category, &tags, &rec.Metadata.Uploader,
		&rec.Metadata.Private, &expiration, &rec.CreatedAt, &verifiedAt, &verifier, &method)
	if err != nil {
		return Entry{}, err
	}
	rec.Status = models.Status(status)
	if len(tags) > 0 {
		rec.Metadata.Tags = []string(tags)
	}
	if expiration.Valid {
		t := expiration.Time
		rec.Metadata.ExpirationDate = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
		rec.Verification = &models.VerificationData{
			Verifier:  verifier.String,
			Method:    method.String,
			Timestamp: t,
		}
	}
	e.Record = &rec
	return e, nil
}

func (s *PostgresStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveOperation("postgres", op, start, err)
}

func wrapPostgresErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("postgres store %s: %w", op, err)
	}
	return fmt.Errorf("postgres store %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
