package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docproof/internal/ledger"
	"docproof/pkg/platform/sentinel"
)

// appendLockKey serializes appends across processes sharing one database.
const appendLockKey int64 = 0x646f6370726f6f66

const chainSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	idx           BIGINT PRIMARY KEY,
	action        TEXT NOT NULL,
	document_hash TEXT NOT NULL DEFAULT '',
	actor         TEXT NOT NULL,
	payload       TEXT NOT NULL,
	data_hash     TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	prev_hash     TEXT NOT NULL,
	hash          TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS ledger_documents (
	document_hash   TEXT PRIMARY KEY,
	issuer          TEXT NOT NULL,
	issuer_name     TEXT NOT NULL DEFAULT '',
	recipient_name  TEXT NOT NULL DEFAULT '',
	recipient_id    TEXT NOT NULL DEFAULT '',
	document_type   TEXT NOT NULL DEFAULT '',
	issuance_date   TIMESTAMPTZ NOT NULL,
	expiration_date TIMESTAMPTZ,
	is_active       BOOLEAN NOT NULL,
	state           TEXT NOT NULL
);
`

const documentColumns = `document_hash, issuer, issuer_name, recipient_name, recipient_id,
	document_type, issuance_date, expiration_date, is_active, state`

const entryColumns = `idx, action, document_hash, actor, payload, data_hash, created_at, prev_hash, hash`

// Postgres persists the chain and its document projection with pgx.
type Postgres struct {
	pool *pgxpool.Pool
	opts options
}

func NewPostgres(pool *pgxpool.Pool, opts ...Option) *Postgres {
	return &Postgres{pool: pool, opts: newOptions(opts)}
}

// Migrate creates the tables and the genesis entry if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, chainSchema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		head, err := headTx(ctx, tx)
		if err != nil {
			return err
		}
		if head != nil {
			return nil
		}
		return insertEntry(ctx, tx, genesis(p.opts.timestamp()))
	})
}

func (p *Postgres) Issue(ctx context.Context, actor string, req IssueRequest) (*Entry, error) {
	rec, err := newRecord(req)
	if err != nil {
		return nil, err
	}

	var out *Entry
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := getDocumentTx(ctx, tx, rec.DocumentHash, false); err == nil {
			return fmt.Errorf("%w: document %s already issued", sentinel.ErrConflict, rec.DocumentHash)
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		e, err := p.appendTx(ctx, tx, ActionIssue, rec.DocumentHash, actor, rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_documents (`+documentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.DocumentHash, rec.Issuer, rec.IssuerName, rec.RecipientName, rec.RecipientID,
			rec.DocumentType, rec.IssuanceDate, rec.ExpirationDate, rec.IsActive, string(rec.State),
		); err != nil {
			return fmt.Errorf("insert ledger document: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Confirm(ctx context.Context, documentHash, actor string) (*Entry, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}

	var out *Entry
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		rec, err := getDocumentTx(ctx, tx, hash, true)
		if err != nil {
			return err
		}
		if err := canConfirm(*rec, p.opts.now()); err != nil {
			return err
		}
		e, err := p.appendTx(ctx, tx, ActionConfirm, hash, actor, struct{}{})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_documents SET state = $2 WHERE document_hash = $1`,
			hash, string(ledger.StateVerified)); err != nil {
			return fmt.Errorf("update ledger document: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Revoke(ctx context.Context, documentHash, actor, reason string) (*Entry, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}

	var out *Entry
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		rec, err := getDocumentTx(ctx, tx, hash, true)
		if err != nil {
			return err
		}
		if err := canRevoke(*rec); err != nil {
			return err
		}
		e, err := p.appendTx(ctx, tx, ActionRevoke, hash, actor, revokePayload{Reason: reason})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_documents SET state = $2, is_active = FALSE WHERE document_hash = $1`,
			hash, string(ledger.StateRevoked)); err != nil {
			return fmt.Errorf("update ledger document: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, documentHash string) (*ledger.Record, error) {
	hash, err := normalizeHash(documentHash)
	if err != nil {
		return nil, err
	}
	rec, err := getDocumentTx(ctx, p.pool, hash, false)
	if err != nil {
		return nil, err
	}
	eff := rec.Effective(p.opts.now())
	return &eff, nil
}

func (p *Postgres) Verify(ctx context.Context) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return wrapPgErr("begin verify", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY idx`)
	if err != nil {
		return wrapPgErr("load entries", err)
	}
	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Entry, error) { return scanEntry(r) })
	if err != nil {
		return wrapPgErr("scan entries", err)
	}
	if err := verifyEntries(entries); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, `SELECT `+documentColumns+` FROM ledger_documents`)
	if err != nil {
		return wrapPgErr("load documents", err)
	}
	docs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (ledger.Record, error) { return scanDocument(r) })
	if err != nil {
		return wrapPgErr("scan documents", err)
	}
	stored := make(map[string]ledger.Record, len(docs))
	for _, d := range docs {
		stored[d.DocumentHash] = d
	}
	return compareProjection(entries, stored)
}

func (p *Postgres) Head(ctx context.Context) (*Entry, error) {
	e, err := headTx(ctx, p.pool)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: ledger has no genesis entry", sentinel.ErrUnavailable)
	}
	return e, nil
}

func (p *Postgres) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, wrapPgErr("count entries", err)
	}
	return n, nil
}

// appendTx must run inside inTx, which holds the append lock.
func (p *Postgres) appendTx(ctx context.Context, tx pgx.Tx, action Action, documentHash, actor string, payload any) (*Entry, error) {
	prev, err := headTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, fmt.Errorf("%w: ledger has no genesis entry", sentinel.ErrUnavailable)
	}
	e, err := newEntry(prev, action, documentHash, actor, payload, p.opts.timestamp())
	if err != nil {
		return nil, err
	}
	if err := insertEntry(ctx, tx, e); err != nil {
		return nil, err
	}
	p.opts.metrics.IncrementAppend(string(action))
	return &e, nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return wrapPgErr("acquire append lock", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgErr("commit", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func headTx(ctx context.Context, q querier) (*Entry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY idx DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPgErr("load head", err)
	}
	return &e, nil
}

func getDocumentTx(ctx context.Context, q querier, hash string, forUpdate bool) (*ledger.Record, error) {
	query := `SELECT ` + documentColumns + ` FROM ledger_documents WHERE document_hash = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanDocument(q.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, wrapPgErr("load document", err)
	}
	return &rec, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Index, string(e.Action), e.DocumentHash, e.Actor, e.Payload, e.DataHash, e.Timestamp, e.PrevHash, e.Hash,
	)
	if err != nil {
		return wrapPgErr("insert entry", err)
	}
	return nil
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var action string
	err := row.Scan(&e.Index, &action, &e.DocumentHash, &e.Actor, &e.Payload, &e.DataHash, &e.Timestamp, &e.PrevHash, &e.Hash)
	e.Action = Action(action)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}

func scanDocument(row scanner) (ledger.Record, error) {
	var rec ledger.Record
	var state string
	var expires *time.Time
	err := row.Scan(&rec.DocumentHash, &rec.Issuer, &rec.IssuerName, &rec.RecipientName, &rec.RecipientID,
		&rec.DocumentType, &rec.IssuanceDate, &expires, &rec.IsActive, &state)
	rec.State = ledger.State(state)
	rec.IssuanceDate = rec.IssuanceDate.UTC()
	if expires != nil {
		utc := expires.UTC()
		rec.ExpirationDate = &utc
	}
	return rec, err
}

// wrapPgErr keeps query errors as-is and marks connection failures unavailable.
func wrapPgErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	return fmt.Errorf("ledger %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
