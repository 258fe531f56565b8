package search

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
)

// PGBackend is the optional secondary full-text search backend, used
// write-through alongside the primary embedded index. Eventual consistency
// with the KV store is acceptable: an UpdateIndex task retries until this
// backend reflects the same document.
type PGBackend struct {
	pool *pgxpool.Pool
}

func NewPGBackend(pool *pgxpool.Pool) *PGBackend { return &PGBackend{pool: pool} }

// DialPG opens a connection pool against dsn, creating the backing table
// if it doesn't already exist.
func DialPG(ctx context.Context, dsn string) (*PGBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, cmn.CausedBy("search.DialPG", err)
	}
	b := &PGBackend{pool: pool}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PGBackend) ensureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS stwt_fulltext (
		account  INTEGER NOT NULL,
		coll     SMALLINT NOT NULL,
		doc_id   INTEGER NOT NULL,
		field    SMALLINT NOT NULL,
		body     TEXT NOT NULL,
		tsv      tsvector GENERATED ALWAYS AS (to_tsvector('simple', body)) STORED,
		PRIMARY KEY (account, coll, doc_id, field)
	);
	CREATE INDEX IF NOT EXISTS stwt_fulltext_tsv_idx ON stwt_fulltext USING GIN (tsv);`
	_, err := b.pool.Exec(ctx, ddl)
	return cmn.CausedBy("search.ensureSchema", err)
}

// Index write-throughs one document's field text.
func (b *PGBackend) Index(ctx context.Context, account uint32, coll kv.Collection, docID uint32, field byte, body string) error {
	const q = `INSERT INTO stwt_fulltext (account, coll, doc_id, field, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, coll, doc_id, field) DO UPDATE SET body = EXCLUDED.body`
	_, err := b.pool.Exec(ctx, q, account, int16(coll), docID, int16(field), body)
	return cmn.CausedBy("search.PGBackend.Index", err)
}

// Remove deletes one document's field text.
func (b *PGBackend) Remove(ctx context.Context, account uint32, coll kv.Collection, docID uint32, field byte) error {
	const q = `DELETE FROM stwt_fulltext WHERE account = $1 AND coll = $2 AND doc_id = $3 AND field = $4`
	_, err := b.pool.Exec(ctx, q, account, int16(coll), docID, int16(field))
	return cmn.CausedBy("search.PGBackend.Remove", err)
}

// Query runs a plain websearch-style query scoped to (account, coll, field)
// and returns matching document-ids ranked by text-search relevance.
func (b *PGBackend) Query(ctx context.Context, account uint32, coll kv.Collection, field byte, text string) ([]uint32, error) {
	const q = `SELECT doc_id FROM stwt_fulltext
		WHERE account = $1 AND coll = $2 AND field = $3 AND tsv @@ websearch_to_tsquery('simple', $4)
		ORDER BY ts_rank(tsv, websearch_to_tsquery('simple', $4)) DESC`
	rows, err := b.pool.Query(ctx, q, account, int16(coll), int16(field), text)
	if err != nil {
		return nil, cmn.CausedBy("search.PGBackend.Query", err)
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, cmn.CausedBy("search.PGBackend.Query", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil && err != pgx.ErrNoRows {
		return nil, cmn.CausedBy("search.PGBackend.Query", err)
	}
	return out, nil
}

func (b *PGBackend) Close() { b.pool.Close() }
