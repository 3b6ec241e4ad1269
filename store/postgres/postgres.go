// Package postgres is a gencache store on PostgreSQL via lib/pq. The two
// logical tables are real tables, and a gencache Tx is a serializable SQL
// transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/unkn0wn-root/gencache/store"
)

var (
	ErrMissingDSN = errors.New("postgres: DSN is required")
	ErrNilDB      = errors.New("postgres: db is nil")
)

const (
	generationName = "generation"
	scanPageSize   = 256
)

type Store struct {
	db      *sql.DB
	ownsDB  bool
	cache   string // quoted identifiers
	options string

	qGet, qPut, qDel, qGen, qSetGen, qPage, qFirstPage string
}

var _ store.Store = (*Store)(nil)

// Open connects using opts, applies pool settings, and creates the tables if
// they are absent.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s, err := New(ctx, db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if table == "" {
		table = defaultOptions().Table
	}
	s := &Store{
		db:      db,
		cache:   pq.QuoteIdentifier(table + "_cache"),
		options: pq.QuoteIdentifier(table + "_options"),
	}
	s.prepareQueries()
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareQueries() {
	s.qGet = `SELECT value, generation FROM ` + s.cache + ` WHERE key = $1`
	s.qPut = `INSERT INTO ` + s.cache + ` (key, value, generation) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, generation = EXCLUDED.generation`
	s.qDel = `DELETE FROM ` + s.cache + ` WHERE key = $1`
	s.qGen = `SELECT value FROM ` + s.options + ` WHERE name = $1`
	s.qSetGen = `INSERT INTO ` + s.options + ` (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
	s.qFirstPage = `SELECT key, value, generation FROM ` + s.cache +
		` ORDER BY key COLLATE "C" LIMIT $1`
	s.qPage = `SELECT key, value, generation FROM ` + s.cache +
		` WHERE key COLLATE "C" > $1 ORDER BY key COLLATE "C" LIMIT $2`
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.cache + ` (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			generation BIGINT NOT NULL CHECK (generation >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.options + ` (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, key string) (store.Record, bool, error) {
	var (
		rec store.Record
		gen int64
	)
	err := q.QueryRowContext(ctx, s.qGet, key).Scan(&rec.Value, &gen)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	rec.Gen = uint64(gen)
	return rec, true, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, bool, error) {
	return s.get(ctx, s.db, key)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &tx{s: s, tx: sqlTx}, nil
}

// Close closes the pool when the store opened it.
func (s *Store) Close(context.Context) error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

type tx struct {
	s    *Store
	tx   *sql.Tx
	done bool
}

func (t *tx) Get(ctx context.Context, key string) (store.Record, bool, error) {
	if t.done {
		return store.Record{}, false, store.ErrTxDone
	}
	return t.s.get(ctx, t.tx, key)
}

func (t *tx) Put(ctx context.Context, key string, rec store.Record) error {
	if t.done {
		return store.ErrTxDone
	}
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	if _, err := t.tx.ExecContext(ctx, t.s.qPut, key, rec.Value, int64(rec.Gen)); err != nil {
		return fmt.Errorf("postgres: put %q: %w", key, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, key string) error {
	if t.done {
		return store.ErrTxDone
	}
	if _, err := t.tx.ExecContext(ctx, t.s.qDel, key); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key, err)
	}
	return nil
}

func (t *tx) Scan(context.Context) (store.Cursor, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	return &cursor{t: t}, nil
}

func (t *tx) Generation(ctx context.Context) (uint64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	var g int64
	err := t.tx.QueryRowContext(ctx, t.s.qGen, generationName).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: generation: %w", err)
	}
	return uint64(g), nil
}

func (t *tx) SetGeneration(ctx context.Context, gen uint64) error {
	if t.done {
		return store.ErrTxDone
	}
	if _, err := t.tx.ExecContext(ctx, t.s.qSetGen, generationName, int64(gen)); err != nil {
		return fmt.Errorf("postgres: set generation: %w", err)
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

type row struct {
	key string
	rec store.Record
}

// cursor pages through the table by key. lib/pq cannot run a statement while
// another result set is open on the connection, so each page is read fully
// before the caller may update or delete rows.
type cursor struct {
	t *tx

	page    []row
	idx     int
	lastKey string
	started bool
	eof     bool

	onRow  bool
	err    error
	closed bool
}

func (c *cursor) Next(ctx context.Context) bool {
	c.onRow = false
	if c.closed || c.err != nil {
		return false
	}
	c.idx++
	if c.idx >= len(c.page) {
		if c.eof {
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return false
		}
		if len(c.page) == 0 {
			return false
		}
	}
	c.onRow = true
	return true
}

func (c *cursor) fetch(ctx context.Context) error {
	var (
		rows *sql.Rows
		err  error
	)
	if !c.started {
		rows, err = c.t.tx.QueryContext(ctx, c.t.s.qFirstPage, scanPageSize)
		c.started = true
	} else {
		rows, err = c.t.tx.QueryContext(ctx, c.t.s.qPage, c.lastKey, scanPageSize)
	}
	if err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}
	defer rows.Close()

	page := make([]row, 0, scanPageSize)
	for rows.Next() {
		var (
			r   row
			gen int64
		)
		if err := rows.Scan(&r.key, &r.rec.Value, &gen); err != nil {
			return fmt.Errorf("postgres: scan row: %w", err)
		}
		r.rec.Gen = uint64(gen)
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}
	c.page, c.idx = page, 0
	if len(page) < scanPageSize {
		c.eof = true
	}
	if len(page) > 0 {
		c.lastKey = page[len(page)-1].key
	}
	return nil
}

func (c *cursor) Key() string {
	if !c.onRow {
		return ""
	}
	return c.page[c.idx].key
}

func (c *cursor) Record() store.Record {
	if !c.onRow {
		return store.Record{}
	}
	rec := c.page[c.idx].rec
	rec.Value = append([]byte(nil), rec.Value...)
	return rec
}

func (c *cursor) Update(ctx context.Context, rec store.Record) error {
	if !c.onRow {
		return store.ErrCursorDone
	}
	if err := c.t.Put(ctx, c.page[c.idx].key, rec); err != nil {
		return err
	}
	c.page[c.idx].rec = rec
	return nil
}

func (c *cursor) Delete(ctx context.Context) error {
	if !c.onRow {
		return store.ErrCursorDone
	}
	c.onRow = false
	return c.t.Delete(ctx, c.page[c.idx].key)
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.closed = true
	c.onRow = false
	return nil
}
