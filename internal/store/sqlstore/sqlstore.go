// Package sqlstore implements the store repositories once for every SQL engine.
// Queries are written with '?' placeholders and rebound per dialect; the engine
// packages (sqlite, postgres) own connections, transactions and retries.
package sqlstore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/example/hotel-refunds/internal/store"
)

// ErrNoRows is returned by Row.Scan adapters when a query matched nothing.
var ErrNoRows = errors.New("sqlstore: no rows")

// Row is a single-row result.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier is the subset of a driver transaction the repositories use.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Dialect captures the differences between engines.
type Dialect struct {
	Name string
	// Numbered switches '?' placeholders to $1, $2, ...
	Numbered bool
	// LockSuffix is appended to single-row reads inside write transactions.
	LockSuffix string
	// IsUniqueViolation recognizes the engine's unique constraint error.
	IsUniqueViolation func(error) bool
}

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) unique(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// Tx binds the repositories to one driver transaction.
type Tx struct {
	q        Querier
	d        Dialect
	writable bool
}

var _ store.Tx = (*Tx)(nil)

// NewTx wraps q. Row locks are only requested when writable is true.
func NewTx(q Querier, d Dialect, writable bool) *Tx {
	return &Tx{q: q, d: d, writable: writable}
}

func (t *Tx) Refunds() store.RefundRequestRepository  { return &refundRepo{t} }
func (t *Tx) Arbitrators() store.ArbitratorRepository { return &arbitratorRepo{t} }
func (t *Tx) Cases() store.ArbitrationCaseRepository  { return &caseRepo{t} }
func (t *Tx) Transitions() store.TransitionRepository { return &transitionRepo{t} }
func (t *Tx) Outbox() store.OutboxRepository          { return &outboxRepo{t} }

func (t *Tx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.q.Exec(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (Rows, error) {
	return t.q.Query(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) Row {
	return t.q.QueryRow(ctx, t.d.Rebind(query), args...)
}

// forUpdate appends the dialect's row lock to a single-row read.
func (t *Tx) forUpdate(query string) string {
	if !t.writable || t.d.LockSuffix == "" {
		return query
	}
	return query + " " + t.d.LockSuffix
}

func limitOffset(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		// SQLite rejects OFFSET without LIMIT.
		query += " LIMIT ? OFFSET ?"
		args = append(args, int64(1)<<53, offset)
	}
	return query, args
}
