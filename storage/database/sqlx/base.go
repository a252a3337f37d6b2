// Package sqlxrepos implements the domain repositories on PostgreSQL with sqlx and squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/strmangle"

	"github.com/eschool-app/eschool/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

type base struct {
	db core.DBExecutor
}

func (b base) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return b.db
}

func (b base) selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, qb sq.Sqlizer) error {
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return exec.SelectContext(ctx, dest, query, args...)
}

func (b base) getOne(ctx context.Context, exec core.DBExecutor, dest interface{}, qb sq.Sqlizer) error {
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return exec.GetContext(ctx, dest, query, args...)
}

func (b base) exec(ctx context.Context, exec core.DBExecutor, qb sq.Sqlizer) (int, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// lastValue returns the greatest value of col starting with prefix, or "".
func (b base) lastValue(ctx context.Context, exec core.DBExecutor, table, col, prefix string) (string, error) {
	var last sql.NullString
	qb := psql.Select("MAX(" + col + ")").From(table).Where(sq.Like{col: prefix + "%"})
	if err := b.getOne(ctx, exec, &last, qb); err != nil {
		return "", err
	}
	return last.String, nil
}

func newID() string {
	return uuid.New().String()
}

// trapUniqueErr maps a unique violation to target.
func trapUniqueErr(err, target error, msg string) error {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return target
	}
	return errors.Wrap(err, msg)
}

// orderBy turns the requested orderings into ORDER BY clauses on the allowed columns.
// Fields are accepted in camel or snake case.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback ...string) []string {
	// lastName and last_name both title-case to LastName
	byTitle := make(map[string]string, len(allowed))
	for field, col := range allowed {
		byTitle[strmangle.TitleCase(field)] = col
	}
	normalized := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		normalized = append(normalized, core.DBOrdering{Field: strmangle.TitleCase(ord.Field), Ascending: ord.Ascending})
	}
	clauses := make([]string, 0, len(ordering)+len(fallback))
	for _, ord := range core.FilterOrderings(normalized, byTitle) {
		clauses = append(clauses, ord.String())
	}
	return append(clauses, fallback...)
}

func ilike(search string, cols ...string) sq.Sqlizer {
	val := "%" + search + "%"
	or := make(sq.Or, 0, len(cols))
	for _, col := range cols {
		or = append(or, sq.ILike{col: val})
	}
	return or
}

func anyOf(col string, vals []string) sq.Sqlizer {
	return sq.Expr(col+" = ANY(?)", pq.Array(vals))
}

// dateRange bounds col by two inclusive dates; zero dates are ignored.
func dateRange(qb sq.SelectBuilder, col string, from, to core.Date) sq.SelectBuilder {
	if !from.IsZero() {
		qb = qb.Where(sq.GtOrEq{col: from})
	}
	if !to.IsZero() {
		qb = qb.Where(sq.LtOrEq{col: to})
	}
	return qb
}
