package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
)

// SQLSTATE codes the store translates into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// scannable is a pgx.Row or the current row of pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// querier runs statements on the pool or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// orgFromCtx is the organization every tenant-scoped statement filters on.
func orgFromCtx(ctx context.Context) string {
	return middleware.OrganizationIDFromContext(ctx)
}

// nullIfEmpty maps "" to NULL for optional UUID columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s != nil {
		return *s
	}
	return ""
}

// pgTextArray binds nil as '{}' so text[] columns never hold NULL.
func pgTextArray(s []string) []string {
	return orEmpty(s)
}

// orEmpty makes list results encode as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// jsonbParam encodes v for a JSONB parameter; a nil v binds NULL.
func jsonbParam(v any) (any, error) {
	data, err := json.Marshal(v)
	switch {
	case err != nil:
		return nil, fmt.Errorf("encode jsonb: %w", err)
	case string(data) == "null":
		return nil, nil
	}
	return string(data), nil
}

// decodeJSONB leaves dst untouched when the column was NULL.
func decodeJSONB(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func rawJSONB(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// notFoundWrap prefixes err with the formatted operation. pgx.ErrNoRows
// becomes domain.ErrNotFound.
func notFoundWrap(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		err = domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// execExpectOne reports domain.ErrNotFound when an UPDATE or DELETE matched
// nothing, which for tenant-scoped statements includes rows of another
// organization.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	if err == nil && tag.RowsAffected() == 0 {
		err = domain.ErrNotFound
	}
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }

func isForeignKeyViolation(err error) bool { return sqlState(err) == codeForeignKeyViolation }
