package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// querier — общий знаменатель *sql.DB и *sql.Tx. Репозитории работают
// через него, поэтому один и тот же код исполняется и на пуле соединений,
// и внутри транзакции, открытой transaction manager-ом.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runAtomic исполняет fn атомарно. Репозиторий, привязанный к пулу
// (db != nil), открывает собственную транзакцию; репозиторий, уже
// привязанный к транзакции, исполняет fn на ней напрямую, чтобы не
// пытаться вложить транзакцию в транзакцию.
func runAtomic(ctx context.Context, db *sql.DB, q querier, fn func(q querier) error) (err error) {
	if db == nil {
		return fn(q)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation распознаёт нарушение уникального ограничения PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// inPlaceholders строит "$start,$start+1,..." для IN-списков.
func inPlaceholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}
