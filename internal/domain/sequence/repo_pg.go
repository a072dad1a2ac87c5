package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
)

type counterRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &counterRepoPG{pool: pool} }

func (r *counterRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const counterCols = `entity_name, last_code, active_flag = 1, updated_at`

func (r *counterRepoPG) scanCounter(row pgx.Row) (*Counter, error) {
	var c Counter
	if err := row.Scan(&c.EntityName, &c.LastCode, &c.Active, &c.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrCounterNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Advance must run inside a transaction; the row lock taken by FOR UPDATE is
// held until that transaction ends.
func (r *counterRepoPG) Advance(ctx context.Context, entity string, next func(last string) (string, error)) (string, error) {
	var last string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT last_code FROM sequence_counter
		WHERE entity_name = $1 AND active_flag = 1
		FOR UPDATE`, entity).Scan(&last)
	if err != nil {
		if db.IsNoRows(err) {
			return "", ErrCounterNotFound
		}
		return "", fmt.Errorf("lock counter %s: %w", entity, err)
	}

	code, err := next(last)
	if err != nil {
		return "", err
	}

	if _, err := r.conn(ctx).Exec(ctx, `
		UPDATE sequence_counter SET last_code = $2, updated_at = NOW()
		WHERE entity_name = $1`, entity, code); err != nil {
		return "", fmt.Errorf("store counter %s: %w", entity, err)
	}
	return code, nil
}

func (r *counterRepoPG) Seed(ctx context.Context, entity, initialCode string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sequence_counter (entity_name, last_code)
		VALUES ($1, $2)
		ON CONFLICT (entity_name) DO NOTHING`, entity, initialCode)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *counterRepoPG) Get(ctx context.Context, entity string) (*Counter, error) {
	return r.scanCounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+counterCols+` FROM sequence_counter WHERE entity_name = $1`, entity))
}

func (r *counterRepoPG) List(ctx context.Context) ([]*Counter, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+counterCols+` FROM sequence_counter ORDER BY entity_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Counter
	for rows.Next() {
		c, err := r.scanCounter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
