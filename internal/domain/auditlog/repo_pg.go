package auditlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chokoronadal/wbhsms/internal/platform/db"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_activity_logs (user_id, action_type, description)
		VALUES ($1, $2, $3)
		RETURNING log_id, created_at`,
		e.UserID, e.ActionType, e.Description,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *RepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM user_activity_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT log_id, COALESCE(user_id, 0), action_type, description, created_at
		FROM user_activity_logs%s ORDER BY created_at DESC, log_id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActionType, &e.Description, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan activity log: %w", err)
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ActionType != "" {
		args = append(args, f.ActionType)
		conds = append(conds, fmt.Sprintf("action_type = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
