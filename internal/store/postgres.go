package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderNumberConstraint = "table_orders_table_id_order_number_key"

// Schema creates the orders table. Items live in a jsonb column because they
// are always read and written as a whole with their order.
const Schema = `
CREATE TABLE IF NOT EXISTS table_orders (
	id           UUID PRIMARY KEY,
	table_id     TEXT NOT NULL,
	order_number INTEGER NOT NULL,
	status       TEXT NOT NULL CHECK (status IN (
		'pending', 'orden_enviada', 'orden_recibida', 'en_preparacion',
		'lista_para_entregar', 'en_entrega', 'entregada', 'con_incidencias',
		'orden_cerrada', 'cancelada')),
	notes        TEXT NOT NULL DEFAULT '',
	items        JSONB NOT NULL DEFAULT '[]',
	total        NUMERIC(12,2) NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT table_orders_table_id_order_number_key UNIQUE (table_id, order_number)
);
CREATE INDEX IF NOT EXISTS table_orders_table_id_idx ON table_orders (table_id);
`

// total is written for reporting queries but never read back: the domain
// total is always recomputed from items.
const orderColumns = `id, table_id, order_number, status, notes, items, created_at, updated_at`

// Postgres is the Order Store backed by PostgreSQL through pgx.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a Postgres store on top of a pool, connection or tx.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreateOrder(ctx context.Context, arg CreateOrderParams) (*order.Order, error) {
	items, err := json.Marshal(nonNilItems(arg.Items))
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	row := p.db.QueryRow(ctx, `
		INSERT INTO table_orders (id, table_id, order_number, status, notes, items, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+orderColumns,
		uuid.New(), arg.TableID, arg.Number, string(arg.Status), arg.Notes, items, decimalToNumeric(arg.Total),
	)
	o, err := scanOrder(row)
	if err != nil {
		if isOrderNumberConflict(err) {
			return nil, ErrOrderNumberConflict
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (p *Postgres) UpdateOrder(ctx context.Context, id uuid.UUID, patch UpdateOrderPatch) (*order.Order, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Items != nil {
		items, err := json.Marshal(nonNilItems(*patch.Items))
		if err != nil {
			return nil, fmt.Errorf("encode items: %w", err)
		}
		add("items", items)
	}
	if patch.Total != nil {
		add("total", decimalToNumeric(*patch.Total))
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}

	row := p.db.QueryRow(ctx,
		`UPDATE table_orders SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+orderColumns,
		args...,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update order: %w", err)
	}
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	row := p.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM table_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, tableID string) ([]order.Order, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+orderColumns+` FROM table_orders WHERE table_id = $1 ORDER BY order_number`,
		tableID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o         order.Order
		status    string
		items     []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&o.ID, &o.TableID, &o.Number, &status, &o.Notes, &items, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	o.Status = order.Status(status)
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()
	return &o, nil
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == orderNumberConstraint
	}
	return false
}

func nonNilItems(items []order.Item) []order.Item {
	if items == nil {
		return []order.Item{}
	}
	return items
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
