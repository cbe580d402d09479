package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/id"
	"ncfpos/internal/domain/fiscal"
	"ncfpos/internal/domain/order"
)

const ordersTable = "orders"

// orderRow is the orders table layout. The fiscal extension is stored flat.
type orderRow struct {
	ID           id.ID           `db:"id"`
	Reference    string          `db:"reference"`
	TerminalID   string          `db:"terminal_id"`
	CustomerName string          `db:"customer_name"`
	CustomerRNC  string          `db:"customer_rnc"`
	IsTaxpayer   bool            `db:"is_taxpayer"`
	IsRefund     bool            `db:"is_refund"`
	Total        decimal.Decimal `db:"total"`
	ITBIS        decimal.Decimal `db:"itbis"`
	Status       string          `db:"status"`

	fiscal.Extension

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	VoidedAt  *time.Time `db:"voided_at"`
}

var (
	orderColumns        = Columns[orderRow]()
	orderMutableColumns = ColumnsExcept[orderRow]("id", "created_at")
)

func rowFromOrder(o *order.Order) orderRow {
	return orderRow{
		ID:           o.ID,
		Reference:    o.Reference,
		TerminalID:   o.TerminalID,
		CustomerName: o.CustomerName,
		CustomerRNC:  o.CustomerRNC,
		IsTaxpayer:   o.IsTaxpayer,
		IsRefund:     o.IsRefund,
		Total:        o.Total,
		ITBIS:        o.ITBIS,
		Status:       string(o.Status),
		Extension:    o.Fiscal,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		VoidedAt:     o.VoidedAt,
	}
}

func (r orderRow) toOrder() *order.Order {
	return &order.Order{
		ID:           r.ID,
		Reference:    r.Reference,
		TerminalID:   r.TerminalID,
		CustomerName: r.CustomerName,
		CustomerRNC:  r.CustomerRNC,
		IsTaxpayer:   r.IsTaxpayer,
		IsRefund:     r.IsRefund,
		Total:        r.Total,
		ITBIS:        r.ITBIS,
		Status:       order.Status(r.Status),
		Fiscal:       r.Extension,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		VoidedAt:     r.VoidedAt,
	}
}

// OrderRepo implements order.Repository on PostgreSQL.
type OrderRepo struct {
	txm *TxManager
}

var _ order.Repository = (*OrderRepo)(nil)

// NewOrderRepo creates the repository.
func NewOrderRepo(txm *TxManager) *OrderRepo {
	return &OrderRepo{txm: txm}
}

// Create implements order.Repository.
func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	query, args, err := psql.Insert(ordersTable).
		SetMap(StructToMap(rowFromOrder(o))).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return r.mapWriteError(o, err)
	}
	return nil
}

// GetByID implements order.Repository.
func (r *OrderRepo) GetByID(ctx context.Context, orderID id.ID) (*order.Order, error) {
	return r.get(ctx, orderID, false)
}

func (r *OrderRepo) get(ctx context.Context, orderID id.ID, forUpdate bool) (*order.Order, error) {
	q := psql.Select(orderColumns...).
		From(ordersTable).
		Where(squirrel.Eq{"id": orderID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row orderRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("order", orderID.String())
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	return row.toOrder(), nil
}

// Update implements order.Repository. The row stays locked until fn's result
// is written, so concurrent updates of one order serialize.
func (r *OrderRepo) Update(ctx context.Context, orderID id.ID, fn func(o *order.Order) error) (*order.Order, error) {
	var updated *order.Order
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := r.get(ctx, orderID, true)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}

		values := StructToMap(rowFromOrder(o))
		set := make(map[string]any, len(orderMutableColumns))
		for _, c := range orderMutableColumns {
			set[c] = values[c]
		}
		query, args, err := psql.Update(ordersTable).
			SetMap(set).
			Where(squirrel.Eq{"id": orderID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
			return r.mapWriteError(o, err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List implements order.Repository.
func (r *OrderRepo) List(ctx context.Context, filter order.ListFilter) ([]*order.Order, error) {
	query, args, err := listOrdersQuery(filter)
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	out := make([]*order.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toOrder())
	}
	return out, nil
}

func listOrdersQuery(filter order.ListFilter) (string, []any, error) {
	timeCol := "created_at"
	q := psql.Select(orderColumns...).From(ordersTable)

	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": string(*filter.Status)})
		switch *filter.Status {
		case order.StatusFinalized:
			timeCol = "finalized_at"
		case order.StatusVoided:
			timeCol = "voided_at"
		}
	}
	if filter.FiscalOnly {
		q = q.Where(squirrel.Eq{"es_fiscal": true})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{timeCol: *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.Lt{timeCol: *filter.To})
	}
	q = q.OrderBy(timeCol, "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build list: %w", err)
	}
	return query, args, nil
}

func (r *OrderRepo) mapWriteError(o *order.Order, err error) error {
	if isUniqueViolation(err) {
		if constraintOf(err) == "orders_ncf_uq" {
			return apperror.NewConflict("NCF already used by another order").
				WithDetail("ncf", o.Fiscal.NCF).WithCause(err)
		}
		return apperror.NewConflict("order already exists").WithDetail("order_id", o.OrderID())
	}
	return fmt.Errorf("write order %s: %w", o.OrderID(), err)
}
