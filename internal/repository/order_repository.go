package repository

import (
	"context"
	"database/sql"

	"github.com/clubsync/clubsync/internal/model"
)

// OrderRepo encapsulates database operations for orders and order items.
type OrderRepo struct{ DB *sql.DB }

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{DB: db} }

const orderColumns = "id, user_id, organization_id, total_amount, status, created_at, updated_at"

// CreateTx inserts an order row inside an open transaction and returns its id.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o model.Order) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO orders (user_id, organization_id, total_amount, status) VALUES (?,?,?,?)",
		o.UserID, o.OrganizationID, o.TotalAmount, o.Status)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// CreateItemsTx bulk-inserts the order's line items in one statement.
func (r *OrderRepo) CreateItemsTx(ctx context.Context, tx *sql.Tx, orderID uint64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	query := "INSERT INTO order_items (order_id, product_id, product_name, quantity, price_at_time) VALUES "
	args := make([]interface{}, 0, len(items)*5)
	for i, it := range items {
		if i > 0 {
			query += ","
		}
		query += "(?,?,?,?,?)"
		args = append(args, orderID, it.ProductID, it.ProductName, it.Quantity, it.PriceAtTime)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func scanOrder(scan func(dest ...interface{}) error) (model.Order, error) {
	var o model.Order
	err := scan(&o.ID, &o.UserID, &o.OrganizationID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetByID loads one order scoped to an organization.
func (r *OrderRepo) GetByID(ctx context.Context, id, orgID uint64) (model.Order, error) {
	o, err := scanOrder(r.DB.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id=? AND organization_id=? LIMIT 1", id, orgID).Scan)
	if err == sql.ErrNoRows {
		return model.Order{}, ErrOrderNotFound
	}
	return o, err
}

// GetForUpdateTx locks an order row for the duration of a transaction;
// deletion uses it so the status read and the stock restoration agree.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id, orgID uint64) (model.Order, error) {
	o, err := scanOrder(tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id=? AND organization_id=? LIMIT 1 FOR UPDATE", id, orgID).Scan)
	if err == sql.ErrNoRows {
		return model.Order{}, ErrOrderNotFound
	}
	return o, err
}

// ListByOrg returns every order for an organization, newest first.
func (r *OrderRepo) ListByOrg(ctx context.Context, orgID uint64) ([]model.Order, error) {
	return r.list(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE organization_id=? ORDER BY created_at DESC", orgID)
}

// ListByUser returns one user's orders in an organization, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID, orgID uint64) ([]model.Order, error) {
	return r.list(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id=? AND organization_id=? ORDER BY created_at DESC", userID, orgID)
}

func (r *OrderRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.Order, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Items returns the line items of one order.
func (r *OrderRepo) Items(ctx context.Context, orderID uint64) ([]model.OrderItem, error) {
	return r.itemsQuery(ctx, r.DB.QueryContext, orderID)
}

// ItemsTx returns the line items of one order inside a transaction.
func (r *OrderRepo) ItemsTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.OrderItem, error) {
	return r.itemsQuery(ctx, tx.QueryContext, orderID)
}

type queryFunc func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

func (r *OrderRepo) itemsQuery(ctx context.Context, query queryFunc, orderID uint64) ([]model.OrderItem, error) {
	rows, err := query(ctx,
		"SELECT id, order_id, product_id, product_name, quantity, price_at_time FROM order_items WHERE order_id=?", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.PriceAtTime); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateStatus moves an order to a new status.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id, orgID uint64, status string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE orders SET status=? WHERE id=? AND organization_id=?", status, id, orgID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrOrderNotFound)
}

// DeleteTx removes an order inside a transaction; order_items cascade.
func (r *OrderRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrOrderNotFound)
}
