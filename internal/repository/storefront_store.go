package repository

import (
	"context"
	"database/sql"

	"github.com/clubsync/clubsync/internal/model"
)

// PurchaseTx is one unit of work over the purchase tables.  Nothing is
// visible outside the transaction until Commit; Rollback discards all
// of it.  Product and order reads take row locks so concurrent
// purchases of the last unit serialize instead of overselling.
type PurchaseTx interface {
	ProductForUpdate(ctx context.Context, id, orgID uint64) (model.Product, error)
	DecrementStock(ctx context.Context, id uint64, qty int) error
	RestoreStock(ctx context.Context, id uint64, qty int) error
	Balance(ctx context.Context, userID, orgID uint64) (int64, error)
	CreateOrder(ctx context.Context, o model.Order) (uint64, error)
	CreateOrderItems(ctx context.Context, orderID uint64, items []model.OrderItem) error
	InsertPointsEntry(ctx context.Context, e model.PointsEntry) error
	OrderForUpdate(ctx context.Context, id, orgID uint64) (model.Order, error)
	OrderItems(ctx context.Context, orderID uint64) ([]model.OrderItem, error)
	DeleteOrder(ctx context.Context, id uint64) error
	Commit() error
	Rollback() error
}

// PurchaseStore opens purchase transactions.  Handlers depend on this
// interface; tests substitute an in-memory implementation.
type PurchaseStore interface {
	Begin(ctx context.Context) (PurchaseTx, error)
}

type storefrontStore struct {
	db       *sql.DB
	products *ProductRepo
	orders   *OrderRepo
	points   *PointsRepo
}

// NewStorefrontStore builds the MySQL-backed PurchaseStore over the
// existing repositories.
func NewStorefrontStore(db *sql.DB, products *ProductRepo, orders *OrderRepo, points *PointsRepo) PurchaseStore {
	return &storefrontStore{db: db, products: products, orders: orders, points: points}
}

func (s *storefrontStore) Begin(ctx context.Context) (PurchaseTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &storefrontTx{tx: tx, s: s}, nil
}

type storefrontTx struct {
	tx *sql.Tx
	s  *storefrontStore
}

func (t *storefrontTx) ProductForUpdate(ctx context.Context, id, orgID uint64) (model.Product, error) {
	return t.s.products.GetForUpdateTx(ctx, t.tx, id, orgID)
}

func (t *storefrontTx) DecrementStock(ctx context.Context, id uint64, qty int) error {
	return t.s.products.DecrementStockTx(ctx, t.tx, id, qty)
}

func (t *storefrontTx) RestoreStock(ctx context.Context, id uint64, qty int) error {
	return t.s.products.RestoreStockTx(ctx, t.tx, id, qty)
}

func (t *storefrontTx) Balance(ctx context.Context, userID, orgID uint64) (int64, error) {
	return t.s.points.BalanceTx(ctx, t.tx, userID, orgID)
}

func (t *storefrontTx) CreateOrder(ctx context.Context, o model.Order) (uint64, error) {
	return t.s.orders.CreateTx(ctx, t.tx, o)
}

func (t *storefrontTx) CreateOrderItems(ctx context.Context, orderID uint64, items []model.OrderItem) error {
	return t.s.orders.CreateItemsTx(ctx, t.tx, orderID, items)
}

func (t *storefrontTx) InsertPointsEntry(ctx context.Context, e model.PointsEntry) error {
	return t.s.points.InsertTx(ctx, t.tx, e)
}

func (t *storefrontTx) OrderForUpdate(ctx context.Context, id, orgID uint64) (model.Order, error) {
	return t.s.orders.GetForUpdateTx(ctx, t.tx, id, orgID)
}

func (t *storefrontTx) OrderItems(ctx context.Context, orderID uint64) ([]model.OrderItem, error) {
	return t.s.orders.ItemsTx(ctx, t.tx, orderID)
}

func (t *storefrontTx) DeleteOrder(ctx context.Context, id uint64) error {
	return t.s.orders.DeleteTx(ctx, t.tx, id)
}

func (t *storefrontTx) Commit() error   { return t.tx.Commit() }
func (t *storefrontTx) Rollback() error { return t.tx.Rollback() }
