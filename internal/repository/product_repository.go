package repository

import (
	"context"
	"database/sql"

	"github.com/clubsync/clubsync/internal/model"
)

// ProductRepo encapsulates database operations for the storefront catalog.
type ProductRepo struct{ DB *sql.DB }

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{DB: db} }

const productColumns = "id, organization_id, name, description, price, stock, image_url, category, created_at, updated_at"

func scanProduct(scan func(dest ...interface{}) error) (model.Product, error) {
	var p model.Product
	var desc, img sql.NullString
	err := scan(&p.ID, &p.OrganizationID, &p.Name, &desc, &p.Price, &p.Stock, &img, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Product{}, err
	}
	p.Description = desc.String
	p.ImageURL = img.String
	return p, nil
}

// ListByOrg returns the catalog for one organization.
func (r *ProductRepo) ListByOrg(ctx context.Context, orgID uint64) ([]model.Product, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE organization_id=? ORDER BY name", orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetByID loads one product scoped to an organization.
func (r *ProductRepo) GetByID(ctx context.Context, id, orgID uint64) (model.Product, error) {
	p, err := scanProduct(r.DB.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id=? AND organization_id=? LIMIT 1", id, orgID).Scan)
	if err == sql.ErrNoRows {
		return model.Product{}, ErrProductNotFound
	}
	return p, err
}

// GetForUpdateTx re-fetches a product inside an open transaction holding a
// row lock, so concurrent purchases serialize on the stock check.
func (r *ProductRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id, orgID uint64) (model.Product, error) {
	p, err := scanProduct(tx.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id=? AND organization_id=? LIMIT 1 FOR UPDATE", id, orgID).Scan)
	if err == sql.ErrNoRows {
		return model.Product{}, ErrProductNotFound
	}
	return p, err
}

// DecrementStockTx subtracts qty units while the row lock from
// GetForUpdateTx is held.  The stock>=qty guard is belt-and-braces: the
// caller already validated under the same lock.
func (r *ProductRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - ? WHERE id=? AND stock >= ?", qty, id, qty)
	if err != nil {
		return err
	}
	return requireRow(res, ErrProductNotFound)
}

// RestoreStockTx adds qty units back (order deletion compensation).
func (r *ProductRepo) RestoreStockTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock + ? WHERE id=?", qty, id)
	return err
}

// Create inserts a catalog item and returns its id.
func (r *ProductRepo) Create(ctx context.Context, p model.Product) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO products (organization_id, name, description, price, stock, image_url, category) VALUES (?,?,?,?,?,?,?)",
		p.OrganizationID, p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// Update rewrites a product's catalog fields.
func (r *ProductRepo) Update(ctx context.Context, p model.Product) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE products SET name=?, description=?, price=?, stock=?, image_url=?, category=? WHERE id=? AND organization_id=?",
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category, p.ID, p.OrganizationID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrProductNotFound)
}

// Delete removes a catalog item.
func (r *ProductRepo) Delete(ctx context.Context, id, orgID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM products WHERE id=? AND organization_id=?", id, orgID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrProductNotFound)
}
