package model

import "time"

// Order status values.  Cancelled and delivered orders are terminal:
// deleting them must not restore stock.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
	OrderCompleted  = "completed"
)

// TerminalOrderStatus reports whether an order in the given status has
// already left the fulfillment pipeline.
func TerminalOrderStatus(status string) bool {
	return status == OrderCancelled || status == OrderDelivered
}

// ValidOrderStatus reports whether status is one of the known enum values.
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderCompleted:
		return true
	}
	return false
}

// Product is a storefront catalog item scoped to one organization.  Price
// is denominated in points.  Stock must never go below zero; the purchase
// flow guards it with row locks.
//
// Fields:
//  ID             – primary key identifier.
//  OrganizationID – owning organization.
//  Name           – catalog name.
//  Description    – free text.
//  Price          – cost in points.
//  Stock          – units available.
//  ImageURL       – optional image.
//  Category       – optional grouping label.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last modification timestamp.
type Product struct {
	ID             uint64    // products.id
	OrganizationID uint64    // products.organization_id
	Name           string    // products.name
	Description    string    // products.description
	Price          float64   // products.price
	Stock          int       // products.stock
	ImageURL       string    // products.image_url
	Category       *string   // products.category (nullable)
	CreatedAt      time.Time // products.created_at
	UpdatedAt      time.Time // products.updated_at
}

// Order is a purchase transaction for one user in one organization.
//
// Fields:
//  ID             – primary key identifier.
//  UserID         – buyer.
//  OrganizationID – organization the purchase happened in.
//  TotalAmount    – points charged for the whole cart.
//  Status         – one of the Order* constants.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last status change.
type Order struct {
	ID             uint64    // orders.id
	UserID         uint64    // orders.user_id
	OrganizationID uint64    // orders.organization_id
	TotalAmount    float64   // orders.total_amount
	Status         string    // orders.status
	CreatedAt      time.Time // orders.created_at
	UpdatedAt      time.Time // orders.updated_at
}

// OrderItem snapshots one cart line.  ProductName and PriceAtTime are
// decoupled from the live product so historical orders stay accurate
// when the catalog changes.
//
// Fields:
//  ID          – primary key identifier.
//  OrderID     – owning order.
//  ProductID   – product purchased.
//  ProductName – product name at purchase time.
//  Quantity    – units purchased.
//  PriceAtTime – unit price in points at purchase time.
type OrderItem struct {
	ID          uint64  // order_items.id
	OrderID     uint64  // order_items.order_id
	ProductID   uint64  // order_items.product_id
	ProductName string  // order_items.product_name
	Quantity    int     // order_items.quantity
	PriceAtTime float64 // order_items.price_at_time
}
