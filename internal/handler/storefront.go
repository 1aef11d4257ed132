package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/queue"
	"github.com/clubsync/clubsync/internal/repository"
	"github.com/clubsync/clubsync/internal/webhook"
)

// StorefrontHandler serves the per-organization product catalog and the
// purchase flow.
type StorefrontHandler struct {
	Store       repository.PurchaseStore
	Users       *repository.UserRepo
	Memberships *repository.MembershipRepo
	Products    *repository.ProductRepo
	Orders      *repository.OrderRepo
	Points      *repository.PointsRepo
	Notifier    *webhook.Notifier
	Events      *queue.Publisher
	Log         *zap.Logger
}

func NewStorefrontHandler(store repository.PurchaseStore, users *repository.UserRepo, memberships *repository.MembershipRepo, products *repository.ProductRepo, orders *repository.OrderRepo, points *repository.PointsRepo, notifier *webhook.Notifier, events *queue.Publisher, log *zap.Logger) *StorefrontHandler {
	return &StorefrontHandler{Store: store, Users: users, Memberships: memberships, Products: products, Orders: orders, Points: points, Notifier: notifier, Events: events, Log: log}
}

// ----- products -----

type productReq struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	ImageURL    string  `json:"image_url"`
	Category    *string `json:"category"`
}

func productView(p model.Product) echo.Map {
	v := echo.Map{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"stock":       p.Stock,
		"image_url":   p.ImageURL,
	}
	if p.Category != nil {
		v["category"] = *p.Category
	}
	return v
}

// ListProducts returns the organization's catalog.
func (h *StorefrontHandler) ListProducts(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	products, err := h.Products.ListByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(products))
	for _, p := range products {
		out = append(out, productView(p))
	}
	return c.JSON(http.StatusOK, echo.Map{"products": out})
}

// CreateProduct adds a catalog item.  Officer only.
func (h *StorefrontHandler) CreateProduct(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	var req productReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Name == "" || req.Price < 0 || req.Stock < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required; price and stock must be non-negative"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Products.Create(ctx, model.Product{
		OrganizationID: org.ID,
		Name:           req.Name,
		Description:    req.Description,
		Price:          req.Price,
		Stock:          req.Stock,
		ImageURL:       req.ImageURL,
		Category:       req.Category,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// UpdateProduct overwrites a catalog item.  Officer only.
func (h *StorefrontHandler) UpdateProduct(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}
	var req productReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Name == "" || req.Price < 0 || req.Stock < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required; price and stock must be non-negative"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Products.Update(ctx, model.Product{
		ID:             id,
		OrganizationID: org.ID,
		Name:           req.Name,
		Description:    req.Description,
		Price:          req.Price,
		Stock:          req.Stock,
		ImageURL:       req.ImageURL,
		Category:       req.Category,
	})
	if errors.Is(err, repository.ErrProductNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated"})
}

// DeleteProduct removes a catalog item.  Officer only.
func (h *StorefrontHandler) DeleteProduct(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Products.Delete(ctx, id, org.ID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "deleted"})
}

// ----- purchase -----

type cartLine struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type purchaseReq struct {
	Items []cartLine `json:"items"`
}

// insufficientError is a purchase rejection that names the lacking
// resource so the client can present an actionable message.
type insufficientError struct {
	resp echo.Map
}

func (e *insufficientError) Error() string { return fmt.Sprintf("%v", e.resp["error"]) }

// Purchase redeems points for products.  The whole flow runs in one
// transaction: the balance check, the per-product stock check and
// decrement (rows locked with SELECT ... FOR UPDATE so two concurrent
// purchases cannot both take the last unit), the order rows and the
// single negative ledger entry all commit or roll back together.
func (h *StorefrontHandler) Purchase(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	var req purchaseReq
	if err := c.Bind(&req); err != nil || len(req.Items) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "items required"})
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be positive"})
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	user, err := h.purchasingUser(ctx, p)
	if err != nil {
		return err
	}
	if err := h.Memberships.Upsert(ctx, user.ID, org.ID); err != nil {
		return err
	}

	order, items, err := h.executePurchase(ctx, user, org, req.Items)
	var insufficient *insufficientError
	if errors.As(err, &insufficient) {
		return c.JSON(http.StatusBadRequest, insufficient.resp)
	}
	if errors.Is(err, repository.ErrProductNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
	}
	if err != nil {
		return err
	}

	h.notifyPurchase(org, user, p.Username, order, items)

	return c.JSON(http.StatusCreated, echo.Map{
		"order_id": order.ID,
		"total":    order.TotalAmount,
		"status":   order.Status,
	})
}

// purchasingUser resolves the principal to a user row, creating one on
// first purchase.
func (h *StorefrontHandler) purchasingUser(ctx context.Context, p middleware.Principal) (model.User, error) {
	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, p.DiscordID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, err
	}
	u := model.User{Name: p.Username}
	if p.Email != "" {
		email := strings.ToLower(p.Email)
		u.Email = &email
	}
	if p.DiscordID != "" {
		id := p.DiscordID
		u.DiscordID = &id
	}
	uid, err := h.Users.Create(ctx, u)
	if err != nil {
		return model.User{}, err
	}
	return h.Users.GetByID(ctx, uid)
}

// executePurchase is the locked transaction at the heart of the
// storefront.
func (h *StorefrontHandler) executePurchase(ctx context.Context, user model.User, org model.Organization, lines []cartLine) (model.Order, []model.OrderItem, error) {
	tx, err := h.Store.Begin(ctx)
	if err != nil {
		return model.Order{}, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var total float64
	items := make([]model.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := tx.ProductForUpdate(ctx, line.ProductID, org.ID)
		if err != nil {
			return model.Order{}, nil, err
		}
		if product.Stock < line.Quantity {
			return model.Order{}, nil, &insufficientError{resp: echo.Map{
				"error":     "insufficient stock",
				"product":   product.Name,
				"available": product.Stock,
				"requested": line.Quantity,
			}}
		}
		if err := tx.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
			return model.Order{}, nil, err
		}
		total += product.Price * float64(line.Quantity)
		items = append(items, model.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			PriceAtTime: product.Price,
		})
	}

	balance, err := tx.Balance(ctx, user.ID, org.ID)
	if err != nil {
		return model.Order{}, nil, err
	}
	if float64(balance) < total {
		return model.Order{}, nil, &insufficientError{resp: echo.Map{
			"error":    "insufficient points",
			"required": total,
			"balance":  balance,
		}}
	}

	order := model.Order{
		UserID:         user.ID,
		OrganizationID: org.ID,
		TotalAmount:    total,
		Status:         model.OrderPending,
	}
	orderID, err := tx.CreateOrder(ctx, order)
	if err != nil {
		return model.Order{}, nil, err
	}
	order.ID = orderID
	if err := tx.CreateOrderItems(ctx, orderID, items); err != nil {
		return model.Order{}, nil, err
	}
	if err := tx.InsertPointsEntry(ctx, model.PointsEntry{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Points:         -int64(total),
		Event:          fmt.Sprintf("storefront order #%d", orderID),
		AwardedBy:      "storefront",
	}); err != nil {
		return model.Order{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return model.Order{}, nil, err
	}
	committed = true
	return order, items, nil
}

// notifyPurchase fires the best-effort side channels: the signed
// webhook and the broker event.  Neither can fail the purchase.
func (h *StorefrontHandler) notifyPurchase(org model.Organization, user model.User, username string, order model.Order, items []model.OrderItem) {
	lines := make([]queue.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, queue.OrderLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			PriceAtTime: it.PriceAtTime,
		})
	}
	ev := queue.OrderConfirmedEvent{
		OrderID:     order.ID,
		OrgPrefix:   org.Prefix,
		UserUUID:    user.UUID,
		Username:    username,
		TotalPoints: int64(order.TotalAmount),
		Items:       lines,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
	}
	h.Notifier.Notify(ev)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = h.Events.PublishOrderConfirmed(ctx, ev)
}

// ----- orders -----

func orderView(o model.Order) echo.Map {
	return echo.Map{
		"id":         o.ID,
		"user_id":    o.UserID,
		"total":      o.TotalAmount,
		"status":     o.Status,
		"created_at": o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListOrders returns every order in the organization.  Officer only.
func (h *StorefrontHandler) ListOrders(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orders, err := h.Orders.ListByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": out})
}

// MyOrders returns the caller's own orders with their items.
func (h *StorefrontHandler) MyOrders(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, p.DiscordID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusOK, echo.Map{"orders": []echo.Map{}})
	}
	if err != nil {
		return err
	}
	orders, err := h.Orders.ListByUser(ctx, user.ID, org.ID)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(orders))
	for _, o := range orders {
		items, err := h.Orders.Items(ctx, o.ID)
		if err != nil {
			return err
		}
		v := orderView(o)
		itemViews := make([]echo.Map, 0, len(items))
		for _, it := range items {
			itemViews = append(itemViews, echo.Map{
				"product_id":    it.ProductID,
				"product_name":  it.ProductName,
				"quantity":      it.Quantity,
				"price_at_time": it.PriceAtTime,
			})
		}
		v["items"] = itemViews
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": out})
}

type statusReq struct {
	Status string `json:"status"`
}

// UpdateOrderStatus moves an order along the fulfillment pipeline.
// Officer only.
func (h *StorefrontHandler) UpdateOrderStatus(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	var req statusReq
	if err := c.Bind(&req); err != nil || !model.ValidOrderStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Orders.UpdateStatus(ctx, id, org.ID, req.Status)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated"})
}

// DeleteOrder removes an order.  Deleting a non-terminal order restores
// each item's quantity to product stock, a compensating action for
// orders abandoned before fulfillment; cancelled and delivered orders
// delete without touching stock.
func (h *StorefrontHandler) DeleteOrder(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	err = h.removeOrder(ctx, org, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "deleted"})
}

func (h *StorefrontHandler) removeOrder(ctx context.Context, org model.Organization, id uint64) error {
	tx, err := h.Store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	order, err := tx.OrderForUpdate(ctx, id, org.ID)
	if err != nil {
		return err
	}
	if !model.TerminalOrderStatus(order.Status) {
		items, err := tx.OrderItems(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
	}
	if err := tx.DeleteOrder(ctx, order.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
