// Package queue defines message payloads exchanged over the message
// broker and the publisher that emits them.
package queue

// OrderConfirmedEvent is published when a storefront purchase commits.
// It carries enough for downstream consumers (fulfillment bots, audit
// logs) to act without querying the primary database.
type OrderConfirmedEvent struct {
	OrderID     uint64      `json:"order_id"`
	OrgPrefix   string      `json:"org_prefix"`
	UserUUID    string      `json:"user_uuid"`
	Username    string      `json:"username"`
	TotalPoints int64       `json:"total_points"`
	Items       []OrderLine `json:"items"`
	ConfirmedAt string      `json:"confirmed_at"`
}

// OrderLine is a single purchased product within an order event.
type OrderLine struct {
	ProductID   uint64  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	PriceAtTime float64 `json:"price_at_time"`
}

// PointsAwardedEvent is published after an officer awards points, so
// notification bots can announce it in the guild.
type PointsAwardedEvent struct {
	OrgPrefix string `json:"org_prefix"`
	UserUUID  string `json:"user_uuid"`
	Points    int64  `json:"points"`
	Event     string `json:"event"`
	AwardedBy string `json:"awarded_by"`
	AwardedAt string `json:"awarded_at"`
}
