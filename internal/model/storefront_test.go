package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalOrderStatus(t *testing.T) {
	assert.True(t, TerminalOrderStatus(OrderCancelled))
	assert.True(t, TerminalOrderStatus(OrderDelivered))

	for _, s := range []string{OrderPending, OrderProcessing, OrderShipped, OrderCompleted} {
		assert.False(t, TerminalOrderStatus(s), s)
	}
}

func TestValidOrderStatus(t *testing.T) {
	for _, s := range []string{OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderCompleted} {
		assert.True(t, ValidOrderStatus(s), s)
	}
	assert.False(t, ValidOrderStatus(""))
	assert.False(t, ValidOrderStatus("refunded"))
	assert.False(t, ValidOrderStatus("Pending"))
}
