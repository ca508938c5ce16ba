package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a fact that occurred during an order workflow operation.
type EventKind string

const (
	EventOrderConfirmed EventKind = "OrderConfirmed"
	EventOrderAllocated EventKind = "OrderAllocated"
	EventOrderShipped   EventKind = "OrderShipped"
	EventOrderCancelled EventKind = "OrderCancelled"
)

// DomainEvent is an immutable record of a state change, returned to the
// caller only after the surrounding transaction has committed.
type DomainEvent struct {
	ID          uuid.UUID
	Kind        EventKind
	OrderID     int
	OrderNumber string
	OccurredAt  time.Time
}

func newEvent(kind EventKind, orderID int, orderNumber string) DomainEvent {
	return DomainEvent{
		ID:          uuid.New(),
		Kind:        kind,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		OccurredAt:  time.Now().UTC(),
	}
}
