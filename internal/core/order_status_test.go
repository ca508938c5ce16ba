package core_test

import (
	"errors"
	"testing"

	"inventory-engine/internal/core"
)

func TestOrderStatus_HappyPath(t *testing.T) {
	steps := []core.OrderStatus{
		core.OrderConfirmed,
		core.OrderAllocated,
		core.OrderPicked,
		core.OrderPacked,
		core.OrderShipped,
		core.OrderInvoiced,
	}

	status := core.OrderDraft
	for _, next := range steps {
		got, err := status.TransitionTo(next)
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", status, next, err)
		}
		if got != next {
			t.Fatalf("%s -> %s: got %s", status, next, got)
		}
		status = got
	}
}

func TestOrderStatus_Cancellation(t *testing.T) {
	tests := []struct {
		from    core.OrderStatus
		allowed bool
	}{
		{core.OrderDraft, true},
		{core.OrderConfirmed, true},
		{core.OrderAllocated, true},
		{core.OrderPicked, true},
		{core.OrderPacked, true},
		{core.OrderShipped, false},
		{core.OrderInvoiced, false},
		{core.OrderCancelled, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(core.OrderCancelled); got != tt.allowed {
			t.Errorf("%s -> CANCELLED: got %v, want %v", tt.from, got, tt.allowed)
		}
	}
}

func TestOrderStatus_IllegalJumps(t *testing.T) {
	tests := []struct {
		from, to core.OrderStatus
	}{
		{core.OrderDraft, core.OrderAllocated},
		{core.OrderDraft, core.OrderShipped},
		{core.OrderConfirmed, core.OrderPicked},
		{core.OrderAllocated, core.OrderShipped},
		{core.OrderShipped, core.OrderPacked},
		{core.OrderInvoiced, core.OrderDraft},
		{core.OrderCancelled, core.OrderConfirmed},
	}

	for _, tt := range tests {
		got, err := tt.from.TransitionTo(tt.to)
		if !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("%s -> %s: want ErrInvalidTransition, got %v", tt.from, tt.to, err)
		}
		if got != tt.from {
			t.Errorf("%s -> %s: status changed to %s on failed transition", tt.from, tt.to, got)
		}
	}
}
