package engine

import (
	"testing"

	"tochka-exchange/internal/model"
)

func p(v int64) *int64 { return &v }

func TestMatchPriceTimePriority(t *testing.T) {
	resting := []*OrderEntry{
		{OrderID: "a1", UserID: "seller", Price: 50, Qty: 3, RemainingQty: 3},
		{OrderID: "a2", UserID: "seller", Price: 50, Qty: 3, RemainingQty: 3},
	}
	fills, residual := Match(model.DirectionBid, p(50), 4, resting)
	if residual != 0 {
		t.Fatalf("expected no residual, got %d", residual)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].Resting.OrderID != "a1" || fills[0].Qty != 3 {
		t.Fatalf("expected first fill to exhaust a1, got %+v", fills[0])
	}
	if fills[1].Resting.OrderID != "a2" || fills[1].Qty != 1 {
		t.Fatalf("expected second fill of 1 against a2, got %+v", fills[1])
	}
}

func TestMatchPartialAcrossLevels(t *testing.T) {
	resting := []*OrderEntry{
		{OrderID: "a1", UserID: "seller", Price: 50, Qty: 2, RemainingQty: 2},
		{OrderID: "a2", UserID: "seller", Price: 55, Qty: 3, RemainingQty: 3},
		{OrderID: "a3", UserID: "seller", Price: 60, Qty: 5, RemainingQty: 5},
	}
	fills, residual := Match(model.DirectionBid, p(60), 6, resting)
	if residual != 0 {
		t.Fatalf("expected no residual, got %d", residual)
	}
	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(fills))
	}
	if fills[2].Qty != 1 {
		t.Fatalf("expected partial fill of 1 at the top level, got %d", fills[2].Qty)
	}
}

func TestMatchMarketOrderIgnoresLimit(t *testing.T) {
	resting := []*OrderEntry{
		{OrderID: "a1", UserID: "seller", Price: 50, Qty: 10, RemainingQty: 10},
	}
	fills, residual := Match(model.DirectionBid, nil, 5, resting)
	if residual != 0 || len(fills) != 1 || fills[0].Qty != 5 {
		t.Fatalf("expected single fill of 5, got fills=%+v residual=%d", fills, residual)
	}
}

// TestMatchCrossesOwnRestingOrder pins that Match has no notion of ownership:
// a resting order belonging to the same user as the incoming order crosses
// like any other, since spec.md has no self-trade prevention and
// original_source's matching loops don't exclude same-user orders either.
func TestMatchCrossesOwnRestingOrder(t *testing.T) {
	resting := []*OrderEntry{
		{OrderID: "a1", UserID: "buyer", Price: 50, Qty: 5, RemainingQty: 5},
		{OrderID: "a2", UserID: "seller", Price: 55, Qty: 5, RemainingQty: 5},
	}
	fills, residual := Match(model.DirectionBid, p(99), 3, resting)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Resting.OrderID != "a1" {
		t.Fatalf("expected best-priced resting order a1 to fill regardless of owner, got %s", fills[0].Resting.OrderID)
	}
	if residual != 0 {
		t.Fatalf("expected no residual, got %d", residual)
	}
}

func TestMatchStopsWhenPriceNoLongerCrosses(t *testing.T) {
	resting := []*OrderEntry{
		{OrderID: "b1", UserID: "u1", Price: 60, Qty: 5, RemainingQty: 5},
		{OrderID: "b2", UserID: "u1", Price: 55, Qty: 5, RemainingQty: 5},
	}
	// incoming ASK with limit 58: crosses 60 but not 55.
	fills, residual := Match(model.DirectionAsk, p(58), 8, resting)
	if len(fills) != 1 || fills[0].Resting.OrderID != "b1" {
		t.Fatalf("expected single fill against b1, got %+v", fills)
	}
	if residual != 3 {
		t.Fatalf("expected residual 3, got %d", residual)
	}
}

func TestMatchNoLiquidity(t *testing.T) {
	fills, residual := Match(model.DirectionBid, p(100), 5, nil)
	if len(fills) != 0 || residual != 5 {
		t.Fatalf("expected no fills and full residual, got fills=%+v residual=%d", fills, residual)
	}
}
