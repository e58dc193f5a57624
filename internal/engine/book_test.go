package engine

import (
	"testing"

	"tochka-exchange/internal/model"
)

func TestAddAndBestBidAsk(t *testing.T) {
	b := NewOrderBook()

	b.Add(&OrderEntry{OrderID: "b1", UserID: "u1", Direction: model.DirectionBid, Price: 40, Qty: 10, RemainingQty: 10, Seq: 1})
	b.Add(&OrderEntry{OrderID: "b2", UserID: "u1", Direction: model.DirectionBid, Price: 45, Qty: 5, RemainingQty: 5, Seq: 2})
	b.Add(&OrderEntry{OrderID: "a1", UserID: "u2", Direction: model.DirectionAsk, Price: 55, Qty: 10, RemainingQty: 10, Seq: 3})
	b.Add(&OrderEntry{OrderID: "a2", UserID: "u2", Direction: model.DirectionAsk, Price: 60, Qty: 5, RemainingQty: 5, Seq: 4})

	if b.Size() != 4 {
		t.Fatalf("expected size 4, got %d", b.Size())
	}
	if bb := b.BestBid(); bb == nil || *bb != 45 {
		t.Fatalf("expected best bid 45, got %v", bb)
	}
	if ba := b.BestAsk(); ba == nil || *ba != 55 {
		t.Fatalf("expected best ask 55, got %v", ba)
	}
}

func TestRestingOppositePriceTimeOrder(t *testing.T) {
	b := NewOrderBook()

	b.Add(&OrderEntry{OrderID: "a1", UserID: "u2", Direction: model.DirectionAsk, Price: 50, Qty: 3, RemainingQty: 3, Seq: 1})
	b.Add(&OrderEntry{OrderID: "a2", UserID: "u2", Direction: model.DirectionAsk, Price: 50, Qty: 3, RemainingQty: 3, Seq: 2})
	b.Add(&OrderEntry{OrderID: "a3", UserID: "u2", Direction: model.DirectionAsk, Price: 45, Qty: 1, RemainingQty: 1, Seq: 3})

	opp := b.RestingOpposite(model.DirectionBid)
	if len(opp) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(opp))
	}
	if opp[0].OrderID != "a3" {
		t.Fatalf("expected best price (45) first, got %s", opp[0].OrderID)
	}
	if opp[1].OrderID != "a1" || opp[2].OrderID != "a2" {
		t.Fatalf("expected FIFO within price level 50, got %s then %s", opp[1].OrderID, opp[2].OrderID)
	}
}

func TestRemoveOrder(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "b1", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 5, RemainingQty: 5, Seq: 1})
	b.Add(&OrderEntry{OrderID: "b2", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 3, RemainingQty: 3, Seq: 2})

	removed := b.Remove("b1")
	if removed == nil || removed.OrderID != "b1" {
		t.Fatal("expected to remove b1")
	}
	if b.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", b.Size())
	}
	if bb := b.BestBid(); bb == nil || *bb != 50 {
		t.Fatal("best bid should still be 50")
	}
}

func TestRemoveLastAtLevel(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "a1", UserID: "u1", Direction: model.DirectionAsk, Price: 50, Qty: 5, RemainingQty: 5, Seq: 1})
	b.Remove("a1")

	if b.BestAsk() != nil {
		t.Fatal("expected no best ask after removing only order")
	}
	if b.Size() != 0 {
		t.Fatal("expected empty book")
	}
}

func TestApplyFillPartial(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "a1", UserID: "u1", Direction: model.DirectionAsk, Price: 50, Qty: 10, RemainingQty: 10, Seq: 1})

	rem := b.ApplyFill("a1", 3)
	if rem != 7 {
		t.Fatalf("expected remaining 7, got %d", rem)
	}
	if b.Size() != 1 {
		t.Fatal("order should still be in book")
	}
}

func TestApplyFillFull(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "a1", UserID: "u1", Direction: model.DirectionAsk, Price: 50, Qty: 5, RemainingQty: 5, Seq: 1})

	rem := b.ApplyFill("a1", 5)
	if rem != 0 {
		t.Fatalf("expected remaining 0, got %d", rem)
	}
	if b.Size() != 0 {
		t.Fatal("order should be removed from book")
	}
}

func TestSnapshotDepth(t *testing.T) {
	b := NewOrderBook()
	for i := int64(1); i <= 5; i++ {
		b.Add(&OrderEntry{OrderID: string(rune('A' + i)), UserID: "u1", Direction: model.DirectionBid, Price: 40 + i, Qty: 1, RemainingQty: 1, Seq: i})
	}
	for i := int64(1); i <= 5; i++ {
		b.Add(&OrderEntry{OrderID: string(rune('a' + i)), UserID: "u2", Direction: model.DirectionAsk, Price: 50 + i, Qty: 1, RemainingQty: 1, Seq: 5 + i})
	}

	snap := b.Snapshot(3)
	if len(snap.BidLevels) != 3 {
		t.Fatalf("expected 3 bid levels, got %d", len(snap.BidLevels))
	}
	if len(snap.AskLevels) != 3 {
		t.Fatalf("expected 3 ask levels, got %d", len(snap.AskLevels))
	}
	if snap.BidLevels[0].Price != 45 {
		t.Fatalf("expected top bid 45, got %d", snap.BidLevels[0].Price)
	}
	if snap.AskLevels[0].Price != 51 {
		t.Fatalf("expected top ask 51, got %d", snap.AskLevels[0].Price)
	}
}

// TestSnapshotDepthLimitsOrdersNotLevels pins the depth semantics: depth
// bounds the number of resting orders walked before aggregation, so a level
// can be partially aggregated if depth is exhausted mid-level.
func TestSnapshotDepthLimitsOrdersNotLevels(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "b1", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 3, RemainingQty: 3, Seq: 1})
	b.Add(&OrderEntry{OrderID: "b2", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 2, RemainingQty: 2, Seq: 2})
	b.Add(&OrderEntry{OrderID: "b3", UserID: "u1", Direction: model.DirectionBid, Price: 45, Qty: 4, RemainingQty: 4, Seq: 3})

	snap := b.Snapshot(2)
	if len(snap.BidLevels) != 1 {
		t.Fatalf("expected 1 bid level (depth exhausted within it), got %d", len(snap.BidLevels))
	}
	if snap.BidLevels[0].Price != 50 || snap.BidLevels[0].Qty != 5 {
		t.Fatalf("expected price=50 qty=5 from the first 2 orders, got %+v", snap.BidLevels[0])
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := NewOrderBook()
	b.Add(&OrderEntry{OrderID: "b1", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 5, RemainingQty: 5, Seq: 1})
	b.Add(&OrderEntry{OrderID: "b1", UserID: "u1", Direction: model.DirectionBid, Price: 50, Qty: 5, RemainingQty: 5, Seq: 2})

	if b.Size() != 1 {
		t.Fatalf("expected size 1 (dup ignored), got %d", b.Size())
	}
}
