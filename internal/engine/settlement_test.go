package engine

import (
	"testing"

	"tochka-exchange/internal/model"
)

// TestSettlementConservationRestingAsk pins P3 for an incoming BID matched
// against a resting ASK: the resting seller's inventory was already frozen
// at placement, so settlement must only debit the incoming buyer's cash —
// never the resting seller's inventory a second time.
func TestSettlementConservationRestingAsk(t *testing.T) {
	in := SettleInput{
		Ticker:        "MEMCOIN",
		BaseTicker:    "RUB",
		IncomingDir:   model.DirectionBid,
		IncomingUser:  &model.User{ID: "bob"},
		IncomingInv:   &model.Inventory{UserID: "bob", Ticker: "MEMCOIN"},
		RestingUserID: "alice",
		Qty:           5,
		Price:         100,
	}
	p := settlementPostings(in)

	if p.sellerID != "alice" || p.buyerID != "bob" {
		t.Fatalf("expected alice=seller bob=buyer, got seller=%s buyer=%s", p.sellerID, p.buyerID)
	}
	if !p.debitCashFromIncoming {
		t.Fatal("expected the incoming buyer's cash to be debited")
	}
	if p.debitInvFromIncoming {
		t.Fatal("resting seller's inventory must not be debited again")
	}
	if p.cashAmount != 500 || p.invAmount != 5 {
		t.Fatalf("expected cash=500 inv=5, got cash=%d inv=%d", p.cashAmount, p.invAmount)
	}
}

// TestSettlementConservationRestingBid is the symmetric case: an incoming
// ASK matched against a resting BID. The resting buyer's cash was already
// frozen at placement, so only the incoming seller's inventory is debited.
func TestSettlementConservationRestingBid(t *testing.T) {
	in := SettleInput{
		Ticker:        "MEMCOIN",
		BaseTicker:    "RUB",
		IncomingDir:   model.DirectionAsk,
		IncomingUser:  &model.User{ID: "carol"},
		IncomingInv:   &model.Inventory{UserID: "carol", Ticker: "MEMCOIN", Quantity: 10},
		RestingUserID: "dave",
		Qty:           4,
		Price:         50,
	}
	p := settlementPostings(in)

	if p.sellerID != "carol" || p.buyerID != "dave" {
		t.Fatalf("expected carol=seller dave=buyer, got seller=%s buyer=%s", p.sellerID, p.buyerID)
	}
	if p.debitCashFromIncoming {
		t.Fatal("resting buyer's cash must not be debited again")
	}
	if !p.debitInvFromIncoming {
		t.Fatal("expected the incoming seller's inventory to be debited")
	}
	if p.cashAmount != 200 || p.invAmount != 4 {
		t.Fatalf("expected cash=200 inv=4, got cash=%d inv=%d", p.cashAmount, p.invAmount)
	}
}
