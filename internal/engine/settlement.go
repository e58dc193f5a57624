package engine

import (
	"database/sql"

	"tochka-exchange/internal/db"
	"tochka-exchange/internal/model"
)

// SettleInput carries everything Settle needs for one fill. IncomingUser and
// IncomingInv are the locked, in-memory view of the incoming order's owner —
// Settle mutates them in place so the caller sees up-to-date balances without
// a re-read. The resting counterparty is only ever credited here, so its row
// does not need to be loaded: a credit can never fail non-negativity.
type SettleInput struct {
	Ticker        string
	BaseTicker    string
	IncomingDir   model.Direction
	IncomingUser  *model.User
	IncomingInv   *model.Inventory
	RestingUserID string
	Qty           int64
	Price         int64
}

// postings is the decision Settle makes about who to debit and credit for
// one fill, kept separate from the *sql.Tx execution so the branching logic
// — which side is resting and therefore already paid — can be tested without
// a database. This is the fix for the double-debit the source exhibited: the
// resting counterparty's leg is never debited here, only credited.
type postings struct {
	sellerID, buyerID     string
	cashAmount            int64 // seller always credited this; only the incoming side is debited it
	invAmount             int64
	debitCashFromIncoming bool // true when incoming is the buyer
	debitInvFromIncoming  bool // true when incoming is the seller
}

func settlementPostings(in SettleInput) postings {
	if in.IncomingDir == model.DirectionBid {
		// incoming is the buyer; resting is the seller (ASK). The seller's
		// inventory already left its available pool at freeze time.
		return postings{
			sellerID:              in.RestingUserID,
			buyerID:               in.IncomingUser.ID,
			cashAmount:            in.Qty * in.Price,
			invAmount:             in.Qty,
			debitCashFromIncoming: true,
			debitInvFromIncoming:  false,
		}
	}
	// incoming is the seller; resting is the buyer (BID). The buyer's cash
	// already left its available pool at freeze time.
	return postings{
		sellerID:              in.IncomingUser.ID,
		buyerID:               in.RestingUserID,
		cashAmount:            in.Qty * in.Price,
		invAmount:             in.Qty,
		debitCashFromIncoming: false,
		debitInvFromIncoming:  true,
	}
}

// Settle posts one fill's cash and inventory movements and records the
// resulting trade. It branches by which side is resting rather than by
// buy/sell: the resting counterparty's funds or units already left their
// available pool at freeze time, so Settle only credits them and must not
// debit them again. Only the incoming counterparty's leg is debited now.
func Settle(tx *sql.Tx, tradeID string, in SettleInput) error {
	p := settlementPostings(in)

	if err := CreditCash(tx, p.sellerID, p.cashAmount); err != nil {
		return err
	}
	if p.sellerID == in.IncomingUser.ID {
		in.IncomingUser.Balance += p.cashAmount
	}

	if p.debitCashFromIncoming {
		if err := DebitCash(tx, in.BaseTicker, in.IncomingUser, p.cashAmount); err != nil {
			return err
		}
	}
	if p.debitInvFromIncoming {
		if err := DebitInv(tx, in.IncomingUser.ID, in.Ticker, p.invAmount, in.IncomingInv); err != nil {
			return err
		}
	}

	if err := CreditInv(tx, p.buyerID, in.Ticker, p.invAmount); err != nil {
		return err
	}
	if p.buyerID == in.IncomingUser.ID {
		in.IncomingInv.Quantity += p.invAmount
	}

	return db.InsertTrade(tx, &model.Trade{
		ID:       tradeID,
		SellerID: p.sellerID,
		BuyerID:  p.buyerID,
		Ticker:   in.Ticker,
		Amount:   in.Qty,
		Price:    in.Price,
	})
}
