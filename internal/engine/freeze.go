package engine

import (
	"database/sql"

	"tochka-exchange/internal/model"
)

// Freeze moves the residue of a resting order from available to frozen: for
// a BID it debits amount*price of the base instrument; for an ASK it debits
// amount of ticker. There is no standalone frozen counter — the order's
// amount column is itself the frozen quantum once resting.
func Freeze(tx *sql.Tx, baseTicker, ticker string, dir model.Direction, amount, price int64, user *model.User, inv *model.Inventory) error {
	if dir == model.DirectionBid {
		return DebitCash(tx, baseTicker, user, amount*price)
	}
	return DebitInv(tx, user.ID, ticker, amount, inv)
}

// Unfreeze reverses Freeze: returns a cancelled or reduced order's residue to
// the owner's available balance or inventory.
func Unfreeze(tx *sql.Tx, baseTicker, ticker string, dir model.Direction, amount, price int64, userID string) error {
	if dir == model.DirectionBid {
		return CreditCash(tx, userID, amount*price)
	}
	return CreditInv(tx, userID, ticker, amount)
}
