package engine

import (
	"database/sql"

	"tochka-exchange/internal/apperr"
	"tochka-exchange/internal/db"
	"tochka-exchange/internal/model"
)

// CreditCash adds delta units of the base instrument to user's available
// balance. delta must be positive.
func CreditCash(tx *sql.Tx, userID string, delta int64) error {
	return db.AddBalance(tx, userID, delta)
}

// DebitCash removes delta units of the base instrument from user's available
// balance, failing with InsufficientBalance rather than going negative.
func DebitCash(tx *sql.Tx, baseTicker string, user *model.User, delta int64) error {
	if user.Balance < delta {
		return &apperr.InsufficientBalance{Ticker: baseTicker, Required: delta, Available: user.Balance}
	}
	if err := db.AddBalance(tx, user.ID, -delta); err != nil {
		return err
	}
	user.Balance -= delta
	return nil
}

// CreditInv adds delta units of ticker to user's available inventory.
func CreditInv(tx *sql.Tx, userID, ticker string, delta int64) error {
	return db.AddInventory(tx, userID, ticker, delta)
}

// DebitInv removes delta units of ticker from user's available inventory,
// failing with InsufficientBalance if that would go negative, or NotFound if
// the (user, ticker) row does not exist.
func DebitInv(tx *sql.Tx, userID, ticker string, delta int64, inv *model.Inventory) error {
	if inv == nil {
		return &apperr.NotFound{Resource: "Inventory", ID: userID + "/" + ticker}
	}
	if inv.Quantity < delta {
		return &apperr.InsufficientBalance{Ticker: ticker, Required: delta, Available: inv.Quantity}
	}
	if err := db.AddInventory(tx, userID, ticker, -delta); err != nil {
		return err
	}
	inv.Quantity -= delta
	return nil
}
