package engine

import "tochka-exchange/internal/model"

// Fill is a single crossing between an incoming order and one resting entry.
// Price is always the resting order's price — the maker sets the price, the
// taker pays or receives it.
type Fill struct {
	Resting   *OrderEntry
	Qty       int64
	Price     int64
}

// Match walks resting, which must already be in price-time priority order
// (as returned by OrderBook.RestingOpposite), and greedily crosses it against
// an incoming order of direction dir, qty qty and limit price limitPrice (nil
// for a market order). It never mutates the book or resting entries — it only
// computes what WOULD fill. The caller applies the fills: it updates the
// resting order rows and the book, and Settle posts balances and the trade.
//
// residual is the quantity left over once no more resting entries cross.
func Match(dir model.Direction, limitPrice *int64, qty int64, resting []*OrderEntry) (fills []Fill, residual int64) {
	rem := qty
	for _, entry := range resting {
		if rem <= 0 {
			break
		}
		if !crosses(dir, limitPrice, entry.Price) {
			break
		}
		fq := rem
		if entry.RemainingQty < fq {
			fq = entry.RemainingQty
		}
		if fq <= 0 {
			continue
		}
		fills = append(fills, Fill{Resting: entry, Qty: fq, Price: entry.Price})
		rem -= fq
	}
	return fills, rem
}

// crosses reports whether an incoming order of direction dir with limit
// limitPrice (nil = market, crosses any price) would trade against a resting
// order priced at restingPrice. Because resting is pre-sorted into best-first
// order, the caller can stop walking as soon as crosses returns false.
func crosses(dir model.Direction, limitPrice *int64, restingPrice int64) bool {
	if limitPrice == nil {
		return true
	}
	if dir == model.DirectionBid {
		return restingPrice <= *limitPrice
	}
	return restingPrice >= *limitPrice
}
