package engine

import (
	"sort"

	"tochka-exchange/internal/model"
)

// OrderEntry is a resting order held in memory by the book view.
type OrderEntry struct {
	OrderID      string
	UserID       string
	Direction    model.Direction
	Price        int64
	Qty          int64 // original quantity, for deriving filled from RemainingQty
	RemainingQty int64
	Seq          int64
}

// Level is a price level with a FIFO queue of resting orders.
type Level struct {
	Price  int64
	Orders []*OrderEntry
}

func (l *Level) TotalQty() int64 {
	var t int64
	for _, o := range l.Orders {
		t += o.RemainingQty
	}
	return t
}

// OrderBook is the in-memory book view for a single ticker. It only ever
// answers "what is resting" — it never decides whether two orders cross.
// That decision belongs to the matcher.
type OrderBook struct {
	bids      map[int64]*Level // price -> level; order is kept in bidPrices
	asks      map[int64]*Level
	bidPrices []int64 // sorted descending
	askPrices []int64 // sorted ascending
	index     map[string]*OrderEntry
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:  make(map[int64]*Level),
		asks:  make(map[int64]*Level),
		index: make(map[string]*OrderEntry),
	}
}

// ── Queries ──────────────────────────────────────────

func (b *OrderBook) BestBid() *int64 {
	if len(b.bidPrices) == 0 {
		return nil
	}
	p := b.bidPrices[0]
	return &p
}

func (b *OrderBook) BestAsk() *int64 {
	if len(b.askPrices) == 0 {
		return nil
	}
	p := b.askPrices[0]
	return &p
}

func (b *OrderBook) Size() int { return len(b.index) }

// Snapshot aggregates the first depth resting orders per side, in
// price-time priority, into price levels. The limit bounds the number of
// orders walked, not the number of distinct price levels returned — a level
// can be cut short mid-level once depth orders have been consumed, matching
// how the underlying order query is limited before aggregation.
func (b *OrderBook) Snapshot(depth int) model.OrderbookResponse {
	return model.OrderbookResponse{
		BidLevels: aggregateLevels(b.bidPrices, b.bids, depth),
		AskLevels: aggregateLevels(b.askPrices, b.asks, depth),
	}
}

func aggregateLevels(prices []int64, sides map[int64]*Level, depth int) []model.BookLevel {
	qtyByPrice := make(map[int64]int64)
	var seen []int64
	n := 0
outer:
	for _, p := range prices {
		for _, o := range sides[p].Orders {
			if n >= depth {
				break outer
			}
			if _, ok := qtyByPrice[p]; !ok {
				seen = append(seen, p)
			}
			qtyByPrice[p] += o.RemainingQty
			n++
		}
	}
	out := make([]model.BookLevel, len(seen))
	for i, p := range seen {
		out[i] = model.BookLevel{Price: p, Qty: qtyByPrice[p]}
	}
	return out
}

// ── Add / Remove ─────────────────────────────────────

func (b *OrderBook) Add(e *OrderEntry) {
	if _, exists := b.index[e.OrderID]; exists {
		return
	}
	b.index[e.OrderID] = e
	if e.Direction == model.DirectionBid {
		b.addToSide(b.bids, &b.bidPrices, e, false) // desc
	} else {
		b.addToSide(b.asks, &b.askPrices, e, true) // asc
	}
}

func (b *OrderBook) Remove(orderID string) *OrderEntry {
	e, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	if e.Direction == model.DirectionBid {
		b.removeFromSide(b.bids, &b.bidPrices, e)
	} else {
		b.removeFromSide(b.asks, &b.askPrices, e)
	}
	return e
}

// RestingOpposite returns, in price-time priority order, the resting entries
// on the side opposite dir — the candidates an incoming order of direction
// dir could cross. It is a pure peek: it never mutates the book and never
// decides how much of any entry actually fills. That is the matcher's job.
func (b *OrderBook) RestingOpposite(dir model.Direction) []*OrderEntry {
	var out []*OrderEntry
	if dir == model.DirectionBid {
		for _, p := range b.askPrices {
			out = append(out, b.asks[p].Orders...)
		}
	} else {
		for _, p := range b.bidPrices {
			out = append(out, b.bids[p].Orders...)
		}
	}
	return out
}

// ApplyFill reduces the remaining qty of a resting order, removing it from
// the book once fully filled. Returns the remaining qty after the fill.
func (b *OrderBook) ApplyFill(orderID string, fillQty int64) int64 {
	e := b.index[orderID]
	if e == nil {
		return 0
	}
	e.RemainingQty -= fillQty
	if e.RemainingQty <= 0 {
		b.Remove(orderID)
		return 0
	}
	return e.RemainingQty
}

// ── Internals ────────────────────────────────────────

func (b *OrderBook) addToSide(m map[int64]*Level, prices *[]int64, e *OrderEntry, asc bool) {
	level, ok := m[e.Price]
	if !ok {
		level = &Level{Price: e.Price}
		m[e.Price] = level
		*prices = append(*prices, e.Price)
		if asc {
			sort.Slice(*prices, func(i, j int) bool { return (*prices)[i] < (*prices)[j] })
		} else {
			sort.Slice(*prices, func(i, j int) bool { return (*prices)[i] > (*prices)[j] })
		}
	}
	level.Orders = append(level.Orders, e)
}

func (b *OrderBook) removeFromSide(m map[int64]*Level, prices *[]int64, e *OrderEntry) {
	level, ok := m[e.Price]
	if !ok {
		return
	}
	for i, o := range level.Orders {
		if o.OrderID == e.OrderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		delete(m, e.Price)
		for i, p := range *prices {
			if p == e.Price {
				*prices = append((*prices)[:i], (*prices)[i+1:]...)
				break
			}
		}
	}
}
