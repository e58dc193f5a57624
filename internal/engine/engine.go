package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"tochka-exchange/internal/apperr"
	"tochka-exchange/internal/db"
	"tochka-exchange/internal/model"
)

// PublishFunc broadcasts a WS message for a ticker.
type PublishFunc func(ticker, msgType string, data any)

// ── Manager ──────────────────────────────────────────

// Manager owns one MarketEngine per traded ticker and lazily starts one the
// first time a ticker without a running engine is used. It holds no
// order-book state itself.
type Manager struct {
	engines    map[string]*MarketEngine
	mu         sync.RWMutex
	store      *db.Store
	publish    PublishFunc
	baseTicker string
}

func NewManager(store *db.Store, pub PublishFunc, baseTicker string) *Manager {
	return &Manager{
		engines:    make(map[string]*MarketEngine),
		store:      store,
		publish:    pub,
		baseTicker: baseTicker,
	}
}

// Boot starts one engine per existing tradeable instrument, loading its
// resting orders from the store. The base ticker itself is never traded.
func (m *Manager) Boot(ctx context.Context) error {
	instruments, err := m.store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	n := 0
	for _, inst := range instruments {
		if inst.Ticker == m.baseTicker {
			continue
		}
		if err := m.startEngine(ctx, inst.Ticker); err != nil {
			return fmt.Errorf("boot %s: %w", inst.Ticker, err)
		}
		n++
	}
	log.Printf("[engine] booted %d instrument engines", n)
	return nil
}

func (m *Manager) startEngine(ctx context.Context, ticker string) (*MarketEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[ticker]; ok {
		return eng, nil
	}
	eng, err := newMarketEngine(ctx, ticker, m.store, m.publish, m.baseTicker)
	if err != nil {
		return nil, err
	}
	m.engines[ticker] = eng
	go eng.run(context.Background())
	return eng, nil
}

// engineFor returns the running engine for ticker, lazily starting one the
// first time an instrument is traded after creation. Returns NotFound if no
// such instrument exists.
func (m *Manager) engineFor(ctx context.Context, ticker string) (*MarketEngine, error) {
	m.mu.RLock()
	eng, ok := m.engines[ticker]
	m.mu.RUnlock()
	if ok {
		return eng, nil
	}
	inst, err := m.store.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, &apperr.NotFound{Resource: "Instrument", ID: ticker}
	}
	return m.startEngine(ctx, ticker)
}

func (m *Manager) StopEngine(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.engines, ticker)
}

func (m *Manager) Orderbook(ctx context.Context, ticker string, depth int) (model.OrderbookResponse, error) {
	eng, err := m.engineFor(ctx, ticker)
	if err != nil {
		return model.OrderbookResponse{}, err
	}
	return eng.book.Snapshot(depth), nil
}

// Submit dispatches an order submission onto ticker's serializing goroutine
// and waits for the result.
func (m *Manager) Submit(ctx context.Context, userID, ticker string, dir model.Direction, qty int64, price *int64) (*model.Order, error) {
	eng, err := m.engineFor(ctx, ticker)
	if err != nil {
		return nil, err
	}
	ch := make(chan submitResult, 1)
	eng.cmdCh <- submitCmd{userID: userID, dir: dir, qty: qty, price: price, ch: ch}
	res := <-ch
	return res.order, res.err
}

// Cancel dispatches a cancellation onto the owning ticker's goroutine.
func (m *Manager) Cancel(ctx context.Context, ticker, orderID, userID string) error {
	eng, err := m.engineFor(ctx, ticker)
	if err != nil {
		return err
	}
	ch := make(chan error, 1)
	eng.cmdCh <- cancelCmd{orderID: orderID, userID: userID, ch: ch}
	return <-ch
}

// Balance implements §4.9: available inventory/cash plus the frozen residue
// of every open order. It is a plain read against the store and does not
// need to serialize against any one ticker's matching goroutine.
func (m *Manager) Balance(ctx context.Context, userID string) (map[string]int64, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &apperr.NotFound{Resource: "User", ID: userID}
	}
	out := map[string]int64{m.baseTicker: user.Balance}

	invs, err := m.store.ListInventories(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, inv := range invs {
		out[inv.Ticker] += inv.Quantity
	}

	orders, err := m.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if !o.Status.Resting() {
			continue
		}
		if o.Direction == model.DirectionAsk {
			out[o.Ticker] += o.Amount
		} else if o.Price != nil {
			out[m.baseTicker] += o.Amount * *o.Price
		}
	}
	return out, nil
}

// ── MarketEngine ─────────────────────────────────────

// MarketEngine serializes every submission and cancellation on one ticker
// through a single goroutine's command channel, satisfying §5's requirement
// that concurrent submissions on the same instrument not both observe and
// consume the same resting level.
type MarketEngine struct {
	ticker     string
	book       *OrderBook
	seq        int64
	cmdCh      chan command
	store      *db.Store
	publish    PublishFunc
	baseTicker string
}

func newMarketEngine(ctx context.Context, ticker string, store *db.Store, pub PublishFunc, baseTicker string) (*MarketEngine, error) {
	book := NewOrderBook()
	for _, dir := range []model.Direction{model.DirectionBid, model.DirectionAsk} {
		orders, err := store.GetRestingOrders(ctx, ticker, dir)
		if err != nil {
			return nil, err
		}
		for i := range orders {
			o := &orders[i]
			if o.Price == nil {
				continue // invariant: market orders never rest
			}
			book.Add(&OrderEntry{
				OrderID:      o.ID,
				UserID:       o.UserID,
				Direction:    o.Direction,
				Price:        *o.Price,
				Qty:          o.Qty,
				RemainingQty: o.Amount,
				Seq:          o.Seq,
			})
		}
	}
	seq, err := store.MaxSeq(ctx, ticker)
	if err != nil {
		return nil, err
	}
	log.Printf("[engine] ticker %s: loaded %d resting orders, seq=%d", ticker, book.Size(), seq)
	return &MarketEngine{
		ticker:     ticker,
		book:       book,
		seq:        seq,
		cmdCh:      make(chan command, 64),
		store:      store,
		publish:    pub,
		baseTicker: baseTicker,
	}, nil
}

func (e *MarketEngine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

func (e *MarketEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

// ── Commands ─────────────────────────────────────────

type command interface{ exec(e *MarketEngine) }

type submitResult struct {
	order *model.Order
	err   error
}

type submitCmd struct {
	userID string
	dir    model.Direction
	qty    int64
	price  *int64
	ch     chan<- submitResult
}

type cancelCmd struct {
	orderID string
	userID  string
	ch      chan<- error
}

func (c submitCmd) exec(e *MarketEngine) {
	order, err := e.submit(c.userID, c.dir, c.qty, c.price)
	c.ch <- submitResult{order: order, err: err}
}

func (c cancelCmd) exec(e *MarketEngine) { c.ch <- e.cancel(c.orderID, c.userID) }

// ── Submission (§4.7) ────────────────────────────────

func (e *MarketEngine) submit(userID string, dir model.Direction, qty int64, price *int64) (*model.Order, error) {
	ctx := context.Background()

	resting := e.book.RestingOpposite(dir)
	fills, residual := Match(dir, price, qty, resting)

	// Market order that can't fully fill: per §4.7 step 6, nothing from this
	// round is posted at all. Record a standalone CANCELLED order instead.
	if price == nil && residual > 0 {
		return e.recordCancelledMarketOrder(ctx, userID, dir, qty)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	user, err := e.store.GetUserForUpdate(tx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &apperr.NotFound{Resource: "User", ID: userID}
	}
	inv, err := e.store.GetInventoryForUpdate(tx, userID, e.ticker)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	seq := e.nextSeq()
	filled := qty - residual

	for _, f := range fills {
		restingAmountAfter := f.Resting.RemainingQty - f.Qty
		restingFilledAfter := f.Resting.Qty - restingAmountAfter
		restingStatus := model.StatusPartial
		if restingAmountAfter == 0 {
			restingStatus = model.StatusExecuted
		}
		if err := db.UpdateOrderFill(tx, f.Resting.OrderID, restingAmountAfter, restingFilledAfter, restingStatus); err != nil {
			return nil, err
		}
		if err := Settle(tx, uuid.New().String(), SettleInput{
			Ticker:        e.ticker,
			BaseTicker:    e.baseTicker,
			IncomingDir:   dir,
			IncomingUser:  user,
			IncomingInv:   inv,
			RestingUserID: f.Resting.UserID,
			Qty:           f.Qty,
			Price:         f.Price,
		}); err != nil {
			return nil, err
		}
	}

	var status model.OrderStatus
	switch {
	case residual == 0:
		status = model.StatusExecuted
	case filled > 0:
		status = model.StatusPartial
	default:
		status = model.StatusNew
	}

	if residual > 0 {
		// Limit order with residue: freeze it. price is guaranteed non-nil
		// here since the market+residual case returned above.
		if err := Freeze(tx, e.baseTicker, e.ticker, dir, residual, *price, user, inv); err != nil {
			return nil, err
		}
	}

	order := &model.Order{
		ID: orderID, UserID: userID, Ticker: e.ticker, Direction: dir,
		Qty: qty, Amount: residual, Filled: filled, Price: price,
		Status: status, Seq: seq,
	}
	if err := db.InsertOrder(tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, f := range fills {
		e.book.ApplyFill(f.Resting.OrderID, f.Qty)
	}
	if residual > 0 {
		e.book.Add(&OrderEntry{
			OrderID: orderID, UserID: userID, Direction: dir,
			Price: *price, Qty: qty, RemainingQty: residual, Seq: seq,
		})
	}

	e.publishBook()
	if e.publish != nil {
		for _, f := range fills {
			e.publish(e.ticker, "trade", map[string]any{"qty": f.Qty, "price": f.Price})
		}
	}
	return order, nil
}

// recordCancelledMarketOrder persists a standalone CANCELLED order in its
// own Tx: no fills, no settlement, no book mutation, since the residual
// market quantity could not rest and the whole round is discarded.
func (e *MarketEngine) recordCancelledMarketOrder(ctx context.Context, userID string, dir model.Direction, qty int64) (*model.Order, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seq := e.nextSeq()
	order := &model.Order{
		ID: uuid.New().String(), UserID: userID, Ticker: e.ticker, Direction: dir,
		Qty: qty, Amount: qty, Filled: 0, Price: nil,
		Status: model.StatusCancelled, Seq: seq,
	}
	if err := db.InsertOrder(tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, &apperr.OrderExecutionError{Reason: "ORDER CANCELLED"}
}

// ── Cancellation (§4.7) ──────────────────────────────

func (e *MarketEngine) cancel(orderID, userID string) error {
	ctx := context.Background()

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	o, err := e.store.GetOrderForUpdate(tx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return &apperr.NotFound{Resource: "Order", ID: orderID}
	}
	if o.UserID != userID {
		return &apperr.Forbidden{Reason: "not your order"}
	}
	if o.Status != model.StatusNew || o.Price == nil {
		return &apperr.OrderExecutionError{Reason: "Order already executed/partially_executed/cancelled"}
	}

	if err := Unfreeze(tx, e.baseTicker, e.ticker, o.Direction, o.Amount, *o.Price, userID); err != nil {
		return err
	}
	if err := db.CancelOrderRow(tx, orderID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.book.Remove(orderID)
	e.publishBook()
	return nil
}

func (e *MarketEngine) publishBook() {
	if e.publish == nil {
		return
	}
	e.publish(e.ticker, "book_snapshot", e.book.Snapshot(20))
}
