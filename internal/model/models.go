package model

import "time"

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Direction is the internal/storage representation of an order side.
// The wire representation uses Side (BUY/SELL).
type Direction string

const (
	DirectionBid Direction = "BID"
	DirectionAsk Direction = "ASK"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Direction() Direction {
	if s == SideSell {
		return DirectionAsk
	}
	return DirectionBid
}

func (d Direction) Side() Side {
	if d == DirectionAsk {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusPartial   OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Resting() bool {
	return s == StatusNew || s == StatusPartial
}

// ── Domain objects ───────────────────────────────────

type User struct {
	ID        string
	Name      string
	Role      Role
	Balance   int64 // available cash, base instrument units
	Token     string // the JWT issued at registration; there is no login route to reissue it
	CreatedAt time.Time
}

type Instrument struct {
	Ticker string
	Name   string
}

type Inventory struct {
	UserID   string
	Ticker   string
	Quantity int64 // available units
}

type Order struct {
	ID        string
	UserID    string
	Ticker    string
	Direction Direction
	Qty       int64 // original quantity
	Amount    int64 // remaining
	Filled    int64
	Price     *int64 // nil => market order
	Status    OrderStatus
	Seq       int64 // creation order within the instrument, monotonic
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Trade struct {
	ID        string
	SellerID  string
	BuyerID   string
	Ticker    string
	Amount    int64
	Price     int64
	CreatedAt time.Time
}

// ── API shapes ───────────────────────────────────────

type PlaceOrderReq struct {
	Direction Side   `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price,omitempty"`
}

type PlaceOrderResp struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

type OrderBody struct {
	Direction Side   `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price"`
}

type OrderResponse struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	UserID    string      `json:"user_id"`
	Timestamp string      `json:"timestamp"`
	Body      OrderBody   `json:"body"`
	Filled    int64       `json:"filled"`
}

func ToOrderResponse(o *Order) OrderResponse {
	return OrderResponse{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		Timestamp: FormatTimestamp(o.CreatedAt),
		Body: OrderBody{
			Direction: o.Direction.Side(),
			Ticker:    o.Ticker,
			Qty:       o.Qty,
			Price:     o.Price,
		},
		Filled: o.Filled,
	}
}

type BookLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

type OrderbookResponse struct {
	BidLevels []BookLevel `json:"bid_levels"`
	AskLevels []BookLevel `json:"ask_levels"`
}

type TransactionResponse struct {
	Ticker    string `json:"ticker"`
	Amount    int64  `json:"amount"`
	Price     int64  `json:"price"`
	Timestamp string `json:"timestamp"`
}

func ToTransactionResponse(t *Trade) TransactionResponse {
	return TransactionResponse{
		Ticker:    t.Ticker,
		Amount:    t.Amount,
		Price:     t.Price,
		Timestamp: FormatTimestamp(t.CreatedAt),
	}
}

type InstrumentResponse struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

type UserResponse struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	APIKey string `json:"api_key"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision
// and a trailing Z, matching the wire format used across every response.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
