package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"tochka-exchange/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, tx *sql.Tx, id, name string, role model.Role, token string) (*model.User, error) {
	u := &model.User{}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO users (id, name, role, balance, token) VALUES ($1,$2,$3,0,$4)
		 RETURNING id, name, role, balance, token, created_at`,
		id, name, role, token,
	).Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.Token, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, role, balance, token, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.Token, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUserForUpdate(tx *sql.Tx, id string) (*model.User, error) {
	u := &model.User{}
	err := tx.QueryRow(
		`SELECT id, name, role, balance, token, created_at FROM users WHERE id=$1 FOR UPDATE`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.Token, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, role, balance, token, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.Token, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	return err
}

func AddBalance(tx *sql.Tx, userID string, delta int64) error {
	_, err := tx.Exec(`UPDATE users SET balance = balance + $1 WHERE id=$2`, delta, userID)
	return err
}

// ── Instruments ──────────────────────────────────────

func (s *Store) CreateInstrument(ctx context.Context, ticker, name string) (*model.Instrument, error) {
	i := &model.Instrument{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO instruments (ticker, name) VALUES ($1,$2) RETURNING ticker, name`,
		ticker, name,
	).Scan(&i.Ticker, &i.Name)
	if err != nil {
		return nil, err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO inventories (user_id, ticker, quantity)
		 SELECT id, $1, 0 FROM users ON CONFLICT DO NOTHING`, ticker)
	return i, err
}

func (s *Store) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	i := &model.Instrument{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT ticker, name FROM instruments WHERE ticker=$1`, ticker,
	).Scan(&i.Ticker, &i.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

func (s *Store) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT ticker, name FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var i model.Instrument
		if err := rows.Scan(&i.Ticker, &i.Name); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func (s *Store) DeleteInstrument(ctx context.Context, ticker string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM instruments WHERE ticker=$1`, ticker)
	return err
}

// ── Inventories ──────────────────────────────────────

func (s *Store) CreateInventoryRow(ctx context.Context, tx *sql.Tx, userID, ticker string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inventories (user_id, ticker, quantity) VALUES ($1,$2,0) ON CONFLICT DO NOTHING`,
		userID, ticker)
	return err
}

func (s *Store) GetInventory(ctx context.Context, userID, ticker string) (*model.Inventory, error) {
	inv := &model.Inventory{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, ticker, quantity FROM inventories WHERE user_id=$1 AND ticker=$2`, userID, ticker,
	).Scan(&inv.UserID, &inv.Ticker, &inv.Quantity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

func (s *Store) GetInventoryForUpdate(tx *sql.Tx, userID, ticker string) (*model.Inventory, error) {
	inv := &model.Inventory{}
	err := tx.QueryRow(
		`SELECT user_id, ticker, quantity FROM inventories WHERE user_id=$1 AND ticker=$2 FOR UPDATE`, userID, ticker,
	).Scan(&inv.UserID, &inv.Ticker, &inv.Quantity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

func (s *Store) ListInventories(ctx context.Context, userID string) ([]model.Inventory, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, ticker, quantity FROM inventories WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Inventory
	for rows.Next() {
		var inv model.Inventory
		if err := rows.Scan(&inv.UserID, &inv.Ticker, &inv.Quantity); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func AddInventory(tx *sql.Tx, userID, ticker string, delta int64) error {
	_, err := tx.Exec(`UPDATE inventories SET quantity = quantity + $1 WHERE user_id=$2 AND ticker=$3`, delta, userID, ticker)
	return err
}

// ── Orders ───────────────────────────────────────────

func InsertOrder(tx *sql.Tx, o *model.Order) error {
	_, err := tx.Exec(
		`INSERT INTO orders (id, user_id, ticker, direction, qty, amount, filled, price, status, seq)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.UserID, o.Ticker, o.Direction, o.Qty, o.Amount, o.Filled, o.Price, o.Status, o.Seq,
	)
	return err
}

func UpdateOrderFill(tx *sql.Tx, orderID string, amount, filled int64, status model.OrderStatus) error {
	_, err := tx.Exec(
		`UPDATE orders SET amount=$1, filled=$2, status=$3, updated_at=now() WHERE id=$4`,
		amount, filled, status, orderID,
	)
	return err
}

func CancelOrderRow(tx *sql.Tx, orderID string) error {
	_, err := tx.Exec(
		`UPDATE orders SET status=$1, updated_at=now() WHERE id=$2`,
		model.StatusCancelled, orderID,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o := &model.Order{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, ticker, direction, qty, amount, filled, price, status, seq, created_at, updated_at
		 FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Qty, &o.Amount, &o.Filled, &o.Price, &o.Status, &o.Seq, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (s *Store) GetOrderForUpdate(tx *sql.Tx, id string) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRow(
		`SELECT id, user_id, ticker, direction, qty, amount, filled, price, status, seq, created_at, updated_at
		 FROM orders WHERE id=$1 FOR UPDATE`, id,
	).Scan(&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Qty, &o.Amount, &o.Filled, &o.Price, &o.Status, &o.Seq, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// GetRestingOrders returns all live (NEW/PARTIALLY_EXECUTED) orders for a
// ticker, ordered by price-time priority: best price first, ties broken by
// sequence number.
func (s *Store) GetRestingOrders(ctx context.Context, ticker string, dir model.Direction) ([]model.Order, error) {
	order := "price ASC"
	if dir == model.DirectionBid {
		order = "price DESC"
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, ticker, direction, qty, amount, filled, price, status, seq, created_at, updated_at
		 FROM orders WHERE ticker=$1 AND direction=$2 AND status IN ('NEW','PARTIALLY_EXECUTED')
		 ORDER BY `+order+`, seq ASC`, ticker, dir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, ticker, direction, qty, amount, filled, price, status, seq, created_at, updated_at
		 FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// MaxSeq returns the highest seq already assigned to an order on ticker, or
// 0 if none exist yet.
func (s *Store) MaxSeq(ctx context.Context, ticker string) (int64, error) {
	var seq int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq),0) FROM orders WHERE ticker=$1`, ticker,
	).Scan(&seq)
	return seq, err
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Qty, &o.Amount, &o.Filled, &o.Price, &o.Status, &o.Seq, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ── Trades ───────────────────────────────────────────

func InsertTrade(tx *sql.Tx, t *model.Trade) error {
	_, err := tx.Exec(
		`INSERT INTO trades (id, seller_id, buyer_id, ticker, amount, price)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.SellerID, t.BuyerID, t.Ticker, t.Amount, t.Price,
	)
	return err
}

func (s *Store) ListTrades(ctx context.Context, ticker string, limit int) ([]model.Trade, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, seller_id, buyer_id, ticker, amount, price, created_at
		 FROM trades WHERE ticker=$1 ORDER BY created_at DESC LIMIT $2`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.SellerID, &t.BuyerID, &t.Ticker, &t.Amount, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
