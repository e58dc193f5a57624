package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tochka-exchange/internal/apperr"
	"tochka-exchange/internal/db"
	"tochka-exchange/internal/engine"
	"tochka-exchange/internal/model"
	"tochka-exchange/internal/ws"
)

type Server struct {
	store      *db.Store
	manager    *engine.Manager
	hub        *ws.Hub
	secret     []byte
	baseTicker string
	bookDepth  int
}

func NewServer(store *db.Store, mgr *engine.Manager, hub *ws.Hub, secret, baseTicker string, bookDepth int) *Server {
	return &Server{store: store, manager: mgr, hub: hub, secret: []byte(secret), baseTicker: baseTicker, bookDepth: bookDepth}
}

var tickerPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Public
	r.Post("/public/register", s.register)
	r.Get("/public/instrument", s.listInstruments)
	r.Get("/public/orderbook/{ticker}", s.getOrderbook)
	r.Get("/public/transactions/{ticker}", s.getTransactions)

	// Market data stream
	r.Get("/ws", s.hub.HandleWS)

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/order", s.placeOrder)
		r.Get("/order", s.listOrders)
		r.Get("/order/{id}", s.getOrder)
		r.Delete("/order/{id}", s.cancelOrder)

		r.Get("/balance", s.getBalance)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/admin/instrument", s.createInstrument)
			r.Delete("/admin/instrument/{ticker}", s.deleteInstrument)
			r.Post("/admin/balance/deposit", s.deposit)
			r.Post("/admin/balance/withdraw", s.withdraw)
			r.Delete("/admin/user/{id}", s.deleteUser)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

// register is the only way a credential is ever minted: there is no login
// endpoint, so the token handed back here is the client's one and only key.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, &apperr.ValidationError{Reason: "invalid json"})
		return
	}
	if len(strings.TrimSpace(req.Name)) < 3 {
		writeErr(w, &apperr.ValidationError{Reason: "name must be at least 3 characters"})
		return
	}

	id := uuid.New().String()
	token := s.makeToken(id, req.Name, model.RoleUser)

	ctx := r.Context()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	user, err := s.store.CreateUser(ctx, tx, id, req.Name, model.RoleUser, token)
	if err != nil {
		writeErr(w, err)
		return
	}
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, inst := range instruments {
		if err := s.store.CreateInventoryRow(ctx, tx, user.ID, inst.Ticker); err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}

	json200(w, model.UserResponse{Name: user.Name, ID: user.ID, Role: user.Role, APIKey: token})
}

// makeToken signs the JWT the auth middleware reads back: id, name, role and
// an expiry, nothing more.
func (s *Server) makeToken(id, name string, role model.Role) string {
	claims := jwt.MapClaims{
		"id":   id,
		"name": name,
		"role": string(role),
		"exp":  time.Now().Add(365 * 24 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ───────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

// authMiddleware reads "Authorization: TOKEN <jwt>" — the TOKEN scheme, not
// the usual Bearer.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "TOKEN ") {
			writeErr(w, &apperr.Unauthenticated{Reason: "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(auth, "TOKEN ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			writeErr(w, &apperr.Unauthenticated{Reason: "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeErr(w, &apperr.Unauthenticated{Reason: "invalid claims"})
			return
		}
		userID, _ := claims["id"].(string)
		role, _ := claims["role"].(string)

		// A still-valid token for a since-deleted user is rejected: identity
		// is re-checked against the store on every request, not just at mint time.
		user, err := s.store.GetUser(r.Context(), userID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if user == nil {
			writeErr(w, &apperr.Unauthenticated{Reason: "user not found"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			writeErr(w, &apperr.Forbidden{Reason: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Public ───────────────────────────────────────────

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]model.InstrumentResponse, 0, len(instruments))
	for _, inst := range instruments {
		if inst.Ticker == s.baseTicker {
			continue
		}
		out = append(out, model.InstrumentResponse{Name: inst.Name, Ticker: inst.Ticker})
	}
	json200(w, out)
}

func (s *Server) getOrderbook(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	depth := clampLimit(r, s.bookDepth, 1, 100)
	book, err := s.manager.Orderbook(r.Context(), ticker, depth)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, book)
}

func (s *Server) getTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := clampLimit(r, 10, 1, 100)
	trades, err := s.store.ListTrades(r.Context(), ticker, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]model.TransactionResponse, len(trades))
	for i := range trades {
		out[i] = model.ToTransactionResponse(&trades[i])
	}
	json200(w, out)
}

// ── Orders ───────────────────────────────────────────

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)

	var req model.OrderBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, &apperr.ValidationError{Reason: "invalid json"})
		return
	}
	if req.Direction != model.SideBuy && req.Direction != model.SideSell {
		writeErr(w, &apperr.ValidationError{Reason: "direction must be BUY or SELL"})
		return
	}
	if req.Ticker == s.baseTicker || !tickerPattern.MatchString(req.Ticker) {
		writeErr(w, &apperr.ValidationError{Reason: "invalid ticker"})
		return
	}
	if req.Qty < 1 {
		writeErr(w, &apperr.ValidationError{Reason: "qty must be >= 1"})
		return
	}
	if req.Price != nil && *req.Price < 1 {
		writeErr(w, &apperr.ValidationError{Reason: "price must be >= 1"})
		return
	}

	order, err := s.manager.Submit(r.Context(), uid, req.Ticker, req.Direction.Direction(), req.Qty, req.Price)
	if err != nil {
		// A discarded market order still produced a standalone CANCELLED row;
		// the client only ever sees the error, never that order's id.
		writeErr(w, err)
		return
	}
	json200(w, model.PlaceOrderResp{Success: true, OrderID: order.ID})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	orders, err := s.store.GetUserOrders(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]model.OrderResponse, len(orders))
	for i := range orders {
		out[i] = model.ToOrderResponse(&orders[i])
	}
	json200(w, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	id := chi.URLParam(r, "id")
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if order == nil {
		writeErr(w, &apperr.NotFound{Resource: "Order", ID: id})
		return
	}
	if order.UserID != uid {
		writeErr(w, &apperr.Forbidden{Reason: "not your order"})
		return
	}
	json200(w, model.ToOrderResponse(order))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	id := chi.URLParam(r, "id")

	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if order == nil {
		writeErr(w, &apperr.NotFound{Resource: "Order", ID: id})
		return
	}
	if err := s.manager.Cancel(r.Context(), order.Ticker, id, uid); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, model.SuccessResponse{Success: true})
}

// ── Balance ──────────────────────────────────────────

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	balances, err := s.manager.Balance(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	json200(w, balances)
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Ticker string `json:"ticker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, &apperr.ValidationError{Reason: "invalid json"})
		return
	}
	if req.Name == "" || !tickerPattern.MatchString(req.Ticker) {
		writeErr(w, &apperr.ValidationError{Reason: "name required; ticker must match ^[A-Z]{2,10}$"})
		return
	}
	existing, err := s.store.GetInstrument(r.Context(), req.Ticker)
	if err != nil {
		writeErr(w, err)
		return
	}
	if existing != nil {
		writeErr(w, &apperr.Conflict{Reason: "instrument already exists"})
		return
	}
	if _, err := s.store.CreateInstrument(r.Context(), req.Ticker, req.Name); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, model.SuccessResponse{Success: true})
}

func (s *Server) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	s.manager.StopEngine(ticker)
	if err := s.store.DeleteInstrument(r.Context(), ticker); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, model.SuccessResponse{Success: true})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, true)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, false)
}

// adjustBalance backs both admin/balance/deposit and admin/balance/withdraw:
// a withdrawal that would go negative fails with InsufficientBalance (400)
// instead of touching the row.
func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request, credit bool) {
	var req struct {
		UserID string `json:"user_id"`
		Ticker string `json:"ticker"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, &apperr.ValidationError{Reason: "invalid json"})
		return
	}
	if req.UserID == "" || !tickerPattern.MatchString(req.Ticker) || req.Amount <= 0 {
		writeErr(w, &apperr.ValidationError{Reason: "user_id, valid ticker and amount > 0 required"})
		return
	}

	ctx := r.Context()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	if req.Ticker == s.baseTicker {
		user, err := s.store.GetUserForUpdate(tx, req.UserID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if user == nil {
			writeErr(w, &apperr.NotFound{Resource: "User", ID: req.UserID})
			return
		}
		if credit {
			err = engine.CreditCash(tx, user.ID, req.Amount)
		} else {
			err = engine.DebitCash(tx, s.baseTicker, user, req.Amount)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
	} else {
		inv, err := s.store.GetInventoryForUpdate(tx, req.UserID, req.Ticker)
		if err != nil {
			writeErr(w, err)
			return
		}
		if inv == nil {
			writeErr(w, &apperr.NotFound{Resource: "Inventory", ID: req.UserID + "/" + req.Ticker})
			return
		}
		if credit {
			err = engine.CreditInv(tx, req.UserID, req.Ticker, req.Amount)
		} else {
			err = engine.DebitInv(tx, req.UserID, req.Ticker, req.Amount, inv)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, model.SuccessResponse{Success: true})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if user == nil {
		writeErr(w, &apperr.NotFound{Resource: "User", ID: id})
		return
	}
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	json200(w, model.UserResponse{Name: user.Name, ID: user.ID, Role: user.Role, APIKey: user.Token})
}

// ── Helpers ──────────────────────────────────────────

func clampLimit(r *http.Request, def, min, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < min || n > max {
		return def
	}
	return n
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
