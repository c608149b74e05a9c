package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nrsilver/venue/internal/auth"
	"github.com/nrsilver/venue/internal/broadcast"
	"github.com/nrsilver/venue/internal/market"
	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Ledger store.Ledger
	Market *market.Service
	Prices broadcast.PriceReader
	Auth   *auth.Service
	Hub    *broadcast.Hub
	Log    *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(ledger store.Ledger, m *market.Service, prices broadcast.PriceReader, authService *auth.Service, hub *broadcast.Hub, log *zap.Logger) *Handler {
	return &Handler{Ledger: ledger, Market: m, Prices: prices, Auth: authService, Hub: hub, Log: log}
}

// Routes builds the full router, CORS included
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", h.Hub.HandleWS)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders/buy", h.SubmitBuy)
		r.Post("/orders/sell", h.SubmitSell)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/state", h.GetState)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/admin/orders", h.ListOrders)
			r.Post("/admin/orders/{id}/approve", h.ApproveOrder)
			r.Post("/admin/orders/{id}/reject", h.RejectOrder)
			r.Post("/admin/users/{id}/adjust", h.AdjustBalance)
		})
	})

	return r
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, role, err := h.Auth.ParseToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin callers
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(ctxKeyRole).(models.Role)
		if !ok || role != models.RoleAdmin {
			http.Error(w, `{"error": "Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubmitBuy places a buy order
func (h *Handler) SubmitBuy(w http.ResponseWriter, r *http.Request) {
	h.submitOrder(w, r, models.OrderBuy)
}

// SubmitSell places a sell order
func (h *Handler) SubmitSell(w http.ResponseWriter, r *http.Request) {
	h.submitOrder(w, r, models.OrderSell)
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request, typ models.OrderType) {
	userID, ok := r.Context().Value(ctxKeyUserID).(uuid.UUID)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		AmountUnits float64 `json:"amount_units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Market.SubmitOrder(r.Context(), userID, typ, req.AmountUnits)
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		http.Error(w, `{"error": "Amount must be positive"}`, http.StatusBadRequest)
		return
	case errors.Is(err, market.ErrInsufficientBalance):
		http.Error(w, `{"error": "Insufficient balance"}`, http.StatusConflict)
		return
	case err != nil:
		h.Log.Error("failed to submit order", zap.Error(err))
		http.Error(w, `{"error": "Failed to submit order"}`, http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// GetUserOrders retrieves the caller's most recent orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxKeyUserID).(uuid.UUID)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orders, err := h.Ledger.ListOrdersByUser(r.Context(), userID, 10)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusServiceUnavailable)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	json.NewEncoder(w).Encode(orders)
}

// GetState returns the current snapshot on demand
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := broadcast.BuildSnapshot(r.Context(), h.Ledger, h.Prices.CurrentPrice(), h.Prices.History())
	if err != nil {
		http.Error(w, `{"error": "Failed to build state"}`, http.StatusServiceUnavailable)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

// ListOrders retrieves orders by status for the admin view
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusPending
	}

	orders, err := h.Ledger.ListOrdersByStatus(r.Context(), status)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusServiceUnavailable)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	json.NewEncoder(w).Encode(orders)
}

// ApproveOrder approves a pending order
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.decideOrder(w, r, h.Market.ApproveOrder)
}

// RejectOrder rejects a pending order
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	h.decideOrder(w, r, h.Market.RejectOrder)
}

func (h *Handler) decideOrder(w http.ResponseWriter, r *http.Request, decide func(context.Context, uuid.UUID) (market.Outcome, error)) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	outcome, err := decide(r.Context(), orderID)
	if err != nil {
		h.Log.Error("failed to decide order", zap.Error(err))
		http.Error(w, `{"error": "Failed to decide order"}`, http.StatusServiceUnavailable)
		return
	}

	h.writeOutcome(w, outcome)
}

// AdjustBalance adds or subtracts units on a user directly
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid user ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		AmountUnits float64 `json:"amount_units"`
		Direction   string  `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	outcome, err := h.Market.AdjustBalance(r.Context(), userID, req.AmountUnits, market.AdjustDirection(req.Direction))
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		http.Error(w, `{"error": "Amount must be positive"}`, http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, `{"error": "Failed to adjust balance"}`, http.StatusBadRequest)
		return
	}

	h.writeOutcome(w, outcome)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, outcome market.Outcome) {
	switch outcome {
	case market.OutcomeApplied:
		json.NewEncoder(w).Encode(map[string]string{"result": "applied"})
	case market.OutcomeNoOp:
		json.NewEncoder(w).Encode(map[string]string{"result": "noop"})
	case market.OutcomeFailedPrecondition:
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"result": "failed_precondition"})
	}
}
