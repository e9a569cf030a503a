// Package handler exposes the webhook receiver and the operator/read API
// over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"flipbot/internal/game"
	"flipbot/internal/middleware"
	"flipbot/internal/model"
	"flipbot/internal/pipeline"
	"flipbot/internal/store"
	"flipbot/internal/withdraw"
)

// Handler manages HTTP request handling on top of the reconciliation
// pipeline and the stores.
type Handler struct {
	pipeline  *pipeline.Pipeline
	ledger    *store.Ledger
	wallets   *store.AddressBook
	withdraws *withdraw.Manager
	coinflip  *game.Engine
	adminKey  string
	log       *slog.Logger
}

// New wires a handler.
func New(p *pipeline.Pipeline, ledger *store.Ledger, wallets *store.AddressBook,
	withdraws *withdraw.Manager, coinflip *game.Engine, adminKey string, log *slog.Logger) *Handler {
	return &Handler{
		pipeline:  p,
		ledger:    ledger,
		wallets:   wallets,
		withdraws: withdraws,
		coinflip:  coinflip,
		adminKey:  adminKey,
		log:       log.With(slog.String("component", "http")),
	}
}

// AdminAuth checks the operator API key header.
func (h *Handler) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != h.adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.Response{
				Success: false,
				Error:   "invalid API key",
			})
			return
		}
		c.Next()
	}
}

// Callback accepts a payment-processor confirmation callback. The response
// acknowledges receipt only; reconciliation runs in the background and its
// outcome is never signaled back to the sender.
func (h *Handler) Callback(c *gin.Context) {
	var ev model.CallbackEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no data received"})
		return
	}
	if err := pipeline.Validate(ev); err != nil {
		h.log.Warn("rejected callback", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}

	go h.pipeline.Process(context.Background(), ev)

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetBalance returns a user's balance.
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.Balance(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to get balance"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{
		"user_id": c.Param("id"),
		"balance": balance,
	}})
}

// SetBalance overwrites a user's balance (operator only).
func (h *Handler) SetBalance(c *gin.Context) {
	var req struct {
		Balance decimal.Decimal `json:"balance" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "invalid request body"})
		return
	}
	if req.Balance.IsNegative() {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "balance must not be negative"})
		return
	}
	if err := h.ledger.SetBalance(c.Param("id"), req.Balance); err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to update balance"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{
		"user_id": c.Param("id"),
		"balance": req.Balance,
	}})
}

// GetDeposits returns a user's recent deposit history.
func (h *Handler) GetDeposits(c *gin.Context) {
	deposits, err := h.ledger.Deposits(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to get deposits"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: deposits})
}

// GetWithdrawals returns a user's withdrawal history.
func (h *Handler) GetWithdrawals(c *gin.Context) {
	withdrawals, err := h.ledger.Withdrawals(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to get withdrawals"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: withdrawals})
}

// Leaderboard returns the richest accounts.
func (h *Handler) Leaderboard(c *gin.Context) {
	entries, err := h.ledger.Balances()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to get balances"})
		return
	}
	const limit = 10
	if len(entries) > limit {
		entries = entries[:limit]
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: entries})
}

// AllocateAddress returns the user's deposit address for a currency,
// generating one on first use.
func (h *Handler) AllocateAddress(c *gin.Context) {
	var req struct {
		Currency string `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "invalid request body"})
		return
	}
	if _, ok := model.LookupCurrency(req.Currency); !ok {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "unsupported currency"})
		return
	}

	address, err := h.wallets.Allocate(c.Request.Context(), c.Param("id"), req.Currency)
	if err != nil {
		h.log.Error("allocate address", "user", c.Param("id"), "currency", req.Currency, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to generate deposit address"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{
		"currency": req.Currency,
		"address":  address,
	}})
}

// RequestWithdrawal opens a withdrawal approval flow.
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req struct {
		UserID   string          `json:"user_id" binding:"required"`
		Currency string          `json:"currency" binding:"required"`
		Amount   decimal.Decimal `json:"amount" binding:"required"`
		Address  string          `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "invalid request body"})
		return
	}

	wr, err := h.withdraws.Request(c.Request.Context(), req.UserID, req.Currency, req.Amount, req.Address)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "insufficient balance"})
			return
		}
		h.log.Error("open withdrawal", "user", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to open withdrawal"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{
		"request_id": wr.ID,
		"stage":      wr.Stage,
	}})
}

// Tip moves balance between two users.
func (h *Handler) Tip(c *gin.Context) {
	var req struct {
		From   string          `json:"from" binding:"required"`
		To     string          `json:"to" binding:"required"`
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "invalid request body"})
		return
	}
	if req.From == req.To {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "you cannot tip yourself"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "amount must be positive"})
		return
	}

	if err := h.ledger.Transfer(req.From, req.To, req.Amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "insufficient balance"})
			return
		}
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to transfer"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true})
}

// PlayCoinflip starts a coinflip against the house and resolves it.
func (h *Handler) PlayCoinflip(c *gin.Context) {
	var req struct {
		UserID string          `json:"user_id" binding:"required"`
		Stake  decimal.Decimal `json:"stake" binding:"required"`
		Side   string          `json:"side" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "invalid request body"})
		return
	}

	flip, err := h.coinflip.Start(req.UserID, req.Stake, req.Side)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: "insufficient balance"})
			return
		}
		c.JSON(http.StatusBadRequest, model.Response{Success: false, Error: err.Error()})
		return
	}
	flip, err = h.coinflip.PlayHouse(flip.Number)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{Success: false, Error: "failed to resolve game"})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{
		"number": flip.Number,
		"result": flip.Result,
		"winner": flip.Winner,
		"payout": flip.Stake.Mul(decimal.NewFromInt(2)),
	}})
}

// Router builds the HTTP surface: the public callback endpoint plus the
// operator API behind the admin key.
func Router(h *Handler, rateLimit model.RateLimitConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	limiter := middleware.NewIPRateLimiter(rateLimit)
	router.Use(limiter.RateLimit())

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.POST("/callback", h.Callback)

	v1 := router.Group("/api/v1")
	v1.Use(h.AdminAuth())
	{
		v1.GET("/leaderboard", h.Leaderboard)

		users := v1.Group("/users")
		{
			users.GET("/:id/balance", h.GetBalance)
			users.GET("/:id/deposits", h.GetDeposits)
			users.GET("/:id/withdrawals", h.GetWithdrawals)
			users.POST("/:id/addresses", h.AllocateAddress)
			users.PUT("/:id/balance", h.SetBalance)
		}

		v1.POST("/withdrawals", h.RequestWithdrawal)
		v1.POST("/tips", h.Tip)
		v1.POST("/games/coinflip", h.PlayCoinflip)
	}

	return router
}
