package handlers

import (
	"net/http"

	"ledger/internal/config"
	"ledger/internal/middleware"
	"ledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Admin roles checked by RequireAdmin. Super admins hold all of them.
const (
	RoleSettleBets         = "CanSettleBets"
	RoleCancelTransactions = "CanCancelTransactions"
	RoleManageRedemptions  = "CanManageRedemptions"
	RoleManageFunds        = "CanManageFunds"
	RoleReconcile          = "CanReconcile"
	RoleViewAudit          = "CanViewAudit"
)

// Deps groups what the handlers call into.
type Deps struct {
	DB            Pinger
	Balances      BalanceService
	Wallets       CategoryWallets
	Transactions  TransactionStore
	Bets          BetStore
	Settlement    SettlementService
	Cancellations CancellationService
	Funds         FundsService
	Redemptions   RedemptionService
	RedemptionLog RedemptionStore
	Commissions   CommissionStore
	Reconciler    Reconciler
	Admin         AdminStore
	Audit         AuditStore
	Hub           *websocket.Hub
}

type Handler struct {
	Deps
	cfg      config.Config
	log      zerolog.Logger
	upgrader gorillaws.Upgrader
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) *Handler {
	return &Handler{
		Deps:     deps,
		cfg:      cfg,
		log:      log.With().Str("component", "http").Logger(),
		upgrader: websocket.NewUpgrader(cfg.AllowedOrigins),
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(h.log))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/balance", h.GetBalance)
		r.Get("/balance/categories", h.ListCategoryBalances)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/wallets/allocate", h.AllocateToCategory)
		r.Post("/wallets/release", h.ReleaseFromCategory)
		r.Get("/bets", h.ListBets)
		r.Post("/bets", h.PlaceBet)
		r.Get("/redemptions", h.ListRedemptions)
		r.Post("/redemptions", h.RequestRedemption)
		r.Get("/commissions", h.ListCommissions)
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.With(middleware.RequireAdmin(h.Admin, RoleSettleBets)).Post("/bets/{id}/resolve", h.ResolveBet)
		r.With(middleware.RequireAdmin(h.Admin, RoleCancelTransactions)).Post("/cancellations", h.CancelTransaction)
		r.With(middleware.RequireAdmin(h.Admin, RoleManageRedemptions)).Post("/redemptions/{id}/approve", h.ApproveRedemption)
		r.With(middleware.RequireAdmin(h.Admin, RoleManageRedemptions)).Post("/redemptions/{id}/reject", h.RejectRedemption)
		r.With(middleware.RequireAdmin(h.Admin, RoleManageRedemptions)).Post("/redemptions/sweep", h.SweepRedemptions)
		r.With(middleware.RequireAdmin(h.Admin, RoleManageFunds)).Post("/users/{id}/deposit", h.AdminDeposit)
		r.With(middleware.RequireAdmin(h.Admin, RoleManageFunds)).Post("/users/{id}/withdraw", h.AdminWithdraw)
		r.With(middleware.RequireAdmin(h.Admin, RoleReconcile)).Post("/users/{id}/rebuild", h.RebuildSnapshot)
		r.With(middleware.RequireAdmin(h.Admin, RoleReconcile)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.Admin, RoleReconcile)).Get("/drift", h.SnapshotDrift)
		r.With(middleware.RequireAdmin(h.Admin, RoleViewAudit)).Get("/audit", h.ListAuditLogs)
	})

	router.Get("/health", h.Health)
	return router
}
