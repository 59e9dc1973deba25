package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"ledger/internal/auth"
	"ledger/internal/config"
	"ledger/internal/models"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/wallet"
	"ledger/internal/websocket"

	"github.com/rs/zerolog"
)

type stubBalances struct {
	getFn     func(ctx context.Context, userID string) (services.BalanceInfo, error)
	rebuildFn func(ctx context.Context, userID string) (services.BalanceInfo, error)
}

func (s stubBalances) GetBalance(ctx context.Context, userID string) (services.BalanceInfo, error) {
	if s.getFn == nil {
		return services.BalanceInfo{UserID: userID, Currency: "USD"}, nil
	}
	return s.getFn(ctx, userID)
}

func (s stubBalances) RebuildSnapshot(ctx context.Context, userID string) (services.BalanceInfo, error) {
	if s.rebuildFn == nil {
		return services.BalanceInfo{UserID: userID}, nil
	}
	return s.rebuildFn(ctx, userID)
}

type stubWallets struct {
	listFn func(ctx context.Context, userID string) ([]wallet.Balance, error)
	pingFn func(ctx context.Context) error
}

func (s stubWallets) ListByUser(ctx context.Context, userID string) ([]wallet.Balance, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID)
}

func (s stubWallets) Ping(ctx context.Context) error {
	if s.pingFn == nil {
		return nil
	}
	return s.pingFn(ctx)
}

type stubTransactionStore struct {
	listByUserFn func(ctx context.Context, userID, category string, limit, offset int) ([]models.Transaction, error)
}

func (s stubTransactionStore) ListByUser(ctx context.Context, userID, category string, limit, offset int) ([]models.Transaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, category, limit, offset)
}

type stubBetStore struct {
	listByUserFn func(ctx context.Context, userID string, limit, offset int) ([]models.Bet, error)
}

func (s stubBetStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Bet, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

type stubSettlement struct {
	placeFn   func(ctx context.Context, req services.PlaceBetRequest) (services.BetResult, error)
	resolveFn func(ctx context.Context, req services.ResolveBetRequest) (services.BetResult, error)
}

func (s stubSettlement) PlaceBet(ctx context.Context, req services.PlaceBetRequest) (services.BetResult, error) {
	if s.placeFn == nil {
		return services.BetResult{}, nil
	}
	return s.placeFn(ctx, req)
}

func (s stubSettlement) ResolveBet(ctx context.Context, req services.ResolveBetRequest) (services.BetResult, error) {
	if s.resolveFn == nil {
		return services.BetResult{}, nil
	}
	return s.resolveFn(ctx, req)
}

type stubCancellations struct {
	cancelFn func(ctx context.Context, req services.CancelRequest) (services.CancellationResult, error)
}

func (s stubCancellations) Cancel(ctx context.Context, req services.CancelRequest) (services.CancellationResult, error) {
	if s.cancelFn == nil {
		return services.CancellationResult{}, nil
	}
	return s.cancelFn(ctx, req)
}

type stubFunds struct {
	depositFn  func(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error)
	withdrawFn func(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error)
	allocateFn func(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error)
	releaseFn  func(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error)
}

func (s stubFunds) Deposit(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error) {
	if s.depositFn == nil {
		return models.Transaction{}, services.BalanceInfo{}, nil
	}
	return s.depositFn(ctx, userID, amount, reference)
}

func (s stubFunds) Withdraw(ctx context.Context, userID string, amount int64, reference string) (models.Transaction, services.BalanceInfo, error) {
	if s.withdrawFn == nil {
		return models.Transaction{}, services.BalanceInfo{}, nil
	}
	return s.withdrawFn(ctx, userID, amount, reference)
}

func (s stubFunds) AllocateToCategory(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error) {
	if s.allocateFn == nil {
		return services.TransferResult{}, nil
	}
	return s.allocateFn(ctx, userID, category, amount)
}

func (s stubFunds) ReleaseFromCategory(ctx context.Context, userID, category string, amount int64) (services.TransferResult, error) {
	if s.releaseFn == nil {
		return services.TransferResult{}, nil
	}
	return s.releaseFn(ctx, userID, category, amount)
}

type stubRedemptions struct {
	requestFn func(ctx context.Context, userID string, amount int64) (models.Redemption, error)
	approveFn func(ctx context.Context, redemptionID, actor string) (models.Redemption, error)
	rejectFn  func(ctx context.Context, redemptionID, reason, actor string) (models.Redemption, error)
	sweepFn   func(ctx context.Context) (services.SweepResult, error)
}

func (s stubRedemptions) RequestRedemption(ctx context.Context, userID string, amount int64) (models.Redemption, error) {
	if s.requestFn == nil {
		return models.Redemption{}, nil
	}
	return s.requestFn(ctx, userID, amount)
}

func (s stubRedemptions) Approve(ctx context.Context, redemptionID, actor string) (models.Redemption, error) {
	if s.approveFn == nil {
		return models.Redemption{}, nil
	}
	return s.approveFn(ctx, redemptionID, actor)
}

func (s stubRedemptions) Reject(ctx context.Context, redemptionID, reason, actor string) (models.Redemption, error) {
	if s.rejectFn == nil {
		return models.Redemption{}, nil
	}
	return s.rejectFn(ctx, redemptionID, reason, actor)
}

func (s stubRedemptions) SweepLockedReleases(ctx context.Context) (services.SweepResult, error) {
	if s.sweepFn == nil {
		return services.SweepResult{}, nil
	}
	return s.sweepFn(ctx)
}

type stubReconciler struct {
	categoryFn func(ctx context.Context) ([]services.CategoryDrift, error)
	snapshotFn func(ctx context.Context) ([]store.SnapshotDrift, error)
}

func (s stubReconciler) ReconcileCategoryWallets(ctx context.Context) ([]services.CategoryDrift, error) {
	if s.categoryFn == nil {
		return nil, nil
	}
	return s.categoryFn(ctx)
}

func (s stubReconciler) SnapshotDrift(ctx context.Context) ([]store.SnapshotDrift, error) {
	if s.snapshotFn == nil {
		return nil, nil
	}
	return s.snapshotFn(ctx)
}

type stubAdminStore struct {
	accessFn func(ctx context.Context, userID, role string) (store.AdminAccess, error)
}

func (s stubAdminStore) Access(ctx context.Context, userID, role string) (store.AdminAccess, error) {
	if s.accessFn == nil {
		return store.AdminAccess{}, nil
	}
	return s.accessFn(ctx, userID, role)
}

type stubAuditStore struct {
	listFn func(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubLists struct {
	redemptionsFn func(ctx context.Context, userID string, limit, offset int) ([]models.Redemption, error)
	commissionsFn func(ctx context.Context, affiliateID string, limit, offset int) ([]models.Commission, error)
}

func (s stubLists) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Redemption, error) {
	if s.redemptionsFn == nil {
		return nil, nil
	}
	return s.redemptionsFn(ctx, userID, limit, offset)
}

func (s stubLists) ListCommissions(ctx context.Context, affiliateID string, limit, offset int) ([]models.Commission, error) {
	if s.commissionsFn == nil {
		return nil, nil
	}
	return s.commissionsFn(ctx, affiliateID, limit, offset)
}

type stubPinger struct {
	err error
}

func (s stubPinger) PingContext(context.Context) error {
	return s.err
}

// newTestHandler fills every dependency with a no-op stub; tests override
// the ones they exercise.
func newTestHandler(override func(*Deps)) *Handler {
	deps := Deps{
		DB:            stubPinger{},
		Balances:      stubBalances{},
		Wallets:       stubWallets{},
		Transactions:  stubTransactionStore{},
		Bets:          stubBetStore{},
		Settlement:    stubSettlement{},
		Cancellations: stubCancellations{},
		Funds:         stubFunds{},
		Redemptions:   stubRedemptions{},
		RedemptionLog: stubLists{},
		Commissions:   stubLists{},
		Reconciler:    stubReconciler{},
		Admin:         stubAdminStore{},
		Audit:         stubAuditStore{},
		Hub:           websocket.NewHub(),
	}
	if override != nil {
		override(&deps)
	}
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
		Currency:       "USD",
	}
	return New(cfg, deps, zerolog.Nop())
}

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

// serve sends a request through the full router as userID. An empty userID
// sends no token.
func serve(t *testing.T, h *Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			payload.WriteString(raw)
		} else if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+testToken(t, userID))
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func superAdmin() stubAdminStore {
	return stubAdminStore{accessFn: func(context.Context, string, string) (store.AdminAccess, error) {
		return store.AdminAccess{IsAdmin: true, IsSuper: true}, nil
	}}
}
