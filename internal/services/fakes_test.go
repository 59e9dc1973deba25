package services

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"ledger/internal/config"
	"ledger/internal/models"
	"ledger/internal/store"
	"ledger/internal/wallet"
	"ledger/internal/websocket"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// memLedger is an in-memory stand-in for the relational ledger. WithTx
// serializes units of work like the user row lock does and restores the
// previous state when the unit fails.
type memLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	txs           []models.Transaction
	bets          map[string]models.Bet
	games         map[string]models.Game
	cancellations map[string]models.CancellationRecord
	redemptions   map[string]models.Redemption
	commissions   []models.Commission
	uplines       map[string][]models.AffiliateRelationship
	snapshots     map[string]models.BalanceSnapshot
	audits        []string
}

func newMemLedger() *memLedger {
	return &memLedger{
		bets:          map[string]models.Bet{},
		games:         map[string]models.Game{},
		cancellations: map[string]models.CancellationRecord{},
		redemptions:   map[string]models.Redemption{},
		uplines:       map[string][]models.AffiliateRelationship{},
		snapshots:     map[string]models.BalanceSnapshot{},
	}
}

type memState struct {
	txs           []models.Transaction
	bets          map[string]models.Bet
	cancellations map[string]models.CancellationRecord
	redemptions   map[string]models.Redemption
	commissions   []models.Commission
	snapshots     map[string]models.BalanceSnapshot
	audits        []string
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memLedger) save() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memState{
		txs:           append([]models.Transaction(nil), m.txs...),
		bets:          cloneMap(m.bets),
		cancellations: cloneMap(m.cancellations),
		redemptions:   cloneMap(m.redemptions),
		commissions:   append([]models.Commission(nil), m.commissions...),
		snapshots:     cloneMap(m.snapshots),
		audits:        append([]string(nil), m.audits...),
	}
}

func (m *memLedger) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = s.txs
	m.bets = s.bets
	m.cancellations = s.cancellations
	m.redemptions = s.redemptions
	m.commissions = s.commissions
	m.snapshots = s.snapshots
	m.audits = s.audits
}

func (m *memLedger) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	saved := m.save()
	if err := fn(nil); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *memLedger) countTransactions(kind models.TransactionType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.txs {
		if t.Type == kind {
			n++
		}
	}
	return n
}

func (m *memLedger) transaction(id string) (models.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.ID == id {
			return t, true
		}
	}
	return models.Transaction{}, false
}

func (m *memLedger) bet(id string) models.Bet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bets[id]
}

type memTxStore struct{ *memLedger }

func (s memTxStore) Create(_ context.Context, _ store.Execer, in store.TransactionInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ExternalReference != nil {
		for _, t := range s.txs {
			if t.ExternalReference != nil && *t.ExternalReference == *in.ExternalReference {
				return &pq.Error{Code: "23505"}
			}
		}
	}
	s.txs = append(s.txs, models.Transaction{
		ID:                    in.ID,
		UserID:                in.UserID,
		Type:                  in.Type,
		Amount:                in.Amount,
		BalanceBefore:         in.BalanceBefore,
		BalanceAfter:          in.BalanceAfter,
		Currency:              in.Currency,
		Status:                models.TxStatusCompleted,
		Category:              in.Category,
		ExternalReference:     in.ExternalReference,
		ReversesTransactionID: in.ReversesTransactionID,
		Metadata:              in.Metadata,
	})
	return nil
}

func (s memTxStore) GetByReference(_ context.Context, reference string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.ExternalReference != nil && *t.ExternalReference == reference {
			return t, nil
		}
	}
	return models.Transaction{}, store.ErrNotFound
}

func (s memTxStore) GetByReferenceForUpdate(ctx context.Context, _ store.Getter, reference string) (models.Transaction, error) {
	return s.GetByReference(ctx, reference)
}

func (s memTxStore) MarkCancelled(_ context.Context, _ store.Execer, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.txs {
		if t.ID == id && t.Status == models.TxStatusCompleted {
			s.txs[i].Status = models.TxStatusCancelled
			return 1, nil
		}
	}
	return 0, nil
}

func (s memTxStore) CategoryTotals(context.Context) ([]store.CategoryTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[[2]string]int64{}
	for _, t := range s.txs {
		if t.Category == nil || t.Status != models.TxStatusCompleted || t.ReversesTransactionID != nil {
			continue
		}
		sums[[2]string{t.UserID, *t.Category}] += signed(t)
	}
	var out []store.CategoryTotal
	for k, v := range sums {
		out = append(out, store.CategoryTotal{UserID: k[0], Category: k[1], Total: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID+out[i].Category < out[j].UserID+out[j].Category })
	return out, nil
}

func signed(t models.Transaction) int64 {
	if t.Type == models.TxAdjustment {
		return t.Amount
	}
	return t.SignedAmount()
}

type memBalanceStore struct{ *memLedger }

func (s memBalanceStore) LockForUpdate(_ context.Context, _ store.Tx, userID, currency string) (models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.snapshots[userID]
	if !ok {
		row = models.BalanceSnapshot{UserID: userID, Currency: currency}
		s.snapshots[userID] = row
	}
	return row, nil
}

func (s memBalanceStore) MainTotals(_ context.Context, _ store.Getter, userID string) (store.MainTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := map[string]bool{}
	for _, b := range s.bets {
		if b.Outcome == models.OutcomePending {
			pending[b.TransactionID] = true
		}
	}
	var totals store.MainTotals
	for _, t := range s.txs {
		if t.UserID != userID || t.Category != nil || t.Status != models.TxStatusCompleted || t.ReversesTransactionID != nil {
			continue
		}
		if t.Type == models.TxBet && pending[t.ID] {
			totals.Locked += t.Amount
			continue
		}
		totals.Settled += signed(t)
	}
	return totals, nil
}

func (s memBalanceStore) AffiliateTotals(_ context.Context, _ store.Getter, userID string) (store.AffiliateTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var totals store.AffiliateTotals
	for _, c := range s.commissions {
		if c.AffiliateID == userID && (c.Status == models.CommissionApproved || c.Status == models.CommissionPaid) {
			totals.Earned += c.Amount
		}
	}
	for _, r := range s.redemptions {
		if r.UserID != userID || r.Status == models.RedemptionRejected {
			continue
		}
		totals.Redeemed += r.TotalAmount
		switch {
		case r.Status == models.RedemptionRequested:
			totals.Held += r.TotalAmount
		case r.LockedStatus == models.LockedLocked:
			totals.Held += r.LockedAmount
		}
	}
	return totals, nil
}

func (s memBalanceStore) SaveSnapshot(_ context.Context, _ store.Execer, snapshot models.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.UserID] = snapshot
	return nil
}

type memBetStore struct{ *memLedger }

func (s memBetStore) Create(_ context.Context, _ store.Execer, bet models.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[bet.ID] = bet
	return nil
}

func (s memBetStore) GetByID(_ context.Context, id string) (models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return models.Bet{}, store.ErrNotFound
	}
	return bet, nil
}

func (s memBetStore) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Bet, error) {
	return s.GetByID(ctx, id)
}

func (s memBetStore) GetByTransactionForUpdate(_ context.Context, _ store.Getter, txID string) (models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bets {
		if b.TransactionID == txID || (b.WinTransactionID != nil && *b.WinTransactionID == txID) {
			return b, nil
		}
	}
	return models.Bet{}, store.ErrNotFound
}

func (s memBetStore) Resolve(_ context.Context, _ store.Execer, id string, outcome models.BetOutcome, win int64, winTxID *string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok || bet.Outcome != models.OutcomePending {
		return 0, nil
	}
	bet.Outcome = outcome
	bet.WinAmount = win
	bet.WinTransactionID = winTxID
	bet.ResultAt = &at
	s.bets[id] = bet
	return 1, nil
}

func (s memBetStore) MarkCancelled(_ context.Context, _ store.Execer, id string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok || bet.Outcome == models.OutcomeCancelled {
		return 0, nil
	}
	bet.Outcome = models.OutcomeCancelled
	bet.ResultAt = &at
	s.bets[id] = bet
	return 1, nil
}

type memGameStore struct{ *memLedger }

func (s memGameStore) GetByID(_ context.Context, id string) (models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[id]
	if !ok {
		return models.Game{}, store.ErrNotFound
	}
	return game, nil
}

type memCancellationStore struct{ *memLedger }

func (s memCancellationStore) GetByReference(_ context.Context, _ store.Getter, reference string) (models.CancellationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cancellations[reference]
	if !ok {
		return models.CancellationRecord{}, store.ErrNotFound
	}
	return record, nil
}

func (s memCancellationStore) Create(_ context.Context, _ store.Execer, record models.CancellationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancellations[record.OriginalExternalReference]; ok {
		return &pq.Error{Code: "23505"}
	}
	s.cancellations[record.OriginalExternalReference] = record
	return nil
}

type memRedemptionStore struct{ *memLedger }

func (s memRedemptionStore) Create(_ context.Context, _ store.Execer, r models.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions[r.ID] = r
	return nil
}

func (s memRedemptionStore) GetByID(_ context.Context, id string) (models.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redemptions[id]
	if !ok {
		return models.Redemption{}, store.ErrNotFound
	}
	return r, nil
}

func (s memRedemptionStore) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Redemption, error) {
	return s.GetByID(ctx, id)
}

func (s memRedemptionStore) Approve(_ context.Context, _ store.Execer, id string, instantTxID *string, actor string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redemptions[id]
	if !ok || r.Status != models.RedemptionRequested {
		return 0, nil
	}
	r.Status = models.RedemptionApproved
	r.InstantStatus = models.InstantCompleted
	r.InstantTransactionID = instantTxID
	r.ProcessedBy = &actor
	r.UpdatedAt = at
	s.redemptions[id] = r
	return 1, nil
}

func (s memRedemptionStore) Reject(_ context.Context, _ store.Execer, id, reason, actor string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redemptions[id]
	if !ok || r.Status != models.RedemptionRequested {
		return 0, nil
	}
	r.Status = models.RedemptionRejected
	r.InstantStatus = models.InstantRejected
	r.LockedStatus = models.LockedCancelled
	r.RejectionReason = &reason
	r.ProcessedBy = &actor
	r.UpdatedAt = at
	s.redemptions[id] = r
	return 1, nil
}

func (s memRedemptionStore) ListDueForRelease(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.redemptions {
		if r.Status == models.RedemptionApproved && r.InstantStatus == models.InstantCompleted &&
			r.LockedStatus == models.LockedLocked && !r.UnlockDate.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s memRedemptionStore) MarkUnlocked(_ context.Context, _ store.Execer, id string, unlockTxID *string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.redemptions[id]
	if !ok || r.LockedStatus != models.LockedLocked || r.UnlockDate.After(now) {
		return 0, nil
	}
	r.LockedStatus = models.LockedUnlocked
	r.UnlockTransactionID = unlockTxID
	r.UpdatedAt = now
	s.redemptions[id] = r
	return 1, nil
}

type memCommissionStore struct{ *memLedger }

func (s memCommissionStore) ListUplines(_ context.Context, userID string, maxLevels int) ([]models.AffiliateRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AffiliateRelationship
	for _, rel := range s.uplines[userID] {
		if rel.Level <= maxLevels {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (s memCommissionStore) CreateCommission(_ context.Context, c models.Commission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.commissions {
		if existing.SourceTransactionID == c.SourceTransactionID && existing.AffiliateID == c.AffiliateID && existing.CommissionType == c.CommissionType {
			return false, nil
		}
	}
	s.commissions = append(s.commissions, c)
	return true, nil
}

func (s memCommissionStore) CancelBySource(_ context.Context, _ store.Execer, sourceTxID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, c := range s.commissions {
		if c.SourceTransactionID == sourceTxID && (c.Status == models.CommissionPending || c.Status == models.CommissionApproved) {
			s.commissions[i].Status = models.CommissionCancelled
			n++
		}
	}
	return n, nil
}

type memAuditStore struct{ *memLedger }

func (s memAuditStore) Log(_ context.Context, _ store.Execer, _, action, _, _ string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, action)
	return nil
}

type syncCommissionNotifier struct {
	engine *CommissionEngine
}

func (n syncCommissionNotifier) Notify(event CommissionEvent) {
	_, _ = n.engine.OnMonetaryEvent(context.Background(), event)
}

type stubHub struct {
	mu    sync.Mutex
	calls []websocket.BalanceUpdate
}

func (s *stubHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, update)
}

func (s *stubHub) last() websocket.BalanceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return websocket.BalanceUpdate{}
	}
	return s.calls[len(s.calls)-1]
}

// harness wires every service over one memLedger and a miniredis wallet.
type harness struct {
	ledger       *memLedger
	wallets      *wallet.Store
	redis        *miniredis.Miniredis
	hub          *stubHub
	balances     *BalanceCalculator
	settlement   *SettlementService
	cancellation *CancellationService
	redemption   *RedemptionService
	funds        *FundsService
	commissions  *CommissionEngine
	reconciler   *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ledger := newMemLedger()
	ledger.games["slots-1"] = models.Game{ID: "slots-1", Name: "Fruit", Category: "slots", MinBet: 100, MaxBet: 100000, IsActive: true}
	ledger.games["closed"] = models.Game{ID: "closed", Name: "Old", Category: "slots", MinBet: 100, MaxBet: 1000}

	log := zerolog.Nop()
	wallets := wallet.New(rdb, time.Hour)
	hub := &stubHub{}
	balances := NewBalanceCalculator(ledger, memBalanceStore{ledger}, memTxStore{ledger}, "USD")
	engine := NewCommissionEngine(memCommissionStore{ledger}, config.CommissionConfig{
		MaxLevels: 2,
		Levels: []config.CommissionLevel{
			{Level: 1, BetRevenue: decimal.RequireFromString("1"), WinRevenue: decimal.RequireFromString("2"), LossRevenue: decimal.RequireFromString("10")},
			{Level: 2, BetRevenue: decimal.RequireFromString("0.5"), LossRevenue: decimal.RequireFromString("5")},
		},
	}, log)

	return &harness{
		ledger:      ledger,
		wallets:     wallets,
		redis:       mr,
		hub:         hub,
		balances:    balances,
		commissions: engine,
		settlement: NewSettlementService(ledger, balances, memBetStore{ledger}, memGameStore{ledger},
			wallets, hub, syncCommissionNotifier{engine}, log),
		cancellation: NewCancellationService(ledger, balances, memTxStore{ledger}, memBetStore{ledger},
			memCancellationStore{ledger}, memCommissionStore{ledger}, memAuditStore{ledger}, wallets, hub, log),
		redemption: NewRedemptionService(ledger, balances, memRedemptionStore{ledger}, memAuditStore{ledger}, hub,
			config.RedemptionConfig{MinimumMinor: 1000, InstantPct: decimal.NewFromInt(50), LockDays: 7}, log),
		funds:      NewFundsService(ledger, balances, wallets, hub, log),
		reconciler: NewReconciler(memTxStore{ledger}, wallets, nil, log),
	}
}

func (h *harness) deposit(t *testing.T, userID string, amount int64) {
	t.Helper()
	if _, _, err := h.funds.Deposit(context.Background(), userID, amount, ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) mainBalance(t *testing.T, userID string) BalanceInfo {
	t.Helper()
	info, err := h.balances.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return info
}

func (h *harness) categoryBalance(t *testing.T, userID, category string) int64 {
	t.Helper()
	v, err := h.wallets.Get(context.Background(), userID, category)
	if err != nil {
		t.Fatalf("get category balance: %v", err)
	}
	return v
}

type fixedOutcome struct {
	outcome models.BetOutcome
	win     int64
	err     error
}

func (f fixedOutcome) Outcome(context.Context, models.Bet) (models.BetOutcome, int64, error) {
	return f.outcome, f.win, f.err
}

// captureLog returns a JSON logger and a decoder for the lines written to it
// so far.
func captureLog(t *testing.T) (zerolog.Logger, func() []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	entries := func() []map[string]any {
		var out []map[string]any
		for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			var entry map[string]any
			if err := json.Unmarshal(line, &entry); err != nil {
				t.Fatalf("decode log line %q: %v", line, err)
			}
			out = append(out, entry)
		}
		return out
	}
	return zerolog.New(&buf), entries
}
