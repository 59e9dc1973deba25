package store

import (
	"context"

	"ledger/internal/models"
)

type BalanceStore struct {
	db DB
}

// MainTotals is the main wallet as derived from the transaction log.
type MainTotals struct {
	Settled int64 `db:"settled"`
	Locked  int64 `db:"locked"`
}

func (t MainTotals) Available() int64 {
	return t.Settled - t.Locked
}

// AffiliateTotals is the affiliate wallet as derived from commissions and
// redemptions.
type AffiliateTotals struct {
	Earned   int64 `db:"earned"`
	Redeemed int64 `db:"redeemed"`
	Held     int64 `db:"held"`
}

func (t AffiliateTotals) Available() int64 {
	return t.Earned - t.Redeemed
}

// SnapshotDrift is one user_balances row whose cached values disagree with
// the log.
type SnapshotDrift struct {
	UserID           string `db:"user_id" json:"user_id"`
	StoredBalance    int64  `db:"stored_balance" json:"stored_balance"`
	DerivedBalance   int64  `db:"derived_balance" json:"derived_balance"`
	StoredLocked     int64  `db:"stored_locked" json:"stored_locked"`
	DerivedLocked    int64  `db:"derived_locked" json:"derived_locked"`
	StoredAffiliate  int64  `db:"stored_affiliate" json:"stored_affiliate"`
	DerivedAffiliate int64  `db:"derived_affiliate" json:"derived_affiliate"`
}

func NewBalanceStore(db DB) *BalanceStore {
	return &BalanceStore{db: db}
}

// A bet transaction counts as locked while its bet is pending. One without a
// bet row yet is settled.
const pendingStakeSQL = `t.type = 'bet' AND COALESCE(b.outcome, '') = 'pending'`

const mainTotalsQuery = `
	SELECT COALESCE(SUM(` + signedAmountSQL + `) FILTER (WHERE NOT (` + pendingStakeSQL + `)), 0) AS settled,
	       COALESCE(SUM(t.amount) FILTER (WHERE ` + pendingStakeSQL + `), 0) AS locked
	FROM transactions t
	LEFT JOIN bets b ON b.transaction_id = t.id
	WHERE t.user_id = $1
	  AND t.category IS NULL
	  AND t.status = 'completed'
	  AND t.reverses_transaction_id IS NULL
`

const affiliateTotalsQuery = `
	SELECT
	    (SELECT COALESCE(SUM(amount), 0)
	     FROM affiliate_commissions
	     WHERE affiliate_id = $1 AND status IN ('approved', 'paid')) AS earned,
	    (SELECT COALESCE(SUM(total_amount), 0)
	     FROM affiliate_redemptions
	     WHERE user_id = $1 AND status <> 'rejected') AS redeemed,
	    (SELECT COALESCE(SUM(CASE WHEN status = 'requested' THEN total_amount ELSE locked_amount END), 0)
	     FROM affiliate_redemptions
	     WHERE user_id = $1
	       AND (status = 'requested' OR (status = 'approved' AND locked_status = 'locked'))) AS held
`

// LockForUpdate creates the snapshot row on first touch and locks it for the
// rest of the transaction. Every write for the user serializes on this row.
func (s *BalanceStore) LockForUpdate(ctx context.Context, tx Tx, userID, currency string) (models.BalanceSnapshot, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, currency)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	var row models.BalanceSnapshot
	err = tx.GetContext(ctx, &row, `
		SELECT user_id, currency, balance, locked_balance, affiliate_balance, affiliate_locked, updated_at
		FROM user_balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	return row, nil
}

// MainTotals derives the main wallet. Pass the open transaction to read
// behind the snapshot lock, or nil to read from the pool.
func (s *BalanceStore) MainTotals(ctx context.Context, q Getter, userID string) (MainTotals, error) {
	if q == nil {
		q = s.db
	}
	var row MainTotals
	if err := q.GetContext(ctx, &row, mainTotalsQuery, userID); err != nil {
		return MainTotals{}, err
	}
	return row, nil
}

func (s *BalanceStore) AffiliateTotals(ctx context.Context, q Getter, userID string) (AffiliateTotals, error) {
	if q == nil {
		q = s.db
	}
	var row AffiliateTotals
	if err := q.GetContext(ctx, &row, affiliateTotalsQuery, userID); err != nil {
		return AffiliateTotals{}, err
	}
	return row, nil
}

func (s *BalanceStore) SaveSnapshot(ctx context.Context, tx Execer, snapshot models.BalanceSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, currency, balance, locked_balance, affiliate_balance, affiliate_locked, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    locked_balance = EXCLUDED.locked_balance,
		    affiliate_balance = EXCLUDED.affiliate_balance,
		    affiliate_locked = EXCLUDED.affiliate_locked,
		    updated_at = NOW()
	`, snapshot.UserID, snapshot.Currency, snapshot.Balance, snapshot.LockedBalance,
		snapshot.AffiliateBalance, snapshot.AffiliateLocked)
	return err
}

func (s *BalanceStore) GetSnapshot(ctx context.Context, userID string) (models.BalanceSnapshot, error) {
	var row models.BalanceSnapshot
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, currency, balance, locked_balance, affiliate_balance, affiliate_locked, updated_at
		FROM user_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.BalanceSnapshot{}, notFound(err)
	}
	return row, nil
}

// ListDrift compares every snapshot row against the log and returns the rows
// that disagree.
func (s *BalanceStore) ListDrift(ctx context.Context) ([]SnapshotDrift, error) {
	var rows []SnapshotDrift
	err := s.db.SelectContext(ctx, &rows, `
		WITH main AS (
			SELECT t.user_id,
			       COALESCE(SUM(`+signedAmountSQL+`) FILTER (WHERE NOT (`+pendingStakeSQL+`)), 0) AS settled,
			       COALESCE(SUM(t.amount) FILTER (WHERE `+pendingStakeSQL+`), 0) AS locked
			FROM transactions t
			LEFT JOIN bets b ON b.transaction_id = t.id
			WHERE t.category IS NULL
			  AND t.status = 'completed'
			  AND t.reverses_transaction_id IS NULL
			GROUP BY t.user_id
		),
		earned AS (
			SELECT affiliate_id AS user_id, SUM(amount) AS total
			FROM affiliate_commissions
			WHERE status IN ('approved', 'paid')
			GROUP BY affiliate_id
		),
		redeemed AS (
			SELECT user_id, SUM(total_amount) AS total
			FROM affiliate_redemptions
			WHERE status <> 'rejected'
			GROUP BY user_id
		)
		SELECT ub.user_id,
		       ub.balance AS stored_balance,
		       COALESCE(m.settled - m.locked, 0) AS derived_balance,
		       ub.locked_balance AS stored_locked,
		       COALESCE(m.locked, 0) AS derived_locked,
		       ub.affiliate_balance AS stored_affiliate,
		       COALESCE(e.total, 0) - COALESCE(r.total, 0) AS derived_affiliate
		FROM user_balances ub
		LEFT JOIN main m ON m.user_id = ub.user_id
		LEFT JOIN earned e ON e.user_id = ub.user_id
		LEFT JOIN redeemed r ON r.user_id = ub.user_id
		WHERE ub.balance <> COALESCE(m.settled - m.locked, 0)
		   OR ub.locked_balance <> COALESCE(m.locked, 0)
		   OR ub.affiliate_balance <> COALESCE(e.total, 0) - COALESCE(r.total, 0)
		ORDER BY ub.user_id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
