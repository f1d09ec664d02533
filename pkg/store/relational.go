// Package store implements the two durable adapters the pipeline depends
// on: a relational store (SQLite, schema-bound, short-lived transactions
// per call) and a graph store (Neo4j, wallet/cluster nodes and the
// FUNDED_BY/CORRELATED_WITH/MEMBER_OF edges between them).
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tx_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet_address TEXT NOT NULL,
    program_id TEXT,
    tx_hash TEXT NOT NULL,
    slot INTEGER NOT NULL,
    event_time TIMESTAMP NOT NULL,
    action TEXT,
    UNIQUE(tx_hash, wallet_address)
);

CREATE TABLE IF NOT EXISTS tracked_wallets (
    address TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    metadata TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS fresh_clusters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cex_source TEXT,
    withdrawal_tx TEXT,
    withdrawal_time TIMESTAMP,
    amount TEXT,
    decimals INTEGER,
    target_wallet TEXT,
    target_tx_count INTEGER,
    time_delta_ms INTEGER,
    match_score TEXT,
    linked_parent TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sim_results (
    token_mint TEXT UNIQUE,
    program_id TEXT,
    sim_time TIMESTAMP,
    buy_success BOOLEAN,
    sell_success BOOLEAN,
    buy_error TEXT,
    sell_error TEXT,
    is_honeypot BOOLEAN,
    notes TEXT,
    buy_tax TEXT,
    sell_tax TEXT,
    risk_classification TEXT
);

CREATE TABLE IF NOT EXISTS circuit_breaker_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    is_locked BOOLEAN NOT NULL DEFAULT FALSE,
    locked_at TIMESTAMP,
    lock_reason TEXT,
    unlock_at TIMESTAMP,
    daily_pnl TEXT NOT NULL DEFAULT '0',
    daily_pnl_pct TEXT NOT NULL DEFAULT '0',
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    open_position_count INTEGER NOT NULL DEFAULT 0,
    total_exposure TEXT NOT NULL DEFAULT '0',
    last_trade_time TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sub_wallets (
    wallet_id TEXT PRIMARY KEY,
    address TEXT UNIQUE NOT NULL,
    encrypted_key TEXT NOT NULL,
    balance_sol TEXT NOT NULL DEFAULT '0',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    is_retired BOOLEAN NOT NULL DEFAULT FALSE,
    total_trades INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_used TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trade_log (
    trade_id TEXT PRIMARY KEY,
    signal_source TEXT,
    signal_id TEXT,
    token_mint TEXT NOT NULL,
    entry_price TEXT,
    exit_price TEXT,
    position_size TEXT,
    position_size_sol TEXT,
    entry_time TIMESTAMP,
    exit_time TIMESTAMP,
    exit_tier TEXT,
    realized_pnl TEXT,
    pnl_percentage TEXT,
    fees_paid TEXT DEFAULT '0',
    status TEXT NOT NULL DEFAULT 'open',
    failure_reason TEXT,
    sub_wallet_address TEXT,
    bundle_id TEXT,
    slippage_expected TEXT,
    slippage_actual TEXT
);

CREATE TABLE IF NOT EXISTS signal_attribution (
    source_id TEXT PRIMARY KEY,
    source_type TEXT NOT NULL,
    source_name TEXT,
    total_trades INTEGER NOT NULL DEFAULT 0,
    winning_trades INTEGER NOT NULL DEFAULT 0,
    losing_trades INTEGER NOT NULL DEFAULT 0,
    total_pnl TEXT NOT NULL DEFAULT '0',
    avg_pnl_percentage TEXT NOT NULL DEFAULT '0',
    win_rate TEXT NOT NULL DEFAULT '0',
    best_trade_pnl TEXT NOT NULL DEFAULT '0',
    worst_trade_pnl TEXT NOT NULL DEFAULT '0',
    last_trade_time TIMESTAMP,
    last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trade_forensics (
    forensic_id TEXT PRIMARY KEY,
    trade_id TEXT NOT NULL,
    failure_category TEXT NOT NULL,
    detected_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    details TEXT DEFAULT '{}',
    was_simulation_run BOOLEAN,
    simulation_result TEXT,
    time_since_simulation INTEGER,
    expected_output TEXT,
    actual_output TEXT,
    slippage_pct TEXT,
    signal_confidence TEXT
);

CREATE INDEX IF NOT EXISTS idx_tx_events_program ON tx_events(program_id, slot);
CREATE INDEX IF NOT EXISTS idx_tx_events_wallet ON tx_events(wallet_address);
CREATE INDEX IF NOT EXISTS idx_fresh_clusters_target ON fresh_clusters(target_wallet);
CREATE INDEX IF NOT EXISTS idx_trade_log_status ON trade_log(status);
CREATE INDEX IF NOT EXISTS idx_trade_log_token ON trade_log(token_mint);
`

// Store is the relational adapter. It holds a pooled *sql.DB; every method
// below runs a short-lived query or transaction and never holds the
// connection across an I/O suspension point owned by another component.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ---- tx_events ----

func (s *Store) RecordTxEvent(e model.CorrelationEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO tx_events (wallet_address, program_id, tx_hash, slot, event_time, action)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash, wallet_address) DO NOTHING`,
		e.Wallet, e.Contract, e.TxID, e.Slot, e.Timestamp, e.Action)
	return err
}

// TxEventsInSlotRange returns every recorded event for a program within an
// inclusive slot range, capped at limit.
func (s *Store) TxEventsInSlotRange(programID string, lo, hi int64, limit int) ([]model.CorrelationEvent, error) {
	rows, err := s.db.Query(`
		SELECT wallet_address, program_id, tx_hash, slot, event_time, COALESCE(action,'')
		FROM tx_events WHERE program_id=? AND slot BETWEEN ? AND ? LIMIT ?`,
		programID, lo, hi, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CorrelationEvent
	for rows.Next() {
		var e model.CorrelationEvent
		if err := rows.Scan(&e.Wallet, &e.Contract, &e.TxID, &e.Slot, &e.Timestamp, &e.Action); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// PairOrderingStats returns how many times wallet a transacted on program
// before wallet b (within the slot window) versus the total paired count.
func (s *Store) PairOrderingStats(programID, a, b string, window int64) (beforeCount, total int64, err error) {
	row := s.db.QueryRow(`
		WITH a_tx AS (SELECT slot FROM tx_events WHERE wallet_address=? AND program_id=?),
		     b_tx AS (SELECT slot FROM tx_events WHERE wallet_address=? AND program_id=?)
		SELECT
			(SELECT COUNT(*) FROM a_tx, b_tx WHERE a_tx.slot < b_tx.slot AND ABS(a_tx.slot - b_tx.slot) <= ?),
			(SELECT COUNT(*) FROM a_tx, b_tx WHERE ABS(a_tx.slot - b_tx.slot) <= ?)`,
		a, programID, b, programID, window, window)
	err = row.Scan(&beforeCount, &total)
	return
}

// SharedContractCount counts distinct contracts both wallets interacted
// with at or after minSlot.
func (s *Store) SharedContractCount(a, b string, minSlot int64) (int, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(DISTINCT x.program_id) FROM tx_events x
		WHERE x.wallet_address = ? AND x.slot >= ? AND x.program_id IN (
			SELECT DISTINCT program_id FROM tx_events WHERE wallet_address = ? AND slot >= ?
		)`, a, minSlot, b, minSlot)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ---- tracked_wallets ----

func (s *Store) UpsertTrackedWallet(address, category string, confidence decimal.Decimal, metadataJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO tracked_wallets (address, category, confidence, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET confidence=excluded.confidence, metadata=excluded.metadata`,
		address, category, confidence.String(), metadataJSON)
	return err
}

func (s *Store) EscalateConfidence(address string, delta decimal.Decimal) error {
	_, err := s.db.Exec(`
		UPDATE tracked_wallets SET confidence = MIN(1.0, CAST(confidence AS REAL) + ?) WHERE address = ?`,
		delta.InexactFloat64(), address)
	return err
}

type TrackedWallet struct {
	Address    string
	Category   string
	Confidence decimal.Decimal
	Metadata   string
}

func (s *Store) TrackedWalletsByCategory(category string) ([]TrackedWallet, error) {
	rows, err := s.db.Query(`SELECT address, category, confidence, COALESCE(metadata,'{}') FROM tracked_wallets WHERE category=?`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedWallet
	for rows.Next() {
		var w TrackedWallet
		var conf float64
		if err := rows.Scan(&w.Address, &w.Category, &conf, &w.Metadata); err != nil {
			continue
		}
		w.Confidence = decimal.NewFromFloat(conf)
		out = append(out, w)
	}
	return out, nil
}

// ---- fresh_clusters ----

func (s *Store) InsertFreshMatch(m model.FreshWalletMatch) error {
	_, err := s.db.Exec(`
		INSERT INTO fresh_clusters (cex_source, withdrawal_tx, withdrawal_time, amount, decimals, target_wallet, target_tx_count, time_delta_ms, match_score, linked_parent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Withdrawal.SourceExchangeName, m.Withdrawal.TxID, m.Withdrawal.Timestamp,
		m.Withdrawal.Amount.String(), m.Withdrawal.Decimals, m.FundedWallet,
		0, m.DeltaTimeMs, m.Score.String(), m.ParentClusterID)
	return err
}

type FreshCandidate struct {
	Address       string
	FirstFundedAt time.Time
	FirstAmount   decimal.Decimal
	PriorTxCount  int64
}

// FreshWalletCandidates finds wallets tagged 'fresh_wallet' first funded
// within the given window and amount tolerance.
func (s *Store) FreshWalletCandidates(windowStart, windowEnd time.Time, amountLo, amountHi decimal.Decimal, limit int) ([]FreshCandidate, error) {
	rows, err := s.db.Query(`
		SELECT w.address, t.event_time, t.action,
		       (SELECT COUNT(*) FROM tx_events p WHERE p.wallet_address = w.address) AS tx_count
		FROM tracked_wallets w
		JOIN tx_events t ON t.wallet_address = w.address
		WHERE w.category = 'fresh_wallet' AND t.event_time BETWEEN ? AND ?
		LIMIT ?`, windowStart, windowEnd, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FreshCandidate
	for rows.Next() {
		var c FreshCandidate
		var amountStr string
		if err := rows.Scan(&c.Address, &c.FirstFundedAt, &amountStr, &c.PriorTxCount); err != nil {
			continue
		}
		amt, err := decimal.NewFromString(amountStr)
		if err != nil {
			continue
		}
		if amt.LessThan(amountLo) || amt.GreaterThan(amountHi) {
			continue
		}
		c.FirstAmount = amt
		out = append(out, c)
	}
	return out, nil
}

// ---- sim_results ----

func (s *Store) UpsertSimResult(r model.SimulationResult) error {
	_, err := s.db.Exec(`
		INSERT INTO sim_results (token_mint, sim_time, buy_success, sell_success, sell_error, is_honeypot, notes, buy_tax, sell_tax, risk_classification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_mint) DO UPDATE SET
			sim_time=excluded.sim_time, buy_success=excluded.buy_success, sell_success=excluded.sell_success,
			sell_error=excluded.sell_error, is_honeypot=excluded.is_honeypot, notes=excluded.notes,
			buy_tax=excluded.buy_tax, sell_tax=excluded.sell_tax, risk_classification=excluded.risk_classification`,
		r.TokenMint, r.SimTime, r.BuySuccess, r.SellSuccess, r.SellError, r.IsHoneypot, r.Notes,
		r.BuyTax.String(), r.SellTax.String(), string(r.RiskClass))
	return err
}

func (s *Store) RecentSimResult(tokenMint string, freshness time.Duration) (*model.SimulationResult, error) {
	row := s.db.QueryRow(`
		SELECT token_mint, sim_time, buy_success, sell_success, COALESCE(sell_error,''), is_honeypot,
		       COALESCE(notes,''), buy_tax, sell_tax, risk_classification
		FROM sim_results WHERE token_mint = ? AND sim_time > ?`,
		tokenMint, time.Now().Add(-freshness))

	var r model.SimulationResult
	var buyTax, sellTax, riskClass string
	if err := row.Scan(&r.TokenMint, &r.SimTime, &r.BuySuccess, &r.SellSuccess, &r.SellError, &r.IsHoneypot,
		&r.Notes, &buyTax, &sellTax, &riskClass); err != nil {
		return nil, err
	}
	r.BuyTax, _ = decimal.NewFromString(buyTax)
	r.SellTax, _ = decimal.NewFromString(sellTax)
	r.RiskClass = model.RiskClass(riskClass)
	return &r, nil
}

// ---- circuit_breaker_state ----

func (s *Store) LoadCircuitBreakerState() (model.CircuitBreakerState, error) {
	row := s.db.QueryRow(`
		SELECT is_locked, COALESCE(locked_at, CURRENT_TIMESTAMP), COALESCE(lock_reason,''),
		       COALESCE(unlock_at, CURRENT_TIMESTAMP), daily_pnl, daily_pnl_pct, consecutive_losses,
		       open_position_count, total_exposure, COALESCE(last_trade_time, CURRENT_TIMESTAMP)
		FROM circuit_breaker_state WHERE id = 1`)

	var st model.CircuitBreakerState
	var dailyPnL, dailyPnLPct, exposure string
	err := row.Scan(&st.IsLocked, &st.LockedAt, &st.LockReason, &st.UnlockAt, &dailyPnL, &dailyPnLPct,
		&st.ConsecutiveLosses, &st.OpenPositionCount, &exposure, &st.LastTradeTime)
	if err == sql.ErrNoRows {
		return model.CircuitBreakerState{DailyPnL: decimal.Zero, DailyPnLPct: decimal.Zero, TotalExposure: decimal.Zero}, nil
	}
	if err != nil {
		return model.CircuitBreakerState{}, err
	}
	st.DailyPnL, _ = decimal.NewFromString(dailyPnL)
	st.DailyPnLPct, _ = decimal.NewFromString(dailyPnLPct)
	st.TotalExposure, _ = decimal.NewFromString(exposure)
	return st, nil
}

func (s *Store) SaveCircuitBreakerState(st model.CircuitBreakerState) error {
	_, err := s.db.Exec(`
		INSERT INTO circuit_breaker_state (id, is_locked, locked_at, lock_reason, unlock_at, daily_pnl, daily_pnl_pct,
			consecutive_losses, open_position_count, total_exposure, last_trade_time, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			is_locked=excluded.is_locked, locked_at=excluded.locked_at, lock_reason=excluded.lock_reason,
			unlock_at=excluded.unlock_at, daily_pnl=excluded.daily_pnl, daily_pnl_pct=excluded.daily_pnl_pct,
			consecutive_losses=excluded.consecutive_losses, open_position_count=excluded.open_position_count,
			total_exposure=excluded.total_exposure, last_trade_time=excluded.last_trade_time, updated_at=CURRENT_TIMESTAMP`,
		st.IsLocked, st.LockedAt, st.LockReason, st.UnlockAt, st.DailyPnL.String(), st.DailyPnLPct.String(),
		st.ConsecutiveLosses, st.OpenPositionCount, st.TotalExposure.String(), st.LastTradeTime)
	return err
}

// ---- sub_wallets ----

func (s *Store) InsertSubWallet(w model.SubWallet) error {
	_, err := s.db.Exec(`
		INSERT INTO sub_wallets (wallet_id, address, encrypted_key, balance_sol, is_active, is_retired, total_trades, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.WalletID, w.Address, w.EncryptedKey, w.BalanceSOL.String(), w.IsActive, w.IsRetired, w.TotalTrades, w.CreatedAt)
	return err
}

func (s *Store) AvailableSubWallet(minBalance decimal.Decimal) (*model.SubWallet, error) {
	row := s.db.QueryRow(`
		SELECT wallet_id, address, encrypted_key, balance_sol, is_active, is_retired, total_trades, created_at, COALESCE(last_used, created_at)
		FROM sub_wallets
		WHERE is_active = TRUE AND is_retired = FALSE AND CAST(balance_sol AS REAL) >= ?
		ORDER BY last_used ASC NULLS FIRST LIMIT 1`, minBalance.InexactFloat64())

	var w model.SubWallet
	var balance string
	if err := row.Scan(&w.WalletID, &w.Address, &w.EncryptedKey, &balance, &w.IsActive, &w.IsRetired, &w.TotalTrades, &w.CreatedAt, &w.LastUsed); err != nil {
		return nil, err
	}
	w.BalanceSOL, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *Store) SubWalletByID(walletID string) (*model.SubWallet, error) {
	row := s.db.QueryRow(`
		SELECT wallet_id, address, encrypted_key, balance_sol, is_active, is_retired, total_trades, created_at, COALESCE(last_used, created_at)
		FROM sub_wallets WHERE wallet_id = ?`, walletID)

	var w model.SubWallet
	var balance string
	if err := row.Scan(&w.WalletID, &w.Address, &w.EncryptedKey, &balance, &w.IsActive, &w.IsRetired, &w.TotalTrades, &w.CreatedAt, &w.LastUsed); err != nil {
		return nil, err
	}
	w.BalanceSOL, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *Store) SubWalletIDByAddress(address string) (string, error) {
	var walletID string
	err := s.db.QueryRow(`SELECT wallet_id FROM sub_wallets WHERE address = ?`, address).Scan(&walletID)
	return walletID, err
}

func (s *Store) MarkSubWalletUsed(walletID string) error {
	_, err := s.db.Exec(`UPDATE sub_wallets SET total_trades = total_trades + 1, last_used = CURRENT_TIMESTAMP WHERE wallet_id = ?`, walletID)
	return err
}

func (s *Store) RetireSubWallet(walletID string) error {
	_, err := s.db.Exec(`UPDATE sub_wallets SET is_retired = TRUE, is_active = FALSE WHERE wallet_id = ?`, walletID)
	return err
}

func (s *Store) RetiredSubWalletBalances() (decimal.Decimal, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(CAST(balance_sol AS REAL)), 0) FROM sub_wallets WHERE is_retired = TRUE`)
	var total float64
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(total), nil
}

type PoolStatus struct {
	ActiveCount  int
	RetiredCount int
	TotalBalance decimal.Decimal
}

func (s *Store) SubWalletPoolStatus() (PoolStatus, error) {
	row := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE is_active = TRUE AND is_retired = FALSE),
			COUNT(*) FILTER (WHERE is_retired = TRUE),
			COALESCE(SUM(CAST(balance_sol AS REAL)), 0)
		FROM sub_wallets`)
	var ps PoolStatus
	var total float64
	if err := row.Scan(&ps.ActiveCount, &ps.RetiredCount, &total); err != nil {
		return PoolStatus{}, err
	}
	ps.TotalBalance = decimal.NewFromFloat(total)
	return ps, nil
}

// ---- trade_log ----

func (s *Store) InsertTradeLogOpen(t model.TradeLog) error {
	_, err := s.db.Exec(`
		INSERT INTO trade_log (trade_id, signal_source, signal_id, token_mint, entry_price, position_size,
			position_size_sol, entry_time, status, sub_wallet_address, bundle_id, slippage_expected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?)`,
		t.TradeID, string(t.SignalSource), t.SignalID, t.TokenMint, t.EntryPrice.String(),
		t.PositionSizeToken.String(), t.PositionSizeSOL.String(), t.EntryTime, t.SubWalletAddress, t.BundleID,
		t.SlippageExpected.String())
	return err
}

func (s *Store) CloseTradeLog(tradeID string, exitPrice, realizedPnL, pnlPct, slippageActual decimal.Decimal, tier model.ExitTier, status model.TradeStatus) error {
	_, err := s.db.Exec(`
		UPDATE trade_log SET status=?, exit_time=CURRENT_TIMESTAMP, exit_price=?, exit_tier=?,
			realized_pnl=?, pnl_percentage=?, slippage_actual=? WHERE trade_id=?`,
		string(status), exitPrice.String(), string(tier), realizedPnL.String(), pnlPct.String(),
		slippageActual.String(), tradeID)
	return err
}

func (s *Store) GetTradeLog(tradeID string) (*model.TradeLog, error) {
	row := s.db.QueryRow(`
		SELECT trade_id, signal_source, signal_id, token_mint, COALESCE(entry_price,'0'), COALESCE(exit_price,'0'),
		       COALESCE(position_size,'0'), COALESCE(position_size_sol,'0'), entry_time, COALESCE(exit_time, entry_time),
		       COALESCE(exit_tier,''), COALESCE(realized_pnl,'0'), COALESCE(pnl_percentage,'0'), COALESCE(fees_paid,'0'),
		       status, COALESCE(failure_reason,''), COALESCE(sub_wallet_address,''),
		       COALESCE(slippage_expected,'0'), COALESCE(slippage_actual,'0')
		FROM trade_log WHERE trade_id=?`, tradeID)
	return scanTradeLog(row)
}

func (s *Store) OpenTradeLogs() ([]model.TradeLog, error) {
	rows, err := s.db.Query(`
		SELECT trade_id, signal_source, signal_id, token_mint, COALESCE(entry_price,'0'), COALESCE(exit_price,'0'),
		       COALESCE(position_size,'0'), COALESCE(position_size_sol,'0'), entry_time, COALESCE(exit_time, entry_time),
		       COALESCE(exit_tier,''), COALESCE(realized_pnl,'0'), COALESCE(pnl_percentage,'0'), COALESCE(fees_paid,'0'),
		       status, COALESCE(failure_reason,''), COALESCE(sub_wallet_address,''),
		       COALESCE(slippage_expected,'0'), COALESCE(slippage_actual,'0')
		FROM trade_log WHERE status='open'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeLog
	for rows.Next() {
		t, err := scanTradeLogRows(rows)
		if err != nil {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTradeLog(row rowScanner) (*model.TradeLog, error) {
	return scanTradeLogRows(row)
}

func scanTradeLogRows(row rowScanner) (*model.TradeLog, error) {
	var t model.TradeLog
	var source, entryPrice, exitPrice, posSize, posSizeSOL, tier, pnl, pnlPct, fees, slipExp, slipAct string
	var status string
	err := row.Scan(&t.TradeID, &source, &t.SignalID, &t.TokenMint, &entryPrice, &exitPrice, &posSize, &posSizeSOL,
		&t.EntryTime, &t.ExitTime, &tier, &pnl, &pnlPct, &fees, &status, &t.FailureReason, &t.SubWalletAddress,
		&slipExp, &slipAct)
	if err != nil {
		return nil, err
	}
	t.SignalSource = model.SignalSource(source)
	t.Status = model.TradeStatus(status)
	t.ExitTier = model.ExitTier(tier)
	t.EntryPrice, _ = decimal.NewFromString(entryPrice)
	t.ExitPrice, _ = decimal.NewFromString(exitPrice)
	t.PositionSizeToken, _ = decimal.NewFromString(posSize)
	t.PositionSizeSOL, _ = decimal.NewFromString(posSizeSOL)
	t.RealizedPnL, _ = decimal.NewFromString(pnl)
	t.PnLPercentage, _ = decimal.NewFromString(pnlPct)
	t.FeesPaid, _ = decimal.NewFromString(fees)
	t.SlippageExpected, _ = decimal.NewFromString(slipExp)
	t.SlippageActual, _ = decimal.NewFromString(slipAct)
	return &t, nil
}

func (s *Store) PanicMarkAllOpen(tier model.ExitTier) ([]string, error) {
	rows, err := s.db.Query(`SELECT trade_id FROM trade_log WHERE status='open'`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE trade_log SET status='panic_sold', exit_tier=?, exit_time=CURRENT_TIMESTAMP WHERE trade_id=?`, string(tier), id); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// ---- signal_attribution ----

func (s *Store) UpdateSourceStats(sourceID, sourceType, sourceName string, pnl decimal.Decimal, isWin bool, holdHours decimal.Decimal) error {
	var exists bool
	row := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM signal_attribution WHERE source_id = ?)`, sourceID)
	if err := row.Scan(&exists); err != nil {
		return err
	}

	if !exists {
		winning, losing := 0, 0
		if isWin {
			winning = 1
		} else {
			losing = 1
		}
		winRate := 0.0
		if isWin {
			winRate = 1.0
		}
		_, err := s.db.Exec(`
			INSERT INTO signal_attribution (source_id, source_type, source_name, total_trades, winning_trades,
				losing_trades, total_pnl, avg_pnl_percentage, win_rate, best_trade_pnl, worst_trade_pnl,
				last_trade_time, last_updated)
			VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			sourceID, sourceType, sourceName, winning, losing, pnl.String(), pnl.String(), winRate, pnl.String(), pnl.String())
		return err
	}

	_, err := s.db.Exec(`
		UPDATE signal_attribution SET
			total_trades = total_trades + 1,
			winning_trades = winning_trades + ?,
			losing_trades = losing_trades + ?,
			total_pnl = CAST(CAST(total_pnl AS REAL) + ? AS TEXT),
			best_trade_pnl = CASE WHEN ? > CAST(best_trade_pnl AS REAL) THEN ? ELSE best_trade_pnl END,
			worst_trade_pnl = CASE WHEN ? < CAST(worst_trade_pnl AS REAL) THEN ? ELSE worst_trade_pnl END,
			win_rate = CAST((winning_trades + ?) AS REAL) / (total_trades + 1),
			last_trade_time = CURRENT_TIMESTAMP,
			last_updated = CURRENT_TIMESTAMP
		WHERE source_id = ?`,
		boolToInt(isWin), boolToInt(!isWin), pnl.InexactFloat64(),
		pnl.InexactFloat64(), pnl.String(), pnl.InexactFloat64(), pnl.String(),
		boolToInt(isWin), sourceID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type Leaderboard struct {
	SourceID    string
	SourceType  string
	SourceName  string
	TotalTrades int64
	WinRate     decimal.Decimal
	TotalPnL    decimal.Decimal
}

func (s *Store) Leaderboard(sourceType string, minTrades, limit int) ([]Leaderboard, error) {
	query := `SELECT source_id, source_type, COALESCE(source_name,''), total_trades, win_rate, total_pnl
		FROM signal_attribution WHERE total_trades >= ?`
	args := []any{minTrades}
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}
	query += ` ORDER BY CAST(total_pnl AS REAL) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Leaderboard
	for rows.Next() {
		var l Leaderboard
		var winRate, totalPnl float64
		if err := rows.Scan(&l.SourceID, &l.SourceType, &l.SourceName, &l.TotalTrades, &winRate, &totalPnl); err != nil {
			continue
		}
		l.WinRate = decimal.NewFromFloat(winRate)
		l.TotalPnL = decimal.NewFromFloat(totalPnl)
		out = append(out, l)
	}
	return out, nil
}

// ---- trade_forensics ----

func (s *Store) InsertForensicReport(r model.ForensicReport) error {
	_, err := s.db.Exec(`
		INSERT INTO trade_forensics (forensic_id, trade_id, failure_category, detected_at, was_simulation_run,
			simulation_result, time_since_simulation, expected_output, actual_output, slippage_pct, signal_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ForensicID, r.TradeID, string(r.FailureCategory), r.DetectedAt, r.WasSimulationRun, r.SimulationResult,
		int64(r.TimeSinceSimulation.Seconds()), r.ExpectedOutput.String(), r.ActualOutput.String(),
		r.SlippagePct.String(), r.SignalConfidence.String())
	return err
}

type ForensicSummary struct {
	Category string
	Count    int64
}

func (s *Store) FailureSummary(days int) ([]ForensicSummary, error) {
	rows, err := s.db.Query(`
		SELECT failure_category, COUNT(*) FROM trade_forensics
		WHERE detected_at > datetime('now', ?) GROUP BY failure_category`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ForensicSummary
	for rows.Next() {
		var fs ForensicSummary
		if err := rows.Scan(&fs.Category, &fs.Count); err != nil {
			continue
		}
		out = append(out, fs)
	}
	return out, nil
}

func (s *Store) SimulationMisses(days int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT trade_id FROM trade_forensics
		WHERE failure_category = 'simulation_miss' AND detected_at > datetime('now', ?)`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}
