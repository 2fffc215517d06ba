package database

// schemas maps database names to their embedded schema definitions.
// Two-database layout:
//   - portfolio.db: positions, transactions, snapshots, savings (ProfileLedger)
//   - cache.db: market data cache tables (ProfileCache)
var schemas = map[string]string{
	"portfolio": portfolioSchema,
	"cache":     cacheSchema,
}

const portfolioSchema = `
CREATE TABLE IF NOT EXISTS positions (
    user_id            TEXT NOT NULL,
    account            TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    name               TEXT NOT NULL DEFAULT '',
    market             TEXT NOT NULL DEFAULT 'KR',
    sector             TEXT NOT NULL DEFAULT '',
    beta               REAL,
    quantity           REAL NOT NULL CHECK (quantity >= 0),
    avg_price_krw      REAL NOT NULL DEFAULT 0,
    avg_price_usd      REAL,
    current_price_krw  REAL NOT NULL DEFAULT 0,
    current_price_usd  REAL NOT NULL DEFAULT 0,
    market_value       REAL NOT NULL DEFAULT 0,
    weight_pct         REAL NOT NULL DEFAULT 0,
    unrealized_pnl     REAL NOT NULL DEFAULT 0,
    unrealized_pnl_pct REAL NOT NULL DEFAULT 0,
    total_return_pct   REAL NOT NULL DEFAULT 0,
    dividends_krw      REAL NOT NULL DEFAULT 0,
    last_updated       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, account, symbol)
);

CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);

CREATE TABLE IF NOT EXISTS transactions (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    position_account TEXT,
    position_symbol  TEXT,
    symbol           TEXT NOT NULL,
    type             TEXT NOT NULL CHECK (type IN ('buy', 'sell')),
    quantity         REAL NOT NULL,
    price            REAL NOT NULL,
    fee              REAL NOT NULL DEFAULT 0,
    tax              REAL NOT NULL DEFAULT 0,
    realized_pnl     REAL,
    memo             TEXT NOT NULL DEFAULT '',
    executed_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, executed_at);

CREATE TABLE IF NOT EXISTS portfolio_history (
    user_id           TEXT NOT NULL,
    date              TEXT NOT NULL,
    total_value       REAL NOT NULL DEFAULT 0,
    total_invested    REAL NOT NULL DEFAULT 0,
    total_gain_loss   REAL NOT NULL DEFAULT 0,
    total_return_pct  REAL NOT NULL DEFAULT 0,
    realized_profit   REAL NOT NULL DEFAULT 0,
    unrealized_profit REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS savings_accounts (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    name               TEXT NOT NULL,
    bank               TEXT NOT NULL DEFAULT '',
    account_number     TEXT NOT NULL DEFAULT '',
    savings_type       TEXT NOT NULL DEFAULT 'installment',
    start_date         TEXT NOT NULL,
    end_date           TEXT NOT NULL,
    monthly_amount     REAL NOT NULL DEFAULT 0,
    interest_rate      REAL NOT NULL DEFAULT 0,
    after_tax_rate     REAL NOT NULL DEFAULT 0,
    balance            REAL NOT NULL DEFAULT 0,
    projected_maturity REAL NOT NULL DEFAULT 0,
    last_updated       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_savings_user ON savings_accounts(user_id);

CREATE TABLE IF NOT EXISTS savings_transactions (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    date       TEXT NOT NULL,
    amount     REAL NOT NULL,
    type       TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
    memo       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_savings_tx_account ON savings_transactions(account_id, date);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS quotes (
    key        TEXT PRIMARY KEY,
    data       TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    fetched_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fx_rates (
    key        TEXT PRIMARY KEY,
    data       TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    fetched_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instrument_info (
    key        TEXT PRIMARY KEY,
    data       TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    fetched_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_expires ON quotes(expires_at);
CREATE INDEX IF NOT EXISTS idx_fx_rates_expires ON fx_rates(expires_at);
CREATE INDEX IF NOT EXISTS idx_instrument_info_expires ON instrument_info(expires_at);
`
