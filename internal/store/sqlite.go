package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atmx/fund-engine/internal/model"
)

// SQLiteStore implements Store on a single SQLite file for deployments
// without PostgreSQL. Numerics and dates are stored as canonical text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := MigrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const (
	sqliteTradeColumns = `id, date, token, units, avg_price, total, kind, notes`

	sqliteInsertTrade = `INSERT INTO trades (id, date, token, units, avg_price, total, kind, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteMonthlyColumns = `id, month, gp_subs, lp_subs, initial_value, ending_value,
		fund_return, btc_return, eth_return, sol_return, total3_return,
		fund_expenses, mgmt_fees, setup_costs`
)

func sqliteTradeArgs(t *model.Trade) []any {
	return []any{
		t.ID, t.Date.String(), t.Token, t.Units.String(),
		nullText(t.AvgPrice), nullText(t.Total),
		string(t.Kind), t.Notes,
	}
}

// --- Trades ---

func (s *SQLiteStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.ExecContext(ctx, sqliteInsertTrade, sqliteTradeArgs(t)...)
	return err
}

func (s *SQLiteStore) CreateTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := sqliteInsertTrades(ctx, tx, trades); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReplaceTrades(ctx context.Context, trades []model.Trade) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM trades`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := sqliteInsertTrades(ctx, tx, trades); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func sqliteInsertTrades(ctx context.Context, tx *sql.Tx, trades []model.Trade) error {
	stmt, err := tx.PrepareContext(ctx, sqliteInsertTrade)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range trades {
		if _, err := stmt.ExecContext(ctx, sqliteTradeArgs(&trades[i])...); err != nil {
			return fmt.Errorf("insert trade %s: %w", trades[i].ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return s.execOne(ctx,
		`UPDATE trades SET date = ?, token = ?, units = ?, avg_price = ?, total = ?, kind = ?, notes = ?
		 WHERE id = ?`,
		t.Date.String(), t.Token, t.Units.String(), nullText(t.AvgPrice), nullText(t.Total),
		string(t.Kind), t.Notes, t.ID,
	)
}

func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT `+sqliteTradeColumns+` FROM trades WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	trades, err := scanSQLiteTrades(rs)
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	if len(trades) == 0 {
		return nil, ErrNotFound
	}
	return &trades[0], nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT `+sqliteTradeColumns+` FROM trades ORDER BY date, id`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	return scanSQLiteTrades(rs)
}

func (s *SQLiteStore) ListTradesByToken(ctx context.Context, token string) ([]model.Trade, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTradeColumns+` FROM trades WHERE token = ? ORDER BY date, id`,
		strings.ToUpper(token))
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	return scanSQLiteTrades(rs)
}

func (s *SQLiteStore) DeleteTrade(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM trades WHERE id = ?`, id)
}

func (s *SQLiteStore) DeleteAllTrades(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Investor flows ---

func (s *SQLiteStore) CreateFlow(ctx context.Context, f *model.InvestorFlow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investor_flows (id, month, client, kind, amount) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Month, f.Client, string(f.Kind), f.Amount.String(),
	)
	return err
}

func (s *SQLiteStore) UpdateFlow(ctx context.Context, f *model.InvestorFlow) error {
	return s.execOne(ctx,
		`UPDATE investor_flows SET month = ?, client = ?, kind = ?, amount = ? WHERE id = ?`,
		f.Month, f.Client, string(f.Kind), f.Amount.String(), f.ID,
	)
}

func (s *SQLiteStore) DeleteFlow(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM investor_flows WHERE id = ?`, id)
}

func (s *SQLiteStore) ListFlows(ctx context.Context) ([]model.InvestorFlow, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT id, month, client, kind, amount FROM investor_flows ORDER BY month, id`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	flows := []model.InvestorFlow{}
	for rs.Next() {
		var num numbers
		var f model.InvestorFlow
		var kind, amount string
		if err := rs.Scan(&f.ID, &f.Month, &f.Client, &kind, &amount); err != nil {
			return nil, err
		}
		f.Kind = model.FlowKind(kind)
		f.Amount = num.text("amount", amount)
		if num.err != nil {
			return nil, num.err
		}
		flows = append(flows, f)
	}
	return flows, rs.Err()
}

// --- Exits ---

func (s *SQLiteStore) CreateExit(ctx context.Context, e *model.Exit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exits (id, token, cost_basis, exit_date) VALUES (?, ?, ?, ?)`,
		e.ID, e.Token, e.CostBasis.String(), sqliteDay(e.ExitDate),
	)
	return err
}

func (s *SQLiteStore) UpdateExit(ctx context.Context, e *model.Exit) error {
	return s.execOne(ctx,
		`UPDATE exits SET token = ?, cost_basis = ?, exit_date = ? WHERE id = ?`,
		e.Token, e.CostBasis.String(), sqliteDay(e.ExitDate), e.ID,
	)
}

func (s *SQLiteStore) DeleteExit(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM exits WHERE id = ?`, id)
}

func (s *SQLiteStore) ListExits(ctx context.Context) ([]model.Exit, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT id, token, cost_basis, exit_date FROM exits ORDER BY token, id`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	exits := []model.Exit{}
	for rs.Next() {
		var num numbers
		var e model.Exit
		var cost string
		var exitDate sql.NullString
		if err := rs.Scan(&e.ID, &e.Token, &cost, &exitDate); err != nil {
			return nil, err
		}
		e.CostBasis = num.text("cost_basis", cost)
		if exitDate.Valid && exitDate.String != "" {
			day, err := model.ParseDay(exitDate.String)
			if err != nil {
				return nil, err
			}
			e.ExitDate = &day
		}
		if num.err != nil {
			return nil, num.err
		}
		exits = append(exits, e)
	}
	return exits, rs.Err()
}

// --- Monthly performance ---

func (s *SQLiteStore) UpsertMonthly(ctx context.Context, m *model.MonthlyPerformance) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO monthly_performance (`+sqliteMonthlyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (month) DO UPDATE SET
		        gp_subs = excluded.gp_subs, lp_subs = excluded.lp_subs,
		        initial_value = excluded.initial_value, ending_value = excluded.ending_value,
		        fund_return = excluded.fund_return, btc_return = excluded.btc_return,
		        eth_return = excluded.eth_return, sol_return = excluded.sol_return,
		        total3_return = excluded.total3_return,
		        fund_expenses = excluded.fund_expenses, mgmt_fees = excluded.mgmt_fees,
		        setup_costs = excluded.setup_costs
		 RETURNING id`,
		monthlyArgs(m)...,
	).Scan(&m.ID)
}

func (s *SQLiteStore) GetMonthly(ctx context.Context, month string) (*model.MonthlyPerformance, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMonthlyColumns+` FROM monthly_performance WHERE month = ?`, month)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	records, err := scanMonthly(rs)
	if err != nil {
		return nil, fmt.Errorf("get monthly %s: %w", month, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (s *SQLiteStore) DeleteMonthly(ctx context.Context, month string) error {
	return s.execOne(ctx, `DELETE FROM monthly_performance WHERE month = ?`, month)
}

func (s *SQLiteStore) ListMonthly(ctx context.Context) ([]model.MonthlyPerformance, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMonthlyColumns+` FROM monthly_performance ORDER BY month`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	return scanMonthly(rs)
}

// --- Manual prices ---

func (s *SQLiteStore) UpsertManualPrice(ctx context.Context, p *model.ManualPrice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manual_prices (token, price, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		p.Token, p.Price.String(), p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) DeleteManualPrice(ctx context.Context, token string) error {
	return s.execOne(ctx, `DELETE FROM manual_prices WHERE token = ?`, token)
}

func (s *SQLiteStore) ListManualPrices(ctx context.Context) ([]model.ManualPrice, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT token, price, updated_at FROM manual_prices ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	prices := []model.ManualPrice{}
	for rs.Next() {
		var num numbers
		var p model.ManualPrice
		var price, updated string
		if err := rs.Scan(&p.Token, &price, &updated); err != nil {
			return nil, err
		}
		p.Price = num.text("price", price)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		if num.err != nil {
			return nil, num.err
		}
		prices = append(prices, p)
	}
	return prices, rs.Err()
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sqliteDay(d *model.Day) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanSQLiteTrades(rs rows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rs.Next() {
		var num numbers
		var t model.Trade
		var date, units, kind string
		var avgPrice, total *string

		if err := rs.Scan(&t.ID, &date, &t.Token, &units, &avgPrice, &total, &kind, &t.Notes); err != nil {
			return nil, err
		}
		day, err := model.ParseDay(date)
		if err != nil {
			return nil, err
		}
		t.Date = day
		t.Units = num.text("units", units)
		t.AvgPrice = num.nullText("avg_price", avgPrice)
		t.Total = num.nullText("total", total)
		t.Kind = model.TradeKind(kind)
		if num.err != nil {
			return nil, num.err
		}
		trades = append(trades, t)
	}
	return trades, rs.Err()
}
