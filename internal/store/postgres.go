package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const (
	pgTradeColumns = `id, date, token, units::TEXT, avg_price::TEXT, total::TEXT, kind, notes`

	pgInsertTrade = `INSERT INTO trades (id, date, token, units, avg_price, total, kind, notes)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`

	pgMonthlyColumns = `id, month,
		gp_subs::TEXT, lp_subs::TEXT, initial_value::TEXT, ending_value::TEXT,
		fund_return::TEXT, btc_return::TEXT, eth_return::TEXT, sol_return::TEXT, total3_return::TEXT,
		fund_expenses::TEXT, mgmt_fees::TEXT, setup_costs::TEXT`
)

func pgTradeArgs(t *model.Trade) []any {
	return []any{
		t.ID, t.Date.Time, t.Token, t.Units.String(),
		nullText(t.AvgPrice), nullText(t.Total),
		string(t.Kind), t.Notes,
	}
}

// --- Trades ---

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx, pgInsertTrade, pgTradeArgs(t)...)
	return err
}

func (s *PostgresStore) CreateTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgInsertTrades(ctx, tx, trades); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReplaceTrades(ctx context.Context, trades []model.Trade) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM trades`)
	if err != nil {
		return 0, err
	}
	if err := pgInsertTrades(ctx, tx, trades); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgInsertTrades(ctx context.Context, tx pgx.Tx, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range trades {
		batch.Queue(pgInsertTrade, pgTradeArgs(&trades[i])...)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert trade %s: %w", trades[i].ID, err)
		}
	}
	return br.Close()
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades
		 SET date = $2, token = $3, units = $4::NUMERIC, avg_price = $5::NUMERIC,
		     total = $6::NUMERIC, kind = $7, notes = $8
		 WHERE id = $1`,
		pgTradeArgs(t)...,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTradeColumns+` FROM trades WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades, err := scanPgTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	if len(trades) == 0 {
		return nil, ErrNotFound
	}
	return &trades[0], nil
}

func (s *PostgresStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTradeColumns+` FROM trades ORDER BY date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPgTrades(rows)
}

func (s *PostgresStore) ListTradesByToken(ctx context.Context, token string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTradeColumns+` FROM trades WHERE token = $1 ORDER BY date, id`,
		strings.ToUpper(token))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPgTrades(rows)
}

func (s *PostgresStore) DeleteTrade(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM trades WHERE id = $1`, id)
}

func (s *PostgresStore) DeleteAllTrades(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Investor flows ---

func (s *PostgresStore) CreateFlow(ctx context.Context, f *model.InvestorFlow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO investor_flows (id, month, client, kind, amount)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
		f.ID, f.Month, f.Client, string(f.Kind), f.Amount.String(),
	)
	return err
}

func (s *PostgresStore) UpdateFlow(ctx context.Context, f *model.InvestorFlow) error {
	return s.execOne(ctx,
		`UPDATE investor_flows SET month = $2, client = $3, kind = $4, amount = $5::NUMERIC WHERE id = $1`,
		f.ID, f.Month, f.Client, string(f.Kind), f.Amount.String(),
	)
}

func (s *PostgresStore) DeleteFlow(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM investor_flows WHERE id = $1`, id)
}

func (s *PostgresStore) ListFlows(ctx context.Context) ([]model.InvestorFlow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, month, client, kind, amount::TEXT FROM investor_flows ORDER BY month, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flows := []model.InvestorFlow{}
	for rows.Next() {
		var num numbers
		var f model.InvestorFlow
		var kind, amount string
		if err := rows.Scan(&f.ID, &f.Month, &f.Client, &kind, &amount); err != nil {
			return nil, err
		}
		f.Kind = model.FlowKind(kind)
		f.Amount = num.text("amount", amount)
		if num.err != nil {
			return nil, num.err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// --- Exits ---

func (s *PostgresStore) CreateExit(ctx context.Context, e *model.Exit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exits (id, token, cost_basis, exit_date) VALUES ($1, $2, $3::NUMERIC, $4)`,
		e.ID, e.Token, e.CostBasis.String(), pgDay(e.ExitDate),
	)
	return err
}

func (s *PostgresStore) UpdateExit(ctx context.Context, e *model.Exit) error {
	return s.execOne(ctx,
		`UPDATE exits SET token = $2, cost_basis = $3::NUMERIC, exit_date = $4 WHERE id = $1`,
		e.ID, e.Token, e.CostBasis.String(), pgDay(e.ExitDate),
	)
}

func (s *PostgresStore) DeleteExit(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM exits WHERE id = $1`, id)
}

func (s *PostgresStore) ListExits(ctx context.Context) ([]model.Exit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, token, cost_basis::TEXT, exit_date FROM exits ORDER BY token, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exits := []model.Exit{}
	for rows.Next() {
		var num numbers
		var e model.Exit
		var cost string
		var exitDate *time.Time
		if err := rows.Scan(&e.ID, &e.Token, &cost, &exitDate); err != nil {
			return nil, err
		}
		e.CostBasis = num.text("cost_basis", cost)
		if exitDate != nil {
			day := model.DayOf(*exitDate)
			e.ExitDate = &day
		}
		if num.err != nil {
			return nil, num.err
		}
		exits = append(exits, e)
	}
	return exits, rows.Err()
}

// --- Monthly performance ---

func (s *PostgresStore) UpsertMonthly(ctx context.Context, m *model.MonthlyPerformance) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO monthly_performance (id, month,
		        gp_subs, lp_subs, initial_value, ending_value,
		        fund_return, btc_return, eth_return, sol_return, total3_return,
		        fund_expenses, mgmt_fees, setup_costs)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12::NUMERIC, $13::NUMERIC, $14::NUMERIC)
		 ON CONFLICT (month) DO UPDATE SET
		        gp_subs = EXCLUDED.gp_subs, lp_subs = EXCLUDED.lp_subs,
		        initial_value = EXCLUDED.initial_value, ending_value = EXCLUDED.ending_value,
		        fund_return = EXCLUDED.fund_return, btc_return = EXCLUDED.btc_return,
		        eth_return = EXCLUDED.eth_return, sol_return = EXCLUDED.sol_return,
		        total3_return = EXCLUDED.total3_return,
		        fund_expenses = EXCLUDED.fund_expenses, mgmt_fees = EXCLUDED.mgmt_fees,
		        setup_costs = EXCLUDED.setup_costs
		 RETURNING id`,
		monthlyArgs(m)...,
	).Scan(&m.ID)
}

func (s *PostgresStore) GetMonthly(ctx context.Context, month string) (*model.MonthlyPerformance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMonthlyColumns+` FROM monthly_performance WHERE month = $1`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanMonthly(rows)
	if err != nil {
		return nil, fmt.Errorf("get monthly %s: %w", month, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (s *PostgresStore) DeleteMonthly(ctx context.Context, month string) error {
	return s.execOne(ctx, `DELETE FROM monthly_performance WHERE month = $1`, month)
}

func (s *PostgresStore) ListMonthly(ctx context.Context) ([]model.MonthlyPerformance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMonthlyColumns+` FROM monthly_performance ORDER BY month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMonthly(rows)
}

// --- Manual prices ---

func (s *PostgresStore) UpsertManualPrice(ctx context.Context, p *model.ManualPrice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO manual_prices (token, price, updated_at) VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (token) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		p.Token, p.Price.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteManualPrice(ctx context.Context, token string) error {
	return s.execOne(ctx, `DELETE FROM manual_prices WHERE token = $1`, token)
}

func (s *PostgresStore) ListManualPrices(ctx context.Context) ([]model.ManualPrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token, price::TEXT, updated_at FROM manual_prices ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := []model.ManualPrice{}
	for rows.Next() {
		var num numbers
		var p model.ManualPrice
		var price string
		if err := rows.Scan(&p.Token, &price, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Price = num.text("price", price)
		if num.err != nil {
			return nil, num.err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// execOne runs a keyed write and maps "no row touched" to ErrNotFound.
func (s *PostgresStore) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgDay(d *model.Day) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func scanPgTrades(rs rows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rs.Next() {
		var num numbers
		var t model.Trade
		var date time.Time
		var units, kind string
		var avgPrice, total *string

		if err := rs.Scan(&t.ID, &date, &t.Token, &units, &avgPrice, &total, &kind, &t.Notes); err != nil {
			return nil, err
		}
		t.Date = model.DayOf(date)
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

func monthlyArgs(m *model.MonthlyPerformance) []any {
	return []any{
		m.ID, m.Month,
		m.GPSubs.String(), m.LPSubs.String(), m.InitialValue.String(), m.EndingValue.String(),
		nullText(m.FundReturn), nullText(m.BTCReturn), nullText(m.ETHReturn),
		nullText(m.SOLReturn), nullText(m.Total3Return),
		m.FundExpenses.String(), m.MgmtFees.String(), m.SetupCosts.String(),
	}
}

func scanMonthly(rs rows) ([]model.MonthlyPerformance, error) {
	records := []model.MonthlyPerformance{}
	for rs.Next() {
		var num numbers
		var m model.MonthlyPerformance
		var gp, lp, initial, ending, fundExp, mgmt, setup string
		var fundRet, btcRet, ethRet, solRet, total3Ret *string

		if err := rs.Scan(&m.ID, &m.Month,
			&gp, &lp, &initial, &ending,
			&fundRet, &btcRet, &ethRet, &solRet, &total3Ret,
			&fundExp, &mgmt, &setup); err != nil {
			return nil, err
		}
		m.GPSubs = num.text("gp_subs", gp)
		m.LPSubs = num.text("lp_subs", lp)
		m.InitialValue = num.text("initial_value", initial)
		m.EndingValue = num.text("ending_value", ending)
		m.FundReturn = num.nullText("fund_return", fundRet)
		m.BTCReturn = num.nullText("btc_return", btcRet)
		m.ETHReturn = num.nullText("eth_return", ethRet)
		m.SOLReturn = num.nullText("sol_return", solRet)
		m.Total3Return = num.nullText("total3_return", total3Ret)
		m.FundExpenses = num.text("fund_expenses", fundExp)
		m.MgmtFees = num.text("mgmt_fees", mgmt)
		m.SetupCosts = num.text("setup_costs", setup)
		if num.err != nil {
			return nil, num.err
		}
		records = append(records, m)
	}
	return records, rs.Err()
}
