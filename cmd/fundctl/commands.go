package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"github.com/atmx/fund-engine/internal/checker"
	"github.com/atmx/fund-engine/internal/config"
	"github.com/atmx/fund-engine/internal/importer"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/pricing"
	"github.com/atmx/fund-engine/internal/store"
)

func configFrom(args []interface{}) *config.Config {
	if len(args) > 0 {
		if cfg, ok := args[0].(*config.Config); ok {
			return cfg
		}
	}
	return config.FromEnv()
}

var errNoLedger = errors.New("set DATABASE_URL or SQLITE_PATH")

// openStore opens the persistent ledger. The CLI never falls back to the
// in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, nil, errNoLedger
	}
	return store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
}

func storeFailure(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	if errors.Is(err, errNoLedger) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

// resolveQuotes prices tokens from the market feed when an API key is
// configured, falling back to manual overrides.
func resolveQuotes(ctx context.Context, cfg *config.Config, tokens []string, manual []model.ManualPrice) map[string]model.Quote {
	var live pricing.LiveQuotes
	if cfg.PriceAPIKey != "" {
		client := pricing.NewHTTPClient(cfg.PriceAPIURL, cfg.PriceAPIKey, cfg.PriceAPIRPS)
		live = pricing.NewCache(client, cfg.PriceCacheTTL, nil)
	}
	return pricing.NewResolver(live).Resolve(ctx, tokens, manual)
}

// printMarkdown renders md for the terminal, or prints it as is when it
// cannot be styled.
func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err == nil {
		if out, err := r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Print(md)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- check ---

type checkCmd struct {
	asJSON bool
	raw    bool
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "reconcile the ledger and report data-integrity flags" }
func (*checkCmd) Usage() string {
	return `fundctl check [-json | -raw]

  Re-derives holdings, investor totals, expenses and the USDC cash residual
  from the raw ledger and lists every advisory flag. Exits 1 when a flag is
  raised.
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "Print the report as JSON.")
	f.BoolVar(&c.raw, "raw", false, "Print plain markdown without terminal styling.")
}

func (c *checkCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg := configFrom(args)
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return storeFailure(err)
	}
	defer closeStore()

	l, err := store.LoadLedger(ctx, st)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	tokens := make([]string, 0, len(l.Trades))
	for _, t := range l.Trades {
		tokens = append(tokens, t.Token)
	}
	report := checker.Reconcile(l, resolveQuotes(ctx, cfg, tokens, l.ManualPrices))

	switch {
	case c.asJSON:
		if err := printJSON(report); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	case c.raw:
		fmt.Print(checker.RenderMarkdown(report))
	default:
		printMarkdown(checker.RenderMarkdown(report))
	}

	if len(report.Flags) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- holdings ---

type holdingsCmd struct {
	all bool
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list current token positions and cost basis" }
func (*holdingsCmd) Usage() string {
	return `fundctl holdings [-all]

  Aggregates the trade ledger into one row per token. Dust positions are
  hidden unless -all is given.
`
}

func (c *holdingsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "Include dust and closed positions.")
}

func (c *holdingsCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	st, closeStore, err := openStore(ctx, configFrom(args))
	if err != nil {
		return storeFailure(err)
	}
	defer closeStore()

	trades, err := st.ListTrades(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	holdings := portfolio.Aggregate(trades)
	if c.all {
		holdings = portfolio.AggregateAll(trades)
	}

	printMarkdown(holdingsMarkdown(holdings))
	return subcommands.ExitSuccess
}

func holdingsMarkdown(holdings []model.Holding) string {
	var b strings.Builder
	b.WriteString("# Holdings\n\n")
	if len(holdings) == 0 {
		b.WriteString("_No positions._\n")
		return b.String()
	}
	b.WriteString("| Token | Units | Cost basis |\n|---|---:|---:|\n")
	for _, h := range holdings {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", h.Token, h.TotalUnits, h.CostBasis.StringFixed(2))
	}
	return b.String()
}

// --- import ---

type importCmd struct {
	file    string
	format  string
	replace bool
	dryRun  bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "bulk-import trades from a CSV or XLSX file" }
func (*importCmd) Usage() string {
	return `fundctl import -file <trades.csv|trades.xlsx> [-format csv|xlsx] [-replace] [-n]

  Parses the file, skipping rows that cannot be imported, and appends the
  trades to the ledger. With -replace the existing trades are swapped for the
  imported ones in a single transaction.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "Path to the file to import.")
	f.StringVar(&c.format, "format", "", "File format; defaults to the file extension.")
	f.BoolVar(&c.replace, "replace", false, "Replace all existing trades with the imported ones.")
	f.BoolVar(&c.dryRun, "n", false, "Parse and report without writing.")
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		return subcommands.ExitUsageError
	}

	format := importer.Format(c.format)
	if format == "" {
		var err error
		if format, err = importer.FormatFromFilename(c.file); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
	}

	f, err := os.Open(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer f.Close()

	res, err := importer.Import(f, format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if !c.dryRun {
		st, closeStore, err := openStore(ctx, configFrom(args))
		if err != nil {
			return storeFailure(err)
		}
		defer closeStore()

		if err := writeTrades(ctx, st, res.Trades, c.replace); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}

	fmt.Printf("imported %d, skipped %d\n", res.Imported, res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  row %d: %s (%s)\n", e.Row, e.Message, e.Code)
	}
	return subcommands.ExitSuccess
}

// writeTrades appends trades to the ledger, or swaps the ledger for them in
// one transaction when replace is set.
func writeTrades(ctx context.Context, st store.Store, trades []model.Trade, replace bool) error {
	if !replace {
		return st.CreateTrades(ctx, trades)
	}
	n, err := st.ReplaceTrades(ctx, trades)
	if err != nil {
		return err
	}
	fmt.Printf("replaced %d existing trades\n", n)
	return nil
}

// --- migrate ---

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending ledger schema migrations" }
func (*migrateCmd) Usage() string {
	return `fundctl migrate

  Applies the embedded schema migrations to DATABASE_URL or SQLITE_PATH.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	// Opening a persistent store applies every pending migration.
	_, closeStore, err := openStore(ctx, configFrom(args))
	if err != nil {
		return storeFailure(err)
	}
	closeStore()
	fmt.Println("schema up to date")
	return subcommands.ExitSuccess
}
