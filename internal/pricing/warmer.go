package pricing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// TokenLister supplies the tokens worth keeping warm, normally every token
// that appears in the trade ledger.
type TokenLister func(ctx context.Context) ([]string, error)

// Warmer refreshes the quote cache on a cron schedule so that request
// paths rarely wait on the upstream.
type Warmer struct {
	cache  *Cache
	tokens TokenLister
	cron   *cron.Cron
}

// NewWarmer registers the refresh job on schedule (standard five-field cron
// or descriptors such as "@every 5m").
func NewWarmer(cache *Cache, tokens TokenLister, schedule string) (*Warmer, error) {
	w := &Warmer{
		cache:  cache,
		tokens: tokens,
		cron:   cron.New(),
	}
	if _, err := w.cron.AddFunc(schedule, w.run); err != nil {
		return nil, fmt.Errorf("pricing: invalid warm schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start begins running the job in the background.
func (w *Warmer) Start() {
	w.cron.Start()
	slog.Info("quote warmer started")
}

// Stop waits for a running job to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
	slog.Info("quote warmer stopped")
}

func (w *Warmer) run() {
	if err := w.RunOnce(context.Background()); err != nil {
		slog.Error("quote warm failed", "err", err)
	}
}

// RunOnce refreshes the cache for the current token list.
func (w *Warmer) RunOnce(ctx context.Context) error {
	tokens, err := w.tokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	snap, err := w.cache.Refresh(ctx, tokens)
	if err != nil {
		return err
	}
	if snap != nil {
		slog.Debug("quotes warmed", "tokens", len(snap.Tokens), "quoted", len(snap.Quotes))
	}
	return nil
}
