package pricing

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

// LiveQuotes is the read side of the quote cache.
type LiveQuotes interface {
	Quotes(ctx context.Context, tokens []string) (map[string]model.Quote, error)
}

// Resolver picks one price per token: the live quote, else the manual
// override, else "no price".
type Resolver struct {
	live LiveQuotes
}

// NewResolver creates a resolver. live may be nil, in which case only
// manual overrides are used.
func NewResolver(live LiveQuotes) *Resolver {
	return &Resolver{live: live}
}

// Resolve returns a quote for every requested token. It never fails: when
// the feed is unavailable tokens fall through to overrides or "no price".
func (r *Resolver) Resolve(ctx context.Context, tokens []string, manual []model.ManualPrice) map[string]model.Quote {
	tokens = token.Set(tokens)

	var live map[string]model.Quote
	if r.live != nil {
		var err error
		live, err = r.live.Quotes(ctx, tokens)
		if err != nil {
			slog.Warn("live quotes unavailable, using overrides only", "err", err)
		}
	}

	overrides := make(map[string]model.ManualPrice, len(manual))
	for _, m := range manual {
		overrides[token.Normalize(m.Token)] = m
	}

	out := make(map[string]model.Quote, len(tokens))
	for _, t := range tokens {
		out[t] = resolveOne(t, live, overrides)
	}
	return out
}

func resolveOne(sym string, live map[string]model.Quote, overrides map[string]model.ManualPrice) model.Quote {
	if token.IsCash(sym) {
		return model.Quote{Token: sym, Price: decimal.NewFromInt(1), Available: true}
	}
	if q, ok := live[sym]; ok && q.Available {
		return q
	}
	if m, ok := overrides[sym]; ok {
		return model.Quote{
			Token:       sym,
			Price:       m.Price,
			IsManual:    true,
			Available:   true,
			LastUpdated: m.UpdatedAt,
		}
	}
	return model.Quote{Token: sym, Price: decimal.Zero}
}
