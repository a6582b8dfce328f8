// Package alchemy fetches USD token prices from the Alchemy Prices API.
package alchemy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// Defaults for Config fields left zero.
const (
	DefaultBaseURL           = "https://api.g.alchemy.com/prices/v1"
	DefaultTimeout           = 10 * time.Second
	DefaultCacheDuration     = 60 * time.Second
	DefaultRequestsPerSecond = 5
)

// Config configures an Oracle.
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	CacheDuration     time.Duration
	RequestsPerSecond float64
}

type entry struct {
	price *big.Int
	at    time.Time
}

// Oracle implements domain.PriceSource. Prices are cached per symbol for
// CacheDuration and optionally shared with other instances through a
// domain.PriceCache.
type Oracle struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	shared     domain.PriceCache
	quota      domain.RequestQuota
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// New creates an Oracle. shared may be nil.
func New(cfg Config, shared domain.PriceCache, logger *slog.Logger) *Oracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = DefaultCacheDuration
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	logger = logger.With(slog.String("component", "oracle"))
	if cfg.APIKey == "" {
		logger.Error("alchemy api key not set, real price data unavailable")
	}
	return &Oracle{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		shared:     shared,
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]entry),
	}
}

// UseQuota makes every request also wait on q, a budget shared with other
// processes using the same API key.
func (o *Oracle) UseQuota(q domain.RequestQuota) {
	o.quota = q
}

// FetchPrices returns USD prices at wei scale for the requested symbols.
// Fresh cached prices are served unless forceRefresh is set. A symbol that
// cannot be priced is omitted from the result; an error is returned only
// when none of the requested symbols could be priced.
func (o *Oracle) FetchPrices(ctx context.Context, symbols []string, forceRefresh bool) (map[string]*big.Int, error) {
	if len(symbols) == 0 {
		return map[string]*big.Int{}, nil
	}
	if o.cfg.APIKey == "" {
		return nil, fmt.Errorf("alchemy: %w: api key not configured", domain.ErrPriceUnavailable)
	}

	prices := make(map[string]*big.Int, len(symbols))
	var errs []error
	for _, sym := range symbols {
		if _, done := prices[sym]; done {
			continue
		}
		if !forceRefresh {
			if p, ok := o.cached(ctx, sym); ok {
				prices[sym] = p
				continue
			}
		}
		p, err := o.fetch(ctx, sym)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to fetch price",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		o.store(ctx, sym, p)
		prices[sym] = p
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("alchemy: %w: %w", domain.ErrPriceUnavailable, errors.Join(errs...))
	}
	return prices, nil
}

func (o *Oracle) cached(ctx context.Context, sym string) (*big.Int, bool) {
	now := o.now()
	o.mu.Lock()
	e, ok := o.cache[sym]
	o.mu.Unlock()
	if ok && now.Sub(e.at) < o.cfg.CacheDuration {
		return new(big.Int).Set(e.price), true
	}
	if o.shared == nil {
		return nil, false
	}
	p, at, err := o.shared.GetPrice(ctx, sym)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.DebugContext(ctx, "shared price cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	if now.Sub(at) >= o.cfg.CacheDuration {
		return nil, false
	}
	o.mu.Lock()
	o.cache[sym] = entry{price: p, at: at}
	o.mu.Unlock()
	return new(big.Int).Set(p), true
}

func (o *Oracle) store(ctx context.Context, sym string, p *big.Int) {
	now := o.now()
	o.mu.Lock()
	o.cache[sym] = entry{price: p, at: now}
	o.mu.Unlock()
	if o.shared != nil {
		if err := o.shared.SetPrice(ctx, sym, p, now); err != nil {
			o.logger.DebugContext(ctx, "shared price cache write failed", slog.String("error", err.Error()))
		}
	}
}

type bySymbolResponse struct {
	Data []struct {
		Symbol string `json:"symbol"`
		Prices []struct {
			Currency string `json:"currency"`
			Value    string `json:"value"`
		} `json:"prices"`
		Error json.RawMessage `json:"error"`
	} `json:"data"`
}

func (o *Oracle) fetch(ctx context.Context, sym string) (*big.Int, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("alchemy: rate limit: %w", err)
	}
	if o.quota != nil {
		if err := o.quota.Wait(ctx, "alchemy"); err != nil {
			return nil, fmt.Errorf("alchemy: shared quota: %w", err)
		}
	}

	u := o.cfg.BaseURL + "/" + url.PathEscape(o.cfg.APIKey) + "/tokens/by-symbol?" +
		url.Values{"symbols": {sym}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("alchemy: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		// The URL embeds the API key; report the symbol only.
		return nil, fmt.Errorf("alchemy: fetch %s: request failed", sym)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("alchemy: fetch %s: read response: %w", sym, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alchemy: fetch %s: HTTP %d", sym, resp.StatusCode)
	}

	var parsed bySymbolResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("alchemy: decode %s: %w", sym, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Prices) == 0 {
		return nil, fmt.Errorf("alchemy: no price data for %s", sym)
	}
	d, err := decimal.NewFromString(parsed.Data[0].Prices[0].Value)
	if err != nil {
		return nil, fmt.Errorf("alchemy: parse price for %s: %w", sym, err)
	}
	p := amm.FromDecimal(d)
	if p.Sign() <= 0 {
		return nil, fmt.Errorf("alchemy: non-positive price for %s: %s", sym, d)
	}
	o.logger.DebugContext(ctx, "price", slog.String("symbol", sym), slog.String("usd", d.StringFixed(2)))
	return p, nil
}

var _ domain.PriceSource = (*Oracle)(nil)
