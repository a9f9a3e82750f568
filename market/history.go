package market

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/beyondbrewing/brewery-ledger/chaindb"
	"github.com/beyondbrewing/brewery-ledger/index"
	"github.com/beyondbrewing/brewery-ledger/object"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

// HistoryConfig bounds the market history kept per market.
type HistoryConfig struct {
	// MaxOrderRecords is the number of fills kept per market before old
	// ones become eligible for pruning.
	MaxOrderRecords uint32

	// MaxOrderSeconds is the age after which fills beyond MaxOrderRecords
	// are pruned.
	MaxOrderSeconds uint32

	// BucketSizes are the tracked bucket lengths in seconds.
	BucketSizes []uint32

	// MaxBuckets is the number of buckets kept per market and size. Zero
	// disables bucket tracking.
	MaxBuckets uint32

	Logger logger.Logger
}

// HistoryOption configures a History.
type HistoryOption func(*HistoryConfig)

// DefaultHistoryConfig returns the defaults applied before options.
func DefaultHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		MaxOrderRecords: 1000,
		MaxOrderSeconds: 259200,
		BucketSizes:     []uint32{15, 60, 300, 3600, 86400},
		MaxBuckets:      1000,
	}
}

// WithMaxOrderRecords sets the per-market fill count limit.
func WithMaxOrderRecords(n uint32) HistoryOption {
	return func(c *HistoryConfig) { c.MaxOrderRecords = n }
}

// WithMaxOrderSeconds sets the per-market fill age limit.
func WithMaxOrderSeconds(s uint32) HistoryOption {
	return func(c *HistoryConfig) { c.MaxOrderSeconds = s }
}

// WithBuckets sets the tracked bucket sizes and how many of each are kept.
func WithBuckets(maxBuckets uint32, sizes ...uint32) HistoryOption {
	return func(c *HistoryConfig) {
		c.MaxBuckets = maxBuckets
		c.BucketSizes = sizes
	}
}

// WithHistoryLogger sets the logger.
func WithHistoryLogger(l logger.Logger) HistoryOption {
	return func(c *HistoryConfig) { c.Logger = l }
}

// History records filled orders per market with bounded retention and
// maintains OHLCV buckets and tickers for maker fills.
type History struct {
	cfg    *HistoryConfig
	logger logger.Logger

	orders       *index.Primary[OrderHistoryObject, *OrderHistoryObject]
	byKey        *index.Secondary[OrderHistoryObject, *OrderHistoryObject]
	byMarketTime *index.Secondary[OrderHistoryObject, *OrderHistoryObject]

	buckets      *index.Primary[BucketObject, *BucketObject]
	bucketsByKey *index.Secondary[BucketObject, *BucketObject]

	tickers  *index.Primary[TickerObject, *TickerObject]
	byMarket *index.Secondary[TickerObject, *TickerObject]
}

func historyKey(base, quote object.ID, seq int64) index.Key {
	return index.NewKey().ID(base).ID(quote).Int64(seq)
}

func marketTimeKey(base, quote object.ID, t time.Time, seq int64) index.Key {
	return index.NewKey().ID(base).ID(quote).TimeDesc(t).Int64(seq)
}

func bucketKey(k BucketKey) index.Key {
	return index.NewKey().ID(k.Base).ID(k.Quote).Uint32(k.Seconds).Time(k.Open)
}

func marketKey(base, quote object.ID) index.Key {
	return index.NewKey().ID(base).ID(quote)
}

// NewHistory registers the market history indices with d. It must be
// called before d is opened.
func NewHistory(d *chaindb.Database, opts ...HistoryOption) (*History, error) {
	cfg := DefaultHistoryConfig()
	for _, o := range opts {
		o(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	h := &History{cfg: cfg, logger: log.With("component", "market_history")}

	var err error
	if h.orders, err = chaindb.Add[OrderHistoryObject](d, OrderHistoryType, index.WithName("order_history")); err != nil {
		return nil, err
	}
	if h.byKey, err = h.orders.AddSecondary("by_key", func(o *OrderHistoryObject) (index.Key, error) {
		return historyKey(o.Key.Base, o.Key.Quote, o.Key.Sequence), nil
	}); err != nil {
		return nil, err
	}
	if h.byMarketTime, err = h.orders.AddSecondary("by_market_time", func(o *OrderHistoryObject) (index.Key, error) {
		return marketTimeKey(o.Key.Base, o.Key.Quote, o.Time, o.Key.Sequence), nil
	}); err != nil {
		return nil, err
	}

	if h.buckets, err = chaindb.Add[BucketObject](d, BucketType, index.WithName("bucket")); err != nil {
		return nil, err
	}
	if h.bucketsByKey, err = h.buckets.AddSecondary("by_key", func(b *BucketObject) (index.Key, error) {
		return bucketKey(b.Key), nil
	}); err != nil {
		return nil, err
	}

	if h.tickers, err = chaindb.Add[TickerObject](d, TickerType, index.WithName("market_ticker")); err != nil {
		return nil, err
	}
	if h.byMarket, err = h.tickers.AddSecondary("by_market", func(t *TickerObject) (index.Key, error) {
		return marketKey(t.Base, t.Quote), nil
	}); err != nil {
		return nil, err
	}
	return h, nil
}

// RecordFill stores a fill at time now, prunes old fills of its market and,
// for maker fills, updates the market ticker and buckets.
func (h *History) RecordFill(now time.Time, fill FillOrder) (*OrderHistoryObject, error) {
	now = now.UTC().Round(0)
	base, quote := fill.Pays.AssetID, fill.Receives.AssetID
	if base > quote {
		base, quote = quote, base
	}

	seq, err := h.nextSequence(base, quote)
	if err != nil {
		return nil, err
	}
	obj, err := h.orders.Create(func(o *OrderHistoryObject) error {
		o.Key = HistoryKey{Base: base, Quote: quote, Sequence: seq}
		o.Time = now
		o.Op = fill
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("market: record fill: %w", err)
	}

	if err := h.prune(now, base, quote, seq); err != nil {
		return nil, err
	}

	if !fill.IsMaker {
		return obj, nil
	}
	if err := h.updateTicker(base, quote, fill); err != nil {
		return nil, err
	}
	if err := h.updateBuckets(now, base, quote, fill); err != nil {
		return nil, err
	}
	return obj, nil
}

// nextSequence returns one below the newest sequence of the market, or 0
// for the first fill.
func (h *History) nextSequence(base, quote object.ID) (int64, error) {
	c, err := h.byKey.LowerBound(historyKey(base, quote, math.MinInt64))
	if err != nil {
		return 0, err
	}
	defer c.Close()
	if c.Valid() {
		if k := c.Value().Key; k.Base == base && k.Quote == quote {
			return k.Sequence - 1, nil
		}
	}
	return 0, c.Err()
}

// prune removes fills beyond MaxOrderRecords that are also older than
// MaxOrderSeconds, starting from whichever bound is reached later.
func (h *History) prune(now time.Time, base, quote object.ID, seq int64) error {
	inMarket := func(o *OrderHistoryObject) bool {
		return o.Key.Base == base && o.Key.Quote == quote
	}

	byCount, err := h.byKey.LowerBound(historyKey(base, quote, seq+int64(h.cfg.MaxOrderRecords)))
	if err != nil {
		return err
	}
	defer byCount.Close()
	if !byCount.Valid() || !inMarket(byCount.Value()) {
		return byCount.Err()
	}

	minTime := time.Unix(0, 0).UTC()
	if maxAge := int64(h.cfg.MaxOrderSeconds); now.Unix() > maxAge {
		minTime = now.Add(-time.Duration(maxAge) * time.Second)
	}
	byTime, err := h.byMarketTime.LowerBound(marketTimeKey(base, quote, minTime, 0))
	if err != nil {
		return err
	}
	defer byTime.Close()
	if !byTime.Valid() || !inMarket(byTime.Value()) {
		return byTime.Err()
	}

	from := byCount
	if byCount.Value().Key.Sequence < byTime.Value().Key.Sequence {
		from = byTime
	}
	var victims []object.ID
	for ; from.Valid() && inMarket(from.Value()); from.Next() {
		victims = append(victims, from.ID())
	}
	if err := from.Err(); err != nil {
		return err
	}
	byCount.Close()
	byTime.Close()

	for _, id := range victims {
		if err := h.orders.Remove(id); err != nil && !errors.Is(err, index.ErrNotFound) {
			return fmt.Errorf("market: prune order history: %w", err)
		}
	}
	if len(victims) > 0 {
		h.logger.Debug("order history pruned",
			"base", base.String(),
			"quote", quote.String(),
			"removed", len(victims),
		)
	}
	return nil
}

// tradePrices returns the trade and fill prices oriented to base/quote.
func tradePrices(base object.ID, fill FillOrder) (trade, fillPrice Price) {
	trade = Price{Base: fill.Pays, Quote: fill.Receives}
	if trade.Base.AssetID != base {
		trade = trade.Invert()
	}
	fillPrice = fill.FillPrice
	if fillPrice.Base.AssetID > fillPrice.Quote.AssetID {
		fillPrice = fillPrice.Invert()
	}
	return trade, fillPrice
}

func (h *History) updateTicker(base, quote object.ID, fill FillOrder) error {
	trade, price := tradePrices(base, fill)

	existing, err := h.byMarket.Find(marketKey(base, quote))
	switch {
	case errors.Is(err, index.ErrNotFound):
		_, err = h.tickers.Create(func(t *TickerObject) error {
			t.Base, t.Quote = base, quote
			t.LatestBase, t.LatestQuote = price.Base.Amount, price.Quote.Amount
			t.BaseVolume, t.QuoteVolume = trade.Base.Amount, trade.Quote.Amount
			return nil
		})
	case err == nil:
		_, err = h.tickers.Modify(existing.ObjectID(), func(t *TickerObject) error {
			t.LatestBase, t.LatestQuote = price.Base.Amount, price.Quote.Amount
			t.BaseVolume += trade.Base.Amount
			t.QuoteVolume += trade.Quote.Amount
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("market: update ticker: %w", err)
	}
	return nil
}

func (h *History) updateBuckets(now time.Time, base, quote object.ID, fill FillOrder) error {
	if h.cfg.MaxBuckets == 0 || len(h.cfg.BucketSizes) == 0 {
		return nil
	}
	trade, price := tradePrices(base, fill)
	maxBuckets := int64(h.cfg.MaxBuckets)

	for _, size := range h.cfg.BucketSizes {
		if size == 0 {
			continue
		}
		num := now.Unix() / int64(size)
		var cutoff int64
		if num > maxBuckets {
			cutoff = int64(size) * (num - maxBuckets)
		}
		key := BucketKey{Base: base, Quote: quote, Seconds: size, Open: time.Unix(num*int64(size), 0).UTC()}

		existing, err := h.bucketsByKey.Find(bucketKey(key))
		switch {
		case errors.Is(err, index.ErrNotFound):
			_, err = h.buckets.Create(func(b *BucketObject) error {
				b.Key = key
				b.BaseVolume, b.QuoteVolume = trade.Base.Amount, trade.Quote.Amount
				b.OpenBase, b.OpenQuote = price.Base.Amount, price.Quote.Amount
				b.CloseBase, b.CloseQuote = b.OpenBase, b.OpenQuote
				b.HighBase, b.HighQuote = b.OpenBase, b.OpenQuote
				b.LowBase, b.LowQuote = b.OpenBase, b.OpenQuote
				return nil
			})
		case err == nil:
			_, err = h.buckets.Modify(existing.ObjectID(), func(b *BucketObject) error {
				b.BaseVolume = saturatingAdd(b.BaseVolume, trade.Base.Amount)
				b.QuoteVolume = saturatingAdd(b.QuoteVolume, trade.Quote.Amount)
				b.CloseBase, b.CloseQuote = price.Base.Amount, price.Quote.Amount
				if priceLess(b.HighBase, b.HighQuote, price.Base.Amount, price.Quote.Amount) {
					b.HighBase, b.HighQuote = b.CloseBase, b.CloseQuote
				}
				if priceLess(price.Base.Amount, price.Quote.Amount, b.LowBase, b.LowQuote) {
					b.LowBase, b.LowQuote = b.CloseBase, b.CloseQuote
				}
				return nil
			})
		}
		if err != nil {
			return fmt.Errorf("market: update bucket %ds: %w", size, err)
		}

		if err := h.pruneBuckets(base, quote, size, time.Unix(cutoff, 0).UTC()); err != nil {
			return err
		}
	}
	return nil
}

// pruneBuckets removes buckets of one size that opened before cutoff.
func (h *History) pruneBuckets(base, quote object.ID, size uint32, cutoff time.Time) error {
	c, err := h.bucketsByKey.LowerBound(index.NewKey().ID(base).ID(quote).Uint32(size))
	if err != nil {
		return err
	}
	var old []object.ID
	for ; c.Valid(); c.Next() {
		k := c.Value().Key
		if k.Base != base || k.Quote != quote || k.Seconds != size || !k.Open.Before(cutoff) {
			break
		}
		old = append(old, c.ID())
	}
	err = c.Err()
	c.Close()
	if err != nil {
		return err
	}
	for _, id := range old {
		if err := h.buckets.Remove(id); err != nil {
			return fmt.Errorf("market: prune bucket: %w", err)
		}
	}
	return nil
}

// Orders returns up to limit fills of a market, newest first.
func (h *History) Orders(base, quote object.ID, limit int) ([]*OrderHistoryObject, error) {
	if base > quote {
		base, quote = quote, base
	}
	var out []*OrderHistoryObject
	for o, err := range h.byKey.Prefix(marketKey(base, quote)) {
		if err != nil {
			return nil, err
		}
		if len(out) == limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

// OrdersSince returns the fills of a market at or after since, newest
// first.
func (h *History) OrdersSince(base, quote object.ID, since time.Time) ([]*OrderHistoryObject, error) {
	if base > quote {
		base, quote = quote, base
	}
	var out []*OrderHistoryObject
	for o, err := range h.byMarketTime.Prefix(marketKey(base, quote)) {
		if err != nil {
			return nil, err
		}
		if o.Time.Before(since) {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

// Buckets returns the buckets of one size opened in [start, end), oldest
// first.
func (h *History) Buckets(base, quote object.ID, size uint32, start, end time.Time) ([]*BucketObject, error) {
	if base > quote {
		base, quote = quote, base
	}
	c, err := h.bucketsByKey.LowerBound(bucketKey(BucketKey{Base: base, Quote: quote, Seconds: size, Open: start}))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var out []*BucketObject
	for ; c.Valid(); c.Next() {
		b := c.Value()
		if b.Key.Base != base || b.Key.Quote != quote || b.Key.Seconds != size || !b.Key.Open.Before(end) {
			break
		}
		out = append(out, b)
	}
	return out, c.Err()
}

// Ticker returns the ticker of a market.
func (h *History) Ticker(base, quote object.ID) (*TickerObject, error) {
	if base > quote {
		base, quote = quote, base
	}
	return h.byMarket.Find(marketKey(base, quote))
}

func saturatingAdd(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	}
	return s
}

// priceLess reports aBase/aQuote < bBase/bQuote.
func priceLess(aBase, aQuote, bBase, bQuote int64) bool {
	l := new(big.Int).Mul(big.NewInt(aBase), big.NewInt(bQuote))
	r := new(big.Int).Mul(big.NewInt(bBase), big.NewInt(aQuote))
	return l.Cmp(r) < 0
}
