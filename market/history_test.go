package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/beyondbrewing/brewery-ledger/chaindb"
	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/index"
	"github.com/beyondbrewing/brewery-ledger/object"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

var (
	assetA  = object.NewID(1, 3, 0)
	assetB  = object.NewID(1, 3, 1)
	assetC  = object.NewID(1, 3, 2)
	account = object.NewID(1, 2, 5)
	t0      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newDatabase(t *testing.T) *chaindb.Database {
	t.Helper()
	d, err := chaindb.New(
		chaindb.WithBackend(db.BackendMemory),
		chaindb.WithLogger(logger.New(zaptest.NewLogger(t))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newHistory(t *testing.T, opts ...HistoryOption) *History {
	t.Helper()
	d := newDatabase(t)
	h, err := NewHistory(d, append([]HistoryOption{WithHistoryLogger(logger.New(zaptest.NewLogger(t)))}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, d.Open())
	return h
}

// fill pays payA of assetA for recvB of assetB.
func fill(payA, recvB int64, maker bool) FillOrder {
	return FillOrder{
		AccountID: account,
		Pays:      Asset{Amount: payA, AssetID: assetA},
		Receives:  Asset{Amount: recvB, AssetID: assetB},
		FillPrice: Price{Base: Asset{Amount: payA, AssetID: assetA}, Quote: Asset{Amount: recvB, AssetID: assetB}},
		IsMaker:   maker,
	}
}

func sequences(orders []*OrderHistoryObject) []int64 {
	out := make([]int64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Key.Sequence)
	}
	return out
}

func TestSequencesDecreasePerMarket(t *testing.T) {
	h := newHistory(t)

	first, err := h.RecordFill(t0, fill(10, 5, false))
	require.NoError(t, err)
	assert.Equal(t, HistoryKey{Base: assetA, Quote: assetB, Sequence: 0}, first.Key)

	// The reverse side of the same market shares its sequence.
	reverse := fill(10, 5, false)
	reverse.Pays, reverse.Receives = reverse.Receives, reverse.Pays
	second, err := h.RecordFill(t0.Add(time.Second), reverse)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), second.Key.Sequence)

	other := fill(1, 1, false)
	other.Receives.AssetID = assetC
	third, err := h.RecordFill(t0, other)
	require.NoError(t, err)
	assert.Equal(t, int64(0), third.Key.Sequence)

	_, err = h.RecordFill(t0.Add(2*time.Second), fill(7, 7, false))
	require.NoError(t, err)

	orders, err := h.Orders(assetB, assetA, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{-2, -1, 0}, sequences(orders))

	newest, err := h.Orders(assetA, assetB, 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, int64(7), newest[0].Op.Pays.Amount)
	assert.True(t, newest[0].Time.Equal(t0.Add(2*time.Second)))

	since, err := h.OrdersSince(assetA, assetB, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []int64{-2, -1}, sequences(since))
}

func TestPruneOldFillsBeyondLimit(t *testing.T) {
	h := newHistory(t, WithMaxOrderRecords(3), WithMaxOrderSeconds(60))

	for i := range 5 {
		_, err := h.RecordFill(t0.Add(time.Duration(i)*time.Second), fill(int64(i+1), 1, false))
		require.NoError(t, err)
	}
	orders, err := h.Orders(assetA, assetB, 100)
	require.NoError(t, err)
	// Recent fills are kept even beyond the record limit.
	assert.Len(t, orders, 5)

	_, err = h.RecordFill(t0.Add(2*time.Minute), fill(9, 1, false))
	require.NoError(t, err)

	orders, err = h.Orders(assetA, assetB, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{-5, -4, -3}, sequences(orders))

	n, err := h.orders.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMakerFillsUpdateTickerAndBuckets(t *testing.T) {
	h := newHistory(t, WithBuckets(2, 60))
	now := t0.Add(5 * time.Second)

	_, err := h.RecordFill(now, fill(100, 50, true))
	require.NoError(t, err)
	_, err = h.RecordFill(now.Add(time.Second), fill(30, 10, true))
	require.NoError(t, err)
	_, err = h.RecordFill(now.Add(2*time.Second), fill(10, 10, false))
	require.NoError(t, err)

	ticker, err := h.Ticker(assetB, assetA)
	require.NoError(t, err)
	assert.Equal(t, int64(130), ticker.BaseVolume)
	assert.Equal(t, int64(60), ticker.QuoteVolume)
	assert.Equal(t, int64(30), ticker.LatestBase)
	assert.Equal(t, int64(10), ticker.LatestQuote)

	buckets, err := h.Buckets(assetA, assetB, 60, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.True(t, b.Key.Open.Equal(t0))
	assert.Equal(t, [2]int64{100, 50}, [2]int64{b.OpenBase, b.OpenQuote})
	assert.Equal(t, [2]int64{30, 10}, [2]int64{b.CloseBase, b.CloseQuote})
	assert.Equal(t, [2]int64{30, 10}, [2]int64{b.HighBase, b.HighQuote})
	assert.Equal(t, [2]int64{100, 50}, [2]int64{b.LowBase, b.LowQuote})
	assert.Equal(t, int64(130), b.BaseVolume)

	// Three minutes later the first bucket falls out of the kept window.
	_, err = h.RecordFill(t0.Add(3*time.Minute), fill(1, 1, true))
	require.NoError(t, err)
	buckets, err = h.Buckets(assetA, assetB, 60, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Key.Open.Equal(t0.Add(3*time.Minute)))
}

func TestHistoryUndo(t *testing.T) {
	d := newDatabase(t)
	h, err := NewHistory(d)
	require.NoError(t, err)
	require.NoError(t, d.Open())

	_, err = h.RecordFill(t0, fill(1, 1, true))
	require.NoError(t, err)

	s, err := d.BeginUndo()
	require.NoError(t, err)
	_, err = h.RecordFill(t0.Add(time.Second), fill(2, 2, true))
	require.NoError(t, err)
	require.NoError(t, s.Undo())

	orders, err := h.Orders(assetA, assetB, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, sequences(orders))

	ticker, err := h.Ticker(assetA, assetB)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticker.BaseVolume)

	_, err = h.Ticker(assetA, assetC)
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestSaturatingAddAndPriceLess(t *testing.T) {
	assert.Equal(t, int64(1<<63-1), saturatingAdd(1<<63-1, 1))
	assert.Equal(t, int64(-1<<63), saturatingAdd(-1<<63, -1))
	assert.Equal(t, int64(5), saturatingAdd(2, 3))

	assert.True(t, priceLess(1, 2, 2, 3))
	assert.False(t, priceLess(2, 3, 1, 2))
	assert.False(t, priceLess(2, 4, 1, 2))
}
