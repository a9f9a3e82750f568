package market

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/index"
)

func TestRecordEncodingRoundTrip(t *testing.T) {
	records := []struct {
		in  index.Object
		out index.Object
	}{
		{
			in: &OrderHistoryObject{
				Key:  HistoryKey{Base: assetA, Quote: assetB, Sequence: -42},
				Time: t0,
				Op:   fill(10, 20, true),
			},
			out: &OrderHistoryObject{},
		},
		{
			in: &BucketObject{
				Key:        BucketKey{Base: assetA, Quote: assetB, Seconds: 300, Open: t0},
				HighBase:   3,
				HighQuote:  1,
				LowBase:    1,
				LowQuote:   3,
				BaseVolume: 1 << 40,
			},
			out: &BucketObject{},
		},
		{
			in: &HTLCObject{
				Depositor:     account,
				Expiration:    t0.Add(time.Hour),
				HashAlgorithm: "ripemd160",
				PreimageHash:  "ab",
				PreimageSize:  20,
				PreimageTxID:  chainhash.HashH([]byte("x")),
			},
			out: &HTLCObject{},
		},
		{
			in:  &WatchDogObject{State: WatchRecoverBegin, WatchAccount: account, RecoverBeginTime: t0},
			out: &WatchDogObject{},
		},
		{
			in:  &TickerObject{Base: assetA, Quote: assetB, LatestBase: 5, QuoteVolume: -1},
			out: &TickerObject{},
		},
	}
	for _, r := range records {
		b, err := r.in.MarshalBinary()
		require.NoError(t, err)
		require.NoError(t, r.out.UnmarshalBinary(b))
		assert.Equal(t, r.in, r.out)

		assert.Error(t, r.out.UnmarshalBinary(b[:len(b)-1]), "%T truncated", r.in)
		assert.Error(t, r.out.UnmarshalBinary(append(b, 0)), "%T trailing", r.in)
	}
}
