package market

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/index"
	"github.com/beyondbrewing/brewery-ledger/object"
)

func TestHTLCsByDepositor(t *testing.T) {
	d := newDatabase(t)
	htlcs, err := NewHTLCs(d)
	require.NoError(t, err)
	require.NoError(t, d.Open())

	alice, bob := object.NewID(1, 2, 10), object.NewID(1, 2, 11)
	create := func(depositor object.ID, expires time.Time) *HTLCObject {
		obj, err := htlcs.Create(func(h *HTLCObject) error {
			h.Depositor = depositor
			h.Recipient = bob
			h.Amount = Asset{Amount: 500, AssetID: assetA}
			h.Expiration = expires
			h.HashAlgorithm = "sha256"
			h.PreimageHash = "9f86d081884c7d659a2feaa0c55ad015"
			h.PreimageSize = 32
			h.PreimageTxID = chainhash.HashH([]byte("tx"))
			return nil
		})
		require.NoError(t, err)
		return obj
	}
	first := create(alice, t0.Add(time.Hour))
	create(bob, t0.Add(time.Minute))
	third := create(alice, t0.Add(2*time.Hour))

	got, err := htlcs.ByDepositor(alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ObjectID(), got[0].ObjectID())
	assert.Equal(t, third.ObjectID(), got[1].ObjectID())
	assert.Equal(t, chainhash.HashH([]byte("tx")), got[0].PreimageTxID)

	expired, err := htlcs.Expired(t0.Add(90 * time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, bob, expired[0].Depositor)
	assert.Equal(t, first.ObjectID(), expired[1].ObjectID())

	require.NoError(t, htlcs.Remove(first.ObjectID()))
	got, err = htlcs.ByDepositor(alice)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, third.ObjectID(), got[0].ObjectID())
}

func TestWatchDogs(t *testing.T) {
	d := newDatabase(t)
	dogs, err := NewWatchDogs(d)
	require.NoError(t, err)
	require.NoError(t, d.Open())

	answer := chainhash.HashH([]byte("first pet"))
	heir := object.NewID(1, 2, 99)
	w, err := dogs.Watch(account, heir, answer)
	require.NoError(t, err)
	assert.Equal(t, WatchReady, w.State)

	_, err = dogs.Watch(account, heir, answer)
	assert.ErrorIs(t, err, ErrAlreadyWatched)

	asked := t0.Add(time.Minute)
	w, err = dogs.Advance(account, WatchQuestionSent, asked)
	require.NoError(t, err)
	assert.True(t, w.QuestionSendTime.Equal(asked))
	assert.True(t, w.RecoverBeginTime.IsZero())

	got, err := dogs.ByAccount(account)
	require.NoError(t, err)
	assert.Equal(t, WatchQuestionSent, got.State)
	assert.Equal(t, answer, got.AnswerHash)
	assert.True(t, got.RecoverBeginTime.IsZero())
	assert.Equal(t, "question_sent", got.State.String())

	_, err = dogs.ByAccount(heir)
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestHTLCWithoutExpirationIsRejected(t *testing.T) {
	d := newDatabase(t)
	htlcs, err := NewHTLCs(d)
	require.NoError(t, err)
	require.NoError(t, d.Open())

	_, err = htlcs.Create(func(h *HTLCObject) error {
		h.Depositor = object.NewID(1, 2, 10)
		h.Amount = Asset{Amount: 1, AssetID: assetA}
		return nil
	})
	require.ErrorIs(t, err, ErrNoExpiration)
	require.ErrorIs(t, err, index.ErrInvalidKey)

	n, err := htlcs.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	expired, err := htlcs.Expired(t0)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
