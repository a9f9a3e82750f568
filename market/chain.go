package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/beyondbrewing/brewery-ledger/chaindb"
	"github.com/beyondbrewing/brewery-ledger/index"
	"github.com/beyondbrewing/brewery-ledger/object"
)

// ErrNoExpiration rejects an HTLC stored without an expiration time.
var ErrNoExpiration = errors.New("market: htlc has no expiration")

// HTLCs indexes hashed time-locked contracts by depositor.
type HTLCs struct {
	*index.Primary[HTLCObject, *HTLCObject]
	byDepositor *index.Secondary[HTLCObject, *HTLCObject]
	byExpiry    *index.Secondary[HTLCObject, *HTLCObject]
}

// NewHTLCs registers the HTLC index with d.
func NewHTLCs(d *chaindb.Database) (*HTLCs, error) {
	p, err := chaindb.Add[HTLCObject](d, HTLCType, index.WithName("htlc"))
	if err != nil {
		return nil, err
	}
	h := &HTLCs{Primary: p}
	h.byDepositor, err = p.AddSecondary("by_depositor", func(o *HTLCObject) (index.Key, error) {
		return index.NewKey().ID(o.Depositor), nil
	}, index.AllowDuplicates())
	if err != nil {
		return nil, err
	}
	h.byExpiry, err = p.AddSecondary("by_expiration", func(o *HTLCObject) (index.Key, error) {
		if o.Expiration.IsZero() {
			return nil, ErrNoExpiration
		}
		return index.NewKey().Time(o.Expiration), nil
	}, index.AllowDuplicates())
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ByDepositor returns the contracts funded by account in id order.
func (h *HTLCs) ByDepositor(account object.ID) ([]*HTLCObject, error) {
	var out []*HTLCObject
	for o, err := range h.byDepositor.Prefix(index.NewKey().ID(account)) {
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Expired returns the contracts whose expiration is not after now,
// earliest first.
func (h *HTLCs) Expired(now time.Time) ([]*HTLCObject, error) {
	c, err := h.byExpiry.First()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var out []*HTLCObject
	for ; c.Valid() && !c.Value().Expiration.After(now); c.Next() {
		out = append(out, c.Value())
	}
	return out, c.Err()
}

// WatchDogs indexes recovery watch-dogs by watched account. Each account
// has at most one watch-dog.
type WatchDogs struct {
	*index.Primary[WatchDogObject, *WatchDogObject]
	byAccount *index.Secondary[WatchDogObject, *WatchDogObject]
}

// ErrAlreadyWatched is returned when an account already has a watch-dog.
var ErrAlreadyWatched = errors.New("market: account already watched")

// NewWatchDogs registers the watch-dog index with d.
func NewWatchDogs(d *chaindb.Database) (*WatchDogs, error) {
	p, err := chaindb.Add[WatchDogObject](d, WatchDogType, index.WithName("watch_dog"))
	if err != nil {
		return nil, err
	}
	w := &WatchDogs{Primary: p}
	w.byAccount, err = p.AddSecondary("by_account", func(o *WatchDogObject) (index.Key, error) {
		return index.NewKey().ID(o.WatchAccount), nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Watch creates a watch-dog for account.
func (w *WatchDogs) Watch(account, inherit object.ID, answer chainhash.Hash) (*WatchDogObject, error) {
	obj, err := w.Create(func(o *WatchDogObject) error {
		o.State = WatchReady
		o.WatchAccount = account
		o.InheritAccount = inherit
		o.AnswerHash = answer
		return nil
	})
	if errors.Is(err, index.ErrInvalidKey) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatched, account)
	}
	return obj, err
}

// ByAccount returns the watch-dog of account.
func (w *WatchDogs) ByAccount(account object.ID) (*WatchDogObject, error) {
	return w.byAccount.Find(index.NewKey().ID(account))
}

// Advance moves the watch-dog of account to state, stamping the time of
// the transitions that carry one.
func (w *WatchDogs) Advance(account object.ID, state WatchState, now time.Time) (*WatchDogObject, error) {
	cur, err := w.ByAccount(account)
	if err != nil {
		return nil, err
	}
	return w.Modify(cur.ObjectID(), func(o *WatchDogObject) error {
		o.State = state
		switch state {
		case WatchQuestionSent:
			o.QuestionSendTime = now.UTC()
		case WatchRecoverBegin:
			o.RecoverBeginTime = now.UTC()
		}
		return nil
	})
}
