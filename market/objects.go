// Package market holds the chain and market-history objects persisted in
// the object database, together with the secondary indices they are
// queried by.
package market

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/beyondbrewing/brewery-ledger/object"
)

// Object types. Market history lives in its own space; HTLC and watch-dog
// objects are implementation objects.
var (
	OrderHistoryType = object.Type{Space: 5, Type: 0}
	BucketType       = object.Type{Space: 5, Type: 1}
	TickerType       = object.Type{Space: 5, Type: 2}
	HTLCType         = object.Type{Space: 2, Type: 20}
	WatchDogType     = object.Type{Space: 2, Type: 21}
)

// Asset is an amount of one asset.
type Asset struct {
	Amount  int64
	AssetID object.ID
}

// Price is the ratio Base/Quote.
type Price struct {
	Base  Asset
	Quote Asset
}

// Invert swaps base and quote.
func (p Price) Invert() Price { return Price{Base: p.Quote, Quote: p.Base} }

// FillOrder describes one side of a matched trade.
type FillOrder struct {
	OrderID   object.ID
	AccountID object.ID
	Pays      Asset
	Receives  Asset
	Fee       Asset
	FillPrice Price
	IsMaker   bool
}

func (e *encoder) fill(f FillOrder) {
	e.id(f.OrderID)
	e.id(f.AccountID)
	e.asset(f.Pays)
	e.asset(f.Receives)
	e.asset(f.Fee)
	e.asset(f.FillPrice.Base)
	e.asset(f.FillPrice.Quote)
	e.bool(f.IsMaker)
}

func (d *decoder) fill() FillOrder {
	return FillOrder{
		OrderID:   d.id(),
		AccountID: d.id(),
		Pays:      d.asset(),
		Receives:  d.asset(),
		Fee:       d.asset(),
		FillPrice: Price{Base: d.asset(), Quote: d.asset()},
		IsMaker:   d.bool(),
	}
}

// HistoryKey orders fills within a market. Sequences decrease, so the
// newest fill of a market sorts first.
type HistoryKey struct {
	Base     object.ID
	Quote    object.ID
	Sequence int64
}

// OrderHistoryObject records one filled order.
type OrderHistoryObject struct {
	id   object.ID
	Key  HistoryKey
	Time time.Time
	Op   FillOrder
}

func (o *OrderHistoryObject) ObjectID() object.ID      { return o.id }
func (o *OrderHistoryObject) SetObjectID(id object.ID) { o.id = id }

func (o *OrderHistoryObject) MarshalBinary() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 160)}
	e.id(o.Key.Base)
	e.id(o.Key.Quote)
	e.i64(o.Key.Sequence)
	e.time(o.Time)
	e.fill(o.Op)
	return e.buf, nil
}

func (o *OrderHistoryObject) UnmarshalBinary(b []byte) error {
	d := &decoder{buf: b}
	o.Key = HistoryKey{Base: d.id(), Quote: d.id(), Sequence: d.i64()}
	o.Time = d.time()
	o.Op = d.fill()
	return d.finish()
}

// BucketKey identifies one OHLCV bucket of a market.
type BucketKey struct {
	Base    object.ID
	Quote   object.ID
	Seconds uint32
	Open    time.Time
}

// BucketObject aggregates fills of a market over one time bucket.
type BucketObject struct {
	id          object.ID
	Key         BucketKey
	HighBase    int64
	HighQuote   int64
	LowBase     int64
	LowQuote    int64
	OpenBase    int64
	OpenQuote   int64
	CloseBase   int64
	CloseQuote  int64
	BaseVolume  int64
	QuoteVolume int64
}

func (b *BucketObject) ObjectID() object.ID      { return b.id }
func (b *BucketObject) SetObjectID(id object.ID) { b.id = id }

// High returns the highest fill price seen in the bucket.
func (b *BucketObject) High() Price {
	return Price{
		Base:  Asset{Amount: b.HighBase, AssetID: b.Key.Base},
		Quote: Asset{Amount: b.HighQuote, AssetID: b.Key.Quote},
	}
}

// Low returns the lowest fill price seen in the bucket.
func (b *BucketObject) Low() Price {
	return Price{
		Base:  Asset{Amount: b.LowBase, AssetID: b.Key.Base},
		Quote: Asset{Amount: b.LowQuote, AssetID: b.Key.Quote},
	}
}

func (b *BucketObject) MarshalBinary() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 108)}
	e.id(b.Key.Base)
	e.id(b.Key.Quote)
	e.u32(b.Key.Seconds)
	e.time(b.Key.Open)
	for _, v := range []int64{
		b.HighBase, b.HighQuote, b.LowBase, b.LowQuote, b.OpenBase,
		b.OpenQuote, b.CloseBase, b.CloseQuote, b.BaseVolume, b.QuoteVolume,
	} {
		e.i64(v)
	}
	return e.buf, nil
}

func (b *BucketObject) UnmarshalBinary(buf []byte) error {
	d := &decoder{buf: buf}
	b.Key = BucketKey{Base: d.id(), Quote: d.id(), Seconds: d.u32(), Open: d.time()}
	for _, v := range []*int64{
		&b.HighBase, &b.HighQuote, &b.LowBase, &b.LowQuote, &b.OpenBase,
		&b.OpenQuote, &b.CloseBase, &b.CloseQuote, &b.BaseVolume, &b.QuoteVolume,
	} {
		*v = d.i64()
	}
	return d.finish()
}

// TickerObject tracks the latest price and running volume of a market.
type TickerObject struct {
	id          object.ID
	Base        object.ID
	Quote       object.ID
	LatestBase  int64
	LatestQuote int64
	BaseVolume  int64
	QuoteVolume int64
}

func (t *TickerObject) ObjectID() object.ID      { return t.id }
func (t *TickerObject) SetObjectID(id object.ID) { t.id = id }

func (t *TickerObject) MarshalBinary() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 48)}
	e.id(t.Base)
	e.id(t.Quote)
	e.i64(t.LatestBase)
	e.i64(t.LatestQuote)
	e.i64(t.BaseVolume)
	e.i64(t.QuoteVolume)
	return e.buf, nil
}

func (t *TickerObject) UnmarshalBinary(b []byte) error {
	d := &decoder{buf: b}
	t.Base, t.Quote = d.id(), d.id()
	t.LatestBase, t.LatestQuote = d.i64(), d.i64()
	t.BaseVolume, t.QuoteVolume = d.i64(), d.i64()
	return d.finish()
}

// HTLCObject is a hashed time-locked contract held by a depositor.
type HTLCObject struct {
	id            object.ID
	Depositor     object.ID
	Recipient     object.ID
	Amount        Asset
	Expiration    time.Time
	PendingFee    Asset
	HashAlgorithm string
	PreimageHash  string
	PreimageSize  uint16
	PreimageTxID  chainhash.Hash
}

func (h *HTLCObject) ObjectID() object.ID      { return h.id }
func (h *HTLCObject) SetObjectID(id object.ID) { h.id = id }

func (h *HTLCObject) MarshalBinary() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 128)}
	e.id(h.Depositor)
	e.id(h.Recipient)
	e.asset(h.Amount)
	e.time(h.Expiration)
	e.asset(h.PendingFee)
	e.str(h.HashAlgorithm)
	e.str(h.PreimageHash)
	e.u16(h.PreimageSize)
	e.raw(h.PreimageTxID[:])
	return e.buf, nil
}

func (h *HTLCObject) UnmarshalBinary(b []byte) error {
	d := &decoder{buf: b}
	h.Depositor, h.Recipient = d.id(), d.id()
	h.Amount = d.asset()
	h.Expiration = d.time()
	h.PendingFee = d.asset()
	h.HashAlgorithm = d.str()
	h.PreimageHash = d.str()
	h.PreimageSize = d.u16()
	d.raw(h.PreimageTxID[:])
	return d.finish()
}

// WatchState is the recovery state of a watched account.
type WatchState uint8

const (
	WatchIdle WatchState = iota
	WatchReady
	WatchQuestionSent
	WatchAnswerReceived
	WatchRecoverBegin
	WatchRecoverEnd
)

var watchStateNames = [...]string{"idle", "ready", "question_sent", "answer_received", "recover_begin", "recover_end"}

func (s WatchState) String() string {
	if int(s) < len(watchStateNames) {
		return watchStateNames[s]
	}
	return fmt.Sprintf("WatchState(%d)", uint8(s))
}

// WatchDogObject guards account recovery for one watched account.
type WatchDogObject struct {
	id               object.ID
	State            WatchState
	WatchAccount     object.ID
	InheritAccount   object.ID
	AnswerHash       chainhash.Hash
	QuestionSendTime time.Time
	RecoverBeginTime time.Time
}

func (w *WatchDogObject) ObjectID() object.ID      { return w.id }
func (w *WatchDogObject) SetObjectID(id object.ID) { w.id = id }

func (w *WatchDogObject) MarshalBinary() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 72)}
	e.u8(uint8(w.State))
	e.id(w.WatchAccount)
	e.id(w.InheritAccount)
	e.raw(w.AnswerHash[:])
	e.time(w.QuestionSendTime)
	e.time(w.RecoverBeginTime)
	return e.buf, nil
}

func (w *WatchDogObject) UnmarshalBinary(b []byte) error {
	d := &decoder{buf: b}
	w.State = WatchState(d.u8())
	w.WatchAccount, w.InheritAccount = d.id(), d.id()
	d.raw(w.AnswerHash[:])
	w.QuestionSendTime = d.time()
	w.RecoverBeginTime = d.time()
	return d.finish()
}
