package index

// Observer is notified of mutations on a primary index, in registration
// order. The Before hooks run before anything is written and may veto the
// mutation by returning an error; nothing is written in that case. The On
// hooks run after the record and all of its secondary entries have been
// committed.
type Observer[T any, P Ptr[T]] interface {
	BeforeModify(old P) error
	BeforeRemove(old P) error
	OnCreated(obj P)
	OnModified(obj P)
	OnRemoved(obj P)
}

// Listeners adapts optional callbacks to an Observer. All fields are
// optional; nil listeners are skipped.
type Listeners[T any, P Ptr[T]] struct {
	BeforeModifyFn func(old P) error
	BeforeRemoveFn func(old P) error
	OnCreatedFn    func(obj P)
	OnModifiedFn   func(obj P)
	OnRemovedFn    func(obj P)
}

func (l *Listeners[T, P]) BeforeModify(old P) error {
	if l.BeforeModifyFn != nil {
		return l.BeforeModifyFn(old)
	}
	return nil
}

func (l *Listeners[T, P]) BeforeRemove(old P) error {
	if l.BeforeRemoveFn != nil {
		return l.BeforeRemoveFn(old)
	}
	return nil
}

func (l *Listeners[T, P]) OnCreated(obj P) {
	if l.OnCreatedFn != nil {
		l.OnCreatedFn(obj)
	}
}

func (l *Listeners[T, P]) OnModified(obj P) {
	if l.OnModifiedFn != nil {
		l.OnModifiedFn(obj)
	}
}

func (l *Listeners[T, P]) OnRemoved(obj P) {
	if l.OnRemovedFn != nil {
		l.OnRemovedFn(obj)
	}
}

type observerEntry[T any, P Ptr[T]] struct {
	id       int
	observer Observer[T, P]
}
