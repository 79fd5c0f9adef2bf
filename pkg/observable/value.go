// Package observable holds a current value and pushes every change to its
// subscribers.
package observable

import (
	"slices"
	"sync"
)

// Value holds the latest value of T. New subscribers receive the current
// value first, then every later update, in the order updates were made.
//
// Deliveries run synchronously on the goroutine that triggered them. A
// callback may call Set or Subscribe on the same Value: the nested delivery
// is queued and runs once the current callback returns.
type Value[T any] struct {
	mu       sync.Mutex
	current  T
	set      bool
	seq      uint64
	nextID   uint64
	subs     map[uint64]*subscriber[T]
	queue    []delivery[T]
	draining bool
}

type subscriber[T any] struct {
	fn     func(T)
	joined uint64
}

type delivery[T any] struct {
	val    T
	seq    uint64
	target uint64
}

// New returns a Value that already holds initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, set: true}
}

// Empty returns a Value with nothing to deliver until the first Set.
func Empty[T any]() *Value[T] {
	return &Value[T]{}
}

// Get returns the current value and whether one was ever set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.set
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.publishLocked(val)
	v.drainLocked()
}

// Update computes the next value from the current one. fn runs under the
// Value's lock and must not call back into it. When fn fails the value is
// left unchanged and nobody is notified.
func (v *Value[T]) Update(fn func(cur T) (T, error)) (T, error) {
	v.mu.Lock()
	next, err := fn(v.current)
	if err != nil {
		cur := v.current
		v.mu.Unlock()
		return cur, err
	}
	v.publishLocked(next)
	v.drainLocked()
	return next, nil
}

// Subscribe registers fn and returns a function that removes it.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	if v.subs == nil {
		v.subs = make(map[uint64]*subscriber[T])
	}
	v.nextID++
	id := v.nextID
	v.subs[id] = &subscriber[T]{fn: fn, joined: v.seq}
	if v.set {
		v.queue = append(v.queue, delivery[T]{val: v.current, seq: v.seq, target: id})
	}
	v.drainLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// Len returns the number of active subscribers.
func (v *Value[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *Value[T]) publishLocked(val T) {
	v.current = val
	v.set = true
	v.seq++
	v.queue = append(v.queue, delivery[T]{val: val, seq: v.seq})
}

// drainLocked is called with mu held and releases it.
func (v *Value[T]) drainLocked() {
	if v.draining {
		v.mu.Unlock()
		return
	}
	v.draining = true
	for len(v.queue) > 0 {
		d := v.queue[0]
		v.queue = v.queue[1:]
		fns := v.recipientsLocked(d)
		v.mu.Unlock()
		for _, fn := range fns {
			fn(d.val)
		}
		v.mu.Lock()
	}
	v.draining = false
	v.mu.Unlock()
}

func (v *Value[T]) recipientsLocked(d delivery[T]) []func(T) {
	if d.target != 0 {
		if sub, ok := v.subs[d.target]; ok {
			return []func(T){sub.fn}
		}
		return nil
	}
	ids := make([]uint64, 0, len(v.subs))
	for id, sub := range v.subs {
		// joined at or after this update: already got it as the initial value
		if sub.joined >= d.seq {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, v.subs[id].fn)
	}
	return fns
}
