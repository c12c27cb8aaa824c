// Package observer is the subscribe/notify list shared by the comment and
// session stores.
package observer

import "sync"

type Subscription uint64

type entry struct {
	id Subscription
	fn func()
}

// List delivers notifications synchronously in registration order.
// The zero value is ready to use.
type List struct {
	mu      sync.Mutex
	nextID  Subscription
	entries []entry
}

func (l *List) Subscribe(fn func()) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, entry{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *List) Unsubscribe(id Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.entries[:0]
	for _, e := range l.entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	l.entries = append([]entry(nil), out...)
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Notify calls every listener without holding the lock, so a listener may
// read the store or unsubscribe itself.
func (l *List) Notify() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.entries))
	for _, e := range l.entries {
		fns = append(fns, e.fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
