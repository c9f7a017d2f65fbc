package control

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/light"
)

// Observer receives snapshots. OnNext is called from transport workers and
// from command callers, possibly concurrently; it must not block.
type Observer interface {
	OnNext(light.Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(light.Snapshot)

// OnNext calls f(s).
func (f ObserverFunc) OnNext(s light.Snapshot) { f(s) }

// Publisher is what the host subscribes to.
type Publisher interface {
	Subscribe(Observer) *Subscription
}

// Hub tracks subscribers and fans snapshots out to them. The subscriber list
// is copy-on-write: writers swap a new slice under mu, readers iterate
// whatever slice they loaded without locking.
type Hub struct {
	svc *Service

	mu   sync.Mutex
	subs atomic.Pointer[[]*Subscription]

	// emitMu serializes command broadcasts.
	emitMu sync.Mutex
}

func newHub(svc *Service) *Hub {
	h := &Hub{svc: svc}
	h.subs.Store(&[]*Subscription{})
	return h
}

// Subscribe registers observer and starts its first status fetch. Nothing is
// delivered before Subscribe returns; the first snapshot arrives when that
// fetch succeeds.
func (h *Hub) Subscribe(observer Observer) *Subscription {
	if observer == nil {
		violate("subscribe with nil observer")
	}
	sub := newSubscription(h, observer)

	h.mu.Lock()
	cur := *h.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sub)
	h.subs.Store(&next)
	h.mu.Unlock()

	log.Debug().Str("subscriber", sub.id.String()).Int("subscribers", len(next)).Msg("Subscriber added")

	sub.updateStatus()
	return sub
}

// Unsubscribe removes sub. It reports whether sub was registered; removing
// twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	sub.removed.Store(true)

	h.mu.Lock()
	cur := *h.subs.Load()
	idx := -1
	for i, s := range cur {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return false
	}
	next := make([]*Subscription, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	h.subs.Store(&next)
	h.mu.Unlock()

	log.Debug().Str("subscriber", sub.id.String()).Int("subscribers", len(next)).Msg("Subscriber removed")
	return true
}

// emit broadcasts the store's current state. The store is read under emitMu,
// so the last snapshot delivered by emit always matches the store. Observers
// must not issue commands from OnNext.
func (h *Hub) emit() {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	h.broadcast(h.svc.snapshot(h.svc.store.Read()))
}

// broadcast delivers snap to every subscriber registered when it was called.
func (h *Hub) broadcast(snap light.Snapshot) {
	for _, sub := range *h.subs.Load() {
		sub.observer.OnNext(snap)
	}
}
