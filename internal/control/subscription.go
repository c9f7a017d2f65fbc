package control

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/light"
)

// Subscription is one observer's handle. It owns that observer's status
// fetch: a new fetch cancels the previous one, independently of other
// subscribers and of commands.
type Subscription struct {
	id       uuid.UUID
	hub      *Hub
	observer Observer

	mu   sync.Mutex
	call *hue.Call

	removed atomic.Bool
}

func newSubscription(h *Hub, observer Observer) *Subscription {
	return &Subscription{
		id:       uuid.New(),
		hub:      h,
		observer: observer,
	}
}

// ID returns the subscriber id used in logs and the ledger.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Request signals demand. Every positive request fetches fresh state from the
// bridge; nothing is served from cache.
func (s *Subscription) Request(n int64) {
	if s.removed.Load() {
		return
	}
	if n <= 0 {
		log.Warn().Str("subscriber", s.id.String()).Int64("n", n).Msg("Ignoring non-positive demand")
		return
	}
	s.updateStatus()
}

// Cancel unsubscribes. It does not cancel an outstanding fetch; a late
// result still reconciles the store but is not delivered.
func (s *Subscription) Cancel() {
	s.hub.Unsubscribe(s)
}

func (s *Subscription) updateStatus() {
	svc := s.hub.svc

	s.mu.Lock()
	if s.call != nil {
		s.call.Cancel()
	}
	call := svc.client.NewStatusCall(svc)
	s.call = call
	s.mu.Unlock()

	call.Enqueue(s.onStatus)
}

func (s *Subscription) onStatus(call *hue.Call, resp *http.Response, err error) {
	svc := s.hub.svc
	logger := log.With().
		Str("subscriber", s.id.String()).
		Str("request_id", call.ID().String()).
		Logger()

	if err == nil {
		err = hue.CheckStatus(resp)
	}
	var state light.State
	if err == nil {
		state, err = light.DecodeState(resp.Body)
	}

	if call.IsCanceled() || errors.Is(err, hue.ErrCanceled) {
		logger.Debug().Msg("Status fetch cancelled")
		svc.publish(eventbus.EventTypeReconcile, call, hue.OutcomeCanceled, map[string]any{"subscriber": s.id.String()})
		return
	}
	if err != nil {
		outcome := hue.Classify(err)
		logger.Warn().Err(err).Str("outcome", outcome).Msg("Status fetch failed")
		svc.publish(eventbus.EventTypeReconcile, call, outcome, map[string]any{"subscriber": s.id.String()})
		return
	}

	// A newer fetch from this subscriber supersedes this one.
	s.mu.Lock()
	current := s.call == call && !call.IsCanceled()
	if current {
		svc.store.Reconcile(state)
	}
	s.mu.Unlock()
	if !current {
		logger.Debug().Msg("Status fetch superseded")
		return
	}

	svc.publish(eventbus.EventTypeReconcile, call, hue.OutcomeCompleted, map[string]any{
		"subscriber": s.id.String(),
		"on":         state.On,
		"brightness": state.Brightness,
	})

	if s.removed.Load() {
		logger.Debug().Msg("Subscriber removed, dropping reconciled snapshot")
		return
	}
	s.observer.OnNext(svc.snapshot(state))
}
