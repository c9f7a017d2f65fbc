package control

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/light"
)

// slot holds the single live call of one kind.
type slot struct {
	mu   sync.Mutex
	call *hue.Call
}

// swap cancels the previous call and installs next. Caller holds s.mu.
func (s *slot) swap(next *hue.Call) {
	if s.call != nil {
		s.call.Cancel()
	}
	s.call = next
}

// Dispatcher applies user actions optimistically and sends them to the
// bridge. Power and brightness each keep at most one live call. Outcomes are
// logged and published, never retried or rolled back.
type Dispatcher struct {
	svc *Service

	power      slot
	brightness slot
}

func newDispatcher(svc *Service) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// TurnOn switches the light on.
func (d *Dispatcher) TurnOn() { d.setPower(true) }

// TurnOff switches the light off.
func (d *Dispatcher) TurnOff() { d.setPower(false) }

func (d *Dispatcher) setPower(on bool) {
	d.power.mu.Lock()
	d.svc.store.SetOn(on)
	call := d.svc.client.NewPowerCall(d.svc, on)
	d.power.swap(call)
	d.power.mu.Unlock()

	d.svc.hub.emit()
	call.Enqueue(d.onCommand(map[string]any{"on": on}))
}

// SetBrightness sets brightness as a percentage, clamped to 0..100 and
// snapped to the range step.
func (d *Dispatcher) SetBrightness(pct float64) {
	pct = light.QuantizePercentage(pct)

	d.brightness.mu.Lock()
	d.svc.store.SetBrightness(pct)
	call := d.svc.client.NewBrightnessCall(d.svc, light.Brightness(pct))
	d.brightness.swap(call)
	d.brightness.mu.Unlock()

	d.svc.hub.emit()
	call.Enqueue(d.onCommand(map[string]any{"brightness": pct}))
}

func (d *Dispatcher) onCommand(data map[string]any) hue.Callback {
	return func(call *hue.Call, resp *http.Response, err error) {
		if err == nil {
			err = hue.CheckStatus(resp)
		}
		outcome := hue.Classify(err)
		if call.IsCanceled() {
			outcome = hue.OutcomeCanceled
		}

		logger := log.With().
			Str("request_id", call.ID().String()).
			Str("kind", call.Label()).
			Str("outcome", outcome).
			Logger()
		switch outcome {
		case hue.OutcomeCompleted:
			logger.Debug().Msg("Command applied")
		case hue.OutcomeCanceled:
			logger.Debug().Msg("Command superseded")
		default:
			logger.Warn().Err(err).Msg("Command failed")
		}

		d.svc.publish(eventbus.EventTypeCommand, call, outcome, data)
	}
}
