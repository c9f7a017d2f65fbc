// Package control is the control state engine for a single light: the local
// state store, the subscriber hub, per-subscriber status sync and the command
// dispatcher, wrapped in the Service the host talks to.
package control

import (
	"fmt"

	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/light"
)

// Default descriptor values.
const (
	DefaultControlID         = "LIGHT_ID"
	DefaultRangeID           = "BRIGHTNESS_RANGE_ID"
	DefaultTitle             = "Light"
	DefaultActionDescription = "Toggle light"
)

// ActionType names an action kind.
type ActionType string

const (
	ActionBoolean ActionType = "boolean"
	ActionFloat   ActionType = "float"
)

// Action is a user action from the host.
type Action interface {
	Type() ActionType
}

// BooleanAction turns the light on or off.
type BooleanAction struct {
	NewState bool
}

func (BooleanAction) Type() ActionType { return ActionBoolean }

// FloatAction sets brightness in percent.
type FloatAction struct {
	NewValue float64
}

func (FloatAction) Type() ActionType { return ActionFloat }

// Response is the acknowledgement returned to the host.
type Response int

const ResponseOK Response = 1

// ContractViolation is the panic value for host misuse: unknown control ids
// or action kinds.
type ContractViolation struct {
	Msg string
}

func (e *ContractViolation) Error() string {
	return "control contract violation: " + e.Msg
}

func violate(format string, args ...any) {
	panic(&ContractViolation{Msg: fmt.Sprintf(format, args...)})
}

// Options configures a Service.
type Options struct {
	Descriptor light.Descriptor
	// Bus receives command and reconcile outcomes. Optional.
	Bus *eventbus.Bus
}

// Service is one control provider instance. Every bridge call it makes is
// tagged with the instance so Close can cancel exactly its own work.
type Service struct {
	desc   light.Descriptor
	client *hue.Client
	bus    *eventbus.Bus

	store      *Store
	hub        *Hub
	dispatcher *Dispatcher
}

// NewService creates a service on top of client.
func NewService(client *hue.Client, opts Options) *Service {
	desc := opts.Descriptor
	if desc.ID == "" {
		desc.ID = DefaultControlID
	}
	if desc.Title == "" {
		desc.Title = DefaultTitle
	}
	if desc.DeviceType == "" {
		desc.DeviceType = light.DeviceTypeLight
	}
	if desc.RangeID == "" {
		desc.RangeID = DefaultRangeID
	}
	if desc.ActionDescription == "" {
		desc.ActionDescription = DefaultActionDescription
	}

	s := &Service{
		desc:   desc,
		client: client,
		bus:    opts.Bus,
		store:  NewStore(),
	}
	s.hub = newHub(s)
	s.dispatcher = newDispatcher(s)
	return s
}

// Descriptor returns the control identity.
func (s *Service) Descriptor() light.Descriptor { return s.desc }

// State returns the current local state.
func (s *Service) State() light.State { return s.store.Read() }

// Enumerate lists the available controls: always exactly one, stateless.
func (s *Service) Enumerate() []light.Snapshot {
	return []light.Snapshot{light.Stateless(s.desc)}
}

// PublisherFor returns the publisher for ids, which must be exactly the
// known control id.
func (s *Service) PublisherFor(ids []string) Publisher {
	if len(ids) != 1 || ids[0] != s.desc.ID {
		violate("unexpected control ids %q", ids)
	}
	return s.hub
}

// ApplyAction applies a host action and acknowledges immediately; the
// bridge request completes in the background.
func (s *Service) ApplyAction(id string, action Action) Response {
	if id != s.desc.ID {
		violate("unexpected control id %q", id)
	}
	switch a := action.(type) {
	case BooleanAction:
		if a.NewState {
			s.dispatcher.TurnOn()
		} else {
			s.dispatcher.TurnOff()
		}
	case FloatAction:
		s.dispatcher.SetBrightness(a.NewValue)
	default:
		violate("unexpected action type: %T", action)
	}
	return ResponseOK
}

// Close cancels every queued or running bridge call made by this instance
// and returns how many it cancelled.
func (s *Service) Close() int {
	return s.client.CancelAll(s)
}

func (s *Service) snapshot(state light.State) light.Snapshot {
	return light.Stateful(s.desc, state.On, state.Brightness)
}

func (s *Service) publish(t eventbus.EventType, call *hue.Call, outcome string, extra map[string]any) {
	if s.bus == nil {
		return
	}
	data := map[string]any{
		"request_id": call.ID().String(),
		"kind":       call.Label(),
		"outcome":    outcome,
	}
	for k, v := range extra {
		data[k] = v
	}
	s.bus.Publish(eventbus.Event{Type: t, Data: data})
}
