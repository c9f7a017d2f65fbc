package light

// DeviceType identifies how the host renders a control.
type DeviceType string

const DeviceTypeLight DeviceType = "light"

// Status of a stateful control.
type Status string

const StatusOK Status = "ok"

// Range template defaults for the brightness slider.
const (
	RangeStep   = 1.0
	RangeFormat = "%.0f%%"
)

// Descriptor is the fixed identity of a control.
type Descriptor struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	DeviceType        DeviceType `json:"device_type"`
	RangeID           string     `json:"range_id"`
	ActionDescription string     `json:"action_description"`
}

// Button is the toggle half of the template.
type Button struct {
	Checked           bool   `json:"checked"`
	ActionDescription string `json:"action_description"`
}

// Range is the slider half of the template.
type Range struct {
	ID      string  `json:"id"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
	Step    float64 `json:"step"`
	Format  string  `json:"format"`
}

// ToggleRange combines an on/off button with a brightness range.
type ToggleRange struct {
	ID     string `json:"id"`
	Button Button `json:"button"`
	Range  Range  `json:"range"`
}

// Snapshot is what an observer sees of the control. It is a plain value:
// every observer gets its own copy. Stateless snapshots have a zero Template.
type Snapshot struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	DeviceType DeviceType  `json:"device_type"`
	Stateful   bool        `json:"stateful"`
	Status     Status      `json:"status,omitempty"`
	Template   ToggleRange `json:"template,omitzero"`
}

// Stateless builds the snapshot used for enumeration, before any live data.
func Stateless(d Descriptor) Snapshot {
	return Snapshot{
		ID:         d.ID,
		Title:      d.Title,
		DeviceType: d.DeviceType,
	}
}

// Stateful builds a snapshot carrying live on/brightness.
func Stateful(d Descriptor, on bool, brightness float64) Snapshot {
	return Snapshot{
		ID:         d.ID,
		Title:      d.Title,
		DeviceType: d.DeviceType,
		Stateful:   true,
		Status:     StatusOK,
		Template: ToggleRange{
			ID: d.ID,
			Button: Button{
				Checked:           on,
				ActionDescription: d.ActionDescription,
			},
			Range: Range{
				ID:      d.RangeID,
				Min:     MinPercentage,
				Max:     MaxPercentage,
				Current: brightness,
				Step:    RangeStep,
				Format:  RangeFormat,
			},
		},
	}
}

// On reports the toggle state. Stateless snapshots report false.
func (s Snapshot) On() bool {
	return s.Template.Button.Checked
}

// Brightness reports the range value. Stateless snapshots report 0.
func (s Snapshot) Brightness() float64 {
	return s.Template.Range.Current
}
