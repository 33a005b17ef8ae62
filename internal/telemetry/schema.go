package telemetry

import "fmt"

// Header tokens the firmware puts in front of every frame.
const (
	HeaderWake = "WAKE"
	HeaderMain = "MAIN"
)

// fieldTypes fixes the value type of every known field kind.
var fieldTypes = map[FieldKind]ValueKind{
	Runtime:        IntKind,
	AcousticLevel:  FloatKind,
	LevelRaw:       IntKind,
	AxisX:          FloatKind,
	AxisY:          FloatKind,
	AxisZ:          FloatKind,
	RotationDelta:  FloatKind,
	Clock:          TextKind,
	BatteryVoltage: FloatKind,
	Temperature1:   FloatKind,
	Temperature2:   FloatKind,
	Temperature3:   FloatKind,
	Temperature4:   FloatKind,
	PH:             FloatKind,
	Turbidity:      FloatKind,
	Countdown:      IntKind,
}

// TypeOf returns the value type declared for kind.
func TypeOf(kind FieldKind) (ValueKind, bool) {
	t, ok := fieldTypes[kind]
	return t, ok
}

// Layout is one firmware revision of a schema: the ordered field kinds that
// follow the header token.
type Layout []FieldKind

// Schema binds a header token to a device type and the layouts the firmware
// has shipped, oldest first. Layouts are selected by field count, so no two
// layouts of a schema may have the same length.
type Schema struct {
	Header     string
	DeviceType DeviceType
	Layouts    []Layout
}

// Latest returns the newest layout.
func (s *Schema) Latest() Layout {
	return s.Layouts[len(s.Layouts)-1]
}

// layoutFor returns the layout with exactly n fields.
func (s *Schema) layoutFor(n int) (Layout, bool) {
	for _, l := range s.Layouts {
		if len(l) == n {
			return l, true
		}
	}
	return nil, false
}

// Kinds returns every field kind of the schema in first-seen order across
// layouts, newest layout first.
func (s *Schema) Kinds() []FieldKind {
	seen := make(map[FieldKind]struct{})
	var out []FieldKind
	for i := len(s.Layouts) - 1; i >= 0; i-- {
		for _, k := range s.Layouts[i] {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func (s *Schema) validate() error {
	if s.Header == "" {
		return fmt.Errorf("schema has empty header")
	}
	if len(s.Layouts) == 0 {
		return fmt.Errorf("schema %s has no layouts", s.Header)
	}
	lengths := make(map[int]struct{}, len(s.Layouts))
	for _, l := range s.Layouts {
		if _, dup := lengths[len(l)]; dup {
			return fmt.Errorf("schema %s has two layouts with %d fields", s.Header, len(l))
		}
		lengths[len(l)] = struct{}{}
		for _, k := range l {
			if _, ok := fieldTypes[k]; !ok {
				return fmt.Errorf("schema %s uses undeclared field %q", s.Header, k)
			}
		}
	}
	return nil
}

// WakeSchema is the short schema sent by the wake probe.
var WakeSchema = Schema{
	Header:     HeaderWake,
	DeviceType: KindA,
	Layouts: []Layout{
		{Runtime, AcousticLevel, LevelRaw, AxisX, AxisY, AxisZ, RotationDelta},
	},
}

// MainSchema is the long schema sent by the main probe. The temperature
// sensor reports either two or four channels and newer firmware appends the
// countdown to the next sample.
var MainSchema = Schema{
	Header:     HeaderMain,
	DeviceType: KindB,
	Layouts: []Layout{
		{Runtime, Clock, BatteryVoltage, Temperature1, Temperature2, PH, Turbidity},
		{Runtime, Clock, BatteryVoltage, Temperature1, Temperature2, PH, Turbidity, Countdown},
		{Runtime, Clock, BatteryVoltage, Temperature1, Temperature2, Temperature3, Temperature4, PH, Turbidity},
		{Runtime, Clock, BatteryVoltage, Temperature1, Temperature2, Temperature3, Temperature4, PH, Turbidity, Countdown},
	},
}

// DefaultSchemas is the schema set understood by the default decoder.
func DefaultSchemas() []*Schema {
	return []*Schema{&WakeSchema, &MainSchema}
}
