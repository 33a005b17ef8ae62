package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DeviceType classifies a probe by the header of the frames it sends.
type DeviceType int

const (
	Unknown DeviceType = iota
	KindA              // WAKE probe, short schema
	KindB              // MAIN probe, long schema
)

func (t DeviceType) String() string {
	switch t {
	case KindA:
		return "wake"
	case KindB:
		return "main"
	default:
		return "unknown"
	}
}

// MarshalText renders the device type the same way String does.
func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// FieldKind names a single measurement carried in a frame.
type FieldKind string

const (
	// Short (WAKE) schema
	Runtime       FieldKind = "runtime"
	AcousticLevel FieldKind = "acoustic_level"
	LevelRaw      FieldKind = "level_raw"
	AxisX         FieldKind = "axis_x"
	AxisY         FieldKind = "axis_y"
	AxisZ         FieldKind = "axis_z"
	RotationDelta FieldKind = "rotation_delta"

	// Long (MAIN) schema; Runtime is shared
	Clock          FieldKind = "clock"
	BatteryVoltage FieldKind = "battery_voltage"
	Temperature1   FieldKind = "temperature_1"
	Temperature2   FieldKind = "temperature_2"
	Temperature3   FieldKind = "temperature_3"
	Temperature4   FieldKind = "temperature_4"
	PH             FieldKind = "ph"
	Turbidity      FieldKind = "turbidity"
	Countdown      FieldKind = "countdown"
)

// ValueKind is the tag of a Value.
type ValueKind uint8

const (
	IntKind ValueKind = iota + 1
	FloatKind
	TextKind
)

func (k ValueKind) String() string {
	switch k {
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case TextKind:
		return "text"
	default:
		return "invalid"
	}
}

// Value is a tagged union of the three value shapes a field can carry.
// The tag is fixed by the schema when the frame is decoded.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
}

func IntValue(v int64) Value     { return Value{kind: IntKind, i: v} }
func FloatValue(v float64) Value { return Value{kind: FloatKind, f: v} }
func TextValue(v string) Value   { return Value{kind: TextKind, s: v} }

func (v Value) Kind() ValueKind { return v.kind }

// Int returns the integer payload; ok is false for non-integer values.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == IntKind
}

// Float returns the float payload; ok is false for non-float values.
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == FloatKind
}

// Text returns the text payload; ok is false for non-text values.
func (v Value) Text() (string, bool) {
	return v.s, v.kind == TextKind
}

// Number widens integer and float values to float64 for plotting.
// Text values report ok == false.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case IntKind:
		return float64(v.i), true
	case FloatKind:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case IntKind:
		return strconv.FormatInt(v.i, 10)
	case FloatKind:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TextKind:
		return v.s
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case IntKind:
		return json.Marshal(v.i)
	case FloatKind:
		return json.Marshal(v.f)
	case TextKind:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// Sequence is an optional correlation key shared by entries produced from the
// same counter value.
type Sequence struct {
	Value int64
	Valid bool
}

// SequenceOf returns a present sequence.
func SequenceOf(v int64) Sequence {
	return Sequence{Value: v, Valid: true}
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// Entry is one decoded measurement.
type Entry struct {
	Kind     FieldKind `json:"kind"`
	Sequence Sequence  `json:"sequence"`
	Value    Value     `json:"value"`
}

func (e Entry) String() string {
	if e.Sequence.Valid {
		return fmt.Sprintf("%s=%s@%d", e.Kind, e.Value, e.Sequence.Value)
	}
	return fmt.Sprintf("%s=%s", e.Kind, e.Value)
}
