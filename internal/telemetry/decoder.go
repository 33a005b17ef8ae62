package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Separator delimits the tokens of a frame.
const Separator = ";"

// Result is the outcome of decoding one frame.
type Result struct {
	Header     string
	DeviceType DeviceType
	Entries    []Entry
}

// Recognized reports whether the frame matched a known schema.
func (r Result) Recognized() bool {
	return r.DeviceType != Unknown
}

// Decoder maps frames onto schemas. A Decoder is immutable after construction
// and may be shared.
type Decoder struct {
	schemas       map[string]*Schema
	stampSequence bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithSequence stamps every entry of a frame with the frame's runtime
// counter so entries can be aligned across cadences.
func WithSequence() DecoderOption {
	return func(d *Decoder) {
		d.stampSequence = true
	}
}

// WithSchemas replaces the default schema set.
func WithSchemas(schemas ...*Schema) DecoderOption {
	return func(d *Decoder) {
		d.schemas = make(map[string]*Schema, len(schemas))
		for _, s := range schemas {
			d.schemas[s.Header] = s
		}
	}
}

// NewDecoder builds a decoder over DefaultSchemas unless WithSchemas is given.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{}
	WithSchemas(DefaultSchemas()...)(d)
	for _, opt := range opts {
		opt(d)
	}

	for header, s := range d.schemas {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("invalid schema %q: %w", header, err)
		}
	}
	return d, nil
}

// MustNewDecoder is like NewDecoder but panics on an invalid schema set.
func MustNewDecoder(opts ...DecoderOption) *Decoder {
	d, err := NewDecoder(opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Schema returns the schema registered for header.
func (d *Decoder) Schema(header string) (*Schema, bool) {
	s, ok := d.schemas[header]
	return s, ok
}

// Decode parses a single frame.
//
// Unknown or empty headers yield a Result with DeviceType Unknown, no entries
// and a nil error. A known header whose fields do not fit any layout of the
// schema yields a *MalformedFrameError and no entries.
func (d *Decoder) Decode(frame string) (Result, error) {
	frame = strings.Trim(frame, " \t\r\n\x00")
	tokens := strings.Split(frame, Separator)
	header := strings.TrimSpace(tokens[0])

	schema, ok := d.schemas[header]
	if !ok {
		return Result{Header: header, DeviceType: Unknown}, nil
	}

	fields := tokens[1:]
	layout, ok := schema.layoutFor(len(fields))
	if !ok {
		return Result{Header: header}, &MalformedFrameError{Header: header, Fields: len(fields)}
	}

	entries := make([]Entry, len(layout))
	var seq Sequence
	for i, kind := range layout {
		token := strings.TrimSpace(fields[i])
		v, err := coerce(kind, token)
		if err != nil {
			return Result{Header: header}, &MalformedFrameError{
				Header: header,
				Fields: len(fields),
				Kind:   kind,
				Token:  token,
				Err:    err,
			}
		}
		if kind == Runtime {
			n, _ := v.Int()
			seq = SequenceOf(n)
		}
		entries[i] = Entry{Kind: kind, Value: v}
	}

	if d.stampSequence && seq.Valid {
		for i := range entries {
			entries[i].Sequence = seq
		}
	}

	return Result{Header: header, DeviceType: schema.DeviceType, Entries: entries}, nil
}

// coerce converts token to the value type declared for kind.
// Integer fields are signed: firmware reports -1 for absent and -9 for
// failed sensors. Float fields must be finite.
func coerce(kind FieldKind, token string) (Value, error) {
	switch fieldTypes[kind] {
	case IntKind:
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return IntValue(n), nil
	case FloatKind:
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return Value{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("non-finite value %q", token)
		}
		return FloatValue(f), nil
	case TextKind:
		if token == "" {
			return Value{}, fmt.Errorf("empty text")
		}
		return TextValue(token), nil
	default:
		return Value{}, fmt.Errorf("field %q has no declared type", kind)
	}
}

var defaultDecoder = MustNewDecoder()

// Parse decodes frame with the default schemas. It is the package-level
// shorthand for Decoder.Decode.
func Parse(frame string) (DeviceType, []Entry, error) {
	r, err := defaultDecoder.Decode(frame)
	return r.DeviceType, r.Entries, err
}
