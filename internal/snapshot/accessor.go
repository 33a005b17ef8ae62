// Package snapshot is the read side of the telemetry store. Viewers poll an
// Accessor; it never mutates the store.
package snapshot

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
)

// Source is the part of the store an Accessor reads from.
type Source interface {
	Snapshot() store.Snapshot
	DeviceType() telemetry.DeviceType
	Raw() []store.RawFrame
	Entries() []telemetry.Entry
}

// Accessor answers viewer queries against a Source.
type Accessor struct {
	src     Source
	schemas map[telemetry.DeviceType]*telemetry.Schema
}

// New returns an Accessor over src using the default schemas for ordering.
func New(src Source) *Accessor {
	schemas := make(map[telemetry.DeviceType]*telemetry.Schema)
	for _, s := range telemetry.DefaultSchemas() {
		schemas[s.DeviceType] = s
	}
	return &Accessor{src: src, schemas: schemas}
}

// DeviceType returns the current classification.
func (a *Accessor) DeviceType() telemetry.DeviceType {
	return a.src.DeviceType()
}

// Raw returns the raw frame log, oldest first.
func (a *Accessor) Raw() []store.RawFrame {
	return a.src.Raw()
}

// Entries returns every retained entry of kind, oldest first.
func (a *Accessor) Entries(kind telemetry.FieldKind) []telemetry.Entry {
	return filter(a.src.Entries(), func(e telemetry.Entry) bool {
		return e.Kind == kind
	})
}

// Latest returns the newest entry of kind.
func (a *Accessor) Latest(kind telemetry.FieldKind) (telemetry.Entry, bool) {
	entries := a.src.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == kind {
			return entries[i], true
		}
	}
	return telemetry.Entry{}, false
}

// Since returns entries of kind whose sequence is present and >= seq.
func (a *Accessor) Since(kind telemetry.FieldKind, seq int64) []telemetry.Entry {
	return filter(a.src.Entries(), func(e telemetry.Entry) bool {
		return e.Kind == kind && e.Sequence.Valid && e.Sequence.Value >= seq
	})
}

// LatestByKind returns the newest value of every kind present in one
// consistent snapshot. Keys follow the field order of the current device's
// schema; kinds outside that schema follow in arrival order.
func (a *Accessor) LatestByKind() *orderedmap.OrderedMap[telemetry.FieldKind, telemetry.Entry] {
	snap := a.src.Snapshot()

	latest := make(map[telemetry.FieldKind]telemetry.Entry)
	var arrival []telemetry.FieldKind
	for _, e := range snap.Entries {
		if _, seen := latest[e.Kind]; !seen {
			arrival = append(arrival, e.Kind)
		}
		latest[e.Kind] = e
	}

	out := orderedmap.New[telemetry.FieldKind, telemetry.Entry]()
	if s, ok := a.schemas[snap.DeviceType]; ok {
		for _, k := range s.Kinds() {
			if e, ok := latest[k]; ok {
				out.Set(k, e)
			}
		}
	}
	for _, k := range arrival {
		if _, present := out.Get(k); !present {
			out.Set(k, latest[k])
		}
	}
	return out
}

// Snapshot returns the full store snapshot.
func (a *Accessor) Snapshot() store.Snapshot {
	return a.src.Snapshot()
}

func filter(entries []telemetry.Entry, keep func(telemetry.Entry) bool) []telemetry.Entry {
	out := make([]telemetry.Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
