package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/telemetry"
)

const (
	// DefaultRawCapacity is the number of raw frames retained.
	DefaultRawCapacity = 5000
	// DefaultEntriesPerFrame approximates how many entries a frame yields.
	DefaultEntriesPerFrame = 5
	// DefaultEntryCapacity keeps decoded history roughly as long as raw history.
	DefaultEntryCapacity = DefaultRawCapacity * DefaultEntriesPerFrame
)

// RawFrame is one frame as received, before decoding.
type RawFrame struct {
	Text       string    `json:"text"`
	Peer       string    `json:"peer,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is a consistent, immutable copy of the store.
type Snapshot struct {
	DeviceType telemetry.DeviceType `json:"device_type"`
	Raw        []RawFrame           `json:"raw"`
	Entries    []telemetry.Entry    `json:"entries"`
}

// Store holds the raw frame log, the decoded entry log and the sticky device
// classification of the connected probe.
//
// Only the ingestion path mutates a Store (Commit, Clear). Readers use
// Snapshot or the ring accessors and always see whole frames.
type Store struct {
	mu         sync.RWMutex
	raw        *Ring[RawFrame]
	entries    *Ring[telemetry.Entry]
	deviceType telemetry.DeviceType
	logger     *logrus.Logger
}

// Options sizes the store.
type Options struct {
	RawCapacity   int
	EntryCapacity int
}

// DefaultOptions returns the default capacities.
func DefaultOptions() Options {
	return Options{
		RawCapacity:   DefaultRawCapacity,
		EntryCapacity: DefaultEntryCapacity,
	}
}

// New creates a store. Non-positive capacities fall back to the defaults.
func New(opts Options, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RawCapacity <= 0 {
		opts.RawCapacity = DefaultRawCapacity
	}
	if opts.EntryCapacity <= 0 {
		opts.EntryCapacity = opts.RawCapacity * DefaultEntriesPerFrame
	}

	return &Store{
		raw:     NewRing[RawFrame](opts.RawCapacity),
		entries: NewRing[telemetry.Entry](opts.EntryCapacity),
		logger:  logger,
	}
}

// Commit records one received frame and its decode result.
//
// The raw frame is always logged. Entries are appended in frame order.
// A recognized frame sets the device type; a frame with a different known
// header overwrites it, unknown and malformed frames leave it untouched.
func (s *Store) Commit(frame RawFrame, result telemetry.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw.Push(frame)
	if len(result.Entries) > 0 {
		s.entries.PushAll(result.Entries...)
	}

	if result.Recognized() && result.DeviceType != s.deviceType {
		if s.deviceType != telemetry.Unknown {
			s.logger.WithFields(logrus.Fields{
				"from": s.deviceType,
				"to":   result.DeviceType,
				"peer": frame.Peer,
			}).Warn("Device type changed")
		} else {
			s.logger.WithFields(logrus.Fields{
				"device_type": result.DeviceType,
				"peer":        frame.Peer,
			}).Info("Device classified")
		}
		s.deviceType = result.DeviceType
	}
}

// PushRaw logs a raw frame without decoded entries.
func (s *Store) PushRaw(frame RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw.Push(frame)
}

// Clear empties both logs and resets the device type to Unknown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw.Clear()
	s.entries.Clear()
	s.deviceType = telemetry.Unknown
	s.logger.Debug("Store cleared")
}

// DeviceType returns the current classification.
func (s *Store) DeviceType() telemetry.DeviceType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceType
}

// Snapshot returns both logs and the classification as of one instant.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		DeviceType: s.deviceType,
		Raw:        s.raw.Snapshot(),
		Entries:    s.entries.Snapshot(),
	}
}

// Raw returns a copy of the raw frame log.
func (s *Store) Raw() []RawFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw.Snapshot()
}

// Entries returns a copy of the decoded entry log.
func (s *Store) Entries() []telemetry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Snapshot()
}

// RawSince returns the raw frames written after the first n, oldest first,
// together with the current write count. Frames evicted in the meantime are
// skipped.
func (s *Store) RawSince(n int64) ([]RawFrame, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.raw.GetMetrics().Written
	fresh := total - n
	if fresh <= 0 {
		return nil, total
	}
	raw := s.raw.Snapshot()
	if int64(len(raw)) > fresh {
		raw = raw[int64(len(raw))-fresh:]
	}
	return raw, total
}

// Stats summarizes buffer usage.
type Stats struct {
	RawLen        int
	RawCap        int
	RawEvicted    int64
	EntryLen      int
	EntryCap      int
	EntryEvicted  int64
	FramesWritten int64
}

// Stats returns buffer usage counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm := s.raw.GetMetrics()
	em := s.entries.GetMetrics()
	return Stats{
		RawLen:        s.raw.Len(),
		RawCap:        s.raw.Cap(),
		RawEvicted:    rm.Evicted,
		EntryLen:      s.entries.Len(),
		EntryCap:      s.entries.Cap(),
		EntryEvicted:  em.Evicted,
		FramesWritten: rm.Written,
	}
}
