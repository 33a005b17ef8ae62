package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/glas/wqconnect/internal/telemetry"
)

const (
	wakeFrame = "WAKE;120;0.50;15000;0.10;0.20;0.30;5.0"
	mainFrame = "MAIN;7;2024/5/1/12/30/0/2/122;3.9;21.5;22.0;7.1;12;300"
)

// StoreTestSuite exercises Commit and Clear against real decoder output.
type StoreTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	hook   *test.Hook
	store  *Store
}

func (s *StoreTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
	s.store = New(DefaultOptions(), s.logger)
}

func (s *StoreTestSuite) commit(frame string) error {
	result, err := telemetry.MustNewDecoder().Decode(frame)
	s.store.Commit(RawFrame{Text: frame, Peer: "AA:BB", ReceivedAt: time.Now()}, result)
	return err
}

func (s *StoreTestSuite) TestNewStoreIsEmpty() {
	snap := s.store.Snapshot()
	s.Equal(telemetry.Unknown, snap.DeviceType)
	s.Empty(snap.Raw)
	s.Empty(snap.Entries)

	stats := s.store.Stats()
	s.Equal(DefaultRawCapacity, stats.RawCap)
	s.Equal(DefaultEntryCapacity, stats.EntryCap)
}

func (s *StoreTestSuite) TestCommitWakeFrame() {
	// GOAL: A recognized frame appends its raw text and entries and classifies the device
	s.Require().NoError(s.commit(wakeFrame))

	snap := s.store.Snapshot()
	s.Equal(telemetry.KindA, snap.DeviceType)
	s.Require().Len(snap.Raw, 1)
	s.Equal(wakeFrame, snap.Raw[0].Text)
	s.Len(snap.Entries, 7)
	s.Equal(telemetry.Runtime, snap.Entries[0].Kind)

	s.Require().NotEmpty(s.hook.AllEntries())
	s.Equal("Device classified", s.hook.LastEntry().Message)
}

func (s *StoreTestSuite) TestClassificationIsStickyAcrossUnknownAndMalformed() {
	s.Require().NoError(s.commit(wakeFrame))

	// Unknown header: raw is kept, type unchanged
	s.Require().NoError(s.commit("BOGUS;1;2"))
	// Malformed known header: raw is kept, no entries, type unchanged
	s.Require().Error(s.commit("WAKE;abc;0.5;1;0.1;0.2;0.3;5.0"))
	s.Require().NoError(s.commit(""))

	snap := s.store.Snapshot()
	s.Equal(telemetry.KindA, snap.DeviceType)
	s.Len(snap.Raw, 4)
	s.Len(snap.Entries, 7)
}

func (s *StoreTestSuite) TestClassificationOverwrittenByOtherKnownHeader() {
	s.Require().NoError(s.commit(wakeFrame))
	s.Require().NoError(s.commit(mainFrame))

	s.Equal(telemetry.KindB, s.store.DeviceType())
	s.Equal("Device type changed", s.hook.LastEntry().Message)
	s.Equal(logrus.WarnLevel, s.hook.LastEntry().Level)
}

func (s *StoreTestSuite) TestClearResetsEverything() {
	s.Require().NoError(s.commit(mainFrame))
	s.Require().Equal(telemetry.KindB, s.store.DeviceType())

	s.store.Clear()

	snap := s.store.Snapshot()
	s.Equal(telemetry.Unknown, snap.DeviceType)
	s.Empty(snap.Raw)
	s.Empty(snap.Entries)

	s.Require().NoError(s.commit(wakeFrame))
	s.Equal(telemetry.KindA, s.store.DeviceType())
	s.Len(s.store.Raw(), 1)
}

func (s *StoreTestSuite) TestPushRawOnlyTouchesRawLog() {
	s.store.PushRaw(RawFrame{Text: "hello"})

	s.Len(s.store.Raw(), 1)
	s.Empty(s.store.Entries())
	s.Equal(telemetry.Unknown, s.store.DeviceType())
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func TestStore_RawLogKeepsNewestFrames(t *testing.T) {
	// TEST SCENARIO: 5001 frames into a 5000-frame log keep frames #2..#5001
	s := New(Options{RawCapacity: DefaultRawCapacity}, nil)

	for i := 1; i <= DefaultRawCapacity+1; i++ {
		s.PushRaw(RawFrame{Text: fmt.Sprintf("frame-%d", i)})
	}

	raw := s.Raw()
	require.Len(t, raw, DefaultRawCapacity)
	assert.Equal(t, "frame-2", raw[0].Text)
	assert.Equal(t, fmt.Sprintf("frame-%d", DefaultRawCapacity+1), raw[len(raw)-1].Text)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.RawEvicted)
	assert.Equal(t, int64(DefaultRawCapacity+1), stats.FramesWritten)
}

func TestStore_EntryCapacityDefaultsFromRaw(t *testing.T) {
	s := New(Options{RawCapacity: 10}, nil)
	stats := s.Stats()

	assert.Equal(t, 10, stats.RawCap)
	assert.Equal(t, 10*DefaultEntriesPerFrame, stats.EntryCap)
}

func TestStore_EntryLogBounded(t *testing.T) {
	s := New(Options{RawCapacity: 4, EntryCapacity: 10}, nil)
	d := telemetry.MustNewDecoder(telemetry.WithSequence())

	for i := 1; i <= 5; i++ {
		frame := fmt.Sprintf("WAKE;%d;0.5;1;0.1;0.2;0.3;5.0", i)
		r, err := d.Decode(frame)
		require.NoError(t, err)
		s.Commit(RawFrame{Text: frame}, r)
	}

	entries := s.Entries()
	require.Len(t, entries, 10)
	assert.Len(t, s.Raw(), 4)

	// Only the tail of frame 4 and all of frame 5 remain, in order.
	assert.Equal(t, int64(4), entries[0].Sequence.Value)
	assert.Equal(t, telemetry.AxisY, entries[0].Kind)
	assert.Equal(t, int64(5), entries[len(entries)-1].Sequence.Value)
	assert.Equal(t, telemetry.RotationDelta, entries[len(entries)-1].Kind)
}

func TestStore_ConcurrentSnapshotsSeeWholeFrames(t *testing.T) {
	s := New(Options{RawCapacity: 50, EntryCapacity: 350}, nil)
	d := telemetry.MustNewDecoder()

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				if !assert.Equal(t, 0, len(snap.Entries)%7, "snapshot split a frame") {
					return
				}
				if !assert.LessOrEqual(t, len(snap.Raw), 50) {
					return
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		frame := fmt.Sprintf("WAKE;%d;0.5;1;0.1;0.2;0.3;5.0", i)
		r, err := d.Decode(frame)
		require.NoError(t, err)
		s.Commit(RawFrame{Text: frame}, r)
	}
	close(done)
	wg.Wait()
}

func TestStore_RawSinceReturnsOnlyNewFrames(t *testing.T) {
	s := New(Options{RawCapacity: 3}, nil)

	raw, total := s.RawSince(0)
	assert.Empty(t, raw)
	assert.Equal(t, int64(0), total)

	s.PushRaw(RawFrame{Text: "a"})
	s.PushRaw(RawFrame{Text: "b"})
	raw, total = s.RawSince(0)
	require.Len(t, raw, 2)
	assert.Equal(t, int64(2), total)

	// Five more frames into a ring of three: the two oldest new ones are gone.
	for _, text := range []string{"c", "d", "e", "f", "g"} {
		s.PushRaw(RawFrame{Text: text})
	}
	raw, total = s.RawSince(2)
	assert.Equal(t, int64(7), total)
	require.Len(t, raw, 3)
	assert.Equal(t, "e", raw[0].Text)
	assert.Equal(t, "g", raw[2].Text)

	raw, _ = s.RawSince(total)
	assert.Empty(t, raw)
}
