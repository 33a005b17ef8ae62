package listener_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/framing"
	"github.com/glas/wqconnect/internal/listener"
	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
	"github.com/glas/wqconnect/internal/testutils"
)

const wakeFrame = "WAKE;120;0.50;15000;0.10;0.20;0.30;5.0"

type ListenerTestSuite struct {
	testutils.MockPeripheralSuite

	store    *store.Store
	listener *listener.Listener
	cancel   context.CancelFunc
}

func (s *ListenerTestSuite) SetupTest() {
	s.MockPeripheralSuite.SetupTest()

	s.store = store.New(store.DefaultOptions(), s.Logger)
	l, err := listener.New(telemetry.MustNewDecoder(), s.store, listener.Options{}, s.Logger)
	s.Require().NoError(err)
	s.listener = l

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(s.listener.Start(ctx))
}

func (s *ListenerTestSuite) TearDownTest() {
	s.listener.Stop()
	s.cancel()
	s.MockPeripheralSuite.TearDownTest()
}

func (s *ListenerTestSuite) attach() {
	s.Require().NoError(s.listener.Attach(s.Client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))
}

func (s *ListenerTestSuite) TestNotificationsReachStore() {
	s.attach()
	s.True(s.listener.Attached())

	s.True(s.Client.Notify(wakeFrame))
	s.Client.Notify("BOGUS;1;2;3")

	s.Eventually(func() bool { return len(s.store.Raw()) == 2 })

	snap := s.store.Snapshot()
	s.Equal(telemetry.KindA, snap.DeviceType)
	s.Len(snap.Entries, 7)
	s.Equal(wakeFrame, snap.Raw[0].Text)
	s.Equal("aa:bb:cc:dd:ee:01", snap.Raw[0].Peer)
	s.Equal("BOGUS;1;2;3", snap.Raw[1].Text)

	m := s.listener.GetMetrics()
	s.Equal(int64(2), m.Chunks)
	s.Equal(int64(2), m.Frames)
}

func (s *ListenerTestSuite) TestMalformedFrameLoggedButCounted() {
	s.attach()

	s.Client.Notify("WAKE;x;0.5;1;0.1;0.2;0.3;5.0")
	s.Eventually(func() bool { return s.listener.GetMetrics().Frames == 1 })

	s.Equal(int64(1), s.listener.GetMetrics().Malformed)
	s.Len(s.store.Raw(), 1)
	s.Empty(s.store.Entries())
	s.Equal(telemetry.Unknown, s.store.DeviceType())
	s.True(testutils.HasLogMessage(s.LogHook, "Malformed frame"))
}

func (s *ListenerTestSuite) TestInvalidUTF8BecomesEmptyFrame() {
	s.attach()

	s.Client.NotifyBytes([]byte{0xff, 0xfe, 0x57})
	s.Eventually(func() bool { return s.listener.GetMetrics().Frames == 1 })

	raw := s.store.Raw()
	s.Require().Len(raw, 1)
	s.Equal("", raw[0].Text)
	s.Equal(int64(1), s.listener.GetMetrics().InvalidText)
	s.Equal(telemetry.Unknown, s.store.DeviceType())
}

func (s *ListenerTestSuite) TestDetachStopsIngestion() {
	s.attach()
	s.Client.Notify(wakeFrame)
	s.Eventually(func() bool { return len(s.store.Raw()) == 1 })

	s.listener.Detach()
	s.False(s.listener.Attached())
	s.False(s.Client.Subscribed())
	s.Equal(1, s.Client.Unsubscribed())

	s.False(s.Client.Notify(wakeFrame), "handler removed on detach")
	s.listener.Drain()
	s.Len(s.store.Raw(), 1)

	// Detach twice is harmless.
	s.listener.Detach()
	s.Equal(1, s.Client.Unsubscribed())
}

func (s *ListenerTestSuite) TestSubscriptionFailureLeavesListenerIdle() {
	client := testutils.NewGLASPeripheral("11:22:33:44:55:66", testutils.MainServiceUUID).
		WithSubscribeError(errors.New("att: write not permitted")).
		Build()

	err := s.listener.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID)
	s.ErrorIs(err, device.ErrSubscriptionFailed)
	s.False(s.listener.Attached())
	s.True(testutils.HasLogMessage(s.LogHook, "Failed to subscribe to telemetry"))
}

func (s *ListenerTestSuite) TestReattachMovesToNewPeer() {
	s.attach()
	s.Client.Notify(wakeFrame)
	s.Eventually(func() bool { return len(s.store.Raw()) == 1 })

	other := testutils.NewGLASPeripheral("11:22:33:44:55:66", testutils.MainServiceUUID).Build()
	s.Require().NoError(s.listener.Attach(other, testutils.MainServiceUUID, testutils.TelemetryCharUUID))

	s.False(s.Client.Subscribed(), "previous peer unsubscribed")
	other.Notify("MAIN;1;2024/5/1/12/30/0/2/122;3.9;21.5;22.0;7.1;12")
	s.Eventually(func() bool { return len(s.store.Raw()) == 2 })

	raw := s.store.Raw()
	s.Equal("11:22:33:44:55:66", raw[1].Peer)
	s.Equal(telemetry.KindB, s.store.DeviceType())
}

func TestListenerTestSuite(t *testing.T) {
	suite.Run(t, new(ListenerTestSuite))
}

// recordingSink records commits and can block inside Commit.
type recordingSink struct {
	mu     sync.Mutex
	frames []string
	gate   chan struct{}
}

func (r *recordingSink) Commit(frame store.RawFrame, _ telemetry.Result) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.frames = append(r.frames, frame.Text)
	r.mu.Unlock()
}

func (r *recordingSink) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func TestListener_QueuedChunksOfDetachedSessionAreDropped(t *testing.T) {
	// TEST SCENARIO: chunks queued before Detach never reach the sink
	logger, _ := testutils.NewTestLogger()
	sink := &recordingSink{}
	l, err := listener.New(telemetry.MustNewDecoder(), sink, listener.Options{}, logger)
	require.NoError(t, err)

	client := testutils.NewGLASPeripheral(testutils.ProbeAddress, testutils.MainServiceUUID).Build()
	require.NoError(t, l.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))

	// Worker not started: chunks stay queued.
	for i := 0; i < 5; i++ {
		client.Notify(fmt.Sprintf("WAKE;%d;0.5;1;0.1;0.2;0.3;5.0", i))
	}
	l.Detach()
	l.Drain()

	assert.Empty(t, sink.Frames())
	m := l.GetMetrics()
	assert.Equal(t, int64(5), m.Chunks)
	assert.Equal(t, int64(5), m.Stale)
	assert.Zero(t, m.Frames)
}

func TestListener_PreservesArrivalOrder(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	sink := &recordingSink{}
	l, err := listener.New(telemetry.MustNewDecoder(), sink, listener.Options{}, logger)
	require.NoError(t, err)

	client := testutils.NewGLASPeripheral(testutils.ProbeAddress, testutils.MainServiceUUID).Build()
	require.NoError(t, l.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))

	var want []string
	for i := 0; i < 100; i++ {
		f := fmt.Sprintf("WAKE;%d;0.5;1;0.1;0.2;0.3;5.0", i)
		want = append(want, f)
		client.Notify(f)
	}
	l.Drain()

	assert.Equal(t, want, sink.Frames())
}

func TestListener_QueueOverflowDropsOldest(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	sink := &recordingSink{}
	l, err := listener.New(telemetry.MustNewDecoder(), sink, listener.Options{QueueSize: 8}, logger)
	require.NoError(t, err)

	client := testutils.NewGLASPeripheral(testutils.ProbeAddress, testutils.MainServiceUUID).Build()
	require.NoError(t, l.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))

	const sent = 64
	for i := 0; i < sent; i++ {
		client.Notify(fmt.Sprintf("frame-%d", i))
	}
	l.Drain()

	frames := sink.Frames()
	m := l.GetMetrics()
	require.NotEmpty(t, frames)
	assert.Less(t, len(frames), sent)
	assert.Positive(t, m.Overwritten)
	assert.Equal(t, fmt.Sprintf("frame-%d", sent-1), frames[len(frames)-1], "newest chunk survives")
}

func TestListener_LineModeReassembles(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	st := store.New(store.DefaultOptions(), logger)
	l, err := listener.New(telemetry.MustNewDecoder(), st, listener.Options{FrameMode: framing.LineDelimited}, logger)
	require.NoError(t, err)

	client := testutils.NewGLASPeripheral(testutils.ProbeAddress, testutils.MainServiceUUID).Build()
	require.NoError(t, l.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))

	client.Notify("WAKE;120;0.50;15")
	client.Notify("000;0.10;0.20;0.30;5.0\nWAKE;121;0.5")
	l.Drain()

	require.Len(t, st.Raw(), 1)
	assert.Equal(t, wakeFrame, st.Raw()[0].Text)

	// The partial frame of the old session is discarded on detach.
	l.Detach()
	require.NoError(t, l.Attach(client, testutils.MainServiceUUID, testutils.TelemetryCharUUID))
	client.Notify("0;15000;0.10;0.20;0.30;5.0\n")
	l.Drain()

	raw := st.Raw()
	require.Len(t, raw, 2)
	assert.Equal(t, "0;15000;0.10;0.20;0.30;5.0", raw[1].Text)
	assert.Equal(t, telemetry.KindA, st.DeviceType())
}

func TestListener_StartTwice(t *testing.T) {
	l, err := listener.New(telemetry.MustNewDecoder(), &recordingSink{}, listener.Options{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))
	assert.Error(t, l.Start(ctx))
	l.Stop()
}

func TestNew_Validation(t *testing.T) {
	_, err := listener.New(nil, &recordingSink{}, listener.Options{}, nil)
	assert.Error(t, err)

	_, err = listener.New(telemetry.MustNewDecoder(), &recordingSink{}, listener.Options{QueueSize: listener.MaxQueueSize + 1}, nil)
	assert.Error(t, err)
}
