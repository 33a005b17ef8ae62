package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/glas/wqconnect/internal/testutils"
)

type MonitorCommandTestSuite struct {
	CommandTestSuite

	cancel context.CancelFunc
	result chan error
}

func (s *MonitorCommandTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.wait()
	}
	s.CommandTestSuite.TearDownTest()
}

// start runs monitor in the background until the test cancels it.
func (s *MonitorCommandTestSuite) start(args ...string) {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.result = make(chan error, 1)

	args = append([]string{"monitor", "--interval", "20ms", "--scan-window", "200ms"}, args...)
	go func() { s.result <- s.ExecuteCommandContext(ctx, args...) }()
}

// wait returns the command error.
func (s *MonitorCommandTestSuite) wait() error {
	select {
	case err := <-s.result:
		s.cancel()
		s.cancel = nil
		return err
	case <-time.After(s.TestTimeout):
		s.FailNow("monitor did not exit")
		return nil
	}
}

func (s *MonitorCommandTestSuite) TestMonitorStreamsFramesUntilInterrupted() {
	// GOAL: monitor connects, prints every frame and, on Ctrl+C, disconnects
	// and prints the latest value of each measurement
	//
	// TEST SCENARIO: Two WAKE frames arrive, then the context is cancelled
	s.start(testutils.ProbeAddress)
	s.Eventually(func() bool { return s.Client.Subscribed() }, "monitor MUST subscribe")

	s.Client.Notify(wakeFrame)
	s.Client.Notify("WAKE;121;0.75;15001;0.10;0.20;0.30;6.5")
	s.Eventually(func() bool { return strings.Contains(s.Stdout.String(), "runtime=121") })

	s.cancel()
	s.Require().NoError(s.wait())

	out := s.Stdout.String()
	s.Contains(out, "Connected to GLAS Main (aa:bb:cc:dd:ee:01)")
	s.Contains(out, "runtime=120 acoustic_level=0.5")
	s.Contains(out, "GLAS Main (aa:bb:cc:dd:ee:01): 2 frames, device type wake")
	s.Contains(out, "rotation_delta  6.5")
	s.Eventually(func() bool { return s.Client.Cancelled() == 1 })
	s.False(s.Client.Subscribed())
}

func (s *MonitorCommandTestSuite) TestMonitorJSONLines() {
	s.start(testutils.ProbeAddress, "--format", "json")
	s.Eventually(func() bool { return s.Client.Subscribed() })

	s.Client.Notify("BOGUS;1;2;3")
	s.Eventually(func() bool { return strings.Contains(s.Stdout.String(), "BOGUS") })

	s.cancel()
	s.Require().NoError(s.wait())

	lines := strings.Split(strings.TrimSpace(s.Stdout.String()), "\n")
	s.Require().Len(lines, 2)
	testutils.AssertJSONEquals(s.T(), `{
		"received_at": "<<PRESENCE>>",
		"frame": "BOGUS;1;2;3",
		"device_type": "unknown",
		"entries": []
	}`, lines[0])
	testutils.AssertJSONEquals(s.T(), `{
		"peer": {"address": "aa:bb:cc:dd:ee:01", "name": "GLAS Main"},
		"device_type": "unknown",
		"frames": 1,
		"latest": {}
	}`, lines[1])
}

func (s *MonitorCommandTestSuite) TestMonitorReportsLinkLoss() {
	s.start(testutils.ProbeAddress)
	s.Eventually(func() bool { return s.Client.Subscribed() })

	s.Client.DropLink()

	s.ErrorIs(s.wait(), ErrConnectionLost)
}

func (s *MonitorCommandTestSuite) TestMonitorUnknownProbe() {
	s.start("11:22:33:44:55:66")

	err := s.wait()
	s.ErrorIs(err, ErrProbeNotFound)
	s.Contains(FormatUserError(err), "11:22:33:44:55:66")
	s.Empty(s.Adapter.Dials())
}

func (s *MonitorCommandTestSuite) TestMonitorRequiresAddress() {
	err := s.ExecuteCommand("monitor")
	s.Error(err)
}

func TestMonitorCommandTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorCommandTestSuite))
}
