package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/testutils"
)

type ScanCommandTestSuite struct {
	CommandTestSuite
}

func (s *ScanCommandTestSuite) TestScanJSONListsProbes() {
	// GOAL: Only probes advertising a GLAS service are listed
	s.Adapter.WithAdvertisements(
		s.Advertisements[0],
		testutils.NewAdvertisementBuilder().
			WithName("Speaker").
			WithAddress("11:22:33:44:55:66").
			WithServices("110B").
			Build(),
	)

	err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "json")
	s.Require().NoError(err)

	testutils.AssertJSONEquals(s.T(), `[
		{"address": "aa:bb:cc:dd:ee:01", "name": "GLAS Main", "rssi": -50, "state": "advertising"}
	]`, s.Stdout.String())
}

func (s *ScanCommandTestSuite) TestScanTableMarksProbeHeldByOtherApp() {
	s.Registry.SetPeers(device.NewPeer(testutils.ProbeAddress, "GLAS Main", 0))

	err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	out := s.Stdout.String()
	s.Contains(out, "NAME")
	s.Contains(out, "aa:bb:cc:dd:ee:01")
	s.Contains(out, "-50 dBm")
	s.Contains(out, "connected (other app)")
	s.Empty(s.Adapter.Dials())
}

func (s *ScanCommandTestSuite) TestScanWithoutProbes() {
	s.Adapter.WithAdvertisements()

	s.Require().NoError(s.ExecuteCommand("scan", "-d", "50ms"))
	s.Equal("No probes discovered\n", s.Stdout.String())
}

func (s *ScanCommandTestSuite) TestScanRejectsInvalidFormat() {
	err := s.ExecuteCommand("scan", "--format", "xml")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format 'xml'")
	s.Equal(0, s.Adapter.Scans())
}

func (s *ScanCommandTestSuite) TestScanBluetoothOff() {
	s.Adapter.WithScanError(device.ErrBluetoothOff)

	err := s.ExecuteCommand("scan", "-d", "50ms")

	s.Require().ErrorIs(err, device.ErrBluetoothOff)
	s.Contains(FormatUserError(err), "Bluetooth is turned off")
}

func (s *ScanCommandTestSuite) TestScanReadsConfigFile() {
	// GOAL: The config file sets the scan window and, without --log-level,
	// the log level
	path := filepath.Join(s.T().TempDir(), "wqc.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("scan_window: 50ms\nlog_level: debug\n"), 0o600))

	err := s.ExecuteCommand("--config", path, "scan", "--format", "json")
	s.Require().NoError(err)

	s.Contains(s.Stdout.String(), `"GLAS Main"`)
	s.Contains(s.Stderr.String(), "Scanning for probes...")
	s.Contains(s.Stderr.String(), "window=50ms")
}

func (s *ScanCommandTestSuite) TestScanRejectsBadConfigFile() {
	path := filepath.Join(s.T().TempDir(), "wqc.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("frame_mode: morse\n"), 0o600))

	err := s.ExecuteCommand("--config", path, "scan")
	s.Require().Error(err)
	s.Equal(0, s.Adapter.Scans())
}

func TestScanCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}
