package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/glas/wqconnect/internal/device"
)

// NewTestLogger returns a debug-level logger that records entries instead of
// printing them.
func NewTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// HasLogMessage reports whether hook captured an entry with msg.
func HasLogMessage(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// MockPeripheralSuite wires a MockAdapter, a MockRegistry and one GLAS probe
// for suites that drive the connection pipeline.
//
// Embedding suites configure s.Advertisements or s.Peripheral before calling
// MockPeripheralSuite.SetupTest, or use the defaults: one MAIN probe at
// ProbeAddress advertising the MAIN service.
type MockPeripheralSuite struct {
	suite.Suite

	Logger  *logrus.Logger
	LogHook *test.Hook

	Adapter  *MockAdapter
	Registry *MockRegistry

	Peripheral     *PeripheralBuilder
	Advertisements []device.Advertisement
	Client         *MockClient

	TestTimeout time.Duration
}

// ProbeAddress is the address of the default test probe.
const ProbeAddress = "AA:BB:CC:DD:EE:01"

func (s *MockPeripheralSuite) SetupTest() {
	s.Logger, s.LogHook = NewTestLogger()
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	if s.Peripheral == nil {
		s.Peripheral = NewGLASPeripheral(ProbeAddress, MainServiceUUID)
	}
	if s.Advertisements == nil {
		s.Advertisements = []device.Advertisement{
			NewAdvertisementBuilder().
				WithName("GLAS Main").
				WithAddress(ProbeAddress).
				WithServices(MainServiceUUID).
				Build(),
		}
	}

	s.Client = s.Peripheral.Build()
	s.Adapter = NewMockAdapter().
		WithAdvertisements(s.Advertisements...).
		WithClient(s.Client)
	s.Registry = &MockRegistry{}
}

func (s *MockPeripheralSuite) TearDownTest() {
	s.Peripheral = nil
	s.Advertisements = nil
}

// Eventually waits up to TestTimeout for cond.
func (s *MockPeripheralSuite) Eventually(cond func() bool, msgAndArgs ...interface{}) bool {
	return s.Suite.Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
