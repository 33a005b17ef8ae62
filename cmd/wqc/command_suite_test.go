package main

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/testutils"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs wqc commands against the mock BLE platform.
// All cmd/wqc suites embed it.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite

	Stdout *syncBuffer
	Stderr *syncBuffer

	restore func()
}

func (s *CommandTestSuite) SetupTest() {
	s.MockPeripheralSuite.SetupTest()
	color.NoColor = true

	origAdapter, origRegistry := newAdapter, newRegistry
	newAdapter = func(*logrus.Logger) (device.Adapter, io.Closer, error) {
		return s.Adapter, nil, nil
	}
	newRegistry = func(*logrus.Logger) device.PeerRegistry {
		return s.Registry
	}
	s.restore = func() {
		newAdapter, newRegistry = origAdapter, origRegistry
	}

	resetFlags(rootCmd)
	s.Stdout, s.Stderr = &syncBuffer{}, &syncBuffer{}
	rootCmd.SetOut(s.Stdout)
	rootCmd.SetErr(s.Stderr)
	rootCmd.SetIn(nil)
}

func (s *CommandTestSuite) TearDownTest() {
	s.restore()
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetIn(nil)
	s.MockPeripheralSuite.TearDownTest()
}

// ExecuteCommand runs wqc with args and returns its error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) error {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext runs wqc with args under ctx.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
