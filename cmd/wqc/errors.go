package main

import (
	"errors"
	"fmt"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/telemetry"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the probe dropped the link while monitoring.
	ErrConnectionLost = errors.New("connection lost")
	// ErrProbeNotFound indicates the requested probe did not advertise during
	// the scan window.
	ErrProbeNotFound = errors.New("probe not found")
)

// FormatUserError turns pipeline errors into messages for the terminal.
func FormatUserError(err error) string {
	var nf *device.NotFoundError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off: enable it and try again"
	case errors.Is(err, ErrProbeNotFound):
		return fmt.Sprintf("%v (is the probe powered on and in range? try a longer --scan-window)", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the probe was lost"
	case errors.Is(err, device.ErrSubscriptionFailed):
		return fmt.Sprintf("connected, but the probe refused telemetry notifications: %v", err)
	case errors.Is(err, device.ErrPeripheralUnavailable):
		return fmt.Sprintf("probe unavailable: %v", err)
	case device.IsConnectionState(err, device.AlreadyConnected):
		return "another probe is already connected"
	case device.IsConnectionState(err, device.ConnectInProgress):
		return "a connection attempt is already in progress"
	case errors.Is(err, telemetry.ErrMalformedFrame):
		return err.Error()
	case errors.As(err, &nf):
		return nf.Error()
	default:
		return err.Error()
	}
}
