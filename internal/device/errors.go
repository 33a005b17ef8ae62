package device

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing GATT service or characteristic, or a device
// that was not discovered.
type NotFoundError struct {
	Resource string   // "service", "characteristic" or "device"
	UUIDs    []string // [service], [service, characteristic] or [address]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// ConnectionState names a connection-slot failure.
type ConnectionState string

const (
	NotConnected      ConnectionState = "not_connected"
	AlreadyConnected  ConnectionState = "already_connected"
	ConnectInProgress ConnectionState = "connect_in_progress"
)

// ConnectionError is a rejected connection-slot transition.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is matches ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	return ok && e.State == t.State
}

var (
	ErrNotConnected      = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected  = &ConnectionError{State: AlreadyConnected}
	ErrConnectInProgress = &ConnectionError{State: ConnectInProgress}
)

var (
	// ErrPeripheralUnavailable means the platform could not reach or keep the
	// peripheral. The manager stays (or returns to) Disconnected.
	ErrPeripheralUnavailable = errors.New("peripheral unavailable")
	// ErrSubscriptionFailed means notifications could not be enabled on the
	// telemetry characteristic.
	ErrSubscriptionFailed = errors.New("subscription failed")
	// ErrBluetoothOff means the host radio is powered off or missing.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrTimeout      = errors.New("timeout")
)

// IsConnectionState reports whether err is a ConnectionError with state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Unavailable wraps err as ErrPeripheralUnavailable unless it already carries
// a more specific sentinel.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPeripheralUnavailable) || errors.Is(err, ErrBluetoothOff) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPeripheralUnavailable, err)
}
