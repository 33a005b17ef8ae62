// Package bluez answers "which peripherals is this host already connected
// to" by asking BlueZ over the system D-Bus. The connection manager uses it
// to adopt a probe linked by another process or by an earlier run.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/device"
)

const (
	busName            = "org.bluez"
	deviceIface        = "org.bluez.Device1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	// DefaultAdapter is the object path of the first HCI adapter.
	DefaultAdapter = "/org/bluez/hci0"
)

// managedObjects is the GetManagedObjects payload: path -> interface -> properties.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// objectSource fetches the BlueZ object tree. It is satisfied by the D-Bus
// connection and replaced in tests.
type objectSource interface {
	ManagedObjects(ctx context.Context) (managedObjects, error)
	Close() error
}

type busSource struct {
	conn *dbus.Conn
}

func (b *busSource) ManagedObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	err := b.conn.Object(busName, "/").
		CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).
		Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return objs, nil
}

func (b *busSource) Close() error {
	return b.conn.Close()
}

// Registry implements device.PeerRegistry on BlueZ.
type Registry struct {
	src    objectSource
	logger *logrus.Logger
}

var _ device.PeerRegistry = (*Registry)(nil)

// NewRegistry connects to the system bus and checks that BlueZ is running.
func NewRegistry(logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("%s not found on system bus: is bluetooth.service running?", busName)
	}

	return newRegistry(&busSource{conn: conn}, logger), nil
}

func newRegistry(src objectSource, logger *logrus.Logger) *Registry {
	return &Registry{src: src, logger: logger}
}

// Close releases the bus connection.
func (r *Registry) Close() error {
	return r.src.Close()
}

// ConnectedPeers returns devices BlueZ reports as connected that expose at
// least one of serviceUUIDs. An empty filter matches every connected device.
func (r *Registry) ConnectedPeers(ctx context.Context, serviceUUIDs []string) ([]device.Peer, error) {
	objs, err := r.src.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		want[device.NormalizeUUID(u)] = struct{}{}
	}

	var peers []device.Peer
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if connected, _ := props["Connected"].Value().(bool); !connected {
			continue
		}
		if len(want) > 0 && !offersAny(props, want) {
			continue
		}

		addr, _ := props["Address"].Value().(string)
		if addr == "" {
			addr = AddressFromPath(path)
		}
		name, _ := props["Alias"].Value().(string)
		if name == "" {
			name, _ = props["Name"].Value().(string)
		}
		rssi, _ := props["RSSI"].Value().(int16)

		peers = append(peers, device.NewPeer(addr, name, int(rssi)))
		r.logger.WithFields(logrus.Fields{
			"path":    path,
			"address": addr,
		}).Debug("Found connected peer")
	}
	return peers, nil
}

func offersAny(props map[string]dbus.Variant, want map[string]struct{}) bool {
	uuids, _ := props["UUIDs"].Value().([]string)
	for _, u := range uuids {
		if _, ok := want[device.NormalizeUUID(u)]; ok {
			return true
		}
	}
	return false
}

// DeviceObjectPath converts "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func DeviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(addr)), ":", "_")
	return dbus.ObjectPath(adapter + "/dev_" + escaped)
}

// AddressFromPath extracts the MAC address from a BlueZ device object path,
// or returns "" when path is not a device path.
func AddressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+len("/dev_"):], "_", ":")
}
