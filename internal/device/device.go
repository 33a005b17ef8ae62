package device

import (
	"context"
	"strings"
)

// DefaultName is shown for peripherals that advertise no local name.
const DefaultName = "Unnamed Device"

// Advertisement is one received advertising packet.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Peer identifies a peripheral. Two peers are the same device when their
// addresses match; the name is informational.
type Peer struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi,omitempty"`
}

// PeerFromAdvertisement builds a Peer, defaulting the name.
func PeerFromAdvertisement(adv Advertisement) Peer {
	return NewPeer(adv.Addr(), adv.LocalName(), adv.RSSI())
}

// NewPeer builds a Peer with a normalized address and a default name.
func NewPeer(address, name string, rssi int) Peer {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return Peer{Address: NormalizeAddress(address), Name: name, RSSI: rssi}
}

// Same reports whether p and other are the same device.
func (p Peer) Same(other Peer) bool {
	return p.Address == other.Address
}

// NormalizeAddress returns the canonical form of a peer address: trimmed and
// lowercase. Platform UUID identifiers (macOS) and MAC addresses (Linux) are
// both handled.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// CharacteristicProfile describes a discovered characteristic.
type CharacteristicProfile struct {
	UUID   string
	Notify bool
}

// ServiceProfile describes a discovered service.
type ServiceProfile struct {
	UUID            string
	Characteristics []CharacteristicProfile
}

// Profile is the discovered GATT layout of a peer. UUIDs are normalized.
type Profile struct {
	Services []ServiceProfile
}

// Characteristic returns the characteristic charUUID of serviceUUID.
func (p Profile) Characteristic(serviceUUID, charUUID string) (CharacteristicProfile, error) {
	svcID, charID := NormalizeUUID(serviceUUID), NormalizeUUID(charUUID)
	for _, s := range p.Services {
		if s.UUID != svcID {
			continue
		}
		for _, c := range s.Characteristics {
			if c.UUID == charID {
				return c, nil
			}
		}
		return CharacteristicProfile{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return CharacteristicProfile{}, &NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// FindNotifying returns the first of serviceUUIDs that carries a notifying
// charUUID.
func (p Profile) FindNotifying(serviceUUIDs []string, charUUID string) (string, error) {
	var lastErr error = &NotFoundError{Resource: "service", UUIDs: serviceUUIDs}
	for _, svc := range serviceUUIDs {
		c, err := p.Characteristic(svc, charUUID)
		if err != nil {
			lastErr = err
			continue
		}
		if c.Notify {
			return svc, nil
		}
		lastErr = &NotFoundError{Resource: "characteristic", UUIDs: []string{svc, charUUID}}
	}
	return "", lastErr
}

// Scanner discovers advertising peripherals. Scan blocks until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Adapter is the host radio: it scans and opens connections.
type Adapter interface {
	Scanner
	Dial(ctx context.Context, address string) (Client, error)
}

// Client is an open link to one peripheral.
type Client interface {
	Address() string
	DiscoverProfile(ctx context.Context) (Profile, error)
	Subscribe(serviceUUID, charUUID string, handler func([]byte)) error
	Unsubscribe(serviceUUID, charUUID string) error
	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
	CancelConnection() error
}

// PeerRegistry reports peripherals the host already holds a link to, including
// links opened by other processes.
type PeerRegistry interface {
	ConnectedPeers(ctx context.Context, serviceUUIDs []string) ([]Peer, error)
}
