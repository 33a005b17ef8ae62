package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/groutine"
)

// client is a device.Client over a go-ble connection.
type client struct {
	cln     ble.Client
	address string
	logger  *logrus.Logger

	mu      sync.Mutex
	profile *ble.Profile
	subs    map[string]*ble.Characteristic // key: service/char, normalized

	closeOnce    sync.Once
	disconnected chan struct{}
}

func newClient(cln ble.Client, address string, logger *logrus.Logger) *client {
	c := &client{
		cln:          cln,
		address:      device.NormalizeAddress(address),
		logger:       logger,
		subs:         make(map[string]*ble.Characteristic),
		disconnected: make(chan struct{}),
	}

	// Forward the platform disconnect signal when the backend provides one.
	if src, ok := cln.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-src.Disconnected():
				logger.WithField("address", c.address).Debug("Platform reported disconnection")
				c.markDisconnected()
			case <-c.disconnected:
			}
		})
	} else {
		logger.Debug("Client does not expose a Disconnected() channel")
	}
	return c
}

func (c *client) Address() string {
	return c.address
}

// DiscoverProfile runs full GATT discovery. go-ble discovery is not
// cancellable, so an expired ctx tears the link down to unblock it.
func (c *client) DiscoverProfile(ctx context.Context) (device.Profile, error) {
	type result struct {
		p   *ble.Profile
		err error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, "ble-discover-profile", func(context.Context) {
		p, err := c.cln.DiscoverProfile(true)
		ch <- result{p: p, err: err}
	})

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		_ = c.CancelConnection()
		return device.Profile{}, fmt.Errorf("profile discovery: %w", ctx.Err())
	}
	if r.err != nil {
		return device.Profile{}, fmt.Errorf("failed to discover profile: %w", NormalizeError(r.err))
	}

	c.mu.Lock()
	c.profile = r.p
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address":  c.address,
		"services": len(r.p.Services),
	}).Debug("Profile discovered")
	return toProfile(r.p), nil
}

func toProfile(p *ble.Profile) device.Profile {
	out := device.Profile{Services: make([]device.ServiceProfile, 0, len(p.Services))}
	for _, s := range p.Services {
		sp := device.ServiceProfile{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, ch := range s.Characteristics {
			sp.Characteristics = append(sp.Characteristics, device.CharacteristicProfile{
				UUID:   device.NormalizeUUID(ch.UUID.String()),
				Notify: ch.Property&(ble.CharNotify|ble.CharIndicate) != 0,
			})
		}
		out.Services = append(out.Services, sp)
	}
	return out
}

func (c *client) characteristic(serviceUUID, charUUID string) (*ble.Characteristic, error) {
	if c.profile == nil {
		return nil, fmt.Errorf("profile not discovered")
	}
	svcID, charID := device.NormalizeUUID(serviceUUID), device.NormalizeUUID(charUUID)
	for _, s := range c.profile.Services {
		if device.NormalizeUUID(s.UUID.String()) != svcID {
			continue
		}
		for _, ch := range s.Characteristics {
			if device.NormalizeUUID(ch.UUID.String()) == charID {
				return ch, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// Subscribe enables notifications (or indications when that is all the
// characteristic offers) and routes every payload to handler.
func (c *client) Subscribe(serviceUUID, charUUID string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	indicate := ch.Property&ble.CharNotify == 0 && ch.Property&ble.CharIndicate != 0
	if ch.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", charUUID)
	}

	if err := c.cln.Subscribe(ch, indicate, handler); err != nil {
		return NormalizeError(err)
	}
	c.subs[subKey(serviceUUID, charUUID)] = ch
	return nil
}

// Unsubscribe disables notifications enabled by Subscribe.
func (c *client) Unsubscribe(serviceUUID, charUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subKey(serviceUUID, charUUID)
	ch, ok := c.subs[key]
	if !ok {
		return nil
	}
	delete(c.subs, key)
	indicate := ch.Property&ble.CharNotify == 0
	return NormalizeError(c.cln.Unsubscribe(ch, indicate))
}

func (c *client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// CancelConnection closes the link. It is safe to call more than once.
func (c *client) CancelConnection() error {
	select {
	case <-c.disconnected:
		return nil
	default:
	}
	err := c.cln.CancelConnection()
	c.markDisconnected()
	return NormalizeError(err)
}

func (c *client) markDisconnected() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

func subKey(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}
