package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/glas/wqconnect/internal/device"
)

// MockClient is a device.Client whose discovery and subscription results are
// driven by testify expectations. Subscribed handlers are kept so tests can
// push notifications with Notify.
type MockClient struct {
	mock.Mock

	address string

	mu           sync.Mutex
	handlers     map[string]func([]byte)
	unsubscribed int
	cancelled    int
	disconnected chan struct{}
	dropOnce     sync.Once
}

// NewMockClient returns a client for address with no expectations set.
func NewMockClient(address string) *MockClient {
	return &MockClient{
		address:      device.NormalizeAddress(address),
		handlers:     make(map[string]func([]byte)),
		disconnected: make(chan struct{}),
	}
}

func (m *MockClient) Address() string { return m.address }

func (m *MockClient) DiscoverProfile(ctx context.Context) (device.Profile, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.Profile), args.Error(1)
}

func (m *MockClient) Subscribe(serviceUUID, charUUID string, handler func([]byte)) error {
	args := m.Called(serviceUUID, charUUID)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[subscriptionKey(serviceUUID, charUUID)] = handler
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Unsubscribe(serviceUUID, charUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, subscriptionKey(serviceUUID, charUUID))
	m.unsubscribed++
	return nil
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

func (m *MockClient) CancelConnection() error {
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()
	m.DropLink()
	return nil
}

// Notify delivers data to every subscribed handler and reports whether any
// handler was subscribed.
func (m *MockClient) Notify(data string) bool {
	return m.NotifyBytes([]byte(data))
}

// NotifyBytes delivers a raw payload.
func (m *MockClient) NotifyBytes(data []byte) bool {
	m.mu.Lock()
	handlers := make([]func([]byte), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return len(handlers) > 0
}

// DropLink simulates the peripheral going out of range.
func (m *MockClient) DropLink() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// Subscribed reports whether a handler is registered.
func (m *MockClient) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers) > 0
}

// Cancelled returns how many times CancelConnection was called.
func (m *MockClient) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Unsubscribed returns how many times Unsubscribe was called.
func (m *MockClient) Unsubscribed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribed
}

func subscriptionKey(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}

// MockAdapter is a scripted device.Adapter. Scan reports the configured
// advertisements and then blocks until its context ends.
type MockAdapter struct {
	mu        sync.Mutex
	adverts   []device.Advertisement
	clients   map[string]*MockClient
	dialErrs  map[string]error
	dialDelay time.Duration
	scanErr   error
	scanHold  chan struct{}
	scans     int
	dials     []string
}

// NewMockAdapter returns an adapter with nothing to discover.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		clients:  make(map[string]*MockClient),
		dialErrs: make(map[string]error),
	}
}

// WithAdvertisements sets what the next scans report.
func (a *MockAdapter) WithAdvertisements(adverts ...device.Advertisement) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adverts = adverts
	return a
}

// WithClient makes Dial(client.Address()) succeed with client.
func (a *MockAdapter) WithClient(client *MockClient) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[client.Address()] = client
	return a
}

// WithDialError makes Dial(address) fail.
func (a *MockAdapter) WithDialError(address string, err error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dialErrs[device.NormalizeAddress(address)] = err
	return a
}

// WithDialDelay delays every Dial.
func (a *MockAdapter) WithDialDelay(d time.Duration) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dialDelay = d
	return a
}

// WithScanError makes Scan fail immediately.
func (a *MockAdapter) WithScanError(err error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanErr = err
	return a
}

// WithStuckScan makes Scan ignore its context and block until release is
// closed, like a platform that never honours cancellation.
func (a *MockAdapter) WithStuckScan(release chan struct{}) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanHold = release
	return a
}

func (a *MockAdapter) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	a.mu.Lock()
	a.scans++
	adverts := append([]device.Advertisement(nil), a.adverts...)
	scanErr := a.scanErr
	hold := a.scanHold
	a.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		handler(adv)
	}
	if hold != nil {
		<-hold
		return nil
	}
	<-ctx.Done()
	return nil
}

func (a *MockAdapter) Dial(ctx context.Context, address string) (device.Client, error) {
	addr := device.NormalizeAddress(address)

	a.mu.Lock()
	a.dials = append(a.dials, addr)
	delay := a.dialDelay
	err := a.dialErrs[addr]
	client := a.clients[addr]
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("no peripheral at %s", address)
	}
	return client, nil
}

// Scans returns how many scans were started.
func (a *MockAdapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Dials returns the addresses dialed, in order.
func (a *MockAdapter) Dials() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.dials...)
}

// MockRegistry is a device.PeerRegistry with settable answers.
type MockRegistry struct {
	mu    sync.Mutex
	peers []device.Peer
	err   error
	calls int
}

// SetPeers sets the connected peers reported from now on.
func (r *MockRegistry) SetPeers(peers ...device.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers, r.err = peers, nil
}

// SetError makes queries fail.
func (r *MockRegistry) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *MockRegistry) ConnectedPeers(context.Context, []string) ([]device.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]device.Peer(nil), r.peers...), nil
}

// Calls returns how many queries were made.
func (r *MockRegistry) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
