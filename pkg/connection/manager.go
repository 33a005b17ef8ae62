package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/groutine"
	"github.com/glas/wqconnect/internal/listener"
	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
	"github.com/glas/wqconnect/pkg/config"
)

var (
	// ErrNotStarted is returned by commands issued before Start.
	ErrNotStarted = errors.New("connection manager not started")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("connection manager closed")
)

// Options configures a Manager.
type Options struct {
	ServiceUUIDs       []string
	CharacteristicUUID string
	ScanWindow         time.Duration
	ConnectTimeout     time.Duration
	ClearOnDisconnect  bool
}

// OptionsFromConfig extracts the manager settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServiceUUIDs:       cfg.ServiceUUIDs,
		CharacteristicUUID: cfg.CharacteristicUUID,
		ScanWindow:         cfg.ScanWindow,
		ConnectTimeout:     cfg.ConnectTimeout,
		ClearOnDisconnect:  cfg.ClearOnDisconnect,
	}
}

// scanRun is one discovery window.
type scanRun struct {
	id     uint64
	cancel context.CancelFunc
	timer  *time.Timer
	result chan error
}

// Manager owns the single peripheral slot.
//
// All state transitions run on one event loop goroutine. Public methods post
// a command to the loop and wait for it to be applied; platform callbacks
// (advertisements, dial results, link loss) are posted as events. Readers
// use Status, which is published atomically after every transition.
type Manager struct {
	adapter  device.Adapter
	registry device.PeerRegistry
	listener *listener.Listener
	store    *store.Store
	opts     Options
	logger   *logrus.Logger

	devices *hashmap.Map[string, device.Peer]
	status  atomic.Pointer[Status]

	events    chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  <-chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	observer func(Status)

	// Owned by the event loop.
	link      linkState
	peer      device.Peer
	client    device.Client
	adopted   bool
	attempt   uint64
	abortDial context.CancelFunc
	pending   chan error
	scan      *scanRun
	scanSeq   uint64
}

// New creates a manager. registry may be nil on platforms without a way to
// list system-held links.
func New(adapter device.Adapter, registry device.PeerRegistry, l *listener.Listener, s *store.Store, opts Options, logger *logrus.Logger) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if l == nil || s == nil {
		return nil, fmt.Errorf("listener and store are required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	uuids, err := device.ValidateUUID(opts.ServiceUUIDs...)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUIDs: %w", err)
	}
	opts.ServiceUUIDs = uuids
	if _, err := device.ValidateUUID(opts.CharacteristicUUID); err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	m := &Manager{
		adapter:  adapter,
		registry: registry,
		listener: l,
		store:    s,
		opts:     opts,
		logger:   logger,
		devices:  hashmap.New[string, device.Peer](),
		events:   make(chan func(), 256),
	}
	m.status.Store(&Status{State: Disconnected})
	return m, nil
}

// SetObserver registers fn to receive every published Status. It must be
// called before Start. fn runs on the event loop and must not call back into
// the manager.
func (m *Manager) SetObserver(fn func(Status)) {
	m.observer = fn
}

// Start runs the event loop and the telemetry listener until ctx ends or
// Close is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.started.Load() {
		return fmt.Errorf("connection manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.listener.Start(m.ctx); err != nil {
		m.cancel()
		return err
	}
	m.loopDone = groutine.Go(m.ctx, "connection-manager", m.run)
	m.started.Store(true)
	return nil
}

// Close releases the slot, stops discovery and the listener.
func (m *Manager) Close() {
	if !m.started.Load() {
		return
	}
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.loopDone
		m.listener.Stop()
	})
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-ctx.Done():
			m.shutdown()
			return
		}
	}
}

func (m *Manager) shutdown() {
	m.stopScan()
	if m.link != linkDown {
		m.release("shutdown")
	}
	m.logger.Debug("Connection manager stopped")
}

// post queues fn on the loop without waiting.
func (m *Manager) post(fn func()) {
	if !m.started.Load() {
		return
	}
	select {
	case m.events <- fn:
	case <-m.ctx.Done():
	}
}

// do runs fn on the loop and returns its error.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case m.events <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// publish stores the current Status and notifies the observer.
func (m *Manager) publish() {
	st := newStatus(m.link, m.peer, m.adopted, m.listener.Attached(), m.scan != nil)
	prev := m.status.Swap(&st)
	if prev != nil && *prev == st {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"state":   st.State,
		"peer":    st.Peer.Address,
		"adopted": st.Adopted,
	}).Debug("Connection state published")

	if m.observer != nil {
		m.observer(st)
	}
}

// Status returns the last published state.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// State returns the externally visible state.
func (m *Manager) State() State {
	return m.Status().State
}

// IsConnected reports whether a peer holds the slot.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Connected returns the peer holding the slot.
func (m *Manager) Connected() (device.Peer, bool) {
	st := m.Status()
	return st.Peer, st.State == Connected
}

// Devices returns the peers discovered since the last Scan, sorted by
// address.
func (m *Manager) Devices() []device.Peer {
	peers := make([]device.Peer, 0, m.devices.Len())
	m.devices.Range(func(_ string, p device.Peer) bool {
		peers = append(peers, p)
		return true
	})
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address < peers[j].Address
	})
	return peers
}

// DeviceType returns the classification of the current probe.
func (m *Manager) DeviceType() telemetry.DeviceType {
	return m.store.DeviceType()
}

// ClearHistory empties the telemetry store.
func (m *Manager) ClearHistory() {
	m.store.Clear()
}

// Scan reconciles the slot with the platform, clears the device list and
// discovers advertising probes for the configured scan window. It returns once
// discovery has started; the returned channel yields the scan error (nil on a
// normal end) and is then closed. A Scan issued while one is running restarts
// the window.
func (m *Manager) Scan(ctx context.Context) (<-chan error, error) {
	if err := m.RefreshCurrent(ctx); err != nil {
		return nil, err
	}

	var result chan error
	err := m.do(ctx, func() error {
		result = m.startScan()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) startScan() chan error {
	m.stopScan()
	m.clearDevices()
	if m.link != linkDown {
		m.devices.Set(m.peer.Address, m.peer)
	}

	m.scanSeq++
	run := &scanRun{id: m.scanSeq, result: make(chan error, 1)}
	scanCtx, cancel := context.WithTimeout(m.ctx, m.opts.ScanWindow)
	run.cancel = cancel
	m.scan = run

	// The window closes on the loop even if the platform scan ignores ctx.
	run.timer = time.AfterFunc(m.opts.ScanWindow, func() {
		m.post(func() { m.onScanEnded(run.id, nil) })
	})

	m.logger.WithFields(logrus.Fields{
		"window":   m.opts.ScanWindow,
		"services": m.opts.ServiceUUIDs,
	}).Info("Scanning for probes...")

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := m.adapter.Scan(ctx, false, func(adv device.Advertisement) {
			m.OnDiscovered(run.id, adv)
		})
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = nil
		}
		m.post(func() { m.onScanEnded(run.id, err) })
	})

	m.publish()
	return run.result
}

func (m *Manager) clearDevices() {
	var keys []string
	m.devices.Range(func(k string, _ device.Peer) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		m.devices.Del(k)
	}
}

// stopScan ends the running window, if any.
func (m *Manager) stopScan() {
	if m.scan == nil {
		return
	}
	m.scan.timer.Stop()
	m.scan.cancel()
	m.scan.result <- nil
	close(m.scan.result)
	m.scan = nil
}

func (m *Manager) onScanEnded(id uint64, err error) {
	if m.scan == nil || m.scan.id != id {
		return
	}
	run := m.scan
	m.scan = nil
	run.timer.Stop()
	run.cancel()

	if err != nil {
		m.logger.WithField("error", err).Error("Scan failed")
	} else {
		m.logger.WithField("devices", m.devices.Len()).Info("Scan finished")
	}
	m.publish()
	run.result <- err
	close(run.result)
}

// OnDiscovered records an advertisement seen by scan id. Advertisements
// from a superseded scan and peripherals that do not advertise a probe
// service are ignored.
func (m *Manager) OnDiscovered(scanID uint64, adv device.Advertisement) {
	if !advertisesAny(adv, m.opts.ServiceUUIDs) {
		return
	}
	peer := device.PeerFromAdvertisement(adv)

	m.post(func() {
		if m.scan == nil || m.scan.id != scanID {
			return
		}
		if _, ok := m.devices.Get(peer.Address); !ok {
			m.logger.WithFields(logrus.Fields{
				"address": peer.Address,
				"name":    peer.Name,
				"rssi":    peer.RSSI,
			}).Info("Discovered new device")
		}
		m.devices.Set(peer.Address, peer)
	})
}

func advertisesAny(adv device.Advertisement, serviceUUIDs []string) bool {
	for _, s := range adv.Services() {
		s = device.NormalizeUUID(s)
		for _, want := range serviceUUIDs {
			if s == want {
				return true
			}
		}
	}
	return false
}

// RefreshCurrent reconciles the slot with the peers the platform reports as
// connected. A session owned by this manager wins. Otherwise a connected
// probe is adopted, and a previously adopted probe that is gone is dropped.
// Registry errors count as "no peer". Repeated calls with an unchanged
// platform state leave the manager unchanged.
func (m *Manager) RefreshCurrent(ctx context.Context) error {
	var peers []device.Peer
	if m.registry != nil {
		found, err := m.registry.ConnectedPeers(ctx, m.opts.ServiceUUIDs)
		if err != nil {
			m.logger.WithField("error", err).Warn("Failed to query connected peers")
		} else {
			peers = found
		}
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address < peers[j].Address
	})

	return m.do(ctx, func() error {
		m.reconcile(peers)
		return nil
	})
}

func (m *Manager) reconcile(peers []device.Peer) {
	if m.link == linkConnecting || (m.link == linkUp && !m.adopted) {
		return
	}

	if len(peers) == 0 {
		if m.adopted {
			m.logger.WithField("peer", m.peer.Address).Info("Adopted peer is no longer connected")
			m.link, m.peer, m.adopted = linkDown, device.Peer{}, false
			m.publish()
		}
		return
	}

	p := peers[0]
	if m.adopted && m.peer.Same(p) {
		return
	}
	m.link, m.peer, m.adopted = linkUp, p, true
	m.devices.Set(p.Address, p)
	m.logger.WithFields(logrus.Fields{
		"address": p.Address,
		"name":    p.Name,
	}).Info("Adopted connected peer")
	m.publish()
}

// Connect dials a discovered probe and routes its telemetry into the store.
// It blocks until the attempt resolves or ctx ends; the attempt itself is
// bounded by the connect timeout. Unknown addresses leave the manager
// unchanged and return a *device.NotFoundError, which callers polling a
// device list may ignore. A busy slot is rejected with device.ErrAlreadyConnected or
// device.ErrConnectInProgress. When notifications cannot be enabled the link
// stays up and the error wraps device.ErrSubscriptionFailed.
func (m *Manager) Connect(ctx context.Context, address string) error {
	var result <-chan error
	err := m.do(ctx, func() error {
		r, err := m.beginConnect(address)
		result = r
		return err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

func (m *Manager) beginConnect(address string) (<-chan error, error) {
	addr := device.NormalizeAddress(address)
	peer, ok := m.devices.Get(addr)
	if !ok {
		m.logger.WithField("address", addr).Warn("Connect ignored: device not discovered")
		return nil, &device.NotFoundError{Resource: "device", UUIDs: []string{addr}}
	}

	switch m.link {
	case linkConnecting:
		return nil, device.ErrConnectInProgress
	case linkUp:
		if !m.adopted || !m.peer.Same(peer) {
			return nil, device.ErrAlreadyConnected
		}
		// Adopted peers carry no telemetry; dialing them opens our own session.
		m.adopted = false
	}

	m.attempt++
	id := m.attempt
	m.link, m.peer, m.client = linkConnecting, peer, nil
	m.pending = make(chan error, 1)

	dialCtx, cancel := context.WithTimeout(m.ctx, m.opts.ConnectTimeout)
	m.abortDial = cancel

	m.logger.WithFields(logrus.Fields{
		"address": peer.Address,
		"name":    peer.Name,
		"timeout": m.opts.ConnectTimeout,
	}).Info("Connecting to probe...")
	m.publish()

	groutine.Go(dialCtx, "ble-connect", func(ctx context.Context) {
		defer cancel()
		client, svc, err := m.dial(ctx, peer.Address)
		if err != nil {
			m.OnConnectFailed(id, err)
			return
		}
		m.OnConnected(id, client, svc)
	})
	return m.pending, nil
}

// dial opens the link and locates the telemetry service.
func (m *Manager) dial(ctx context.Context, address string) (device.Client, string, error) {
	client, err := m.adapter.Dial(ctx, address)
	if err != nil {
		return nil, "", err
	}

	profile, err := client.DiscoverProfile(ctx)
	if err != nil {
		_ = client.CancelConnection()
		return nil, "", fmt.Errorf("failed to discover profile: %w", err)
	}

	svc, err := profile.FindNotifying(m.opts.ServiceUUIDs, m.opts.CharacteristicUUID)
	if err != nil {
		_ = client.CancelConnection()
		return nil, "", err
	}
	return client, svc, nil
}

// resolve completes the pending Connect call, if any.
func (m *Manager) resolve(err error) {
	if m.pending == nil {
		return
	}
	m.pending <- err
	m.pending = nil
}

// OnConnected reports that attempt opened client and found the telemetry
// service serviceUUID. A superseded attempt has its link cancelled.
func (m *Manager) OnConnected(attempt uint64, client device.Client, serviceUUID string) {
	m.post(func() {
		if attempt != m.attempt || m.link != linkConnecting {
			m.logger.WithField("address", client.Address()).Debug("Dropping superseded connection")
			go func() { _ = client.CancelConnection() }()
			return
		}
		m.abortDial = nil
		m.link, m.client = linkUp, client

		m.logger.WithFields(logrus.Fields{
			"address": m.peer.Address,
			"service": serviceUUID,
		}).Info("Connected to probe")

		groutine.Go(m.ctx, "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-client.Disconnected():
				m.OnLinkLost(attempt)
			case <-ctx.Done():
			}
		})

		err := m.listener.Attach(client, serviceUUID, m.opts.CharacteristicUUID)
		m.publish()
		m.resolve(err)
	})
}

// OnConnectFailed reports that attempt failed. The slot returns to
// Disconnected with a PeripheralUnavailable error.
func (m *Manager) OnConnectFailed(attempt uint64, err error) {
	m.post(func() {
		if attempt != m.attempt || m.link != linkConnecting {
			return
		}
		err = device.Unavailable(err)
		m.abortDial = nil

		m.logger.WithFields(logrus.Fields{
			"address": m.peer.Address,
			"error":   err,
		}).Error("Failed to connect to probe")

		m.link, m.peer, m.client = linkDown, device.Peer{}, nil
		m.publish()
		m.resolve(err)
	})
}

// OnLinkLost reports that the link opened by attempt dropped. It is handled
// as a Disconnect.
func (m *Manager) OnLinkLost(attempt uint64) {
	m.post(func() {
		if attempt != m.attempt || m.link != linkUp || m.adopted {
			return
		}
		m.logger.WithField("peer", m.peer.Address).Warn("Link lost")
		m.release("link lost")
	})
}

// Disconnect releases the slot. The listener is detached before the link is
// cancelled, so no frame of the old session reaches the store afterwards.
// Disconnecting an idle manager is a no-op.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.link == linkDown {
			return nil
		}
		m.release("disconnect")
		return nil
	})
}

// release tears the slot down and applies the clear-on-disconnect policy.
func (m *Manager) release(reason string) {
	m.listener.Detach()

	if m.abortDial != nil {
		m.abortDial()
		m.abortDial = nil
	}
	if client := m.client; client != nil {
		groutine.Go(context.Background(), "ble-cancel-connection", func(context.Context) {
			if err := client.CancelConnection(); err != nil {
				m.logger.WithField("error", err).Debug("Cancel connection failed")
			}
		})
	}

	peer := m.peer
	m.link, m.peer, m.client, m.adopted = linkDown, device.Peer{}, nil, false
	if m.opts.ClearOnDisconnect {
		m.store.Clear()
	}

	m.logger.WithFields(logrus.Fields{
		"peer":   peer.Address,
		"reason": reason,
	}).Info("Disconnected")
	m.publish()
	m.resolve(device.Unavailable(errors.New("connection attempt aborted")))
}
