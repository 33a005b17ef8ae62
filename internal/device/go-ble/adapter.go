// Package goble implements the device interfaces on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/device"
)

// DeviceFactory creates the host ble.Device. Tests replace it with a mock.
//
//nolint:revive // referenced as goble.DeviceFactory from test suites
var DeviceFactory = newPlatformDevice

// Adapter is a device.Adapter backed by one go-ble host device. The host
// device is opened lazily on first use and shared by scans and dials.
type Adapter struct {
	mu     sync.Mutex
	dev    ble.Device
	logger *logrus.Logger
}

// NewAdapter returns an adapter; the radio is not opened until needed.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		a.logger.WithField("error", err).Error("Failed to open BLE host device")
		return nil, NormalizeError(err)
	}
	a.dev = dev
	return dev, nil
}

// Scan reports advertisements until ctx is done. Expiry or cancellation of
// ctx is the normal way a scan ends and is not an error.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Dial connects to address. ctx bounds the attempt.
func (a *Adapter) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	a.logger.WithField("address", address).Debug("Dialing BLE device...")
	cln, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("Dial failed")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	return newClient(cln, address, a.logger), nil
}

// Close releases the host device.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return nil
	}
	err := a.dev.Stop()
	a.dev = nil
	return NormalizeError(err)
}
