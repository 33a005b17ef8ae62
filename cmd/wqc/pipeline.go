package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/bluez"
	"github.com/glas/wqconnect/internal/device"
	goble "github.com/glas/wqconnect/internal/device/go-ble"
	"github.com/glas/wqconnect/internal/listener"
	"github.com/glas/wqconnect/internal/snapshot"
	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
	"github.com/glas/wqconnect/pkg/config"
	"github.com/glas/wqconnect/pkg/connection"
)

// Platform hooks. Tests swap them for mocks.
var (
	newAdapter = func(logger *logrus.Logger) (device.Adapter, io.Closer, error) {
		a := goble.NewAdapter(logger)
		return a, a, nil
	}

	newRegistry = func(logger *logrus.Logger) device.PeerRegistry {
		r, err := bluez.NewRegistry(logger)
		if err != nil {
			logger.WithError(err).Debug("Connected-peer registry unavailable")
			return nil
		}
		return r
	}
)

// pipeline is the assembled ingestion stack of one command run.
type pipeline struct {
	cfg      *config.Config
	logger   *logrus.Logger
	decoder  *telemetry.Decoder
	store    *store.Store
	accessor *snapshot.Accessor
	manager  *connection.Manager
	closers  []io.Closer
}

func newDecoder(cfg *config.Config) (*telemetry.Decoder, error) {
	var opts []telemetry.DecoderOption
	if cfg.StampSequence {
		opts = append(opts, telemetry.WithSequence())
	}
	return telemetry.NewDecoder(opts...)
}

func newPipeline(cfg *config.Config, logger *logrus.Logger) (*pipeline, error) {
	decoder, err := newDecoder(cfg)
	if err != nil {
		return nil, err
	}

	adapter, closer, err := newAdapter(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluetooth adapter: %w", err)
	}
	p := &pipeline{cfg: cfg, logger: logger, decoder: decoder}
	if closer != nil {
		p.closers = append(p.closers, closer)
	}

	registry := newRegistry(logger)
	if c, ok := registry.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}

	p.store = store.New(cfg.StoreOptions(), logger)
	p.accessor = snapshot.New(p.store)

	l, err := listener.New(decoder, p.store, cfg.ListenerOptions(), logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.manager, err = connection.New(adapter, registry, l, p.store, connection.OptionsFromConfig(cfg), logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close stops the manager and releases platform handles.
func (p *pipeline) Close() {
	if p.manager != nil {
		p.manager.Close()
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			p.logger.WithError(err).Debug("Close failed")
		}
	}
	p.closers = nil
}
