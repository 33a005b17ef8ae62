package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/pkg/connection"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <address>",
	Short: "Connect to a probe and stream its telemetry",
	Long: `Scan for the probe at <address>, connect to it and print every decoded
telemetry frame. Press Ctrl+C to disconnect; a summary with the latest value
of each measurement is printed on exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorFormat     string
	monitorInterval   time.Duration
	monitorScanWindow time.Duration
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", formatTable, "Output format (table, json)")
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Refresh interval (default from config, 2.5s)")
	monitorCmd.Flags().DurationVar(&monitorScanWindow, "scan-window", 0, "Scan window used to find the probe (default from config, 2s)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := validateFormat(monitorFormat); err != nil {
		return err
	}
	if monitorInterval < 0 || monitorScanWindow < 0 {
		return errors.New("durations must not be negative")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorInterval > 0 {
		cfg.RefreshInterval = monitorInterval
	}
	if monitorScanWindow > 0 {
		cfg.ScanWindow = monitorScanWindow
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	// Closed when the link drops without us asking.
	lost := make(chan struct{})
	var (
		wasConnected atomic.Bool
		leaving      atomic.Bool
		lostOnce     atomic.Bool
	)
	p.manager.SetObserver(func(st connection.Status) {
		switch st.State {
		case connection.Connected:
			wasConnected.Store(true)
		case connection.Disconnected, connection.Scanning:
			if wasConnected.Load() && !leaving.Load() && lostOnce.CompareAndSwap(false, true) {
				close(lost)
			}
		}
	})

	// The manager outlives ctx so the store survives Ctrl+C until the summary
	// is printed; p.Close stops it.
	if err := p.manager.Start(context.Background()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	address := device.NormalizeAddress(args[0])
	if err := findProbe(ctx, cmd.ErrOrStderr(), p, address); err != nil {
		return err
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = p.manager.Connect(connectCtx, address)
	cancelConnect()
	if err != nil {
		return err
	}

	peer, _ := p.manager.Connected()
	if monitorFormat == formatTable {
		connectedColor.Fprintf(out, "Connected to %s (%s), press Ctrl+C to disconnect\n", peer.Name, peer.Address)
	}

	var written int64
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := printNewFrames(out, p, &written); err != nil {
				return err
			}
		case <-lost:
			_ = printNewFrames(out, p, &written)
			return ErrConnectionLost
		case <-ctx.Done():
			if err := printNewFrames(out, p, &written); err != nil {
				return err
			}
			s := summary{
				Peer:       peer,
				DeviceType: p.accessor.DeviceType(),
				Frames:     written,
				Latest:     p.accessor.LatestByKind(),
			}

			// The context is gone; give the disconnect its own deadline.
			leaving.Store(true)
			dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
			defer dcancel()
			if err := p.manager.Disconnect(dctx); err != nil {
				logger.WithError(err).Debug("Disconnect failed")
			}
			return writeSummary(out, monitorFormat, s)
		}
	}
}

// findProbe scans until address is listed or the scan window ends.
func findProbe(ctx context.Context, progressOut io.Writer, p *pipeline, address string) error {
	progress := NewCountdownProgressPrinter(progressOut, "Looking for "+address, "Scanning", p.cfg.ScanWindow)
	progress.Start()
	defer progress.Stop()

	done, err := p.manager.Scan(ctx)
	if err != nil {
		return err
	}

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		if knows(p.manager.Devices(), address) {
			return nil
		}
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			if knows(p.manager.Devices(), address) {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrProbeNotFound, address)
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
}

func knows(peers []device.Peer, address string) bool {
	for _, peer := range peers {
		if peer.Address == address {
			return true
		}
	}
	return false
}

// printNewFrames prints frames received since the last call. written tracks
// the store's frame counter.
func printNewFrames(w io.Writer, p *pipeline, written *int64) error {
	raw, total := p.store.RawSince(*written)
	*written = total

	for _, f := range raw {
		rec := rawRecord(p.decoder, f)
		if monitorFormat == formatJSON {
			if err := writeJSONLine(w, rec); err != nil {
				return err
			}
			continue
		}
		writeRecordLine(w, rec)
	}
	return nil
}
