package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for GLAS probes",
	Long: `Discover advertising GLAS probes for one scan window.

Only peripherals advertising a configured probe service are listed. A probe
already connected by another application is reported as well.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan window (default from config, 2s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", formatTable, "Output format (table, json)")
}

// signalContext derives a context cancelled by Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	if scanDuration < 0 {
		return errors.New("--duration must not be negative")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanDuration > 0 {
		cfg.ScanWindow = scanDuration
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.manager.Start(ctx); err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for GLAS probes", "Scanning", cfg.ScanWindow)
	progress.Start()

	done, err := p.manager.Scan(ctx)
	if err != nil {
		progress.Stop()
		return err
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		// Ctrl+C: show what was found so far
	}
	progress.Stop()
	if err != nil {
		return err
	}

	rows := deviceRows(p.manager.Devices(), p.manager.Status())
	return writeDevices(cmd.OutOrStdout(), scanFormat, rows)
}
