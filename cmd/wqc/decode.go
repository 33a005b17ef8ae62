package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glas/wqconnect/internal/telemetry"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [frames...]",
	Short: "Decode telemetry frames offline",
	Long: `Decode GLAS telemetry frames given as arguments, or one per line on stdin
when no arguments are given.

Unknown headers are reported but are not errors. The command fails when at
least one frame is malformed.`,
	Example: `  wqc decode "WAKE;120;0.50;15000;0.10;0.20;0.30;5.0"
  cat capture.log | wqc decode --format json`,
	RunE: runDecode,
}

var (
	decodeFormat   string
	decodeSequence bool
)

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", formatTable, "Output format (table, json)")
	decodeCmd.Flags().BoolVar(&decodeSequence, "sequence", false, "Stamp entries with the frame runtime as sequence")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if err := validateFormat(decodeFormat); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if decodeSequence {
		cfg.StampSequence = true
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	decoder, err := newDecoder(cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	frames := args
	if len(frames) == 0 {
		frames, err = readFrames(cmd)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	records := make([]frameRecord, 0, len(frames))
	malformed := 0
	for _, f := range frames {
		rec, err := decodeRecord(decoder, f)
		if err != nil {
			malformed++
			logger.WithError(err).Debug("Malformed frame")
		}
		if decodeFormat == formatTable {
			writeRecordLine(out, rec)
		}
		records = append(records, rec)
	}

	if decodeFormat == formatJSON {
		if err := writeJSON(out, records); err != nil {
			return err
		}
	}

	if malformed > 0 {
		return fmt.Errorf("%w: %d of %d frames", telemetry.ErrMalformedFrame, malformed, len(frames))
	}
	return nil
}

// readFrames reads one frame per non-blank line of the command input.
func readFrames(cmd *cobra.Command) ([]string, error) {
	var frames []string
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		frames = append(frames, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return frames, nil
}
