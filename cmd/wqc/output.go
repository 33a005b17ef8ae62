package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
	"github.com/glas/wqconnect/pkg/connection"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var (
	headerColor    = color.New(color.Bold)
	connectedColor = color.New(color.FgGreen)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [%s %s]", format, formatTable, formatJSON)
	}
}

// deviceRow is one line of scan output.
type deviceRow struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
	State   string `json:"state"`
}

func deviceRows(peers []device.Peer, st connection.Status) []deviceRow {
	rows := make([]deviceRow, 0, len(peers))
	for _, p := range peers {
		row := deviceRow{Address: p.Address, Name: p.Name, RSSI: p.RSSI, State: "advertising"}
		if st.State == connection.Connected && st.Peer.Same(p) {
			row.State = "connected"
			if st.Adopted {
				row.State = "connected (other app)"
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeDevices(w io.Writer, format string, rows []deviceRow) error {
	if format == formatJSON {
		return writeJSON(w, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No probes discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSTATE")
	for _, r := range rows {
		name := r.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		rssi := "-"
		if r.RSSI != 0 {
			rssi = fmt.Sprintf("%d dBm", r.RSSI)
		}
		state := r.State
		if strings.HasPrefix(state, "connected") {
			state = connectedColor.Sprint(state)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, r.Address, rssi, state)
	}
	return tw.Flush()
}

// frameRecord is one decoded frame in decode and monitor output.
type frameRecord struct {
	ReceivedAt *time.Time           `json:"received_at,omitempty"`
	Frame      string               `json:"frame"`
	DeviceType telemetry.DeviceType `json:"device_type"`
	ProbeTime  *time.Time           `json:"probe_time,omitempty"`
	Entries    []telemetry.Entry    `json:"entries"`
	Error      string               `json:"error,omitempty"`
}

func decodeRecord(d *telemetry.Decoder, text string) (frameRecord, error) {
	result, err := d.Decode(text)
	rec := frameRecord{Frame: text, DeviceType: result.DeviceType, Entries: result.Entries}
	if rec.Entries == nil {
		rec.Entries = []telemetry.Entry{}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	rec.ProbeTime = probeTime(result.Entries)
	return rec, err
}

// probeTime reads the probe's own clock from a MAIN frame. A clock the probe
// never set is reported as absent.
func probeTime(entries []telemetry.Entry) *time.Time {
	for _, e := range entries {
		if e.Kind != telemetry.Clock {
			continue
		}
		token, ok := e.Value.Text()
		if !ok {
			return nil
		}
		t, err := telemetry.ParseClock(token, time.Local)
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

func rawRecord(d *telemetry.Decoder, f store.RawFrame) frameRecord {
	rec, _ := decodeRecord(d, f.Text)
	if !f.ReceivedAt.IsZero() {
		at := f.ReceivedAt
		rec.ReceivedAt = &at
	}
	return rec
}

// writeRecordLine prints rec as a single table line.
func writeRecordLine(w io.Writer, rec frameRecord) {
	stamp := ""
	if rec.ReceivedAt != nil {
		stamp = rec.ReceivedAt.Format("15:04:05") + "  "
	}

	switch {
	case rec.Error != "":
		fmt.Fprintf(w, "%s%s  %s\n", stamp, errorColor.Sprint("MALFORMED"), rec.Error)
	case rec.DeviceType == telemetry.Unknown:
		fmt.Fprintf(w, "%s%s  %q\n", stamp, warnColor.Sprint("UNKNOWN"), rec.Frame)
	default:
		parts := make([]string, len(rec.Entries))
		for i, e := range rec.Entries {
			parts[i] = e.String()
		}
		fmt.Fprintf(w, "%s%-7s  %s\n", stamp, strings.ToUpper(rec.DeviceType.String()), strings.Join(parts, " "))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// summary is printed when monitoring ends.
type summary struct {
	Peer       device.Peer                                                  `json:"peer"`
	DeviceType telemetry.DeviceType                                         `json:"device_type"`
	Frames     int64                                                        `json:"frames"`
	Latest     *orderedmap.OrderedMap[telemetry.FieldKind, telemetry.Entry] `json:"latest"`
}

func writeSummary(w io.Writer, format string, s summary) error {
	if format == formatJSON {
		return writeJSONLine(w, s)
	}

	headerColor.Fprintf(w, "\n%s (%s): %d frames, device type %s\n", s.Peer.Name, s.Peer.Address, s.Frames, s.DeviceType)
	if s.Latest == nil || s.Latest.Len() == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLATEST")
	for pair := s.Latest.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "%s\t%s\n", pair.Key, pair.Value.Value)
	}
	return tw.Flush()
}
