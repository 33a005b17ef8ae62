package framing

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// Mode selects how notification chunks map onto frames.
type Mode int

const (
	// PerNotification treats every chunk as one complete frame. This is what
	// the probe firmware does: one notification per frame, no terminator.
	PerNotification Mode = iota
	// LineDelimited reassembles frames split across chunks; '\n' ends a frame.
	LineDelimited
)

// DefaultMaxLineLength bounds a partial line held between chunks.
const DefaultMaxLineLength = 512

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "notification", "per-notification":
		return PerNotification, nil
	case "line", "lines":
		return LineDelimited, nil
	default:
		return 0, fmt.Errorf("invalid frame mode %q: use notification or line", s)
	}
}

func (m Mode) String() string {
	if m == LineDelimited {
		return "line"
	}
	return "notification"
}

// Assembler turns a stream of text chunks into frames.
//
// An Assembler is not safe for concurrent use; the listener feeds it from a
// single goroutine.
type Assembler struct {
	mode     Mode
	pending  *ringbuffer.RingBuffer
	skipping bool // discarding the rest of an overflowed line
	overflow atomic.Int64
}

// NewAssembler creates an assembler. maxLine bounds the bytes of an
// unterminated line in LineDelimited mode; <= 0 selects DefaultMaxLineLength.
func NewAssembler(mode Mode, maxLine int) *Assembler {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	a := &Assembler{mode: mode}
	if mode == LineDelimited {
		a.pending = ringbuffer.New(maxLine)
	}
	return a
}

// Mode returns the assembler mode.
func (a *Assembler) Mode() Mode {
	return a.mode
}

// Feed consumes one chunk and returns the frames it completes, in order.
func (a *Assembler) Feed(chunk string) []string {
	if a.mode == PerNotification {
		return []string{chunk}
	}

	var frames []string
	data := []byte(chunk)
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if !a.skipping {
				a.buffer(data)
			}
			break
		}

		line := data[:idx]
		data = data[idx+1:]
		if a.skipping || !a.buffer(line) {
			a.skipping = false
			continue
		}
		if frame := a.drain(); frame != "" {
			frames = append(frames, frame)
		}
	}
	return frames
}

// buffer appends data to the pending line. When the line would exceed the
// bound, the pending bytes are discarded and false is returned.
func (a *Assembler) buffer(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if len(data) > a.pending.Free() {
		a.drop()
		return false
	}
	if _, err := a.pending.Write(data); err != nil {
		a.drop()
		return false
	}
	return true
}

func (a *Assembler) drop() {
	a.pending.Reset()
	a.skipping = true
	a.overflow.Add(1)
}

func (a *Assembler) drain() string {
	n := a.pending.Length()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	read, _ := a.pending.Read(buf)
	return strings.TrimSuffix(string(buf[:read]), "\r")
}

// Pending returns the number of buffered bytes of an incomplete line.
func (a *Assembler) Pending() int {
	if a.pending == nil {
		return 0
	}
	return a.pending.Length()
}

// Overflows returns how many partial lines were dropped for exceeding the
// line bound.
func (a *Assembler) Overflows() int64 {
	return a.overflow.Load()
}

// Reset drops any partial line.
func (a *Assembler) Reset() {
	if a.pending != nil {
		a.pending.Reset()
	}
	a.skipping = false
}
