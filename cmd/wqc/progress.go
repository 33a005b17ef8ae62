package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a countdown while a bounded operation runs.
//
// A ProgressPrinter is single-use: Start at most once, Stop as often as
// needed. On a writer that is not a terminal it prints nothing.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value
	duration time.Duration
	enabled  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewCountdownProgressPrinter creates a printer counting down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		enabled:  isTerminal(w),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetPhase changes the label shown next to the countdown.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start begins the display goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}

		started := time.Now()
		p.print(p.duration)

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					remaining := p.duration - time.Since(started)
					if remaining < 0 {
						remaining = 0
					}
					p.print(remaining)
				}
			}
		}()
	})
}

func (p *ProgressPrinter) print(remaining time.Duration) {
	// Round to the nearest second: 3.7s -> 4s
	seconds := int(remaining.Seconds() + 0.5)
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Stop ends the display and clears the line.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() { close(p.done) })
		close(p.stop)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
