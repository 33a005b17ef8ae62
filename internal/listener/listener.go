// Package listener turns notifications from the telemetry characteristic
// into committed store frames.
//
// Platform callbacks only enqueue. One worker goroutine drains the queue in
// arrival order, assembles frames, decodes them and commits the results.
// Every chunk carries the session it arrived on; chunks of a detached session
// are dropped, so a previous peer can never write into the next one's data.
package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/glas/wqconnect/internal/device"
	"github.com/glas/wqconnect/internal/framing"
	"github.com/glas/wqconnect/internal/groutine"
	"github.com/glas/wqconnect/internal/store"
	"github.com/glas/wqconnect/internal/telemetry"
)

const (
	// DefaultQueueSize bounds chunks waiting for the worker.
	DefaultQueueSize uint32 = 1024
	// MaxQueueSize guards against a misconfigured queue.
	MaxQueueSize uint32 = 1 << 20
)

// Sink receives decoded frames. *store.Store implements it.
type Sink interface {
	Commit(frame store.RawFrame, result telemetry.Result)
}

// Options configures a Listener.
type Options struct {
	QueueSize     uint32
	FrameMode     framing.Mode
	MaxLineLength int
}

// Metrics counts listener activity. Fields are updated atomically.
type Metrics struct {
	Chunks      int64 // notifications received
	Frames      int64 // frames committed
	Malformed   int64 // frames with a known header that failed to decode
	InvalidText int64 // chunks that were not valid UTF-8
	Stale       int64 // chunks dropped because their session ended
	Overwritten int64 // chunks lost to queue overflow
}

type chunk struct {
	session uint64
	peer    string
	data    []byte
	at      time.Time
}

// Listener feeds a Sink from one subscribed characteristic at a time.
type Listener struct {
	decoder   *telemetry.Decoder
	sink      Sink
	logger    *logrus.Logger
	queue     mpmc.RichOverlappedRingBuffer[chunk]
	wake      chan struct{}
	assembler *framing.Assembler

	// mu serializes frame processing against Detach.
	mu        sync.Mutex
	session   atomic.Uint64 // 0 when detached
	sessionID atomic.Uint64
	client    device.Client
	service   string
	char      string

	running atomic.Bool
	stop    chan struct{}
	done    <-chan struct{}

	metrics Metrics
}

// New creates a detached, stopped Listener.
func New(decoder *telemetry.Decoder, sink Sink, opts Options, logger *logrus.Logger) (*Listener, error) {
	if decoder == nil || sink == nil {
		return nil, fmt.Errorf("decoder and sink are required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.QueueSize > MaxQueueSize {
		return nil, fmt.Errorf("queue size %d exceeds maximum %d", opts.QueueSize, MaxQueueSize)
	}

	return &Listener{
		decoder:   decoder,
		sink:      sink,
		logger:    logger,
		queue:     mpmc.NewOverlappedRingBuffer[chunk](opts.QueueSize),
		wake:      make(chan struct{}, 1),
		assembler: framing.NewAssembler(opts.FrameMode, opts.MaxLineLength),
	}, nil
}

// Start launches the worker. It stops when ctx is done or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener is already running")
	}
	l.stop = make(chan struct{})
	stop := l.stop

	l.done = groutine.Go(ctx, "telemetry-listener", func(ctx context.Context) {
		defer l.running.Store(false)
		defer l.logger.Debugf("%s: exiting", groutine.Name(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				l.Drain()
				return
			case <-l.wake:
				l.Drain()
			}
		}
	})
	return nil
}

// Stop ends the worker after processing what is already queued.
func (l *Listener) Stop() {
	if !l.running.Load() {
		return
	}
	close(l.stop)
	<-l.done
}

// Attach subscribes to charUUID of serviceUUID on client and starts a new
// session. Any previous attachment is detached first. On failure the
// listener stays detached and the error wraps device.ErrSubscriptionFailed.
func (l *Listener) Attach(client device.Client, serviceUUID, charUUID string) error {
	l.Detach()

	id := l.sessionID.Add(1)
	peer := client.Address()

	handler := func(data []byte) {
		l.enqueue(id, peer, data)
	}

	// The session becomes current before notifications can arrive.
	l.mu.Lock()
	l.session.Store(id)
	l.client, l.service, l.char = client, serviceUUID, charUUID
	l.mu.Unlock()

	if err := client.Subscribe(serviceUUID, charUUID, handler); err != nil {
		l.mu.Lock()
		if l.session.Load() == id {
			l.session.Store(0)
			l.client = nil
		}
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"peer":           peer,
			"service":        serviceUUID,
			"characteristic": charUUID,
			"error":          err,
		}).Error("Failed to subscribe to telemetry")
		return fmt.Errorf("%w: %v", device.ErrSubscriptionFailed, err)
	}

	l.logger.WithFields(logrus.Fields{
		"peer":    peer,
		"session": id,
	}).Info("Telemetry listener attached")
	return nil
}

// Detach ends the current session: queued chunks of that session are
// discarded, any partial frame is dropped and notifications are disabled.
// When Detach returns no frame of the old session will reach the sink.
func (l *Listener) Detach() {
	l.mu.Lock()
	prev := l.session.Swap(0)
	client, service, char := l.client, l.service, l.char
	l.client = nil
	l.assembler.Reset()
	l.mu.Unlock()

	if prev == 0 {
		return
	}
	if client != nil {
		if err := client.Unsubscribe(service, char); err != nil {
			l.logger.WithField("error", err).Debug("Unsubscribe failed during detach")
		}
	}
	l.logger.WithField("session", prev).Info("Telemetry listener detached")
}

// Attached reports whether a session is active.
func (l *Listener) Attached() bool {
	return l.session.Load() != 0
}

func (l *Listener) enqueue(session uint64, peer string, data []byte) {
	atomic.AddInt64(&l.metrics.Chunks, 1)

	// go-ble reuses notification buffers.
	buf := make([]byte, len(data))
	copy(buf, data)

	overwrites, err := l.queue.EnqueueM(chunk{session: session, peer: peer, data: buf, at: time.Now()})
	if err != nil {
		l.logger.WithField("error", err).Warn("Dropping notification: enqueue failed")
		return
	}
	if overwrites > 0 {
		atomic.AddInt64(&l.metrics.Overwritten, int64(overwrites))
		l.logger.WithField("overwritten", overwrites).Warn("Listener queue overflow, oldest notifications lost")
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Drain processes every queued chunk on the calling goroutine.
func (l *Listener) Drain() {
	for !l.queue.IsEmpty() {
		c, err := l.queue.Dequeue()
		if err != nil {
			return
		}
		l.process(c)
	}
}

func (l *Listener) process(c chunk) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c.session == 0 || c.session != l.session.Load() {
		atomic.AddInt64(&l.metrics.Stale, 1)
		return
	}

	text := ""
	if utf8.Valid(c.data) {
		text = string(c.data)
	} else {
		atomic.AddInt64(&l.metrics.InvalidText, 1)
		l.logger.WithField("peer", c.peer).Debug("Notification is not valid UTF-8")
	}

	for _, frame := range l.assembler.Feed(text) {
		result, err := l.decoder.Decode(frame)
		if err != nil {
			atomic.AddInt64(&l.metrics.Malformed, 1)
			l.logger.WithFields(logrus.Fields{
				"peer":  c.peer,
				"frame": frame,
				"error": err,
			}).Debug("Malformed frame")
		}
		l.sink.Commit(store.RawFrame{Text: frame, Peer: c.peer, ReceivedAt: c.at}, result)
		atomic.AddInt64(&l.metrics.Frames, 1)
	}
}

// GetMetrics returns a snapshot of the counters.
func (l *Listener) GetMetrics() Metrics {
	return Metrics{
		Chunks:      atomic.LoadInt64(&l.metrics.Chunks),
		Frames:      atomic.LoadInt64(&l.metrics.Frames),
		Malformed:   atomic.LoadInt64(&l.metrics.Malformed),
		InvalidText: atomic.LoadInt64(&l.metrics.InvalidText),
		Stale:       atomic.LoadInt64(&l.metrics.Stale),
		Overwritten: atomic.LoadInt64(&l.metrics.Overwritten),
	}
}
