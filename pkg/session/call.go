// Package session owns the lifecycle of phone calls relayed to the dialogue
// engine.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/realtime-ai/benefits-assistant/pkg/connection"
	"github.com/realtime-ai/benefits-assistant/pkg/observability"
	"github.com/realtime-ai/benefits-assistant/pkg/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const defaultQueueSize = 256

// Status is the call-level lifecycle.
type Status string

const (
	StatusActive  Status = "active"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// Engine is the dialogue engine connection as seen by the call: it accepts
// caller audio and can be closed.
type Engine interface {
	SendAudio(payload string) error
	Close() error
}

// Utterance is the last thing the caller said.
type Utterance struct {
	Text   string
	ItemID string
	At     time.Time
}

// Options configures a Call.
type Options struct {
	// QueueSize bounds the outbound frame queue (default 256).
	QueueSize int
	Metrics   *observability.Metrics
}

// Call is one phone call: the media transport, the engine connection, and
// the outbound queue between them. A reader goroutine forwards caller audio
// to the engine and a writer goroutine drains the queue to the transport;
// both stop when either side closes.
type Call struct {
	id        string
	transport connection.Transport
	metrics   *observability.Metrics
	startedAt time.Time

	mu        sync.RWMutex
	engine    Engine
	streamSid string
	callSid   string
	last      Utterance
	status    Status

	queue   chan connection.MediaFrame
	done    chan struct{}
	closing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	span   oteltrace.Span
}

// NewCall creates a call around transport. The call's context derives from
// parent, carries the call span, and is canceled on teardown.
func NewCall(parent context.Context, transport connection.Transport, opts Options) *Call {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	c := &Call{
		id:        uuid.NewString(),
		transport: transport,
		metrics:   opts.Metrics,
		startedAt: time.Now(),
		status:    StatusActive,
		queue:     make(chan connection.MediaFrame, opts.QueueSize),
		done:      make(chan struct{}),
	}
	ctx, span := trace.InstrumentCall(parent, c.id)
	c.span = span
	c.ctx, c.cancel = context.WithCancel(ctx)
	return c
}

// ID returns the call's local identifier.
func (c *Call) ID() string { return c.id }

// Context is canceled when the call closes.
func (c *Call) Context() context.Context { return c.ctx }

// Done is closed when teardown starts.
func (c *Call) Done() <-chan struct{} { return c.done }

// AttachEngine sets the engine connection. It must be called before Run.
// An engine attached to a call that is already closing is closed at once.
func (c *Call) AttachEngine(e Engine) {
	c.mu.Lock()
	c.engine = e
	c.mu.Unlock()

	if c.closing.Load() {
		e.Close()
	}
}

func (c *Call) StreamSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSid
}

func (c *Call) CallSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSid
}

func (c *Call) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// StartedAt returns when the call was created.
func (c *Call) StartedAt() time.Time { return c.startedAt }

// SetLastUtterance records the most recent caller transcript.
func (c *Call) SetLastUtterance(text, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Utterance{Text: text, ItemID: itemID, At: time.Now()}
}

// LastUtterance returns the most recent caller transcript.
func (c *Call) LastUtterance() Utterance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Enqueue queues a frame for the writer. It blocks while the queue is full
// and returns false once the call is closing.
func (c *Call) Enqueue(frame connection.MediaFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- frame:
		return true
	case <-c.done:
		return false
	}
}

// Run starts the reader and writer and blocks until both have exited.
func (c *Call) Run() {
	c.metrics.CallStarted()
	defer c.metrics.CallEnded()
	log.Printf("[Call] %s started", c.id)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	wg.Wait()

	log.Printf("[Call] %s ended after %v", c.id, time.Since(c.startedAt).Round(time.Millisecond))
}

func (c *Call) readLoop() {
	defer c.Close()

	for {
		ev, err := c.transport.ReadEvent()
		if err != nil {
			if !errors.Is(err, connection.ErrTransportClosed) {
				log.Printf("[Call] %s read error: %v", c.id, err)
			}
			return
		}

		switch ev.Kind {
		case connection.EventConnected:
			c.metrics.CallEvent("connected")
		case connection.EventStart:
			c.mu.Lock()
			c.streamSid = ev.StreamSid
			c.callSid = ev.CallSid
			c.mu.Unlock()
			c.metrics.CallEvent("start")
			log.Printf("[Call] %s stream started: streamSid=%s callSid=%s", c.id, ev.StreamSid, ev.CallSid)
		case connection.EventMedia:
			c.mu.RLock()
			engine := c.engine
			c.mu.RUnlock()
			if engine == nil {
				continue
			}
			if err := engine.SendAudio(ev.Payload); err != nil {
				log.Printf("[Call] %s engine rejected audio: %v", c.id, err)
				return
			}
		case connection.EventMark:
			c.metrics.CallEvent("mark")
			log.Printf("[Call] %s mark: %s", c.id, ev.Mark)
		case connection.EventDTMF:
			c.metrics.CallEvent("dtmf")
			log.Printf("[Call] %s dtmf: %s", c.id, ev.Digit)
		case connection.EventStop:
			c.metrics.CallEvent("stop")
			log.Printf("[Call] %s stream stopped", c.id)
			return
		}
	}
}

func (c *Call) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.queue:
			if err := c.transport.SendMedia(frame.StreamSid, frame.Payload); err != nil {
				log.Printf("[Call] %s send failed: %v", c.id, err)
				c.Close()
				return
			}
			c.metrics.FrameSent()
		}
	}
}

// Close tears the call down: it stops the writer, closes the engine and the
// transport, and cancels the call context. It is idempotent and may be
// called from any goroutine, including engine callbacks.
func (c *Call) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	c.status = StatusClosing
	engine := c.engine
	c.mu.Unlock()

	close(c.done)
	c.cancel()

	var errs []error
	if engine != nil {
		if err := engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.transport.Close(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.status = StatusClosed
	c.mu.Unlock()

	c.span.SetAttributes(trace.CallAttrs(c.id, c.CallSid(), c.StreamSid())...)
	c.span.End()
	return errors.Join(errs...)
}
