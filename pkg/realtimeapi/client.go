// Package realtimeapi is a client for a streaming speech/dialogue engine
// speaking the realtime WebSocket protocol.
//
// A Client owns exactly one engine connection. On open it immediately sends
// session.update; inbound events are parsed and delivered, in arrival order,
// to a single EventSink on the client's read goroutine. Delivery is
// synchronous: a slow sink delays the next event for that connection.
//
// Usage:
//
//	c := realtimeapi.NewClient(cfg)
//	if err := c.Connect(ctx, sink); err != nil { ... }
//	defer c.Close()
//	c.SendAudio(base64Payload)
package realtimeapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi/events"
	"github.com/realtime-ai/benefits-assistant/pkg/trace"
)

const (
	DefaultURL = "wss://api.openai.com/v1/realtime"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// ErrConnectionClosed is returned by every send after the connection closed.
var ErrConnectionClosed = errors.New("realtime connection closed")

// ConnState is the lifecycle of the engine connection.
type ConnState int32

const (
	ConnStateNotOpen ConnState = iota
	ConnStateOpen
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNotOpen:
		return "not_open"
	case ConnStateOpen:
		return "open"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventSink receives engine events for one connection.
type EventSink interface {
	// OnAudioDelta is called for every chunk of synthesized speech.
	OnAudioDelta(ev *events.ResponseOutputAudioDeltaEvent)
	// OnTranscriptCompleted is called with the final text of a caller turn.
	OnTranscriptCompleted(ev *events.InputAudioTranscriptionCompletedEvent)
	// OnResponseCreated and OnResponseDone bracket a response turn.
	OnResponseCreated(ev *events.ResponseEvent)
	OnResponseDone(ev *events.ResponseEvent)
	// OnError is called for engine-reported errors; the connection stays open.
	OnError(ev *events.ErrorEvent)
	// OnClose is called exactly once when the connection ends for any
	// reason. err is nil for a local Close.
	OnClose(err error)
}

// NoOpEventSink is an EventSink that ignores everything, for embedding.
type NoOpEventSink struct{}

func (NoOpEventSink) OnAudioDelta(*events.ResponseOutputAudioDeltaEvent)                   {}
func (NoOpEventSink) OnTranscriptCompleted(*events.InputAudioTranscriptionCompletedEvent) {}
func (NoOpEventSink) OnResponseCreated(*events.ResponseEvent)                            {}
func (NoOpEventSink) OnResponseDone(*events.ResponseEvent)                               {}
func (NoOpEventSink) OnError(*events.ErrorEvent)                                         {}
func (NoOpEventSink) OnClose(error)                                                      {}

// Config holds connection settings.
type Config struct {
	// URL is the engine WebSocket endpoint (default DefaultURL).
	URL string
	// APIKey is sent as a bearer token.
	APIKey string
	// Model is passed as the model query parameter.
	Model string
	// Session is sent as session.update as soon as the socket opens.
	Session events.SessionConfig

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// Header holds extra handshake headers.
	Header http.Header
}

// Client is one engine connection.
type Client struct {
	config Config
	sink   EventSink

	conn  *websocket.Conn
	state atomic.Int32

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates an unconnected client.
func NewClient(config Config) *Client {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	return &Client{
		config: config,
		done:   make(chan struct{}),
	}
}

// Connect dials the engine, sends the session configuration and starts
// delivering events to sink. A client connects at most once.
func (c *Client) Connect(ctx context.Context, sink EventSink) (err error) {
	if ConnState(c.state.Load()) != ConnStateNotOpen {
		return fmt.Errorf("realtime client already used (state %s)", c.State())
	}
	if sink == nil {
		sink = NoOpEventSink{}
	}
	c.sink = sink

	ctx, span := trace.InstrumentEngineConnect(ctx, c.config.Model)
	defer func() {
		trace.RecordError(span, err)
		span.End()
	}()

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	for k, v := range c.config.Header {
		header[k] = v
	}
	header.Set("Authorization", "Bearer "+c.config.APIKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	log.Printf("[Realtime] Connecting to %s", endpoint)
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to realtime engine (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to realtime engine: %w", err)
	}
	c.conn = conn
	c.state.Store(int32(ConnStateOpen))

	if err := c.Send(events.NewSessionUpdateEvent(c.config.Session)); err != nil {
		c.shutdown(err)
		return fmt.Errorf("failed to send session.update: %w", err)
	}
	log.Printf("[Realtime] Connected (model: %s)", c.config.Model)

	go c.readLoop()
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL %q: %w", c.config.URL, err)
	}
	if c.config.Model != "" {
		q := u.Query()
		q.Set("model", c.config.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State returns the connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Done is closed once the connection has closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes one client event.
func (c *Client) Send(ev events.ClientEvent) error {
	if c.State() != ConnStateOpen {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		// Tear down off the write lock holder's stack
		go c.shutdown(err)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// SendAudio appends base64 audio to the engine's input buffer.
func (c *Client) SendAudio(payload string) error {
	return c.Send(events.NewInputAudioBufferAppendEvent(payload))
}

// InjectMessage adds an out-of-band text item to the conversation. It does
// not count as caller speech and does not trigger a response.
func (c *Client) InjectMessage(role events.Role, text string) error {
	return c.Send(events.NewMessageItemEvent(role, text))
}

// RequestResponse asks the engine to speak.
func (c *Client) RequestResponse() error {
	return c.Send(events.NewResponseCreateEvent())
}

// CancelResponse stops the in-progress response.
func (c *Client) CancelResponse() error {
	return c.Send(events.NewResponseCancelEvent())
}

// Close closes the connection. It is idempotent and safe to call from
// inside an EventSink callback.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(cause error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		wasOpen := c.State() == ConnStateOpen
		c.state.Store(int32(ConnStateClosed))

		if c.conn != nil {
			if wasOpen {
				c.writeMu.Lock()
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				c.writeMu.Unlock()
			}
			_ = c.conn.Close()
		}
		close(c.done)

		if cause != nil {
			log.Printf("[Realtime] Connection closed: %v", cause)
		} else {
			log.Printf("[Realtime] Connection closed")
		}
	})

	// Outside the Once so the sink may call Close again without deadlocking
	if first && c.sink != nil {
		c.sink.OnClose(cause)
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == ConnStateClosed {
				c.shutdown(nil)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
				return
			}
			log.Printf("[Realtime] Read error: %v", err)
			c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}

		ev, err := events.ParseServerEvent(data)
		if err != nil {
			log.Printf("[Realtime] Discarding event: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev events.ServerEvent) {
	switch e := ev.(type) {
	case *events.ResponseOutputAudioDeltaEvent:
		c.sink.OnAudioDelta(e)
	case *events.InputAudioTranscriptionCompletedEvent:
		c.sink.OnTranscriptCompleted(e)
	case *events.ResponseEvent:
		if e.ServerEventType() == events.ServerEventTypeResponseCreated {
			c.sink.OnResponseCreated(e)
		} else {
			c.sink.OnResponseDone(e)
		}
	case *events.ErrorEvent:
		log.Printf("[Realtime] Engine error: type=%s code=%s message=%s",
			e.Error.Type, e.Error.Code, e.Error.Message)
		c.sink.OnError(e)
	case *events.SessionEvent:
		log.Printf("[Realtime] %s", e.ServerEventType())
	case *events.InputAudioTranscriptionFailedEvent:
		log.Printf("[Realtime] Transcription failed for item %s: %s", e.ItemID, e.Error.Message)
	}
}
