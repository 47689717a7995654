// TwilioConnection implements Transport for Twilio Media Streams.
//
// The relay never transcodes: inbound μ-law 8kHz payloads are forwarded to the
// dialogue engine as-is (audio/pcmu) and the engine's pcmu output is written
// back unchanged.
//
// Inbound events:
//   - connected: protocol handshake, logged only
//   - start: carries streamSid / callSid and custom parameters
//   - media: base64 μ-law payload
//   - mark, dtmf: control events
//   - stop: the call is over
//
// Reference: https://www.twilio.com/docs/voice/media-streams/websocket-messages

package connection

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// TwilioSampleRate is the only rate Media Streams uses (μ-law, mono).
	TwilioSampleRate = 8000

	defaultWriteTimeout = 5 * time.Second
)

// EventKind classifies an inbound provider message.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventConnected
	EventStart
	EventMedia
	EventMark
	EventDTMF
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventMark:
		return "mark"
	case EventDTMF:
		return "dtmf"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// TwilioMediaMessage represents a Twilio Media Streams WebSocket message.
type TwilioMediaMessage struct {
	Event          string              `json:"event"`
	SequenceNumber string              `json:"sequenceNumber,omitempty"`
	StreamSid      string              `json:"streamSid,omitempty"`
	Protocol       string              `json:"protocol,omitempty"`
	Version        string              `json:"version,omitempty"`
	Start          *TwilioStartPayload `json:"start,omitempty"`
	Media          *TwilioMediaPayload `json:"media,omitempty"`
	Stop           *TwilioStopPayload  `json:"stop,omitempty"`
	Mark           *TwilioMarkPayload  `json:"mark,omitempty"`
	DTMF           *TwilioDTMFPayload  `json:"dtmf,omitempty"`
}

// TwilioStartPayload contains stream initialization data.
type TwilioStartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      TwilioMediaFormat `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// TwilioMediaFormat describes the audio format.
type TwilioMediaFormat struct {
	Encoding   string `json:"encoding"`   // "audio/x-mulaw"
	SampleRate int    `json:"sampleRate"` // 8000
	Channels   int    `json:"channels"`   // 1
}

// TwilioMediaPayload contains audio data.
type TwilioMediaPayload struct {
	Track     string `json:"track,omitempty"` // "inbound" or "outbound"
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 μ-law
}

// TwilioStopPayload contains stream termination data.
type TwilioStopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TwilioMarkPayload contains mark event data.
type TwilioMarkPayload struct {
	Name string `json:"name"`
}

// TwilioDTMFPayload contains DTMF digit data.
type TwilioDTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// InboundEvent is the parsed, provider-neutral view of one inbound message.
type InboundEvent struct {
	Kind      EventKind
	StreamSid string
	CallSid   string
	// Payload is the base64 audio of a media event, still encoded.
	Payload          string
	Mark             string
	Digit            string
	CustomParameters map[string]string
}

// ParseMessage decodes one raw provider frame. Any decoding problem is
// reported as ErrMalformedMessage.
func ParseMessage(raw []byte) (*InboundEvent, error) {
	var msg TwilioMediaMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	ev := &InboundEvent{StreamSid: msg.StreamSid}
	switch msg.Event {
	case "connected":
		ev.Kind = EventConnected

	case "start":
		if msg.Start == nil || msg.Start.StreamSid == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrMalformedMessage)
		}
		ev.Kind = EventStart
		ev.StreamSid = msg.Start.StreamSid
		ev.CallSid = msg.Start.CallSid
		ev.CustomParameters = msg.Start.CustomParameters

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformedMessage)
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Media.Payload); err != nil {
			return nil, fmt.Errorf("%w: media payload: %v", ErrMalformedMessage, err)
		}
		ev.Kind = EventMedia
		ev.Payload = msg.Media.Payload
		// Only the caller's leg is relayed
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			ev.Kind = EventUnknown
		}

	case "mark":
		ev.Kind = EventMark
		if msg.Mark != nil {
			ev.Mark = msg.Mark.Name
		}

	case "dtmf":
		ev.Kind = EventDTMF
		if msg.DTMF != nil {
			ev.Digit = msg.DTMF.Digit
		}

	case "stop":
		ev.Kind = EventStop
		if msg.Stop != nil {
			ev.CallSid = msg.Stop.CallSid
		}

	case "":
		return nil, fmt.Errorf("%w: missing event discriminator", ErrMalformedMessage)

	default:
		ev.Kind = EventUnknown
	}

	return ev, nil
}

// TwilioConnection is one Media Streams WebSocket.
type TwilioConnection struct {
	conn *websocket.Conn

	mu        sync.RWMutex
	streamSid string
	callSid   string
	state     ConnectionState

	closed    atomic.Bool
	closeOnce sync.Once

	// gorilla/websocket allows one concurrent writer
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewTwilioConnection wraps an upgraded Media Streams socket.
func NewTwilioConnection(conn *websocket.Conn) *TwilioConnection {
	return &TwilioConnection{
		conn:         conn,
		state:        ConnectionStateNew,
		writeTimeout: defaultWriteTimeout,
	}
}

// StreamSid returns the stream SID, empty until the start event arrives.
func (tc *TwilioConnection) StreamSid() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.streamSid
}

// CallSid returns the Twilio call SID.
func (tc *TwilioConnection) CallSid() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.callSid
}

// State returns the current transport state.
func (tc *TwilioConnection) State() ConnectionState {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.state
}

func (tc *TwilioConnection) setState(state ConnectionState) {
	tc.mu.Lock()
	prev := tc.state
	tc.state = state
	tc.mu.Unlock()
	if prev != state {
		log.Printf("[TwilioConn] State %s -> %s (stream %s)", prev, state, tc.StreamSid())
	}
}

// ReadEvent reads until the next well-formed event.
func (tc *TwilioConnection) ReadEvent() (*InboundEvent, error) {
	for {
		if tc.closed.Load() {
			return nil, ErrTransportClosed
		}

		_, raw, err := tc.conn.ReadMessage()
		if err != nil {
			if !tc.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[TwilioConn] Read error: %v", err)
			}
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}

		ev, err := ParseMessage(raw)
		if err != nil {
			log.Printf("[TwilioConn] Discarding frame: %v", err)
			continue
		}

		switch ev.Kind {
		case EventConnected:
			log.Printf("[TwilioConn] Connected to Twilio Media Streams")
		case EventStart:
			tc.mu.Lock()
			tc.streamSid = ev.StreamSid
			tc.callSid = ev.CallSid
			tc.mu.Unlock()
			log.Printf("[TwilioConn] Stream started - StreamSid: %s, CallSid: %s", ev.StreamSid, ev.CallSid)
			if len(ev.CustomParameters) > 0 {
				log.Printf("[TwilioConn] Custom parameters: %v", ev.CustomParameters)
			}
			tc.setState(ConnectionStateConnected)
		case EventStop:
			log.Printf("[TwilioConn] Stream stopped - CallSid: %s", tc.CallSid())
			tc.setState(ConnectionStateStopped)
		case EventMark:
			log.Printf("[TwilioConn] Mark received: %s", ev.Mark)
		case EventDTMF:
			log.Printf("[TwilioConn] DTMF digit received: %s", ev.Digit)
		}

		return ev, nil
	}
}

// SendMedia writes one outbound audio frame.
func (tc *TwilioConnection) SendMedia(streamSid, payload string) error {
	return tc.writeJSON(TwilioMediaMessage{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &TwilioMediaPayload{Payload: payload},
	})
}

// SendMark asks Twilio to echo a mark once playback reaches this point.
func (tc *TwilioConnection) SendMark(name string) error {
	return tc.writeJSON(TwilioMediaMessage{
		Event:     "mark",
		StreamSid: tc.StreamSid(),
		Mark:      &TwilioMarkPayload{Name: name},
	})
}

// ClearAudio drops any audio Twilio has buffered but not yet played.
func (tc *TwilioConnection) ClearAudio() error {
	log.Printf("[TwilioConn] Clearing audio buffer")
	return tc.writeJSON(TwilioMediaMessage{
		Event:     "clear",
		StreamSid: tc.StreamSid(),
	})
}

func (tc *TwilioConnection) writeJSON(msg TwilioMediaMessage) error {
	if tc.closed.Load() {
		return ErrTransportClosed
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()

	if tc.writeTimeout > 0 {
		_ = tc.conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}
	if err := tc.conn.WriteJSON(msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || tc.closed.Load() {
			return ErrTransportClosed
		}
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// Close closes the socket. Subsequent calls are no-ops.
func (tc *TwilioConnection) Close() error {
	var err error
	tc.closeOnce.Do(func() {
		tc.closed.Store(true)
		log.Printf("[TwilioConn] Closing connection for stream %s", tc.StreamSid())

		tc.writeMu.Lock()
		_ = tc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		tc.writeMu.Unlock()

		err = tc.conn.Close()
		tc.setState(ConnectionStateClosed)
	})
	return err
}

var _ Transport = (*TwilioConnection)(nil)
