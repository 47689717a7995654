// Package connection provides the telephony media transport.
package connection

import "errors"

// ConnectionState represents the state of a media transport.
type ConnectionState int

const (
	// ConnectionStateNew - socket accepted, no start event yet
	ConnectionStateNew ConnectionState = iota
	// ConnectionStateConnected - start event received, stream identifier known
	ConnectionStateConnected
	// ConnectionStateStopped - provider sent stop
	ConnectionStateStopped
	// ConnectionStateClosed - socket closed locally or by the peer
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateStopped:
		return "stopped"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrTransportClosed is returned when writing to or reading from a transport
	// whose underlying socket is gone.
	ErrTransportClosed = errors.New("transport closed")

	// ErrMalformedMessage marks an inbound frame that could not be decoded.
	// Readers discard these and keep going.
	ErrMalformedMessage = errors.New("malformed media message")
)

// MediaFrame is one outbound audio frame addressed to a provider stream.
type MediaFrame struct {
	StreamSid string
	// Payload is base64-encoded audio exactly as it goes on the wire.
	Payload string
}

// Transport is the call-side media connection used by a call session.
type Transport interface {
	// ReadEvent blocks until the next well-formed inbound event. Malformed
	// frames are skipped. It returns ErrTransportClosed once the socket is gone.
	ReadEvent() (*InboundEvent, error)

	// SendMedia writes one audio frame for the given stream.
	SendMedia(streamSid, payload string) error

	// Close closes the transport. Safe to call more than once.
	Close() error
}
