package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantKind  EventKind
		wantErr   bool
		wantField func(t *testing.T, ev *InboundEvent)
	}{
		{
			name:     "connected",
			raw:      `{"event":"connected","protocol":"Call","version":"1.0.0"}`,
			wantKind: EventConnected,
		},
		{
			name:     "start",
			raw:      `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"lang":"pt"}}}`,
			wantKind: EventStart,
			wantField: func(t *testing.T, ev *InboundEvent) {
				assert.Equal(t, "MZ1", ev.StreamSid)
				assert.Equal(t, "CA1", ev.CallSid)
				assert.Equal(t, "pt", ev.CustomParameters["lang"])
			},
		},
		{
			name:     "media",
			raw:      `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"//79/A=="}}`,
			wantKind: EventMedia,
			wantField: func(t *testing.T, ev *InboundEvent) {
				assert.Equal(t, "//79/A==", ev.Payload)
			},
		},
		{
			name:     "outbound track ignored",
			raw:      `{"event":"media","media":{"track":"outbound","payload":"//79/A=="}}`,
			wantKind: EventUnknown,
		},
		{
			name:     "mark",
			raw:      `{"event":"mark","mark":{"name":"turn-1"}}`,
			wantKind: EventMark,
			wantField: func(t *testing.T, ev *InboundEvent) {
				assert.Equal(t, "turn-1", ev.Mark)
			},
		},
		{
			name:     "dtmf",
			raw:      `{"event":"dtmf","dtmf":{"track":"inbound_track","digit":"5"}}`,
			wantKind: EventDTMF,
			wantField: func(t *testing.T, ev *InboundEvent) {
				assert.Equal(t, "5", ev.Digit)
			},
		},
		{
			name:     "stop",
			raw:      `{"event":"stop","stop":{"callSid":"CA1"}}`,
			wantKind: EventStop,
		},
		{name: "not json", raw: `{{{`, wantErr: true},
		{name: "no discriminator", raw: `{"foo":1}`, wantErr: true},
		{name: "start without sid", raw: `{"event":"start","start":{}}`, wantErr: true},
		{name: "media without payload", raw: `{"event":"media","media":{}}`, wantErr: true},
		{name: "media bad base64", raw: `{"event":"media","media":{"payload":"***"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseMessage([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			if tt.wantField != nil {
				tt.wantField(t, ev)
			}
		})
	}
}

// newTwilioPair starts a server that wraps the accepted socket in a
// TwilioConnection and returns it together with the dialing client side.
func newTwilioPair(t *testing.T) (*TwilioConnection, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *TwilioConnection, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- NewTwilioConnection(ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case tc := <-accepted:
		t.Cleanup(func() { tc.Close() })
		return tc, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the socket")
		return nil, nil
	}
}

func TestTwilioConnectionReadEventSkipsMalformed(t *testing.T) {
	tc, client := newTwilioPair(t)

	frames := []string{
		`{"event":"connected"}`,
		`not json at all`,
		`{"event":"start","start":{"streamSid":"MZ42","callSid":"CA42"}}`,
		`{"event":"media","media":{"payload":"%%%"}}`,
		`{"event":"media","media":{"payload":"AAEC"}}`,
		`{"event":"stop"}`,
	}
	for _, f := range frames {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	var kinds []EventKind
	for i := 0; i < 4; i++ {
		ev, err := tc.ReadEvent()
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []EventKind{EventConnected, EventStart, EventMedia, EventStop}, kinds)
	assert.Equal(t, "MZ42", tc.StreamSid())
	assert.Equal(t, "CA42", tc.CallSid())
	assert.Equal(t, ConnectionStateStopped, tc.State())
}

func TestTwilioConnectionSendMedia(t *testing.T) {
	tc, client := newTwilioPair(t)

	require.NoError(t, tc.SendMedia("MZ7", "AAAA"))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var msg TwilioMediaMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, "MZ7", msg.StreamSid)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "AAAA", msg.Media.Payload)
}

func TestTwilioConnectionClosed(t *testing.T) {
	tc, _ := newTwilioPair(t)

	require.NoError(t, tc.Close())
	assert.NoError(t, tc.Close(), "second close is a no-op")
	assert.Equal(t, ConnectionStateClosed, tc.State())

	err := tc.SendMedia("MZ1", "AAAA")
	assert.ErrorIs(t, err, ErrTransportClosed)

	_, err = tc.ReadEvent()
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestTwilioConnectionPeerHangup(t *testing.T) {
	tc, client := newTwilioPair(t)

	require.NoError(t, client.Close())

	_, err := tc.ReadEvent()
	assert.ErrorIs(t, err, ErrTransportClosed)
}
