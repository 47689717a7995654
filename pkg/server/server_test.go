package server

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/realtime-ai/benefits-assistant/pkg/connection"
	"github.com/realtime-ai/benefits-assistant/pkg/guardrail"
	"github.com/realtime-ai/benefits-assistant/pkg/observability"
	"github.com/realtime-ai/benefits-assistant/pkg/orchestrator"
	"github.com/realtime-ai/benefits-assistant/pkg/rag"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi"
	"github.com/realtime-ai/benefits-assistant/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) Check(context.Context, string) guardrail.Verdict { return guardrail.Verdict{} }

type stubMinter struct {
	out map[string]any
	err error
}

func (m stubMinter) Mint(context.Context) (map[string]any, error) { return m.out, m.err }

func newTestServer(t *testing.T, cfg Config, minter SessionMinter) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, session.NewManager(), allowAll{}, rag.Nop{}, minter, observability.NewMetrics("test"))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestIncomingCallReturnsTwiML(t *testing.T) {
	_, srv := newTestServer(t, Config{
		PublicHost:    "example.ngrok.app",
		Greeting:      "Num momento vamos-te ajudar",
		GreetingVoice: "Polly.Miguel",
	}, nil)

	resp, err := http.Post(srv.URL+"/incoming-call", "application/x-www-form-urlencoded",
		strings.NewReader("CallSid=CA123&From=%2B5511999999999"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/xml", resp.Header.Get("Content-Type"))

	var doc twimlResponse
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&doc))
	require.NotNil(t, doc.Say)
	assert.Equal(t, "Polly.Miguel", doc.Say.Voice)
	assert.Equal(t, "Num momento vamos-te ajudar", doc.Say.Text)
	require.NotNil(t, doc.Connect)
	assert.Equal(t, "wss://example.ngrok.app/twilio-media", doc.Connect.Stream.URL)
}

func TestIncomingCallFallsBackToRequestHost(t *testing.T) {
	_, srv := newTestServer(t, Config{}, nil)

	resp, err := http.Post(srv.URL+"/incoming-call", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc twimlResponse
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&doc))
	assert.Nil(t, doc.Say)
	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, "wss://"+host+"/twilio-media", doc.Connect.Stream.URL)
}

func TestHealthAndIndex(t *testing.T) {
	_, srv := newTestServer(t, Config{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, true, health["ok"])
	assert.Equal(t, float64(0), health["calls"])

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	var index map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&index))
	resp.Body.Close()
	assert.Equal(t, "ok", index["status"])
	assert.Contains(t, index["endpoints"], "/twilio-media")
}

func TestCORS(t *testing.T) {
	_, srv := newTestServer(t, Config{}, nil)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/session", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,PUT,POST,DELETE,OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Content-Type,Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestSessionEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		_, srv := newTestServer(t, Config{}, nil)
		resp, err := http.Get(srv.URL + "/session")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("minted", func(t *testing.T) {
		_, srv := newTestServer(t, Config{}, stubMinter{out: map[string]any{"id": "sess_1"}})
		resp, err := http.Get(srv.URL + "/session")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "sess_1", body["id"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		_, srv := newTestServer(t, Config{}, stubMinter{err: errors.New("boom")})
		resp, err := http.Get(srv.URL + "/session")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, Config{}, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// scriptedEngine answers the first audio append with a finished transcript
// and every response.create with one audio delta.
type scriptedEngine struct {
	mu       sync.Mutex
	received []string
	server   *httptest.Server
}

func newScriptedEngine(t *testing.T) *scriptedEngine {
	e := &scriptedEngine{}
	upgrader := websocket.Upgrader{}
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		transcribed := false
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			typ, _ := msg["type"].(string)
			e.mu.Lock()
			e.received = append(e.received, typ)
			e.mu.Unlock()

			switch {
			case typ == "input_audio_buffer.append" && !transcribed:
				transcribed = true
				_ = conn.WriteJSON(map[string]any{
					"type":       "conversation.item.input_audio_transcription.completed",
					"item_id":    "item_1",
					"transcript": "Quero saber do CadÚnico",
				})
			case typ == "response.create":
				_ = conn.WriteJSON(map[string]any{"type": "response.created", "response": map[string]any{"id": "r1"}})
				_ = conn.WriteJSON(map[string]any{"type": "response.output_audio.delta", "delta": "f39/fw=="})
				_ = conn.WriteJSON(map[string]any{"type": "response.done", "response": map[string]any{"id": "r1", "status": "completed"}})
			}
		}
	}))
	t.Cleanup(e.server.Close)
	return e
}

func (e *scriptedEngine) events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

func TestMediaStreamRelay(t *testing.T) {
	engine := newScriptedEngine(t)
	s, srv := newTestServer(t, Config{
		Engine: realtimeapi.Config{
			URL:    "ws" + strings.TrimPrefix(engine.server.URL, "http"),
			APIKey: "sk-test",
		},
		Orchestrator: orchestrator.Config{RetrievalTimeout: time.Second},
	}, nil)

	twilio, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/twilio-media", nil)
	require.NoError(t, err)
	defer twilio.Close()

	send := func(msg connection.TwilioMediaMessage) {
		require.NoError(t, twilio.WriteJSON(msg))
	}
	send(connection.TwilioMediaMessage{Event: "connected", Protocol: "Call", Version: "1.0.0"})
	send(connection.TwilioMediaMessage{
		Event:     "start",
		StreamSid: "MZ1",
		Start:     &connection.TwilioStartPayload{StreamSid: "MZ1", CallSid: "CA1"},
	})
	send(connection.TwilioMediaMessage{
		Event:     "media",
		StreamSid: "MZ1",
		Media:     &connection.TwilioMediaPayload{Track: "inbound", Payload: "/////w=="},
	})

	require.NoError(t, twilio.SetReadDeadline(time.Now().Add(3*time.Second)))
	var out connection.TwilioMediaMessage
	require.NoError(t, twilio.ReadJSON(&out))
	assert.Equal(t, "media", out.Event)
	assert.Equal(t, "MZ1", out.StreamSid)
	require.NotNil(t, out.Media)
	assert.Equal(t, "f39/fw==", out.Media.Payload)

	assert.Equal(t, 1, s.calls.Count())

	send(connection.TwilioMediaMessage{Event: "stop", StreamSid: "MZ1", Stop: &connection.TwilioStopPayload{CallSid: "CA1"}})
	require.Eventually(t, func() bool { return s.calls.Count() == 0 }, 3*time.Second, 10*time.Millisecond)

	got := engine.events()
	require.NotEmpty(t, got)
	assert.Equal(t, "session.update", got[0])
	assert.Contains(t, got, "input_audio_buffer.append")
	assert.Contains(t, got, "response.create")
}

func TestMediaStreamClosesWhenEngineUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer down.Close()

	s, srv := newTestServer(t, Config{
		Engine: realtimeapi.Config{URL: "ws" + strings.TrimPrefix(down.URL, "http")},
	}, nil)

	twilio, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/twilio-media", nil)
	require.NoError(t, err)
	defer twilio.Close()

	require.NoError(t, twilio.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = twilio.ReadMessage()
	assert.Error(t, err, "the relay hangs up on the caller")
	assert.Equal(t, 0, s.calls.Count())
}
