package server

import (
	"encoding/xml"
	"log"
	"net/http"

	"github.com/realtime-ai/benefits-assistant/pkg/connection"
	"github.com/realtime-ai/benefits-assistant/pkg/orchestrator"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi"
	"github.com/realtime-ai/benefits-assistant/pkg/session"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// handleIncomingCall answers the Twilio voice webhook: greet the caller, then
// open a bidirectional media stream back to this server.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		log.Printf("[Server] Incoming call: CallSid=%s", r.FormValue("CallSid"))
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}

	resp := twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{URL: "wss://" + host + mediaPath}},
	}
	if s.cfg.Greeting != "" {
		resp.Say = &twimlSay{Voice: s.cfg.GreetingVoice, Text: s.cfg.Greeting}
	}

	body, err := xml.Marshal(resp)
	if err != nil {
		log.Printf("[Server] Failed to render TwiML: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// handleMedia relays one Twilio media stream to a dedicated engine
// connection for the lifetime of the call.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}
	log.Printf("[Server] Media stream connected from %s", r.RemoteAddr)

	transport := connection.NewTwilioConnection(ws)
	call := session.NewCall(r.Context(), transport, session.Options{
		QueueSize: s.cfg.QueueSize,
		Metrics:   s.metrics,
	})

	engine := realtimeapi.NewClient(s.cfg.Engine)
	orch := orchestrator.New(call.Context(), call, engine, s.safety, s.retriever, s.metrics, s.cfg.Orchestrator)
	if err := engine.Connect(call.Context(), orch); err != nil {
		log.Printf("[Server] Call %s: engine unavailable: %v", call.ID(), err)
		call.Close()
		return
	}
	call.AttachEngine(engine)

	s.calls.Add(call)
	defer s.calls.Remove(call.ID())
	call.Run()
}
