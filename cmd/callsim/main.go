// Command callsim plays the Twilio side of a call against a running
// assistant: it streams an 8kHz mono WAV as μ-law media frames and records
// whatever the assistant says back.
//
// Usage:
//
//	callsim -url ws://localhost:5050/twilio-media -in question.wav -out answer.wav
package main

import (
	"bytes"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/realtime-ai/benefits-assistant/pkg/audio"
	"github.com/realtime-ai/benefits-assistant/pkg/connection"
)

const frameInterval = 20 * time.Millisecond

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	url := flag.String("url", envOrDefault("CALLSIM_URL", "ws://localhost:5050/twilio-media"), "relay media stream URL")
	in := flag.String("in", "", "8kHz mono PCM16 WAV to speak")
	out := flag.String("out", "assistant.wav", "where to write the assistant's audio")
	listen := flag.Duration("listen", 15*time.Second, "how long to keep listening after the input ends")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*url, *in, *out, *listen); err != nil {
		log.Fatalf("callsim: %v", err)
	}
}

func run(url, inPath, outPath string, listen time.Duration) error {
	f, err := os.Open(inPath)
	if err != nil {
		return err
	}
	wav, err := audio.ReadWAV(f)
	f.Close()
	if err != nil {
		return err
	}
	if wav.SampleRate != audio.SampleRate {
		return fmt.Errorf("%s is %d Hz; Media Streams audio is %d Hz", inPath, wav.SampleRate, audio.SampleRate)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	streamSid := "MZ" + uuid.NewString()
	callSid := "CA" + uuid.NewString()
	log.Printf("Connected to %s (stream %s)", url, streamSid)

	var (
		mu       sync.Mutex
		received bytes.Buffer
		frames   int
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var msg connection.TwilioMediaMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event != "media" || msg.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				log.Printf("Bad media payload: %v", err)
				continue
			}
			mu.Lock()
			received.Write(payload)
			frames++
			mu.Unlock()
		}
	}()

	send := func(msg connection.TwilioMediaMessage) error {
		return conn.WriteJSON(msg)
	}
	if err := send(connection.TwilioMediaMessage{Event: "connected", Protocol: "Call", Version: "1.0.0"}); err != nil {
		return err
	}
	if err := send(connection.TwilioMediaMessage{
		Event:     "start",
		StreamSid: streamSid,
		Start: &connection.TwilioStartPayload{
			StreamSid: streamSid,
			CallSid:   callSid,
			Tracks:    []string{"inbound"},
			MediaFormat: connection.TwilioMediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: audio.SampleRate,
				Channels:   1,
			},
		},
	}); err != nil {
		return err
	}

	// Trailing silence lets server VAD close the turn
	mulaw := append(audio.PCMToMuLaw(wav.PCM), silence(time.Second)...)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for i, frame := range audio.Frames(mulaw, audio.FrameSamples) {
		<-ticker.C
		if err := send(connection.TwilioMediaMessage{
			Event:          "media",
			SequenceNumber: fmt.Sprint(i + 1),
			StreamSid:      streamSid,
			Media: &connection.TwilioMediaPayload{
				Track:   "inbound",
				Chunk:   fmt.Sprint(i + 1),
				Payload: base64.StdEncoding.EncodeToString(frame),
			},
		}); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}
	log.Printf("Input sent, listening for %v", listen)

	select {
	case <-time.After(listen):
	case <-readDone:
		log.Printf("Relay closed the stream")
	}
	_ = send(connection.TwilioMediaMessage{
		Event:     "stop",
		StreamSid: streamSid,
		Stop:      &connection.TwilioStopPayload{CallSid: callSid},
	})

	mu.Lock()
	defer mu.Unlock()
	o, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer o.Close()
	if err := audio.WriteWAV(o, audio.MuLawToPCM(received.Bytes()), audio.SampleRate); err != nil {
		return err
	}
	log.Printf("Wrote %d frames (%d bytes μ-law) to %s", frames, received.Len(), outPath)
	return nil
}

func silence(d time.Duration) []byte {
	n := int(d.Seconds() * audio.SampleRate)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = audio.MuLawEncode(0)
	}
	return buf
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
