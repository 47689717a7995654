package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedWAV is returned for WAV files that are not mono PCM16.
var ErrUnsupportedWAV = errors.New("unsupported wav format")

// WAV is decoded mono PCM16 audio.
type WAV struct {
	SampleRate int
	// PCM is little-endian signed 16-bit samples.
	PCM []byte
}

// WriteWAV writes little-endian PCM16 mono samples to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	w := bufio.NewWriter(out)

	header := struct {
		Riff          [4]byte
		ChunkSize     uint32
		Wave          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ReadWAV reads a mono PCM16 WAV stream. Chunks other than fmt and data are
// skipped.
func ReadWAV(r io.Reader) (*WAV, error) {
	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedWAV)
	}

	out := &WAV{}
	haveFmt := false
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var f struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if chunk.Size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if _, err := io.CopyN(io.Discard, r, int64(chunk.Size-16)); err != nil {
				return nil, err
			}
			if f.AudioFormat != 1 || f.Channels != 1 || f.BitsPerSample != 16 {
				return nil, fmt.Errorf("%w: format=%d channels=%d bits=%d",
					ErrUnsupportedWAV, f.AudioFormat, f.Channels, f.BitsPerSample)
			}
			out.SampleRate = int(f.SampleRate)
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrUnsupportedWAV)
			}
			out.PCM = make([]byte, chunk.Size)
			if _, err := io.ReadFull(r, out.PCM); err != nil {
				return nil, fmt.Errorf("failed to read samples: %w", err)
			}
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunk.Size+chunk.Size%2)); err != nil {
				return nil, err
			}
		}
	}
}
