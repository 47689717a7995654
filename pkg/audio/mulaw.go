// Package audio converts between the telephony codec and linear PCM and
// reads and writes the WAV files used by the call simulator.
package audio

// G.711 μ-law constants
const (
	muLawBias = 0x84
	muLawClip = 32635
)

// SampleRate is the telephony sample rate of the media stream.
const SampleRate = 8000

// FrameSamples is the 20ms frame the carrier sends per media message.
const FrameSamples = SampleRate / 50

var muLawDecodeTable [256]int16

func init() {
	for i := range muLawDecodeTable {
		u := ^byte(i)
		t := (int32(u&0x0f) << 3) + muLawBias
		t <<= (u & 0x70) >> 4
		if u&0x80 != 0 {
			muLawDecodeTable[i] = int16(muLawBias - t)
		} else {
			muLawDecodeTable[i] = int16(t - muLawBias)
		}
	}
}

// MuLawDecode converts one μ-law byte to a 16-bit sample.
func MuLawDecode(u byte) int16 {
	return muLawDecodeTable[u]
}

// MuLawEncode converts a 16-bit sample to μ-law.
func MuLawEncode(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0f
	return ^(sign | exponent<<4 | mantissa)
}

// MuLawToPCM decodes μ-law bytes to little-endian PCM16.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := muLawDecodeTable[b]
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// PCMToMuLaw encodes little-endian PCM16 to μ-law. A trailing odd byte is
// ignored.
func PCMToMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = MuLawEncode(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	return out
}

// Frames splits μ-law audio into chunks of n samples; the last chunk may be
// shorter.
func Frames(mulaw []byte, n int) [][]byte {
	if n <= 0 {
		n = FrameSamples
	}
	frames := make([][]byte, 0, (len(mulaw)+n-1)/n)
	for start := 0; start < len(mulaw); start += n {
		end := start + n
		if end > len(mulaw) {
			end = len(mulaw)
		}
		frames = append(frames, mulaw[start:end])
	}
	return frames
}
