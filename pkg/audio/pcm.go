// Package audio provides PCM16 helpers shared by the admission gate and the
// upstream adapter: chunk framing, energy measurement, and duration math.
//
// All functions interpret audio as little-endian signed 16-bit mono PCM,
// which is the only codec carried on the client wire and the upstream
// connection.
package audio

import (
	"encoding/binary"
	"math"
)

// DefaultSampleRate is the sample rate assumed when a client does not declare
// one. It matches the upstream provider's native PCM16 format.
const DefaultSampleRate = 24000

// CodecPCM16 is the only codec tag currently supported on the wire.
const CodecPCM16 = "pcm16"

// Chunk is a single inbound or outbound audio chunk. For PCM16 the byte
// length is always samples × 2.
type Chunk struct {
	// Data is the raw audio payload (little-endian PCM16).
	Data []byte

	// Codec identifies the payload encoding. Defaults to [CodecPCM16].
	Codec string

	// SampleRate in Hz. Defaults to [DefaultSampleRate] when zero.
	SampleRate int
}

// Samples decodes the chunk's payload into int16 samples. A trailing odd
// byte, which cannot form a sample, is ignored.
func (c Chunk) Samples() []int16 {
	n := len(c.Data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(c.Data[i*2:]))
	}
	return out
}

// Duration returns the playback duration of the chunk in milliseconds.
// Returns 0 for an empty chunk or a zero sample rate with no default.
func (c Chunk) Duration() int64 {
	rate := c.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	samples := int64(len(c.Data) / 2)
	return samples * 1000 / int64(rate)
}

// RMS computes the root-mean-square energy of little-endian PCM16 data.
// The result is in raw sample units (0..32767); silence is 0. An empty or
// sub-sample input yields 0.
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMS returns the duration in milliseconds of nBytes of PCM16 audio
// at the given sample rate (mono).
func DurationMS(nBytes int, sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return int64(nBytes/2) * 1000 / int64(sampleRate)
}

// BytesForDuration returns the number of PCM16 bytes covering d milliseconds
// at the given sample rate (mono).
func BytesForDuration(ms int64, sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return int(ms*int64(sampleRate)/1000) * 2
}
