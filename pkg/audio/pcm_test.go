package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/nxtg-ai/voxbridge/pkg/audio"
)

// pcm16 builds a little-endian PCM16 payload from the given samples.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{name: "empty", data: nil, want: 0},
		{name: "single byte", data: []byte{0x42}, want: 0},
		{name: "silence", data: make([]byte, 200), want: 0},
		{name: "constant amplitude", data: pcm16(10000, 10000, 10000, 10000), want: 10000},
		{name: "negative amplitude", data: pcm16(-10000, -10000), want: 10000},
		{name: "mixed", data: pcm16(3000, -4000), want: math.Sqrt((3000*3000 + 4000*4000) / 2.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.RMS(tt.data)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunkDuration(t *testing.T) {
	t.Parallel()

	// 24000 Hz means 48 bytes per millisecond.
	c := audio.Chunk{Data: make([]byte, 4800), SampleRate: 24000}
	if got := c.Duration(); got != 100 {
		t.Errorf("Duration = %d ms, want 100", got)
	}

	// A zero sample rate falls back to the default 24 kHz.
	c = audio.Chunk{Data: make([]byte, 480)}
	if got := c.Duration(); got != 10 {
		t.Errorf("Duration with default rate = %d ms, want 10", got)
	}
}

func TestChunkSamples(t *testing.T) {
	t.Parallel()

	c := audio.Chunk{Data: pcm16(1, -1, 32767, -32768)}
	got := c.Samples()
	want := []int16{1, -1, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("Samples length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Samples[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	// Trailing odd byte is ignored.
	c = audio.Chunk{Data: append(pcm16(5), 0xFF)}
	if got := c.Samples(); len(got) != 1 || got[0] != 5 {
		t.Errorf("Samples with odd tail = %v, want [5]", got)
	}
}

func TestDurationBytesRoundTrip(t *testing.T) {
	t.Parallel()

	for _, ms := range []int64{10, 50, 100, 5000} {
		n := audio.BytesForDuration(ms, 24000)
		if got := audio.DurationMS(n, 24000); got != ms {
			t.Errorf("DurationMS(BytesForDuration(%d)) = %d", ms, got)
		}
	}

	// 5 seconds at 24 kHz PCM16 is 240000 bytes, the adapter's buffer cap.
	if got := audio.BytesForDuration(5000, 24000); got != 240000 {
		t.Errorf("BytesForDuration(5000) = %d, want 240000", got)
	}
}
