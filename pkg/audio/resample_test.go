package audio

import (
	"encoding/binary"
	"testing"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestResample_RateMath(t *testing.T) {
	tests := []struct {
		name        string
		srcSamples  int
		srcRate     int
		dstRate     int
		wantSamples int
	}{
		{"downsample 48k to 24k", 480, 48000, 24000, 240},
		{"upsample 16k to 24k", 160, 16000, 24000, 240},
		{"downsample 44.1k to 24k", 441, 44100, 24000, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := make([]int16, tt.srcSamples)
			for i := range src {
				src[i] = int16(i % 1000)
			}
			got := Resample(pcmOf(src...), tt.srcRate, tt.dstRate)
			if len(got)/2 != tt.wantSamples {
				t.Errorf("Resample() produced %d samples, want %d", len(got)/2, tt.wantSamples)
			}
		})
	}
}

func TestResample_SameRateUnchanged(t *testing.T) {
	src := pcmOf(100, 200, 300)
	got := Resample(src, 24000, 24000)
	if &got[0] != &src[0] {
		t.Error("Resample() copied the input for matching rates")
	}
}

func TestResample_Interpolates(t *testing.T) {
	// Upsampling 2x inserts midpoints between neighbouring samples.
	got := Resample(pcmOf(0, 100), 12000, 24000)
	samples := Chunk{Data: got}.Samples()
	if len(samples) != 4 {
		t.Fatalf("got %d samples, want 4", len(samples))
	}
	if samples[1] != 50 {
		t.Errorf("interpolated sample = %d, want 50", samples[1])
	}
}

func TestNormalizer_PassthroughAtTargetRate(t *testing.T) {
	var n Normalizer
	in := Chunk{Data: pcmOf(1, 2, 3), SampleRate: 24000}
	got := n.Normalize(in)
	if &got.Data[0] != &in.Data[0] {
		t.Error("Normalize() copied a chunk already at the target rate")
	}
}

func TestNormalizer_UndeclaredRateAssumesDefault(t *testing.T) {
	var n Normalizer
	got := n.Normalize(Chunk{Data: pcmOf(1, 2)})
	if got.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, DefaultSampleRate)
	}
	if len(got.Data) != 4 {
		t.Errorf("payload length changed: %d", len(got.Data))
	}
}

func TestNormalizer_ResamplesMismatchedRate(t *testing.T) {
	var n Normalizer
	got := n.Normalize(Chunk{Data: pcmOf(make([]int16, 480)...), SampleRate: 48000})
	if got.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, DefaultSampleRate)
	}
	if len(got.Data)/2 != 240 {
		t.Errorf("got %d samples, want 240", len(got.Data)/2)
	}
}

func TestNormalizer_DropsOddByteChunk(t *testing.T) {
	var n Normalizer
	got := n.Normalize(Chunk{Data: []byte{1, 2, 3}, SampleRate: 24000})
	if got.Data != nil {
		t.Errorf("Data = %v, want nil", got.Data)
	}
}
