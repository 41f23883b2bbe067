package audio

import (
	"log/slog"
	"sync"
)

// Normalizer converts inbound client chunks to the upstream provider's
// native rate. It logs a warning on the first rate mismatch so a
// misconfigured client is visible without flooding the log.
// Create one per session; not designed for shared use across goroutines.
type Normalizer struct {
	// TargetRate is the sample rate chunks are converted to. Zero means
	// [DefaultSampleRate].
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize returns c converted to the target rate. A chunk already at the
// target rate, or one that declares no rate, is returned unchanged (zero
// allocation). A chunk with an odd byte count cannot be valid PCM16 and is
// returned with its payload dropped.
func (n *Normalizer) Normalize(c Chunk) Chunk {
	target := n.TargetRate
	if target <= 0 {
		target = DefaultSampleRate
	}

	if len(c.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM16 chunk, dropping payload",
				"bytes", len(c.Data),
				"sample_rate", c.SampleRate,
			)
		})
		return Chunk{Codec: c.Codec, SampleRate: target}
	}

	if c.SampleRate <= 0 || c.SampleRate == target {
		c.SampleRate = target
		return c
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio: resampling client stream",
			"from_hz", c.SampleRate,
			"to_hz", target,
		)
	})

	return Chunk{
		Data:       Resample(c.Data, c.SampleRate, target),
		Codec:      c.Codec,
		SampleRate: target,
	}
}

// Resample converts little-endian mono PCM16 from srcRate to dstRate using
// linear interpolation. If the rates match, or either rate is non-positive,
// the input is returned unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
