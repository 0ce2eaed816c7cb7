package transcriber

import (
	"encoding/binary"
	"math"
)

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// rms returns the root-mean-square level of the samples.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// speechRMSThreshold is the level below which a whole track is treated as
// silence and skipped without touching the accelerator.
const speechRMSThreshold = 0.005

// hasSpeech reports whether any one-second window of the track exceeds the
// silence threshold.
func hasSpeech(samples []float32, sampleRate int) bool {
	if len(samples) == 0 {
		return false
	}
	window := sampleRate
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}
	for start := 0; start < len(samples); start += window {
		end := min(start+window, len(samples))
		if rms(samples[start:end]) >= speechRMSThreshold {
			return true
		}
	}
	return false
}
