// Package ingress implements the Audio Ingress component: per-packet
// µ-law -> PCM8k decode plus RMS metering, handed to the Segment Buffer.
package ingress

import (
	"math"
	"time"

	"github.com/relaywire/callbridge/internal/audio/chunk"
	"github.com/relaywire/callbridge/internal/audio/mulaw"
)

// Decode converts one provider media payload (µ-law, 8kHz, mono) into a
// Chunk carrying 16-bit linear PCM and its RMS, stamped with arrival.
//
// The decoder is stateless; RMS is computed over every sample in pcm.
func Decode(ulaw []byte, arrival time.Time) chunk.Chunk {
	pcm := mulaw.Decode(ulaw)
	return chunk.Chunk{
		PCM:     pcm,
		RMS:     RMS(pcm),
		Arrival: arrival,
	}
}

// RMS computes the root-mean-square of 16-bit signed little-endian PCM
// samples: sqrt(mean(sample^2)).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		s := float64(sample)
		sumSq += s * s
	}
	return math.Sqrt(sumSq / float64(n))
}
