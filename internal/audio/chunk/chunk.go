// Package chunk defines the unit the Audio Ingress hands to the Segment
// Buffer: one decoded PCM packet plus its precomputed RMS.
package chunk

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Chunk is one decoded 8 kHz mono 16-bit PCM packet, typically ~20ms.
type Chunk struct {
	PCM     []byte
	RMS     float64
	Arrival time.Time
}

// Duration reports the chunk's playback duration assuming 8 kHz mono 16-bit PCM.
func (c Chunk) Duration() time.Duration {
	samples := len(c.PCM) / 2
	return time.Duration(samples) * time.Second / 8000
}

// MarshalBinary serializes a Chunk for storage in a byte-oriented ring
// buffer: 8-byte RMS, 8-byte arrival unix-nano, then raw PCM.
func (c Chunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16+len(c.PCM))
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(c.RMS))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Arrival.UnixNano()))
	copy(buf[16:], c.PCM)
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (c *Chunk) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("chunk: short buffer (%d bytes)", len(data))
	}
	c.RMS = math.Float64frombits(binary.LittleEndian.Uint64(data[0:8]))
	c.Arrival = time.Unix(0, int64(binary.LittleEndian.Uint64(data[8:16])))
	c.PCM = append([]byte(nil), data[16:]...)
	return nil
}
