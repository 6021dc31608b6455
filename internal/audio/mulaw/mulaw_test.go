package mulaw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDecodeSilence verifies that the provider's all-0xFF silence byte
// decodes to zero PCM.
func TestDecodeSilence(t *testing.T) {
	ulaw := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	pcm := Decode(ulaw)
	assert.Len(t, pcm, 8)
	for i := 0; i < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		assert.Equal(t, int16(0), sample)
	}
}

// TestDecodeLength verifies one PCM sample (2 bytes) is produced per
// µ-law byte.
func TestDecodeLength(t *testing.T) {
	ulaw := make([]byte, 160)
	pcm := Decode(ulaw)
	assert.Len(t, pcm, 320)
}

// TestRoundTripAllValues checks µ-law<->PCM round-trip equality on the
// 256-value quantization grid.
func TestRoundTripAllValues(t *testing.T) {
	for i := 0; i < 256; i++ {
		ulaw := byte(i)
		pcm := Decode([]byte{ulaw})
		reencoded := Encode(pcm)
		assert.Len(t, reencoded, 1)

		// Re-decoding the re-encoded byte must reproduce the same PCM
		// sample: the lossy direction is PCM->ulaw, not ulaw->PCM->ulaw
		// on values that originated as ulaw.
		pcm2 := Decode(reencoded)
		assert.Equal(t, pcm, pcm2, "round trip mismatch for ulaw byte %d", i)
	}
}

// TestDecodeDeterministic checks the decoder is stateless: the same
// input always produces the same output regardless of call order.
func TestDecodeDeterministic(t *testing.T) {
	ulaw := []byte{0x00, 0x7F, 0xFF, 0x80}
	first := Decode(ulaw)
	second := Decode(ulaw)
	assert.Equal(t, first, second)
}
