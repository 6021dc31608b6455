package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteHeaderShape checks the 44-byte RIFF/WAVE header fields the
// writer produces: correct chunk IDs, sample rate, and data size.
func TestWriteHeaderShape(t *testing.T) {
	header := make([]byte, 44)
	WriteHeader(header, 16000, 320)

	assert.Equal(t, "RIFF", string(header[0:4]))
	assert.Equal(t, "WAVE", string(header[8:12]))
	assert.Equal(t, "fmt ", string(header[12:16]))
	assert.Equal(t, "data", string(header[36:40]))

	assert.Equal(t, uint32(36+320), binary.LittleEndian.Uint32(header[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(header[20:22])) // PCM format tag
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(header[22:24])) // mono
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(header[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(header[34:36])) // bits per sample
	assert.Equal(t, uint32(320), binary.LittleEndian.Uint32(header[40:44]))
}

// TestWriterRoundTrip checks a Writer produces a file whose header,
// after Close, reports the exact number of bytes written.
func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")

	w, err := Create(path, 8000)
	require.NoError(t, err)

	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, w.Write(payload))
	require.NoError(t, w.Write(payload))
	assert.Equal(t, uint32(640), w.DataBytes())
	assert.Equal(t, 320, w.FrameCount()) // 640 bytes / 2 bytes-per-sample

	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 44+640)

	assert.Equal(t, uint32(640), binary.LittleEndian.Uint32(raw[40:44]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(raw[24:28]))
	assert.Equal(t, payload, raw[44:44+320])
}

// TestWriteAfterCloseFails checks writes past Close are rejected rather
// than silently corrupting the file.
func TestWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "test.wav"), 8000)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Write([]byte{1, 2})
	assert.Error(t, err)
}

// TestDoubleCloseIsIdempotent checks closing twice doesn't error or
// re-patch the header incorrectly.
func TestDoubleCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "test.wav"), 8000)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
