package recorder

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenCreatesNamedPair checks the filename pattern
// <speaker>_<session_id>_<YYYYMMDD_HHMMSS>_<rate>Hz.wav.
func TestOpenCreatesNamedPair(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	pair, err := Open(dir, "technician", "sess-1", start)
	require.NoError(t, err)
	defer pair.Close()

	assert.FileExists(t, pair.path8k)
	assert.FileExists(t, pair.path16)
	assert.Contains(t, pair.path8k, "technician_sess-1_20250102_030405_8000Hz.wav")
	assert.Contains(t, pair.path16, "technician_sess-1_20250102_030405_16000Hz.wav")
}

// TestWriteAndSizeInvariant checks that after close the
// 16kHz file's data size equals the 8kHz file's data size x 2.
func TestWriteAndSizeInvariant(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()

	pair, err := Open(dir, "technician", "sess-2", start)
	require.NoError(t, err)

	pcm8 := make([]byte, 160)
	pcm16 := make([]byte, 320)
	for i := 0; i < 3; i++ {
		err8, err16 := pair.Write(pcm8, pcm16)
		require.NoError(t, err8)
		require.NoError(t, err16)
	}

	err8, err16 := pair.Close()
	require.NoError(t, err8)
	require.NoError(t, err16)

	raw8, err := os.ReadFile(pair.path8k)
	require.NoError(t, err)
	raw16, err := os.ReadFile(pair.path16)
	require.NoError(t, err)

	data8 := binary.LittleEndian.Uint32(raw8[40:44])
	data16 := binary.LittleEndian.Uint32(raw16[40:44])
	assert.Equal(t, data8*2, data16)
	assert.Equal(t, uint32(480), data8)
	assert.Equal(t, uint32(960), data16)
}

// TestOpenCreatesMissingDir checks the recording directory is created
// if absent.
func TestOpenCreatesMissingDir(t *testing.T) {
	dir := t.TempDir() + "/nested/recordings"
	pair, err := Open(dir, "agent", "sess-3", time.Now())
	require.NoError(t, err)
	defer pair.Close()
	assert.DirExists(t, dir)
}
