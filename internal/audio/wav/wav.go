// Package wav writes RIFF/WAVE PCM files incrementally: a 44-byte header is
// reserved up front and patched with the final sizes on Close, since
// segments arrive as a stream over the life of a session.
package wav

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	headerSize    = 44
	numChannels   = 1
	bitsPerSample = 16
)

// Writer is a single 16-bit signed mono little-endian PCM WAV file, open
// for append-only writes for the lifetime of one session direction.
type Writer struct {
	f          *os.File
	sampleRate int
	dataBytes  uint32
	closed     bool
}

// Create opens path and reserves a placeholder header for the given sample
// rate. The directory must already exist; recorder.Open creates it
// before calling Create.
func Create(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	w := &Writer{f: f, sampleRate: sampleRate}
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: reserve header: %w", err)
	}
	return w, nil
}

// Write appends PCM bytes to the data chunk. Failures are returned for the
// caller to log and suppress; a failed write must not terminate the
// owning session.
func (w *Writer) Write(pcm []byte) error {
	if w.closed {
		return fmt.Errorf("wav: write after close")
	}
	if len(pcm) == 0 {
		return nil
	}
	n, err := w.f.Write(pcm)
	if err != nil {
		return fmt.Errorf("wav: write: %w", err)
	}
	w.dataBytes += uint32(n)
	return nil
}

// FrameCount returns the number of samples written so far.
func (w *Writer) FrameCount() int {
	return int(w.dataBytes) / (numChannels * bitsPerSample / 8)
}

// DataBytes returns the number of PCM bytes written so far (excludes header).
func (w *Writer) DataBytes() uint32 {
	return w.dataBytes
}

// Close patches the RIFF and data chunk sizes and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	header := make([]byte, headerSize)
	WriteHeader(header, w.sampleRate, int(w.dataBytes))

	if _, err := w.f.WriteAt(header, 0); err != nil {
		w.f.Close()
		return fmt.Errorf("wav: patch header: %w", err)
	}
	return w.f.Close()
}

// WriteHeader fills a 44-byte RIFF/WAVE header in place for dataBytes of
// 16-bit mono PCM at sampleRate. Exported so callers that build a WAV
// entirely in memory (the batch STT backend) don't need a file.
func WriteHeader(header []byte, sampleRate int, dataBytes int) {
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(headerSize-8+dataBytes))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], numChannels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(numChannels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataBytes))
}
