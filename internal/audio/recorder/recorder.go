// Package recorder owns the paired 8kHz/16kHz WAV writers for one session
// direction: the raw telephony audio and its upsampled twin.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relaywire/callbridge/internal/audio/wav"
)

// Pair is the pre- and post-resample WAV writers for one session direction.
type Pair struct {
	Raw8k  *wav.Writer
	Up16k  *wav.Writer
	path8k string
	path16 string
}

// Open creates both writers under dir, named
// <speaker>_<sessionID>_<YYYYMMDD_HHMMSS>_<rate>Hz.wav
func Open(dir, speaker, sessionID string, sessionStart time.Time) (*Pair, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create dir %s: %w", dir, err)
	}
	stamp := sessionStart.UTC().Format("20060102_150405")
	path8 := filepath.Join(dir, fmt.Sprintf("%s_%s_%s_8000Hz.wav", speaker, sessionID, stamp))
	path16 := filepath.Join(dir, fmt.Sprintf("%s_%s_%s_16000Hz.wav", speaker, sessionID, stamp))

	w8, err := wav.Create(path8, 8000)
	if err != nil {
		return nil, err
	}
	w16, err := wav.Create(path16, 16000)
	if err != nil {
		w8.Close()
		return nil, err
	}
	return &Pair{Raw8k: w8, Up16k: w16, path8k: path8, path16: path16}, nil
}

// Write appends pre-resample and post-resample bytes to their respective
// writers. The worker calls it once per decoded chunk, so the files carry
// the complete call audio, silence included. Errors are returned for the
// caller to log and suppress; a write failure must never terminate the
// session.
func (p *Pair) Write(pcm8k, pcm16k []byte) (err8, err16 error) {
	err8 = p.Raw8k.Write(pcm8k)
	err16 = p.Up16k.Write(pcm16k)
	return
}

// Close closes both writers, logging is the caller's responsibility.
func (p *Pair) Close() (err8, err16 error) {
	err8 = p.Raw8k.Close()
	err16 = p.Up16k.Close()
	return
}
