// Package segment implements the Segment Buffer & VAD state machine, the
// heart of the pipeline. It accumulates 8kHz PCM chunks per
// direction and decides, from energy and silence-run thresholds, when a
// contiguous span of speech becomes an emittable Segment.
package segment

import (
	"time"

	"github.com/relaywire/callbridge/internal/audio/chunk"
	"github.com/relaywire/callbridge/internal/audio/ingress"
)

// State is the per-direction VAD state.
type State int

const (
	Idle State = iota
	Buffering
	Closed
)

// Config holds the VAD thresholds, all externally configured.
type Config struct {
	SpeechStartRMS     float64
	SilenceRMS         float64
	SilenceHang        time.Duration
	MinSpeechDuration  time.Duration
	MaxSegmentDuration time.Duration
	SegmentRejectRMS   float64
	StartupGuard       time.Duration
}

// RawSegment is the pre-resample output of the buffer: the concatenated
// 8kHz PCM for one emitted span of speech.
type RawSegment struct {
	PCM         []byte
	AvgRMS      float64
	StartOffset time.Duration
	Duration    time.Duration
}

// Buffer is the per-direction VAD state machine. Not safe for concurrent
// use; the session worker that owns a direction drives it serially.
type Buffer struct {
	cfg          Config
	sessionStart time.Time

	state              State
	buf                [][]byte
	accumulatedSamples int
	lastSpeechSamples  int
	silenceRun         time.Duration
	segStartOffset     time.Duration
}

// New creates a Buffer anchored to sessionStart, the wall-clock time the
// owning session began (used for the start-offset and startup guard).
func New(cfg Config, sessionStart time.Time) *Buffer {
	return &Buffer{cfg: cfg, sessionStart: sessionStart, state: Idle}
}

// State reports the current VAD state, for metrics snapshots.
func (b *Buffer) State() State { return b.state }

// Push feeds one chunk into the state machine. It returns an emitted
// segment (ok=true) if this chunk completed one; rejected indicates a
// segment was produced internally but discarded by the segment_reject_rms
// average-RMS gate, which the caller may want to count. A buffer dropped
// for being shorter than min_speech_duration reports neither ok nor
// rejected.
func (b *Buffer) Push(c chunk.Chunk) (seg RawSegment, ok bool, rejected bool) {
	if b.state == Closed {
		return RawSegment{}, false, false
	}

	elapsed := c.Arrival.Sub(b.sessionStart)

	switch b.state {
	case Idle:
		if elapsed < b.cfg.StartupGuard {
			return RawSegment{}, false, false
		}
		if c.RMS < b.cfg.SpeechStartRMS {
			return RawSegment{}, false, false
		}
		b.state = Buffering
		b.segStartOffset = elapsed
		b.silenceRun = 0
		b.appendSpeech(c)
		return b.evaluate()

	case Buffering:
		if c.RMS < b.cfg.SilenceRMS {
			b.silenceRun += c.Duration()
			b.appendChunk(c)
		} else {
			b.silenceRun = 0
			b.appendSpeech(c)
		}
		return b.evaluate()
	}
	return RawSegment{}, false, false
}

// Flush finalizes any pending segment on session stop, emitting it if it
// reached the minimum speech duration.
func (b *Buffer) Flush() (seg RawSegment, ok bool, rejected bool) {
	if b.state != Buffering {
		b.state = Closed
		return RawSegment{}, false, false
	}
	duration := b.accumulatedDuration()
	if duration < b.cfg.MinSpeechDuration {
		b.reset()
		b.state = Closed
		return RawSegment{}, false, false
	}
	seg, ok, rejected = b.emit(b.accumulatedSamples, duration)
	b.state = Closed
	return seg, ok, rejected
}

// Close marks the buffer terminal without emitting, discarding any pending
// partial segment.
func (b *Buffer) Close() {
	b.state = Closed
	b.buf = nil
}

func (b *Buffer) appendChunk(c chunk.Chunk) {
	b.buf = append(b.buf, c.PCM)
	b.accumulatedSamples += len(c.PCM) / 2
}

// appendSpeech appends a non-silent chunk and extends the "last speech
// sample" mark used to trim trailing silence out of silence-triggered
// emissions.
func (b *Buffer) appendSpeech(c chunk.Chunk) {
	b.appendChunk(c)
	b.lastSpeechSamples = b.accumulatedSamples
}

func (b *Buffer) accumulatedDuration() time.Duration {
	return time.Duration(b.accumulatedSamples) * time.Second / 8000
}

// evaluate checks the silence-hang and max-duration emit conditions,
// silence taking precedence over the max-duration cut in the same tick.
// The stop condition is handled by Flush.
func (b *Buffer) evaluate() (RawSegment, bool, bool) {
	full := b.accumulatedDuration()

	if b.silenceRun >= b.cfg.SilenceHang {
		if full >= b.cfg.MinSpeechDuration {
			return b.emit(b.lastSpeechSamples, time.Duration(b.lastSpeechSamples)*time.Second/8000)
		}
		b.reset()
		return RawSegment{}, false, false
	}

	if full >= b.cfg.MaxSegmentDuration {
		return b.emit(b.accumulatedSamples, full)
	}

	return RawSegment{}, false, false
}

// emit concatenates the buffered PCM up to upToSamples, computes the
// whole-segment average RMS, resets to Idle, and then applies the
// segment_reject_rms gate.
func (b *Buffer) emit(upToSamples int, duration time.Duration) (RawSegment, bool, bool) {
	pcm := b.concat(upToSamples)
	avgRMS := ingress.RMS(pcm)
	startOffset := b.segStartOffset
	b.reset()

	if avgRMS < b.cfg.SegmentRejectRMS {
		return RawSegment{}, false, true
	}

	return RawSegment{
		PCM:         pcm,
		AvgRMS:      avgRMS,
		StartOffset: startOffset,
		Duration:    duration,
	}, true, false
}

func (b *Buffer) concat(upToSamples int) []byte {
	upToBytes := upToSamples * 2
	out := make([]byte, 0, upToBytes)
	for _, chunk := range b.buf {
		if len(out) >= upToBytes {
			break
		}
		remain := upToBytes - len(out)
		if remain >= len(chunk) {
			out = append(out, chunk...)
		} else {
			out = append(out, chunk[:remain]...)
		}
	}
	return out
}

func (b *Buffer) reset() {
	b.buf = nil
	b.accumulatedSamples = 0
	b.lastSpeechSamples = 0
	b.silenceRun = 0
	b.state = Idle
}
