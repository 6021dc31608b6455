// Package stt adapts Segments (batch backend) or streams of 16kHz PCM
// (streaming backend) into Transcripts, behind one provider-agnostic
// contract.
//
// Results are expressed as a closed sum type rather than exceptions/errors
// carrying control flow: a call always
// returns an Outcome, and callers switch on Kind.
package stt

import (
	"context"
	"time"
)

// Kind is the closed set of result kinds an STT call can produce.
type Kind int

const (
	// Transcribed carries a usable transcription.
	Transcribed Kind = iota
	// Filtered means the provider answered but the text was rejected by
	// the hallucination filter; not an error.
	Filtered
	// Transient is a recoverable provider fault (timeout, 5xx, dropped
	// socket); logged at warn, never propagated to subscribers.
	Transient
	// Fatal means the backend cannot continue for this direction (e.g. a
	// failed reconnect); the transcript stream ends but audio/recording
	// continue.
	Fatal
)

// Result is the payload carried by a Transcribed Outcome.
type Result struct {
	Text        string
	Language    string
	Confidence  *float64
	IsFinal     bool
	StartOffset time.Duration
	Duration    time.Duration
}

// Outcome is the sum-type value every STT call produces.
type Outcome struct {
	Kind         Kind
	Result       Result
	FilterReason string
	Err          error
}

// BatchBackend transcribes one complete segment synchronously.
type BatchBackend interface {
	TranscribeBatch(ctx context.Context, pcm16k []byte, language string, startOffset, duration time.Duration) Outcome
}

// StreamHandle is a live streaming session bound to one direction.
type StreamHandle interface {
	// Write feeds 16kHz PCM continuously; it does not block on a reply.
	Write(pcm16k []byte) error
	// Results yields Outcomes asynchronously as the provider produces them.
	// Closed when the stream ends (successfully or fatally).
	Results() <-chan Outcome
	// Close ends the stream. The websocket implementation does not wait
	// for results still pending at the provider; see wsStreamHandle.Close.
	Close() error
}

// StreamingBackend opens a persistent outbound connection per
// session-direction.
type StreamingBackend interface {
	OpenStream(ctx context.Context, language string) (StreamHandle, error)
}
