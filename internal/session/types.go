// Package session owns Session lifecycle, per-direction audio state, and
// the subscriber fan-out, per the registry responsibility described in
// the core design (one process-wide table, one lock per session).
package session

import (
	"sync/atomic"
	"time"

	"github.com/relaywire/callbridge/internal/audio/queue"
	"github.com/relaywire/callbridge/internal/audio/recorder"
	"github.com/relaywire/callbridge/internal/audio/segment"
	"github.com/relaywire/callbridge/internal/stt"
)

// Role is a call direction: the remote technician being transcribed, or
// the browser-side agent (structurally identical, optional).
type Role string

const (
	RoleTechnician Role = "technician"
	RoleAgent      Role = "agent"
)

// CloseReason names why a session or direction ended, surfaced to
// subscribers and logs.
type CloseReason string

const (
	ReasonStopFrame     CloseReason = "stop"
	ReasonSocketError   CloseReason = "socket_error"
	ReasonIdleTimeout   CloseReason = "idle_timeout"
	ReasonServerClosing CloseReason = "server_closing"
	ReasonInternalError CloseReason = "internal_error"
)

// Transcript is an immutable record of one produced STT result, final or
// interim, ready for fan-out and agent-pipeline submission.
type Transcript struct {
	SessionID   string
	SpeakerRole Role
	Text        string
	Language    string
	Confidence  *float64
	IsFinal     bool
	StartOffset time.Duration
	Duration    time.Duration
	Timestamp   time.Time
	Sequence    uint64
}

// Filter selects which transcripts a Subscriber wants.
type Filter struct {
	Roles        map[Role]bool // empty/nil means all roles
	AllowInterim bool
}

func (f Filter) matches(t Transcript) bool {
	if !t.IsFinal && !f.AllowInterim {
		return false
	}
	if len(f.Roles) == 0 {
		return true
	}
	return f.Roles[t.SpeakerRole]
}

// Subscriber is a bounded push sink bound to one session.
type Subscriber struct {
	ID     string
	Filter Filter
	ch     chan Transcript
	drops  atomic.Uint64
}

// Outbox returns the channel subscribers should range over.
func (s *Subscriber) Outbox() <-chan Transcript { return s.ch }

// Drops reports how many transcripts were dropped for this subscriber due
// to a full outbox.
func (s *Subscriber) Drops() uint64 { return s.drops.Load() }

// DirectionState is the full mutable state for one call direction: the
// VAD buffer, its queue of decoded chunks, the optional streaming STT
// handle, the recording pair, and counters for the metrics snapshot.
type DirectionState struct {
	Role Role

	Ingress *queue.ChunkQueue
	VAD     *segment.Buffer
	Stream  stt.StreamHandle // non-nil only in streaming backend mode
	Rec     *recorder.Pair   // non-nil only when recording is enabled
	Worker  *Worker          // set by NewWorker; nil until the direction has one

	sequence atomic.Uint64

	ChunksReceived      atomic.Uint64
	SegmentsEmitted     atomic.Uint64
	SegmentsRejected    atomic.Uint64
	TranscriptsSent     atomic.Uint64
	TranscriptsFiltered atomic.Uint64

	Closed atomic.Bool
}

// NextSequence increments and returns the direction's final-transcript
// sequence number. The numbering is a strict increasing sequence starting
// at 0 with no gaps.
func (d *DirectionState) NextSequence() uint64 {
	return d.sequence.Add(1) - 1
}

// Snapshot is the non-blocking metrics read returned by Registry.Snapshot.
type Snapshot struct {
	SessionID  string
	CreatedAt  time.Time
	Directions map[Role]DirectionSnapshot
}

type DirectionSnapshot struct {
	State               segment.State
	ChunksReceived      uint64
	SegmentsEmitted     uint64
	SegmentsRejected    uint64
	TranscriptsSent     uint64
	TranscriptsFiltered uint64
	StreamTerminated    bool
}
