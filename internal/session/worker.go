package session

import (
	"context"
	"sync"
	"time"

	"github.com/relaywire/callbridge/internal/agentpipeline"
	"github.com/relaywire/callbridge/internal/audio/chunk"
	"github.com/relaywire/callbridge/internal/audio/resample"
	"github.com/relaywire/callbridge/internal/audio/segment"
	"github.com/relaywire/callbridge/internal/stt"
	"github.com/relaywire/callbridge/pkg/logging"
)

// segJob carries a raw segment through the bounded STT work queue
// (depth 8, drop-new on overflow).
type segJob struct {
	raw segment.RawSegment
}

// WorkerConfig is everything a direction worker needs beyond the shared
// Registry: which backend to drive, the STT language, and where to send
// final transcripts.
type WorkerConfig struct {
	Language    string
	Backend     stt.BatchBackend     // nil unless backend=batch
	Stream      stt.StreamingBackend // nil unless backend=streaming
	AgentClient agentpipeline.Submitter
	CloseGrace  time.Duration
	SpeakerRole Role
}

// Worker drives one session direction end to end: drains the ingress
// queue, feeds the VAD, records every chunk, and serially transcribes
// every emitted segment. Ingestion and STT processing run on separate
// goroutines connected by a bounded channel so STT network latency never
// stalls chunk intake.
type Worker struct {
	registry *Registry
	logger   *logging.Logger
	sessID   string
	d        *DirectionState
	cfg      WorkerConfig

	segQueue chan segJob
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker builds a Worker for one direction and binds itself into d so
// teardown paths (stop frame, socket error, idle sweep) can reach it
// through the registry. d must already be bound into the Session via
// Registry.Open.
func NewWorker(registry *Registry, logger *logging.Logger, sessID string, d *DirectionState, cfg WorkerConfig) *Worker {
	w := &Worker{
		registry: registry,
		logger:   logger.With("session_id", sessID, "role", string(cfg.SpeakerRole)),
		sessID:   sessID,
		d:        d,
		cfg:      cfg,
		segQueue: make(chan segJob, 8),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.Worker = w
	return w
}

// recoverPanic contains a panicking worker goroutine: the session is
// force-closed with an internal_error reason and the process keeps
// serving other sessions.
func (w *Worker) recoverPanic() {
	if r := recover(); r != nil {
		w.logger.Errorw("worker: panic, force-closing session", "panic", r)
		w.d.Closed.Store(true)
		go w.registry.ForceClose(w.sessID, ReasonInternalError)
	}
}

// Stop signals the worker to finalize its pending segment and exit,
// driven by a `stop` frame or socket-error teardown. Safe to call more
// than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Wait blocks until Run has fully drained (flush delivered, segment
// queue empty, stream results forwarded) or the close grace elapses.
// Returns false on timeout.
func (w *Worker) Wait() bool {
	grace := w.cfg.CloseGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-w.done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Run blocks until ctx is cancelled or the direction is closed, draining
// ingress and STT work. Call it in its own goroutine per direction.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.recoverPanic()

	var streamHandle stt.StreamHandle
	streamDrained := make(chan struct{})
	if w.cfg.Stream != nil {
		h, err := w.cfg.Stream.OpenStream(ctx, w.cfg.Language)
		if err != nil {
			w.logger.Warnw("stt: open stream failed", "error", err)
			close(streamDrained)
		} else {
			streamHandle = h
			w.d.Stream = h
			go func() {
				defer close(streamDrained)
				defer w.recoverPanic()
				w.drainStreamResults(h)
			}()
		}
	} else {
		close(streamDrained)
	}

	sttDrained := make(chan struct{})
	go func() {
		defer close(sttDrained)
		defer w.recoverPanic()
		w.runSTTWorker(ctx)
	}()

	w.runIngestLoop(ctx, streamHandle)

	close(w.segQueue)
	<-sttDrained
	if streamHandle != nil {
		streamHandle.Close()
	}
	<-streamDrained
}

// runIngestLoop pulls decoded chunks off the ingress queue, feeds the VAD
// buffer, and (in streaming mode) forwards a per-chunk conversion straight
// to the open STT stream, bypassing the segment buffer's accumulation for
// that path.
func (w *Worker) runIngestLoop(ctx context.Context, streamHandle stt.StreamHandle) {
	for {
		for {
			c, ok := w.d.Ingress.Dequeue()
			if !ok {
				break
			}
			w.handleChunk(c, streamHandle)
		}

		select {
		case <-ctx.Done():
			w.finalize()
			return
		case <-w.stopCh:
			w.finalize()
			return
		case <-w.d.Ingress.Signal():
		}
	}
}

func (w *Worker) handleChunk(c chunk.Chunk, streamHandle stt.StreamHandle) {
	w.d.ChunksReceived.Add(1)

	var pcm16 []byte
	if streamHandle != nil || w.d.Rec != nil {
		pcm16 = resample.To16k(c.PCM)
	}

	if streamHandle != nil {
		if err := streamHandle.Write(pcm16); err != nil {
			w.logger.Warnw("stt: stream write failed", "error", err)
		}
	}

	// Recording captures the complete call audio, silence included, not
	// just the spans the VAD promotes to segments.
	if w.d.Rec != nil {
		if err8, err16 := w.d.Rec.Write(c.PCM, pcm16); err8 != nil || err16 != nil {
			w.logger.Warnw("recorder: write failed", "error8", err8, "error16", err16)
		}
	}

	raw, ok, rejected := w.d.VAD.Push(c)
	if rejected {
		w.d.SegmentsRejected.Add(1)
		return
	}
	if !ok {
		return
	}
	w.d.SegmentsEmitted.Add(1)
	w.submitSegment(raw)
}

// finalize flushes any pending partial segment on session/direction close.
func (w *Worker) finalize() {
	raw, ok, rejected := w.d.VAD.Flush()
	if rejected {
		w.d.SegmentsRejected.Add(1)
		return
	}
	if ok {
		w.d.SegmentsEmitted.Add(1)
		w.submitSegment(raw)
	}
}

func (w *Worker) submitSegment(raw segment.RawSegment) {
	select {
	case w.segQueue <- segJob{raw: raw}:
	default:
		w.logger.Warnw("stt: segment work queue full, dropping segment")
	}
}

// runSTTWorker drains segQueue strictly serially. In batch mode each
// segment gets one whole-segment 8k->16k conversion and then the
// transcribe call; without a batch backend, queued segments are skipped. Never
// runs concurrently with itself, so segments for one direction are always
// processed in order.
func (w *Worker) runSTTWorker(ctx context.Context) {
	for job := range w.segQueue {
		raw := job.raw

		if w.cfg.Backend == nil {
			continue
		}
		pcm16 := resample.To16k(raw.PCM)

		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		outcome := w.cfg.Backend.TranscribeBatch(callCtx, pcm16, w.cfg.Language, raw.StartOffset, raw.Duration)
		cancel()
		w.handleOutcome(outcome)
	}
}

// drainStreamResults forwards streaming STT outcomes to fan-out as they
// arrive, independent of the segment queue.
func (w *Worker) drainStreamResults(h stt.StreamHandle) {
	for outcome := range h.Results() {
		w.handleOutcome(outcome)
	}
}

func (w *Worker) handleOutcome(outcome stt.Outcome) {
	switch outcome.Kind {
	case stt.Transcribed:
		w.publish(outcome.Result)
	case stt.Filtered:
		w.d.TranscriptsFiltered.Add(1)
		w.logger.Debugw("stt: result filtered", "reason", outcome.FilterReason)
	case stt.Transient:
		w.logger.Warnw("stt: transient fault", "error", outcome.Err)
	case stt.Fatal:
		w.logger.Errorw("stt: fatal, transcript stream ending for direction", "error", outcome.Err)
		w.d.Closed.Store(true)
	}
}

func (w *Worker) publish(r stt.Result) {
	t := Transcript{
		SessionID:   w.sessID,
		SpeakerRole: w.cfg.SpeakerRole,
		Text:        r.Text,
		Language:    r.Language,
		Confidence:  r.Confidence,
		IsFinal:     r.IsFinal,
		StartOffset: r.StartOffset,
		Duration:    r.Duration,
		Timestamp:   time.Now(),
	}
	if r.IsFinal {
		t.Sequence = w.d.NextSequence()
		w.d.TranscriptsSent.Add(1)
	} else {
		// An interim carries the sequence its eventual final will take.
		t.Sequence = w.d.sequence.Load()
	}

	w.registry.Publish(t)

	if r.IsFinal && w.cfg.AgentClient != nil {
		w.cfg.AgentClient.Submit(context.Background(), w.sessID, string(w.cfg.SpeakerRole), r.Text, r.Language)
	}
}
