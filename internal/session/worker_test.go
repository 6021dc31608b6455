package session

import (
	"context"
	"encoding/binary"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/callbridge/internal/audio/chunk"
	"github.com/relaywire/callbridge/internal/audio/queue"
	"github.com/relaywire/callbridge/internal/audio/recorder"
	"github.com/relaywire/callbridge/internal/audio/segment"
	"github.com/relaywire/callbridge/internal/stt"
	"github.com/relaywire/callbridge/pkg/logging"
)

// fakeBatchBackend returns a fixed transcript for every segment handed to
// it, counting calls, as a double for the external STT provider.
type fakeBatchBackend struct {
	calls atomic.Int64
	text  string
}

func (f *fakeBatchBackend) TranscribeBatch(ctx context.Context, pcm16k []byte, language string, startOffset, duration time.Duration) stt.Outcome {
	f.calls.Add(1)
	return stt.Outcome{
		Kind: stt.Transcribed,
		Result: stt.Result{
			Text:        f.text,
			Language:    language,
			IsFinal:     true,
			StartOffset: startOffset,
			Duration:    duration,
		},
	}
}

// fakeAgentClient records every submission.
type fakeAgentClient struct {
	mu      sync.Mutex
	submits []string
}

func (f *fakeAgentClient) Submit(ctx context.Context, sessionID, speakerRole, text, language string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, text)
}

func (f *fakeAgentClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func speechChunk(start time.Time, at time.Duration, amplitude int16) chunk.Chunk {
	const samples = 160
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[2*i] = byte(uint16(amplitude))
		pcm[2*i+1] = byte(uint16(amplitude) >> 8)
	}
	rms := float64(amplitude)
	if rms < 0 {
		rms = -rms
	}
	return chunk.Chunk{PCM: pcm, RMS: rms, Arrival: start.Add(at)}
}

// TestWorkerEndToEndCleanUtterance drives the full pipeline (ingress
// queue -> VAD -> STT worker -> fan-out) for one clean utterance, the
// session-level analogue of a clean single utterance.
func TestWorkerEndToEndCleanUtterance(t *testing.T) {
	registry := NewRegistry(logging.New(false))
	start := time.Now()

	vadCfg := segment.Config{
		SpeechStartRMS:     10,
		SilenceRMS:         10,
		SilenceHang:        time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSegmentDuration: 10 * time.Second,
		StartupGuard:       500 * time.Millisecond,
	}
	d := &DirectionState{
		Ingress: queue.New(256),
		VAD:     segment.New(vadCfg, start),
	}
	_, err := registry.Open("s1", RoleTechnician, start, d)
	require.NoError(t, err)

	sub, err := registry.Subscribe("s1", Filter{AllowInterim: true}, 8)
	require.NoError(t, err)

	backend := &fakeBatchBackend{text: "check the power connector"}
	agent := &fakeAgentClient{}
	worker := NewWorker(registry, logging.New(false), "s1", d, WorkerConfig{
		Language:    "fr",
		Backend:     backend,
		AgentClient: agent,
		SpeakerRole: RoleTechnician,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(runDone)
	}()

	cursor := 500 * time.Millisecond
	const step = 20 * time.Millisecond
	for i := 0; i < 100; i++ { // 2.0s of speech
		d.Ingress.Enqueue(speechChunk(start, cursor, 800))
		cursor += step
	}
	for i := 0; i < 55; i++ { // silence long enough to trip the hang
		d.Ingress.Enqueue(speechChunk(start, cursor, 0))
		cursor += step
	}

	var got Transcript
	select {
	case got = <-sub.Outbox():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the final transcript")
	}

	assert.Equal(t, "check the power connector", got.Text)
	assert.True(t, got.IsFinal)
	assert.Equal(t, uint64(0), got.Sequence)
	assert.Equal(t, RoleTechnician, got.SpeakerRole)

	worker.Stop()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit after Stop")
	}

	assert.Equal(t, int64(1), backend.calls.Load())
	assert.Equal(t, 1, agent.count())
	assert.Equal(t, uint64(1), d.TranscriptsSent.Load())
	assert.Equal(t, uint64(1), d.SegmentsEmitted.Load())
}

// TestWorkerFlushOnStopEmitsPendingSegment checks a Stop mid-utterance
// (duration already above the minimum) still produces a transcript on
// flush, without needing a trailing silence gap.
func TestWorkerFlushOnStopEmitsPendingSegment(t *testing.T) {
	registry := NewRegistry(logging.New(false))
	start := time.Now()

	vadCfg := segment.Config{
		SpeechStartRMS:     10,
		SilenceRMS:         10,
		SilenceHang:        time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSegmentDuration: 10 * time.Second,
		StartupGuard:       500 * time.Millisecond,
	}
	d := &DirectionState{
		Ingress: queue.New(256),
		VAD:     segment.New(vadCfg, start),
	}
	_, err := registry.Open("s2", RoleTechnician, start, d)
	require.NoError(t, err)

	sub, err := registry.Subscribe("s2", Filter{AllowInterim: true}, 8)
	require.NoError(t, err)

	backend := &fakeBatchBackend{text: "replace the fuse"}
	worker := NewWorker(registry, logging.New(false), "s2", d, WorkerConfig{
		Language:    "fr",
		Backend:     backend,
		SpeakerRole: RoleTechnician,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(runDone)
	}()

	cursor := 500 * time.Millisecond
	for i := 0; i < 40; i++ { // 0.8s of speech, no silence gap
		d.Ingress.Enqueue(speechChunk(start, cursor, 800))
		cursor += 20 * time.Millisecond
	}

	// Give the worker a moment to drain the queue before we stop it, so
	// Stop's flush sees the full 0.8s buffered rather than racing ahead
	// of delivery.
	time.Sleep(50 * time.Millisecond)
	worker.Stop()

	select {
	case got := <-sub.Outbox():
		assert.Equal(t, "replace the fuse", got.Text)
		assert.True(t, got.IsFinal)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the flushed transcript")
	}

	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit after Stop")
	}
}

// TestWorkerRecordsSilentCallEndToEnd drives a silence-only call through
// a recording-enabled direction and tears it down via the registry. The
// recording pair must carry every received chunk even though the VAD
// never promotes any of them to a segment, and the 16kHz file's data
// chunk must be exactly twice the 8kHz file's.
func TestWorkerRecordsSilentCallEndToEnd(t *testing.T) {
	registry := NewRegistry(logging.New(false))
	start := time.Now()
	dir := t.TempDir()

	vadCfg := segment.Config{
		SpeechStartRMS:     10,
		SilenceRMS:         10,
		SilenceHang:        time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSegmentDuration: 10 * time.Second,
		StartupGuard:       500 * time.Millisecond,
	}
	pair, err := recorder.Open(dir, "technician", "s3", start)
	require.NoError(t, err)

	d := &DirectionState{
		Ingress: queue.New(256),
		VAD:     segment.New(vadCfg, start),
		Rec:     pair,
	}
	_, err = registry.Open("s3", RoleTechnician, start, d)
	require.NoError(t, err)

	backend := &fakeBatchBackend{text: "should never be called"}
	worker := NewWorker(registry, logging.New(false), "s3", d, WorkerConfig{
		Language:    "fr",
		Backend:     backend,
		CloseGrace:  2 * time.Second,
		SpeakerRole: RoleTechnician,
	})

	go worker.Run(context.Background())

	const chunks = 50
	cursor := time.Duration(0)
	for i := 0; i < chunks; i++ {
		d.Ingress.Enqueue(speechChunk(start, cursor, 0))
		cursor += 20 * time.Millisecond
	}

	require.Eventually(t, func() bool {
		return d.ChunksReceived.Load() == chunks
	}, 2*time.Second, 10*time.Millisecond)

	ok := registry.TeardownDirection("s3", RoleTechnician, ReasonStopFrame)
	require.True(t, ok)
	_, stillThere := registry.Get("s3")
	assert.False(t, stillThere)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	sizes := map[string]uint32{}
	for _, e := range entries {
		raw, err := os.ReadFile(dir + "/" + e.Name())
		require.NoError(t, err)
		sizes[e.Name()] = binary.LittleEndian.Uint32(raw[40:44])
	}
	const perChunk = 160 * 2 // one 20ms chunk of 8kHz 16-bit PCM
	for name, size := range sizes {
		if strings.Contains(name, "_8000Hz") {
			assert.Equal(t, uint32(chunks*perChunk), size)
		} else {
			assert.Equal(t, uint32(chunks*perChunk*2), size)
		}
	}

	assert.Equal(t, uint64(0), d.SegmentsEmitted.Load())
	assert.Equal(t, int64(0), backend.calls.Load())
}

// TestTeardownDrainsPendingFlushBeforeClosingRecorder stops a direction
// mid-utterance and checks the flushed final segment's transcript is
// still produced before the session entry disappears: teardown must wait
// for the worker's drain instead of racing it.
func TestTeardownDrainsPendingFlushBeforeClosingRecorder(t *testing.T) {
	registry := NewRegistry(logging.New(false))
	start := time.Now()

	vadCfg := segment.Config{
		SpeechStartRMS:     10,
		SilenceRMS:         10,
		SilenceHang:        time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSegmentDuration: 10 * time.Second,
		StartupGuard:       500 * time.Millisecond,
	}
	d := &DirectionState{
		Ingress: queue.New(256),
		VAD:     segment.New(vadCfg, start),
	}
	_, err := registry.Open("s4", RoleTechnician, start, d)
	require.NoError(t, err)

	backend := &fakeBatchBackend{text: "tighten the terminal screw"}
	agent := &fakeAgentClient{}
	worker := NewWorker(registry, logging.New(false), "s4", d, WorkerConfig{
		Language:    "fr",
		Backend:     backend,
		AgentClient: agent,
		CloseGrace:  2 * time.Second,
		SpeakerRole: RoleTechnician,
	})

	go worker.Run(context.Background())

	cursor := 500 * time.Millisecond
	for i := 0; i < 40; i++ { // 0.8s of speech, no trailing silence
		d.Ingress.Enqueue(speechChunk(start, cursor, 800))
		cursor += 20 * time.Millisecond
	}
	require.Eventually(t, func() bool {
		return d.ChunksReceived.Load() == 40
	}, 2*time.Second, 10*time.Millisecond)

	ok := registry.TeardownDirection("s4", RoleTechnician, ReasonStopFrame)
	require.True(t, ok)

	assert.Equal(t, int64(1), backend.calls.Load())
	assert.Equal(t, uint64(1), d.TranscriptsSent.Load())
}

// filteredThenTextBackend returns a Filtered outcome for the first
// segment and a normal transcription for every one after, mimicking one
// hallucinated provider response mid-call.
type filteredThenTextBackend struct {
	calls atomic.Int64
	text  string
}

func (f *filteredThenTextBackend) TranscribeBatch(ctx context.Context, pcm16k []byte, language string, startOffset, duration time.Duration) stt.Outcome {
	if f.calls.Add(1) == 1 {
		return stt.Outcome{Kind: stt.Filtered, FilterReason: "bullet_fill"}
	}
	return stt.Outcome{
		Kind:   stt.Transcribed,
		Result: stt.Result{Text: f.text, Language: language, IsFinal: true, StartOffset: startOffset, Duration: duration},
	}
}

// TestWorkerCountsFilteredResultAndContinues checks one hallucinated
// response is counted, produces no transcript and no agent submission,
// and leaves the following segment unaffected.
func TestWorkerCountsFilteredResultAndContinues(t *testing.T) {
	registry := NewRegistry(logging.New(false))
	start := time.Now()

	vadCfg := segment.Config{
		SpeechStartRMS:     10,
		SilenceRMS:         10,
		SilenceHang:        time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSegmentDuration: 10 * time.Second,
		StartupGuard:       500 * time.Millisecond,
	}
	d := &DirectionState{
		Ingress: queue.New(256),
		VAD:     segment.New(vadCfg, start),
	}
	_, err := registry.Open("s5", RoleTechnician, start, d)
	require.NoError(t, err)

	sub, err := registry.Subscribe("s5", Filter{}, 8)
	require.NoError(t, err)

	backend := &filteredThenTextBackend{text: "swap the relay"}
	agent := &fakeAgentClient{}
	worker := NewWorker(registry, logging.New(false), "s5", d, WorkerConfig{
		Language:    "fr",
		Backend:     backend,
		AgentClient: agent,
		CloseGrace:  2 * time.Second,
		SpeakerRole: RoleTechnician,
	})
	go worker.Run(context.Background())

	cursor := 500 * time.Millisecond
	const step = 20 * time.Millisecond
	utterance := func() {
		for i := 0; i < 50; i++ { // 1.0s of speech
			d.Ingress.Enqueue(speechChunk(start, cursor, 800))
			cursor += step
		}
		for i := 0; i < 55; i++ { // enough silence to trip the hang
			d.Ingress.Enqueue(speechChunk(start, cursor, 0))
			cursor += step
		}
	}
	utterance()
	utterance()

	var got Transcript
	select {
	case got = <-sub.Outbox():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the post-hallucination transcript")
	}
	assert.Equal(t, "swap the relay", got.Text)
	assert.Equal(t, uint64(0), got.Sequence, "the filtered result must not consume a sequence number")

	worker.Stop()
	require.True(t, worker.Wait())

	assert.Equal(t, uint64(1), d.TranscriptsFiltered.Load())
	assert.Equal(t, uint64(1), d.TranscriptsSent.Load())
	assert.Equal(t, 1, agent.count())
}
