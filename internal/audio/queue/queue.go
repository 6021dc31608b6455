// Package queue provides the bounded, drop-oldest chunk queue that sits
// between the Audio Ingress and the Segment Buffer (depth 256 chunks,
// about 5s of 20ms audio at 50 frames/sec).
package queue

import (
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/relaywire/callbridge/internal/audio/chunk"
)

// avgChunkBytes is a sizing estimate (20ms of 8kHz 16-bit PCM plus the
// chunk header) used to translate a chunk-count depth into the byte
// capacity the underlying ring buffer wants.
const avgChunkBytes = 160*2 + 16

// ChunkQueue is a bounded, non-blocking, single-producer/single-consumer
// queue of audio chunks. When full, Enqueue drops the oldest queued chunk
// rather than blocking the socket reader.
type ChunkQueue struct {
	mu       sync.Mutex
	rb       *ringbuffer.RingBuffer
	depth    int
	dropped  int64
	enqueued int64
	signal   chan struct{}
}

// New creates a queue sized to hold approximately depth chunks.
func New(depth int) *ChunkQueue {
	if depth <= 0 {
		depth = 1
	}
	return &ChunkQueue{
		rb:     ringbuffer.New(depth * avgChunkBytes).SetBlocking(false),
		depth:  depth,
		signal: make(chan struct{}, 1),
	}
}

// Signal returns a channel that receives a notification whenever Enqueue
// adds a chunk, so a consumer can block-wait instead of polling. The
// worker must still drain with Dequeue in a loop, since one signal may
// correspond to several enqueued chunks.
func (q *ChunkQueue) Signal() <-chan struct{} { return q.signal }

func (q *ChunkQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Enqueue appends a chunk, dropping the oldest queued chunk if the ring
// buffer has no room. Returns true if a drop occurred.
func (q *ChunkQueue) Enqueue(c chunk.Chunk) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := c.MarshalBinary()
	if err != nil {
		return false
	}
	need := len(data) + 4
	if need > q.rb.Capacity() {
		// Single chunk larger than the whole queue: nothing to do but drop it.
		q.dropped++
		return true
	}
	for q.rb.Free() < need {
		if !q.dequeueRaw() {
			q.rb.Reset()
			break
		}
		dropped = true
		q.dropped++
	}

	sizeHdr := make([]byte, 4)
	sizeHdr[0] = byte(len(data))
	sizeHdr[1] = byte(len(data) >> 8)
	sizeHdr[2] = byte(len(data) >> 16)
	sizeHdr[3] = byte(len(data) >> 24)
	q.rb.Write(sizeHdr)
	q.rb.Write(data)
	q.enqueued++
	q.notify()
	return dropped
}

// Dequeue pops the oldest chunk. ok is false if the queue is empty.
func (q *ChunkQueue) Dequeue() (chunk.Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueChunk()
}

func (q *ChunkQueue) dequeueChunk() (chunk.Chunk, bool) {
	if q.rb.IsEmpty() {
		return chunk.Chunk{}, false
	}
	sizeHdr := make([]byte, 4)
	n, err := q.rb.Read(sizeHdr)
	if err != nil || n != 4 {
		return chunk.Chunk{}, false
	}
	size := int(sizeHdr[0]) | int(sizeHdr[1])<<8 | int(sizeHdr[2])<<16 | int(sizeHdr[3])<<24
	data := make([]byte, size)
	n, err = q.rb.Read(data)
	if err != nil || n != size {
		return chunk.Chunk{}, false
	}
	var c chunk.Chunk
	if err := c.UnmarshalBinary(data); err != nil {
		return chunk.Chunk{}, false
	}
	return c, true
}

// dequeueRaw discards the oldest entry without unmarshalling it, used only
// to make room for a new write.
func (q *ChunkQueue) dequeueRaw() bool {
	if q.rb.IsEmpty() {
		return false
	}
	sizeHdr := make([]byte, 4)
	n, err := q.rb.Read(sizeHdr)
	if err != nil || n != 4 {
		return false
	}
	size := int(sizeHdr[0]) | int(sizeHdr[1])<<8 | int(sizeHdr[2])<<16 | int(sizeHdr[3])<<24
	if size > 0 {
		skip := make([]byte, size)
		n, err := q.rb.Read(skip)
		if err != nil || n != size {
			return false
		}
	}
	return true
}

// Stats reports cumulative enqueue and drop counts for metrics snapshots.
func (q *ChunkQueue) Stats() (enqueued, dropped int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueued, q.dropped
}
