package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaywire/callbridge/pkg/logging"
)

// wireEvent is the provider's streaming frame shape: {text, is_final,
// confidence}. Outbound audio does not use this envelope: it is sent as
// raw 16kHz PCM in binary messages, so this type only covers what the
// provider sends back.
type wireEvent struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence"`
}

// WSStreamingBackend opens one persistent outbound websocket.Conn per
// session-direction against a streaming STT provider.
type WSStreamingBackend struct {
	url            string
	connectTimeout time.Duration
	keepalive      time.Duration
	emitInterim    bool
	phrases        []string
	logger         *logging.Logger
}

// NewWSStreamingBackend builds a streaming backend against url.
func NewWSStreamingBackend(url string, connectTimeout, keepalive time.Duration, emitInterim bool, phrases []string, logger *logging.Logger) *WSStreamingBackend {
	return &WSStreamingBackend{
		url:            url,
		connectTimeout: connectTimeout,
		keepalive:      keepalive,
		emitInterim:    emitInterim,
		phrases:        phrases,
		logger:         logger,
	}
}

// OpenStream implements StreamingBackend.
func (b *WSStreamingBackend) OpenStream(ctx context.Context, language string) (StreamHandle, error) {
	conn, err := dial(ctx, b.url, b.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("stt: stream dial: %w", err)
	}

	h := &wsStreamHandle{
		backend:  b,
		language: language,
		results:  make(chan Outcome, 8),
		done:     make(chan struct{}),
	}
	h.setConn(conn)
	go h.recvLoop(ctx)
	go h.keepaliveLoop(ctx)
	return h, nil
}

func dial(ctx context.Context, url string, timeout time.Duration) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// wsStreamHandle is the live connection for one direction. It reconnects
// exactly once on an unexpected read error; a second failure is
// fatal for the stream and the handle closes without a further attempt.
type wsStreamHandle struct {
	backend  *WSStreamingBackend
	language string

	mu          sync.Mutex
	conn        *websocket.Conn
	reconnected bool
	closed      bool

	results chan Outcome
	done    chan struct{}
}

func (h *wsStreamHandle) setConn(c *websocket.Conn) {
	h.mu.Lock()
	h.conn = c
	h.mu.Unlock()
}

func (h *wsStreamHandle) getConn() *websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Write implements StreamHandle: feeds 16kHz PCM as a binary frame.
func (h *wsStreamHandle) Write(pcm16k []byte) error {
	conn := h.getConn()
	if conn == nil {
		return fmt.Errorf("stt: stream closed")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm16k); err != nil {
		return fmt.Errorf("stt: stream write: %w", err)
	}
	return nil
}

// Results implements StreamHandle.
func (h *wsStreamHandle) Results() <-chan Outcome { return h.results }

// Close implements StreamHandle. It sends a normal-closure frame and closes
// the connection at once, without waiting for the provider; a final result
// the provider has not delivered by then is not emitted.
func (h *wsStreamHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	close(h.done)
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

func (h *wsStreamHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// recvLoop reads provider frames until the connection drops or Close is
// called. On an unexpected drop it attempts exactly one reconnect; a
// second drop is fatal for the transcript stream, but
// audio write and recording are unaffected since they don't depend on this
// goroutine.
func (h *wsStreamHandle) recvLoop(ctx context.Context) {
	defer close(h.results)
	for {
		conn := h.getConn()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if h.isClosed() {
				return
			}
			if h.tryReconnect(ctx) {
				continue
			}
			h.results <- Outcome{Kind: Fatal, Err: fmt.Errorf("stt: stream lost: %w", err)}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			h.results <- Outcome{Kind: Transient, Err: fmt.Errorf("stt: decode stream event: %w", err)}
			continue
		}
		if !ev.IsFinal && !h.backend.emitInterim {
			continue
		}

		ok, reason := filterHallucination(ev.Text, h.backend.phrases)
		if !ok {
			h.results <- Outcome{Kind: Filtered, FilterReason: reason}
			continue
		}

		lang := ev.Language
		if lang == "" {
			lang = h.language
		}
		h.results <- Outcome{
			Kind: Transcribed,
			Result: Result{
				Text:       ev.Text,
				Language:   lang,
				Confidence: ev.Confidence,
				IsFinal:    ev.IsFinal,
			},
		}
	}
}

func (h *wsStreamHandle) tryReconnect(ctx context.Context) bool {
	h.mu.Lock()
	if h.reconnected {
		h.mu.Unlock()
		return false
	}
	h.reconnected = true
	h.mu.Unlock()

	conn, err := dial(ctx, h.backend.url, h.backend.connectTimeout)
	if err != nil {
		return false
	}
	h.setConn(conn)
	return true
}

// keepaliveLoop pings the provider at the configured interval so
// intermediary proxies don't idle out a long-lived direction.
func (h *wsStreamHandle) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(h.backend.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn := h.getConn()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
