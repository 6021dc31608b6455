package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/relaywire/callbridge/internal/session"
	"github.com/relaywire/callbridge/pkg/logging"
)

// TranscriptionServer pushes final and interim transcripts to the browser
// UI over one WebSocket per session.
type TranscriptionServer struct {
	registry *session.Registry
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewTranscriptionServer builds a push server bound to registry.
func NewTranscriptionServer(registry *session.Registry, logger *logging.Logger) *TranscriptionServer {
	return &TranscriptionServer{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handle serves `/transcription/:session_id`. It sends exactly one
// `connected` frame, then relays every subscribed Transcript until the
// session ends or the client disconnects.
func (s *TranscriptionServer) Handle(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("transcription: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, err := s.registry.Subscribe(sessionID, session.Filter{AllowInterim: true}, 64)
	if err != nil {
		_ = conn.WriteJSON(pushFrame{Type: "session_ended", Reason: "unknown_session"})
		return
	}
	defer s.registry.Unsubscribe(sessionID, sub.ID)

	if err := conn.WriteJSON(pushFrame{Type: "connected", SessionID: sessionID}); err != nil {
		return
	}

	// Drain (and ignore) inbound frames from the browser so control frames
	// are processed and the socket's close is detected promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case t, ok := <-sub.Outbox():
			if !ok {
				_ = conn.WriteJSON(pushFrame{Type: "session_ended", Reason: "closed"})
				return
			}
			if err := conn.WriteJSON(toPushFrame(t)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func toPushFrame(t session.Transcript) pushFrame {
	startOffset := t.StartOffset.Seconds()
	duration := t.Duration.Seconds()
	isFinal := t.IsFinal
	seq := t.Sequence
	return pushFrame{
		Type:         "transcription",
		Text:         t.Text,
		SpeakerRole:  string(t.SpeakerRole),
		SpeakerLabel: speakerLabel(t.SpeakerRole),
		Language:     t.Language,
		IsFinal:      &isFinal,
		Confidence:   t.Confidence,
		Timestamp:    t.Timestamp.UTC().Format(time.RFC3339Nano),
		StartOffset:  &startOffset,
		Duration:     &duration,
		Sequence:     &seq,
	}
}

func speakerLabel(role session.Role) string {
	switch role {
	case session.RoleTechnician:
		return "Technician"
	case session.RoleAgent:
		return "Agent"
	default:
		return string(role)
	}
}
