package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/relaywire/callbridge/internal/audio/ingress"
	"github.com/relaywire/callbridge/internal/session"
	"github.com/relaywire/callbridge/pkg/logging"
)

// mediaGraceWindow bounds how long after the first early `media` frame
// (one that arrives before `start`) further early frames are buffered;
// early frames arriving later than that are dropped. Frames already
// buffered are not expired: they are all replayed when `start` arrives,
// however late it comes.
const mediaGraceWindow = 500 * time.Millisecond

// DirectionBinder builds and starts the per-direction worker backing a
// newly bound (session, role); the runtime implements this so the
// gateway doesn't need STT/registry construction details.
type DirectionBinder interface {
	BindDirection(ctx context.Context, sessionID string, role session.Role, start time.Time) (*session.DirectionState, *session.Worker, error)
	Registry() *session.Registry
}

// MediaGateway accepts one inbound WebSocket per call leg and feeds
// decoded audio to the session it resolves via `start`.
type MediaGateway struct {
	binder   DirectionBinder
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewMediaGateway builds a Media Gateway.
func NewMediaGateway(binder DirectionBinder, logger *logging.Logger) *MediaGateway {
	return &MediaGateway{
		binder: binder,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handle upgrades the connection and owns it for its lifetime: one reader
// goroutine per socket.
func (g *MediaGateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnw("gateway: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	leg := newLeg(g, conn)
	leg.run(c.Request.Context())
}

// leg is the state for one inbound socket: at most one bound direction
// for the call's duration (this implementation dedicates one socket per
// direction, matching the provider's one-leg-per-call-direction model).
type leg struct {
	gw   *MediaGateway
	conn *websocket.Conn

	mu        sync.Mutex
	sessionID string
	role      session.Role
	d         *session.DirectionState
	started   bool
	pending   [][]byte
	pendingAt time.Time
}

func newLeg(gw *MediaGateway, conn *websocket.Conn) *leg {
	return &leg{gw: gw, conn: conn}
}

func (l *leg) run(ctx context.Context) {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			l.teardown(session.ReasonSocketError)
			return
		}

		env, perr := parseEnvelope(raw)
		if perr != nil {
			l.gw.logger.Warnw("gateway: malformed frame", "error", perr)
			continue
		}

		switch env.Event {
		case "connected":
			// Connection acknowledgement, nothing to do.
		case "start":
			l.handleStart(ctx, raw)
		case "media":
			l.handleMedia(raw)
		case "stop":
			l.teardown(session.ReasonStopFrame)
			return
		case "mark":
			// Marks are not used on the ingest side.
		default:
			// Unknown events are ignored.
		}
	}
}

func (l *leg) handleStart(ctx context.Context, raw []byte) {
	var frame startFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		l.gw.logger.Warnw("gateway: malformed start frame", "error", err)
		return
	}
	sessionID := frame.sessionID()
	if sessionID == "" {
		l.gw.logger.Warnw("gateway: start frame missing session_id")
		return
	}
	role := session.Role(frame.speakerRole())

	d, worker, err := l.gw.binder.BindDirection(ctx, sessionID, role, time.Now())
	if err != nil {
		l.gw.logger.Warnw("gateway: bind direction failed", "session_id", sessionID, "error", err)
		return
	}

	l.mu.Lock()
	l.sessionID = sessionID
	l.role = role
	l.d = d
	l.started = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	go worker.Run(ctx)

	for _, m := range pending {
		l.decodeAndEnqueue(m)
	}
}

func (l *leg) handleMedia(raw []byte) {
	var frame mediaFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		l.gw.logger.Warnw("gateway: malformed media frame", "error", err)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil {
		l.gw.logger.Warnw("gateway: malformed media payload", "error", err)
		return
	}

	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		l.decodeAndEnqueue(payload)
		return
	}
	if l.pendingAt.IsZero() {
		l.pendingAt = time.Now()
	}
	if time.Since(l.pendingAt) > mediaGraceWindow {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, payload)
	l.mu.Unlock()
}

func (l *leg) decodeAndEnqueue(payload []byte) {
	l.mu.Lock()
	d := l.d
	sessionID := l.sessionID
	l.mu.Unlock()
	if d == nil {
		return
	}
	c := ingress.Decode(payload, time.Now())
	d.Ingress.Enqueue(c)
	l.gw.binder.Registry().Touch(sessionID, time.Now())
}

// teardown detaches this socket's direction as if a stop frame arrived:
// the registry stops the worker, waits for its pending flush, then closes
// the recording pair and removes the direction.
func (l *leg) teardown(reason session.CloseReason) {
	l.mu.Lock()
	sessionID := l.sessionID
	role := l.role
	started := l.started
	l.mu.Unlock()
	if !started {
		return
	}
	l.gw.binder.Registry().TeardownDirection(sessionID, role, reason)
}
