package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/callbridge/pkg/logging"
)

var (
	// ErrAlreadyBound is returned by Open when the same (session, role)
	// direction is opened twice.
	ErrAlreadyBound = errors.New("session: direction already bound")
	// ErrUnknownSession is returned by operations addressing a session id
	// the registry has no entry for.
	ErrUnknownSession = errors.New("session: unknown session")
)

// Registry owns the process-wide session table. One mutex protects the
// table itself; all per-session mutation goes through the Session's own
// lock, so two different sessions never contend.
type Registry struct {
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the Session for id, creating it if absent, and binds a new
// DirectionState for role under it. Idempotent per (id, role): a second
// Open for the same direction returns ErrAlreadyBound.
func (r *Registry) Open(id string, role Role, now time.Time, d *DirectionState) (*Session, error) {
	sess := r.getOrCreate(id, now)
	d.Role = role
	if !sess.bindDirection(role, d) {
		return nil, ErrAlreadyBound
	}
	return sess, nil
}

func (r *Registry) getOrCreate(id string, now time.Time) *Session {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return sess
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok = r.sessions[id]; ok {
		return sess
	}
	sess = newSession(id, now)
	r.sessions[id] = sess
	return sess
}

// Get returns the Session for id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Close detaches role from id's Session and returns the detached
// DirectionState for teardown. When the last direction detaches the
// Session is removed from the table and every subscriber outbox is
// closed; the transcription push server turns that close into a
// session_ended frame.
func (r *Registry) Close(id string, role Role, reason CloseReason) (*DirectionState, bool) {
	sess, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	d, remaining := sess.unbindDirection(role)
	if d == nil {
		return nil, false
	}
	if remaining == 0 {
		sess.markClosed(reason)
		sess.closeAllSubscribers()
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
	}
	return d, true
}

// TeardownDirection is the one teardown path for a direction, shared by
// stop frames, socket errors, and the idle sweep: stop the worker, wait
// out its close grace so the pending flush and segment queue drain, then
// detach the direction and close its recording pair. Returns false if
// the direction was not bound (teardown is idempotent).
func (r *Registry) TeardownDirection(id string, role Role, reason CloseReason) bool {
	sess, ok := r.Get(id)
	if !ok {
		return false
	}
	live, ok := sess.direction(role)
	if !ok {
		return false
	}
	if w := live.Worker; w != nil {
		w.Stop()
		if !w.Wait() {
			r.logger.Warnw("session: worker did not drain within close grace",
				"session_id", id, "role", string(role))
		}
	}
	d, ok := r.Close(id, role, reason)
	if !ok || d == nil {
		return false
	}
	if d.Rec != nil {
		if err8, err16 := d.Rec.Close(); err8 != nil || err16 != nil {
			r.logger.Warnw("recorder: close failed",
				"session_id", id, "role", string(role), "error8", err8, "error16", err16)
		}
	}
	return true
}

// ForceClose tears down every bound direction of id, used by the idle
// timeout sweep and the internal-error containment path.
func (r *Registry) ForceClose(id string, reason CloseReason) {
	sess, ok := r.Get(id)
	if !ok {
		return
	}
	for _, role := range sess.roles() {
		r.TeardownDirection(id, role, reason)
	}
}

// Touch records media activity for idle-timeout accounting.
func (r *Registry) Touch(id string, now time.Time) {
	if sess, ok := r.Get(id); ok {
		sess.touch(now)
	}
}

// Subscribe attaches a push sink to id's Session, bounded to depth per the
// fan-out backpressure policy.
func (r *Registry) Subscribe(id string, filter Filter, depth int) (*Subscriber, error) {
	sess, ok := r.Get(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Filter: filter,
		ch:     make(chan Transcript, depth),
	}
	sess.addSubscriber(sub)
	return sub, nil
}

// Unsubscribe detaches and closes a subscriber's outbox.
func (r *Registry) Unsubscribe(id string, subscriberID string) {
	if sess, ok := r.Get(id); ok {
		sess.removeSubscriber(subscriberID)
	}
}

// Publish delivers t to every matching subscriber of its session. The
// subscriber list is copied under the session lock and delivery happens
// outside it. A full subscriber outbox drops the oldest
// pending message rather than this one, so the subscriber keeps seeing
// forward progress.
func (r *Registry) Publish(t Transcript) {
	sess, ok := r.Get(t.SessionID)
	if !ok {
		return
	}
	for _, sub := range sess.subscribersSnapshot() {
		if !sub.Filter.matches(t) {
			continue
		}
		select {
		case sub.ch <- t:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- t:
			default:
			}
			sub.drops.Add(1)
		}
	}
}

// Snapshot returns a non-blocking metrics read for id.
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	sess, ok := r.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// IdleSessions returns ids whose last media activity predates the cutoff,
// for the idle-timeout sweep.
func (r *Registry) IdleSessions(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	var ids []string
	for _, sess := range sessions {
		if sess.idleSince(now) > timeout {
			ids = append(ids, sess.ID)
		}
	}
	return ids
}

// Count returns the number of live sessions, for /healthz reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
