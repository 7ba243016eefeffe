package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PeerConn is the narrow interface the Session needs from a connected
// transport. internal/peer implements this over a gorilla/websocket
// connection; the Session package itself stays transport-agnostic.
type PeerConn interface {
	// Send serializes and writes a Request frame. Implementations must
	// serialize concurrent writers themselves (§5: "single producer").
	Send(req *Request) error
	// Close closes the underlying connection.
	Close() error
}

type pendingRequest struct {
	id      string
	command string
	done    chan *Response
}

type eventWaiter struct {
	id        uint64
	predicate func(Event) bool
	done      chan Event
}

// Session tracks peer presence, the peer's Hello metadata, readiness, the
// domain-reload-in-progress latch, and the PendingRequest/EventWaiter
// tables that the correlator and orchestrator share. At most one live peer
// connection exists at a time (I1).
type Session struct {
	mu sync.Mutex

	peer    PeerConn
	hello   *Hello
	ready   bool
	projID  string
	connGen uint64 // bumped on every Connect, used to fence stale reconnect waiters

	domainReload      bool
	reloadGraceWindow time.Duration
	reloadSignal      chan struct{} // closed when the next peer connects

	pending map[string]*pendingRequest
	waiters map[uint64]*eventWaiter
	nextWID uint64
}

// NewSession creates a Session for the given project ID. reloadGrace is the
// domain-reload grace window (§4.3, §6.4 UNITYCTL_DOMAIN_RELOAD_GRACE).
func NewSession(projectID string, reloadGrace time.Duration) *Session {
	return &Session{
		projID:            projectID,
		reloadGraceWindow: reloadGrace,
		reloadSignal:      make(chan struct{}),
		pending:           make(map[string]*pendingRequest),
		waiters:           make(map[uint64]*eventWaiter),
	}
}

// Connect installs a new peer connection, replacing any prior session
// atomically (§4.3 step 3, §9 "Session swap"). In-flight PendingRequests
// are left untouched; they simply keep waiting on their own deadlines. If
// a domain reload was in progress, the reload signal completes so waiters
// unblock and re-evaluate their own deadlines.
func (s *Session) Connect(peer PeerConn, hello Hello) error {
	if hello.ProjectID != s.projID {
		return fmt.Errorf("%w: hello project_id %q does not match %q", ErrProtocolViolation, hello.ProjectID, s.projID)
	}

	s.mu.Lock()
	if old := s.peer; old != nil {
		_ = old.Close()
	}
	s.peer = peer
	h := hello
	s.hello = &h
	s.connGen++
	wasReloading := s.domainReload
	s.domainReload = false
	signal := s.reloadSignal
	s.reloadSignal = make(chan struct{})
	s.mu.Unlock()

	if wasReloading {
		close(signal)
	}
	return nil
}

// Disconnect handles a peer socket going away. If a domain reload is in
// progress, PendingRequests are kept alive for the grace window instead of
// being failed immediately (§4.3, §9 Open Question: crash vs reload is
// discriminated solely by whether domain.reloadStarting preceded the
// disconnect). Otherwise every PendingRequest fails with PEER_DISCONNECTED.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.peer = nil
	s.hello = nil
	s.ready = false
	reloading := s.domainReload
	var toFail []*pendingRequest
	if !reloading {
		for id, pr := range s.pending {
			toFail = append(toFail, pr)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, pr := range toFail {
		select {
		case pr.done <- &Response{ID: pr.id, Status: "error", Error: &ResponseError{Code: "PEER_DISCONNECTED", Message: "peer disconnected"}}:
		default:
		}
	}

	if reloading {
		go s.expireReloadGrace()
	}
}

// expireReloadGrace fails any PendingRequests still outstanding once the
// grace window elapses without a reconnect.
func (s *Session) expireReloadGrace() {
	timer := time.NewTimer(s.reloadGraceWindow)
	defer timer.Stop()
	s.mu.Lock()
	signal := s.reloadSignal
	s.mu.Unlock()

	select {
	case <-signal:
		// Peer reconnected within the grace window; nothing to fail.
		return
	case <-timer.C:
	}

	s.mu.Lock()
	reloading := s.domainReload
	var toFail []*pendingRequest
	if reloading {
		for id, pr := range s.pending {
			toFail = append(toFail, pr)
			delete(s.pending, id)
		}
		s.domainReload = false
	}
	s.mu.Unlock()

	for _, pr := range toFail {
		select {
		case pr.done <- &Response{ID: pr.id, Status: "error", Error: &ResponseError{Code: "PEER_DISCONNECTED", Message: "domain reload grace window expired"}}:
		default:
		}
	}
}

// OnDomainReloadStarting records the domain.reloadStarting event (§5
// "Domain-reload grace"): sets the latch so a subsequent disconnect does
// not fail in-flight requests, and resets readiness.
func (s *Session) OnDomainReloadStarting() {
	s.mu.Lock()
	s.domainReload = true
	s.ready = false
	s.mu.Unlock()
}

// SetReady updates the readiness flag (§4.3 "Readiness probe").
func (s *Session) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Status is a snapshot for /health.
type Status struct {
	ProjectID           string
	UnityConnected      bool
	EditorReady         bool
	UnityPluginVersion  string
	DomainReloadPending bool
}

// Snapshot returns the current session status for /health.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ProjectID:           s.projID,
		UnityConnected:      s.peer != nil,
		EditorReady:         s.ready,
		DomainReloadPending: s.domainReload,
	}
	if s.hello != nil {
		st.UnityPluginVersion = s.hello.PluginVersion
	}
	return st
}

// peerState reports whether a peer is currently attached and whether a
// domain reload is in progress, plus the reload signal channel to await.
func (s *Session) peerState() (peer PeerConn, reloading bool, signal chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.domainReload, s.reloadSignal
}

// Send implements the request correlator (§4.4). It allocates a fresh
// request ID, registers a PendingRequest, writes the Request to the peer,
// and waits for either a matching Response, the deadline, or a disconnect
// without reload-grace. No I/O happens while s.mu is held.
func (s *Session) Send(ctx context.Context, command string, args map[string]any, agentID string, timeout time.Duration) (*Response, error) {
	peer, reloading, signal := s.peerState()

	if peer == nil {
		if !reloading {
			return nil, fmt.Errorf("%w: no peer connected", ErrPeerUnavailable)
		}
		// Wait for reconnect or deadline before giving up.
		select {
		case <-signal:
			peer, _, _ = s.peerState()
			if peer == nil {
				return nil, fmt.Errorf("%w: no peer after reconnect", ErrPeerUnavailable)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for reconnect", ErrTimeout)
		}
	}

	id := uuid.NewString()
	pr := &pendingRequest{id: id, command: command, done: make(chan *Response, 1)}

	s.mu.Lock()
	s.pending[id] = pr
	s.mu.Unlock()

	req := &Request{ID: id, Command: command, Args: args, AgentID: agentID}
	if err := peer.Send(req); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		// A write failure is itself a disconnect; Disconnect() will be
		// invoked by the transport's read-loop teardown, but we must not
		// leave this caller hanging on it.
		return nil, fmt.Errorf("%w: write failed: %v", ErrPeerDisconnected, err)
	}

	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case resp := <-pr.done:
		return resp, nil
	case <-deadlineCh:
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s exceeded %s", ErrTimeout, command, timeout)
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Resolve delivers a peer Response to its matching PendingRequest (O1:
// responses are correlated by ID only; wire ordering is arbitrary).
func (s *Session) Resolve(resp *Response) {
	s.mu.Lock()
	pr, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pr.done <- resp:
	default:
	}
}

// RegisterWaiter registers an EventWaiter against the event bus so the
// orchestrator can await a specific event (or sequence of calls to
// RegisterWaiter) bounded by a deadline. The returned cancel func must be
// called once the caller is done waiting, win or lose, to avoid leaking
// the waiter entry.
func (s *Session) RegisterWaiter(predicate func(Event) bool) (<-chan Event, func()) {
	s.mu.Lock()
	id := s.nextWID
	s.nextWID++
	w := &eventWaiter{id: id, predicate: predicate, done: make(chan Event, 1)}
	s.waiters[id] = w
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}
	return w.done, cancel
}

// PublishEvent delivers an event to every matching, still-registered
// waiter (each waiter fires at most once; orchestrators re-register for
// subsequent events of interest).
func (s *Session) PublishEvent(e Event) {
	s.mu.Lock()
	var matched []*eventWaiter
	for id, w := range s.waiters {
		if w.predicate(e) {
			matched = append(matched, w)
			delete(s.waiters, id)
		}
	}
	s.mu.Unlock()

	for _, w := range matched {
		select {
		case w.done <- e:
		default:
		}
	}
}

// WaitEvent blocks until a matching event arrives, ctx is done, or timeout
// elapses (0 means no timeout beyond ctx).
func WaitEvent(ctx context.Context, s *Session, timeout time.Duration, predicate func(Event) bool) (Event, error) {
	ch, cancel := s.RegisterWaiter(predicate)
	defer cancel()

	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case e := <-ch:
		return e, nil
	case <-deadlineCh:
		return Event{}, fmt.Errorf("%w: waiting for event", ErrTimeout)
	case <-ctx.Done():
		return Event{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}
