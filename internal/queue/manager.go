// Package queue implements the QueueManager: the listening socket, the
// set of live sessions, and the pump loop that advances all of them once
// per tick.
package queue

import (
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/repld/internal/session"
)

// DialTimeout bounds how long Pump waits for an outbound connect to a peer
// before giving up for this round; the payload stays queued and is retried
// on a later pump.
const DialTimeout = 5 * time.Second

// Peer identifies one replication counterpart by node id and dial address.
type Peer struct {
	ID   uint32
	Addr string
}

// CompletedPayload is one fully-received inbound payload, handed up by
// Pop in the order its session finished.
type CompletedPayload struct {
	PeerID  uint32
	Payload []byte
}

// Stats is a point-in-time snapshot of Manager's internal counts, used by
// replmetrics and replctl status.
type Stats struct {
	Live            int
	PendingInbound  int
	PendingOutbound int
}

type liveSession struct {
	sess *session.Session
	// outboundPeer is the peer id this session was dialed to connect to,
	// or 0 for a responder session accepted from the listener.
	outboundPeer uint32
}

// Manager owns the listening socket, every live session, and the shared
// symmetric key used to authenticate them.
type Manager struct {
	localID uint32
	key     []byte
	peers   map[uint32]string
	logger  *slog.Logger

	listener *net.TCPListener

	sessions        []*liveSession
	outboundActive  map[uint32]bool
	pendingOutbound map[uint32][][]byte
	completed       []CompletedPayload
}

// NewManager returns a Manager for localID, authenticating sessions with
// key and able to dial any peer in peers.
func NewManager(localID uint32, key []byte, peers []Peer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	peerAddrs := make(map[uint32]string, len(peers))
	for _, p := range peers {
		peerAddrs[p.ID] = p.Addr
	}
	return &Manager{
		localID:         localID,
		key:             key,
		peers:           peerAddrs,
		logger:          logger,
		outboundActive:  make(map[uint32]bool),
		pendingOutbound: make(map[uint32][][]byte),
	}
}

// Bind opens the listening socket at addr. It must be called before the
// first Pump.
func (m *Manager) Bind(addr string) error {
	ln, err := bind(addr)
	if err != nil {
		return err
	}
	m.listener = ln
	return nil
}

// Addr returns the listening socket's address. It panics if called before
// Bind; tests and cmd/repld call it right after a successful Bind.
func (m *Manager) Addr() net.Addr {
	return m.listener.Addr()
}

// Close shuts down the listener and every live session.
func (m *Manager) Close() error {
	for _, ls := range m.sessions {
		ls.sess.Close()
	}
	m.sessions = nil
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// Broadcast enqueues payload for delivery to every known peer. Ordering
// guarantee: Broadcast(A) before Broadcast(B) delivers A before B to every
// peer on the same session, since each peer's queue is FIFO.
func (m *Manager) Broadcast(payload []byte) {
	for id := range m.peers {
		m.pendingOutbound[id] = append(m.pendingOutbound[id], payload)
	}
}

// Pop removes and returns one completed inbound payload in completion
// order. It reports false if none are pending.
func (m *Manager) Pop() (peerID uint32, payload []byte, ok bool) {
	if len(m.completed) == 0 {
		return 0, nil, false
	}
	cp := m.completed[0]
	m.completed = m.completed[1:]
	return cp.PeerID, cp.Payload, true
}

// Snapshot reports current session and queue counts.
func (m *Manager) Snapshot() Stats {
	pending := 0
	for _, q := range m.pendingOutbound {
		pending += len(q)
	}
	return Stats{
		Live:            len(m.sessions),
		PendingInbound:  len(m.completed),
		PendingOutbound: pending,
	}
}

// Pump is the single driver entry: accept pending inbound connections,
// start outbound sessions for peers with queued payloads, tick every live
// session once, then reap the ones that finished.
func (m *Manager) Pump() {
	m.acceptPending()
	m.dialPending()
	m.tickAll()
	m.reapIdle()
	m.reapDead()
}

func (m *Manager) acceptPending() {
	if m.listener == nil {
		return
	}
	for {
		conn, ok, err := acceptNonBlocking(m.listener)
		if err != nil {
			m.logger.Warn("accept failed", "err", err)
			return
		}
		if !ok {
			return
		}
		sess := session.New(session.RoleResponder, conn, m.localID, m.key, m.logger)
		m.sessions = append(m.sessions, &liveSession{sess: sess})
	}
}

func (m *Manager) dialPending() {
	for id, queue := range m.pendingOutbound {
		if len(queue) == 0 || m.outboundActive[id] {
			continue
		}
		addr, known := m.peers[id]
		if !known {
			continue
		}

		conn, err := dialOutbound(addr, DialTimeout)
		if err != nil {
			m.logger.Warn("outbound connect failed", "peer", id, "addr", addr, "err", err)
			continue
		}

		payload := queue[0]
		m.pendingOutbound[id] = queue[1:]

		sess := session.New(session.RoleInitiator, conn, m.localID, m.key, m.logger)
		sess.SetOutgoingPayload(payload)
		m.sessions = append(m.sessions, &liveSession{sess: sess, outboundPeer: id})
		m.outboundActive[id] = true
	}
}

func (m *Manager) tickAll() {
	for _, ls := range m.sessions {
		if ls.sess.IsTerminal() {
			continue
		}
		_ = ls.sess.Tick() // errors are logged by Session itself and surface as StateDead
	}
}

// reapIdle marks sessions that have sat past session.IdleTimeout without a
// state transition or socket read as dead, so a peer that completes the
// handshake but never follows through with a REP doesn't sit live forever.
func (m *Manager) reapIdle() {
	for _, ls := range m.sessions {
		if ls.sess.IsTerminal() {
			continue
		}
		if time.Since(ls.sess.LastActivity()) > session.IdleTimeout {
			ls.sess.MarkDead("idle timeout")
		}
	}
}

func (m *Manager) reapDead() {
	live := m.sessions[:0]
	for _, ls := range m.sessions {
		switch ls.sess.State() {
		case session.StateHasData:
			if payload, ok := ls.sess.TakePayload(); ok {
				m.completed = append(m.completed, CompletedPayload{
					PeerID:  ls.sess.RemoteNodeID(),
					Payload: payload,
				})
			}
			ls.sess.Close()
		case session.StateDead:
			if ls.outboundPeer != 0 {
				m.outboundActive[ls.outboundPeer] = false
			}
			ls.sess.Close()
		default:
			live = append(live, ls)
			continue
		}
	}
	m.sessions = live
}
