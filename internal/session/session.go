// Package session implements the framed, authenticated, single-exchange
// peer session: one TCP connection carrying a tag-delimited challenge
// handshake followed by a single replicated payload in one direction.
package session

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// State is one leg of the session's tagged-variant state machine. Unlike a
// polymorphic per-state dispatch, every transition lives in Tick's switch:
// a State carries no behavior of its own.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClientAuth1
	StateServerAuth1
	StateClientAuth2
	StateDataTx
	StateDataRx
	StateWaitAck
	StateHasData
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClientAuth1:
		return "client-auth-1"
	case StateServerAuth1:
		return "server-auth-1"
	case StateClientAuth2:
		return "client-auth-2"
	case StateDataTx:
		return "data-tx"
	case StateDataRx:
		return "data-rx"
	case StateWaitAck:
		return "wait-ack"
	case StateHasData:
		return "has-data"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Role fixes which side of the handshake a Session plays. The initiator
// speaks first (sends SID); the responder waits for it.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// IdleTimeout is how long a session may sit without making forward
// progress before the owning manager should consider it stuck and reap it.
const IdleTimeout = 30 * time.Second

// Session drives one peer connection through the handshake and, for the
// initiator, a single outbound replication payload (or for the responder,
// a single inbound one). It is not safe for concurrent use: Tick is meant
// to be called from a single pumping goroutine.
type Session struct {
	role   Role
	state  State
	conn   net.Conn
	logger *slog.Logger

	localID  uint32
	remoteID uint32
	key      []byte

	inbound []byte

	// issuedChallenge is the RAN payload this side generated and is
	// waiting to see echoed back, encrypted, as AUT.
	issuedChallenge []byte

	outPayload []byte // set by caller before the initiator reaches DataTx
	inPayload  []byte // set once the responder reaches HasData

	lastActivity time.Time
}

// New returns a Session for conn in the given role, using key for the
// AES-CFB handshake and localID as this node's advertised identity.
func New(role Role, conn net.Conn, localID uint32, key []byte, logger *slog.Logger) *Session {
	initial := StateConnecting
	if role == RoleResponder {
		initial = StateConnected
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		role:         role,
		state:        initial,
		conn:         conn,
		logger:       logger,
		localID:      localID,
		key:          key,
		lastActivity: time.Now(),
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// RemoteNodeID returns the peer's advertised node id. It is only valid once
// the peer's SID frame has been received (DataTx onward for an initiator,
// ServerAuth1 onward for a responder).
func (s *Session) RemoteNodeID() uint32 { return s.remoteID }

// RemoteAddr returns the underlying connection's remote address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LastActivity returns the time of the most recent state transition or
// socket read.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// IsTerminal reports whether the session has reached Dead or HasData and
// will make no further transitions.
func (s *Session) IsTerminal() bool {
	return s.state == StateDead || s.state == StateHasData
}

// SetOutgoingPayload assigns the bytes an initiator session will send once
// it reaches DataTx. It must be called before the first Tick.
func (s *Session) SetOutgoingPayload(payload []byte) {
	s.outPayload = payload
}

// TakePayload returns the payload received by a responder session once it
// has reached HasData, and clears it so it is only drained once.
func (s *Session) TakePayload() ([]byte, bool) {
	if s.state != StateHasData || s.inPayload == nil {
		return nil, false
	}
	payload := s.inPayload
	s.inPayload = nil
	return payload, true
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// MarkDead forces a non-terminal session into StateDead. It is meant for an
// owning manager to call once it decides a session has sat past
// IdleTimeout without making forward progress; ticking it further would
// otherwise leave it live forever.
func (s *Session) MarkDead(reason string) {
	if s.IsTerminal() {
		return
	}
	s.logger.Warn("session reaped", "state", s.state, "remote", s.RemoteAddr(), "reason", reason)
	s.state = StateDead
}

// Tick advances the session by at most one state transition. It never
// blocks: socket reads use a zero (already-past) deadline, and the absence
// of a complete frame is not an error, only a reason to make no progress
// this call. A returned error means the session has moved to StateDead;
// callers should stop ticking and reap it.
func (s *Session) Tick() error {
	if s.IsTerminal() {
		return nil
	}

	var err error
	switch s.state {
	case StateConnecting:
		err = s.tickConnecting()
	case StateConnected:
		err = s.tickConnected()
	case StateClientAuth1:
		err = s.tickClientAuth1()
	case StateServerAuth1:
		err = s.tickServerAuth1()
	case StateClientAuth2:
		err = s.tickClientAuth2()
	case StateDataTx:
		err = s.tickDataTx()
	case StateDataRx:
		err = s.tickDataRx()
	case StateWaitAck:
		err = s.tickWaitAck()
	}

	if err != nil {
		s.logger.Warn("session failed", "state", s.state, "remote", s.RemoteAddr(), "err", err)
		s.state = StateDead
		return err
	}
	return nil
}

func (s *Session) idStr() []byte {
	return []byte(strconv.FormatUint(uint64(s.localID), 10))
}

func (s *Session) transition(next State) {
	s.logger.Debug("session transition", "from", s.state, "to", next, "remote", s.RemoteAddr())
	s.state = next
	s.lastActivity = time.Now()
}

// write sends a single frame. TCP writes of this size are assumed not to
// block under normal socket buffering; a write error is always terminal.
func (s *Session) write(frame []byte) error {
	_, err := s.conn.Write(frame)
	return err
}

// readMore performs one non-blocking read and appends any data received to
// the inbound accumulator. It reports false (with a nil error) when no data
// is currently available, which is the common case, not a failure.
func (s *Session) readMore() (bool, error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return false, err
	}

	var buf [4096]byte
	n, err := s.conn.Read(buf[:])
	if n > 0 {
		s.inbound = append(s.inbound, buf[:n]...)
		s.lastActivity = time.Now()
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n > 0, nil
		}
		return n > 0, err
	}
	if n == 0 {
		return false, fmt.Errorf("session: peer closed connection")
	}
	return true, nil
}

// --- initiator states ---

func (s *Session) tickConnecting() error {
	if err := s.write(wrap(s.idStr(), tagSID)); err != nil {
		return err
	}
	s.transition(StateClientAuth1)
	return nil
}

func (s *Session) tickClientAuth1() error {
	if _, err := s.readMore(); err != nil {
		return err
	}
	challenge, ok := extract(s.inbound, tagRAN)
	if !ok {
		return nil
	}

	enc, err := encrypt(s.key, challenge)
	if err != nil {
		return err
	}
	if err := s.write(wrap(enc, tagAUT)); err != nil {
		return err
	}

	ourChallenge, err := randomBytes(16)
	if err != nil {
		return err
	}
	s.issuedChallenge = ourChallenge
	if err := s.write(wrap(ourChallenge, tagRAN)); err != nil {
		return err
	}

	s.inbound = nil
	s.transition(StateClientAuth2)
	return nil
}

func (s *Session) tickClientAuth2() error {
	if _, err := s.readMore(); err != nil {
		return err
	}

	encChallenge, ok := extract(s.inbound, tagAUT)
	if !ok {
		return nil
	}
	remoteIDBytes, ok := extract(s.inbound, tagSID)
	if !ok {
		return nil
	}

	plain, err := decrypt(s.key, encChallenge)
	if err != nil {
		return err
	}
	if !challengeMatches(plain, s.issuedChallenge) {
		return fmt.Errorf("session: challenge mismatch from %s", s.RemoteAddr())
	}

	remoteID, err := strconv.ParseUint(string(remoteIDBytes), 10, 32)
	if err != nil {
		return fmt.Errorf("session: malformed peer node id: %w", err)
	}
	s.remoteID = uint32(remoteID)

	s.inbound = nil
	s.transition(StateDataTx)
	return nil
}

func (s *Session) tickDataTx() error {
	if err := s.write(wrap(s.outPayload, tagREP)); err != nil {
		return err
	}
	s.transition(StateWaitAck)
	return nil
}

func (s *Session) tickWaitAck() error {
	if _, err := s.readMore(); err != nil {
		return err
	}
	if !hasBareTag(s.inbound, tagACK) {
		return nil
	}
	s.transition(StateDead)
	return nil
}

// --- responder states ---

func (s *Session) tickConnected() error {
	if _, err := s.readMore(); err != nil {
		return err
	}
	remoteIDBytes, ok := extract(s.inbound, tagSID)
	if !ok {
		return nil
	}

	remoteID, err := strconv.ParseUint(string(remoteIDBytes), 10, 32)
	if err != nil {
		return fmt.Errorf("session: malformed peer node id: %w", err)
	}
	s.remoteID = uint32(remoteID)

	challenge, err := randomBytes(16)
	if err != nil {
		return err
	}
	s.issuedChallenge = challenge
	if err := s.write(wrap(challenge, tagRAN)); err != nil {
		return err
	}

	s.inbound = nil
	s.transition(StateServerAuth1)
	return nil
}

func (s *Session) tickServerAuth1() error {
	if _, err := s.readMore(); err != nil {
		return err
	}

	encChallenge, ok := extract(s.inbound, tagAUT)
	if !ok {
		return nil
	}
	peerChallenge, ok := extract(s.inbound, tagRAN)
	if !ok {
		return nil
	}

	plain, err := decrypt(s.key, encChallenge)
	if err != nil {
		return err
	}
	if !challengeMatches(plain, s.issuedChallenge) {
		return fmt.Errorf("session: challenge mismatch from %s", s.RemoteAddr())
	}

	enc, err := encrypt(s.key, peerChallenge)
	if err != nil {
		return err
	}
	if err := s.write(wrap(enc, tagAUT)); err != nil {
		return err
	}
	if err := s.write(wrap(s.idStr(), tagSID)); err != nil {
		return err
	}

	s.inbound = nil
	s.transition(StateDataRx)
	return nil
}

func (s *Session) tickDataRx() error {
	if _, err := s.readMore(); err != nil {
		return err
	}
	payload, ok := extract(s.inbound, tagREP)
	if !ok {
		return nil
	}

	s.inPayload = append([]byte(nil), payload...)
	if err := s.write(wrap(nil, tagACK)); err != nil {
		return err
	}

	s.inbound = nil
	s.transition(StateHasData)
	return nil
}

// challengeMatches reports whether the decrypted challenge equals the one
// this side issued, using a constant-time comparison since both sides are
// attacker-observable.
func challengeMatches(got, want []byte) bool {
	return len(got) == len(want) && subtle.ConstantTimeCompare(got, want) == 1
}
