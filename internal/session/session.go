package session

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// MoveCode classifies the outcome of a move attempt. Rejections are regular
// results, not errors: nothing about a bad move is exceptional.
type MoveCode string

const (
	MoveOK              MoveCode = "ok"
	MoveSessionNotFound MoveCode = "session_not_found"
	MoveNotYourTurn     MoveCode = "not_your_turn"
	MoveIllegal         MoveCode = "illegal_move"
	MoveTimedOut        MoveCode = "timed_out"
)

// DrawReason values match the wire contract.
type DrawReason string

const (
	DrawThreefold    DrawReason = "threefold"
	DrawInsufficient DrawReason = "insufficient"
	DrawStalemate    DrawReason = "stalemate"
	DrawFiftyMove    DrawReason = "fiftyMove"
)

// MoveResult is the full answer to one move attempt.
type MoveResult struct {
	Code       MoveCode
	Move       *rules.AppliedMove
	Position   string
	Remaining  arenadto.RemainingTime
	History    []string
	GameOver   bool
	Winner     arenadto.Color // checkmate and timeout outcomes
	Draw       bool
	DrawReason DrawReason
}

// Snapshot is the authoritative state resent to a reconnecting client.
type Snapshot struct {
	Position    string
	TimeControl arenadto.TimeControl
	Remaining   arenadto.RemainingTime
	History     []string
}

// Session is the per-room authoritative game state: rules oracle handle,
// clock, move history and terminal flag. One exists per non-terminated room.
type Session struct {
	mu       sync.Mutex
	roomID   string
	oracle   rules.Oracle
	clk      *clock
	history  []string
	gameOver bool

	stopTick chan struct{}
	stopOnce sync.Once
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.stopTick) })
}

// Manager is the id-keyed session table. Timer callbacks resolve sessions
// through it by room id, so a timer firing after teardown finds nothing.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tick      time.Duration
	now       func() time.Time
	newOracle func() rules.Oracle

	// OnTick broadcasts the side-to-move's recomputed clock once per tick.
	OnTick func(roomID string, remaining arenadto.RemainingTime)
	// OnFlagFall fires when a tick detects the side to move out of time;
	// the session is already torn down when it runs.
	OnFlagFall func(roomID string, loser arenadto.Color)
}

func NewManager(tick time.Duration) *Manager {
	if tick <= 0 {
		tick = time.Second
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		tick:      tick,
		now:       time.Now,
		newOracle: rules.NewGame,
	}
}

// Create installs a fresh session for the room. The clock stays inactive
// until the first move.
func (m *Manager) Create(roomID string, tc arenadto.TimeControl) {
	if tc.Time <= 0 {
		tc.Time = 300
	}
	s := &Session{
		roomID:   roomID,
		oracle:   m.newOracle(),
		clk:      newClock(tc),
		stopTick: make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[roomID] = s
	m.mu.Unlock()

	obslog.L().Info("session_create",
		zap.String("room_id", roomID),
		zap.Int("time", tc.Time),
		zap.Int("increment", tc.Increment),
	)
}

func (m *Manager) get(roomID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[roomID]
}

func (m *Manager) drop(roomID string) {
	m.mu.Lock()
	delete(m.sessions, roomID)
	m.mu.Unlock()
}

// Exists reports whether the room has an active session.
func (m *Manager) Exists(roomID string) bool { return m.get(roomID) != nil }

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MakeMove runs the full arbitration pipeline for one move attempt.
func (m *Manager) MakeMove(roomID, from, to, promotion string, claimed arenadto.Color) *MoveResult {
	s := m.get(roomID)
	if s == nil {
		return &MoveResult{Code: MoveSessionNotFound}
	}

	s.mu.Lock()
	if s.gameOver {
		s.mu.Unlock()
		return &MoveResult{Code: MoveSessionNotFound}
	}

	turn := s.oracle.TurnToMove()
	if turn != claimed {
		s.mu.Unlock()
		return &MoveResult{Code: MoveNotYourTurn}
	}

	now := m.now()

	// Lazy flag-fall: the mover may have flagged since the last
	// transition even though no tick has caught it yet.
	if s.clk.flagged(turn, now) {
		s.gameOver = true
		s.stop()
		s.mu.Unlock()
		m.drop(roomID)
		obslog.L().Info("session_flag_fall",
			zap.String("room_id", roomID),
			zap.String("loser", string(turn)),
		)
		return &MoveResult{Code: MoveTimedOut, GameOver: true, Winner: turn.Opponent()}
	}

	// Membership in the oracle's legal-move set is the only legality
	// check; client claims are never trusted.
	chosen, ok := pickLegal(s.oracle.LegalMoves(), from, to, promotion)
	if !ok {
		s.mu.Unlock()
		return &MoveResult{Code: MoveIllegal}
	}

	applied, err := s.oracle.ApplyMove(chosen.From, chosen.To, chosen.Promotion)
	if err != nil {
		s.mu.Unlock()
		return &MoveResult{Code: MoveIllegal}
	}

	if !s.clk.running {
		// First move of the game: activate instead of charging, so the
		// opening think costs nothing.
		s.clk.start(now)
		m.startTicker(s)
	} else {
		s.clk.chargeMove(turn, now)
	}

	s.history = append(s.history, chosen.From+chosen.To+chosen.Promotion)

	res := &MoveResult{
		Code:      MoveOK,
		Move:      applied,
		Position:  s.oracle.PositionEncoding(),
		History:   append([]string(nil), s.history...),
		Remaining: s.clk.snapshot(s.oracle.TurnToMove(), now),
	}

	if winner, draw, reason, over := m.terminalState(s.oracle); over {
		s.gameOver = true
		s.stop()
		res.GameOver = true
		res.Winner = winner
		res.Draw = draw
		res.DrawReason = reason
		s.mu.Unlock()
		m.drop(roomID)
		obslog.L().Info("session_finish",
			zap.String("room_id", roomID),
			zap.String("winner", string(winner)),
			zap.Bool("draw", draw),
			zap.String("draw_reason", string(reason)),
			zap.Int("plies", len(res.History)),
		)
		return res
	}

	s.mu.Unlock()
	return res
}

// terminalState asks the oracle for game-ending conditions. Checkmate wins
// over every draw predicate (the positions are mutually exclusive); draws
// are checked in fixed priority: repetition, insufficient material,
// stalemate, move count.
func (m *Manager) terminalState(o rules.Oracle) (winner arenadto.Color, draw bool, reason DrawReason, over bool) {
	if o.IsCheckmate() {
		// The side to move at the mated position is the loser.
		return o.TurnToMove().Opponent(), false, "", true
	}
	switch {
	case o.IsThreefoldRepetition():
		return "", true, DrawThreefold, true
	case o.IsInsufficientMaterial():
		return "", true, DrawInsufficient, true
	case o.IsStalemate():
		return "", true, DrawStalemate, true
	case o.IsFiftyMoveDraw():
		return "", true, DrawFiftyMove, true
	}
	return "", false, "", false
}

// pickLegal matches the requested triple against the legal-move set. An
// omitted promotion piece defaults to the queen.
func pickLegal(legal []rules.CandidateMove, from, to, promotion string) (rules.CandidateMove, bool) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promo := strings.ToLower(strings.TrimSpace(promotion))
	for _, cand := range legal {
		if cand.From != from || cand.To != to {
			continue
		}
		if promo != "" {
			if cand.Promotion == promo {
				return cand, true
			}
			continue
		}
		if cand.Promotion == "" || cand.Promotion == "q" {
			return cand, true
		}
	}
	return rules.CandidateMove{}, false
}

// Resign ends the session with the given color as loser and removes it.
func (m *Manager) Resign(roomID string, c arenadto.Color) (winner arenadto.Color, ok bool) {
	s := m.get(roomID)
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	if s.gameOver {
		s.mu.Unlock()
		return "", false
	}
	s.gameOver = true
	s.stop()
	s.mu.Unlock()
	m.drop(roomID)

	obslog.L().Info("session_resign",
		zap.String("room_id", roomID),
		zap.String("resigner", string(c)),
	)
	return c.Opponent(), true
}

// ForceTimeoutLoss ends the session charging the given color, used by the
// abandonment path after grace expiry. Identical teardown to a flag-fall.
func (m *Manager) ForceTimeoutLoss(roomID string, c arenadto.Color) (loser arenadto.Color, ok bool) {
	s := m.get(roomID)
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	s.gameOver = true
	s.stop()
	s.mu.Unlock()
	m.drop(roomID)

	obslog.L().Info("session_timeout_loss",
		zap.String("room_id", roomID),
		zap.String("loser", string(c)),
	)
	return c, true
}

// EndInDraw ends the session as an agreed draw and removes it.
func (m *Manager) EndInDraw(roomID string) bool {
	s := m.get(roomID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.gameOver = true
	s.stop()
	s.mu.Unlock()
	m.drop(roomID)

	obslog.L().Info("session_draw_agreed", zap.String("room_id", roomID))
	return true
}

// Remove tears a session down with no outcome, e.g. when a half-filled room
// empties before the game starts.
func (m *Manager) Remove(roomID string) {
	s := m.get(roomID)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.gameOver = true
	s.stop()
	s.mu.Unlock()
	m.drop(roomID)
}

// CurrentSnapshot returns the authoritative state for reconnect handoff.
func (m *Manager) CurrentSnapshot(roomID string) (Snapshot, bool) {
	s := m.get(roomID)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Position:    s.oracle.PositionEncoding(),
		TimeControl: s.clk.tc,
		Remaining:   s.clk.snapshot(s.oracle.TurnToMove(), m.now()),
		History:     append([]string(nil), s.history...),
	}, true
}

// Remaining returns both clocks as of now.
func (m *Manager) Remaining(roomID string) (arenadto.RemainingTime, bool) {
	s := m.get(roomID)
	if s == nil {
		return arenadto.RemainingTime{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clk.snapshot(s.oracle.TurnToMove(), m.now()), true
}

// startTicker launches the periodic clock broadcast for an activated
// session. The goroutine exits through the session's stop channel, which
// every teardown path closes exactly once.
func (m *Manager) startTicker(s *Session) {
	go func() {
		t := time.NewTicker(m.tick)
		defer t.Stop()
		for {
			select {
			case <-s.stopTick:
				return
			case <-t.C:
				m.onTick(s.roomID)
			}
		}
	}()
}

func (m *Manager) onTick(roomID string) {
	s := m.get(roomID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.gameOver {
		s.mu.Unlock()
		return
	}
	now := m.now()
	turn := s.oracle.TurnToMove()
	if s.clk.flagged(turn, now) {
		s.gameOver = true
		s.stop()
		s.mu.Unlock()
		m.drop(roomID)
		obslog.L().Info("session_flag_fall",
			zap.String("room_id", roomID),
			zap.String("loser", string(turn)),
		)
		if m.OnFlagFall != nil {
			m.OnFlagFall(roomID, turn)
		}
		return
	}
	rem := s.clk.snapshot(turn, now)
	s.mu.Unlock()
	if m.OnTick != nil {
		m.OnTick(roomID, rem)
	}
}
