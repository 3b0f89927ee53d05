package session

import (
	"testing"
	"time"

	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

var tc300 = arenadto.TimeControl{Time: 300}

// fakeOracle scripts terminal predicates so outcome arbitration can be
// tested without constructing real positions.
type fakeOracle struct {
	turn         arenadto.Color
	legal        []rules.CandidateMove
	appliedPromo string

	checkmate    bool
	stalemate    bool
	threefold    bool
	insufficient bool
	fifty        bool
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		turn:  arenadto.White,
		legal: []rules.CandidateMove{{From: "e2", To: "e4"}},
	}
}

func (f *fakeOracle) TurnToMove() arenadto.Color        { return f.turn }
func (f *fakeOracle) LegalMoves() []rules.CandidateMove { return f.legal }
func (f *fakeOracle) ApplyMove(from, to, promotion string) (*rules.AppliedMove, error) {
	f.appliedPromo = promotion
	f.turn = f.turn.Opponent()
	return &rules.AppliedMove{From: from, To: to, Promotion: promotion, Piece: "p"}, nil
}
func (f *fakeOracle) PositionEncoding() string     { return "fake-fen" }
func (f *fakeOracle) InCheck() bool                { return false }
func (f *fakeOracle) IsCheckmate() bool            { return f.checkmate }
func (f *fakeOracle) IsStalemate() bool            { return f.stalemate }
func (f *fakeOracle) IsThreefoldRepetition() bool  { return f.threefold }
func (f *fakeOracle) IsInsufficientMaterial() bool { return f.insufficient }
func (f *fakeOracle) IsFiftyMoveDraw() bool        { return f.fifty }
func (f *fakeOracle) UndoLastMove() error          { return nil }

func TestCreateSetsFullBudget(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)

	rem, ok := m.Remaining("r1")
	if !ok {
		t.Fatalf("expected session")
	}
	if rem.White != 300 || rem.Black != 300 {
		t.Fatalf("expected full budgets, got %+v", rem)
	}
}

func TestCreateDefaultsTimeControl(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", arenadto.TimeControl{})

	rem, _ := m.Remaining("r1")
	if rem.White != 300 {
		t.Fatalf("expected 300s default budget, got %v", rem.White)
	}
}

func TestMakeMoveFlow(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)

	res := m.MakeMove("r1", "e2", "e4", "", arenadto.White)
	if res.Code != MoveOK {
		t.Fatalf("expected ok, got %s", res.Code)
	}
	if len(res.History) != 1 || res.History[0] != "e2e4" {
		t.Fatalf("unexpected history %v", res.History)
	}
	// The first move activates the clock instead of charging it.
	if res.Remaining.White != 300 {
		t.Fatalf("opening move must cost nothing, got %v", res.Remaining.White)
	}
	if res.Move == nil || res.Move.SAN != "e4" {
		t.Fatalf("missing move detail: %+v", res.Move)
	}

	if res := m.MakeMove("r1", "d2", "d4", "", arenadto.White); res.Code != MoveNotYourTurn {
		t.Fatalf("expected not_your_turn, got %s", res.Code)
	}
	if res := m.MakeMove("r1", "e2", "e4", "", arenadto.Black); res.Code != MoveIllegal {
		t.Fatalf("expected illegal_move, got %s", res.Code)
	}
	if res := m.MakeMove("r1", "e7", "e5", "", arenadto.Black); res.Code != MoveOK {
		t.Fatalf("expected ok for e7e5, got %s", res.Code)
	}
}

func TestMakeMoveUnknownRoom(t *testing.T) {
	m := NewManager(time.Hour)
	if res := m.MakeMove("nosuch", "e2", "e4", "", arenadto.White); res.Code != MoveSessionNotFound {
		t.Fatalf("expected session_not_found, got %s", res.Code)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	fo := newFakeOracle()
	fo.legal = []rules.CandidateMove{
		{From: "a7", To: "a8", Promotion: "n"},
		{From: "a7", To: "a8", Promotion: "q"},
		{From: "a7", To: "a8", Promotion: "r"},
	}
	m := NewManager(time.Hour)
	m.newOracle = func() rules.Oracle { return fo }
	m.Create("r1", tc300)

	res := m.MakeMove("r1", "a7", "a8", "", arenadto.White)
	if res.Code != MoveOK {
		t.Fatalf("expected ok, got %s", res.Code)
	}
	if fo.appliedPromo != "q" {
		t.Fatalf("expected queen default, got %q", fo.appliedPromo)
	}
}

func TestLazyFlagFall(t *testing.T) {
	base := time.Now()
	cur := base
	m := NewManager(time.Hour)
	m.now = func() time.Time { return cur }
	m.Create("r1", tc300)

	if res := m.MakeMove("r1", "e2", "e4", "", arenadto.White); res.Code != MoveOK {
		t.Fatalf("opening move failed: %s", res.Code)
	}

	cur = base.Add(301 * time.Second)
	res := m.MakeMove("r1", "e7", "e5", "", arenadto.Black)
	if res.Code != MoveTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Code)
	}
	if !res.GameOver || res.Winner != arenadto.White {
		t.Fatalf("expected white win on time, got %+v", res)
	}
	if m.Exists("r1") {
		t.Fatalf("flagged session must be removed")
	}
}

func TestCheckmateEndsSession(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)

	line := [][2]string{{"f2", "f3"}, {"e7", "e5"}, {"g2", "g4"}, {"d8", "h4"}}
	turns := []arenadto.Color{arenadto.White, arenadto.Black, arenadto.White, arenadto.Black}
	var last *MoveResult
	for i, mv := range line {
		last = m.MakeMove("r1", mv[0], mv[1], "", turns[i])
		if last.Code != MoveOK {
			t.Fatalf("move %d failed: %s", i, last.Code)
		}
	}

	if !last.GameOver || last.Draw {
		t.Fatalf("expected decisive finish, got %+v", last)
	}
	if last.Winner != arenadto.Black {
		t.Fatalf("expected black mate, got winner %s", last.Winner)
	}
	if m.Exists("r1") {
		t.Fatalf("finished session must be removed")
	}
}

func TestDrawPriority(t *testing.T) {
	cases := []struct {
		name string
		set  func(*fakeOracle)
		want DrawReason
	}{
		{"threefold wins over everything", func(f *fakeOracle) {
			f.threefold, f.insufficient, f.stalemate, f.fifty = true, true, true, true
		}, DrawThreefold},
		{"insufficient before stalemate", func(f *fakeOracle) {
			f.insufficient, f.stalemate, f.fifty = true, true, true
		}, DrawInsufficient},
		{"stalemate before fifty", func(f *fakeOracle) {
			f.stalemate, f.fifty = true, true
		}, DrawStalemate},
		{"fifty alone", func(f *fakeOracle) {
			f.fifty = true
		}, DrawFiftyMove},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			fo := newFakeOracle()
			tt.set(fo)
			m := NewManager(time.Hour)
			m.newOracle = func() rules.Oracle { return fo }
			m.Create("r1", tc300)

			res := m.MakeMove("r1", "e2", "e4", "", arenadto.White)
			if res.Code != MoveOK || !res.GameOver || !res.Draw {
				t.Fatalf("expected drawn finish, got %+v", res)
			}
			if res.DrawReason != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, res.DrawReason)
			}
		})
	}
}

func TestCheckmateBeatsDrawPredicates(t *testing.T) {
	fo := newFakeOracle()
	fo.checkmate = true
	fo.stalemate = true
	m := NewManager(time.Hour)
	m.newOracle = func() rules.Oracle { return fo }
	m.Create("r1", tc300)

	res := m.MakeMove("r1", "e2", "e4", "", arenadto.White)
	if !res.GameOver || res.Draw {
		t.Fatalf("expected decisive result, got %+v", res)
	}
	// The fake flips the turn, so black is to move in the mated position.
	if res.Winner != arenadto.White {
		t.Fatalf("expected white winner, got %s", res.Winner)
	}
}

func TestResign(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)

	winner, ok := m.Resign("r1", arenadto.Black)
	if !ok || winner != arenadto.White {
		t.Fatalf("expected white win by resignation, got %s ok=%v", winner, ok)
	}
	if m.Exists("r1") {
		t.Fatalf("resigned session must be removed")
	}
	if _, ok := m.Resign("r1", arenadto.White); ok {
		t.Fatalf("double resign must miss")
	}
}

func TestEndInDrawAndForceTimeout(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)
	if !m.EndInDraw("r1") {
		t.Fatalf("EndInDraw failed")
	}
	if m.Exists("r1") {
		t.Fatalf("drawn session must be removed")
	}

	m.Create("r2", tc300)
	loser, ok := m.ForceTimeoutLoss("r2", arenadto.White)
	if !ok || loser != arenadto.White {
		t.Fatalf("expected forced white loss, got %s ok=%v", loser, ok)
	}
	if m.Exists("r2") {
		t.Fatalf("forfeited session must be removed")
	}
}

func TestCurrentSnapshot(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("r1", tc300)
	m.MakeMove("r1", "e2", "e4", "", arenadto.White)
	m.MakeMove("r1", "e7", "e5", "", arenadto.Black)

	snap, ok := m.CurrentSnapshot("r1")
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if len(snap.History) != 2 || snap.History[1] != "e7e5" {
		t.Fatalf("unexpected history %v", snap.History)
	}
	if snap.Position == "" || snap.TimeControl.Time != 300 {
		t.Fatalf("incomplete snapshot: %+v", snap)
	}
}

func TestTickFlagFallCallback(t *testing.T) {
	base := time.Now()
	cur := base
	m := NewManager(time.Hour)
	m.now = func() time.Time { return cur }

	var flaggedRoom string
	var flaggedLoser arenadto.Color
	m.OnFlagFall = func(roomID string, loser arenadto.Color) {
		flaggedRoom, flaggedLoser = roomID, loser
	}

	m.Create("r1", tc300)
	m.MakeMove("r1", "e2", "e4", "", arenadto.White)

	cur = base.Add(301 * time.Second)
	m.onTick("r1")

	if flaggedRoom != "r1" || flaggedLoser != arenadto.Black {
		t.Fatalf("expected black flag fall in r1, got (%s,%s)", flaggedRoom, flaggedLoser)
	}
	if m.Exists("r1") {
		t.Fatalf("flagged session must be removed")
	}
}
