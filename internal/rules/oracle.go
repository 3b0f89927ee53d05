package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// Oracle answers move legality and terminal-state questions for one game.
// The coordination layer never reimplements these rules; it only asks.
type Oracle interface {
	TurnToMove() arenadto.Color
	LegalMoves() []CandidateMove
	ApplyMove(from, to, promotion string) (*AppliedMove, error)
	PositionEncoding() string
	InCheck() bool
	IsCheckmate() bool
	IsStalemate() bool
	IsThreefoldRepetition() bool
	IsInsufficientMaterial() bool
	IsFiftyMoveDraw() bool
	UndoLastMove() error
}

// CandidateMove is one entry of the legal-move set of the current position.
type CandidateMove struct {
	From      string
	To        string
	Promotion string // "q"/"r"/"b"/"n", empty for non-promotions
}

// AppliedMove describes a move after it has been applied.
type AppliedMove struct {
	From      string
	To        string
	Promotion string
	Piece     string // moving piece letter: k/q/r/b/n/p
	SAN       string
	Captured  string // captured piece letter, empty when none
}

var ErrNoMovesToUndo = errors.New("no moves to undo")

type gameOracle struct {
	game      *nchess.Game
	lastCheck bool
}

// NewGame returns an Oracle for a game starting from the initial position.
func NewGame() Oracle {
	return &gameOracle{game: nchess.NewGame()}
}

func (o *gameOracle) TurnToMove() arenadto.Color {
	if o.game.Position().Turn() == nchess.White {
		return arenadto.White
	}
	return arenadto.Black
}

func (o *gameOracle) LegalMoves() []CandidateMove {
	valid := o.game.ValidMoves()
	out := make([]CandidateMove, 0, len(valid))
	for _, mv := range valid {
		out = append(out, CandidateMove{
			From:      mv.S1().String(),
			To:        mv.S2().String(),
			Promotion: promoLetter(mv.Promo()),
		})
	}
	return out
}

func (o *gameOracle) ApplyMove(from, to, promotion string) (*AppliedMove, error) {
	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	pos := o.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, fmt.Errorf("decode move %s: %w", uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	moving := pos.Board().Piece(mv.S1())

	captured := ""
	if mv.HasTag(nchess.Capture) {
		if mv.HasTag(nchess.EnPassant) {
			captured = "p"
		} else if p := pos.Board().Piece(mv.S2()); p != nchess.NoPiece {
			captured = pieceLetter(p.Type())
		}
	}

	if err := o.game.Move(mv, nil); err != nil {
		return nil, fmt.Errorf("apply move %s: %w", uci, err)
	}
	o.lastCheck = mv.HasTag(nchess.Check)

	return &AppliedMove{
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Promotion: promoLetter(mv.Promo()),
		Piece:     pieceLetter(moving.Type()),
		SAN:       san,
		Captured:  captured,
	}, nil
}

func (o *gameOracle) PositionEncoding() string { return o.game.FEN() }

// InCheck reports whether the side to move is in check, i.e. whether the
// last applied move delivered check.
func (o *gameOracle) InCheck() bool { return o.lastCheck }

func (o *gameOracle) IsCheckmate() bool {
	return o.game.Method() == nchess.Checkmate
}

func (o *gameOracle) IsStalemate() bool {
	return o.game.Method() == nchess.Stalemate
}

func (o *gameOracle) IsThreefoldRepetition() bool {
	if o.game.Method() == nchess.FivefoldRepetition {
		return true
	}
	return o.drawEligible(nchess.ThreefoldRepetition)
}

func (o *gameOracle) IsInsufficientMaterial() bool {
	return o.game.Method() == nchess.InsufficientMaterial
}

func (o *gameOracle) IsFiftyMoveDraw() bool {
	if o.game.Method() == nchess.SeventyFiveMoveRule {
		return true
	}
	return o.drawEligible(nchess.FiftyMoveRule)
}

func (o *gameOracle) drawEligible(want nchess.Method) bool {
	for _, m := range o.game.EligibleDraws() {
		if m == want {
			return true
		}
	}
	return false
}

// UndoLastMove rewinds one ply by replaying the move list from the start
// position. Replaying keeps repetition and move-count state consistent,
// which a positional rollback would lose.
func (o *gameOracle) UndoLastMove() error {
	moves := o.game.Moves()
	if len(moves) == 0 {
		return ErrNoMovesToUndo
	}
	game := nchess.NewGame()
	for _, mv := range moves[:len(moves)-1] {
		if err := game.PushNotationMove(mv.String(), nchess.UCINotation{}, nil); err != nil {
			return fmt.Errorf("replay %s: %w", mv.String(), err)
		}
	}
	o.game = game
	o.lastCheck = false
	if rest := game.Moves(); len(rest) > 0 {
		o.lastCheck = rest[len(rest)-1].HasTag(nchess.Check)
	}
	return nil
}

func promoLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	}
	return ""
}

func pieceLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	}
	return ""
}
