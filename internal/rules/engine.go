// Package rules wraps the move-legality and game-over oracle behind a
// small adapter so the coordinator never touches a chess library
// directly. The production implementation is backed by
// github.com/notnil/chess.
package rules

import (
	"errors"
	"fmt"

	chesslib "github.com/notnil/chess"
)

// ErrIllegalMove is returned by ApplyMove when the engine rejects a move.
var ErrIllegalMove = errors.New("illegal move")

// Color identifies a side.
type Color int

const (
	White Color = iota
	Black
)

// String returns the long color name used in game_over messages.
func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Short returns the single-letter form used in turn fields.
func (c Color) Short() string {
	if c == White {
		return "w"
	}
	return "b"
}

// Other returns the opposing side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Reason classifies a terminal game state.
type Reason string

const (
	ReasonNone         Reason = "none"
	ReasonCheckmate    Reason = "checkmate"
	ReasonStalemate    Reason = "stalemate"
	ReasonThreefold    Reason = "threefold"
	ReasonInsufficient Reason = "insufficient"
	ReasonDraw         Reason = "draw"
)

// Game is one authoritative board state.
type Game interface {
	// Turn reports the side to move.
	Turn() Color
	// PieceAt reports the occupying side of a square in algebraic
	// notation ("e4"), or false if the square is empty.
	PieceAt(square string) (Color, bool)
	// ApplyMove applies from/to with an optional promotion hint
	// ("q", "r", "b", "n"; queen when empty) and returns the SAN
	// notation of the applied move. Returns ErrIllegalMove if the
	// engine rejects it.
	ApplyMove(from, to, promo string) (string, error)
	// Terminal reports whether the game is over and why.
	Terminal() (bool, Reason)
	// FEN serializes the current position.
	FEN() string
}

// Engine creates games.
type Engine interface {
	NewGame() Game
}

// NewEngine returns the notnil/chess backed engine.
func NewEngine() Engine {
	return notnilEngine{}
}

type notnilEngine struct{}

func (notnilEngine) NewGame() Game {
	return &notnilGame{g: chesslib.NewGame()}
}

type notnilGame struct {
	g *chesslib.Game
}

func parseSquare(s string) (chesslib.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return chesslib.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	file := int(s[0] - 'a')
	rank := int(s[1] - '1')
	return chesslib.Square(rank*8 + file), nil
}

func promoPiece(promo string) chesslib.PieceType {
	switch promo {
	case "r":
		return chesslib.Rook
	case "b":
		return chesslib.Bishop
	case "n":
		return chesslib.Knight
	default:
		return chesslib.Queen
	}
}

func (ng *notnilGame) Turn() Color {
	if ng.g.Position().Turn() == chesslib.White {
		return White
	}
	return Black
}

func (ng *notnilGame) PieceAt(square string) (Color, bool) {
	sq, err := parseSquare(square)
	if err != nil {
		return White, false
	}
	piece := ng.g.Position().Board().Piece(sq)
	if piece == chesslib.NoPiece {
		return White, false
	}
	if piece.Color() == chesslib.White {
		return White, true
	}
	return Black, true
}

func (ng *notnilGame) ApplyMove(from, to, promo string) (string, error) {
	src, err := parseSquare(from)
	if err != nil {
		return "", ErrIllegalMove
	}
	dst, err := parseSquare(to)
	if err != nil {
		return "", ErrIllegalMove
	}

	want := promoPiece(promo)
	var chosen *chesslib.Move
	for _, m := range ng.g.ValidMoves() {
		if m.S1() != src || m.S2() != dst {
			continue
		}
		if m.Promo() != chesslib.NoPieceType && m.Promo() != want {
			continue
		}
		chosen = m
		break
	}
	if chosen == nil {
		return "", ErrIllegalMove
	}

	san := chesslib.AlgebraicNotation{}.Encode(ng.g.Position(), chosen)
	if err := ng.g.Move(chosen); err != nil {
		return "", ErrIllegalMove
	}

	// Threefold repetition is claim-based in the underlying library;
	// the server claims it eagerly so terminal detection matches the
	// adapter contract.
	for _, m := range ng.g.EligibleDraws() {
		if m == chesslib.ThreefoldRepetition {
			_ = ng.g.Draw(chesslib.ThreefoldRepetition)
			break
		}
	}
	return san, nil
}

func (ng *notnilGame) Terminal() (bool, Reason) {
	if ng.g.Outcome() == chesslib.NoOutcome {
		return false, ReasonNone
	}
	switch ng.g.Method() {
	case chesslib.Checkmate:
		return true, ReasonCheckmate
	case chesslib.Stalemate:
		return true, ReasonStalemate
	case chesslib.ThreefoldRepetition, chesslib.FivefoldRepetition:
		return true, ReasonThreefold
	case chesslib.InsufficientMaterial:
		return true, ReasonInsufficient
	default:
		return true, ReasonDraw
	}
}

func (ng *notnilGame) FEN() string {
	return ng.g.Position().String()
}
