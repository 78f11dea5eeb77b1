package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestNewGameStartingPosition(t *testing.T) {
	g := NewEngine().NewGame()
	assert.Equal(t, startFEN, g.FEN())
	assert.Equal(t, White, g.Turn())

	over, reason := g.Terminal()
	assert.False(t, over)
	assert.Equal(t, ReasonNone, reason)
}

func TestApplyMoveLegal(t *testing.T) {
	g := NewEngine().NewGame()

	san, err := g.ApplyMove("e2", "e4", "")
	require.NoError(t, err)
	assert.Equal(t, "e4", san)
	assert.Equal(t, Black, g.Turn())
}

func TestApplyMoveIllegal(t *testing.T) {
	g := NewEngine().NewGame()

	_, err := g.ApplyMove("e2", "e5", "")
	assert.ErrorIs(t, err, ErrIllegalMove)

	// Board and turn unchanged after a rejected move.
	assert.Equal(t, startFEN, g.FEN())
	assert.Equal(t, White, g.Turn())
}

func TestApplyMoveBadSquare(t *testing.T) {
	g := NewEngine().NewGame()

	_, err := g.ApplyMove("z9", "e4", "")
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestPieceAt(t *testing.T) {
	g := NewEngine().NewGame()

	side, occupied := g.PieceAt("e2")
	require.True(t, occupied)
	assert.Equal(t, White, side)

	side, occupied = g.PieceAt("d7")
	require.True(t, occupied)
	assert.Equal(t, Black, side)

	_, occupied = g.PieceAt("e4")
	assert.False(t, occupied)
}

func TestCaptureTargetDetection(t *testing.T) {
	g := NewEngine().NewGame()

	_, err := g.ApplyMove("e2", "e4", "")
	require.NoError(t, err)
	_, err = g.ApplyMove("d7", "d5", "")
	require.NoError(t, err)

	// White to move; d5 holds an opposing pawn, so exd5 would be a capture.
	side, occupied := g.PieceAt("d5")
	require.True(t, occupied)
	assert.Equal(t, Black, side)
	assert.Equal(t, White, g.Turn())

	san, err := g.ApplyMove("e4", "d5", "")
	require.NoError(t, err)
	assert.Equal(t, "exd5", san)
}

func TestScholarsMate(t *testing.T) {
	g := NewEngine().NewGame()

	moves := [][2]string{
		{"e2", "e4"}, {"e7", "e5"},
		{"f1", "c4"}, {"b8", "c6"},
		{"d1", "h5"}, {"g8", "f6"},
		{"h5", "f7"},
	}
	for _, mv := range moves {
		_, err := g.ApplyMove(mv[0], mv[1], "")
		require.NoError(t, err, "move %s-%s", mv[0], mv[1])
	}

	over, reason := g.Terminal()
	require.True(t, over)
	assert.Equal(t, ReasonCheckmate, reason)
	// Black is to move and mated; white wins.
	assert.Equal(t, Black, g.Turn())
}

func TestColorHelpers(t *testing.T) {
	assert.Equal(t, "white", White.String())
	assert.Equal(t, "b", Black.Short())
	assert.Equal(t, Black, White.Other())
	assert.Equal(t, White, Black.Other())
}
