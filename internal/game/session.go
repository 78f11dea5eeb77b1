package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/tmchess/tmchess/internal/cache"
	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
	"github.com/tmchess/tmchess/internal/rules"
)

// Session is one active game. Seats hold connection ids; uuid.Nil
// marks the vacant seat of a practice session. Busy is set for the
// duration of an outstanding catalog lookup and gates every
// same-session mutation submitted meanwhile.
type Session struct {
	ID        string
	LobbyID   string
	White     uuid.UUID
	Black     uuid.UUID
	Game      rules.Game
	CreatedAt time.Time
	Filters   catalog.Filters
	Mode      string
	MappackID int

	// Assets maps destination square to its pre-assigned map in
	// square mode. Nil means draw on demand.
	Assets map[string]catalog.Map

	Busy bool
}

// seatOf reports which color a connection plays, if seated.
func (s *Session) seatOf(id uuid.UUID) (rules.Color, bool) {
	switch {
	case id != uuid.Nil && id == s.White:
		return rules.White, true
	case id != uuid.Nil && id == s.Black:
		return rules.Black, true
	}
	return rules.White, false
}

// seatID returns the connection seated as color (uuid.Nil if vacant).
func (s *Session) seatID(c rules.Color) uuid.UUID {
	if c == rules.White {
		return s.White
	}
	return s.Black
}

// opponentOf returns the other seat's connection id.
func (s *Session) opponentOf(id uuid.UUID) uuid.UUID {
	if id == s.White {
		return s.Black
	}
	return s.White
}

// createSession constructs and announces a new session between seatA
// and seatB (uuid.Nil for a vacant second seat). Colors are assigned
// uniformly at random. Square mode synchronously populates the
// per-square asset table before announcing; population failure is
// non-fatal and falls back to on-demand draws.
//
// Entered and left with the store lock held; releases it around the
// mappack fetch.
func (co *Coordinator) createSession(seatA, seatB uuid.UUID, lobbyID string, filters catalog.Filters, mode string, mappackID int) *Session {
	s := &Session{
		ID:        co.store.newSessionID(),
		LobbyID:   lobbyID,
		Game:      co.engine.NewGame(),
		CreatedAt: time.Now(),
		Filters:   filters,
		Mode:      mode,
		MappackID: mappackID,
	}

	if seatB != uuid.Nil {
		if rand.IntN(2) == 0 {
			s.White, s.Black = seatA, seatB
		} else {
			s.White, s.Black = seatB, seatA
		}
		co.store.lastOpponents[seatA] = seatB
		co.store.lastOpponents[seatB] = seatA
	} else {
		if rand.IntN(2) == 0 {
			s.White = seatA
		} else {
			s.Black = seatA
		}
	}

	co.store.sessions[s.ID] = s
	co.log.Infof("session %s created (lobby %s, mode %s)", s.ID, lobbyID, mode)

	if mode == ModeSquare {
		s.Busy = true
		co.store.mu.Unlock()
		tracks, err := co.assets.PackTracks(context.Background(), mappackID)
		co.store.mu.Lock()

		if _, alive := co.store.sessions[s.ID]; !alive {
			// Torn down (disconnect) while the fetch was outstanding.
			return nil
		}
		s.Busy = false
		if err != nil {
			co.log.Warnf("session %s: mappack %d pre-assignment failed, falling back to on-demand draws: %v", s.ID, mappackID, err)
		} else {
			s.Assets = make(map[string]catalog.Map, 64)
			for pos := range 64 {
				s.Assets[squareName(pos)] = tracks[pos%len(tracks)]
			}
		}
	}

	co.announceSessionLocked(s)
	return s
}

// announceSessionLocked emits session_start to each occupied seat.
func (co *Coordinator) announceSessionLocked(s *Session) {
	for _, color := range []rules.Color{rules.White, rules.Black} {
		seat := s.seatID(color)
		if seat == uuid.Nil {
			continue
		}
		start := protocol.SessionStart{
			Type:      "session_start",
			SessionID: s.ID,
			IsWhite:   color == rules.White,
			FEN:       s.Game.FEN(),
			Turn:      s.Game.Turn().Short(),
			Mode:      s.Mode,
			Assets:    s.Assets,
		}
		if s.Mode == ModeSquare {
			start.MappackID = s.MappackID
		}
		if opp := s.opponentOf(seat); opp != uuid.Nil {
			start.OpponentID = opp.String()
		}
		co.sendToID(seat, start)
	}
}

func (co *Coordinator) handleMove(cl *Client, msg protocol.ClientMessage) {
	s, ok := co.store.sessions[msg.SessionID]
	if !ok {
		co.sendError(cl, protocol.CodeSessionNotFound)
		return
	}
	seat, seated := s.seatOf(cl.ID)
	if !seated {
		co.sendError(cl, protocol.CodeNotInSession)
		return
	}
	if s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}
	if _, pending := co.store.challenges[s.ID]; pending {
		co.sendError(cl, protocol.CodeChallengePending)
		return
	}
	// A practice player drives both sides; otherwise you move only on
	// your own turn.
	solo := s.opponentOf(cl.ID) == uuid.Nil
	if seat != s.Game.Turn() && !solo {
		co.sendError(cl, protocol.CodeNotYourTurn)
		return
	}

	// A move onto an opposing piece transfers control to the duel
	// machinery instead of mutating the board, except in practice
	// mode where there is nobody to race.
	if target, occupied := s.Game.PieceAt(msg.To); occupied && target != s.Game.Turn() {
		if defender := s.opponentOf(cl.ID); defender != uuid.Nil {
			co.openChallenge(s, cl.ID, defender, msg)
			return
		}
	}

	san, err := s.Game.ApplyMove(msg.From, msg.To, msg.Promo)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			co.sendError(cl, protocol.CodeIllegalMove)
			return
		}
		co.log.Errorf("session %s: apply move: %v", s.ID, err)
		co.sendError(cl, protocol.CodeIllegalMove)
		return
	}

	co.broadcastSeatsLocked(s, protocol.Moved{
		Type:      "moved",
		SessionID: s.ID,
		From:      msg.From,
		To:        msg.To,
		SAN:       san,
		FEN:       s.Game.FEN(),
		Turn:      s.Game.Turn().Short(),
	})
	co.finishIfTerminalLocked(s)
}

func (co *Coordinator) handleResign(cl *Client, msg protocol.ClientMessage) {
	s, ok := co.store.sessions[msg.SessionID]
	if !ok {
		return
	}
	seat, seated := s.seatOf(cl.ID)
	if !seated {
		return
	}
	if s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}
	winner := ""
	if s.opponentOf(cl.ID) != uuid.Nil {
		winner = seat.Other().String()
	}
	co.finishSessionLocked(s, "resign", winner)
}

// finishIfTerminalLocked runs the shared game-over bookkeeping when the
// engine reports a terminal state.
func (co *Coordinator) finishIfTerminalLocked(s *Session) {
	over, reason := s.Game.Terminal()
	if !over {
		return
	}
	winner := ""
	if reason == rules.ReasonCheckmate {
		// The side to move is mated.
		winner = s.Game.Turn().Other().String()
	}
	co.finishSessionLocked(s, string(reason), winner)
}

// finishSessionLocked broadcasts game_over, records the last-opponent
// link, keeps the originating lobby closed for rematches, queues the
// match record, and destroys the session together with any pending
// challenge.
func (co *Coordinator) finishSessionLocked(s *Session, reason, winner string) {
	co.broadcastSeatsLocked(s, protocol.GameOver{
		Type:      "game_over",
		SessionID: s.ID,
		Reason:    reason,
		Winner:    winner,
	})

	if s.White != uuid.Nil && s.Black != uuid.Nil {
		co.store.lastOpponents[s.White] = s.Black
		co.store.lastOpponents[s.Black] = s.White
	}
	if l, ok := co.store.lobbies[s.LobbyID]; ok {
		l.Open = false
	}
	co.publishMatch(s, reason, winner)

	delete(co.store.challenges, s.ID)
	delete(co.store.sessions, s.ID)
	co.log.Infof("session %s over: %s (winner %q)", s.ID, reason, winner)
}

// destroySessionLocked removes a session (and any pending challenge)
// without emitting game_over; used when a rematch supersedes a live
// session.
func (co *Coordinator) destroySessionLocked(s *Session) {
	delete(co.store.challenges, s.ID)
	delete(co.store.sessions, s.ID)
}

// publishMatch queues the finished match for the historian,
// fire-and-forget.
func (co *Coordinator) publishMatch(s *Session, reason, winner string) {
	rec := cache.MatchRecord{
		SessionID: s.ID,
		Mode:      s.Mode,
		Reason:    reason,
		Winner:    winner,
		FinalFEN:  s.Game.FEN(),
		StartedAt: s.CreatedAt.UnixMilli(),
		EndedAt:   time.Now().UnixMilli(),
	}
	if s.White != uuid.Nil {
		rec.WhiteID = s.White.String()
	}
	if s.Black != uuid.Nil {
		rec.BlackID = s.Black.String()
	}
	go func() {
		if err := cache.PublishMatchResult(context.Background(), rec); err != nil {
			co.log.Warnf("historian publish for session %s: %v", rec.SessionID, err)
		}
	}()
}

// broadcastSeatsLocked delivers to both occupied seats.
func (co *Coordinator) broadcastSeatsLocked(s *Session, msg any) {
	co.sendToID(s.White, msg)
	co.sendToID(s.Black, msg)
}
