package game

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
)

// retireTime is the sentinel submitted on behalf of a retiring racer.
// It is worse than any realistic run and never strictly beats a finish.
const retireTime = math.MaxInt32

// Challenge is a pending capture duel. The originating move is stored
// verbatim and only applied to the board once the duel resolves in the
// attacker's favor.
type Challenge struct {
	SessionID string
	From, To  string
	Promo     string
	Attacker  uuid.UUID
	Defender  uuid.UUID
	Map       catalog.Map

	AttackerTime *int
	DefenderTime *int
}

// openChallenge creates the duel for a capture attempt and notifies
// both seats with their roles. Square mode uses the pre-assigned map
// for the destination square when available; otherwise the lock is
// released around a catalog lookup.
//
// Entered and left with the store lock held.
func (co *Coordinator) openChallenge(s *Session, attacker, defender uuid.UUID, msg protocol.ClientMessage) {
	ch := &Challenge{
		SessionID: s.ID,
		From:      msg.From,
		To:        msg.To,
		Promo:     msg.Promo,
		Attacker:  attacker,
		Defender:  defender,
	}

	if m, ok := s.Assets[msg.To]; ok {
		ch.Map = m
	} else {
		s.Busy = true
		co.store.mu.Unlock()
		m := co.drawMap(s, msg.To)
		co.store.mu.Lock()

		if _, alive := co.store.sessions[s.ID]; !alive {
			return
		}
		s.Busy = false
		ch.Map = m
	}

	co.store.challenges[s.ID] = ch
	co.log.Infof("session %s: duel on %s (map %d)", s.ID, ch.To, ch.Map.UID)

	for _, id := range []uuid.UUID{attacker, defender} {
		co.sendToID(id, protocol.RaceChallenge{
			Type:       "race_challenge",
			SessionID:  s.ID,
			MapUID:     ch.Map.UID,
			MapName:    ch.Map.Name,
			IsDefender: id == defender,
			From:       ch.From,
			To:         ch.To,
		})
	}
}

// drawMap picks the duel map for a destination square without the
// store lock held. Square mode indexes into the session's mappack by
// square; everything else (and pack failures) draws from the catalog
// under the session's filters.
func (co *Coordinator) drawMap(s *Session, to string) catalog.Map {
	if s.Mode == ModeSquare {
		m, err := co.assets.LookupFromPack(context.Background(), s.MappackID, squareIndex(to))
		if err == nil {
			return m
		}
		co.log.Warnf("session %s: pack lookup for %s failed: %v", s.ID, to, err)
	}
	return co.assets.Lookup(context.Background(), s.Filters)
}

// squareIndex is the inverse of squareName; callers pass only
// validated square names.
func squareIndex(name string) int {
	return int(name[1]-'1')*8 + int(name[0]-'a')
}

func (co *Coordinator) handleRaceResult(cl *Client, msg protocol.ClientMessage) {
	if msg.Time == nil {
		co.sendError(cl, protocol.CodeBadJSON)
		return
	}
	co.submitRaceTime(cl, msg.SessionID, *msg.Time)
}

func (co *Coordinator) handleRaceRetire(cl *Client, msg protocol.ClientMessage) {
	co.submitRaceTime(cl, msg.SessionID, retireTime)
}

// submitRaceTime records one racer's time (or retirement) and resolves
// the duel once both sides have reported.
func (co *Coordinator) submitRaceTime(cl *Client, sessionID string, ms int) {
	ch, ok := co.store.challenges[sessionID]
	if !ok {
		// Late finishes after resolution are routine, not an error.
		co.log.Debugf("race time for session %s with no pending duel", sessionID)
		return
	}
	if s, live := co.store.sessions[sessionID]; live && s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}

	var slot **int
	switch cl.ID {
	case ch.Attacker:
		slot = &ch.AttackerTime
	case ch.Defender:
		slot = &ch.DefenderTime
	default:
		co.sendError(cl, protocol.CodeNotInSession)
		return
	}
	if *slot != nil {
		co.sendError(cl, protocol.CodeDuplicateResult)
		return
	}
	t := ms
	*slot = &t

	if ch.AttackerTime == nil || ch.DefenderTime == nil {
		if cl.ID == ch.Defender {
			// Tell the attacker the bar they now have to beat.
			co.sendToID(ch.Attacker, protocol.RaceDefenderFinished{
				Type: "race_defender_finished",
				Time: ms,
			})
		}
		return
	}
	co.resolveChallengeLocked(ch)
}

// resolveChallengeLocked settles a duel with both times in hand: the
// capture lands iff the attacker was strictly faster. Only then does
// the stored move reach the board.
func (co *Coordinator) resolveChallengeLocked(ch *Challenge) {
	s, ok := co.store.sessions[ch.SessionID]
	if !ok {
		delete(co.store.challenges, ch.SessionID)
		return
	}

	succeeded := *ch.AttackerTime < *ch.DefenderTime
	if succeeded {
		if _, err := s.Game.ApplyMove(ch.From, ch.To, ch.Promo); err != nil {
			co.log.Errorf("session %s: won duel but move %s%s rejected: %v", s.ID, ch.From, ch.To, err)
			succeeded = false
		}
	}
	delete(co.store.challenges, s.ID)

	co.broadcastSeatsLocked(s, protocol.RaceResult{
		Type:             "race_result",
		SessionID:        s.ID,
		CaptureSucceeded: succeeded,
		FEN:              s.Game.FEN(),
		Turn:             s.Game.Turn().Short(),
	})
	co.log.Infof("session %s: duel resolved, attacker %dms vs defender %dms, capture=%v",
		s.ID, *ch.AttackerTime, *ch.DefenderTime, succeeded)

	if succeeded {
		co.finishIfTerminalLocked(s)
	}
}
