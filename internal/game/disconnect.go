package game

import "github.com/google/uuid"

// Disconnect tears down every trace of a connection: registry entry,
// lobby membership, live sessions (scored as a disconnect loss),
// last-opponent links, and any negotiation offers it was party to.
func (co *Coordinator) Disconnect(c *Client) {
	co.store.mu.Lock()
	defer co.store.mu.Unlock()

	delete(co.store.clients, c.ID)
	c.CloseOut()

	for _, l := range co.store.lobbies {
		if l.hasMember(c.ID) {
			co.removeLobbyMemberLocked(l, c.ID)
		}
	}

	for _, s := range co.store.sessions {
		if _, seated := s.seatOf(c.ID); !seated {
			continue
		}
		winner := ""
		if remaining := s.opponentOf(c.ID); remaining != uuid.Nil {
			color, _ := s.seatOf(remaining)
			winner = color.String()
		}
		co.finishSessionLocked(s, "disconnect", winner)
	}

	delete(co.store.lastOpponents, c.ID)
	for id, opp := range co.store.lastOpponents {
		if opp == c.ID {
			delete(co.store.lastOpponents, id)
		}
	}

	for id, o := range co.store.rematchOffers {
		if o.Requester == c.ID || o.Counterparty == c.ID {
			delete(co.store.rematchOffers, id)
		}
	}
	for id, o := range co.store.rerollOffers {
		if o.Requester == c.ID || o.Counterparty == c.ID {
			delete(co.store.rerollOffers, id)
		}
	}

	co.broadcastLobbyListLocked()
	co.log.Infof("connection %s cleaned up", c.ID)
}
