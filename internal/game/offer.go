package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
)

// Offer is one outstanding rematch or reroll proposal, keyed in the
// store by requester id: a connection carries at most one of each kind,
// and a request for a different session supersedes the old one.
type Offer struct {
	Requester    uuid.UUID
	Counterparty uuid.UUID
	SessionID    string
}

func (co *Coordinator) handleNewGame(cl *Client, msg protocol.ClientMessage) {
	var counterparty uuid.UUID

	if s, live := co.store.sessions[msg.SessionID]; live {
		if _, seated := s.seatOf(cl.ID); !seated {
			co.sendError(cl, protocol.CodeNotInSession)
			return
		}
		if s.Busy {
			co.sendError(cl, protocol.CodeSessionBusy)
			return
		}
		counterparty = s.opponentOf(cl.ID)
		if counterparty == uuid.Nil {
			// Solo practice restarts on the spot.
			co.destroySessionLocked(s)
			co.createSession(cl.ID, uuid.Nil, s.LobbyID, s.Filters, s.Mode, s.MappackID)
			return
		}
	} else {
		opp, knew := co.store.lastOpponents[cl.ID]
		if !knew {
			co.sendError(cl, protocol.CodeSessionNotFound)
			return
		}
		counterparty = opp
	}

	if prev, ok := co.store.rematchOffers[cl.ID]; ok {
		if prev.SessionID == msg.SessionID {
			co.sendError(cl, protocol.CodeAlreadySent)
			return
		}
		delete(co.store.rematchOffers, cl.ID)
	}

	co.store.rematchOffers[cl.ID] = &Offer{
		Requester:    cl.ID,
		Counterparty: counterparty,
		SessionID:    msg.SessionID,
	}
	co.sendToID(counterparty, protocol.OfferNotice{
		Type:      "rematch_request",
		SessionID: msg.SessionID,
		FromID:    cl.ID.String(),
	})
	cl.Send(protocol.OfferNotice{Type: "rematch_sent", SessionID: msg.SessionID})
}

func (co *Coordinator) handleRematchResponse(cl *Client, msg protocol.ClientMessage) {
	offer := co.findOfferLocked(co.store.rematchOffers, cl.ID, msg.SessionID)
	if offer == nil {
		co.sendError(cl, protocol.CodeNoSuchOffer)
		return
	}
	// A busy session rejects the response without spending the offer.
	if s, live := co.store.sessions[offer.SessionID]; live && s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}
	delete(co.store.rematchOffers, offer.Requester)
	if !msg.Accept {
		decline := protocol.OfferNotice{Type: "rematch_declined", SessionID: msg.SessionID}
		co.sendToID(offer.Requester, decline)
		cl.Send(decline)
		return
	}

	// Inherit parameters from the referenced session if it still runs,
	// else from a retained lobby holding both players, else defaults.
	lobbyID := ""
	var filters catalog.Filters
	mode := ModeCapture
	mappackID := co.DefaultMappackID

	if s, live := co.store.sessions[offer.SessionID]; live {
		lobbyID, filters, mode, mappackID = s.LobbyID, s.Filters, s.Mode, s.MappackID
		co.destroySessionLocked(s)
	} else if l := co.lobbyWithBothLocked(offer.Requester, offer.Counterparty); l != nil {
		lobbyID, filters, mode, mappackID = l.ID, l.Filters, l.Mode, l.MappackID
	}

	co.createSession(offer.Requester, offer.Counterparty, lobbyID, filters, mode, mappackID)
}

func (co *Coordinator) handleRerollRequest(cl *Client, msg protocol.ClientMessage) {
	ch, pending := co.store.challenges[msg.SessionID]
	if !pending {
		co.sendError(cl, protocol.CodeChallengeNotFound)
		return
	}
	if cl.ID != ch.Attacker && cl.ID != ch.Defender {
		co.sendError(cl, protocol.CodeNotInSession)
		return
	}
	if s, live := co.store.sessions[msg.SessionID]; live && s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}
	counterparty := ch.Attacker
	if cl.ID == ch.Attacker {
		counterparty = ch.Defender
	}

	if prev, ok := co.store.rerollOffers[cl.ID]; ok {
		if prev.SessionID == msg.SessionID {
			co.sendError(cl, protocol.CodeAlreadySent)
			return
		}
		delete(co.store.rerollOffers, cl.ID)
	}

	co.store.rerollOffers[cl.ID] = &Offer{
		Requester:    cl.ID,
		Counterparty: counterparty,
		SessionID:    msg.SessionID,
	}
	co.sendToID(counterparty, protocol.OfferNotice{
		Type:      "reroll_request",
		SessionID: msg.SessionID,
		FromID:    cl.ID.String(),
	})
	cl.Send(protocol.OfferNotice{Type: "reroll_sent", SessionID: msg.SessionID})
}

func (co *Coordinator) handleRerollResponse(cl *Client, msg protocol.ClientMessage) {
	offer := co.findOfferLocked(co.store.rerollOffers, cl.ID, msg.SessionID)
	if offer == nil {
		co.sendError(cl, protocol.CodeNoSuchOffer)
		return
	}
	if s, live := co.store.sessions[offer.SessionID]; live && s.Busy {
		co.sendError(cl, protocol.CodeSessionBusy)
		return
	}
	delete(co.store.rerollOffers, offer.Requester)
	if !msg.Accept {
		decline := protocol.OfferNotice{Type: "reroll_declined", SessionID: msg.SessionID}
		co.sendToID(offer.Requester, decline)
		cl.Send(decline)
		return
	}

	ch, pending := co.store.challenges[offer.SessionID]
	if !pending {
		co.sendError(cl, protocol.CodeChallengeNotFound)
		return
	}
	s, ok := co.store.sessions[offer.SessionID]
	if !ok {
		co.sendError(cl, protocol.CodeSessionNotFound)
		return
	}

	s.Busy = true
	co.store.mu.Unlock()
	m := co.assets.Lookup(context.Background(), s.Filters)
	co.store.mu.Lock()

	if _, alive := co.store.sessions[s.ID]; !alive {
		return
	}
	s.Busy = false
	if _, still := co.store.challenges[s.ID]; !still {
		// Resolved underneath the lookup; nothing to replace.
		return
	}
	ch.Map = m

	approved := protocol.RerollApproved{
		Type:      "reroll_approved",
		SessionID: s.ID,
		MapUID:    m.UID,
		MapName:   m.Name,
	}
	co.sendToID(ch.Attacker, approved)
	co.sendToID(ch.Defender, approved)
}

// findOfferLocked returns the offer aimed at responder for the given
// session, or nil. Callers delete it once the response is validated.
func (co *Coordinator) findOfferLocked(offers map[uuid.UUID]*Offer, responder uuid.UUID, sessionID string) *Offer {
	for _, o := range offers {
		if o.Counterparty == responder && o.SessionID == sessionID {
			return o
		}
	}
	return nil
}

// lobbyWithBothLocked finds a retained lobby whose members include both
// connections, used for rematch parameter inheritance.
func (co *Coordinator) lobbyWithBothLocked(a, b uuid.UUID) *Lobby {
	for _, l := range co.store.lobbies {
		if l.hasMember(a) && l.hasMember(b) {
			return l
		}
	}
	return nil
}
