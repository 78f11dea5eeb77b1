package game

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
	"github.com/tmchess/tmchess/internal/rules"
)

// AssetProvider is the catalog lookup contract the coordinator needs.
// Lookup must never fail outward; pack lookups may.
type AssetProvider interface {
	Lookup(ctx context.Context, f catalog.Filters) catalog.Map
	PackTracks(ctx context.Context, packID int) ([]catalog.Map, error)
	LookupFromPack(ctx context.Context, packID, position int) (catalog.Map, error)
}

// Coordinator owns the store and dispatches every client-driven state
// transition. Handling of one message runs to completion, broadcasts
// included, under the store lock; only catalog lookups release it (see
// session.go and challenge.go).
type Coordinator struct {
	store  *Store
	engine rules.Engine
	assets AssetProvider
	log    *logrus.Logger

	// DefaultMappackID seeds square-mode lobbies created without one.
	DefaultMappackID int
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(engine rules.Engine, assets AssetProvider, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{
		store:            NewStore(),
		engine:           engine,
		assets:           assets,
		log:              log,
		DefaultMappackID: 7237,
	}
}

// Register adds a freshly accepted connection to the client arena,
// making it a broadcast recipient.
func (co *Coordinator) Register(c *Client) {
	co.store.mu.Lock()
	defer co.store.mu.Unlock()
	co.store.clients[c.ID] = c
}

// IsKnown reports whether a connection id is registered.
func (co *Coordinator) IsKnown(id uuid.UUID) bool {
	co.store.mu.Lock()
	defer co.store.mu.Unlock()
	_, ok := co.store.clients[id]
	return ok
}

// Dispatch routes one inbound message. Handlers are entered and left
// with the store lock held; the deferred unlock pairs with that
// invariant even when a handler temporarily releases the lock for a
// catalog call.
func (co *Coordinator) Dispatch(cl *Client, raw []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		cl.Send(protocol.Error{Type: "error", Code: protocol.CodeBadJSON})
		return
	}

	co.store.mu.Lock()
	defer co.store.mu.Unlock()

	switch msg.Type {
	case protocol.TypeHandshake:
		// Verified at the transport layer; late handshakes are ignored.

	// lobby flows
	case protocol.TypeCreateLobby:
		co.handleCreateLobby(cl, msg)
	case protocol.TypeListLobbies:
		cl.Send(co.lobbyListLocked())
	case protocol.TypeJoinLobby:
		co.handleJoinLobby(cl, msg)
	case protocol.TypeLeaveLobby:
		co.handleLeaveLobby(cl, msg)
	case protocol.TypeSetFilters:
		co.handleSetFilters(cl, msg)
	case protocol.TypeGetFilters:
		co.handleGetFilters(cl, msg)
	case protocol.TypeStartGame:
		co.handleStartGame(cl, msg)

	// gameplay
	case protocol.TypeMove:
		co.handleMove(cl, msg)
	case protocol.TypeResign:
		co.handleResign(cl, msg)

	// negotiation
	case protocol.TypeNewGame:
		co.handleNewGame(cl, msg)
	case protocol.TypeRematchResponse:
		co.handleRematchResponse(cl, msg)
	case protocol.TypeRerollRequest:
		co.handleRerollRequest(cl, msg)
	case protocol.TypeRerollResponse:
		co.handleRerollResponse(cl, msg)

	// race challenges
	case protocol.TypeRaceResult:
		co.handleRaceResult(cl, msg)
	case protocol.TypeRaceRetire:
		co.handleRaceRetire(cl, msg)

	default:
		co.log.Warnf("client %s: unknown message type %q", cl.ID, msg.Type)
		cl.Send(protocol.Error{Type: "error", Code: protocol.CodeUnknownType})
	}
}

// sendError reports a failure to the offending sender only.
func (co *Coordinator) sendError(cl *Client, code string) {
	cl.Send(protocol.Error{Type: "error", Code: code})
}

// sendToID delivers to a client by id, a no-op for vanished connections.
func (co *Coordinator) sendToID(id uuid.UUID, msg any) {
	if id == uuid.Nil {
		return
	}
	if c, ok := co.store.clients[id]; ok {
		c.Send(msg)
	}
}

// broadcastAll fans a message out to every registered connection.
// Delivery is fire-and-forget per recipient.
func (co *Coordinator) broadcastAll(msg any) {
	for _, c := range co.store.clients {
		c.Send(msg)
	}
}

// Stats is the /stats snapshot.
type Stats struct {
	Lobbies struct {
		Total  int `json:"total"`
		Open   int `json:"open"`
		InGame int `json:"inGame"`
	} `json:"lobbies"`
	Sessions struct {
		Active int `json:"active"`
	} `json:"sessions"`
	Clients struct {
		Connected int `json:"connected"`
	} `json:"clients"`
	LobbyList []protocol.LobbySummary `json:"lobbyList"`
}

// Snapshot assembles the current stats.
func (co *Coordinator) Snapshot() Stats {
	co.store.mu.Lock()
	defer co.store.mu.Unlock()

	var st Stats
	st.Lobbies.Total = len(co.store.lobbies)
	for _, l := range co.store.lobbies {
		if l.Open {
			st.Lobbies.Open++
		}
	}
	st.Lobbies.InGame = st.Lobbies.Total - st.Lobbies.Open
	st.Sessions.Active = len(co.store.sessions)
	st.Clients.Connected = len(co.store.clients)
	st.LobbyList = co.lobbySummariesLocked()
	return st
}
