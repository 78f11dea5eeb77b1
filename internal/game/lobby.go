package game

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tmchess/tmchess/internal/auth"
	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
)

// Lobby modes. Capture draws a fresh map per duel; square pre-assigns
// a mappack across the board at session start; practice seats a single
// player against a permanently vacant seat.
const (
	ModeCapture  = "capture"
	ModeSquare   = "square"
	ModePractice = "practice"
)

// Lobby is a pre-game room. Members and Names are parallel,
// seat-ordered slices; Host is always one of Members while any remain.
// Open tracks `!Started && len(Members) < 2`. A lobby that has spawned
// a session stays registered, closed, to host rematches.
type Lobby struct {
	ID           string
	Title        string
	PasswordHash string
	Members      []uuid.UUID
	Names        []string
	Host         uuid.UUID
	Open         bool
	Started      bool
	Filters      catalog.Filters
	Mode         string
	MappackID    int
}

// requiredMembers is the member count a mode needs to start.
func requiredMembers(mode string) int {
	if mode == ModePractice {
		return 1
	}
	return 2
}

func (l *Lobby) hasMember(id uuid.UUID) bool {
	for _, m := range l.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (l *Lobby) recomputeOpen() {
	l.Open = !l.Started && len(l.Members) < 2
}

// hashLobbyPassword is swappable for tests.
var hashLobbyPassword = auth.HashLobbyPassword

func (co *Coordinator) handleCreateLobby(cl *Client, msg protocol.ClientMessage) {
	id := strings.ToUpper(strings.TrimSpace(msg.LobbyID))
	if id == "" {
		id = co.store.newLobbyCode()
	} else if _, taken := co.store.lobbies[id]; taken {
		id = co.store.newLobbyCode()
	}

	mode := msg.Mode
	switch mode {
	case ModeCapture, ModeSquare, ModePractice:
	default:
		mode = ModeCapture
	}
	mappackID := msg.MappackID
	if mappackID == 0 {
		mappackID = co.DefaultMappackID
	}

	var passwordHash string
	if msg.Password != "" {
		hash, err := hashLobbyPassword(msg.Password)
		if err != nil {
			co.log.Errorf("lobby %s: password hash failed: %v", id, err)
			co.sendError(cl, protocol.CodeInternal)
			return
		}
		passwordHash = hash
	}

	if msg.PlayerName != "" {
		cl.Name = msg.PlayerName
	}
	name := cl.Name
	if name == "" {
		name = cl.ID.String()
	}

	l := &Lobby{
		ID:           id,
		Title:        msg.Title,
		PasswordHash: passwordHash,
		Members:      []uuid.UUID{cl.ID},
		Names:        []string{name},
		Host:         cl.ID,
		Open:         true,
		Mode:         mode,
		MappackID:    mappackID,
	}
	if msg.Filters != nil {
		l.Filters = *msg.Filters
	}
	co.store.lobbies[id] = l

	co.log.Infof("lobby %s created by %s (mode %s)", id, cl.ID, mode)
	cl.Send(protocol.LobbyCreated{Type: "lobby_created", LobbyID: id})
	co.broadcastLobbyListLocked()
}

func (co *Coordinator) handleJoinLobby(cl *Client, msg protocol.ClientMessage) {
	l, ok := co.store.lobbies[msg.LobbyID]
	if !ok {
		cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeLobbyNotFound, Message: "Lobby not found"})
		return
	}
	if l.hasMember(cl.ID) {
		// Re-join is idempotent; just resend the snapshot.
		cl.Send(co.lobbyUpdate(l))
		return
	}
	if !l.Open {
		cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeLobbyClosed, Message: "Lobby closed"})
		return
	}
	if l.PasswordHash != "" {
		ok, err := auth.VerifyLobbyPassword(msg.Password, l.PasswordHash)
		if err != nil || !ok {
			cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeBadPassword, Message: "Incorrect password"})
			return
		}
	}
	if len(l.Members) >= 2 {
		cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeLobbyFull, Message: "Lobby is full"})
		return
	}

	if msg.PlayerName != "" {
		cl.Name = msg.PlayerName
	}
	name := cl.Name
	if name == "" {
		name = cl.ID.String()
	}
	l.Members = append(l.Members, cl.ID)
	l.Names = append(l.Names, name)
	l.recomputeOpen()

	snapshot := co.lobbyUpdate(l)
	for _, m := range l.Members {
		co.sendToID(m, snapshot)
	}
	co.broadcastLobbyListLocked()
}

func (co *Coordinator) handleLeaveLobby(cl *Client, msg protocol.ClientMessage) {
	l, ok := co.store.lobbies[msg.LobbyID]
	if !ok || !l.hasMember(cl.ID) {
		return
	}
	co.removeLobbyMemberLocked(l, cl.ID)
	co.broadcastLobbyListLocked()
}

// removeLobbyMemberLocked drops one member, promotes the next member to
// host if needed, deletes the lobby when empty, and re-notifies the
// remainder. Shared by leave_lobby and disconnect cleanup.
func (co *Coordinator) removeLobbyMemberLocked(l *Lobby, id uuid.UUID) {
	for i, m := range l.Members {
		if m == id {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			l.Names = append(l.Names[:i], l.Names[i+1:]...)
			break
		}
	}
	if len(l.Members) == 0 {
		delete(co.store.lobbies, l.ID)
		co.log.Infof("lobby %s deleted (empty)", l.ID)
		return
	}
	if l.Host == id {
		l.Host = l.Members[0]
	}
	l.recomputeOpen()

	snapshot := co.lobbyUpdate(l)
	for _, m := range l.Members {
		co.sendToID(m, snapshot)
	}
}

func (co *Coordinator) handleSetFilters(cl *Client, msg protocol.ClientMessage) {
	l, ok := co.store.lobbies[msg.LobbyID]
	if !ok {
		cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeLobbyNotFound, Message: "Lobby not found"})
		return
	}
	if l.Host != cl.ID {
		co.sendError(cl, protocol.CodeNotHost)
		return
	}
	if msg.Filters != nil {
		l.Filters = *msg.Filters
	} else {
		l.Filters = catalog.Filters{}
	}

	update := protocol.FiltersUpdated{Type: "filters_updated", LobbyID: l.ID, Filters: l.Filters}
	for _, m := range l.Members {
		co.sendToID(m, update)
	}
}

func (co *Coordinator) handleGetFilters(cl *Client, msg protocol.ClientMessage) {
	l, ok := co.store.lobbies[msg.LobbyID]
	if !ok {
		cl.Send(protocol.LobbyError{Type: "lobby_error", Code: protocol.CodeLobbyNotFound, Message: "Lobby not found"})
		return
	}
	cl.Send(protocol.FiltersReply{Type: "filters", LobbyID: l.ID, Filters: l.Filters})
}

// handleStartGame spawns a session from a lobby. Per the protocol this
// is a silent no-op unless the requester is host and the membership
// count matches the mode.
func (co *Coordinator) handleStartGame(cl *Client, msg protocol.ClientMessage) {
	l, ok := co.store.lobbies[msg.LobbyID]
	if !ok || l.Host != cl.ID || l.Started {
		return
	}
	if len(l.Members) != requiredMembers(l.Mode) {
		return
	}

	seatA := l.Members[0]
	var seatB uuid.UUID
	if len(l.Members) > 1 {
		seatB = l.Members[1]
	}

	l.Started = true
	l.recomputeOpen()

	co.createSession(seatA, seatB, l.ID, l.Filters, l.Mode, l.MappackID)
	co.broadcastLobbyListLocked()
}

// lobbyUpdate builds the membership snapshot members receive.
func (co *Coordinator) lobbyUpdate(l *Lobby) protocol.LobbyUpdate {
	players := make([]string, len(l.Members))
	for i, m := range l.Members {
		players[i] = m.String()
	}
	return protocol.LobbyUpdate{
		Type:        "lobby_update",
		LobbyID:     l.ID,
		Players:     players,
		PlayerNames: append([]string(nil), l.Names...),
		HostID:      l.Host.String(),
		HasPassword: l.PasswordHash != "",
		Filters:     l.Filters,
		Mode:        l.Mode,
	}
}

func (co *Coordinator) lobbySummariesLocked() []protocol.LobbySummary {
	list := make([]protocol.LobbySummary, 0, len(co.store.lobbies))
	for _, l := range co.store.lobbies {
		list = append(list, protocol.LobbySummary{
			ID:          l.ID,
			Title:       l.Title,
			HostID:      l.Host.String(),
			Players:     len(l.Members),
			PlayerNames: append([]string(nil), l.Names...),
			Open:        l.Open,
			HasPassword: l.PasswordHash != "",
			Mode:        l.Mode,
		})
	}
	return list
}

func (co *Coordinator) lobbyListLocked() protocol.LobbyList {
	return protocol.LobbyList{Type: "lobby_list", Lobbies: co.lobbySummariesLocked()}
}

// broadcastLobbyListLocked pushes the listing to every connection.
func (co *Coordinator) broadcastLobbyListLocked() {
	co.broadcastAll(co.lobbyListLocked())
}
