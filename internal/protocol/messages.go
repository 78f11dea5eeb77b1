// Package protocol defines the JSON messages exchanged with clients.
// One JSON object per WebSocket text frame; every message carries a
// "type" discriminator.
package protocol

import "github.com/tmchess/tmchess/internal/catalog"

// Inbound message kinds.
const (
	TypeHandshake       = "handshake"
	TypeCreateLobby     = "create_lobby"
	TypeListLobbies     = "list_lobbies"
	TypeJoinLobby       = "join_lobby"
	TypeLeaveLobby      = "leave_lobby"
	TypeSetFilters      = "set_filters"
	TypeGetFilters      = "get_filters"
	TypeStartGame       = "start_game"
	TypeMove            = "move"
	TypeResign          = "resign"
	TypeNewGame         = "new_game"
	TypeRematchResponse = "rematch_response"
	TypeRerollRequest   = "reroll_request"
	TypeRerollResponse  = "reroll_response"
	TypeRaceResult      = "race_result"
	TypeRaceRetire      = "race_retire"
)

// Error codes sent in Error / LobbyError messages.
const (
	CodeBadJSON           = "BAD_JSON"
	CodeUnknownType       = "UNKNOWN_TYPE"
	CodeLobbyNotFound     = "LOBBY_NOT_FOUND"
	CodeLobbyClosed       = "LOBBY_CLOSED"
	CodeLobbyFull         = "LOBBY_FULL"
	CodeBadPassword       = "BAD_PASSWORD"
	CodeNotHost           = "NOT_HOST"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeNotInSession      = "NOT_IN_SESSION"
	CodeNotYourTurn       = "NOT_YOUR_TURN"
	CodeIllegalMove       = "ILLEGAL_MOVE"
	CodeChallengePending  = "CHALLENGE_PENDING"
	CodeChallengeNotFound = "CHALLENGE_NOT_FOUND"
	CodeSessionBusy       = "SESSION_BUSY"
	CodeDuplicateResult   = "DUPLICATE_RESULT"
	CodeAlreadySent       = "ALREADY_SENT"
	CodeNoSuchOffer       = "NO_SUCH_OFFER"
	CodeInternal          = "INTERNAL"
)

// ClientMessage is the inbound envelope. Fields are a union over every
// inbound kind; handlers read only the ones their kind defines.
type ClientMessage struct {
	Type string `json:"type"`

	// handshake
	Version string `json:"version,omitempty"`

	// lobby flows
	LobbyID    string           `json:"lobbyId,omitempty"`
	Title      string           `json:"title,omitempty"`
	Password   string           `json:"password,omitempty"`
	PlayerName string           `json:"playerName,omitempty"`
	Filters    *catalog.Filters `json:"filters,omitempty"`
	Mode       string           `json:"mode,omitempty"`
	MappackID  int              `json:"mappackId,omitempty"`

	// gameplay
	SessionID string `json:"sessionId,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promo     string `json:"promo,omitempty"`

	// negotiation
	Accept bool `json:"accept,omitempty"`

	// race results (milliseconds)
	Time *int `json:"time,omitempty"`
}

// Hello is the identity announcement sent immediately on accept.
type Hello struct {
	Type  string `json:"type"` // "hello"
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// VersionMismatch is sent before closing a connection whose handshake
// version does not match the server's required version.
type VersionMismatch struct {
	Type            string `json:"type"` // "version_mismatch"
	RequiredVersion string `json:"requiredVersion"`
	ClientVersion   string `json:"clientVersion"`
}

// Error is the generic failure reply, sent to the offending sender only.
type Error struct {
	Type string `json:"type"` // "error"
	Code string `json:"code"`
}

// LobbyError reports lobby-operation failures to the sender.
type LobbyError struct {
	Type    string `json:"type"` // "lobby_error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LobbyCreated confirms lobby creation to the requester.
type LobbyCreated struct {
	Type    string `json:"type"` // "lobby_created"
	LobbyID string `json:"lobbyId"`
}

// LobbySummary is one entry of a lobby listing.
type LobbySummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	HostID      string   `json:"hostId"`
	Players     int      `json:"players"`
	PlayerNames []string `json:"playerNames"`
	Open        bool     `json:"open"`
	HasPassword bool     `json:"hasPassword"`
	Mode        string   `json:"mode"`
}

// LobbyList carries the current lobby listing; broadcast to every
// connection whenever it changes, or sent on request.
type LobbyList struct {
	Type    string         `json:"type"` // "lobby_list"
	Lobbies []LobbySummary `json:"lobbies"`
}

// LobbyUpdate is the membership snapshot broadcast to lobby members.
type LobbyUpdate struct {
	Type        string          `json:"type"` // "lobby_update"
	LobbyID     string          `json:"lobbyId"`
	Players     []string        `json:"players"`
	PlayerNames []string        `json:"playerNames"`
	HostID      string          `json:"hostId"`
	HasPassword bool            `json:"hasPassword"`
	Filters     catalog.Filters `json:"filters"`
	Mode        string          `json:"mode"`
}

// FiltersUpdated notifies lobby members of replaced filters.
type FiltersUpdated struct {
	Type    string          `json:"type"` // "filters_updated"
	LobbyID string          `json:"lobbyId"`
	Filters catalog.Filters `json:"filters"`
}

// FiltersReply answers a get_filters request.
type FiltersReply struct {
	Type    string          `json:"type"` // "filters"
	LobbyID string          `json:"lobbyId"`
	Filters catalog.Filters `json:"filters"`
}

// SessionStart announces a new session to one seat. Assets is only
// present in pre-assignment mode and maps square name to map.
type SessionStart struct {
	Type       string                 `json:"type"` // "session_start"
	SessionID  string                 `json:"sessionId"`
	IsWhite    bool                   `json:"isWhite"`
	OpponentID string                 `json:"opponentId,omitempty"`
	FEN        string                 `json:"fen"`
	Turn       string                 `json:"turn"`
	Mode       string                 `json:"mode"`
	MappackID  int                    `json:"mappackId,omitempty"`
	Assets     map[string]catalog.Map `json:"assets,omitempty"`
}

// Moved broadcasts an applied non-capture move to both seats.
type Moved struct {
	Type      string `json:"type"` // "moved"
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	SAN       string `json:"san"`
	FEN       string `json:"fen"`
	Turn      string `json:"turn"`
}

// GameOver broadcasts a terminal session outcome. Winner is "white",
// "black", or empty for drawn/solo outcomes.
type GameOver struct {
	Type      string `json:"type"` // "game_over"
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Winner    string `json:"winner,omitempty"`
}

// RaceChallenge notifies a seat that a capture triggered a duel and
// which role it holds.
type RaceChallenge struct {
	Type       string `json:"type"` // "race_challenge"
	SessionID  string `json:"sessionId"`
	MapUID     int    `json:"mapUid"`
	MapName    string `json:"mapName"`
	IsDefender bool   `json:"isDefender"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// RaceDefenderFinished tells the attacker the defender's target time.
type RaceDefenderFinished struct {
	Type string `json:"type"` // "race_defender_finished"
	Time int    `json:"time"`
}

// RaceResult broadcasts the duel outcome plus resulting state.
type RaceResult struct {
	Type             string `json:"type"` // "race_result"
	SessionID        string `json:"sessionId"`
	CaptureSucceeded bool   `json:"captureSucceeded"`
	FEN              string `json:"fen"`
	Turn             string `json:"turn"`
}

// OfferNotice covers the rematch/reroll offer notifications
// (rematch_request, rematch_sent, rematch_declined, reroll_request,
// reroll_sent, reroll_declined).
type OfferNotice struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	FromID    string `json:"fromId,omitempty"`
}

// RerollApproved re-announces the pending challenge's replacement map
// to both duel participants.
type RerollApproved struct {
	Type      string `json:"type"` // "reroll_approved"
	SessionID string `json:"sessionId"`
	MapUID    int    `json:"mapUid"`
	MapName   string `json:"mapName"`
}
