package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmchess/tmchess/internal/catalog"
	"github.com/tmchess/tmchess/internal/protocol"
	"github.com/tmchess/tmchess/internal/rules"
)

// stubAssets satisfies AssetProvider without touching the network.
type stubAssets struct {
	packErr bool
}

func (s *stubAssets) Lookup(_ context.Context, _ catalog.Filters) catalog.Map {
	return catalog.Map{UID: 111, Name: "Filtered Track"}
}

func (s *stubAssets) PackTracks(_ context.Context, _ int) ([]catalog.Map, error) {
	if s.packErr {
		return nil, errors.New("exchange unavailable")
	}
	tracks := make([]catalog.Map, 8)
	for i := range tracks {
		tracks[i] = catalog.Map{UID: 1000 + i, Name: fmt.Sprintf("Pack %02d", i+1)}
	}
	return tracks, nil
}

func (s *stubAssets) LookupFromPack(_ context.Context, _, position int) (catalog.Map, error) {
	if s.packErr {
		return catalog.Map{}, errors.New("exchange unavailable")
	}
	return catalog.Map{UID: 2000 + position, Name: fmt.Sprintf("Pack positional %d", position)}, nil
}

func newTestCoordinator() *Coordinator {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewCoordinator(rules.NewEngine(), &stubAssets{}, log)
}

func send(co *Coordinator, c *Client, msg map[string]any) {
	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	co.Dispatch(c, raw)
}

// recv pops queued messages until one of type T appears, discarding the
// rest. Fails the test if the queue drains first.
func recv[T any](t *testing.T, c *Client) T {
	t.Helper()
	for {
		select {
		case m := <-c.Out():
			if v, ok := m.(T); ok {
				return v
			}
		default:
			var zero T
			t.Fatalf("no %T queued for client %s", zero, c.ID)
			return zero
		}
	}
}

// expectError asserts the next queued error carries the given code.
func expectError(t *testing.T, c *Client, code string) {
	t.Helper()
	e := recv[protocol.Error](t, c)
	assert.Equal(t, code, e.Code)
}

// drain discards everything queued for a client.
func drain(c *Client) {
	for {
		select {
		case <-c.Out():
		default:
			return
		}
	}
}

func registered(co *Coordinator) *Client {
	c := NewClient(co.log)
	co.Register(c)
	return c
}

// collect drains everything queued for a client into a slice.
func collect(c *Client) []any {
	var msgs []any
	for {
		select {
		case m := <-c.Out():
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

// startPair drives two clients through lobby creation into a running
// session and returns them ordered by color.
func startPair(t *testing.T, co *Coordinator, mode string) (white, black *Client, sessionID string) {
	t.Helper()
	host := registered(co)
	guest := registered(co)

	send(co, host, map[string]any{"type": "create_lobby", "playerName": "alice", "mode": mode})
	created := recv[protocol.LobbyCreated](t, host)
	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID, "playerName": "bob"})
	send(co, host, map[string]any{"type": "start_game", "lobbyId": created.LobbyID})

	hs := recv[protocol.SessionStart](t, host)
	gs := recv[protocol.SessionStart](t, guest)
	require.Equal(t, hs.SessionID, gs.SessionID)
	require.NotEqual(t, hs.IsWhite, gs.IsWhite)

	white, black = host, guest
	if !hs.IsWhite {
		white, black = guest, host
	}
	drain(white)
	drain(black)
	return white, black, hs.SessionID
}

// reachCapture plays 1.e4 d5 and submits the capture 2.exd5, leaving a
// pending duel with white attacking.
func reachCapture(t *testing.T, co *Coordinator, white, black *Client, sid string) {
	t.Helper()
	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	send(co, black, map[string]any{"type": "move", "sessionId": sid, "from": "d7", "to": "d5"})
	drain(white)
	drain(black)
	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e4", "to": "d5"})
}

func TestLobbyLifecycle(t *testing.T) {
	co := newTestCoordinator()
	host := registered(co)
	guest := registered(co)

	send(co, host, map[string]any{"type": "create_lobby", "playerName": "alice", "title": "casual"})
	created := recv[protocol.LobbyCreated](t, host)
	require.Len(t, created.LobbyID, 6)

	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID, "playerName": "bob"})
	update := recv[protocol.LobbyUpdate](t, guest)
	assert.Equal(t, []string{"alice", "bob"}, update.PlayerNames)

	// Two members close the lobby in the public listing.
	list := recv[protocol.LobbyList](t, guest)
	require.Len(t, list.Lobbies, 1)
	assert.False(t, list.Lobbies[0].Open)

	send(co, guest, map[string]any{"type": "leave_lobby", "lobbyId": created.LobbyID})
	drain(guest)
	send(co, guest, map[string]any{"type": "list_lobbies"})
	list = recv[protocol.LobbyList](t, guest)
	require.Len(t, list.Lobbies, 1)
	assert.True(t, list.Lobbies[0].Open)
}

func TestJoinLobbyRejections(t *testing.T) {
	co := newTestCoordinator()
	host := registered(co)
	guest := registered(co)

	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": "NOPE"})
	e := recv[protocol.LobbyError](t, guest)
	assert.Equal(t, protocol.CodeLobbyNotFound, e.Code)

	send(co, host, map[string]any{"type": "create_lobby", "password": "hunter2"})
	created := recv[protocol.LobbyCreated](t, host)

	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID, "password": "wrong"})
	e = recv[protocol.LobbyError](t, guest)
	assert.Equal(t, protocol.CodeBadPassword, e.Code)

	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID, "password": "hunter2"})
	recv[protocol.LobbyUpdate](t, guest)
}

func TestSetFiltersHostOnly(t *testing.T) {
	co := newTestCoordinator()
	host := registered(co)
	guest := registered(co)

	send(co, host, map[string]any{"type": "create_lobby"})
	created := recv[protocol.LobbyCreated](t, host)
	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID})
	drain(guest)

	send(co, guest, map[string]any{"type": "set_filters", "lobbyId": created.LobbyID, "filters": map[string]any{"authortimemax": 45}})
	expectError(t, guest, protocol.CodeNotHost)

	send(co, host, map[string]any{"type": "set_filters", "lobbyId": created.LobbyID, "filters": map[string]any{"authortimemax": 45}})
	upd := recv[protocol.FiltersUpdated](t, guest)
	require.NotNil(t, upd.Filters.AuthorTimeMax)
	assert.Equal(t, 45, *upd.Filters.AuthorTimeMax)
}

func TestStartGameAssignsBothColors(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	require.NotEmpty(t, sid)

	// White is on the move; black is not.
	send(co, black, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	expectError(t, black, protocol.CodeNotYourTurn)

	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	mv := recv[protocol.Moved](t, white)
	assert.Equal(t, "e4", mv.SAN)
	assert.Equal(t, "b", mv.Turn)
	mv2 := recv[protocol.Moved](t, black)
	assert.Equal(t, mv.FEN, mv2.FEN)
}

func TestIllegalMoveRejected(t *testing.T) {
	co := newTestCoordinator()
	white, _, sid := startPair(t, co, ModeCapture)

	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e5"})
	expectError(t, white, protocol.CodeIllegalMove)
}

func TestCaptureOpensDuelWithoutMutatingBoard(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)

	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	send(co, black, map[string]any{"type": "move", "sessionId": sid, "from": "d7", "to": "d5"})
	drain(white)
	drain(black)
	fenBefore := co.store.sessions[sid].Game.FEN()

	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e4", "to": "d5"})

	// The capture attempt produces exactly one challenge per seat and
	// nothing else: no moved broadcast, no board mutation.
	wmsgs := collect(white)
	require.Len(t, wmsgs, 1)
	wch, ok := wmsgs[0].(protocol.RaceChallenge)
	require.True(t, ok)
	bmsgs := collect(black)
	require.Len(t, bmsgs, 1)
	bch, ok := bmsgs[0].(protocol.RaceChallenge)
	require.True(t, ok)
	assert.False(t, wch.IsDefender)
	assert.True(t, bch.IsDefender)
	assert.Equal(t, "d5", wch.To)
	assert.Equal(t, 111, wch.MapUID)
	assert.Equal(t, fenBefore, co.store.sessions[sid].Game.FEN())

	// Further moves are shut out until the duel resolves.
	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "d2", "to": "d4"})
	expectError(t, white, protocol.CodeChallengePending)
	assert.Equal(t, fenBefore, co.store.sessions[sid].Game.FEN())
}

func TestDuelFasterAttackerCaptures(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, black, map[string]any{"type": "race_result", "sessionId": sid, "time": 1200})
	finished := recv[protocol.RaceDefenderFinished](t, white)
	assert.Equal(t, 1200, finished.Time)

	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 900})
	res := recv[protocol.RaceResult](t, white)
	assert.True(t, res.CaptureSucceeded)
	assert.Equal(t, "b", res.Turn)
	res2 := recv[protocol.RaceResult](t, black)
	assert.Equal(t, res.FEN, res2.FEN)
}

func TestDuelSlowerAttackerFails(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 1200})
	send(co, black, map[string]any{"type": "race_result", "sessionId": sid, "time": 900})

	res := recv[protocol.RaceResult](t, white)
	assert.False(t, res.CaptureSucceeded)
	// Move never landed: still white to play.
	assert.Equal(t, "w", res.Turn)
}

func TestDuelTieGoesToDefender(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 1000})
	send(co, black, map[string]any{"type": "race_result", "sessionId": sid, "time": 1000})

	res := recv[protocol.RaceResult](t, white)
	assert.False(t, res.CaptureSucceeded)
}

func TestDuelRetireNeverWins(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, black, map[string]any{"type": "race_result", "sessionId": sid, "time": 300000})
	send(co, white, map[string]any{"type": "race_retire", "sessionId": sid})

	res := recv[protocol.RaceResult](t, white)
	assert.False(t, res.CaptureSucceeded)
	assert.Equal(t, "w", res.Turn)
}

func TestDuelDuplicateSubmission(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 900})
	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 800})
	expectError(t, white, protocol.CodeDuplicateResult)
}

func TestRerollReplacesDuelMap(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "reroll_request", "sessionId": sid})
	recv[protocol.OfferNotice](t, white) // reroll_sent
	req := recv[protocol.OfferNotice](t, black)
	assert.Equal(t, "reroll_request", req.Type)

	send(co, black, map[string]any{"type": "reroll_response", "sessionId": sid, "accept": true})
	approved := recv[protocol.RerollApproved](t, white)
	assert.Equal(t, 111, approved.MapUID)
	approved2 := recv[protocol.RerollApproved](t, black)
	assert.Equal(t, approved.MapUID, approved2.MapUID)
}

func TestRerollDeclined(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "reroll_request", "sessionId": sid})
	drain(white)
	drain(black)
	send(co, black, map[string]any{"type": "reroll_response", "sessionId": sid, "accept": false})
	decl := recv[protocol.OfferNotice](t, white)
	assert.Equal(t, "reroll_declined", decl.Type)
}

func TestResignEndsSession(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)

	send(co, white, map[string]any{"type": "resign", "sessionId": sid})
	over := recv[protocol.GameOver](t, black)
	assert.Equal(t, "resign", over.Reason)
	assert.Equal(t, "black", over.Winner)

	send(co, white, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	expectError(t, white, protocol.CodeSessionNotFound)
}

func TestRematchAfterFinishedSession(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)

	send(co, white, map[string]any{"type": "resign", "sessionId": sid})
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "new_game", "sessionId": sid})
	sent := recv[protocol.OfferNotice](t, white)
	assert.Equal(t, "rematch_sent", sent.Type)
	req := recv[protocol.OfferNotice](t, black)
	assert.Equal(t, "rematch_request", req.Type)
	assert.Equal(t, white.ID.String(), req.FromID)

	// Re-asking for the same session is refused.
	send(co, white, map[string]any{"type": "new_game", "sessionId": sid})
	expectError(t, white, protocol.CodeAlreadySent)

	send(co, black, map[string]any{"type": "rematch_response", "sessionId": sid, "accept": true})
	ws := recv[protocol.SessionStart](t, white)
	bs := recv[protocol.SessionStart](t, black)
	require.Equal(t, ws.SessionID, bs.SessionID)
	assert.NotEqual(t, sid, ws.SessionID)
}

func TestRematchDeclined(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)

	send(co, white, map[string]any{"type": "resign", "sessionId": sid})
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "new_game", "sessionId": sid})
	drain(white)
	drain(black)
	send(co, black, map[string]any{"type": "rematch_response", "sessionId": sid, "accept": false})
	decl := recv[protocol.OfferNotice](t, white)
	assert.Equal(t, "rematch_declined", decl.Type)

	// The offer is spent; answering again finds nothing.
	send(co, black, map[string]any{"type": "rematch_response", "sessionId": sid, "accept": true})
	expectError(t, black, protocol.CodeNoSuchOffer)
}

func TestDisconnectScoresAndCleansUp(t *testing.T) {
	co := newTestCoordinator()
	white, black, sid := startPair(t, co, ModeCapture)

	co.Disconnect(white)
	over := recv[protocol.GameOver](t, black)
	assert.Equal(t, "disconnect", over.Reason)
	assert.Equal(t, "black", over.Winner)
	assert.False(t, co.IsKnown(white.ID))

	send(co, black, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	expectError(t, black, protocol.CodeSessionNotFound)

	// The disconnect severed the last-opponent link too.
	send(co, black, map[string]any{"type": "new_game", "sessionId": sid})
	expectError(t, black, protocol.CodeSessionNotFound)
}

func TestPracticeSoloPlaysBothSides(t *testing.T) {
	co := newTestCoordinator()
	solo := registered(co)

	send(co, solo, map[string]any{"type": "create_lobby", "playerName": "carol", "mode": ModePractice})
	created := recv[protocol.LobbyCreated](t, solo)
	send(co, solo, map[string]any{"type": "start_game", "lobbyId": created.LobbyID})
	start := recv[protocol.SessionStart](t, solo)
	assert.Empty(t, start.OpponentID)
	sid := start.SessionID
	drain(solo)

	send(co, solo, map[string]any{"type": "move", "sessionId": sid, "from": "e2", "to": "e4"})
	recv[protocol.Moved](t, solo)
	send(co, solo, map[string]any{"type": "move", "sessionId": sid, "from": "d7", "to": "d5"})
	recv[protocol.Moved](t, solo)

	// Captures apply directly: nobody to duel.
	send(co, solo, map[string]any{"type": "move", "sessionId": sid, "from": "e4", "to": "d5"})
	mv := recv[protocol.Moved](t, solo)
	assert.Equal(t, "exd5", mv.SAN)
}

func TestSquareModePreassignsAssets(t *testing.T) {
	co := newTestCoordinator()
	host := registered(co)
	guest := registered(co)

	send(co, host, map[string]any{"type": "create_lobby", "mode": ModeSquare, "mappackId": 42})
	created := recv[protocol.LobbyCreated](t, host)
	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID})
	send(co, host, map[string]any{"type": "start_game", "lobbyId": created.LobbyID})

	start := recv[protocol.SessionStart](t, host)
	assert.Equal(t, ModeSquare, start.Mode)
	assert.Equal(t, 42, start.MappackID)
	require.Len(t, start.Assets, 64)
	// Positional wrap over the 8-track stub pack: a1 and a2 share 0/8.
	assert.Equal(t, start.Assets["a1"], start.Assets["a2"])
}

func TestSquareModePackFailureFallsBack(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	co := NewCoordinator(rules.NewEngine(), &stubAssets{packErr: true}, log)

	host := registered(co)
	guest := registered(co)
	send(co, host, map[string]any{"type": "create_lobby", "mode": ModeSquare})
	created := recv[protocol.LobbyCreated](t, host)
	send(co, guest, map[string]any{"type": "join_lobby", "lobbyId": created.LobbyID})
	send(co, host, map[string]any{"type": "start_game", "lobbyId": created.LobbyID})

	// Pre-assignment failed; the session still starts, drawing on demand.
	start := recv[protocol.SessionStart](t, host)
	assert.Nil(t, start.Assets)
}

// gatedAssets parks Lookup on demand so tests can observe the session
// while a catalog call is outstanding.
type gatedAssets struct {
	stubAssets
	gate    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAssets) Lookup(ctx context.Context, f catalog.Filters) catalog.Map {
	if g.gate.Load() {
		g.entered <- struct{}{}
		<-g.release
		return catalog.Map{UID: 222, Name: "Gated Track"}
	}
	return g.stubAssets.Lookup(ctx, f)
}

func TestBusySessionRejectsMutations(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	assets := &gatedAssets{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	co := NewCoordinator(rules.NewEngine(), assets, log)

	white, black, sid := startPair(t, co, ModeCapture)
	reachCapture(t, co, white, black, sid)
	drain(white)
	drain(black)

	send(co, white, map[string]any{"type": "reroll_request", "sessionId": sid})
	drain(white)
	drain(black)

	// Park the accept's re-draw mid-flight.
	assets.gate.Store(true)
	done := make(chan struct{})
	go func() {
		send(co, black, map[string]any{"type": "reroll_response", "sessionId": sid, "accept": true})
		close(done)
	}()
	<-assets.entered

	// Same-session mutations are refused while the lookup is out.
	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 900})
	expectError(t, white, protocol.CodeSessionBusy)
	send(co, black, map[string]any{"type": "race_retire", "sessionId": sid})
	expectError(t, black, protocol.CodeSessionBusy)
	send(co, white, map[string]any{"type": "resign", "sessionId": sid})
	expectError(t, white, protocol.CodeSessionBusy)
	send(co, white, map[string]any{"type": "new_game", "sessionId": sid})
	expectError(t, white, protocol.CodeSessionBusy)

	close(assets.release)
	<-done

	approved := recv[protocol.RerollApproved](t, white)
	assert.Equal(t, 222, approved.MapUID)

	// The duel survived untouched and resolves normally afterwards.
	send(co, white, map[string]any{"type": "race_result", "sessionId": sid, "time": 900})
	send(co, black, map[string]any{"type": "race_result", "sessionId": sid, "time": 1200})
	res := recv[protocol.RaceResult](t, white)
	assert.True(t, res.CaptureSucceeded)
}

func TestCreateLobbyHashFailure(t *testing.T) {
	orig := hashLobbyPassword
	hashLobbyPassword = func(string) (string, error) {
		return "", errors.New("entropy exhausted")
	}
	defer func() { hashLobbyPassword = orig }()

	co := newTestCoordinator()
	c := registered(co)
	send(co, c, map[string]any{"type": "create_lobby", "password": "hunter2"})
	expectError(t, c, protocol.CodeInternal)

	// Nothing half-created.
	send(co, c, map[string]any{"type": "list_lobbies"})
	list := recv[protocol.LobbyList](t, c)
	assert.Empty(t, list.Lobbies)
}

func TestUnknownTypeAndBadJSON(t *testing.T) {
	co := newTestCoordinator()
	c := registered(co)

	co.Dispatch(c, []byte("{not json"))
	expectError(t, c, protocol.CodeBadJSON)

	send(co, c, map[string]any{"type": "warp_drive"})
	expectError(t, c, protocol.CodeUnknownType)
}
