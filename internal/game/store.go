package game

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store is the single explicit home of all coordinator state: the
// client arena plus every registry keyed by id. It is empty at process
// start and torn down only by process exit. All access goes through
// the Coordinator, which serializes message handling under mu.
type Store struct {
	mu sync.Mutex

	clients       map[uuid.UUID]*Client
	lobbies       map[string]*Lobby
	sessions      map[string]*Session
	challenges    map[string]*Challenge // session id -> pending challenge
	rematchOffers map[uuid.UUID]*Offer  // requester id -> offer
	rerollOffers  map[uuid.UUID]*Offer
	lastOpponents map[uuid.UUID]uuid.UUID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		clients:       make(map[uuid.UUID]*Client),
		lobbies:       make(map[string]*Lobby),
		sessions:      make(map[string]*Session),
		challenges:    make(map[string]*Challenge),
		rematchOffers: make(map[uuid.UUID]*Offer),
		rerollOffers:  make(map[uuid.UUID]*Offer),
		lastOpponents: make(map[uuid.UUID]uuid.UUID),
	}
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomCode(n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// newLobbyCode picks an unused human-shareable lobby code. Assumes the
// store lock is held.
func (s *Store) newLobbyCode() string {
	for {
		code := strings.ToUpper(randomCode(6))
		if _, taken := s.lobbies[code]; !taken {
			return code
		}
	}
}

// newSessionID picks an unused session id. Assumes the store lock is held.
func (s *Store) newSessionID() string {
	for {
		id := randomCode(7)
		if _, taken := s.sessions[id]; !taken {
			return id
		}
	}
}

// squareName maps a board position (0..63, a1=0, h8=63) to algebraic
// notation.
func squareName(position int) string {
	return string([]byte{byte('a' + position%8), byte('1' + position/8)})
}
