package network

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PeerRole describes why a remote address is known.
type PeerRole int

const (
	PeerOpponent PeerRole = iota
	PeerSpectator
)

var peerRoleStrings = map[PeerRole]string{
	PeerOpponent:  "opponent",
	PeerSpectator: "spectator",
}

func (r PeerRole) String() string {
	if s, ok := peerRoleStrings[r]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes PeerRole as a JSON string.
func (r PeerRole) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Peer is a remote endpoint taking part in a session.
type Peer struct {
	Addr     net.Addr  `json:"-"`
	Address  string    `json:"address"`
	Role     PeerRole  `json:"role"`
	Name     string    `json:"name,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// PeerRegistry tracks the opponent and spectators of a session by address.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]*Peer),
	}
}

// Register adds addr under role. It reports false if the address was
// already registered, in which case only LastSeen is refreshed.
func (r *PeerRegistry) Register(addr net.Addr, role PeerRole, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := addr.String()
	if existing, ok := r.peers[key]; ok {
		existing.LastSeen = now
		return false
	}

	r.peers[key] = &Peer{
		Addr:     addr,
		Address:  key,
		Role:     role,
		Name:     name,
		JoinedAt: now,
		LastSeen: now,
	}
	log.Debug().Str("peer", key).Str("role", role.String()).Msg("peer registered")
	return true
}

// Unregister removes addr. It reports whether it was present.
func (r *PeerRegistry) Unregister(addr net.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	if _, ok := r.peers[key]; !ok {
		return false
	}
	delete(r.peers, key)
	log.Debug().Str("peer", key).Msg("peer unregistered")
	return true
}

// Get returns a copy of the peer registered at addr.
func (r *PeerRegistry) Get(addr net.Addr) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[addr.String()]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Touch refreshes the LastSeen time of a known peer.
func (r *PeerRegistry) Touch(addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[addr.String()]; ok {
		p.LastSeen = time.Now()
	}
}

// ByRole returns the peers registered under role, oldest first.
func (r *PeerRegistry) ByRole(role PeerRole) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Peer
	for _, p := range r.peers {
		if p.Role == role {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Count returns the number of registered peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
