package player

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
)

// Manager tracks all connected players.
type Manager struct {
	mu              sync.RWMutex
	players         map[int32]*Player   // entityID → Player
	byUUID          map[uuid.UUID]int32 // UUID → entityID
	nextEntityID    atomic.Int32
	maxViewDistance int
}

// NewManager creates a new player manager. maxViewDistance caps the view
// distance clients may request, in chunks.
func NewManager(maxViewDistance int) *Manager {
	return &Manager{
		players:         make(map[int32]*Player),
		byUUID:          make(map[uuid.UUID]int32),
		maxViewDistance: maxViewDistance,
	}
}

// AllocateEntityID returns the next unique entity ID.
func (m *Manager) AllocateEntityID() int32 {
	return m.nextEntityID.Add(1)
}

func (m *Manager) MaxViewDistance() int {
	return m.maxViewDistance
}

// Add registers a player and announces it to everyone else.
func (m *Manager) Add(p *Player) {
	m.mu.Lock()
	m.players[p.EntityID] = p
	m.byUUID[p.UUID] = p.EntityID
	m.mu.Unlock()

	m.BroadcastExcept(SystemMessage(p.Username+" joined the game"), p.EntityID)
}

// Remove unregisters a player and announces its departure.
func (m *Manager) Remove(p *Player) {
	m.mu.Lock()
	delete(m.players, p.EntityID)
	delete(m.byUUID, p.UUID)
	m.mu.Unlock()

	m.Broadcast(SystemMessage(p.Username + " left the game"))
}

// Broadcast sends a packet to all connected players.
func (m *Manager) Broadcast(p mcnet.Packet) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pl := range m.players {
		_ = pl.WritePacket(p)
	}
}

// BroadcastExcept sends a packet to all players except the one with excludeEntityID.
func (m *Manager) BroadcastExcept(p mcnet.Packet, excludeEntityID int32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pl := range m.players {
		if pl.EntityID != excludeEntityID {
			_ = pl.WritePacket(p)
		}
	}
}

// PlayerCount returns the number of connected players.
func (m *Manager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// GetByEntityID returns the player with the given entity ID, or nil.
func (m *Manager) GetByEntityID(entityID int32) *Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[entityID]
}

// GetByUUID returns the player with the given UUID, or nil.
func (m *Manager) GetByUUID(id uuid.UUID) *Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eid, ok := m.byUUID[id]
	if !ok {
		return nil
	}
	return m.players[eid]
}

// GetByName returns the player with the given username (case-insensitive), or nil.
func (m *Manager) GetByName(name string) *Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if strings.EqualFold(p.Username, name) {
			return p
		}
	}
	return nil
}

// ForEach calls fn for every connected player under a read lock.
func (m *Manager) ForEach(fn func(*Player)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		fn(p)
	}
}

// SystemMessage builds a yellow chat-box message.
func SystemMessage(text string) *packet.ChatMessage {
	data, _ := json.Marshal(struct {
		Text  string `json:"text"`
		Color string `json:"color"`
	}{text, "yellow"})
	return &packet.ChatMessage{JSONData: string(data)}
}
