package player

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
)

// packetCollector records packets sent to a player.
type packetCollector struct {
	mu      sync.Mutex
	packets []mcnet.Packet
}

func (pc *packetCollector) writePacket(p mcnet.Packet) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.packets = append(pc.packets, p)
	return nil
}

func (pc *packetCollector) get() []mcnet.Packet {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	cp := make([]mcnet.Packet, len(pc.packets))
	copy(cp, pc.packets)
	return cp
}

func (pc *packetCollector) reset() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.packets = nil
}

func (pc *packetCollector) countByType(id int32) int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	n := 0
	for _, p := range pc.packets {
		if p.PacketID() == id {
			n++
		}
	}
	return n
}

func newTestPlayer(m *Manager, name string, x, z float64) (*Player, *packetCollector) {
	pc := &packetCollector{}
	p := NewPlayer(m.AllocateEntityID(), OfflineUUID(name), name, mgl64.Vec3{x, 4, z}, 8, pc.writePacket)
	return p, pc
}

func TestAllocateEntityID(t *testing.T) {
	m := NewManager(8)
	id1 := m.AllocateEntityID()
	id2 := m.AllocateEntityID()
	id3 := m.AllocateEntityID()
	if id1 != 1 || id2 != 2 || id3 != 3 {
		t.Errorf("expected 1,2,3 got %d,%d,%d", id1, id2, id3)
	}
}

func TestAddRemovePlayer(t *testing.T) {
	m := NewManager(8)
	p1, _ := newTestPlayer(m, "alice", 0, 0)
	p2, _ := newTestPlayer(m, "bob", 0, 0)

	m.Add(p1)
	if m.PlayerCount() != 1 {
		t.Errorf("expected 1, got %d", m.PlayerCount())
	}

	m.Add(p2)
	if m.PlayerCount() != 2 {
		t.Errorf("expected 2, got %d", m.PlayerCount())
	}

	m.Remove(p1)
	if m.PlayerCount() != 1 {
		t.Errorf("expected 1, got %d", m.PlayerCount())
	}
	if m.GetByUUID(p1.UUID) != nil {
		t.Error("removed player still found by UUID")
	}

	m.Remove(p2)
	if m.PlayerCount() != 0 {
		t.Errorf("expected 0, got %d", m.PlayerCount())
	}
}

func TestLookup(t *testing.T) {
	m := NewManager(8)
	p, _ := newTestPlayer(m, "Steve", 0, 0)
	m.Add(p)

	if got := m.GetByEntityID(p.EntityID); got != p {
		t.Errorf("GetByEntityID = %v, want %v", got, p)
	}
	if got := m.GetByUUID(OfflineUUID("Steve")); got != p {
		t.Errorf("GetByUUID = %v, want %v", got, p)
	}
	if got := m.GetByName("steve"); got != p {
		t.Errorf("GetByName = %v, want %v", got, p)
	}
	if got := m.GetByName("alex"); got != nil {
		t.Errorf("GetByName(alex) = %v, want nil", got)
	}
}

func TestJoinAnnouncement(t *testing.T) {
	m := NewManager(8)
	p1, pc1 := newTestPlayer(m, "alice", 0, 0)
	p2, pc2 := newTestPlayer(m, "bob", 0, 0)

	m.Add(p1)
	m.Add(p2)

	chat := packet.ChatMessage{}.PacketID()
	if n := pc1.countByType(chat); n != 1 {
		t.Errorf("p1 got %d chat messages, want 1", n)
	}
	if n := pc2.countByType(chat); n != 0 {
		t.Errorf("joining player got %d chat messages, want 0", n)
	}

	pc2.reset()
	m.Remove(p1)
	if n := pc2.countByType(chat); n != 1 {
		t.Errorf("p2 got %d chat messages on leave, want 1", n)
	}
}

func TestBroadcast(t *testing.T) {
	m := NewManager(8)
	p1, pc1 := newTestPlayer(m, "alice", 0, 0)
	p2, pc2 := newTestPlayer(m, "bob", 0, 0)

	m.Add(p1)
	m.Add(p2)

	pc1.reset()
	pc2.reset()

	m.Broadcast(&packet.ChatMessage{JSONData: `{"text":"hello"}`})

	if len(pc1.get()) != 1 {
		t.Errorf("p1 expected 1 packet, got %d", len(pc1.get()))
	}
	if len(pc2.get()) != 1 {
		t.Errorf("p2 expected 1 packet, got %d", len(pc2.get()))
	}
}

func TestBroadcastExcept(t *testing.T) {
	m := NewManager(8)
	p1, pc1 := newTestPlayer(m, "alice", 0, 0)
	p2, pc2 := newTestPlayer(m, "bob", 0, 0)

	m.Add(p1)
	m.Add(p2)

	pc1.reset()
	pc2.reset()

	m.BroadcastExcept(&packet.ChatMessage{JSONData: `{"text":"hello"}`}, p1.EntityID)

	if len(pc1.get()) != 0 {
		t.Errorf("p1 (excluded) expected 0 packets, got %d", len(pc1.get()))
	}
	if len(pc2.get()) != 1 {
		t.Errorf("p2 expected 1 packet, got %d", len(pc2.get()))
	}
}

func TestSystemMessage(t *testing.T) {
	got := SystemMessage(`say "hi"`).JSONData
	want := `{"text":"say \"hi\"","color":"yellow"}`
	if got != want {
		t.Errorf("SystemMessage = %s, want %s", got, want)
	}
}
