package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/player"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

// memStore keeps player records in memory.
type memStore struct {
	mu      sync.Mutex
	players map[uuid.UUID]storage.PlayerData
}

func newMemStore() *memStore {
	return &memStore{players: make(map[uuid.UUID]storage.PlayerData)}
}

func (s *memStore) LoadPlayer(id uuid.UUID) (*storage.PlayerData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, storage.ErrNotFound)
	}
	return &d, nil
}

func (s *memStore) SavePlayer(d *storage.PlayerData) error {
	id, err := uuid.Parse(d.UUID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[id] = *d
	return nil
}

type testServer struct {
	cfg     *config.Config
	log     *slog.Logger
	world   *world.World
	players *player.Manager
	store   PlayerStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GeneratorType = "flat"
	cfg.ViewDistance = 2
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := world.New(world.Config{
		Log:         log,
		Generator:   gen.NewFlatGenerator(0),
		Skylight:    true,
		SpawnRadius: cfg.Chunks.SpawnRadius,
	})
	return &testServer{
		cfg:     cfg,
		log:     log,
		world:   w,
		players: player.NewManager(6),
	}
}

// dial starts a connection handler on one end of a pipe and returns the
// client end and a channel closed when the handler returns.
func (s *testServer) dial(t *testing.T) (net.Conn, <-chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	c := NewConnection(context.Background(), server, s.cfg, s.log, s.world, s.players, s.store)
	done := make(chan struct{})
	go func() {
		c.Handle()
		close(done)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client, done
}

func send(t *testing.T, c net.Conn, p mcnet.Packet) {
	t.Helper()
	c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := mcnet.WritePacket(c, p); err != nil {
		t.Fatalf("write packet 0x%02X: %v", p.PacketID(), err)
	}
}

// readUntil reads frames until one with packet ID id arrives and decodes it
// into p. It returns the IDs of every frame read, the match included.
func readUntil(t *testing.T, c net.Conn, p mcnet.Packet) []int32 {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seen []int32
	for {
		id, data, err := mcnet.ReadRawPacket(c)
		if err != nil {
			t.Fatalf("waiting for packet 0x%02X after %x: %v", p.PacketID(), seen, err)
		}
		seen = append(seen, id)
		if id == p.PacketID() {
			if err := mcnet.Unmarshal(data, p); err != nil {
				t.Fatalf("unmarshal packet 0x%02X: %v", id, err)
			}
			return seen
		}
	}
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection handler did not return")
	}
}

// login runs the handshake and login and reads through the join sequence.
func login(t *testing.T, c net.Conn, name string) *packet.PlayerPositionAndLook {
	t.Helper()
	send(t, c, &packet.Handshake{
		ProtocolVersion: packet.ProtocolVersion,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		NextState:       packet.NextStateLogin,
	})
	send(t, c, &packet.LoginStart{Name: name})

	var success packet.LoginSuccess
	readUntil(t, c, &success)
	if want := player.OfflineUUID(name).String(); success.UUID != want {
		t.Errorf("login UUID = %s, want %s", success.UUID, want)
	}

	var pos packet.PlayerPositionAndLook
	readUntil(t, c, &pos)
	var welcome packet.ChatMessage
	readUntil(t, c, &welcome)
	return &pos
}

func indexOf(ids []int32, id int32) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	s.cfg.MOTD = "hello there"
	c, _ := s.dial(t)

	send(t, c, &packet.Handshake{ProtocolVersion: 47, NextState: packet.NextStateStatus})
	send(t, c, &packet.StatusRequest{})

	var resp packet.StatusResponse
	readUntil(t, c, &resp)
	var status statusResponse
	if err := json.Unmarshal([]byte(resp.JSONResponse), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Version.Protocol != packet.ProtocolVersion || status.Description.Text != "hello there" {
		t.Errorf("status = %+v", status)
	}

	send(t, c, &packet.StatusPing{Payload: 42})
	var pong packet.StatusPong
	readUntil(t, c, &pong)
	if pong.Payload != 42 {
		t.Errorf("pong payload = %d, want 42", pong.Payload)
	}
}

func TestLoginRejected(t *testing.T) {
	tests := []struct {
		name     string
		protocol int32
		max      int
		want     string
	}{
		{"old client", 47, 20, "Unsupported"},
		{"server full", packet.ProtocolVersion, 0, "full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.cfg.MaxPlayers = tt.max
			c, done := s.dial(t)

			send(t, c, &packet.Handshake{ProtocolVersion: tt.protocol, NextState: packet.NextStateLogin})
			send(t, c, &packet.LoginStart{Name: "alice"})

			var disc packet.LoginDisconnect
			readUntil(t, c, &disc)
			if !strings.Contains(disc.Reason, tt.want) {
				t.Errorf("reason = %s, want it to mention %q", disc.Reason, tt.want)
			}
			waitClosed(t, done)
			if s.players.PlayerCount() != 0 {
				t.Errorf("PlayerCount = %d, want 0", s.players.PlayerCount())
			}
		})
	}
}

func TestJoinSequence(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)

	send(t, c, &packet.Handshake{
		ProtocolVersion: packet.ProtocolVersion,
		ServerAddress:   "localhost",
		ServerPort:      25565,
		NextState:       packet.NextStateLogin,
	})
	send(t, c, &packet.LoginStart{Name: "alice"})
	readUntil(t, c, &packet.LoginSuccess{})

	var join packet.JoinGame
	readUntil(t, c, &join)
	if join.LevelType != "flat" {
		t.Errorf("level type = %q, want flat", join.LevelType)
	}

	var batch packet.ChunkBatch
	seen := readUntil(t, c, &batch)
	for _, id := range []int32{packet.SpawnPosition{}.PacketID(), packet.TimeUpdate{}.PacketID()} {
		if indexOf(seen, id) < 0 {
			t.Errorf("packet 0x%02X not sent before chunks", id)
		}
	}
	if batch.Count != 9 {
		t.Errorf("first batch has %d chunks, want 9", batch.Count)
	}

	var pos packet.PlayerPositionAndLook
	readUntil(t, c, &pos)
	// Flat terrain tops out at y=4.
	if pos.Y != 5 || pos.TeleportID != 1 {
		t.Errorf("spawn position = %+v, want y=5 teleport 1", pos)
	}
	readUntil(t, c, &packet.ChatMessage{})

	if s.players.PlayerCount() != 1 {
		t.Errorf("PlayerCount = %d, want 1", s.players.PlayerCount())
	}
}

func TestDigBroadcastsBlockChange(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)
	login(t, c, "alice")

	send(t, c, &packet.PlayerDigging{
		Status:   packet.DiggingFinished,
		Location: mcnet.EncodePosition(1, 4, 1),
		Face:     1,
	})
	var change packet.BlockChange
	readUntil(t, c, &change)
	if x, y, z := mcnet.DecodePosition(change.Location); x != 1 || y != 4 || z != 1 || change.BlockID != 0 {
		t.Errorf("block change %d at %d,%d,%d; want air at 1,4,1", change.BlockID, x, y, z)
	}
	if got, _ := s.world.Block(1, 4, 1); got != chunk.Air {
		t.Errorf("world block = %d, want air", got)
	}

	send(t, c, &packet.PlayerBlockPlacement{Location: mcnet.EncodePosition(1, 3, 1), Face: 1})
	readUntil(t, c, &change)
	if change.BlockID != int32(placedState) {
		t.Errorf("placed block id = %d, want %d", change.BlockID, placedState)
	}
	if got, _ := s.world.Block(1, 4, 1); got != placedState {
		t.Errorf("world block = %d, want %d", got, placedState)
	}
}

func TestClientSettingsWidenView(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)
	login(t, c, "alice")

	send(t, c, &packet.ClientSettings{Locale: "en_us", ViewDistance: 4})

	// The stream loop fills in the ring between the 3×3 and 5×5 squares.
	total := 0
	for total < 16 {
		var batch packet.ChunkBatch
		readUntil(t, c, &batch)
		total += int(batch.Count)
	}
	if total != 16 {
		t.Errorf("streamed %d new chunks, want 16", total)
	}

	send(t, c, &packet.ClientSettings{Locale: "en_us", ViewDistance: 32})
	send(t, c, &packet.ChatMessageServerbound{Message: "sync"})
	readUntil(t, c, &packet.ChatMessage{})
	if got := s.players.GetByName("alice").ViewDistance(); got != 6 {
		t.Errorf("ViewDistance = %d, want the server cap 6", got)
	}
}

func TestDisconnectReleasesChunksAndSaves(t *testing.T) {
	s := newTestServer(t)
	store := newMemStore()
	s.store = store

	c, done := s.dial(t)
	login(t, c, "alice")
	send(t, c, &packet.PlayerPosition{X: 20.5, FeetY: 10, Z: -7.5, OnGround: true})
	c.Close()
	waitClosed(t, done)

	if s.players.PlayerCount() != 0 {
		t.Errorf("PlayerCount = %d, want 0", s.players.PlayerCount())
	}
	for _, r := range s.world.Directory().Values() {
		if r.HasStrongRefs() {
			t.Errorf("chunk %v still has %d strong references", r.Pos(), r.StrongRefs())
		}
	}
	d, err := store.LoadPlayer(player.OfflineUUID("alice"))
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if d.Position.X != 20.5 || d.Position.Y != 10 || d.Position.Z != -7.5 {
		t.Errorf("saved position = %+v, want 20.5,10,-7.5", d.Position)
	}

	c2, _ := s.dial(t)
	pos := login(t, c2, "alice")
	if pos.X != 20.5 || pos.Y != 10 || pos.Z != -7.5 {
		t.Errorf("restored position = %v,%v,%v; want 20.5,10,-7.5", pos.X, pos.Y, pos.Z)
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)
	login(t, c, "alice")

	c2, done := s.dial(t)
	send(t, c2, &packet.Handshake{ProtocolVersion: packet.ProtocolVersion, NextState: packet.NextStateLogin})
	send(t, c2, &packet.LoginStart{Name: "alice"})
	var disc packet.LoginDisconnect
	readUntil(t, c2, &disc)
	if !strings.Contains(disc.Reason, "already") {
		t.Errorf("reason = %s", disc.Reason)
	}
	waitClosed(t, done)
}
