package player

import (
	"crypto/md5"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// MinViewDistance is the smallest view distance a client may request.
const MinViewDistance = 2

// Player represents a connected player. It is the world.Viewer of the
// player's chunk stream.
type Player struct {
	mu       sync.RWMutex
	EntityID int32
	UUID     uuid.UUID
	Username string

	pos          mgl64.Vec3
	yaw, pitch   float32
	onGround     bool
	gameMode     uint8
	viewDistance int

	WritePacket func(mcnet.Packet) error
}

// NewPlayer creates a Player standing at spawn with the given view distance.
func NewPlayer(entityID int32, id uuid.UUID, username string, spawn mgl64.Vec3, viewDistance int, writePacket func(mcnet.Packet) error) *Player {
	return &Player{
		EntityID:     entityID,
		UUID:         id,
		Username:     username,
		pos:          spawn,
		viewDistance: viewDistance,
		WritePacket:  writePacket,
	}
}

// OfflineUUID derives the version 3 UUID of an unauthenticated player from
// the MD5 of "OfflinePlayer:<name>".
func OfflineUUID(username string) uuid.UUID {
	h := md5.Sum([]byte("OfflinePlayer:" + username))
	h[6] = h[6]&0x0f | 0x30
	h[8] = h[8]&0x3f | 0x80
	return uuid.UUID(h)
}

// SendPacket writes pk to the player's connection.
func (p *Player) SendPacket(pk mcnet.Packet) error {
	return p.WritePacket(pk)
}

// Position returns the player's feet position.
func (p *Player) Position() mgl64.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos
}

// Look returns the player's yaw and pitch in degrees.
func (p *Player) Look() (yaw, pitch float32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.yaw, p.pitch
}

func (p *Player) OnGround() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.onGround
}

// SetPosition moves the player and sets its look direction.
func (p *Player) SetPosition(pos mgl64.Vec3, yaw, pitch float32, onGround bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.yaw, p.pitch = yaw, pitch
	p.onGround = onGround
}

// Move updates only the player's position.
func (p *Player) Move(pos mgl64.Vec3, onGround bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.onGround = onGround
}

// UpdateLook updates only the player's look direction.
func (p *Player) UpdateLook(yaw, pitch float32, onGround bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yaw, p.pitch = yaw, pitch
	p.onGround = onGround
}

// ChunkPos returns the column the player stands in.
func (p *Player) ChunkPos() chunk.Pos {
	pos := p.Position()
	return chunk.PosOf(int(math.Floor(pos[0])), int(math.Floor(pos[2])))
}

func (p *Player) ViewDistance() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewDistance
}

// SetViewDistance stores the distance the client asked for, clamped to
// MinViewDistance and limit. It returns the stored value.
func (p *Player) SetViewDistance(requested, limit int) int {
	d := min(max(requested, MinViewDistance), limit)
	p.mu.Lock()
	p.viewDistance = d
	p.mu.Unlock()
	return d
}

func (p *Player) GameMode() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gameMode
}

func (p *Player) SetGameMode(mode uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gameMode = mode
}

// Data returns the persistent record of the player.
func (p *Player) Data() *storage.PlayerData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &storage.PlayerData{
		UUID:     p.UUID.String(),
		Username: p.Username,
		Position: storage.PositionData{
			X:     p.pos[0],
			Y:     p.pos[1],
			Z:     p.pos[2],
			Yaw:   p.yaw,
			Pitch: p.pitch,
		},
		GameMode: p.gameMode,
	}
}

// Restore applies a saved record to the player.
func (p *Player) Restore(d *storage.PlayerData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = mgl64.Vec3{d.Position.X, d.Position.Y, d.Position.Z}
	p.yaw, p.pitch = d.Position.Yaw, d.Position.Pitch
	p.gameMode = d.GameMode
}
