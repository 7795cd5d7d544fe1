package conn

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/player"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// placedState is the block put down by PlayerBlockPlacement: stone.
const placedState chunk.State = 1 << 4

func (c *Connection) startPlay(username string, id uuid.UUID) error {
	c.log = c.log.With("player", username)

	spawn := mgl64.Vec3{0.5, float64(c.world.SpawnHeight()), 0.5}
	p := player.NewPlayer(c.players.AllocateEntityID(), id, username, spawn, c.cfg.ViewDistance, c.writePacket)
	p.SetGameMode(packet.GameModeCreative)
	c.restorePlayer(p)
	c.self = p

	levelType := "default"
	if c.cfg.GeneratorType == "flat" {
		levelType = "flat"
	}

	// 1. Join Game
	if err := c.writePacket(&packet.JoinGame{
		EntityID:         p.EntityID,
		GameMode:         p.GameMode(),
		Dimension:        packet.DimensionOverworld,
		Difficulty:       packet.DifficultyEasy,
		MaxPlayers:       uint8(min(c.cfg.MaxPlayers, 255)),
		LevelType:        levelType,
		ReducedDebugInfo: false,
	}); err != nil {
		return fmt.Errorf("write join game: %w", err)
	}

	// 2. Spawn Position
	if err := c.writePacket(&packet.SpawnPosition{
		Location: mcnet.EncodePosition(int(spawn[0]), int(spawn[1]), int(spawn[2])),
	}); err != nil {
		return fmt.Errorf("write spawn position: %w", err)
	}

	// 3. Time
	age, timeOfDay := c.world.Time()
	if err := c.writePacket(&packet.TimeUpdate{WorldAge: age, TimeOfDay: timeOfDay}); err != nil {
		return fmt.Errorf("write time update: %w", err)
	}

	// 4. Chunks around the player, before it is placed in them.
	viewConf := c.cfg.ViewerConfig()
	viewConf.Log = c.log
	c.view = c.world.NewViewerSet(p, viewConf)
	c.stream()

	// 5. Player Position And Look
	pos := p.Position()
	yaw, pitch := p.Look()
	c.teleportID++
	if err := c.writePacket(&packet.PlayerPositionAndLook{
		X:          pos[0],
		Y:          pos[1],
		Z:          pos[2],
		Yaw:        yaw,
		Pitch:      pitch,
		Flags:      0x00, // all absolute
		TeleportID: c.teleportID,
	}); err != nil {
		return fmt.Errorf("write position and look: %w", err)
	}

	// 6. Announce and greet.
	c.players.Add(p)
	if err := c.writePacket(player.SystemMessage("Welcome, " + username)); err != nil {
		return fmt.Errorf("write chat message: %w", err)
	}

	// 7. Background loops
	c.loops.Add(2)
	go c.keepAliveLoop()
	go c.streamLoop()

	c.log.Info("join sequence complete", "entityID", p.EntityID, "viewDistance", p.ViewDistance())
	return nil
}

// restorePlayer applies the saved record of p, if any.
func (c *Connection) restorePlayer(p *player.Player) {
	if c.store == nil {
		return
	}
	d, err := c.store.LoadPlayer(p.UUID)
	switch {
	case err == nil:
		p.Restore(d)
	case errors.Is(err, storage.ErrNotFound):
	default:
		c.log.Warn("load player, spawning fresh", "error", err)
	}
}

func (c *Connection) handlePlay(packetID int32, data []byte) error {
	switch packetID {
	case packet.TeleportConfirm{}.PacketID():
		var pkt packet.TeleportConfirm
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal teleport confirm: %w", err)
		}
		c.log.Debug("teleport confirmed", "id", pkt.TeleportID)

	case packet.KeepAliveServerbound{}.PacketID():
		var pkt packet.KeepAliveServerbound
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal keep alive: %w", err)
		}
		c.mu.Lock()
		if pkt.KeepAliveID == c.lastKeepAliveID {
			c.keepAliveAcked = true
		}
		c.mu.Unlock()

	case packet.ChatMessageServerbound{}.PacketID():
		var pkt packet.ChatMessageServerbound
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal chat: %w", err)
		}
		c.log.Info("chat", "message", pkt.Message)
		c.players.Broadcast(chatMessage(c.self.Username, pkt.Message))

	case packet.ClientSettings{}.PacketID():
		var pkt packet.ClientSettings
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal client settings: %w", err)
		}
		d := c.self.SetViewDistance(int(pkt.ViewDistance), c.players.MaxViewDistance())
		c.log.Info("client settings", "locale", pkt.Locale, "requested", pkt.ViewDistance, "viewDistance", d)

	case packet.Player{}.PacketID():
		// heartbeat, ignore

	case packet.PlayerPosition{}.PacketID():
		var pkt packet.PlayerPosition
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal position: %w", err)
		}
		c.self.Move(mgl64.Vec3{pkt.X, pkt.FeetY, pkt.Z}, pkt.OnGround)

	case packet.PlayerPositionAndLookServerbound{}.PacketID():
		var pkt packet.PlayerPositionAndLookServerbound
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal position and look: %w", err)
		}
		c.self.SetPosition(mgl64.Vec3{pkt.X, pkt.FeetY, pkt.Z}, pkt.Yaw, pkt.Pitch, pkt.OnGround)

	case packet.PlayerLook{}.PacketID():
		var pkt packet.PlayerLook
		if err := mcnet.Unmarshal(data, &pkt); err != nil {
			return fmt.Errorf("unmarshal look: %w", err)
		}
		c.self.UpdateLook(pkt.Yaw, pkt.Pitch, pkt.OnGround)

	case packet.PlayerDigging{}.PacketID():
		return c.handleDigging(data)

	case packet.PlayerBlockPlacement{}.PacketID():
		return c.handleBlockPlacement(data)

	default:
		// ignore unknown packets silently
	}

	return nil
}

func (c *Connection) handleDigging(data []byte) error {
	var pkt packet.PlayerDigging
	if err := mcnet.Unmarshal(data, &pkt); err != nil {
		return fmt.Errorf("unmarshal digging: %w", err)
	}

	// In creative mode the client breaks instantly with DiggingStarted.
	if pkt.Status != packet.DiggingStarted && pkt.Status != packet.DiggingFinished {
		return nil
	}
	x, y, z := mcnet.DecodePosition(pkt.Location)
	c.setBlock(x, y, z, chunk.Air)
	return nil
}

func (c *Connection) handleBlockPlacement(data []byte) error {
	var pkt packet.PlayerBlockPlacement
	if err := mcnet.Unmarshal(data, &pkt); err != nil {
		return fmt.Errorf("unmarshal block placement: %w", err)
	}

	// Special position -1,-1,-1 means the player is using an item (not placing a block).
	if pkt.Location == -1 {
		return nil
	}

	x, y, z := mcnet.DecodePosition(pkt.Location)

	// Compute target position from face direction.
	switch pkt.Face {
	case 0: // -Y
		y--
	case 1: // +Y
		y++
	case 2: // -Z
		z--
	case 3: // +Z
		z++
	case 4: // -X
		x--
	case 5: // +X
		x++
	default:
		return nil
	}

	c.setBlock(x, y, z, placedState)
	return nil
}

// setBlock changes a block in the world. Edits outside loaded chunks or the
// build height are dropped.
func (c *Connection) setBlock(x, y, z int, state chunk.State) {
	err := c.world.SetBlock(x, y, z, state)
	switch {
	case err == nil:
	case errors.Is(err, world.ErrChunkNotLoaded), errors.Is(err, chunk.ErrOutOfRange):
		c.log.Debug("block edit dropped", "x", x, "y", y, "z", z, "error", err)
	default:
		c.log.Warn("set block", "x", x, "y", y, "z", z, "error", err)
	}
}

// chatMessage formats a player's chat line.
func chatMessage(username, message string) *packet.ChatMessage {
	data, _ := json.Marshal(struct {
		Translate string   `json:"translate"`
		With      []string `json:"with"`
	}{"chat.type.text", []string{username, message}})
	return &packet.ChatMessage{JSONData: string(data)}
}
