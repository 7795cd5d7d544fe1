package conn

import (
	"encoding/json"
	"fmt"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/player"
)

func (c *Connection) handleLogin(packetID int32, data []byte) error {
	switch packetID {
	case packet.LoginStart{}.PacketID():
		return c.handleLoginStart(data)
	default:
		return fmt.Errorf("unexpected login packet 0x%02X", packetID)
	}
}

func (c *Connection) handleLoginStart(data []byte) error {
	var login packet.LoginStart
	if err := mcnet.Unmarshal(data, &login); err != nil {
		return fmt.Errorf("unmarshal login start: %w", err)
	}

	c.log.Info("login start", "username", login.Name)

	if c.protocol != packet.ProtocolVersion {
		c.log.Warn("unsupported protocol version", "version", c.protocol)
		return c.rejectLogin(fmt.Sprintf("Unsupported client, please use %s", versionName))
	}
	if c.players.PlayerCount() >= c.cfg.MaxPlayers {
		return c.rejectLogin("The server is full")
	}

	id := player.OfflineUUID(login.Name)
	if c.players.GetByUUID(id) != nil {
		return c.rejectLogin("You are already logged in")
	}

	c.log.Info("offline login success", "username", login.Name, "uuid", id)

	if err := c.writePacket(&packet.LoginSuccess{
		UUID:     id.String(),
		Username: login.Name,
	}); err != nil {
		return fmt.Errorf("write login success: %w", err)
	}

	c.state = StatePlay
	return c.startPlay(login.Name, id)
}

// rejectLogin sends LoginDisconnect and closes the connection.
func (c *Connection) rejectLogin(reason string) error {
	if err := c.writePacket(&packet.LoginDisconnect{Reason: chatText(reason)}); err != nil {
		return fmt.Errorf("write login disconnect: %w", err)
	}
	c.disconnect(reason)
	return nil
}

// chatText encodes plain text as a JSON chat component.
func chatText(text string) string {
	data, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	return string(data)
}
