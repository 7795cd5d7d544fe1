package conn

import (
	"fmt"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
)

func (c *Connection) handleHandshake(packetID int32, data []byte) error {
	if packetID != (packet.Handshake{}).PacketID() {
		return fmt.Errorf("expected handshake packet 0x00, got 0x%02X", packetID)
	}

	var hs packet.Handshake
	if err := mcnet.Unmarshal(data, &hs); err != nil {
		return fmt.Errorf("unmarshal handshake: %w", err)
	}

	c.log.Info("handshake received",
		"protocol", hs.ProtocolVersion,
		"server", hs.ServerAddress,
		"port", hs.ServerPort,
		"nextState", hs.NextState,
	)

	c.protocol = hs.ProtocolVersion
	switch hs.NextState {
	case packet.NextStateStatus:
		c.state = StateStatus
	case packet.NextStateLogin:
		c.state = StateLogin
	default:
		return fmt.Errorf("invalid next state: %d", hs.NextState)
	}

	return nil
}
