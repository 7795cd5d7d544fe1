package conn

import (
	"encoding/json"
	"fmt"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
)

// versionName is reported in the server list.
const versionName = "1.12.2"

type statusResponse struct {
	Version     statusVersion `json:"version"`
	Players     statusPlayers `json:"players"`
	Description statusDesc    `json:"description"`
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type statusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

type statusDesc struct {
	Text string `json:"text"`
}

func (c *Connection) handleStatus(packetID int32, data []byte) error {
	switch packetID {
	case packet.StatusRequest{}.PacketID():
		resp := statusResponse{
			Version: statusVersion{
				Name:     versionName,
				Protocol: packet.ProtocolVersion,
			},
			Players: statusPlayers{
				Max:    c.cfg.MaxPlayers,
				Online: c.players.PlayerCount(),
			},
			Description: statusDesc{
				Text: c.cfg.MOTD,
			},
		}

		jsonBytes, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal status response: %w", err)
		}

		return c.writePacket(&packet.StatusResponse{
			JSONResponse: string(jsonBytes),
		})

	case packet.StatusPing{}.PacketID():
		var ping packet.StatusPing
		if err := mcnet.Unmarshal(data, &ping); err != nil {
			return fmt.Errorf("unmarshal ping: %w", err)
		}

		return c.writePacket(&packet.StatusPong{
			Payload: ping.Payload,
		})

	default:
		return fmt.Errorf("unexpected status packet 0x%02X", packetID)
	}
}
