package packet

// Serverbound play packets

// TeleportConfirm acknowledges a PlayerPositionAndLook (serverbound 0x00).
type TeleportConfirm struct {
	TeleportID int32 `mc:"varint"`
}

func (TeleportConfirm) PacketID() int32 { return 0x00 }

type ChatMessageServerbound struct {
	Message string `mc:"string"`
}

func (ChatMessageServerbound) PacketID() int32 { return 0x02 }

// ClientSettings (serverbound 0x04). ViewDistance is the client's requested
// radius in chunks.
type ClientSettings struct {
	Locale       string `mc:"string"`
	ViewDistance int8   `mc:"i8"`
	ChatMode     int32  `mc:"varint"`
	ChatColors   bool   `mc:"bool"`
	SkinParts    uint8  `mc:"u8"`
	MainHand     int32  `mc:"varint"`
}

func (ClientSettings) PacketID() int32 { return 0x04 }

type KeepAliveServerbound struct {
	KeepAliveID int64 `mc:"i64"`
}

func (KeepAliveServerbound) PacketID() int32 { return 0x0B }

// Player is the movement heartbeat (serverbound 0x0C).
type Player struct {
	OnGround bool `mc:"bool"`
}

func (Player) PacketID() int32 { return 0x0C }

type PlayerPosition struct {
	X        float64 `mc:"f64"`
	FeetY    float64 `mc:"f64"`
	Z        float64 `mc:"f64"`
	OnGround bool    `mc:"bool"`
}

func (PlayerPosition) PacketID() int32 { return 0x0D }

type PlayerPositionAndLookServerbound struct {
	X        float64 `mc:"f64"`
	FeetY    float64 `mc:"f64"`
	Z        float64 `mc:"f64"`
	Yaw      float32 `mc:"f32"`
	Pitch    float32 `mc:"f32"`
	OnGround bool    `mc:"bool"`
}

func (PlayerPositionAndLookServerbound) PacketID() int32 { return 0x0E }

type PlayerLook struct {
	Yaw      float32 `mc:"f32"`
	Pitch    float32 `mc:"f32"`
	OnGround bool    `mc:"bool"`
}

func (PlayerLook) PacketID() int32 { return 0x0F }

// PlayerDigging status values.
const (
	DiggingStarted   int32 = 0
	DiggingCancelled int32 = 1
	DiggingFinished  int32 = 2
)

// PlayerDigging (serverbound 0x14).
type PlayerDigging struct {
	Status   int32 `mc:"varint"`
	Location int64 `mc:"position"`
	Face     int8  `mc:"i8"`
}

func (PlayerDigging) PacketID() int32 { return 0x14 }

// PlayerBlockPlacement (serverbound 0x1F). Location is the clicked block;
// the new block goes on Face.
type PlayerBlockPlacement struct {
	Location int64   `mc:"position"`
	Face     int32   `mc:"varint"`
	Hand     int32   `mc:"varint"`
	CursorX  float32 `mc:"f32"`
	CursorY  float32 `mc:"f32"`
	CursorZ  float32 `mc:"f32"`
}

func (PlayerBlockPlacement) PacketID() int32 { return 0x1F }
