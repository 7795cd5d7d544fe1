package packet

// ProtocolVersion is the only client protocol the server accepts for login.
const ProtocolVersion = 340

// Handshake NextState values.
const (
	NextStateStatus int32 = 1
	NextStateLogin  int32 = 2
)

// Handshake opens every connection (serverbound 0x00).
type Handshake struct {
	ProtocolVersion int32  `mc:"varint"`
	ServerAddress   string `mc:"string"`
	ServerPort      uint16 `mc:"u16"`
	NextState       int32  `mc:"varint"`
}

func (Handshake) PacketID() int32 { return 0x00 }

// StatusRequest asks for the server list entry (serverbound 0x00, status).
type StatusRequest struct{}

func (StatusRequest) PacketID() int32 { return 0x00 }

// StatusResponse carries the server list JSON (clientbound 0x00, status).
type StatusResponse struct {
	JSONResponse string `mc:"string"`
}

func (StatusResponse) PacketID() int32 { return 0x00 }

// StatusPing and StatusPong share a payload the server echoes back (0x01, status).
type StatusPing struct {
	Payload int64 `mc:"i64"`
}

func (StatusPing) PacketID() int32 { return 0x01 }

type StatusPong struct {
	Payload int64 `mc:"i64"`
}

func (StatusPong) PacketID() int32 { return 0x01 }
