package packet

const (
	GameModeSurvival  uint8 = 0
	GameModeCreative  uint8 = 1
	GameModeAdventure uint8 = 2
	GameModeSpectator uint8 = 3
)

const (
	DimensionNether    int32 = -1
	DimensionOverworld int32 = 0
	DimensionEnd       int32 = 1
)

const (
	DifficultyPeaceful uint8 = 0
	DifficultyEasy     uint8 = 1
	DifficultyNormal   uint8 = 2
	DifficultyHard     uint8 = 3
)

// JoinGame (clientbound 0x23).
type JoinGame struct {
	EntityID         int32  `mc:"i32"`
	GameMode         uint8  `mc:"u8"`
	Dimension        int32  `mc:"i32"`
	Difficulty       uint8  `mc:"u8"`
	MaxPlayers       uint8  `mc:"u8"`
	LevelType        string `mc:"string"`
	ReducedDebugInfo bool   `mc:"bool"`
}

func (JoinGame) PacketID() int32 { return 0x23 }

// SpawnPosition sets the compass target (clientbound 0x46).
type SpawnPosition struct {
	Location int64 `mc:"position"`
}

func (SpawnPosition) PacketID() int32 { return 0x46 }

// PlayerPositionAndLook teleports the client (clientbound 0x2F). The client
// answers with TeleportConfirm carrying TeleportID.
type PlayerPositionAndLook struct {
	X          float64 `mc:"f64"`
	Y          float64 `mc:"f64"`
	Z          float64 `mc:"f64"`
	Yaw        float32 `mc:"f32"`
	Pitch      float32 `mc:"f32"`
	Flags      int8    `mc:"i8"`
	TeleportID int32   `mc:"varint"`
}

func (PlayerPositionAndLook) PacketID() int32 { return 0x2F }

// KeepAlive (clientbound 0x1F).
type KeepAlive struct {
	KeepAliveID int64 `mc:"i64"`
}

func (KeepAlive) PacketID() int32 { return 0x1F }

// Disconnect closes a play connection with a JSON chat reason (clientbound 0x1A).
type Disconnect struct {
	Reason string `mc:"string"`
}

func (Disconnect) PacketID() int32 { return 0x1A }

// TimeUpdate (clientbound 0x47).
type TimeUpdate struct {
	WorldAge  int64 `mc:"i64"`
	TimeOfDay int64 `mc:"i64"`
}

func (TimeUpdate) PacketID() int32 { return 0x47 }

// ChatMessage (clientbound 0x0F). Position 0 is the chat box.
type ChatMessage struct {
	JSONData string `mc:"string"`
	Position int8   `mc:"i8"`
}

func (ChatMessage) PacketID() int32 { return 0x0F }

// BlockChange replaces one block on the client (clientbound 0x0B).
type BlockChange struct {
	Location int64 `mc:"position"`
	BlockID  int32 `mc:"varint"`
}

func (BlockChange) PacketID() int32 { return 0x0B }

// UnloadChunk tells the client to forget a column (clientbound 0x1D).
type UnloadChunk struct {
	ChunkX int32 `mc:"i32"`
	ChunkZ int32 `mc:"i32"`
}

func (UnloadChunk) PacketID() int32 { return 0x1D }

// ChunkBatch carries Count column payloads concatenated in Data
// (clientbound 0x20).
type ChunkBatch struct {
	Count int32  `mc:"varint"`
	Data  []byte `mc:"rest"`
}

func (ChunkBatch) PacketID() int32 { return 0x20 }
