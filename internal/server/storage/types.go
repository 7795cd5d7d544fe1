package storage

// PlayerData is the persisted state of a player.
type PlayerData struct {
	UUID     string       `json:"uuid"`
	Username string       `json:"username"`
	Position PositionData `json:"position"`
	GameMode uint8        `json:"gamemode"`
}

// PositionData holds a player's world position and orientation.
type PositionData struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// WorldData holds world-level metadata.
type WorldData struct {
	Seed      int64 `json:"seed"`
	Age       int64 `json:"age"`
	TimeOfDay int64 `json:"time_of_day"`
}
