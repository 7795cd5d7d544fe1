package packet

// LoginStart carries the joining player's name (serverbound 0x00, login).
type LoginStart struct {
	Name string `mc:"string"`
}

func (LoginStart) PacketID() int32 { return 0x00 }

// LoginDisconnect rejects a login with a JSON chat reason (clientbound 0x00, login).
type LoginDisconnect struct {
	Reason string `mc:"string"`
}

func (LoginDisconnect) PacketID() int32 { return 0x00 }

// LoginSuccess switches the connection to play (clientbound 0x02, login).
// UUID is the hyphenated string form.
type LoginSuccess struct {
	UUID     string `mc:"string"`
	Username string `mc:"string"`
}

func (LoginSuccess) PacketID() int32 { return 0x02 }
