package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/player"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
)

// State represents the connection state.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PlayerStore persists player records between sessions.
type PlayerStore interface {
	LoadPlayer(id uuid.UUID) (*storage.PlayerData, error)
	SavePlayer(d *storage.PlayerData) error
}

// Connection manages a single client connection through the protocol state machine.
type Connection struct {
	conn   net.Conn
	rw     io.ReadWriter
	cfg    *config.Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	world  *world.World
	store  PlayerStore

	mu       sync.Mutex
	state    State
	protocol int32

	// Player management
	players *player.Manager
	self    *player.Player
	view    *world.ViewerSet

	// Background loops started by the join sequence.
	loops sync.WaitGroup

	// KeepAlive tracking
	lastKeepAliveID   int64
	lastKeepAliveSent time.Time
	keepAliveAcked    bool
	teleportID        int32
}

// NewConnection creates a new Connection from a raw TCP connection. store may
// be nil, in which case players always spawn fresh.
func NewConnection(ctx context.Context, conn net.Conn, cfg *config.Config, log *slog.Logger, w *world.World, players *player.Manager, store PlayerStore) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	return &Connection{
		conn:           conn,
		rw:             conn,
		cfg:            cfg,
		log:            log.With("addr", conn.RemoteAddr().String()),
		ctx:            ctx,
		cancel:         cancel,
		state:          StateHandshake,
		world:          w,
		store:          store,
		players:        players,
		keepAliveAcked: true,
	}
}

// Handle runs the connection lifecycle. It reads packets and dispatches
// them to the appropriate state handler until the connection closes.
func (c *Connection) Handle() {
	defer c.close()
	defer c.recoverPanic("handle")

	stop := context.AfterFunc(c.ctx, func() { c.conn.Close() })
	defer stop()

	c.log.Info("connection accepted")

	for {
		if err := c.handleNextPacket(); err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Error("handling packet", "state", c.state, "error", err)
			return
		}
	}
}

func (c *Connection) handleNextPacket() error {
	packetID, data, err := mcnet.ReadRawPacket(c.rw)
	if err != nil {
		return err
	}

	switch c.state {
	case StateHandshake:
		return c.handleHandshake(packetID, data)
	case StateStatus:
		return c.handleStatus(packetID, data)
	case StateLogin:
		return c.handleLogin(packetID, data)
	case StatePlay:
		return c.handlePlay(packetID, data)
	default:
		return fmt.Errorf("unknown state: %d", c.state)
	}
}

// writePacket writes a packet to the connection under the write lock.
func (c *Connection) writePacket(p mcnet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return mcnet.WritePacket(c.rw, p)
}

// disconnect closes the connection.
func (c *Connection) disconnect(reason string) {
	c.log.Info("disconnecting", "reason", reason)
	c.cancel()
}

// close stops the background loops, then releases the player's chunks and
// saves the player.
func (c *Connection) close() {
	c.cancel()
	c.conn.Close()
	c.loops.Wait()

	if c.view != nil {
		c.world.Detach(c.view)
	}
	if c.self != nil {
		c.players.Remove(c.self)
		if c.store != nil {
			if err := c.store.SavePlayer(c.self.Data()); err != nil {
				c.log.Error("save player", "error", err)
			}
		}
	}
	c.log.Info("connection closed")
}

// recoverPanic reports a panic in one of the connection's goroutines to
// sentry and drops the connection.
func (c *Connection) recoverPanic(where string) {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error("connection panic", "in", where, "panic", r)

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("addr", c.conn.RemoteAddr().String())
		scope.SetTag("goroutine", where)
		if c.self != nil {
			scope.SetTag("player", c.self.Username)
		}
	})
	hub.Recover(r)
	hub.Flush(2 * time.Second)
	c.cancel()
}
