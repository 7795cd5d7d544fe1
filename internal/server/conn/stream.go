package conn

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
)

const (
	keepAliveInterval = 15 * time.Second
	keepAliveTimeout  = 30 * time.Second
)

// streamLoop keeps the player's chunk set in step with its position once per
// tick.
func (c *Connection) streamLoop() {
	defer c.loops.Done()
	defer c.recoverPanic("stream")

	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.stream()
		}
	}
}

// stream sends the chunks the player is missing and evicts the ones it has
// left behind.
func (c *Connection) stream() {
	d := c.self.ViewDistance()
	if err := c.view.Update(d); err != nil {
		c.reportStreamError(err)
	}
	if n := c.view.Clean(d); n > 0 {
		c.log.Debug("evicted chunks", "count", n, "known", c.view.Len())
	}
}

// reportStreamError logs a failed update. Columns that can never be sent are
// also reported to sentry.
func (c *Connection) reportStreamError(err error) {
	if c.ctx.Err() != nil {
		return
	}
	c.log.Warn("stream chunks", "error", err)

	var tooLarge *world.ColumnTooLargeError
	if errors.As(err, &tooLarge) {
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("player", c.self.Username)
			scope.SetTag("chunk", tooLarge.Pos.String())
		})
		hub.CaptureException(err)
	}
}

func (c *Connection) keepAliveLoop() {
	defer c.loops.Done()
	defer c.recoverPanic("keepalive")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var id int64
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.keepAliveAcked {
				// Wait for the outstanding ID rather than resetting the clock.
				timedOut := time.Since(c.lastKeepAliveSent) > keepAliveTimeout
				c.mu.Unlock()
				if timedOut {
					_ = c.writePacket(&packet.Disconnect{
						Reason: chatText("Timed out"),
					})
					c.disconnect("keepalive timeout")
					return
				}
				continue
			}
			id++
			c.lastKeepAliveID = id
			c.lastKeepAliveSent = time.Now()
			c.keepAliveAcked = false
			c.mu.Unlock()

			if err := c.writePacket(&packet.KeepAlive{
				KeepAliveID: id,
			}); err != nil {
				c.log.Error("keep alive write failed", "error", err)
				c.cancel()
				return
			}
		}
	}
}
