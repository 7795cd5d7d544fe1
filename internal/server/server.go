package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	"github.com/OCharnyshevich/chunk-server/internal/server/conn"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/player"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

// timeBroadcastInterval is the number of ticks between TimeUpdate broadcasts.
const timeBroadcastInterval = 20

// Server accepts TCP connections and drives the world tick.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	world   *world.World
	players *player.Manager
	store   *storage.Store

	wg sync.WaitGroup
}

// New creates a Server with the given config and logger. store may be nil,
// in which case the world lives only in memory.
func New(cfg *config.Config, log *slog.Logger, store *storage.Store) (*Server, error) {
	generator, err := gen.New(cfg.GeneratorType, cfg.Seed)
	if err != nil {
		return nil, err
	}
	policy, err := world.ParseWeakRefPolicy(cfg.Chunks.WeakRefPolicy)
	if err != nil {
		return nil, err
	}

	wlog := log.With("component", "world")
	wc := world.Config{
		Log:           wlog,
		Generator:     generator,
		Skylight:      true,
		SpawnRadius:   cfg.Chunks.SpawnRadius,
		WeakRefPolicy: policy,
		OnWeakEvict: func(r *world.Ref) {
			wlog.Warn("evicting chunk with weak references", "pos", r.Pos(), "weak", r.WeakRefs())
		},
	}
	if store != nil {
		wc.Provider = store
	}
	w := world.New(wc)

	if store != nil {
		wd, err := store.LoadWorld()
		switch {
		case err == nil:
			if wd.Seed != cfg.Seed {
				log.Warn("stored seed differs from configured seed", "stored", wd.Seed, "seed", cfg.Seed)
			}
			w.SetTime(wd.Age, wd.TimeOfDay)
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, fmt.Errorf("load world data: %w", err)
		}
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		world:   w,
		players: player.NewManager(cfg.ViewDistance),
		store:   store,
	}, nil
}

// Start begins listening for connections and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until the context is cancelled, then
// waits for open connections to close and saves the world.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	start := time.Now()
	n := s.world.PreGenerate(s.cfg.Chunks.PreGenerateRadius)
	s.log.Info("spawn area ready", "chunks", n, "took", time.Since(start))

	s.log.Info("server started",
		"addr", listener.Addr().String(),
		"motd", s.cfg.MOTD,
		"generator", s.cfg.GeneratorType,
		"seed", s.cfg.Seed,
		"viewDistance", s.cfg.ViewDistance,
	)

	// Close listener when context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.wg.Add(1)
	go s.tickLoop(ctx)

	var store conn.PlayerStore
	if s.store != nil {
		store = s.store
	}

	for {
		c, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("server shutting down")
				s.wg.Wait()
				s.shutdown()
				return nil
			}
			s.log.Error("accept connection", "error", err)
			continue
		}

		connection := conn.NewConnection(ctx, c, s.cfg, s.log, s.world, s.players, store)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			connection.Handle()
		}()
	}
}

// World returns the server's world.
func (s *Server) World() *world.World {
	return s.world
}

func (s *Server) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			s.tick(n)
		}
	}
}

// tick advances the world by one tick. n counts ticks since the server
// started.
func (s *Server) tick(n int64) {
	age, timeOfDay := s.world.Tick()
	if n%timeBroadcastInterval == 0 {
		s.players.Broadcast(&packet.TimeUpdate{WorldAge: age, TimeOfDay: timeOfDay})
	}
	if n%int64(s.cfg.GCInterval) == 0 {
		if removed := s.world.CollectGarbage(); removed > 0 {
			s.log.Debug("collected chunks", "removed", removed, "loaded", s.world.Directory().Size())
		}
	}
	if s.cfg.SaveInterval > 0 && n%int64(s.cfg.SaveInterval) == 0 {
		s.save()
	}
}

// save writes every loaded column and the world metadata to the store.
func (s *Server) save() {
	if s.store == nil {
		return
	}
	start := time.Now()
	if err := s.world.Save(); err != nil {
		s.log.Error("save world", "error", err)
		sentry.CaptureException(err)
	}
	s.saveWorldData()
	s.log.Info("world saved", "chunks", s.world.Directory().Size(), "took", time.Since(start))
}

func (s *Server) saveWorldData() {
	age, timeOfDay := s.world.Time()
	if err := s.store.SaveWorld(&storage.WorldData{
		Seed:      s.cfg.Seed,
		Age:       age,
		TimeOfDay: timeOfDay,
	}); err != nil {
		s.log.Error("save world data", "error", err)
		sentry.CaptureException(err)
	}
}

// shutdown unloads every column, saving each through the store.
func (s *Server) shutdown() {
	s.world.Close()
	if s.store != nil {
		s.saveWorldData()
	}
	s.log.Info("world closed")
}
