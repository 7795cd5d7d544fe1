package world

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/packet"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

const (
	stateBedrock chunk.State = 7 << 4
	stateStone   chunk.State = 1 << 4
	stateGrass   chunk.State = 2 << 4
)

// memProvider keeps encoded columns in memory.
type memProvider struct {
	mu      sync.Mutex
	columns map[chunk.Pos][]byte
	loadErr error
	saves   int
}

func newMemProvider() *memProvider {
	return &memProvider{columns: make(map[chunk.Pos][]byte)}
}

func (m *memProvider) LoadChunk(pos chunk.Pos, skylight bool) (*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.columns[pos]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", pos, storage.ErrNotFound)
	}
	return chunk.DecodeColumn(data, skylight)
}

func (m *memProvider) SaveChunk(c *chunk.Chunk) error {
	data, err := c.AsPacket()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[c.Pos()] = data
	m.saves++
	return nil
}

func (m *memProvider) stored(pos chunk.Pos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.columns[pos]
	return ok
}

// gatedProvider holds the first SaveChunk until release is closed.
type gatedProvider struct {
	*memProvider
	saving  chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		memProvider: newMemProvider(),
		saving:      make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedProvider) SaveChunk(c *chunk.Chunk) error {
	select {
	case <-g.saving:
	default:
		close(g.saving)
	}
	<-g.release
	return g.memProvider.SaveChunk(c)
}

func newTestWorld(t *testing.T, conf Config) *World {
	t.Helper()
	conf.Log = discardLogger()
	if conf.Generator == nil {
		conf.Generator = gen.NewFlatGenerator(0)
	}
	conf.Skylight = true
	return New(conf)
}

func TestWorldBaseStateFlatGenerator(t *testing.T) {
	w := newTestWorld(t, Config{})
	w.PreGenerate(0)

	tests := []struct {
		x, y, z int
		want    chunk.State
	}{
		{0, 0, 0, stateBedrock},
		{0, 1, 0, stateStone},
		{0, 4, 0, stateGrass},
		{5, 64, 10, chunk.Air},
	}
	for _, tt := range tests {
		got, ok := w.Block(tt.x, tt.y, tt.z)
		if !ok {
			t.Fatalf("Block(%d,%d,%d): chunk not loaded", tt.x, tt.y, tt.z)
		}
		if got != tt.want {
			t.Errorf("Block(%d,%d,%d) = %d, want %d", tt.x, tt.y, tt.z, got, tt.want)
		}
	}
}

func TestWorldSetBlock(t *testing.T) {
	p := newMemProvider()
	w := newTestWorld(t, Config{Provider: p})
	w.PreGenerate(1)

	// (-1,0) is outside the spawn square and nothing references it.
	if err := w.SetBlock(-3, 10, 5, 4<<4); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if got, ok := w.Block(-3, 10, 5); !ok || got != 4<<4 {
		t.Errorf("Block(-3,10,5) = %d (loaded %v), want %d", got, ok, 4<<4)
	}
	if got := w.Directory().Size(); got != 9 {
		t.Errorf("Size after SetBlock = %d, want 9", got)
	}
	if p.saves != 0 {
		t.Errorf("SetBlock saved %d columns, want 0", p.saves)
	}

	if err := w.SetBlock(0, 4, 0, chunk.Air); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if got, _ := w.Block(0, 4, 0); got != chunk.Air {
		t.Errorf("Block(0,4,0) = %d, want air", got)
	}
}

func TestWorldSetBlockNotLoaded(t *testing.T) {
	w := newTestWorld(t, Config{})
	err := w.SetBlock(1000, 10, 1000, stateStone)
	if !errors.Is(err, ErrChunkNotLoaded) {
		t.Errorf("SetBlock error = %v, want ErrChunkNotLoaded", err)
	}
	if _, ok := w.Block(1000, 10, 1000); ok {
		t.Error("Block reported a column that was never loaded")
	}
}

func TestWorldSetBlockOutOfRange(t *testing.T) {
	w := newTestWorld(t, Config{})
	w.PreGenerate(0)
	if err := w.SetBlock(0, chunk.Height, 0, stateStone); !errors.Is(err, chunk.ErrOutOfRange) {
		t.Errorf("SetBlock error = %v, want ErrOutOfRange", err)
	}
}

func TestWorldSetBlockBroadcast(t *testing.T) {
	w := newTestWorld(t, Config{})
	near := newFakeViewer(0, 0)
	far := newFakeViewer(20, 20)
	for _, v := range []*fakeViewer{near, far} {
		s := w.NewViewerSet(v, ViewerConfig{})
		if err := s.Update(3); err != nil {
			t.Fatalf("Update: %v", err)
		}
		v.reset()
	}

	if err := w.SetBlock(17, 10, -2, stateStone); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	changes := func(v *fakeViewer) []*packet.BlockChange {
		v.mu.Lock()
		defer v.mu.Unlock()
		var out []*packet.BlockChange
		for _, p := range v.packets {
			if bc, ok := p.(*packet.BlockChange); ok {
				out = append(out, bc)
			}
		}
		return out
	}
	got := changes(near)
	if len(got) != 1 {
		t.Fatalf("near viewer got %d block changes, want 1", len(got))
	}
	if x, y, z := mcnet.DecodePosition(got[0].Location); x != 17 || y != 10 || z != -2 {
		t.Errorf("block change at %d,%d,%d, want 17,10,-2", x, y, z)
	}
	if got[0].BlockID != int32(stateStone) {
		t.Errorf("block change id = %d, want %d", got[0].BlockID, stateStone)
	}
	if n := len(changes(far)); n != 0 {
		t.Errorf("far viewer got %d block changes, want 0", n)
	}
}

func TestWorldSpawnHeight(t *testing.T) {
	w := newTestWorld(t, Config{})
	// Flat: grass at y=4.
	if got := w.SpawnHeight(); got != 5 {
		t.Errorf("SpawnHeight() = %d, want 5", got)
	}
}

func TestWorldDefaultGenerator(t *testing.T) {
	w := newTestWorld(t, Config{Generator: gen.NewDefaultGenerator(12345)})

	height := w.SpawnHeight()
	if height < 5 || height > 255 {
		t.Errorf("SpawnHeight() = %d, want between 5 and 255", height)
	}
	if got, _ := w.Block(0, 0, 0); got != stateBedrock {
		t.Errorf("Block(0,0,0) = %d, want bedrock", got)
	}
}

func TestPreGenerateRadius(t *testing.T) {
	w := newTestWorld(t, Config{})
	if got := w.PreGenerate(2); got != 25 {
		t.Errorf("PreGenerate(2) = %d, want 25", got)
	}
	for cx := int32(-2); cx <= 2; cx++ {
		for cz := int32(-2); cz <= 2; cz++ {
			if _, ok := w.Directory().Get(chunk.Pos{X: cx, Z: cz}, false); !ok {
				t.Errorf("chunk (%d,%d) not pre-generated", cx, cz)
			}
		}
	}
}

func TestWorldTick(t *testing.T) {
	w := newTestWorld(t, Config{})

	age, tod := w.Time()
	if age != 0 || tod != 0 {
		t.Errorf("initial time = (%d, %d), want (0, 0)", age, tod)
	}

	age, tod = w.Tick()
	if age != 1 || tod != 1 {
		t.Errorf("after 1 tick = (%d, %d), want (1, 1)", age, tod)
	}

	w.SetTime(100, 23999)
	age, tod = w.Tick()
	if age != 101 || tod != 0 {
		t.Errorf("after wrap = (%d, %d), want (101, 0)", age, tod)
	}
}

func TestWorldTickFrozenTime(t *testing.T) {
	w := newTestWorld(t, Config{})

	w.SetTimeOfDay(-6000)
	age, tod := w.Tick()
	if age != 1 || tod != -6000 {
		t.Errorf("after tick with frozen time = (%d, %d), want (1, -6000)", age, tod)
	}
}

func TestWorldGetSetTime(t *testing.T) {
	w := newTestWorld(t, Config{})

	w.SetTime(5000, 12000)
	age, tod := w.Time()
	if age != 5000 || tod != 12000 {
		t.Errorf("Time() = (%d, %d), want (5000, 12000)", age, tod)
	}

	w.SetTimeOfDay(18000)
	age, tod = w.Time()
	if age != 5000 || tod != 18000 {
		t.Errorf("after SetTimeOfDay = (%d, %d), want (5000, 18000)", age, tod)
	}
}

func TestWorldCollectGarbage(t *testing.T) {
	w := newTestWorld(t, Config{})
	v := newFakeViewer(5, 5)
	s := w.NewViewerSet(v, ViewerConfig{})
	if err := s.Update(3); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Only the neighbour ring is unreferenced.
	if got := w.CollectGarbage(); got != 16 {
		t.Errorf("CollectGarbage = %d, want 16", got)
	}
	if got := w.Directory().Size(); got != 9 {
		t.Errorf("Size = %d, want 9", got)
	}

	w.Detach(s)
	if got := w.Directory().Size(); got != 0 {
		t.Errorf("Size after Detach = %d, want 0", got)
	}
	if s.Len() != 0 {
		t.Errorf("detached set Len = %d, want 0", s.Len())
	}
}

func TestWorldProviderRoundTrip(t *testing.T) {
	p := newMemProvider()
	w := newTestWorld(t, Config{Provider: p})
	pos := chunk.Pos{X: 9, Z: 9}

	r, ok := w.Directory().Acquire(pos, true)
	if !ok {
		t.Fatal("Acquire failed")
	}
	if err := w.SetBlock(9*16+1, 30, 9*16+2, stateStone); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	r.ReleaseStrong()
	if !p.stored(pos) {
		t.Fatal("unloaded column was not saved")
	}
	if _, ok := w.Directory().Get(pos, false); ok {
		t.Fatal("column still resident after release")
	}

	w.Directory().Get(pos, true)
	if got, _ := w.Block(9*16+1, 30, 9*16+2); got != stateStone {
		t.Errorf("reloaded block = %d, want %d", got, stateStone)
	}
}

func TestWorldLoadErrorRegenerates(t *testing.T) {
	p := newMemProvider()
	p.loadErr = errors.New("disk on fire")
	w := newTestWorld(t, Config{Provider: p})

	c := w.GenerateChunk(chunk.Pos{X: 4, Z: 4})
	if got := c.Block(0, 0, 0); got != stateBedrock {
		t.Errorf("regenerated block = %d, want bedrock", got)
	}
}

func TestWorldSaveAndClose(t *testing.T) {
	p := newMemProvider()
	w := newTestWorld(t, Config{Provider: p})
	w.PreGenerate(1)

	if err := w.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.saves != 9 {
		t.Errorf("saves after Save = %d, want 9", p.saves)
	}

	s := w.NewViewerSet(newFakeViewer(0, 0), ViewerConfig{})
	if err := s.Update(1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	w.Close()
	if got := w.Directory().Size(); got != 0 {
		t.Errorf("Size after Close = %d, want 0", got)
	}
	if s.Len() != 0 {
		t.Errorf("viewer set Len after Close = %d, want 0", s.Len())
	}
	if p.saves != 18 {
		t.Errorf("saves after Close = %d, want 18", p.saves)
	}
}

func TestWorldReloadWaitsForUnload(t *testing.T) {
	p := newGatedProvider()
	w := newTestWorld(t, Config{Provider: p})
	pos := chunk.Pos{X: 3, Z: 3}
	if _, ok := w.Directory().Get(pos, true); !ok {
		t.Fatal("Get failed")
	}
	if err := w.SetBlock(50, 10, 50, stateStone); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	removed := make(chan RemoveResult, 1)
	go func() { removed <- w.Directory().TryRemove(pos) }()
	<-p.saving

	reloaded := make(chan *Ref, 1)
	go func() {
		r, _ := w.Directory().Get(pos, true)
		reloaded <- r
	}()
	select {
	case <-reloaded:
		t.Fatal("column reloaded while its save was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if got := w.Directory().TryRemove(pos); got != Absent {
		t.Errorf("TryRemove during unload = %v, want absent", got)
	}

	close(p.release)
	if got := <-removed; got != Removed {
		t.Errorf("TryRemove = %v, want removed", got)
	}
	select {
	case r := <-reloaded:
		if r == nil {
			t.Fatal("Get after unload failed")
		}
		if got := r.Chunk().Block(50&0xF, 10, 50&0xF); got != stateStone {
			t.Errorf("reloaded block = %d, want %d", got, stateStone)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not return after the save finished")
	}
}
