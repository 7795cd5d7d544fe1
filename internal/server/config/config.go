package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	mcnet "github.com/OCharnyshevich/chunk-server/internal/server/net"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
)

// Config holds the server configuration.
type Config struct {
	Port          int    `toml:"port"`
	MOTD          string `toml:"motd"`
	MaxPlayers    int    `toml:"max_players"`
	ViewDistance  int    `toml:"view_distance"` // upper bound for clients, in chunks
	Seed          int64  `toml:"seed"`
	GeneratorType string `toml:"generator_type"` // "default" or "flat"
	DataDir       string `toml:"data_dir"`       // empty keeps the world in memory

	TickRate     int `toml:"tick_rate"`     // ticks per second
	GCInterval   int `toml:"gc_interval"`   // ticks between chunk garbage collections
	SaveInterval int `toml:"save_interval"` // ticks between world saves, 0 disables

	Chunks ChunkConfig `toml:"chunks"`
	Debug  DebugConfig `toml:"debug"`
}

// ChunkConfig holds the chunk residency and streaming policy.
type ChunkConfig struct {
	SpawnRadius       int     `toml:"spawn_radius"`
	PreGenerateRadius int     `toml:"pregenerate_radius"`
	BatchCeiling      int     `toml:"batch_ceiling"` // bytes
	CleanThreshold    int     `toml:"clean_threshold"`
	CleanIterations   int     `toml:"clean_iterations"`
	LoadRate          float64 `toml:"load_rate"` // new chunks per second per player, 0 is unlimited
	LoadBurst         int     `toml:"load_burst"`
	WeakRefPolicy     string  `toml:"weak_ref_policy"` // "ignore", "notify" or "block"
}

// DebugConfig holds diagnostics switches.
type DebugConfig struct {
	DeadlockDetection bool   `toml:"deadlock_detection"`
	StatsAddr         string `toml:"stats_addr"` // statsview listen address, empty disables
	SentryDSN         string `toml:"sentry_dsn"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	viewer := world.DefaultViewerConfig()
	return &Config{
		Port:          25565,
		MOTD:          "A chunk streaming server",
		MaxPlayers:    20,
		ViewDistance:  10,
		GeneratorType: "default",
		DataDir:       "data",
		TickRate:      20,
		GCInterval:    200,
		SaveInterval:  6000,
		Chunks: ChunkConfig{
			SpawnRadius:       4,
			PreGenerateRadius: 4,
			BatchCeiling:      viewer.BatchCeiling,
			CleanThreshold:    viewer.CleanThreshold,
			CleanIterations:   viewer.CleanIterations,
			LoadBurst:         32,
			WeakRefPolicy:     world.WeakRefIgnore.String(),
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(*cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ViewDistance < 2 {
		errs = append(errs, fmt.Errorf("view_distance %d is below 2", c.ViewDistance))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate %d must be positive", c.TickRate))
	}
	if c.GCInterval <= 0 {
		errs = append(errs, fmt.Errorf("gc_interval %d must be positive", c.GCInterval))
	}
	if c.SaveInterval < 0 {
		errs = append(errs, fmt.Errorf("save_interval %d is negative", c.SaveInterval))
	}
	if c.Chunks.BatchCeiling <= 0 || c.Chunks.BatchCeiling > mcnet.MaxPacketSize {
		errs = append(errs, fmt.Errorf("chunks.batch_ceiling %d is outside 1..%d", c.Chunks.BatchCeiling, mcnet.MaxPacketSize))
	}
	if c.Chunks.CleanThreshold < 0 {
		errs = append(errs, fmt.Errorf("chunks.clean_threshold %d is negative", c.Chunks.CleanThreshold))
	}
	if c.Chunks.LoadRate < 0 {
		errs = append(errs, fmt.Errorf("chunks.load_rate %v is negative", c.Chunks.LoadRate))
	}
	if _, err := world.ParseWeakRefPolicy(c.Chunks.WeakRefPolicy); err != nil {
		errs = append(errs, fmt.Errorf("chunks.weak_ref_policy: %w", err))
	}
	return errors.Join(errs...)
}

// ViewerConfig returns the streaming limits for one player.
func (c *Config) ViewerConfig() world.ViewerConfig {
	return world.ViewerConfig{
		BatchCeiling:    c.Chunks.BatchCeiling,
		CleanThreshold:  c.Chunks.CleanThreshold,
		CleanIterations: c.Chunks.CleanIterations,
		LoadRate:        c.Chunks.LoadRate,
		LoadBurst:       c.Chunks.LoadBurst,
	}
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["port"] {
		cfg.Port = fromFile.Port
	}
	if !explicitFlags["motd"] {
		cfg.MOTD = fromFile.MOTD
	}
	if !explicitFlags["max-players"] {
		cfg.MaxPlayers = fromFile.MaxPlayers
	}
	if !explicitFlags["view-distance"] {
		cfg.ViewDistance = fromFile.ViewDistance
	}
	if !explicitFlags["seed"] {
		cfg.Seed = fromFile.Seed
	}
	if !explicitFlags["generator"] {
		cfg.GeneratorType = fromFile.GeneratorType
	}
	if !explicitFlags["data"] {
		cfg.DataDir = fromFile.DataDir
	}
	if !explicitFlags["deadlock"] {
		cfg.Debug.DeadlockDetection = fromFile.Debug.DeadlockDetection
	}
	if !explicitFlags["stats"] {
		cfg.Debug.StatsAddr = fromFile.Debug.StatsAddr
	}
	cfg.TickRate = fromFile.TickRate
	cfg.GCInterval = fromFile.GCInterval
	cfg.SaveInterval = fromFile.SaveInterval
	cfg.Chunks = fromFile.Chunks
	cfg.Debug.SentryDSN = fromFile.Debug.SentryDSN
}
