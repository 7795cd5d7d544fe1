package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = fmt.Errorf("storage: %w", leveldb.ErrNotFound)
	// ErrChecksum is returned when a stored column fails verification.
	ErrChecksum = errors.New("storage: checksum mismatch")
)

// Key prefixes.
const (
	prefixColumn byte = 'c'
	prefixPlayer byte = 'p'
)

var keyWorld = []byte("world")

const checksumSize = 8

// Store persists columns, players and world metadata in a leveldb database
// under <dir>/world. Column payloads are zstd-compressed and prefixed with
// the xxhash of the compressed body.
//
// A Store is safe for concurrent use.
type Store struct {
	dir string
	log *slog.Logger
	db  *leveldb.DB

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the database rooted at dir.
func Open(dir string, log *slog.Logger) (*Store, error) {
	path := filepath.Join(dir, "world")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", path, err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	log.Info("opened world database", "path", path)
	return &Store{dir: dir, log: log, db: db, enc: enc, dec: dec}, nil
}

func columnKey(pos chunk.Pos) []byte {
	key := make([]byte, 9)
	key[0] = prefixColumn
	binary.BigEndian.PutUint32(key[1:], uint32(pos.X))
	binary.BigEndian.PutUint32(key[5:], uint32(pos.Z))
	return key
}

func playerKey(id uuid.UUID) []byte {
	return append([]byte{prefixPlayer}, id[:]...)
}

// LoadChunk reads the column at pos. It returns ErrNotFound if the column
// was never saved and ErrChecksum if the stored bytes are damaged.
func (s *Store) LoadChunk(pos chunk.Pos, skylight bool) (*chunk.Chunk, error) {
	value, err := s.get(columnKey(pos))
	if err != nil {
		return nil, fmt.Errorf("load column %s: %w", pos, err)
	}
	if len(value) < checksumSize {
		return nil, fmt.Errorf("load column %s: short value: %w", pos, ErrChecksum)
	}
	body := value[checksumSize:]
	if binary.BigEndian.Uint64(value) != xxhash.Sum64(body) {
		return nil, fmt.Errorf("load column %s: %w", pos, ErrChecksum)
	}

	payload, err := s.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress column %s: %w", pos, err)
	}
	c, err := chunk.DecodeColumn(payload, skylight)
	if err != nil {
		return nil, fmt.Errorf("decode column %s: %w", pos, err)
	}
	if c.Pos() != pos {
		return nil, fmt.Errorf("column stored at %s claims %s: %w", pos, c.Pos(), chunk.ErrCorruptColumn)
	}
	return c, nil
}

// SaveChunk writes the column, replacing any previous copy.
func (s *Store) SaveChunk(c *chunk.Chunk) error {
	payload, err := c.AsPacket()
	if err != nil {
		return fmt.Errorf("save column %s: %w", c.Pos(), err)
	}
	value := make([]byte, checksumSize, checksumSize+len(payload)/2)
	value = s.enc.EncodeAll(payload, value)
	binary.BigEndian.PutUint64(value, xxhash.Sum64(value[checksumSize:]))

	if err := s.db.Put(columnKey(c.Pos()), value, nil); err != nil {
		return fmt.Errorf("save column %s: %w", c.Pos(), err)
	}
	return nil
}

// DeleteChunk removes a stored column. Deleting a missing column is not an
// error.
func (s *Store) DeleteChunk(pos chunk.Pos) error {
	if err := s.db.Delete(columnKey(pos), nil); err != nil {
		return fmt.Errorf("delete column %s: %w", pos, err)
	}
	return nil
}

// LoadPlayer returns the saved state of a player, or ErrNotFound.
func (s *Store) LoadPlayer(id uuid.UUID) (*PlayerData, error) {
	var pd PlayerData
	if err := s.getJSON(playerKey(id), &pd); err != nil {
		return nil, fmt.Errorf("load player %s: %w", id, err)
	}
	return &pd, nil
}

// SavePlayer persists a player record.
func (s *Store) SavePlayer(pd *PlayerData) error {
	id, err := uuid.Parse(pd.UUID)
	if err != nil {
		return fmt.Errorf("save player %q: %w", pd.UUID, err)
	}
	if err := s.putJSON(playerKey(id), pd); err != nil {
		return fmt.Errorf("save player %s: %w", id, err)
	}
	return nil
}

// LoadWorld returns the saved world metadata, or ErrNotFound for a new world.
func (s *Store) LoadWorld() (*WorldData, error) {
	var wd WorldData
	if err := s.getJSON(keyWorld, &wd); err != nil {
		return nil, fmt.Errorf("load world data: %w", err)
	}
	return &wd, nil
}

// SaveWorld persists world metadata.
func (s *Store) SaveWorld(wd *WorldData) error {
	if err := s.putJSON(keyWorld, wd); err != nil {
		return fmt.Errorf("save world data: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	s.log.Info("closed world database")
	return nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *Store) getJSON(key []byte, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

func (s *Store) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return s.db.Put(key, data, nil)
}
