package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	get "github.com/hashicorp/go-getter"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// fetchworld downloads a saved world database into a server data directory
// and checks that it opens.
func main() {
	var (
		src   = flag.String("src", "", "go-getter source of the world directory, e.g. git::https://example.com/worlds.git//spawn")
		out   = flag.String("data", "./data", "server data directory")
		force = flag.Bool("force", false, "replace an existing world")
	)
	flag.Parse()

	if *src == "" {
		panic("source url required")
	}
	if *out == "" {
		panic("data dir path required")
	}

	path := filepath.Join(*out, "world")
	if _, err := os.Stat(path); err == nil {
		if !*force {
			log.Fatalf("world %s already exists, pass -force to replace it", path)
		}
		if err := os.RemoveAll(path); err != nil {
			panic(err)
		}
	}

	log.Default().Printf("start downloading world %s into %s", *src, path)

	if err := get.Get(path, *src); err != nil {
		panic(err)
	}

	if err := verify(*out); err != nil {
		log.Fatalf("downloaded world is unusable: %v", err)
	}

	log.Default().Printf("done downloading world %s", path)
}

// verify opens the database under dir and reads the world record and the
// spawn column.
func verify(dir string) error {
	store, err := storage.Open(dir, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	wd, err := store.LoadWorld()
	switch {
	case err == nil:
		log.Default().Printf("seed %d, age %d", wd.Seed, wd.Age)
	case errors.Is(err, storage.ErrNotFound):
		log.Default().Printf("no world record, the server will start a new clock")
	default:
		return err
	}

	if _, err := store.LoadChunk(chunk.Pos{}, true); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("spawn column: %w", err)
	}
	return nil
}
