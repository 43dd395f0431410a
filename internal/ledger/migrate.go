package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/storage"
)

// ErrSchemaTooNew is returned when the store was written by a newer build.
var ErrSchemaTooNew = errors.New("ledger schema is newer than this build")

// Migration upgrades the ledger keyspace by one schema version.
type Migration struct {
	Version uint32
	Name    string
	Up      func(s *Store) error
}

// migrations are applied in order; versions must be contiguous from 1.
var migrations = []Migration{
	{Version: 1, Name: "trades keyspace", Up: func(*Store) error { return nil }},
	{Version: 2, Name: "latest trade marker", Up: backfillLatest},
}

// LatestVersion is the schema version this build writes.
func LatestVersion() uint32 {
	return migrations[len(migrations)-1].Version
}

// SchemaVersion returns the stored schema version (0 for a fresh store).
func (s *Store) SchemaVersion() (uint32, error) {
	data, err := s.meta.Get(keySchema)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema get: %w", err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("schema version: bad length %d", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

func (s *Store) setSchemaVersion(v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return s.meta.Put(keySchema, buf)
}

// Migrate applies every pending migration and returns how many ran.
// A failed migration leaves the version at the last successful step.
func (s *Store) Migrate() (int, error) {
	current, err := s.SchemaVersion()
	if err != nil {
		return 0, err
	}
	if current > LatestVersion() {
		return 0, fmt.Errorf("%w: store v%d, build v%d", ErrSchemaTooNew, current, LatestVersion())
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := m.Up(s); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := s.setSchemaVersion(m.Version); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		log.Storage.Info().
			Uint32("version", m.Version).
			Str("name", m.Name).
			Msg("Applied ledger migration")
		applied++
	}
	return applied, nil
}

// backfillLatest derives the latest-trade marker from stored trades.
func backfillLatest(s *Store) error {
	var (
		latest uint64
		found  bool
	)
	err := s.trades.ForEach(nil, func(key, _ []byte) error {
		if len(key) < 8 {
			return fmt.Errorf("trade key: bad length %d", len(key))
		}
		if b := binary.BigEndian.Uint64(key); !found || b > latest {
			latest, found = b, true
		}
		return nil
	})
	if err != nil || !found {
		return err
	}
	return s.meta.Put(keyLatest, blockPrefix(latest))
}
