package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	snapshotKey   = []byte("core/snapshot/latest")
	checkpointKey = []byte("core/checkpoint/latest")
)

// Checkpoint is the small metadata record stored beside the canonical
// snapshot blob.
type Checkpoint struct {
	Height    uint64
	StateRoot [32]byte
	Timestamp uint64
}

// SnapshotStore persists the core's canonical snapshot stream plus an
// RLP-encoded checkpoint record for quick inspection without decoding the
// full blob.
type SnapshotStore struct {
	db Database
}

// NewSnapshotStore wraps a database.
func NewSnapshotStore(db Database) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes the snapshot blob first and the checkpoint record last. Both
// live under fixed keys, so each save replaces the previous blob; the two
// writes are separate, and a failure between them leaves the new blob beside
// the previous checkpoint.
func (s *SnapshotStore) Save(blob []byte, checkpoint Checkpoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("snapshot store unavailable")
	}
	if err := s.db.Put(snapshotKey, blob); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&checkpoint)
	if err != nil {
		return err
	}
	return s.db.Put(checkpointKey, encoded)
}

// Load returns the latest snapshot blob, or (nil, nil) when none exists.
func (s *SnapshotStore) Load() ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("snapshot store unavailable")
	}
	blob, err := s.db.Get(snapshotKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return blob, err
}

// LatestCheckpoint returns the stored checkpoint record, or (nil, nil) when
// none exists.
func (s *SnapshotStore) LatestCheckpoint() (*Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("snapshot store unavailable")
	}
	encoded, err := s.db.Get(checkpointKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	checkpoint := new(Checkpoint)
	if err := rlp.DecodeBytes(encoded, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}
