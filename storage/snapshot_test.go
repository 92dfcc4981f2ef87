package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	store := NewSnapshotStore(NewMemDB())

	blob, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, blob)

	checkpoint, err := store.LatestCheckpoint()
	require.NoError(t, err)
	require.Nil(t, checkpoint)

	var root [32]byte
	root[0] = 0xab
	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, store.Save(payload, Checkpoint{Height: 7, StateRoot: root, Timestamp: 1_700_000_000}))

	blob, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, payload, blob)

	checkpoint, err = store.LatestCheckpoint()
	require.NoError(t, err)
	require.Equal(t, uint64(7), checkpoint.Height)
	require.Equal(t, root, checkpoint.StateRoot)
	require.Equal(t, uint64(1_700_000_000), checkpoint.Timestamp)
}

func TestMemDBIsolation(t *testing.T) {
	db := NewMemDB()
	value := []byte{0x01}
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 0xff

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, stored)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}
