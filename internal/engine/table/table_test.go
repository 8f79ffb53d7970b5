package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoKmerSpectra/internal/model"
)

func batch(file model.FileID, kmers ...model.KMer) *model.KMerBatch {
	return &model.KMerBatch{FileID: file, KMers: kmers}
}

func TestHostTable_CountsAndThreshold(t *testing.T) {
	tbl := NewHostTable(0, 2, t.TempDir(), Options{MaxCapacity: 100, MinCapacity: 4})
	require.NoError(t, tbl.Init(10))

	require.NoError(t, tbl.Add(batch(1, 5, 3, 5, 7)))
	require.NoError(t, tbl.Add(batch(1, 3, 5, 9)))

	got, err := tbl.ExtractAndClear()
	require.NoError(t, err)

	want := []model.KMerCount{{KMer: 3, Count: 2}, {KMer: 5, Count: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected extraction (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(7), tbl.KMersNumber())
	assert.Equal(t, uint64(4), tbl.UniqueKMersNumber())
	assert.Equal(t, uint64(2), tbl.BelowThresholdNumber())
	assert.Equal(t, uint64(2), tbl.DiscardedOccurrences())

	// the table is empty after extraction
	got, err = tbl.ExtractAndClear()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(4), tbl.UniqueKMersNumber())
}

func TestHostTable_InitClampsCapacity(t *testing.T) {
	tbl := NewHostTable(0, 1, t.TempDir(), Options{MaxCapacity: 64, MinCapacity: 8})

	require.NoError(t, tbl.Init(0))
	assert.Equal(t, uint64(8), tbl.Capacity())

	require.NoError(t, tbl.Init(1000))
	assert.Equal(t, uint64(64), tbl.Capacity())
	assert.Equal(t, uint64(64), tbl.MaxCapacity())
}

func TestHostTable_StrictInitFails(t *testing.T) {
	tbl := NewHostTable(3, 1, t.TempDir(), Options{MaxCapacity: 64, MinCapacity: 8, Strict: true})

	err := tbl.Init(65)
	assert.ErrorIs(t, err, model.ErrResourceExhausted)
	assert.NoError(t, tbl.Init(64))
}

func TestHostTable_InitRefusesUnflushedData(t *testing.T) {
	tbl := NewHostTable(0, 1, t.TempDir(), Options{MaxCapacity: 64, MinCapacity: 8})
	require.NoError(t, tbl.Add(batch(0, 1)))
	assert.Error(t, tbl.Init(16))

	_, err := tbl.ExtractAndClear()
	require.NoError(t, err)
	assert.NoError(t, tbl.Init(16))
}

func TestHostTable_SpillConservesCounts(t *testing.T) {
	scratch := t.TempDir()
	tbl := NewHostTable(1, 2, scratch, Options{MaxCapacity: 1 << 20, MinCapacity: 4})
	require.NoError(t, tbl.Init(4))

	// 10000 distinct k-mers, each seen 1, 2 or 3 times; only 4 fit in memory
	truth := make(map[model.KMer]uint32)
	var total uint64
	for round := 0; round < 3; round++ {
		var kmers []model.KMer
		for i := 0; i < 10_000; i++ {
			if i%3 < round {
				continue
			}
			km := model.KMer(i)
			kmers = append(kmers, km)
			truth[km]++
			total++
		}
		require.NoError(t, tbl.Add(batch(0, kmers...)))
	}
	assert.Positive(t, tbl.Spilled())
	_, err := os.Stat(filepath.Join(scratch, "device_1", "spill.gob"))
	require.NoError(t, err, "spill file should exist before extraction")

	got, err := tbl.ExtractAndClear()
	require.NoError(t, err)

	var emitted uint64
	for _, e := range got {
		assert.Equal(t, truth[e.KMer], e.Count)
		assert.GreaterOrEqual(t, e.Count, uint32(2))
		emitted += uint64(e.Count)
	}
	assert.Equal(t, total, emitted+tbl.DiscardedOccurrences())
	assert.Equal(t, uint64(len(truth)), tbl.UniqueKMersNumber())

	_, err = os.Stat(filepath.Join(scratch, "device_1", "spill.gob"))
	assert.True(t, os.IsNotExist(err), "spill file should be removed after extraction")

	require.NoError(t, tbl.Close())
	_, err = os.Stat(filepath.Join(scratch, "device_1"))
	assert.True(t, os.IsNotExist(err))
}
