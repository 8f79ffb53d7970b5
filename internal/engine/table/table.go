// Package table implements the host-memory counting table used by the
// hasher. K-mers that do not fit the current capacity are spilled to scratch
// storage and folded back in at extraction.
package table

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"GoKmerSpectra/internal/model"
)

const (
	DefaultMaxCapacity = 1 << 24
	DefaultMinCapacity = 1024

	// upper bound for the map size hint, so a huge capacity does not allocate
	// memory the file will never use
	maxPrealloc = 1 << 16
)

// Options configures a HostTable.
type Options struct {
	MaxCapacity uint64
	MinCapacity uint64
	// Strict makes Init fail with model.ErrResourceExhausted instead of
	// clamping a capacity above MaxCapacity.
	Strict bool
}

// HostTable is a model.CountingTable kept in host memory.
type HostTable struct {
	id        int
	threshold uint32
	dir       string
	opts      Options

	capacity uint64
	counts   map[model.KMer]uint32
	spill    *spillFile

	kmers     uint64
	unique    uint64
	below     uint64
	discarded uint64
	spilled   uint64
}

// NewHostTable creates the table of device id. Spill files go to
// scratchPath/device_<id>.
func NewHostTable(id int, thresholdMin uint32, scratchPath string, opts Options) *HostTable {
	if opts.MaxCapacity == 0 {
		opts.MaxCapacity = DefaultMaxCapacity
	}
	if opts.MinCapacity == 0 {
		opts.MinCapacity = DefaultMinCapacity
	}
	if opts.MinCapacity > opts.MaxCapacity {
		opts.MinCapacity = opts.MaxCapacity
	}
	t := &HostTable{
		id:        id,
		threshold: thresholdMin,
		dir:       filepath.Join(scratchPath, fmt.Sprintf("device_%d", id)),
		opts:      opts,
	}
	t.capacity = opts.MinCapacity
	t.counts = make(map[model.KMer]uint32, min(t.capacity, maxPrealloc))
	return t
}

// Init implements model.CountingTable. The capacity is clamped to
// [MinCapacity, MaxCapacity]; with Strict set, a capacity above MaxCapacity is
// an error instead.
func (t *HostTable) Init(capacity uint64) error {
	if len(t.counts) > 0 || t.spill != nil {
		return fmt.Errorf("table %d: init with %d unflushed k-mers", t.id, len(t.counts))
	}
	if capacity > t.opts.MaxCapacity {
		if t.opts.Strict {
			return fmt.Errorf("%w: table %d cannot hold %d k-mers (max %d)",
				model.ErrResourceExhausted, t.id, capacity, t.opts.MaxCapacity)
		}
		capacity = t.opts.MaxCapacity
	}
	capacity = max(capacity, t.opts.MinCapacity)

	t.capacity = capacity
	t.counts = make(map[model.KMer]uint32, min(capacity, maxPrealloc))
	return nil
}

// Add implements model.CountingTable.
func (t *HostTable) Add(batch *model.KMerBatch) error {
	for _, km := range batch.KMers {
		if c, ok := t.counts[km]; ok {
			if c < math.MaxUint32 {
				t.counts[km] = c + 1
			}
			continue
		}
		if uint64(len(t.counts)) < t.capacity {
			t.counts[km] = 1
			continue
		}
		if err := t.spillKMer(km); err != nil {
			return err
		}
	}
	t.kmers += uint64(len(batch.KMers))
	return nil
}

func (t *HostTable) spillKMer(km model.KMer) error {
	if t.spill == nil {
		if err := os.MkdirAll(t.dir, 0755); err != nil {
			return fmt.Errorf("%w: table %d scratch directory: %v", model.ErrResourceExhausted, t.id, err)
		}
		sf, err := createSpillFile(filepath.Join(t.dir, "spill.gob"))
		if err != nil {
			return fmt.Errorf("%w: table %d: %v", model.ErrResourceExhausted, t.id, err)
		}
		t.spill = sf
	}
	if err := t.spill.append(km); err != nil {
		return fmt.Errorf("%w: table %d: %v", model.ErrResourceExhausted, t.id, err)
	}
	t.spilled++
	return nil
}

// ExtractAndClear implements model.CountingTable. Entries are sorted by k-mer.
func (t *HostTable) ExtractAndClear() ([]model.KMerCount, error) {
	if t.spill != nil {
		err := t.spill.drain(func(km model.KMer) {
			if c := t.counts[km]; c < math.MaxUint32 {
				t.counts[km] = c + 1
			}
		})
		if rmErr := t.spill.remove(); err == nil {
			err = rmErr
		}
		t.spill = nil
		if err != nil {
			return nil, fmt.Errorf("%w: table %d: %v", model.ErrResourceExhausted, t.id, err)
		}
	}

	entries := make([]model.KMerCount, 0, len(t.counts))
	for km, c := range t.counts {
		if c >= t.threshold {
			entries = append(entries, model.KMerCount{KMer: km, Count: c})
			continue
		}
		t.below++
		t.discarded += uint64(c)
	}
	t.unique += uint64(len(t.counts))
	clear(t.counts)

	slices.SortFunc(entries, func(a, b model.KMerCount) int {
		switch {
		case a.KMer < b.KMer:
			return -1
		case a.KMer > b.KMer:
			return 1
		default:
			return 0
		}
	})
	return entries, nil
}

func (t *HostTable) Capacity() uint64             { return t.capacity }
func (t *HostTable) MaxCapacity() uint64          { return t.opts.MaxCapacity }
func (t *HostTable) KMersNumber() uint64          { return t.kmers }
func (t *HostTable) UniqueKMersNumber() uint64    { return t.unique }
func (t *HostTable) BelowThresholdNumber() uint64 { return t.below }

// DiscardedOccurrences is the summed count of the k-mers dropped for not
// reaching the threshold.
func (t *HostTable) DiscardedOccurrences() uint64 { return t.discarded }

// Spilled is the number of k-mer occurrences written to scratch storage.
func (t *HostTable) Spilled() uint64 { return t.spilled }

// Close removes the scratch directory of the table.
func (t *HostTable) Close() error {
	if t.spill != nil {
		_ = t.spill.remove()
		t.spill = nil
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("table %d: failed to remove scratch directory: %w", t.id, err)
	}
	return nil
}
