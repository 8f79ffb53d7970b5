// Package negotiator splits the k-mers of every temp file between counting
// devices according to their capacity and measured throughput.
package negotiator

import (
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"GoKmerSpectra/internal/model"
)

const (
	DefaultSmoothing = 0.5
	DefaultMinRatio  = 0.01
	DefaultCacheSize = 1024
)

// Config tunes a Negotiator. Zero values select the defaults.
type Config struct {
	// Smoothing is the weight of a new throughput sample, in (0,1].
	Smoothing float64
	// MinRatio is the smallest share a device is ever granted.
	MinRatio float64
	// CacheSize bounds the number of files whose split is remembered.
	CacheSize int
}

type deviceKey struct {
	class model.DeviceClass
	index int
}

type deviceState struct {
	capacity   uint64
	throughput float64 // smoothed k-mers per second, 0 until the first sample
}

// Negotiator implements model.Negotiator. The first split requested for a
// file is computed for every known device at once and reused for that file,
// so all devices see one consistent partition.
type Negotiator struct {
	cfg Config

	mu      sync.Mutex
	devices map[deviceKey]*deviceState
	splits  *lru.Cache[model.FileID, map[deviceKey]float64]
}

// New creates a Negotiator.
func New(cfg Config) (*Negotiator, error) {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MinRatio <= 0 || cfg.MinRatio > 1 {
		cfg.MinRatio = DefaultMinRatio
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	splits, err := lru.New[model.FileID, map[deviceKey]float64](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Negotiator{
		cfg:     cfg,
		devices: make(map[deviceKey]*deviceState),
		splits:  splits,
	}, nil
}

func (n *Negotiator) device(key deviceKey) *deviceState {
	d, ok := n.devices[key]
	if !ok {
		d = &deviceState{}
		n.devices[key] = d
	}
	return d
}

// UpdateCapacity implements model.Negotiator.
func (n *Negotiator) UpdateCapacity(class model.DeviceClass, index int, capacity uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.device(deviceKey{class, index}).capacity = capacity
}

// UpdateThroughput implements model.Negotiator. Samples that are not positive
// and finite carry no information (an empty window) and are ignored.
func (n *Negotiator) UpdateThroughput(class model.DeviceClass, index int, throughput float64) {
	if !(throughput > 0) || math.IsInf(throughput, 1) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.device(deviceKey{class, index})
	if d.throughput == 0 {
		d.throughput = throughput
		return
	}
	d.throughput += n.cfg.Smoothing * (throughput - d.throughput)
}

// GetSplitRatio implements model.Negotiator. The result is always in
// [MinRatio, 1].
func (n *Negotiator) GetSplitRatio(class model.DeviceClass, index int, file model.FileID) float64 {
	key := deviceKey{class, index}

	n.mu.Lock()
	defer n.mu.Unlock()

	split, ok := n.splits.Get(file)
	if !ok {
		split = n.computeSplit(key)
		n.splits.Add(file, split)
	}
	ratio, ok := split[key]
	if !ok {
		// device registered after the split of this file was fixed
		ratio = n.clamp(0)
	}
	return ratio
}

// computeSplit returns the share of every known device plus caller.
// n.mu must be held.
func (n *Negotiator) computeSplit(caller deviceKey) map[deviceKey]float64 {
	n.device(caller)

	var maxCapacity uint64
	var throughputSum float64
	var measured int
	for _, d := range n.devices {
		maxCapacity = max(maxCapacity, d.capacity)
		if d.throughput > 0 {
			throughputSum += d.throughput
			measured++
		}
	}
	if maxCapacity == 0 {
		maxCapacity = 1
	}
	meanThroughput := 0.0
	if measured > 0 {
		meanThroughput = throughputSum / float64(measured)
	}

	weights := make(map[deviceKey]float64, len(n.devices))
	var total float64
	for key, d := range n.devices {
		capacity := d.capacity
		if capacity == 0 {
			capacity = maxCapacity
		}
		speed := 1.0
		if d.throughput > 0 && meanThroughput > 0 {
			speed = d.throughput / meanThroughput
		}
		w := float64(capacity) * speed
		weights[key] = w
		total += w
	}

	split := make(map[deviceKey]float64, len(weights))
	for key, w := range weights {
		share := 1.0
		if total > 0 {
			share = w / total
		}
		split[key] = n.clamp(share)
	}
	return split
}

func (n *Negotiator) clamp(ratio float64) float64 {
	if !(ratio >= n.cfg.MinRatio) { // also catches NaN
		return n.cfg.MinRatio
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// DeviceInfo is the negotiator's view of one device.
type DeviceInfo struct {
	Class      string  `json:"class"`
	Index      int     `json:"index"`
	Capacity   uint64  `json:"capacity"`
	Throughput float64 `json:"throughput"`
}

// Snapshot returns the known devices ordered by class and index.
func (n *Negotiator) Snapshot() []DeviceInfo {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]DeviceInfo, 0, len(n.devices))
	for key, d := range n.devices {
		out = append(out, DeviceInfo{
			Class:      key.class.String(),
			Index:      key.index,
			Capacity:   d.capacity,
			Throughput: d.throughput,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Index < out[j].Index
	})
	return out
}
