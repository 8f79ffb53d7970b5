package negotiator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoKmerSpectra/internal/model"
)

func newNegotiator(t *testing.T, cfg Config) *Negotiator {
	t.Helper()
	n, err := New(cfg)
	require.NoError(t, err)
	return n
}

func TestGetSplitRatio_LargerCapacityGetsLargerShare(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 0, 1000)
	n.UpdateCapacity(model.Accelerator, 1, 4000)
	n.UpdateThroughput(model.Accelerator, 0, 500)
	n.UpdateThroughput(model.Accelerator, 1, 500)

	for file := model.FileID(0); file < 8; file++ {
		r0 := n.GetSplitRatio(model.Accelerator, 0, file)
		r1 := n.GetSplitRatio(model.Accelerator, 1, file)
		assert.LessOrEqual(t, r0, r1)
		assert.InDelta(t, 0.2, r0, 1e-9)
		assert.InDelta(t, 0.8, r1, 1e-9)
	}
}

func TestGetSplitRatio_FasterDeviceGetsLargerShare(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 0, 1000)
	n.UpdateCapacity(model.Accelerator, 1, 1000)
	n.UpdateThroughput(model.Accelerator, 0, 100)
	n.UpdateThroughput(model.Accelerator, 1, 300)

	r0 := n.GetSplitRatio(model.Accelerator, 0, 1)
	r1 := n.GetSplitRatio(model.Accelerator, 1, 1)
	assert.InDelta(t, 0.25, r0, 1e-9)
	assert.InDelta(t, 0.75, r1, 1e-9)
}

func TestGetSplitRatio_Bounds(t *testing.T) {
	cases := []struct {
		name       string
		capacities []uint64
		throughput []float64
	}{
		{"single device", []uint64{10}, []float64{1}},
		{"no data", []uint64{0, 0, 0}, []float64{0, 0, 0}},
		{"skewed", []uint64{1, 1 << 40}, []float64{1e-9, 1e12}},
		{"negative throughput", []uint64{100, 100}, []float64{-5, math.NaN()}},
		{"infinite throughput", []uint64{100, 100}, []float64{math.Inf(1), 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := newNegotiator(t, Config{MinRatio: 0.05})
			for i, c := range tc.capacities {
				n.UpdateCapacity(model.CPU, i, c)
				n.UpdateThroughput(model.CPU, i, tc.throughput[i])
			}
			for i := range tc.capacities {
				r := n.GetSplitRatio(model.CPU, i, 7)
				assert.Greater(t, r, 0.0)
				assert.LessOrEqual(t, r, 1.0)
				assert.GreaterOrEqual(t, r, 0.05)
			}
		})
	}
}

func TestGetSplitRatio_SingleDeviceGetsEverything(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 0, 1<<20)
	assert.Equal(t, 1.0, n.GetSplitRatio(model.Accelerator, 0, 3))
}

func TestGetSplitRatio_UnregisteredDevice(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 0, 1000)

	// an unknown caller is treated as having the largest registered capacity
	r := n.GetSplitRatio(model.Accelerator, 5, 1)
	assert.InDelta(t, 0.5, r, 1e-9)
}

func TestGetSplitRatio_MemoizedPerFile(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 0, 1000)
	n.UpdateCapacity(model.Accelerator, 1, 1000)

	first := n.GetSplitRatio(model.Accelerator, 0, 1)
	assert.InDelta(t, 0.5, first, 1e-9)

	// new measurements only affect files that have not been split yet
	n.UpdateThroughput(model.Accelerator, 0, 900)
	n.UpdateThroughput(model.Accelerator, 1, 100)
	assert.Equal(t, first, n.GetSplitRatio(model.Accelerator, 0, 1))
	assert.InDelta(t, 0.5, n.GetSplitRatio(model.Accelerator, 1, 1), 1e-9)

	assert.InDelta(t, 0.9, n.GetSplitRatio(model.Accelerator, 0, 2), 1e-9)
	assert.InDelta(t, 0.1, n.GetSplitRatio(model.Accelerator, 1, 2), 1e-9)
}

func TestGetSplitRatio_CacheEviction(t *testing.T) {
	n := newNegotiator(t, Config{CacheSize: 1})
	n.UpdateCapacity(model.Accelerator, 0, 1000)
	n.UpdateCapacity(model.Accelerator, 1, 1000)

	assert.InDelta(t, 0.5, n.GetSplitRatio(model.Accelerator, 0, 1), 1e-9)
	n.UpdateThroughput(model.Accelerator, 0, 300)
	n.UpdateThroughput(model.Accelerator, 1, 100)
	// file 2 evicts file 1, whose split is then recomputed
	n.GetSplitRatio(model.Accelerator, 0, 2)
	assert.InDelta(t, 0.75, n.GetSplitRatio(model.Accelerator, 0, 1), 1e-9)
}

func TestUpdateThroughput_Smoothing(t *testing.T) {
	n := newNegotiator(t, Config{Smoothing: 0.5})
	n.UpdateThroughput(model.CPU, 0, 100)
	n.UpdateThroughput(model.CPU, 0, 0) // ignored
	n.UpdateThroughput(model.CPU, 0, 200)

	snap := n.Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 150, snap[0].Throughput, 1e-9)
	assert.Equal(t, "cpu", snap[0].Class)
}

func TestSnapshot_Ordering(t *testing.T) {
	n := newNegotiator(t, Config{})
	n.UpdateCapacity(model.Accelerator, 1, 20)
	n.UpdateCapacity(model.CPU, 0, 5)
	n.UpdateCapacity(model.Accelerator, 0, 10)

	snap := n.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, DeviceInfo{Class: "accelerator", Index: 0, Capacity: 10}, snap[0])
	assert.Equal(t, DeviceInfo{Class: "accelerator", Index: 1, Capacity: 20}, snap[1])
	assert.Equal(t, DeviceInfo{Class: "cpu", Index: 0, Capacity: 5}, snap[2])
}

func TestNegotiator_ConcurrentUse(t *testing.T) {
	n := newNegotiator(t, Config{CacheSize: 4})
	const devices = 8
	for i := 0; i < devices; i++ {
		n.UpdateCapacity(model.Accelerator, i, uint64(1000*(i+1)))
	}

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for f := 0; f < 200; f++ {
				n.UpdateThroughput(model.Accelerator, id, float64(f+id+1))
				r := n.GetSplitRatio(model.Accelerator, id, model.FileID(f%16))
				if r <= 0 || r > 1 {
					t.Errorf("ratio %v out of range", r)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
