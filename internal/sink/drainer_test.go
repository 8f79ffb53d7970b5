package sink

import (
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
)

type memWriter struct {
	batches  []*model.ResultBatch
	failOn   int // fail the n-th write, 1-based; 0 never fails
	closed   bool
	closeErr error
}

func (w *memWriter) Write(rb *model.ResultBatch) error {
	w.batches = append(w.batches, rb)
	if len(w.batches) == w.failOn {
		return errors.New("disk full")
	}
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestDrainer_Run(t *testing.T) {
	out := queue.New[*model.ResultBatch](8)
	good := &memWriter{}
	flaky := &memWriter{failOn: 2, closeErr: errors.New("close failed")}

	d := NewDrainer(out, []factory.NamedWriter{
		{Name: "good", Writer: good},
		{Name: "flaky", Writer: flaky},
	}, testr.New(t))

	require.NoError(t, out.Push(&model.ResultBatch{DeviceID: 0, Entries: []model.KMerCount{{KMer: 1, Count: 2}}}))
	require.NoError(t, out.Push(&model.ResultBatch{DeviceID: 1, Entries: []model.KMerCount{{KMer: 2, Count: 2}, {KMer: 3, Count: 4}}}))
	require.NoError(t, out.Push(&model.ResultBatch{DeviceID: 0, Final: true}))
	out.Close()

	err := d.Run()
	require.Error(t, err)
	assert.ErrorContains(t, err, "writer flaky: disk full")
	assert.ErrorContains(t, err, "close writer flaky: close failed")

	// the failing writer does not keep the others from seeing every batch
	assert.Len(t, good.batches, 3)
	assert.Len(t, flaky.batches, 3)
	assert.True(t, good.closed)
	assert.True(t, flaky.closed)

	assert.Equal(t, DrainStats{Batches: 3, Entries: 3, Errors: 1}, d.Stats())
}

func TestDrainer_NoWriters(t *testing.T) {
	out := queue.New[*model.ResultBatch](2)
	d := NewDrainer(out, nil, testr.New(t))
	require.NoError(t, out.Push(&model.ResultBatch{}))
	out.Close()

	require.NoError(t, d.Run())
	assert.Equal(t, 1, d.Stats().Batches)
}
