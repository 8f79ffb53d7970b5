package ingest

import (
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
	"GoKmerSpectra/internal/wire"
)

func newInputs(n int) []*queue.Queue[*model.KMerBatch] {
	inputs := make([]*queue.Queue[*model.KMerBatch], n)
	for i := range inputs {
		inputs[i] = queue.New[*model.KMerBatch](4)
	}
	return inputs
}

func eos() nats.Header {
	h := nats.Header{}
	h.Set(HeaderEndOfStream, "1")
	return h
}

func TestRouter_Route(t *testing.T) {
	inputs := newInputs(2)
	r := NewRouter("kmc.batches", inputs, testr.New(t))

	want := &model.KMerBatch{FileID: 4, KMers: []model.KMer{7, 8, 9}}
	require.NoError(t, r.Route(Subject("kmc.batches", 1), nil, wire.MarshalKMerBatch(want)))

	got, ok := inputs[1].Pop()
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected batch (-want +got):\n%s", diff)
	}
	assert.Zero(t, inputs[0].Len())
}

func TestRouter_RejectsUnknownSubjects(t *testing.T) {
	r := NewRouter("kmc.batches", newInputs(2), testr.New(t))
	data := wire.MarshalKMerBatch(&model.KMerBatch{FileID: 1})

	assert.Error(t, r.Route("other.0", nil, data))
	assert.Error(t, r.Route("kmc.batches.2", nil, data))
	assert.Error(t, r.Route("kmc.batches.x", nil, data))
	assert.Error(t, r.Route("kmc.batches.-1", nil, data))
	assert.Error(t, r.Route("kmc.batches.0", nil, []byte{0xff}))
}

func TestRouter_EndOfStream(t *testing.T) {
	inputs := newInputs(2)
	r := NewRouter("p", inputs, testr.New(t))

	require.NoError(t, r.Route("p.0", eos(), nil))
	assert.True(t, inputs[0].Closed())
	assert.False(t, inputs[1].Closed())

	select {
	case <-r.Done():
		t.Fatal("done before every stream ended")
	default:
	}

	// batches after the end of stream are refused
	err := r.Route("p.0", nil, wire.MarshalKMerBatch(&model.KMerBatch{FileID: 1, KMers: []model.KMer{1}}))
	assert.ErrorIs(t, err, queue.ErrClosed)

	// repeated end of stream is harmless
	require.NoError(t, r.Route("p.0", eos(), nil))
	require.NoError(t, r.Route("p.1", eos(), nil))
	<-r.Done()
}

func TestRouter_CloseAll(t *testing.T) {
	inputs := newInputs(3)
	r := NewRouter("p", inputs, testr.New(t))
	require.NoError(t, r.Route("p.2", eos(), nil))

	r.CloseAll()
	for _, in := range inputs {
		assert.True(t, in.Closed())
	}
	<-r.Done()
}
