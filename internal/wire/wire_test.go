package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"GoKmerSpectra/internal/model"
)

func TestKMerBatchRoundTrip(t *testing.T) {
	in := &model.KMerBatch{FileID: 42, KMers: []model.KMer{0, 1, 1 << 62, 0xdeadbeef}}

	out, err := UnmarshalKMerBatch(MarshalKMerBatch(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("unexpected batch (-want +got):\n%s", diff)
	}
}

func TestResultBatchRoundTrip(t *testing.T) {
	in := &model.ResultBatch{
		DeviceID: 3,
		FileID:   7,
		Seq:      2,
		Final:    true,
		Entries:  []model.KMerCount{{KMer: 5, Count: 2}, {KMer: 1 << 40, Count: 900}},
	}

	out, err := UnmarshalResultBatch(MarshalResultBatch(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("unexpected result batch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	buf := MarshalKMerBatch(&model.KMerBatch{FileID: 1, KMers: []model.KMer{9}})
	buf = protowire.AppendTag(buf, 15, protowire.BytesType)
	buf = protowire.AppendString(buf, "ignored")

	out, err := UnmarshalKMerBatch(buf)
	require.NoError(t, err)
	assert.Equal(t, []model.KMer{9}, out.KMers)
}

func TestUnmarshalTruncated(t *testing.T) {
	buf := MarshalResultBatch(&model.ResultBatch{Entries: []model.KMerCount{{KMer: 1, Count: 3}}})

	_, err := UnmarshalResultBatch(buf[:len(buf)-3])
	assert.Error(t, err)

	_, err = UnmarshalKMerBatch([]byte{0x12, 0x10, 0x01})
	assert.Error(t, err)
}
