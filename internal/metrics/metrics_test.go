package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExtraction(t *testing.T) {
	before := testutil.ToFloat64(extractions.WithLabelValues("7"))

	RecordExtraction(7, 120, 5, 3000)
	RecordExtraction(7, 30, 1, 0)

	assert.Equal(t, before+2, testutil.ToFloat64(extractions.WithLabelValues("7")))
	assert.Equal(t, float64(0), testutil.ToFloat64(throughput.WithLabelValues("7")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(processedKMers.WithLabelValues("7")), float64(150))
}

func TestRecordResizeAndWrite(t *testing.T) {
	RecordResize(8, 0.25, 2048)
	assert.Equal(t, 0.25, testutil.ToFloat64(splitRatio.WithLabelValues("8")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(tableCapacity.WithLabelValues("8")))

	RecordWrite("test", nil)
	RecordWrite("test", errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(writtenBatches.WithLabelValues("test", "error")))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg) // second call must not panic on duplicate registration

	RecordExtraction(9, 1, 1, 1)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
