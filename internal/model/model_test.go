package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	km, err := Encode("ACGT")
	require.NoError(t, err)
	assert.Equal(t, KMer(0b00011011), km)
	assert.Equal(t, "ACGT", km.Decode(4))

	lower, err := Encode("acgt")
	require.NoError(t, err)
	assert.Equal(t, km, lower)

	// leading A bases encode as zeros and must survive the round trip
	km, err = Encode("AAAC")
	require.NoError(t, err)
	assert.Equal(t, "AAAC", km.Decode(4))
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	_, err := Encode("ACNT")
	assert.Error(t, err)

	_, err = Encode("")
	assert.Error(t, err)

	long := make([]byte, MaxK+1)
	for i := range long {
		long[i] = 'A'
	}
	_, err = Encode(string(long))
	assert.Error(t, err)
}

func TestStatsAdd(t *testing.T) {
	s := Stats{KMers: 10, UniqueKMers: 4, BelowThreshold: 1}
	s.Add(Stats{KMers: 5, UniqueKMers: 2, BelowThreshold: 2})
	assert.Equal(t, Stats{KMers: 15, UniqueKMers: 6, BelowThreshold: 3}, s)
}
